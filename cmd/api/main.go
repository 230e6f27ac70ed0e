package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/marcelsud/dispatch/config"
	"github.com/marcelsud/dispatch/internal/bootstrap"
	"github.com/marcelsud/dispatch/internal/http/chi"
	"github.com/marcelsud/dispatch/ratelimit"
	ratelimitredis "github.com/marcelsud/dispatch/ratelimit/redis"
	"github.com/marcelsud/dispatch/routes"
)

const TIMEOUT = 30 * time.Second

/*
 * main only wires packages together: config, stores, services and the router.
 * Imports go one way, down: the binary imports the services, which import storage.
 */

func main() {
	cfg, err := config.GetConfig()
	if err != nil {
		fmt.Println(err)
		return
	}
	ctx, stop := signal.NotifyContext(
		context.Background(),
		syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT,
	)
	defer stop()

	stack, err := bootstrap.New(cfg, chi.NewLogger("dispatch-api"))
	if err != nil {
		fmt.Println(err)
		return
	}
	defer stack.Close(context.Background())
	logger := stack.Logger

	rules := routes.NewLoader(ratelimit.Rule{
		TTL:   time.Duration(cfg.ThrottleTTL) * time.Second,
		Limit: int64(cfg.ThrottleLimit),
	})
	if cfg.RoutesFile != "" {
		if err := rules.Load(cfg.RoutesFile); err != nil {
			fmt.Println(err)
			return
		}
	}

	var counter ratelimit.Counter = ratelimit.NewMemoryCounter()
	if stack.Redis != nil {
		counter = ratelimitredis.NewCounter(stack.Redis)
	}
	limiter := ratelimit.NewLimiter(counter, logger,
		ratelimit.WithFailOpenHook(stack.Exporter.RecordFailOpen),
	)

	r := chi.Handlers(ctx, chi.Dependencies{
		Webhooks: stack.Webhooks,
		Jobs:     stack.Jobs,
		Limiter:  limiter,
		Rules:    rules,
		Metrics:  stack.Exporter.ServeHTTP(),
		Logger:   logger,
	})
	http.Handle("/", r)
	srv := &http.Server{
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		Addr:         ":" + cfg.Port,
		Handler:      http.DefaultServeMux,
	}

	errShutdown := make(chan error, 1)
	go shutdown(srv, ctx, errShutdown)
	logger.Info().Str("port", cfg.Port).Str("queue_store", cfg.QueueStore).Msg("listening")
	err = srv.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		fmt.Println(err)
		return
	}
	err = <-errShutdown
	if err != nil {
		fmt.Println(err)
		return
	}
}

func shutdown(server *http.Server, ctxShutdown context.Context, errShutdown chan error) {
	<-ctxShutdown.Done()

	ctxTimeout, stop := context.WithTimeout(context.Background(), TIMEOUT)
	defer stop()

	err := server.Shutdown(ctxTimeout)
	switch err {
	case nil:
		fmt.Printf("\nShutting down server...\n")
		errShutdown <- nil
	case context.DeadlineExceeded:
		errShutdown <- fmt.Errorf("Forcing closing the server")
	default:
		errShutdown <- fmt.Errorf("Forcing closing the server")
	}
}
