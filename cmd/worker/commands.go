package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/marcelsud/dispatch/config"
	"github.com/marcelsud/dispatch/delivery"
	"github.com/marcelsud/dispatch/internal/bootstrap"
	"github.com/marcelsud/dispatch/internal/http/chi"
	"github.com/marcelsud/dispatch/job"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 30 * time.Second

type runOptions struct {
	Queues      []string
	Concurrency int
	WorkerID    string
	MetricsAddr string
}

// runWorkers starts one runner per queue and blocks until a signal arrives
// and every in-flight job is settled
func runWorkers(ctx context.Context, opts runOptions) error {
	cfg, err := config.GetConfig()
	if err != nil {
		return err
	}
	queues, err := parseQueues(opts.Queues)
	if err != nil {
		return err
	}
	if opts.Concurrency < 1 {
		opts.Concurrency = cfg.WorkerConcurrency
	}
	if opts.WorkerID == "" {
		opts.WorkerID = workerID()
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	defer stop()

	stack, err := bootstrap.New(cfg, chi.NewLogger("dispatch-worker"))
	if err != nil {
		return err
	}
	defer stack.Close(context.Background())
	logger := stack.Logger

	handlers := newHandlers(cfg, stack)

	g, ctx := errgroup.WithContext(ctx)
	for _, queue := range queues {
		handler, err := handlers.For(queue)
		if err != nil {
			return err
		}
		runner := job.NewRunner(stack.JobStore, queue, handler, logger, job.RunnerOptions{
			WorkerID:     opts.WorkerID,
			Concurrency:  opts.Concurrency,
			Lease:        cfg.WorkerLease(),
			PollInterval: cfg.WorkerPollInterval(),
			Heartbeater:  stack.Heartbeater(),
			OnOutcome:    stack.Exporter.RecordOutcome,
		})
		g.Go(func() error {
			return runner.Run(ctx)
		})
	}

	if opts.MetricsAddr != "" {
		srv := &http.Server{
			Addr:              opts.MetricsAddr,
			Handler:           adminHandler(stack),
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("serving admin routes: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			ctxTimeout, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return srv.Shutdown(ctxTimeout)
		})
	}

	logger.Info().
		Str("worker_id", opts.WorkerID).
		Int("concurrency", opts.Concurrency).
		Strs("queues", queueNames(queues)).
		Msg("workers started")
	err = g.Wait()
	logger.Info().Msg("workers stopped")
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// newHandlers wires the queue handlers to the stack's breakers, so the admin
// routes report the breakers deliveries actually go through
func newHandlers(cfg *config.Config, stack *bootstrap.Stack) delivery.Handlers {
	return delivery.NewHandlers(delivery.Dependencies{
		Subscriptions: stack.Webhooks,
		Breakers:      stack.Breakers,
		Webhook: delivery.WebhookHandlerOptions{
			Client:    delivery.NewHTTPClient(cfg.WebhookTimeout()),
			OnAttempt: stack.Exporter.RecordDelivery,
		},
		Logger: stack.Logger,
	})
}

func adminHandler(stack *bootstrap.Stack) http.Handler {
	return chi.AdminHandlers(chi.AdminDependencies{
		Breakers: stack.Breakers,
		Metrics:  stack.Exporter.ServeHTTP(),
		Logger:   stack.Logger,
	})
}

// printStats writes the counts of every queue
func printStats(ctx context.Context, w io.Writer) error {
	cfg, err := config.GetConfig()
	if err != nil {
		return err
	}
	stack, err := bootstrap.New(cfg, chi.NewLogger("dispatch-worker"))
	if err != nil {
		return err
	}
	defer stack.Close(context.Background())

	stats, err := stack.Jobs.Stats(ctx)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(stats)
}

// parseQueues defaults to every queue and rejects unknown names
func parseQueues(names []string) ([]job.Queue, error) {
	if len(names) == 0 {
		return job.Queues(), nil
	}
	seen := make(map[job.Queue]bool, len(names))
	queues := make([]job.Queue, 0, len(names))
	for _, name := range names {
		q, err := job.ParseQueue(name)
		if err != nil {
			return nil, err
		}
		if seen[q] {
			continue
		}
		seen[q] = true
		queues = append(queues, q)
	}
	return queues, nil
}

func queueNames(queues []job.Queue) []string {
	names := make([]string, len(queues))
	for i, q := range queues {
		names[i] = q.String()
	}
	return names
}

func workerID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "worker"
	}
	return host + "-" + uuid.NewString()[:8]
}
