package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/marcelsud/dispatch/breaker"
	"github.com/marcelsud/dispatch/config"
	"github.com/marcelsud/dispatch/job"
	jobmemory "github.com/marcelsud/dispatch/job/memory"
	jobredis "github.com/marcelsud/dispatch/job/redis"
	"github.com/marcelsud/dispatch/metrics"
	"github.com/marcelsud/dispatch/webhook"
	webhookmemory "github.com/marcelsud/dispatch/webhook/memory"
	webhookredis "github.com/marcelsud/dispatch/webhook/redis"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

/* Stack is everything the api and worker binaries share.
 * The main packages only add their own surface on top: the router for the
 * api, the runners for the worker.
 */
type Stack struct {
	Config   *config.Config
	Logger   zerolog.Logger
	Redis    *redis.Client
	JobStore job.Store
	Jobs     *job.Service
	Repo     webhook.Repository
	Webhooks *webhook.Service
	Breakers *breaker.Manager
	Exporter *metrics.OTelExporter

	// heartbeats is only set for the Redis store
	heartbeats *jobredis.Store
}

// New builds the stack described by cfg. With QUEUE_STORE=memory nothing
// leaves the process, which is only useful for local runs.
func New(cfg *config.Config, logger zerolog.Logger) (*Stack, error) {
	logger = logger.Level(level(cfg.LogLevel))

	exporter, err := metrics.NewOTelExporter()
	if err != nil {
		return nil, fmt.Errorf("creating metrics exporter: %w", err)
	}

	s := &Stack{
		Config:   cfg,
		Logger:   logger,
		Exporter: exporter,
	}

	switch cfg.QueueStore {
	case "memory":
		s.JobStore = jobmemory.NewStore(Retention(cfg))
		s.Repo = webhookmemory.NewRepository()
	default:
		client, err := jobredis.NewClient(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			return nil, err
		}
		store := jobredis.NewStore(client, Retention(cfg))
		s.Redis = client
		s.JobStore = store
		s.heartbeats = store
		s.Repo = webhookredis.NewRepository(client)
	}

	s.Jobs = job.NewService(s.JobStore, Policies(cfg))
	s.Webhooks = webhook.NewService(s.Repo, s.Jobs)
	s.Breakers = breaker.NewManager(BreakerOptions(cfg, s.onTransition)...)

	var workers metrics.WorkerSource
	if s.heartbeats != nil {
		workers = s.heartbeats
	}
	if err := exporter.Observe(metrics.NewStoreCollector(s.Jobs, s.Breakers, workers)); err != nil {
		return nil, fmt.Errorf("registering metrics: %w", err)
	}
	return s, nil
}

// Heartbeater is nil unless the queue lives in Redis
func (s *Stack) Heartbeater() job.Heartbeater {
	if s.heartbeats == nil {
		return nil
	}
	return s.heartbeats
}

func (s *Stack) onTransition(name string, from, to breaker.State) {
	s.Exporter.RecordTransition(name, from, to)
	event := s.Logger.Info()
	if to == breaker.Open {
		event = s.Logger.Warn()
	}
	event.Str("breaker", name).
		Str("from", from.String()).
		Str("to", to.String()).
		Msg("circuit breaker state changed")
}

// Close releases the stores and flushes the exporter
func (s *Stack) Close(ctx context.Context) error {
	var errs []error
	if err := s.Exporter.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("shutting down exporter: %w", err))
	}
	if s.Redis != nil {
		// both stores share the client; closing it once is enough
		if err := s.Redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing redis: %w", err))
		}
		return errors.Join(errs...)
	}
	if err := s.JobStore.Close(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := s.Repo.Close(ctx); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

/* Policies turns the QUEUE_* settings into per-queue retry defaults
 * Unset values keep job.DefaultPolicies. A per-queue delay beats the global
 * QUEUE_BACKOFF_DELAY_MS.
 */
func Policies(cfg *config.Config) map[job.Queue]job.Policy {
	overrides := map[job.Queue]struct{ attempts, delayMS int }{
		job.Email:         {cfg.QueueAttemptsEmail, cfg.QueueBackoffDelayEmailMS},
		job.Webhook:       {cfg.QueueAttemptsWebhook, cfg.QueueBackoffDelayWebhookMS},
		job.Workflow:      {cfg.QueueAttemptsWorkflow, cfg.QueueBackoffDelayWorkflowMS},
		job.Report:        {cfg.QueueAttemptsReport, cfg.QueueBackoffDelayReportMS},
		job.UploadCleanup: {cfg.QueueAttemptsCleanup, cfg.QueueBackoffDelayCleanupMS},
	}

	policies := job.DefaultPolicies()
	for queue, o := range overrides {
		p := policies[queue]
		if o.attempts > 0 {
			p.Attempts = o.attempts
		}
		if cfg.QueueBackoffType != "" {
			p.Backoff.Type = job.NewBackoffType(cfg.QueueBackoffType)
		}
		switch {
		case o.delayMS > 0:
			p.Backoff.Delay = time.Duration(o.delayMS) * time.Millisecond
		case cfg.QueueBackoffDelayMS > 0:
			p.Backoff.Delay = time.Duration(cfg.QueueBackoffDelayMS) * time.Millisecond
		}
		if cfg.QueueBackoffCapMS > 0 {
			p.Backoff.Cap = time.Duration(cfg.QueueBackoffCapMS) * time.Millisecond
		}
		policies[queue] = p
	}
	return policies
}

func Retention(cfg *config.Config) job.Retention {
	return job.Retention{
		CompletedKeep: cfg.CompletedKeep,
		CompletedTTL:  cfg.CompletedTTL(),
		FailedKeep:    cfg.FailedKeep,
		FailedTTL:     cfg.FailedTTL(),
	}
}

func BreakerOptions(cfg *config.Config, onChange func(name string, from, to breaker.State)) []breaker.Option {
	return []breaker.Option{
		breaker.WithFailureThreshold(cfg.BreakerFailureThreshold),
		breaker.WithResetTimeout(cfg.BreakerResetTimeout()),
		breaker.WithMonitoringPeriod(cfg.BreakerMonitoringPeriod()),
		breaker.WithHalfOpenMaxCalls(cfg.BreakerHalfOpenMaxCalls),
		breaker.WithOnStateChange(onChange),
	}
}

func level(s string) zerolog.Level {
	lvl, err := zerolog.ParseLevel(s)
	if err != nil || s == "" {
		return zerolog.InfoLevel
	}
	return lvl
}
