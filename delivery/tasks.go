package delivery

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/marcelsud/dispatch/breaker"
	"github.com/marcelsud/dispatch/job"
	"github.com/rs/zerolog"
)

// WorkflowRunner executes a tenant workflow
type WorkflowRunner interface {
	RunWorkflow(ctx context.Context, companyID, workflowID, triggerEvent string, input json.RawMessage) error
}

// ReportGenerator produces a report in the requested format
type ReportGenerator interface {
	GenerateReport(ctx context.Context, companyID, reportID, format string, params json.RawMessage) error
}

// UploadCleaner removes uploads from object storage
type UploadCleaner interface {
	CleanupUploads(ctx context.Context, companyID string, uploadIDs []string, olderThan time.Time) (int, error)
}

type WorkflowHandler struct {
	runner   WorkflowRunner
	breakers *breaker.Manager
}

func NewWorkflowHandler(runner WorkflowRunner, breakers *breaker.Manager) *WorkflowHandler {
	return &WorkflowHandler{runner: runner, breakers: breakers}
}

func (h *WorkflowHandler) Handle(ctx context.Context, j *job.Job) error {
	p, err := payloadAs[job.WorkflowPayload](j)
	if err != nil {
		return err
	}
	if p.WorkflowID == "" {
		return job.Permanent(fmt.Errorf("%w: workflow id is required", job.ErrInvalidPayload))
	}

	err = guarded(ctx, h.breakers, BreakerWorkflow, func(ctx context.Context) error {
		return h.runner.RunWorkflow(ctx, p.CompanyID, p.WorkflowID, p.TriggerEvent, p.Input)
	})
	if err != nil {
		return fmt.Errorf("running workflow %s: %w", p.WorkflowID, err)
	}
	return nil
}

type ReportHandler struct {
	generator ReportGenerator
	breakers  *breaker.Manager
}

func NewReportHandler(generator ReportGenerator, breakers *breaker.Manager) *ReportHandler {
	return &ReportHandler{generator: generator, breakers: breakers}
}

func (h *ReportHandler) Handle(ctx context.Context, j *job.Job) error {
	p, err := payloadAs[job.ReportPayload](j)
	if err != nil {
		return err
	}
	if p.ReportID == "" {
		return job.Permanent(fmt.Errorf("%w: report id is required", job.ErrInvalidPayload))
	}

	err = guarded(ctx, h.breakers, BreakerReport, func(ctx context.Context) error {
		return h.generator.GenerateReport(ctx, p.CompanyID, p.ReportID, p.Format, p.Params)
	})
	if err != nil {
		return fmt.Errorf("generating report %s: %w", p.ReportID, err)
	}
	return nil
}

type CleanupHandler struct {
	cleaner  UploadCleaner
	breakers *breaker.Manager
	logger   zerolog.Logger
}

func NewCleanupHandler(cleaner UploadCleaner, breakers *breaker.Manager, logger zerolog.Logger) *CleanupHandler {
	return &CleanupHandler{cleaner: cleaner, breakers: breakers, logger: logger}
}

func (h *CleanupHandler) Handle(ctx context.Context, j *job.Job) error {
	p, err := payloadAs[job.CleanupPayload](j)
	if err != nil {
		return err
	}

	removed, err := breaker.Do(ctx, h.breakers.Get(BreakerStorage), func(ctx context.Context) (int, error) {
		return h.cleaner.CleanupUploads(ctx, p.CompanyID, p.UploadIDs, p.OlderThan)
	})
	if err != nil {
		return fmt.Errorf("cleaning uploads: %w", err)
	}

	h.logger.Info().Str("job_id", j.ID).Str("company_id", p.CompanyID).Int("removed", removed).Msg("uploads cleaned")
	return nil
}

// LogSink stands in for the workflow engine, report builder and object
// storage when none is configured; it logs each request and succeeds.
type LogSink struct {
	logger zerolog.Logger
}

func NewLogSink(logger zerolog.Logger) *LogSink {
	return &LogSink{logger: logger}
}

func (s *LogSink) RunWorkflow(_ context.Context, companyID, workflowID, triggerEvent string, _ json.RawMessage) error {
	s.logger.Info().Str("company_id", companyID).Str("workflow_id", workflowID).Str("trigger_event", triggerEvent).Msg("workflow run requested")
	return nil
}

func (s *LogSink) GenerateReport(_ context.Context, companyID, reportID, format string, _ json.RawMessage) error {
	s.logger.Info().Str("company_id", companyID).Str("report_id", reportID).Str("format", format).Msg("report requested")
	return nil
}

func (s *LogSink) CleanupUploads(_ context.Context, companyID string, uploadIDs []string, olderThan time.Time) (int, error) {
	s.logger.Info().Str("company_id", companyID).Int("uploads", len(uploadIDs)).Time("older_than", olderThan).Msg("upload cleanup requested")
	return len(uploadIDs), nil
}
