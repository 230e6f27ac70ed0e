package delivery_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/marcelsud/dispatch/breaker"
	"github.com/marcelsud/dispatch/delivery"
	"github.com/marcelsud/dispatch/job"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeMailer struct {
	mu   sync.Mutex
	sent []delivery.Message
	err  error
}

func (m *fakeMailer) Send(_ context.Context, msg delivery.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, msg)
	return nil
}

type fakeSink struct {
	workflows []string
	reports   []string
	cleaned   []string
	err       error
}

func (s *fakeSink) RunWorkflow(_ context.Context, _, workflowID, _ string, _ json.RawMessage) error {
	s.workflows = append(s.workflows, workflowID)
	return s.err
}

func (s *fakeSink) GenerateReport(_ context.Context, _, reportID, _ string, _ json.RawMessage) error {
	s.reports = append(s.reports, reportID)
	return s.err
}

func (s *fakeSink) CleanupUploads(_ context.Context, _ string, ids []string, _ time.Time) (int, error) {
	if s.err != nil {
		return 0, s.err
	}
	s.cleaned = append(s.cleaned, ids...)
	return len(ids), nil
}

func jobWith(queue job.Queue, p job.Payload) *job.Job {
	return &job.Job{ID: "j-1", Queue: queue, Payload: p, AttemptsMade: 1, MaxAttempts: 3}
}

func TestEmailHandler(t *testing.T) {
	ctx := context.Background()

	t.Run("success - message reaches the mailer", func(t *testing.T) {
		mailer := &fakeMailer{}
		h := delivery.NewEmailHandler(mailer, breaker.NewManager())

		err := h.Handle(ctx, jobWith(job.Email, job.EmailPayload{
			CompanyID: "acme",
			To:        []string{"ana@example.com"},
			Subject:   "Welcome",
			Template:  "welcome",
		}))

		require.NoError(t, err)
		require.Len(t, mailer.sent, 1)
		assert.Equal(t, "Welcome", mailer.sent[0].Subject)
	})

	t.Run("error - provider failure is retryable and trips the email breaker", func(t *testing.T) {
		mailer := &fakeMailer{err: errors.New("smtp timeout")}
		breakers := breaker.NewManager(breaker.WithFailureThreshold(1))
		h := delivery.NewEmailHandler(mailer, breakers)
		j := jobWith(job.Email, job.EmailPayload{To: []string{"ana@example.com"}})

		err := h.Handle(ctx, j)
		require.Error(t, err)
		assert.False(t, job.IsPermanent(err))
		assert.Equal(t, breaker.Open, breakers.Get(delivery.BreakerEmail).State())

		err = h.Handle(ctx, j)
		assert.ErrorIs(t, err, breaker.ErrCircuitOpen)
	})

	t.Run("error - no recipients is permanent", func(t *testing.T) {
		h := delivery.NewEmailHandler(&fakeMailer{}, breaker.NewManager())

		err := h.Handle(ctx, jobWith(job.Email, job.EmailPayload{Subject: "x"}))

		assert.True(t, job.IsPermanent(err))
	})
}

func TestLogMailer(t *testing.T) {
	var logs bytes.Buffer
	mailer := delivery.NewLogMailer(zerolog.New(&logs))

	require.NoError(t, mailer.Send(context.Background(), delivery.Message{
		CompanyID: "acme",
		To:        []string{"ops@example.com"},
		Subject:   "Weekly report",
	}))

	assert.Contains(t, logs.String(), `"message":"email delivery skipped (log mailer)"`)
	assert.NotContains(t, logs.String(), "email sent")
}

func TestTaskHandlers(t *testing.T) {
	ctx := context.Background()

	t.Run("success - each handler calls its collaborator", func(t *testing.T) {
		sink := &fakeSink{}
		breakers := breaker.NewManager()

		require.NoError(t, delivery.NewWorkflowHandler(sink, breakers).Handle(ctx,
			jobWith(job.Workflow, job.WorkflowPayload{WorkflowID: "wf-1", CompanyID: "acme"})))
		require.NoError(t, delivery.NewReportHandler(sink, breakers).Handle(ctx,
			jobWith(job.Report, job.ReportPayload{ReportID: "r-1", CompanyID: "acme", Format: "csv"})))
		require.NoError(t, delivery.NewCleanupHandler(sink, breakers, zerolog.Nop()).Handle(ctx,
			jobWith(job.UploadCleanup, job.CleanupPayload{CompanyID: "acme", UploadIDs: []string{"u-1", "u-2"}})))

		assert.Equal(t, []string{"wf-1"}, sink.workflows)
		assert.Equal(t, []string{"r-1"}, sink.reports)
		assert.Equal(t, []string{"u-1", "u-2"}, sink.cleaned)
	})

	t.Run("error - failures use separate breakers", func(t *testing.T) {
		sink := &fakeSink{err: errors.New("unavailable")}
		breakers := breaker.NewManager(breaker.WithFailureThreshold(1))

		require.Error(t, delivery.NewReportHandler(sink, breakers).Handle(ctx,
			jobWith(job.Report, job.ReportPayload{ReportID: "r-1"})))
		require.Error(t, delivery.NewCleanupHandler(sink, breakers, zerolog.Nop()).Handle(ctx,
			jobWith(job.UploadCleanup, job.CleanupPayload{UploadIDs: []string{"u-1"}})))

		assert.Equal(t, breaker.Open, breakers.Get(delivery.BreakerReport).State())
		assert.Equal(t, breaker.Open, breakers.Get(delivery.BreakerStorage).State())
		assert.Equal(t, breaker.Closed, breakers.Get(delivery.BreakerWorkflow).State())
	})

	t.Run("error - missing ids are permanent", func(t *testing.T) {
		sink := &fakeSink{}
		breakers := breaker.NewManager()

		err := delivery.NewWorkflowHandler(sink, breakers).Handle(ctx, jobWith(job.Workflow, job.WorkflowPayload{}))
		assert.True(t, job.IsPermanent(err))
		err = delivery.NewReportHandler(sink, breakers).Handle(ctx, jobWith(job.Report, job.ReportPayload{}))
		assert.True(t, job.IsPermanent(err))
	})
}

func TestHandlers(t *testing.T) {
	handlers := delivery.NewHandlers(delivery.Dependencies{
		Breakers: breaker.NewManager(),
		Logger:   zerolog.Nop(),
	})

	for _, q := range job.Queues() {
		h, err := handlers.For(q)
		require.NoError(t, err, q)
		assert.NotNil(t, h)
	}

	_, err := handlers.For(job.Queue("fax"))
	assert.ErrorIs(t, err, job.ErrUnknownQueue)

	// log-only stand-ins succeed
	err = handlers[job.Email].Handle(context.Background(), jobWith(job.Email, job.EmailPayload{To: []string{"a@b.c"}}))
	assert.NoError(t, err)
}
