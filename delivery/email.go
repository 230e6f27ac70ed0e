package delivery

import (
	"context"
	"fmt"

	"github.com/marcelsud/dispatch/breaker"
	"github.com/marcelsud/dispatch/job"
	"github.com/rs/zerolog"
)

// Message is an email ready to hand to a provider
type Message struct {
	CompanyID string
	To        []string
	Subject   string
	Template  string
	Data      map[string]any
}

// Mailer sends rendered messages through an email provider
type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

// LogMailer writes messages to the log instead of sending them
type LogMailer struct {
	logger zerolog.Logger
}

func NewLogMailer(logger zerolog.Logger) *LogMailer {
	return &LogMailer{logger: logger}
}

func (m *LogMailer) Send(_ context.Context, msg Message) error {
	m.logger.Info().
		Str("company_id", msg.CompanyID).
		Strs("to", msg.To).
		Str("subject", msg.Subject).
		Str("template", msg.Template).
		Msg("email delivery skipped (log mailer)")
	return nil
}

// EmailHandler consumes the email queue
type EmailHandler struct {
	mailer   Mailer
	breakers *breaker.Manager
}

func NewEmailHandler(mailer Mailer, breakers *breaker.Manager) *EmailHandler {
	return &EmailHandler{mailer: mailer, breakers: breakers}
}

func (h *EmailHandler) Handle(ctx context.Context, j *job.Job) error {
	p, err := payloadAs[job.EmailPayload](j)
	if err != nil {
		return err
	}
	if len(p.To) == 0 {
		return job.Permanent(fmt.Errorf("%w: email without recipients", job.ErrInvalidPayload))
	}

	msg := Message{
		CompanyID: p.CompanyID,
		To:        p.To,
		Subject:   p.Subject,
		Template:  p.Template,
		Data:      p.Data,
	}
	err = guarded(ctx, h.breakers, BreakerEmail, func(ctx context.Context) error {
		return h.mailer.Send(ctx, msg)
	})
	if err != nil {
		return fmt.Errorf("sending email: %w", err)
	}
	return nil
}
