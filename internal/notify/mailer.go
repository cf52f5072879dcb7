package notify

import (
	"context"
	"errors"
	"fmt"

	"github.com/wneessen/go-mail"
	"go.uber.org/zap"

	"github.com/carebridge/carebridge/pkg/circuitbreaker"
	"github.com/carebridge/carebridge/pkg/idempotency"
)

// Mailer delivers one email.
type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

// SMTPConfig holds SMTP relay settings
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// SMTPMailer sends through an SMTP relay guarded by a circuit breaker.
type SMTPMailer struct {
	client  *mail.Client
	from    string
	breaker *circuitbreaker.CircuitBreaker
	logger  *zap.Logger
}

// NewSMTPMailer creates a mailer. breaker may be nil.
func NewSMTPMailer(cfg SMTPConfig, breaker *circuitbreaker.CircuitBreaker, logger *zap.Logger) (*SMTPMailer, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	opts := []mail.Option{
		mail.WithPort(cfg.Port),
		mail.WithTLSPortPolicy(mail.TLSOpportunistic),
	}
	if cfg.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(cfg.Username),
			mail.WithPassword(cfg.Password),
		)
	}
	client, err := mail.NewClient(cfg.Host, opts...)
	if err != nil {
		return nil, fmt.Errorf("create smtp client: %w", err)
	}
	return &SMTPMailer{client: client, from: cfg.From, breaker: breaker, logger: logger}, nil
}

// Send delivers msg. Invalid addresses and permanent SMTP rejections are
// marked permanent so they are not retried.
func (m *SMTPMailer) Send(ctx context.Context, msg Message) error {
	email := mail.NewMsg()
	if err := email.From(m.from); err != nil {
		return idempotency.Permanent(fmt.Errorf("invalid sender %q: %w", m.from, err))
	}
	if err := email.To(msg.To); err != nil {
		return idempotency.Permanent(fmt.Errorf("invalid recipient %q: %w", msg.To, err))
	}
	email.Subject(msg.Subject)
	email.SetBodyString(mail.TypeTextPlain, msg.Body)

	send := func(ctx context.Context) error {
		return m.client.DialAndSendWithContext(ctx, email)
	}
	var err error
	if m.breaker != nil {
		err = m.breaker.Execute(ctx, send)
	} else {
		err = send(ctx)
	}
	if err == nil {
		return nil
	}

	var sendErr *mail.SendError
	if errors.As(err, &sendErr) && !sendErr.IsTemp() {
		return idempotency.Permanent(fmt.Errorf("smtp rejected message: %w", err))
	}
	return fmt.Errorf("smtp send: %w", err)
}

// LogMailer only logs messages. It stands in for SMTP in development.
type LogMailer struct {
	logger *zap.Logger
}

// NewLogMailer creates a LogMailer
func NewLogMailer(logger *zap.Logger) *LogMailer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogMailer{logger: logger}
}

// Send logs msg.
func (l *LogMailer) Send(_ context.Context, msg Message) error {
	l.logger.Info("email (not sent, smtp not configured)",
		zap.String("to", msg.To),
		zap.String("subject", msg.Subject))
	return nil
}
