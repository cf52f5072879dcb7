// Package notify emails patients about their appointments. It consumes
// appointment events and delivers each email at most once per event.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/carebridge/carebridge/internal/domain/appointment"
	"github.com/carebridge/carebridge/internal/infrastructure/redpanda"
	"github.com/carebridge/carebridge/pkg/idempotency"
	"github.com/carebridge/carebridge/pkg/workerpool"
)

// HandlerName identifies notifier rows in the idempotency inbox.
const HandlerName = "patient-email"

// Outcomes recorded per event.
const (
	OutcomeSent        = "sent"
	OutcomeDuplicate   = "duplicate"
	OutcomeIgnored     = "ignored"
	OutcomeNoRecipient = "no_recipient"
	OutcomeFailed      = "failed"
)

// Deduper runs fn at most once to completion per key.
type Deduper interface {
	Process(ctx context.Context, key, handlerName string, payload json.RawMessage, fn idempotency.ProcessFunc) (*idempotency.ProcessResult, error)
}

// Recorder observes notification outcomes.
type Recorder interface {
	ObserveNotification(eventType, outcome string)
}

type nopRecorder struct{}

func (nopRecorder) ObserveNotification(string, string) {}

type delivery struct {
	eventID   string
	eventType string
	msg       Message
	outcome   string
}

// Notifier turns appointment events into patient emails.
type Notifier struct {
	mailer  Mailer
	dedupe  Deduper
	pool    *workerpool.Pool
	metrics Recorder
	logger  *zap.Logger
}

// NewNotifier creates a notifier whose deliveries run on a worker pool
// built from poolCfg. Permanent failures are never retried.
func NewNotifier(mailer Mailer, dedupe Deduper, metrics Recorder, poolCfg workerpool.Config, logger *zap.Logger) (*Notifier, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if metrics == nil {
		metrics = nopRecorder{}
	}
	n := &Notifier{mailer: mailer, dedupe: dedupe, metrics: metrics, logger: logger}

	poolCfg.Retryable = func(err error) bool { return !idempotency.IsPermanent(err) }
	pool, err := workerpool.New(poolCfg, n.deliver, logger)
	if err != nil {
		return nil, fmt.Errorf("create delivery pool: %w", err)
	}
	n.pool = pool
	return n, nil
}

// Start launches the delivery workers.
func (n *Notifier) Start() { n.pool.Start() }

// Stop drains pending deliveries.
func (n *Notifier) Stop() error { return n.pool.Stop() }

// Handle processes one consumed event. It matches redpanda.MessageHandler.
func (n *Notifier) Handle(ctx context.Context, msg *redpanda.ConsumedMessage) error {
	var evt appointment.Event
	if err := json.Unmarshal(msg.Value, &evt); err != nil {
		n.metrics.ObserveNotification("unknown", OutcomeFailed)
		return fmt.Errorf("decode event at offset %d: %w", msg.Offset, err)
	}

	email, notify, err := compose(&evt)
	if err != nil {
		n.metrics.ObserveNotification(string(evt.EventType), OutcomeFailed)
		return err
	}
	if !notify {
		n.metrics.ObserveNotification(string(evt.EventType), OutcomeIgnored)
		return nil
	}
	if email.To == "" {
		n.logger.Info("no patient email on event, skipping",
			zap.String("event_id", evt.ID),
			zap.String("appointment_id", evt.AggregateID))
		n.metrics.ObserveNotification(string(evt.EventType), OutcomeNoRecipient)
		return nil
	}

	d := &delivery{eventID: evt.ID, eventType: string(evt.EventType), msg: email}
	res := n.pool.Do(ctx, &workerpool.Task{ID: evt.ID, Payload: d})
	if res.Err != nil {
		n.metrics.ObserveNotification(d.eventType, OutcomeFailed)
		n.logger.Error("notification failed",
			zap.String("event_id", evt.ID),
			zap.String("event_type", d.eventType),
			zap.Int("attempts", res.Attempts),
			zap.Error(res.Err))
		return res.Err
	}
	n.metrics.ObserveNotification(d.eventType, d.outcome)
	return nil
}

func (n *Notifier) deliver(ctx context.Context, task *workerpool.Task) error {
	d, ok := task.Payload.(*delivery)
	if !ok {
		return idempotency.Permanent(fmt.Errorf("unexpected task payload %T", task.Payload))
	}

	payload, err := json.Marshal(d.msg)
	if err != nil {
		return idempotency.Permanent(err)
	}

	key := idempotency.GenerateKey(HandlerName, d.eventID)
	res, err := n.dedupe.Process(ctx, key, HandlerName, payload, func(ctx context.Context, _ json.RawMessage) (json.RawMessage, error) {
		if err := n.mailer.Send(ctx, d.msg); err != nil {
			return nil, err
		}
		return json.RawMessage(`{"sent":true}`), nil
	})

	switch {
	case err == nil && res.Duplicate:
		d.outcome = OutcomeDuplicate
		return nil
	case err == nil:
		d.outcome = OutcomeSent
		n.logger.Info("notification sent",
			zap.String("event_id", d.eventID),
			zap.String("event_type", d.eventType))
		return nil
	case errors.Is(err, idempotency.ErrDuplicateMessage), errors.Is(err, idempotency.ErrMessageInProgress):
		d.outcome = OutcomeDuplicate
		return nil
	case errors.Is(err, idempotency.ErrPreviouslyFailed):
		return idempotency.Permanent(err)
	}
	return err
}
