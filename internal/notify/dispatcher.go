package notify

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/tbourn/whatsapp-storefront/internal/domain"
	"github.com/tbourn/whatsapp-storefront/internal/observability"
	"github.com/tbourn/whatsapp-storefront/internal/repo"
)

// OperatorSource lists operators that can receive notifications.
type OperatorSource interface {
	NotifiableOperators(ctx context.Context) ([]domain.Operator, error)
}

// Sender delivers a text to a phone number.
type Sender interface {
	SendText(ctx context.Context, to, body string) (string, error)
}

// Sink receives every event in addition to operator phones.
type Sink interface {
	Publish(ctx context.Context, ev Event) error
}

// DBOperators reads active operators with a phone number from the store.
type DBOperators struct{ DB *gorm.DB }

// NotifiableOperators implements OperatorSource.
func (s DBOperators) NotifiableOperators(ctx context.Context) ([]domain.Operator, error) {
	return repo.ListNotifiableOperators(ctx, s.DB)
}

// Result summarises one fan-out.
type Result struct {
	Sent   int
	Failed int
}

// Dispatcher fans events out asynchronously.
type Dispatcher struct {
	ops     OperatorSource
	sender  Sender
	sinks   []Sink
	timeout time.Duration
	wg      sync.WaitGroup
}

// NewDispatcher builds a Dispatcher. sinks may be empty.
func NewDispatcher(ops OperatorSource, sender Sender, sinks ...Sink) *Dispatcher {
	return &Dispatcher{ops: ops, sender: sender, sinks: sinks, timeout: 30 * time.Second}
}

// Notify schedules delivery of ev and returns immediately. The caller's
// cancellation does not abort delivery.
func (d *Dispatcher) Notify(ctx context.Context, ev Event) {
	if d == nil {
		return
	}
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.timeout)
		defer cancel()
		d.Deliver(ctx, ev)
	}()
}

// Deliver sends ev to every operator and sink synchronously. A failure for
// one recipient does not stop the others.
func (d *Dispatcher) Deliver(ctx context.Context, ev Event) Result {
	var res Result
	lg := log.Ctx(ctx).With().Str("kind", string(ev.Kind)).Logger()

	for _, s := range d.sinks {
		if err := s.Publish(ctx, ev); err != nil {
			lg.Warn().Err(err).Msg("notification sink publish failed")
		}
	}

	ops, err := d.ops.NotifiableOperators(ctx)
	if err != nil {
		lg.Error().Err(err).Msg("list operators for notification")
		observability.NotificationSends.WithLabelValues(string(ev.Kind), "error").Inc()
		return res
	}
	if len(ops) == 0 {
		lg.Debug().Msg("no operators with a phone number to notify")
		return res
	}
	for _, op := range ops {
		if op.PhoneNumber == nil {
			continue
		}
		if _, err := d.sender.SendText(ctx, *op.PhoneNumber, ev.Text); err != nil {
			res.Failed++
			observability.NotificationSends.WithLabelValues(string(ev.Kind), "failed").Inc()
			lg.Warn().Err(err).Str("operator_id", op.ID).Msg("operator notification failed")
			continue
		}
		res.Sent++
		observability.NotificationSends.WithLabelValues(string(ev.Kind), "sent").Inc()
	}
	return res
}

// Wait blocks until all scheduled deliveries finished.
func (d *Dispatcher) Wait() { d.wg.Wait() }
