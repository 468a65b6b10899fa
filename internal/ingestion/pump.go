package ingestion

import (
	"context"
	"errors"

	"TroveLedger/internal/core"
	"TroveLedger/internal/event"
	"TroveLedger/internal/observability"

	"github.com/rs/zerolog"
)

// Submitter hands one command to the core goroutine and waits for the result.
// *core.Runner implements it.
type Submitter interface {
	Submit(ctx context.Context, evt event.Event) error
}

// Disposition is what the pump tells the broker about a message.
type Disposition int

const (
	Ack Disposition = iota
	Nak
	Term
)

func (d Disposition) String() string {
	switch d {
	case Ack:
		return "ack"
	case Nak:
		return "nak"
	default:
		return "term"
	}
}

// Classify maps a Submit result to a broker disposition. Commands the
// protocol rejected are in the log and acked. A sequence gap is redelivered
// in the hope the missing command arrives first.
func Classify(err error) Disposition {
	switch {
	case err == nil:
		return Ack
	case errors.Is(err, core.ErrSequenceGap),
		errors.Is(err, core.ErrRunnerStopped),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return Nak
	case errors.Is(err, core.ErrOutOfOrder),
		errors.Is(err, core.ErrMissingIdempotencyKey):
		return Term
	case core.RejectReason(err) != "other":
		return Ack
	}
	return Nak
}

// Pump parses raw broker messages and submits them in arrival order.
type Pump struct {
	submit  Submitter
	metrics *observability.Metrics
	logger  zerolog.Logger
}

func NewPump(submit Submitter, metrics *observability.Metrics, logger zerolog.Logger) *Pump {
	return &Pump{submit: submit, metrics: metrics, logger: logger}
}

// Run drains raws until ctx is cancelled or the channel is closed.
func (p *Pump) Run(ctx context.Context, raws <-chan RawEvent) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case raw, ok := <-raws:
			if !ok {
				return nil
			}
			p.handle(ctx, raw)
		}
	}
}

func (p *Pump) handle(ctx context.Context, raw RawEvent) {
	evt, err := ParseRawEvent(raw, raw.EventType)
	if err != nil {
		p.reject("parse")
		p.logger.Warn().Err(err).Str("subject", raw.Subject).Msg("dropping unparseable command")
		settle(raw, Term)
		return
	}

	err = p.submit.Submit(ctx, evt)
	d := Classify(err)
	if err != nil {
		log := p.logger.Debug()
		if d != Ack {
			p.reject(d.String())
			log = p.logger.Warn()
		}
		log.Err(err).Str("subject", raw.Subject).Str("key", evt.IdempotencyKey()).
			Stringer("disposition", d).Msg("command not applied")
	}
	settle(raw, d)
}

func (p *Pump) reject(reason string) {
	if p.metrics != nil {
		p.metrics.IngestRejected.WithLabelValues("nats", reason).Inc()
	}
}

func settle(raw RawEvent, d Disposition) {
	var fn func()
	switch d {
	case Ack:
		fn = raw.AckFunc
	case Nak:
		fn = raw.NakFunc
	case Term:
		fn = raw.TermFunc
	}
	if fn != nil {
		fn()
	}
}
