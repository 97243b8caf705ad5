package webhooks

import (
	"context"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/zapspay/settlement/internal/host"
	"github.com/zapspay/settlement/internal/idgen"
)

var webhookEmitTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "zaps",
	Subsystem: "webhook",
	Name:      "emit_total",
	Help:      "Total host events handed to the webhook dispatcher by topic.",
}, []string{"topic"})

func init() {
	prometheus.MustRegister(webhookEmitTotal)
}

// Emitter adapts a Dispatcher to host.EventSink. Publish never blocks the
// host: deliveries run on their own goroutines.
type Emitter struct {
	d      *Dispatcher
	logger *slog.Logger
}

// NewEmitter creates a new webhook emitter.
func NewEmitter(d *Dispatcher, logger *slog.Logger) *Emitter {
	return &Emitter{d: d, logger: logger}
}

// Publish implements host.EventSink.
func (e *Emitter) Publish(_ context.Context, events []host.Event) {
	if e == nil || e.d == nil {
		return
	}
	for _, ev := range events {
		webhookEmitTotal.WithLabelValues(ev.Name()).Inc()
		e.d.dispatchAsync(&Event{
			ID:         idgen.Delivery(),
			Topic:      ev.Name(),
			Invocation: ev.Invocation,
			Audit:      ev.Audit,
			Timestamp:  ev.Timestamp,
			Data:       ev.Data,
		})
	}
}

var _ host.EventSink = (*Emitter)(nil)
