package tracing

import (
	"context"
	"time"

	"example.com/backstage/contacts/config"

	"github.com/newrelic/go-agent/v3/newrelic"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// Tracer wraps New Relic transactions. Transactions travel in the context,
// so HTTP handlers reuse the one nrgin started and consumers start their own.
// Every method is a no-op when tracing is disabled.
type Tracer interface {
	StartTransaction(ctx context.Context, name string) (context.Context, *newrelic.Transaction)
	StartSegment(ctx context.Context, name string) *newrelic.Segment
	RecordError(ctx context.Context, err error)
	AddAttribute(ctx context.Context, key string, value interface{})
	Application() *newrelic.Application
	Close()
}

// NewRelicTracer implements Tracer using New Relic
type NewRelicTracer struct {
	app     *newrelic.Application
	enabled bool
}

// NewTracer creates a new tracer
func NewTracer(cfg config.TracingConfig) (Tracer, error) {
	if cfg.LicenseKey == "" {
		log.Warn().Msg("New Relic license key not provided, tracing will be disabled")
		return &NewRelicTracer{enabled: false}, nil
	}

	app, err := newrelic.NewApplication(
		newrelic.ConfigAppName(cfg.AppName),
		newrelic.ConfigLicense(cfg.LicenseKey),
		newrelic.ConfigDistributedTracerEnabled(cfg.DistribTracing),
		newrelic.ConfigAppLogForwardingEnabled(cfg.LogEnabled),
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed to initialize New Relic")
	}

	return &NewRelicTracer{app: app, enabled: true}, nil
}

// Noop returns a disabled tracer
func Noop() Tracer {
	return &NewRelicTracer{enabled: false}
}

// StartTransaction starts a background transaction and stores it in ctx.
// The caller ends it with txn.End(), which is safe on a nil transaction.
func (t *NewRelicTracer) StartTransaction(ctx context.Context, name string) (context.Context, *newrelic.Transaction) {
	if !t.enabled || t.app == nil {
		return ctx, nil
	}
	txn := t.app.StartTransaction(name)
	return newrelic.NewContext(ctx, txn), txn
}

// StartSegment starts a segment on the transaction carried by ctx
func (t *NewRelicTracer) StartSegment(ctx context.Context, name string) *newrelic.Segment {
	txn := newrelic.FromContext(ctx)
	if !t.enabled || txn == nil {
		return nil
	}
	return txn.StartSegment(name)
}

// RecordError notices err on the transaction carried by ctx
func (t *NewRelicTracer) RecordError(ctx context.Context, err error) {
	if !t.enabled || err == nil {
		return
	}
	if txn := newrelic.FromContext(ctx); txn != nil {
		txn.NoticeError(err)
	}
}

// AddAttribute adds an attribute to the transaction carried by ctx
func (t *NewRelicTracer) AddAttribute(ctx context.Context, key string, value interface{}) {
	if !t.enabled {
		return
	}
	if txn := newrelic.FromContext(ctx); txn != nil {
		txn.AddAttribute(key, value)
	}
}

// Application returns the agent, or nil when disabled
func (t *NewRelicTracer) Application() *newrelic.Application {
	return t.app
}

// Close flushes pending data to New Relic
func (t *NewRelicTracer) Close() {
	if !t.enabled || t.app == nil {
		return
	}
	t.app.Shutdown(10 * time.Second)
	log.Info().Msg("New Relic tracer shutdown")
}
