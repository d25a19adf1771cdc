// Package bridge runs the publish loop that copies numeric telemetry entries
// from the source onto the messaging transport.
package bridge

import (
	"context"
	"maps"
	"math"
	"slices"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/frc-grafana/nt-bridge/internal/bus"
	"github.com/frc-grafana/nt-bridge/internal/connectivity"
	"github.com/frc-grafana/nt-bridge/internal/entry"
	"github.com/frc-grafana/nt-bridge/internal/mapper"
	"github.com/frc-grafana/nt-bridge/internal/metrics"
	apperrors "github.com/frc-grafana/nt-bridge/internal/pkg/errors"
	"github.com/frc-grafana/nt-bridge/internal/pkg/logger"
)

// DefaultTickInterval is the loop period when none is configured.
const DefaultTickInterval = 20 * time.Millisecond

// Source is the connection side of the loop. *connection.Manager implements it.
type Source interface {
	Events() *connectivity.Mailbox
	Status() connectivity.Status
	NeedsReconnect() bool
	Reconnect(ctx context.Context) error
	Entries() map[string]entry.Entry
}

// Recorder receives loop metrics. *metrics.Metrics implements it.
type Recorder interface {
	RecordSkip(reason string)
	RecordTick(entries int)
	RecordReconnect(err error)
	SetConnected(connected bool)
}

// Config holds loop settings.
type Config struct {
	TickInterval time.Duration // default: 20ms
	// PublishRateLimit caps messages per second across ticks; 0 means unlimited.
	PublishRateLimit float64
	QoS              bus.QoS
	Retain           bool
}

// DefaultConfig publishes retained at-least-once every 20ms.
func DefaultConfig() Config {
	return Config{
		TickInterval: DefaultTickInterval,
		QoS:          bus.AtLeastOnce,
		Retain:       true,
	}
}

// TickReport describes what one iteration did.
type TickReport struct {
	Event        *connectivity.Event // event drained this tick, if any
	Reconnected  bool                // Reconnect was called
	ReconnectErr error
	Connected    bool // entries were read this tick
	Entries      int
	Published    int
	Failed       int
	Skipped      int
}

// Stats are running totals since the bridge was created.
type Stats struct {
	Ticks     int64
	Published int64
	Failed    int64
	Skipped   int64
}

// Bridge is the publish loop. Tick is not safe for concurrent use; Stats is.
type Bridge struct {
	cfg      Config
	source   Source
	bus      bus.Bus
	recorder Recorder
	limiter  *rate.Limiter
	log      *logger.Logger

	ticks     atomic.Int64
	published atomic.Int64
	failed    atomic.Int64
	skipped   atomic.Int64
}

// New creates a bridge. recorder may be nil.
func New(cfg Config, source Source, b bus.Bus, recorder Recorder, log *logger.Logger) *Bridge {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = DefaultTickInterval
	}
	if log == nil {
		log = logger.Discard()
	}

	br := &Bridge{
		cfg:      cfg,
		source:   source,
		bus:      b,
		recorder: recorder,
		log:      log.WithComponent("bridge"),
	}
	if cfg.PublishRateLimit > 0 {
		burst := int(math.Ceil(cfg.PublishRateLimit))
		br.limiter = rate.NewLimiter(rate.Limit(cfg.PublishRateLimit), burst)
	}
	return br
}

// Run ticks every TickInterval until ctx is cancelled.
func (b *Bridge) Run(ctx context.Context) error {
	b.log.Info("publish loop started", "interval", b.cfg.TickInterval, "rate_limit", b.cfg.PublishRateLimit)

	ticker := time.NewTicker(b.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			b.log.Info("publish loop stopped", "ticks", b.ticks.Load(), "published", b.published.Load())
			return nil
		case <-ticker.C:
			b.Tick(ctx)
		}
	}
}

// Tick runs one iteration of the loop.
func (b *Bridge) Tick(ctx context.Context) TickReport {
	var report TickReport
	b.ticks.Add(1)

	if ev, ok := b.source.Events().TryRecv(); ok {
		report.Event = &ev
		b.log.Info("source connectivity changed", "event", ev.Kind.String(), "address", ev.Address)
	}

	if b.source.NeedsReconnect() {
		report.Reconnected = true
		err := b.source.Reconnect(ctx)
		b.record(func(r Recorder) { r.RecordReconnect(err) })
		if err != nil {
			report.ReconnectErr = err
			b.log.WithError(err).Warn("reconnect failed")
			b.finish(&report)
			return report
		}
	}

	if !b.source.Status().Connected {
		b.finish(&report)
		return report
	}
	report.Connected = true

	entries := b.source.Entries()
	report.Entries = len(entries)

	for _, name := range slices.Sorted(maps.Keys(entries)) {
		if ctx.Err() != nil {
			break
		}
		b.publishEntry(ctx, entries[name], &report)
	}

	b.finish(&report)
	return report
}

func (b *Bridge) publishEntry(ctx context.Context, e entry.Entry, report *TickReport) {
	payload, ok := mapper.PayloadOf(e.Value)
	if !ok {
		b.skip(report, metrics.SkipNonNumeric)
		return
	}

	topic := mapper.TopicOf(e.Name)
	if topic == "" {
		b.log.Debug("entry name maps to an empty topic", "name", e.Name)
		b.skip(report, metrics.SkipEmptyTopic)
		return
	}

	if b.limiter != nil && !b.limiter.Allow() {
		b.skip(report, metrics.SkipRateLimited)
		return
	}

	msg := bus.Message{Payload: payload, QoS: b.cfg.QoS, Retain: b.cfg.Retain}
	if err := b.bus.Publish(ctx, topic, msg); err != nil {
		report.Failed++
		b.failed.Add(1)
		if apperrors.IsRetryable(err) {
			b.log.WithError(err).Warn("publish failed", "topic", topic)
		} else {
			b.log.WithError(err).Error("publish failed", "topic", topic)
		}
		return
	}
	report.Published++
	b.published.Add(1)
}

func (b *Bridge) skip(report *TickReport, reason string) {
	report.Skipped++
	b.skipped.Add(1)
	b.record(func(r Recorder) { r.RecordSkip(reason) })
}

func (b *Bridge) finish(report *TickReport) {
	b.record(func(r Recorder) {
		r.SetConnected(report.Connected)
		r.RecordTick(report.Entries)
	})
}

func (b *Bridge) record(fn func(Recorder)) {
	if b.recorder != nil {
		fn(b.recorder)
	}
}

// Stats returns the running totals.
func (b *Bridge) Stats() Stats {
	return Stats{
		Ticks:     b.ticks.Load(),
		Published: b.published.Load(),
		Failed:    b.failed.Load(),
		Skipped:   b.skipped.Load(),
	}
}
