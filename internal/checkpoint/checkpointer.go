package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/cuinjune/ar-peggiator/internal/notes"
)

const tracerName = "github.com/cuinjune/ar-peggiator/internal/checkpoint"

// Metrics holds the checkpoint collectors.
type Metrics struct {
	Saves    *prometheus.CounterVec
	Duration prometheus.Histogram
}

// NewMetrics registers the collectors on reg; nil uses a private registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	factory := promauto.With(reg)
	return &Metrics{
		Saves: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "peggiator",
			Subsystem: "checkpoint",
			Name:      "saves_total",
			Help:      "Checkpoint attempts by result",
		}, []string{"result"}),
		Duration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "peggiator",
			Subsystem: "checkpoint",
			Name:      "save_duration_seconds",
			Help:      "Time spent writing a checkpoint",
			Buckets:   prometheus.DefBuckets,
		}),
	}
}

// Option customizes a Checkpointer.
type Option func(*Checkpointer)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Checkpointer) { c.logger = l }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *Metrics) Option {
	return func(c *Checkpointer) { c.metrics = m }
}

// WithClock overrides the time source used to stamp documents.
func WithClock(now func() time.Time) Option {
	return func(c *Checkpointer) { c.now = now }
}

// Checkpointer moves the note store to and from a Backend.
type Checkpointer struct {
	backend Backend
	store   *notes.Store
	logger  *slog.Logger
	metrics *Metrics
	tracer  trace.Tracer
	now     func() time.Time

	mu           sync.Mutex
	saved        bool
	savedVersion uint64
}

// New returns a Checkpointer for store over backend.
func New(backend Backend, store *notes.Store, opts ...Option) *Checkpointer {
	c := &Checkpointer{
		backend: backend,
		store:   store,
		tracer:  otel.Tracer(tracerName),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	c.logger = c.logger.With("component", "checkpoint", "backend", backend.String())
	if c.metrics == nil {
		c.metrics = NewMetrics(nil)
	}
	return c
}

// Restore loads the stored document into the store and returns the number
// of notes loaded. A missing or unreadable document leaves the store empty
// and is not an error; a backend failure is.
func (c *Checkpointer) Restore(ctx context.Context) (int, error) {
	ctx, span := c.tracer.Start(ctx, "checkpoint.Restore",
		trace.WithAttributes(attribute.String("backend", c.backend.String())))
	defer span.End()

	data, err := c.backend.Load(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "load failed")
		return 0, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if data == nil {
		c.logger.Info("no checkpoint found, starting with an empty note store")
		c.store.Replace(nil)
		c.markSaved()
		return 0, nil
	}

	doc, err := Decode(data)
	if err != nil {
		c.logger.Warn("ignoring invalid checkpoint, starting with an empty note store", "err", err)
		c.store.Replace(nil)
		// Leave saved unset so the next checkpoint replaces the bad document.
		return 0, nil
	}

	if dropped := c.store.Replace(doc.Notes); dropped > 0 {
		c.logger.Warn("dropped duplicate notes from checkpoint", "dropped", dropped)
	}
	c.markSaved()
	n := c.store.Len()
	span.SetAttributes(attribute.Int("notes", n))
	c.logger.Info("checkpoint restored", "notes", n, "saved_at", doc.SavedAt)
	return n, nil
}

// Save writes the store if it changed since the last successful save.
func (c *Checkpointer) Save(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	version := c.store.Version()
	if c.saved && version == c.savedVersion {
		c.metrics.Saves.WithLabelValues("unchanged").Inc()
		return nil
	}

	ctx, span := c.tracer.Start(ctx, "checkpoint.Save",
		trace.WithAttributes(attribute.String("backend", c.backend.String())))
	defer span.End()

	start := time.Now()
	list := c.store.List()
	data, err := Encode(list, c.now())
	if err == nil {
		err = c.backend.Save(ctx, data)
	}
	c.metrics.Duration.Observe(time.Since(start).Seconds())
	if err != nil {
		c.metrics.Saves.WithLabelValues("error").Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, "save failed")
		return fmt.Errorf("checkpoint: %w", err)
	}

	c.saved = true
	c.savedVersion = version
	c.metrics.Saves.WithLabelValues("ok").Inc()
	span.SetAttributes(attribute.Int("notes", len(list)), attribute.Int("bytes", len(data)))
	c.logger.Debug("checkpoint saved", "notes", len(list), "bytes", len(data))
	return nil
}

// RunPeriodic saves every interval until ctx ends. Failures are logged and
// retried at the next tick.
func (c *Checkpointer) RunPeriodic(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.Save(ctx); err != nil && !errors.Is(err, context.Canceled) {
				c.logger.Error("periodic checkpoint failed", "err", err)
			}
		}
	}
}

// Close releases the backend.
func (c *Checkpointer) Close() error {
	return c.backend.Close()
}

func (c *Checkpointer) markSaved() {
	c.saved = true
	c.savedVersion = c.store.Version()
}
