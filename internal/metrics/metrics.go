// Package metrics defines the Prometheus metrics (C7) emitted by the
// pipeline and exposes them both over HTTP (via promhttp, wired in
// cmd/feedmesh) and as a periodically rewritten textfile for node_exporter
// style collection.
package metrics

import (
	"fmt"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/expfmt"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Registry is the collector registry backing every metric below. A
// dedicated registry (rather than prometheus.DefaultRegisterer) keeps the
// textfile export and the HTTP /metrics endpoint on one authoritative set
// of collectors, matching the source system's single CollectorRegistry.
var Registry = prometheus.NewRegistry()

var (
	SourcesFetched = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "feedmesh",
			Name:      "sources_fetched_total",
			Help:      "Number of source fetch attempts",
		},
		[]string{"source_id", "status"},
	)

	PostsParsed = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "feedmesh",
			Name:      "posts_parsed_total",
			Help:      "Number of posts parsed out of fetched source bodies",
		},
		[]string{"source_id"},
	)

	MessagesPrepared = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "feedmesh",
			Name:      "messages_prepared_total",
			Help:      "Number of messages rendered and enqueued to the outbox",
		},
		[]string{"source_id", "receiver_id"},
	)

	MessagesSent = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "feedmesh",
			Name:      "messages_sent_total",
			Help:      "Number of messages successfully delivered by a receiver",
		},
		[]string{"source_id", "receiver_id"},
	)

	OutboxDeadLettered = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "feedmesh",
			Name:      "outbox_dead_lettered_total",
			Help:      "Number of outbox items reclaimed after exceeding the in-flight threshold",
		},
		[]string{"source_id", "receiver_id"},
	)

	OutboxDepth = promauto.With(Registry).NewGauge(
		prometheus.GaugeOpts{
			Namespace: "feedmesh",
			Name:      "outbox_depth",
			Help:      "Number of items currently held in the outbox",
		},
	)

	processStart = time.Now()

	UptimeSeconds = promauto.With(Registry).NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: "feedmesh",
			Name:      "uptime_seconds",
			Help:      "Seconds since process start",
		},
		func() float64 { return time.Since(processStart).Seconds() },
	)
)

// ErrorTracker forwards unexpected errors to an external tracker (e.g.
// Sentry). NoopErrorTracker, which discards everything, is the only
// implementation in this repository; cmd/feedmesh always passes it, and
// app_settings.sentry_dsn is not read by any tracker.
type ErrorTracker interface {
	Capture(err error, tags map[string]string)
}

// NoopErrorTracker discards every error. It is the default when no error
// tracking backend is configured.
type NoopErrorTracker struct{}

func (NoopErrorTracker) Capture(err error, tags map[string]string) {}

// TextfileExporter periodically atomically rewrites a Prometheus textfile
// collector file, the same 10-second cadence the source system uses.
type TextfileExporter struct {
	path     string
	interval time.Duration
	stop     chan struct{}
	done     chan struct{}
}

// NewTextfileExporter returns an exporter that rewrites path every 10
// seconds once Start is called.
func NewTextfileExporter(path string) *TextfileExporter {
	return &TextfileExporter{path: path, interval: 10 * time.Second, stop: make(chan struct{}), done: make(chan struct{})}
}

// WriteOnce performs a single atomic rewrite of the textfile: render to a
// temp file in the same directory, then rename over the target so readers
// never observe a partially written file.
func (e *TextfileExporter) WriteOnce() error {
	mfs, err := Registry.Gather()
	if err != nil {
		return fmt.Errorf("gathering metrics: %w", err)
	}

	tmp, err := os.CreateTemp(dirOf(e.path), ".metrics-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp metrics file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	enc := expfmt.NewEncoder(tmp, expfmt.NewFormat(expfmt.TypeTextPlain))
	for _, mf := range mfs {
		if err := enc.Encode(mf); err != nil {
			tmp.Close()
			return fmt.Errorf("encoding metrics: %w", err)
		}
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp metrics file: %w", err)
	}
	if err := os.Rename(tmpPath, e.path); err != nil {
		return fmt.Errorf("renaming metrics file into place: %w", err)
	}
	return nil
}

// Start runs the rewrite loop in a background goroutine until Stop is
// called.
func (e *TextfileExporter) Start() {
	go func() {
		defer close(e.done)
		ticker := time.NewTicker(e.interval)
		defer ticker.Stop()
		for {
			select {
			case <-e.stop:
				return
			case <-ticker.C:
				e.WriteOnce()
			}
		}
	}()
}

// Stop ends the rewrite loop and waits for it to exit.
func (e *TextfileExporter) Stop() {
	close(e.stop)
	<-e.done
}

func dirOf(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			return path[:i]
		}
	}
	return "."
}
