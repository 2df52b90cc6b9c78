// Package metrics exposes Prometheus instrumentation for generation requests
// and conversations.
package metrics

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"colloquy/internal/domain"
	"colloquy/internal/infra/middleware"
	"colloquy/internal/usecase/request"
)

const namespace = "colloquy"

// Scrape pacing per client on the metrics listener.
const (
	scrapesPerMinute = 60
	scrapeBurst      = 5
)

// untagged labels requests whose backend could not be resolved.
const untagged = "none"

// Recorder implements request.Metrics and counts conversation events.
type Recorder struct {
	registry *prometheus.Registry

	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	inFlight        prometheus.Gauge
	conversations   *prometheus.CounterVec
	modeChanges     prometheus.Counter
	circuitOpen     *prometheus.GaugeVec

	unsubscribe func()
}

// NewRecorder creates a recorder with its own registry, including the Go
// runtime and process collectors.
func NewRecorder() *Recorder {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Recorder{
		registry: reg,
		requestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "requests_total",
				Help:      "Generation requests by backend tag and outcome",
			},
			[]string{"tag", "outcome"},
		),
		requestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "request_duration_seconds",
				Help:      "Time from submit to settle",
				Buckets:   []float64{.1, .25, .5, 1, 2, 5, 10, 20, 30, 60, 120, 300},
			},
			[]string{"tag", "outcome"},
		),
		inFlight: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "requests_in_flight",
			Help:      "Requests submitted and not yet settled",
		}),
		conversations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "conversation_events_total",
				Help:      "Conversation store mutations by event type",
			},
			[]string{"event"},
		),
		modeChanges: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "mode_changes_total",
			Help:      "Changes of the active generation backend",
		}),
		circuitOpen: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "provider_circuit_open",
				Help:      "1 while a provider's circuit breaker is not closed",
			},
			[]string{"provider"},
		),
	}
}

// Registry returns the registry the recorder's collectors live in.
func (r *Recorder) Registry() *prometheus.Registry { return r.registry }

// RequestStarted implements request.Metrics.
func (r *Recorder) RequestStarted(string) {
	r.inFlight.Inc()
}

// RequestFinished implements request.Metrics.
func (r *Recorder) RequestFinished(tag string, outcome request.Outcome, elapsed time.Duration) {
	if tag == "" {
		tag = untagged
	}
	r.inFlight.Dec()
	r.requestsTotal.WithLabelValues(tag, string(outcome)).Inc()
	r.requestDuration.WithLabelValues(tag, string(outcome)).Observe(elapsed.Seconds())
}

// Attach counts conversation and mode events published on bus and tracks
// provider circuit states.
func (r *Recorder) Attach(bus domain.EventBus) {
	r.unsubscribe = bus.SubscribeAll(func(_ context.Context, e domain.Event) {
		switch e.Type {
		case domain.EventConversationCreated, domain.EventConversationUpdated,
			domain.EventConversationCleared, domain.EventConversationDeleted:
			r.conversations.WithLabelValues(string(e.Type)).Inc()
		case domain.EventModeChanged:
			r.modeChanges.Inc()
		case domain.EventProviderCircuit:
			r.circuitChanged(e.Payload)
		}
	})
}

func (r *Recorder) circuitChanged(raw json.RawMessage) {
	var p domain.CircuitPayload
	if err := json.Unmarshal(raw, &p); err != nil || p.Provider == "" {
		return
	}
	open := 0.0
	if p.To != "closed" {
		open = 1
	}
	r.circuitOpen.WithLabelValues(p.Provider).Set(open)
}

// Detach stops counting bus events.
func (r *Recorder) Detach() {
	if r.unsubscribe != nil {
		r.unsubscribe()
		r.unsubscribe = nil
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}

// Serve exposes the recorder on addr at path until ctx is done. The endpoint
// is read-only and rate limited per client.
func Serve(ctx context.Context, addr, path string, r *Recorder, logger *slog.Logger) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           newMux(ctx, path, r, logger),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("metrics listener started", "addr", addr, "path", path)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func newMux(ctx context.Context, path string, r *Recorder, logger *slog.Logger) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle(path, middleware.Chain(r.Handler(),
		middleware.ReadOnly,
		middleware.RateLimit(ctx, scrapesPerMinute, scrapeBurst, logger),
		middleware.Headers,
	))
	return mux
}
