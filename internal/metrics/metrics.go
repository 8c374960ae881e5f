// Package metrics exposes Prometheus counters for deal transitions, card
// captures and notification failures.
package metrics

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/fihsr/giftescrow/core/logger"
)

// Collector owns a private registry so several instances can coexist in tests.
// A nil *Collector is valid and records nothing.
type Collector struct {
	registry *prometheus.Registry

	transitions     *prometheus.CounterVec
	dealsCreated    prometheus.Counter
	cardCaptures    *prometheus.CounterVec
	lookupAmbiguous *prometheus.CounterVec
	notifyFailures  *prometheus.CounterVec
}

// New registers the escrow counters together with the Go and process collectors.
func New() *Collector {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)
	return &Collector{
		registry: reg,
		transitions: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "escrow_deal_transitions_total",
				Help: "Deal state machine operations by outcome",
			},
			[]string{"op", "outcome"},
		),
		dealsCreated: f.NewCounter(prometheus.CounterOpts{
			Name: "escrow_deals_created_total",
			Help: "Deals created",
		}),
		cardCaptures: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "escrow_card_captures_total",
				Help: "Payout cards accepted, by capture mode",
			},
			[]string{"mode"},
		),
		lookupAmbiguous: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "escrow_deal_lookup_ambiguous_total",
				Help: "Status lookups that matched more than one seller deal",
			},
			[]string{"status"},
		),
		notifyFailures: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "escrow_notify_failures_total",
				Help: "Outbound notices that could not be handed to the transport",
			},
			[]string{"kind"},
		),
	}
}

// Transition counts one state machine operation; outcome is ok or an error kind.
func (c *Collector) Transition(op, outcome string) {
	if c == nil {
		return
	}
	c.transitions.WithLabelValues(op, outcome).Inc()
}

// DealCreated counts a freshly inserted deal.
func (c *Collector) DealCreated() {
	if c == nil {
		return
	}
	c.dealsCreated.Inc()
}

// CardCaptured counts an accepted card by mode (payout or binding).
func (c *Collector) CardCaptured(mode string) {
	if c == nil {
		return
	}
	c.cardCaptures.WithLabelValues(mode).Inc()
}

// LookupAmbiguous counts a seller lookup that had to pick among several deals.
func (c *Collector) LookupAmbiguous(status string) {
	if c == nil {
		return
	}
	c.lookupAmbiguous.WithLabelValues(status).Inc()
}

// NotifyFailed counts a notice the transport rejected.
func (c *Collector) NotifyFailed(kind string) {
	if c == nil {
		return
	}
	c.notifyFailures.WithLabelValues(kind).Inc()
}

// Registry exposes the underlying registry, mainly for tests.
func (c *Collector) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.registry
}

// Handler serves the registry in the Prometheus text format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

// Server serves /metrics on a dedicated listener.
type Server struct {
	srv *http.Server
}

// NewServer builds a metrics server bound to listen; it does not start it.
func NewServer(listen string, c *Collector) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())
	return &Server{srv: &http.Server{
		Addr:              listen,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}}
}

// Start runs the listener in the background.
func (s *Server) Start(ctx context.Context) {
	logger.Info(ctx, logger.ComponentMetrics, "metrics.listen",
		slog.String("status", "ok"),
		slog.String("listen", s.srv.Addr),
	)
	go func() {
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error(ctx, logger.ComponentMetrics, "metrics.listen",
				slog.String("status", "fail"),
				slog.String("listen", s.srv.Addr),
				slog.String("err", err.Error()),
			)
		}
	}()
}

// Shutdown stops the listener, waiting at most five seconds for in-flight scrapes.
func (s *Server) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	return s.srv.Shutdown(ctx)
}
