// Package metrics holds the gateway's Prometheus registry, constructed
// once at startup and passed by handle to the components that update it.
package metrics

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is the gateway's full set of exported counters/gauges, built
// once and passed by handle to the gateway App, which updates CallsTotal,
// CallsActive, RtpPacketsTotal and SipTransactionsActive. RtpPortsInUse
// and BackendDownlinkDrops are registered and exported, but nothing in the
// gateway updates them.
type Registry struct {
	reg *prometheus.Registry

	CallsTotal             *prometheus.CounterVec
	CallsActive            prometheus.Gauge
	RtpPortsInUse          prometheus.Gauge
	RtpPacketsTotal        *prometheus.CounterVec
	BackendDownlinkDrops   prometheus.Counter
	SipTransactionsActive  prometheus.Gauge
}

// New registers every metric against a fresh prometheus.Registry.
func New() *Registry {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Registry{
		reg: reg,
		CallsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gateway",
			Name:      "calls_total",
			Help:      "Total calls by terminal result.",
		}, []string{"result"}),
		CallsActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "gateway",
			Name:      "calls_active",
			Help:      "Calls currently in progress.",
		}),
		RtpPortsInUse: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "gateway",
			Name:      "rtp_ports_in_use",
			Help:      "RTP/RTCP port pairs currently allocated.",
		}),
		RtpPacketsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gateway",
			Name:      "rtp_packets_total",
			Help:      "RTP packets processed by direction.",
		}, []string{"direction"}),
		BackendDownlinkDrops: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "gateway",
			Name:      "backend_downlink_drops_total",
			Help:      "Bytes dropped from the backend downlink buffer for exceeding capacity.",
		}),
		SipTransactionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "gateway",
			Name:      "sip_transactions_active",
			Help:      "SIP server transactions in the transaction table, including ended ones not yet swept.",
		}),
	}
}

// Server optionally exposes the registry over HTTP at /metrics; the
// gateway only starts it when metrics_listen is configured.
type Server struct {
	httpServer *http.Server
}

// NewServer builds (but does not start) an HTTP server exporting reg at
// addr's /metrics path.
func NewServer(addr string, reg *Registry) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg.reg, promhttp.HandlerOpts{}))
	return &Server{
		httpServer: &http.Server{
			Addr:         addr,
			Handler:      mux,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
	}
}

// Start runs the server in the background; ListenAndServe errors other
// than a clean shutdown are returned on errCh.
func (s *Server) Start(errCh chan<- error) {
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("metrics: serve: %w", err)
		}
	}()
}

// Stop gracefully shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
