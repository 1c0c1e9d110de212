package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Relay metrics
var (
	SessionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "termproxy_sessions_active",
			Help: "Number of relay sessions currently in the Active or Draining state",
		},
	)

	SessionsClosedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "termproxy_sessions_closed_total",
			Help: "Total relay sessions closed, by reason",
		},
		[]string{"reason"},
	)

	SessionDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "termproxy_session_duration_seconds",
			Help:    "Lifetime of relay sessions from accept to close",
			Buckets: []float64{1, 10, 60, 300, 900, 3600, 4 * 3600, 24 * 3600},
		},
	)

	FramesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "termproxy_frames_total",
			Help: "Client frames decoded, by kind",
		},
		[]string{"kind"},
	)

	ParseFaultsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "termproxy_parse_faults_total",
			Help: "Malformed client units discarded by the frame parser",
		},
	)

	BytesRelayedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "termproxy_bytes_relayed_total",
			Help: "Bytes relayed, by direction (client_to_pty, pty_to_client)",
		},
		[]string{"direction"},
	)

	AuthAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "termproxy_auth_attempts_total",
			Help: "Handshake attempts, by result",
		},
		[]string{"result"},
	)
)

// Direction labels for BytesRelayedTotal.
const (
	DirectionClientToPTY = "client_to_pty"
	DirectionPTYToClient = "pty_to_client"
)

func init() {
	prometheus.MustRegister(
		SessionsActive,
		SessionsClosedTotal,
		SessionDuration,
		FramesTotal,
		ParseFaultsTotal,
		BytesRelayedTotal,
		AuthAttemptsTotal,
	)
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// StartMetricsServer starts a standalone HTTP server serving /metrics on the
// given address. Serve errors are reported on the returned channel.
func StartMetricsServer(addr string) (*http.Server, <-chan error) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())
	srv := &http.Server{Addr: addr, Handler: mux}
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()
	return srv, errCh
}
