// Package metrics exports Prometheus instrumentation for the cloud server.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// Metrics bundles the collectors observed by the overlay and lifecycle code.
type Metrics struct {
	ConnectedClients prometheus.Gauge
	ActiveRooms      prometheus.Gauge
	MessagesRouted   prometheus.Counter
	MessagesRecorded prometheus.Counter
	Logins           prometheus.Counter
	AccountsCreated  prometheus.Counter
	ProjectsSaved    prometheus.Counter
	ProjectsSwept    prometheus.Counter
	BlobsReclaimed   prometheus.Counter

	registry *prometheus.Registry
}

// New creates the collector set on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		ConnectedClients: factory.NewGauge(prometheus.GaugeOpts{
			Name: "netsblox_connected_clients",
			Help: "Number of websocket clients currently connected.",
		}),
		ActiveRooms: factory.NewGauge(prometheus.GaugeOpts{
			Name: "netsblox_active_rooms",
			Help: "Number of projects with at least one occupant.",
		}),
		MessagesRouted: factory.NewCounter(prometheus.CounterOpts{
			Name: "netsblox_messages_routed_total",
			Help: "Overlay messages routed to at least one recipient.",
		}),
		MessagesRecorded: factory.NewCounter(prometheus.CounterOpts{
			Name: "netsblox_messages_recorded_total",
			Help: "Messages captured into network traces.",
		}),
		Logins: factory.NewCounter(prometheus.CounterOpts{
			Name: "netsblox_logins_total",
			Help: "Successful logins.",
		}),
		AccountsCreated: factory.NewCounter(prometheus.CounterOpts{
			Name: "netsblox_accounts_created_total",
			Help: "Accounts created.",
		}),
		ProjectsSaved: factory.NewCounter(prometheus.CounterOpts{
			Name: "netsblox_projects_saved_total",
			Help: "Project save operations.",
		}),
		ProjectsSwept: factory.NewCounter(prometheus.CounterOpts{
			Name: "netsblox_projects_swept_total",
			Help: "Transient projects deleted by the inactivity sweeper.",
		}),
		BlobsReclaimed: factory.NewCounter(prometheus.CounterOpts{
			Name: "netsblox_blobs_reclaimed_total",
			Help: "Orphaned blobs deleted by the reconciler.",
		}),
		registry: reg,
	}
}

// Serve exposes /metrics on the given bind address until ctx is cancelled.
// An empty bind address disables the listener.
func (m *Metrics) Serve(ctx context.Context, bind string, logger zerolog.Logger) {
	if bind == "" {
		return
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: bind, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	go func() {
		logger.Info().Str("addr", bind).Msg("Metrics listener started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("Metrics listener stopped")
		}
	}()
}
