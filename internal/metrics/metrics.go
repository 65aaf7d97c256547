// Package metrics holds the prometheus collectors for the relay.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "ghostroom"

// Metrics is a private registry plus the relay's collectors. Each instance
// owns its registry so tests can build as many as they like.
type Metrics struct {
	Registry *prometheus.Registry

	RoomsCreated      prometheus.Counter
	RoomJoins         prometheus.Counter
	MessagesRelayed   *prometheus.CounterVec
	FilesUploaded     prometheus.Counter
	FilesDownloaded   prometheus.Counter
	StoreErrors       *prometheus.CounterVec
	DecryptFailures   prometheus.Counter
	RateLimited       prometheus.Counter
	ActiveConnections prometheus.Gauge
}

func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		RoomsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "rooms_created_total",
			Help: "Rooms registered.",
		}),
		RoomJoins: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "room_joins_total",
			Help: "Successful join_room events.",
		}),
		MessagesRelayed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "messages_relayed_total",
			Help: "Messages appended and broadcast, by kind.",
		}, []string{"kind"}),
		FilesUploaded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "files_uploaded_total",
			Help: "Files encrypted and stored through the upload endpoint.",
		}),
		FilesDownloaded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "files_downloaded_total",
			Help: "Files decrypted and served.",
		}),
		StoreErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "store_errors_total",
			Help: "Store failures seen by handlers, by operation.",
		}, []string{"op"}),
		DecryptFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "decrypt_failures_total",
			Help: "Stored envelopes that failed to open.",
		}),
		RateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "rate_limited_total",
			Help: "Socket events and HTTP requests rejected by rate limiting.",
		}),
		ActiveConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "active_connections",
			Help: "Open websocket connections.",
		}),
	}

	m.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.RoomsCreated,
		m.RoomJoins,
		m.MessagesRelayed,
		m.FilesUploaded,
		m.FilesDownloaded,
		m.StoreErrors,
		m.DecryptFailures,
		m.RateLimited,
		m.ActiveConnections,
	)
	return m
}

// Handler serves the registry in the prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}
