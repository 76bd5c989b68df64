package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	startTime = time.Now()

	Uptime = prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "partyrelay_uptime_seconds",
			Help: "Server uptime in seconds",
		}, func() float64 {
			return time.Since(startTime).Seconds()
		})

	SessionsCreated = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "partyrelay_sessions_created_total",
			Help: "Total number of sessions created",
		})

	SessionsEnded = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "partyrelay_sessions_ended_total",
			Help: "Total number of sessions ended by their host",
		})

	PlayersJoined = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "partyrelay_players_joined_total",
			Help: "Total number of players that joined a session",
		})

	GamesLoaded = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "partyrelay_games_loaded_total",
			Help: "Total number of games loaded into sessions",
		})

	CodeCollisions = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "partyrelay_session_code_collisions_total",
			Help: "Total number of generated session codes already held by an active session",
		})

	ActiveSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "partyrelay_relay_active_sessions",
			Help: "Current number of sessions with at least one live connection",
		})

	ConnectedClients = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "partyrelay_relay_connected_clients",
			Help: "Current number of live websocket connections by role",
		},
		[]string{"role"},
	)

	MessagesReceived = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "partyrelay_relay_messages_received_total",
			Help: "Total number of inbound relay messages by type",
		},
		[]string{"type"},
	)

	MessagesDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "partyrelay_relay_messages_dropped_total",
			Help: "Total number of inbound relay messages ignored, by reason",
		},
		[]string{"reason"},
	)

	MessagesRelayed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "partyrelay_relay_messages_relayed_total",
			Help: "Total number of outbound relay messages enqueued, by type",
		},
		[]string{"type"},
	)

	Disconnects = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "partyrelay_relay_disconnects_total",
			Help: "Total number of websocket disconnects by reason",
		},
		[]string{"reason"},
	)

	HTTPRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "partyrelay_http_requests_total",
			Help: "Total number of HTTP requests by route and status",
		},
		[]string{"method", "route", "status"},
	)

	HTTPDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "partyrelay_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14),
		},
		[]string{"method", "route"},
	)
)

// Register adds every collector to reg. Call once at startup.
func Register(reg prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{
		Uptime,
		SessionsCreated,
		SessionsEnded,
		PlayersJoined,
		GamesLoaded,
		CodeCollisions,
		ActiveSessions,
		ConnectedClients,
		MessagesReceived,
		MessagesDropped,
		MessagesRelayed,
		Disconnects,
		HTTPRequests,
		HTTPDuration,
	} {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}
