package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	SamplesReceivedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cleanflow_samples_received_total",
		Help: "Total position samples received from the location source",
	})
	SamplesDeliveredTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cleanflow_samples_delivered_total",
		Help: "Total position samples that passed the cadence filter and were evaluated",
	})
	SamplesInvalidTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cleanflow_samples_invalid_total",
		Help: "Total position payloads dropped for failing to parse or validate",
	})
	GeofenceEventsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cleanflow_geofence_events_total",
		Help: "Total geofence events emitted by the evaluator",
	})
	NotificationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cleanflow_notifications_total",
		Help: "Notification decisions by outcome",
	}, []string{"outcome"})
	StoreErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cleanflow_store_errors_total",
		Help: "Area store transport errors by operation",
	}, []string{"op"})
	SnapshotAreas = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "cleanflow_snapshot_areas",
		Help: "Number of areas in the most recent pushed snapshot",
	})
	BridgeMessagesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cleanflow_bridge_messages_total",
		Help: "Bridge messages by direction and type",
	}, []string{"direction", "type"})
	BridgeMalformedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cleanflow_bridge_malformed_total",
		Help: "Surface postbacks dropped as malformed",
	})
	BridgeDroppedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cleanflow_bridge_dropped_commands_total",
		Help: "Host commands dropped because the surface was not ready or its queue was full",
	})
	BridgeSessions = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "cleanflow_bridge_sessions",
		Help: "Surface sessions by lifecycle state",
	}, []string{"state"})
)

func init() {
	prometheus.MustRegister(SamplesReceivedTotal)
	prometheus.MustRegister(SamplesDeliveredTotal)
	prometheus.MustRegister(SamplesInvalidTotal)
	prometheus.MustRegister(GeofenceEventsTotal)
	prometheus.MustRegister(NotificationsTotal)
	prometheus.MustRegister(StoreErrorsTotal)
	prometheus.MustRegister(SnapshotAreas)
	prometheus.MustRegister(BridgeMessagesTotal)
	prometheus.MustRegister(BridgeMalformedTotal)
	prometheus.MustRegister(BridgeDroppedTotal)
	prometheus.MustRegister(BridgeSessions)
}

func Handler() http.Handler { return promhttp.Handler() }
