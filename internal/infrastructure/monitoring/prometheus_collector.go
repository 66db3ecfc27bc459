package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type PrometheusCollector struct {
	// Counters
	socketsConnectedTotal prometheus.Gauge
	roomsActiveTotal      prometheus.Gauge
	mediaForwardedBytes   prometheus.Counter
	controlForwardedTotal prometheus.Counter
	admissionsTotal       *prometheus.CounterVec
	rateLimitDropsTotal   *prometheus.CounterVec
	clientBinaryDrops     prometheus.Counter

	// Histograms
	socketLifetime prometheus.Histogram
	forwardFanout  prometheus.Histogram

	// Per-room metrics
	roomClientCount *prometheus.GaugeVec
	roomBitrate     *prometheus.GaugeVec
}

func NewPrometheusCollector() *PrometheusCollector {
	return &PrometheusCollector{
		socketsConnectedTotal: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "lancast_relay_sockets_connected_total",
			Help: "Number of relay sockets currently connected",
		}),

		roomsActiveTotal: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "lancast_relay_rooms_active_total",
			Help: "Number of active relay rooms",
		}),

		mediaForwardedBytes: promauto.NewCounter(prometheus.CounterOpts{
			Name: "lancast_relay_media_forwarded_bytes_total",
			Help: "Total media bytes forwarded host to clients",
		}),

		controlForwardedTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "lancast_relay_control_forwarded_total",
			Help: "Total control messages forwarded client to host",
		}),

		admissionsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "lancast_relay_admissions_total",
			Help: "Connection admissions by role and outcome",
		}, []string{"role", "outcome"}),

		rateLimitDropsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "lancast_relay_rate_limit_drops_total",
			Help: "Messages or connects dropped by rate limiting",
		}, []string{"limit"}),

		clientBinaryDrops: promauto.NewCounter(prometheus.CounterOpts{
			Name: "lancast_relay_client_binary_drops_total",
			Help: "Binary frames from client sockets dropped on arrival",
		}),

		socketLifetime: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "lancast_relay_socket_lifetime_seconds",
			Help:    "Lifetime of relay sockets",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		}),

		forwardFanout: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "lancast_relay_forward_fanout",
			Help:    "Clients reached per forwarded media frame",
			Buckets: []float64{0, 1, 2, 4, 8, 16, 32},
		}),

		roomClientCount: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "lancast_relay_room_client_count",
			Help: "Number of client sockets per room",
		}, []string{"stream_id"}),

		roomBitrate: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "lancast_relay_room_bitrate_kbps",
			Help: "Last bitrate requested by feedback per room",
		}, []string{"stream_id"}),
	}
}

func (p *PrometheusCollector) RecordSocketConnected(streamID string, role string) {
	p.socketsConnectedTotal.Inc()
	if role == "client" {
		p.roomClientCount.WithLabelValues(streamID).Inc()
	}
}

func (p *PrometheusCollector) RecordSocketDisconnected(streamID string, role string, lifetime time.Duration) {
	p.socketsConnectedTotal.Dec()
	p.socketLifetime.Observe(lifetime.Seconds())
	if role == "client" {
		p.roomClientCount.WithLabelValues(streamID).Dec()
	}
}

func (p *PrometheusCollector) RecordRoomOpened() {
	p.roomsActiveTotal.Inc()
}

func (p *PrometheusCollector) RecordRoomClosed(streamID string) {
	p.roomsActiveTotal.Dec()

	p.roomClientCount.DeleteLabelValues(streamID)
	p.roomBitrate.DeleteLabelValues(streamID)
}

func (p *PrometheusCollector) RecordAdmission(role string, outcome string) {
	p.admissionsTotal.WithLabelValues(role, outcome).Inc()
}

func (p *PrometheusCollector) RecordRateLimitDrop(limit string) {
	p.rateLimitDropsTotal.WithLabelValues(limit).Inc()
}

func (p *PrometheusCollector) RecordMediaForwarded(bytes int, fanout int) {
	p.mediaForwardedBytes.Add(float64(bytes))
	p.forwardFanout.Observe(float64(fanout))
}

func (p *PrometheusCollector) RecordClientBinaryDrop() {
	p.clientBinaryDrops.Inc()
}

func (p *PrometheusCollector) RecordControlForwarded() {
	p.controlForwardedTotal.Inc()
}

func (p *PrometheusCollector) RecordRequestedBitrate(streamID string, kbps int) {
	p.roomBitrate.WithLabelValues(streamID).Set(float64(kbps))
}
