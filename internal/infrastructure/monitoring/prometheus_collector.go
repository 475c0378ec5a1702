package monitoring

import (
	"strconv"
	"time"

	"huddle/internal/core/domain"
	"huddle/internal/core/ports"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type PrometheusCollector struct {
	// Counters
	acquisitionsTotal *prometheus.CounterVec
	deviceErrorsTotal *prometheus.CounterVec
	shareTransitions  *prometheus.CounterVec
	recordingsTotal   *prometheus.CounterVec
	recordedBytes     prometheus.Counter
	httpRequestsTotal *prometheus.CounterVec

	// Histograms
	acquisitionDuration prometheus.Histogram
	recordingDuration   prometheus.Histogram
	httpRequestDuration *prometheus.HistogramVec

	// Gauges
	liveTracks *prometheus.GaugeVec
	wsClients  prometheus.Gauge
	checkUp    *prometheus.GaugeVec
}

var _ ports.MetricsRecorder = (*PrometheusCollector)(nil)

// NewPrometheusCollector registers the collector's metrics with reg. A nil
// reg uses the default registry.
func NewPrometheusCollector(reg prometheus.Registerer) *PrometheusCollector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &PrometheusCollector{
		acquisitionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "huddle_acquisitions_total",
			Help: "Device acquisitions by result",
		}, []string{"result"}),

		deviceErrorsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "huddle_device_errors_total",
			Help: "Device errors by operation and kind",
		}, []string{"operation", "kind"}),

		shareTransitions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "huddle_screen_share_transitions_total",
			Help: "Screen share state machine transitions",
		}, []string{"from", "to"}),

		recordingsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "huddle_recordings_total",
			Help: "Finished recordings by result",
		}, []string{"result", "partial"}),

		recordedBytes: factory.NewCounter(prometheus.CounterOpts{
			Name: "huddle_recorded_bytes_total",
			Help: "Total size of delivered recordings in bytes",
		}),

		httpRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "huddle_http_requests_total",
			Help: "Control API requests",
		}, []string{"method", "route", "status"}),

		acquisitionDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "huddle_acquisition_duration_seconds",
			Help:    "Time from device request to usable tracks, including permission prompts",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
		}),

		recordingDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "huddle_recording_duration_seconds",
			Help:    "Length of delivered recordings",
			Buckets: []float64{5, 30, 60, 300, 900, 1800, 3600},
		}),

		httpRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "huddle_http_request_duration_seconds",
			Help:    "Control API latency",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}, []string{"method", "route"}),

		liveTracks: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "huddle_live_tracks",
			Help: "Live tracks in the composed stream",
		}, []string{"kind"}),

		wsClients: factory.NewGauge(prometheus.GaugeOpts{
			Name: "huddle_event_clients",
			Help: "Connected event stream clients",
		}),

		checkUp: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "huddle_health_check_up",
			Help: "1 when the named health check last passed",
		}, []string{"check"}),
	}
}

func (p *PrometheusCollector) RecordAcquisition(result string, duration time.Duration) {
	p.acquisitionsTotal.WithLabelValues(result).Inc()
	p.acquisitionDuration.Observe(duration.Seconds())
}

func (p *PrometheusCollector) RecordDeviceError(operation string, kind domain.DeviceErrorKind) {
	p.deviceErrorsTotal.WithLabelValues(operation, kind.String()).Inc()
}

func (p *PrometheusCollector) RecordShareTransition(from, to domain.ShareState) {
	p.shareTransitions.WithLabelValues(string(from), string(to)).Inc()
}

func (p *PrometheusCollector) RecordRecording(result string, info *domain.ArtifactInfo) {
	partial := "false"
	if info != nil {
		partial = strconv.FormatBool(info.Partial)
		p.recordedBytes.Add(float64(info.Size))
		p.recordingDuration.Observe(info.Duration.Seconds())
	}
	p.recordingsTotal.WithLabelValues(result, partial).Inc()
}

func (p *PrometheusCollector) SetLiveTracks(kind domain.TrackKind, count int) {
	p.liveTracks.WithLabelValues(kind.String()).Set(float64(count))
}

func (p *PrometheusCollector) RecordHTTPRequest(method, route string, status int, duration time.Duration) {
	p.httpRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	p.httpRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

func (p *PrometheusCollector) ClientConnected() {
	p.wsClients.Inc()
}

func (p *PrometheusCollector) ClientDisconnected() {
	p.wsClients.Dec()
}

func (p *PrometheusCollector) RecordHealthCheck(name string, healthy bool) {
	v := 0.0
	if healthy {
		v = 1
	}
	p.checkUp.WithLabelValues(name).Set(v)
}
