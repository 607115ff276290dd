package service

import (
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Delivery channels reported in metrics.
const (
	ChannelInApp = "in_app"
	ChannelEmail = "email"
	ChannelChat  = "chat"
)

// MetricsService encapsulates Prometheus instrumentation.
type MetricsService struct {
	registry         *prometheus.Registry
	handler          http.Handler
	requestDuration  *prometheus.HistogramVec
	requestTotal     *prometheus.CounterVec
	dispatched       *prometheus.CounterVec
	deliveryFailures *prometheus.CounterVec
	deliveryLatency  *prometheus.HistogramVec
	published        prometheus.Counter
}

// NewMetricsService registers core Prometheus collectors.
func NewMetricsService() *MetricsService {
	registry := prometheus.NewRegistry()

	requestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Duration of HTTP requests in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	requestTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	dispatched := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "notifications_dispatched_total",
		Help: "Notifications created or queued per channel and type",
	}, []string{"channel", "type"})

	deliveryFailures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "notification_delivery_failures_total",
		Help: "Failed notification deliveries per channel",
	}, []string{"channel"})

	deliveryLatency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "notification_delivery_duration_seconds",
		Help:    "Time spent delivering a queued notification",
		Buckets: prometheus.DefBuckets,
	}, []string{"channel"})

	published := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "announcements_published_total",
		Help: "Announcements whose audience has been notified",
	})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(requestDuration, requestTotal, dispatched, deliveryFailures, deliveryLatency, published, goroutines)

	return &MetricsService{
		registry:         registry,
		handler:          promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestDuration:  requestDuration,
		requestTotal:     requestTotal,
		dispatched:       dispatched,
		deliveryFailures: deliveryFailures,
		deliveryLatency:  deliveryLatency,
		published:        published,
	}
}

// Handler exposes the Prometheus HTTP handler.
func (m *MetricsService) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// Registry returns the underlying registry.
func (m *MetricsService) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// ObserveHTTPRequest records request metrics.
func (m *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labelStatus := fmt.Sprintf("%d", status)
	m.requestDuration.WithLabelValues(method, path, labelStatus).Observe(duration.Seconds())
	m.requestTotal.WithLabelValues(method, path, labelStatus).Inc()
}

// RecordDispatch counts a notification created or queued on a channel.
func (m *MetricsService) RecordDispatch(channel, notificationType string) {
	if m == nil {
		return
	}
	m.dispatched.WithLabelValues(channel, notificationType).Inc()
}

// RecordDeliveryFailure counts a failed delivery attempt.
func (m *MetricsService) RecordDeliveryFailure(channel string) {
	if m == nil {
		return
	}
	m.deliveryFailures.WithLabelValues(channel).Inc()
}

// ObserveDelivery records how long a delivery took.
func (m *MetricsService) ObserveDelivery(channel string, duration time.Duration) {
	if m == nil {
		return
	}
	m.deliveryLatency.WithLabelValues(channel).Observe(duration.Seconds())
}

// RecordPublication counts a published announcement.
func (m *MetricsService) RecordPublication() {
	if m == nil {
		return
	}
	m.published.Inc()
}
