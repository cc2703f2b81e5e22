package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	// HTTP метрики
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "http_request_duration_seconds",
			Help: "Duration of HTTP requests in seconds",
		},
		[]string{"method", "path"},
	)
	HTTPRequestsInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "http_requests_in_flight",
			Help: "Current number of HTTP requests in flight",
		},
	)

	// Stripe вебхуки
	WebhookEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stripe_webhook_events_total",
			Help: "Stripe webhook deliveries by event type and outcome",
		},
		[]string{"event_type", "result"},
	)

	// Подписки
	SubscriptionsCreatedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "subscriptions_created_total",
			Help: "Subscriptions created by origin",
		},
		[]string{"origin"},
	)
	SubscriptionsExtendedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "subscriptions_extended_total",
			Help: "Subscription extensions applied",
		},
	)
	SubscriptionsExpiredTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "subscriptions_expired_total",
			Help: "Subscriptions deactivated by the expiry sweeper",
		},
	)
	SweepDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name: "expiry_sweep_duration_seconds",
			Help: "Duration of expiry sweeper runs in seconds",
		},
	)

	// Доступ к каналу
	AccessOperationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "channel_access_operations_total",
			Help: "Channel grant/revoke side effects by result",
		},
		[]string{"op", "result"},
	)

	// TON эксплореры
	ExplorerRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ton_explorer_requests_total",
			Help: "Total number of TON explorer API requests",
		},
		[]string{"provider", "status"},
	)
	ExplorerRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "ton_explorer_request_duration_seconds",
			Help: "Duration of TON explorer API requests in seconds",
		},
		[]string{"provider"},
	)
)

var initOnce sync.Once

func InitMetrics() {
	initOnce.Do(func() {
		// HTTP
		prometheus.MustRegister(HTTPRequestsTotal)
		prometheus.MustRegister(HTTPRequestDuration)
		prometheus.MustRegister(HTTPRequestsInFlight)

		// Платежи и подписки
		prometheus.MustRegister(WebhookEventsTotal)
		prometheus.MustRegister(SubscriptionsCreatedTotal)
		prometheus.MustRegister(SubscriptionsExtendedTotal)
		prometheus.MustRegister(SubscriptionsExpiredTotal)
		prometheus.MustRegister(SweepDuration)
		prometheus.MustRegister(AccessOperationsTotal)

		// TON
		prometheus.MustRegister(ExplorerRequestsTotal)
		prometheus.MustRegister(ExplorerRequestDuration)

		// Go runtime/process collectors are registered by the default registry.
	})
}
