package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Результаты шагов
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
)

// Metrics - счетчики подключений и вебхуков.
// Методы безопасно вызывать на nil.
type Metrics struct {
	registry      *prometheus.Registry
	oauthFlows    *prometheus.CounterVec
	webhooks      *prometheus.CounterVec
	webhookStored *prometheus.CounterVec
}

// New создает счетчики в собственном реестре
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		oauthFlows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "integrations",
			Name:      "oauth_flows_total",
			Help:      "OAuth authorize/callback steps by provider and result.",
		}, []string{"provider", "stage", "result"}),
		webhooks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "integrations",
			Name:      "webhooks_total",
			Help:      "Inbound webhook requests by provider and outcome.",
		}, []string{"provider", "result"}),
		webhookStored: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "integrations",
			Name:      "webhook_events_stored_total",
			Help:      "Verified webhook events persisted for processing.",
		}, []string{"provider"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.oauthFlows,
		m.webhooks,
		m.webhookStored,
	)
	return m
}

// OAuthFlow учитывает шаг authorize/callback/refresh/connect
func (m *Metrics) OAuthFlow(provider, stage, result string) {
	if m == nil {
		return
	}
	m.oauthFlows.WithLabelValues(provider, stage, result).Inc()
}

// Webhook учитывает входящий вебхук; result - verified, challenge, invalid_signature и т.д.
func (m *Metrics) Webhook(provider, result string) {
	if m == nil {
		return
	}
	m.webhooks.WithLabelValues(provider, result).Inc()
}

// WebhookStored учитывает сохраненное событие
func (m *Metrics) WebhookStored(provider string) {
	if m == nil {
		return
	}
	m.webhookStored.WithLabelValues(provider).Inc()
}

// Handler отдает метрики в формате Prometheus
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
