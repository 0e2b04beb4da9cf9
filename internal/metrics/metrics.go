package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry держит все метрики портала.
type Registry struct {
	reg *prometheus.Registry

	HTTPRequests   *prometheus.CounterVec
	HTTPDuration   *prometheus.HistogramVec
	LoginAttempts  *prometheus.CounterVec
	TokensIssued   *prometheus.CounterVec
	TokensConsumed *prometheus.CounterVec
	MailsSent      *prometheus.CounterVec
	CommentsPosted *prometheus.CounterVec
}

func New() *Registry {
	r := &Registry{
		reg: prometheus.NewRegistry(),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "portal_http_requests_total",
			Help: "HTTP requests by route pattern, method and status code.",
		}, []string{"route", "method", "status"}),
		HTTPDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "portal_http_request_duration_seconds",
			Help:    "HTTP request latency by route pattern.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
		LoginAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "portal_login_attempts_total",
			Help: "Login attempts by outcome.",
		}, []string{"outcome"}),
		TokensIssued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "portal_tokens_issued_total",
			Help: "Single-use tokens issued by type.",
		}, []string{"type"}),
		TokensConsumed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "portal_tokens_consumed_total",
			Help: "Token consumption attempts by type and outcome.",
		}, []string{"type", "outcome"}),
		MailsSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "portal_mails_sent_total",
			Help: "Outgoing mails by template and outcome.",
		}, []string{"template", "outcome"}),
		CommentsPosted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "portal_comments_posted_total",
			Help: "Submitted comments by initial status.",
		}, []string{"status"}),
	}
	r.reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		r.HTTPRequests,
		r.HTTPDuration,
		r.LoginAttempts,
		r.TokensIssued,
		r.TokensConsumed,
		r.MailsSent,
		r.CommentsPosted,
	)
	return r
}

func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}

// Outcome turns an error into a label value.
func Outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
