package metrics

import (
	"errors"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRegistryExposesCounters(t *testing.T) {
	r := New()
	r.LoginAttempts.WithLabelValues("ok").Inc()
	r.LoginAttempts.WithLabelValues("ok").Inc()
	r.MailsSent.WithLabelValues("verify_email", Outcome(errors.New("x"))).Inc()

	assert.Equal(t, 2.0, testutil.ToFloat64(r.LoginAttempts.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.MailsSent.WithLabelValues("verify_email", "error")))

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	assert.Equal(t, 200, rec.Code)
	assert.Contains(t, rec.Body.String(), "portal_login_attempts_total")
}
