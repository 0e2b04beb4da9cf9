package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/ZetoOfficial/portal-cms/internal/auth"
	"github.com/ZetoOfficial/portal-cms/internal/billing"
	"github.com/ZetoOfficial/portal-cms/internal/content"
	"github.com/ZetoOfficial/portal-cms/internal/dashboard"
	"github.com/ZetoOfficial/portal-cms/internal/logger"
	"github.com/ZetoOfficial/portal-cms/internal/mailer"
	"github.com/ZetoOfficial/portal-cms/internal/metrics"
	"github.com/ZetoOfficial/portal-cms/internal/models"
	"github.com/ZetoOfficial/portal-cms/internal/session"
	"github.com/ZetoOfficial/portal-cms/internal/settings"
	"github.com/ZetoOfficial/portal-cms/internal/storage"
	"github.com/ZetoOfficial/portal-cms/internal/storage/memstore"
)

const testPassword = "s3cret-pass"

var tokenRe = regexp.MustCompile(`token=([0-9a-f]{64})`)

type outbox struct {
	mu   sync.Mutex
	msgs []mailer.Message
}

func (o *outbox) Send(_ context.Context, msg mailer.Message) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.msgs = append(o.msgs, msg)
	return nil
}

// token returns the token from the newest mail sent to addr.
func (o *outbox) token(t *testing.T, addr string) string {
	t.Helper()
	o.mu.Lock()
	defer o.mu.Unlock()
	for i := len(o.msgs) - 1; i >= 0; i-- {
		if o.msgs[i].To != addr {
			continue
		}
		m := tokenRe.FindStringSubmatch(o.msgs[i].Text)
		require.NotNil(t, m, "no token in mail to %s", addr)
		return m[1]
	}
	t.Fatalf("no mail to %s", addr)
	return ""
}

type env struct {
	srv     *httptest.Server
	store   *memstore.Store
	auth    *auth.Service
	outbox  *outbox
	metrics *metrics.Registry
	logFile string
}

type envOptions struct {
	loginPerMinute int
	loginBurst     int
	trustProxy     bool
}

func newEnv(t *testing.T) *env {
	t.Helper()
	return newEnvWith(t, envOptions{loginPerMinute: 100, loginBurst: 100})
}

func newEnvWith(t *testing.T, opts envOptions) *env {
	t.Helper()
	store := memstore.New()
	m := metrics.New()
	box := &outbox{}

	st, err := settings.New(store, "")
	require.NoError(t, err)
	ml, err := mailer.New(box, "portal@example.com", "Studio", m)
	require.NoError(t, err)

	sessions := session.NewManager(session.NewMemoryStore(), session.Options{
		TTL:         24 * time.Hour,
		IdleTimeout: time.Hour,
	})
	tokens := auth.NewTokenManager(store, time.Hour, time.Hour, m)
	authSvc := auth.NewService(store, tokens, ml, sessions, st, m, auth.Options{
		BaseURL:              "http://portal.test",
		RequireVerifiedEmail: true,
		LoginRatePerMinute:   opts.loginPerMinute,
		LoginBurst:           opts.loginBurst,
		BcryptCost:           bcrypt.MinCost,
	})

	logFile := filepath.Join(t.TempDir(), "portal.log")
	s := New(Deps{
		Auth:       authSvc,
		Sessions:   sessions,
		Articles:   content.NewArticleService(store),
		Categories: content.NewCategoryService(store),
		Comments: content.NewCommentService(store, ml, st, m, content.CommentOptions{
			AdminEmail: "admin@example.com",
			BaseURL:    "http://portal.test",
			PerMinute:  100,
			Burst:      100,
		}),
		Projects:   content.NewProjectService(store),
		Invoices:   billing.NewService(store, ml, st, "http://portal.test"),
		Settings:   st,
		Dashboard:  dashboard.NewService(store),
		Metrics:    m,
		Pingers:    map[string]Pinger{"storage": store},
		LogFile:    logFile,
		TrustProxy: opts.trustProxy,
	})
	srv := httptest.NewServer(s.Router())
	t.Cleanup(srv.Close)
	return &env{srv: srv, store: store, auth: authSvc, outbox: box, metrics: m, logFile: logFile}
}

type client struct {
	t    *testing.T
	base string
	http *http.Client
	csrf string

	// header is added to every request.
	header http.Header
}

// newClient opens a session and remembers its CSRF token.
func (e *env) newClient(t *testing.T) *client {
	t.Helper()
	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	c := &client{t: t, base: e.srv.URL, http: &http.Client{Jar: jar}}
	var sess sessionResponse
	require.Equal(t, http.StatusOK, c.do(http.MethodGet, "/api/session", nil, &sess))
	require.NotEmpty(t, sess.CSRFToken)
	c.csrf = sess.CSRFToken
	return c
}

func (c *client) do(method, path string, body, out any) int {
	c.t.Helper()
	var rdr io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(c.t, err)
		rdr = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, c.base+path, rdr)
	require.NoError(c.t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.csrf != "" {
		req.Header.Set(CSRFHeader, c.csrf)
	}
	for k, v := range c.header {
		req.Header[k] = v
	}
	resp, err := c.http.Do(req)
	require.NoError(c.t, err)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(c.t, err)
	if out != nil && len(raw) > 0 {
		require.NoError(c.t, json.Unmarshal(raw, out), string(raw))
	}
	return resp.StatusCode
}

func (c *client) login(email, password string) int {
	c.t.Helper()
	var sess sessionResponse
	status := c.do(http.MethodPost, "/api/auth/login", loginRequest{Email: email, Password: password}, &sess)
	if status == http.StatusOK {
		c.csrf = sess.CSRFToken
	}
	return status
}

func (c *client) me() *models.User {
	c.t.Helper()
	var sess sessionResponse
	require.Equal(c.t, http.StatusOK, c.do(http.MethodGet, "/api/session", nil, &sess))
	// a lost session is replaced, so the token changes with it
	c.csrf = sess.CSRFToken
	return sess.User
}

func mustURL(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return u
}

func (e *env) admin(t *testing.T) *client {
	t.Helper()
	_, err := e.auth.CreateAdmin(context.Background(), "admin@example.com", "Admin", testPassword)
	require.NoError(t, err)
	c := e.newClient(t)
	require.Equal(t, http.StatusOK, c.login("admin@example.com", testPassword))
	return c
}

// verifiedClient registers, confirms and logs in a client account.
func (e *env) verifiedClient(t *testing.T, email string) *client {
	t.Helper()
	c := e.newClient(t)
	require.Equal(t, http.StatusCreated, c.do(http.MethodPost, "/api/auth/register",
		auth.RegisterInput{Email: email, Name: "Client", Password: testPassword}, nil))
	require.Equal(t, http.StatusOK, c.do(http.MethodPost, "/api/auth/verify",
		tokenRequest{Token: e.outbox.token(t, email)}, nil))
	require.Equal(t, http.StatusOK, c.login(email, testPassword))
	return c
}

func TestHealthz(t *testing.T) {
	e := newEnv(t)
	resp, err := http.Get(e.srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestUnsafeRequestsNeedCSRFToken(t *testing.T) {
	e := newEnv(t)
	c := e.newClient(t)

	token := c.csrf
	c.csrf = ""
	var body errorBody
	assert.Equal(t, http.StatusForbidden, c.do(http.MethodPost, "/api/auth/login", loginRequest{}, &body))
	assert.Equal(t, "csrf", body.Code)

	c.csrf = "forged"
	assert.Equal(t, http.StatusForbidden, c.do(http.MethodPost, "/api/auth/login", loginRequest{}, nil))

	c.csrf = token
	assert.Equal(t, http.StatusUnauthorized, c.do(http.MethodPost, "/api/auth/login",
		loginRequest{Email: "nobody@example.com", Password: testPassword}, nil))
}

func TestRegistrationFlow(t *testing.T) {
	e := newEnv(t)
	c := e.newClient(t)
	anonCSRF := c.csrf

	var user models.User
	require.Equal(t, http.StatusCreated, c.do(http.MethodPost, "/api/auth/register",
		auth.RegisterInput{Email: "Ann@Example.com", Name: "Ann", Password: testPassword}, &user))
	assert.Equal(t, "ann@example.com", user.Email)
	assert.False(t, user.EmailVerified)

	var sess sessionResponse
	require.Equal(t, http.StatusOK, c.do(http.MethodGet, "/api/session", nil, &sess))
	assert.Len(t, sess.Flash, 1)
	assert.Nil(t, sess.User)

	var body errorBody
	assert.Equal(t, http.StatusForbidden, c.login("ann@example.com", testPassword))
	assert.Equal(t, http.StatusConflict, c.do(http.MethodPost, "/api/auth/register",
		auth.RegisterInput{Email: "ann@example.com", Name: "Ann", Password: testPassword}, &body))
	assert.Equal(t, "email_taken", body.Code)

	token := e.outbox.token(t, "ann@example.com")
	require.Equal(t, http.StatusOK, c.do(http.MethodPost, "/api/auth/verify", tokenRequest{Token: token}, nil))
	assert.Equal(t, http.StatusBadRequest, c.do(http.MethodPost, "/api/auth/verify", tokenRequest{Token: token}, &body))
	assert.Equal(t, "token_used", body.Code)

	require.Equal(t, http.StatusOK, c.login("ann@example.com", testPassword))
	assert.NotEqual(t, anonCSRF, c.csrf, "login must rotate the csrf token")
	me := c.me()
	require.NotNil(t, me)
	assert.Equal(t, models.RoleClient, me.Role)

	require.Equal(t, http.StatusNoContent, c.do(http.MethodPost, "/api/auth/logout", nil, nil))
	assert.Nil(t, c.me())
}

func TestLoginRotatesSessionCookie(t *testing.T) {
	e := newEnv(t)
	_, err := e.auth.CreateAdmin(context.Background(), "admin@example.com", "Admin", testPassword)
	require.NoError(t, err)

	c := e.newClient(t)
	before := c.http.Jar.Cookies(mustURL(t, e.srv.URL))
	require.NotEmpty(t, before)
	require.Equal(t, http.StatusOK, c.login("admin@example.com", testPassword))
	after := c.http.Jar.Cookies(mustURL(t, e.srv.URL))
	require.NotEmpty(t, after)
	assert.NotEqual(t, before[0].Value, after[0].Value)

	// the pre-login identifier no longer names a session
	stale := e.newClient(t)
	stale.http.Jar.SetCookies(mustURL(t, e.srv.URL), before)
	assert.Nil(t, stale.me())
}

func TestPasswordResetEndsOtherSessions(t *testing.T) {
	e := newEnv(t)
	owner := e.verifiedClient(t, "bob@example.com")
	require.Equal(t, http.StatusOK, owner.do(http.MethodGet, "/api/portal/invoices", nil, nil))

	other := e.newClient(t)
	require.Equal(t, http.StatusAccepted, other.do(http.MethodPost, "/api/auth/forgot", emailRequest{Email: "bob@example.com"}, nil))
	require.Equal(t, http.StatusAccepted, other.do(http.MethodPost, "/api/auth/forgot", emailRequest{Email: "ghost@example.com"}, nil))
	token := e.outbox.token(t, "bob@example.com")

	var body errorBody
	assert.Equal(t, http.StatusUnprocessableEntity, other.do(http.MethodPost, "/api/auth/reset",
		resetRequest{Token: token, Password: "short"}, &body))
	assert.Equal(t, "weak_password", body.Code)
	require.Equal(t, http.StatusOK, other.do(http.MethodPost, "/api/auth/reset",
		resetRequest{Token: token, Password: "n3w-password"}, nil))

	assert.Equal(t, http.StatusUnauthorized, owner.do(http.MethodGet, "/api/portal/invoices", nil, nil))
	assert.Equal(t, http.StatusUnauthorized, other.login("bob@example.com", testPassword))
	assert.Equal(t, http.StatusOK, other.login("bob@example.com", "n3w-password"))
}

func TestLoginThrottleIgnoresForwardedHeaders(t *testing.T) {
	e := newEnvWith(t, envOptions{loginPerMinute: 1, loginBurst: 2})
	c := e.newClient(t)

	for i, ip := range []string{"203.0.113.1", "203.0.113.2"} {
		c.header = http.Header{"X-Forwarded-For": {ip}, "X-Real-Ip": {ip}}
		assert.Equal(t, http.StatusUnauthorized, c.login("nobody@example.com", "wrong-pass1"), i)
	}
	c.header = http.Header{"X-Forwarded-For": {"203.0.113.3"}, "X-Real-Ip": {"203.0.113.3"}}
	assert.Equal(t, http.StatusTooManyRequests, c.login("nobody@example.com", "wrong-pass1"))
}

func TestLoginThrottleBehindTrustedProxy(t *testing.T) {
	e := newEnvWith(t, envOptions{loginPerMinute: 1, loginBurst: 1, trustProxy: true})
	c := e.newClient(t)

	c.header = http.Header{"X-Real-Ip": {"203.0.113.1"}}
	assert.Equal(t, http.StatusUnauthorized, c.login("nobody@example.com", "wrong-pass1"))
	assert.Equal(t, http.StatusTooManyRequests, c.login("nobody@example.com", "wrong-pass1"))

	c.header = http.Header{"X-Real-Ip": {"203.0.113.2"}}
	assert.Equal(t, http.StatusUnauthorized, c.login("nobody@example.com", "wrong-pass1"))
}

func TestChangePassword(t *testing.T) {
	e := newEnv(t)
	c := e.verifiedClient(t, "cara@example.com")
	second := e.newClient(t)
	require.Equal(t, http.StatusOK, second.login("cara@example.com", testPassword))

	assert.Equal(t, http.StatusUnauthorized, c.do(http.MethodPost, "/api/auth/password",
		changePasswordRequest{Current: "wrong-pass1", Password: "an0ther-pass"}, nil))
	require.Equal(t, http.StatusOK, c.do(http.MethodPost, "/api/auth/password",
		changePasswordRequest{Current: testPassword, Password: "an0ther-pass"}, nil))

	assert.NotNil(t, c.me(), "the session that changed the password stays logged in")
	assert.Nil(t, second.me())
}

func TestRoleGuards(t *testing.T) {
	e := newEnv(t)
	anon := e.newClient(t)
	assert.Equal(t, http.StatusUnauthorized, anon.do(http.MethodGet, "/api/admin/dashboard", nil, nil))

	cl := e.verifiedClient(t, "dan@example.com")
	assert.Equal(t, http.StatusForbidden, cl.do(http.MethodGet, "/api/admin/dashboard", nil, nil))

	admin := e.admin(t)
	var stats models.DashboardStats
	require.Equal(t, http.StatusOK, admin.do(http.MethodGet, "/api/admin/dashboard", nil, &stats))
	assert.Equal(t, 2, stats.Users)
	assert.Equal(t, http.StatusForbidden, admin.do(http.MethodGet, "/api/portal/invoices", nil, nil))

	// promote the client to editor; the role change logs them out
	editorRole := models.RoleEditor
	dan := cl.me()
	require.NotNil(t, dan)
	require.Equal(t, http.StatusOK, admin.do(http.MethodPatch, "/api/admin/users/"+dan.ID,
		auth.AccountUpdate{Role: &editorRole}, nil))
	assert.Nil(t, cl.me())

	require.Equal(t, http.StatusOK, cl.login("dan@example.com", testPassword))
	assert.Equal(t, http.StatusOK, cl.do(http.MethodGet, "/api/admin/dashboard", nil, nil))
	assert.Equal(t, http.StatusForbidden, cl.do(http.MethodGet, "/api/admin/invoices", nil, nil))
	assert.Equal(t, http.StatusForbidden, cl.do(http.MethodGet, "/api/admin/settings", nil, nil))
}

func TestArticlesAndComments(t *testing.T) {
	e := newEnv(t)
	admin := e.admin(t)

	var a models.Article
	require.Equal(t, http.StatusCreated, admin.do(http.MethodPost, "/api/admin/articles",
		content.ArticleInput{Title: "Hello World", Body: "Some *markdown* here."}, &a))
	assert.Equal(t, models.ArticleDraft, a.Status)

	anon := e.newClient(t)
	assert.Equal(t, http.StatusNotFound, anon.do(http.MethodGet, "/api/articles/"+a.Slug, nil, nil))

	require.Equal(t, http.StatusOK, admin.do(http.MethodPost, "/api/admin/articles/"+a.ID+"/publish", nil, nil))

	var got models.Article
	require.Equal(t, http.StatusOK, anon.do(http.MethodGet, "/api/articles/"+a.Slug, nil, &got))
	assert.Contains(t, got.BodyHTML, "<em>markdown</em>")

	var list models.PageResult[models.Article]
	require.Equal(t, http.StatusOK, anon.do(http.MethodGet, "/api/articles", nil, &list))
	assert.Equal(t, 1, list.Total)
	assert.Equal(t, 10, list.PerPage)

	var c models.Comment
	require.Equal(t, http.StatusAccepted, anon.do(http.MethodPost, "/api/articles/"+a.Slug+"/comments",
		content.CommentInput{Name: "Eve", Email: "eve@example.com", Body: "Nice <b>post</b>"}, &c))
	assert.Equal(t, models.CommentPending, c.Status)
	assert.Equal(t, "Nice post", c.Body)

	var visible []models.Comment
	require.Equal(t, http.StatusOK, anon.do(http.MethodGet, "/api/articles/"+a.Slug+"/comments", nil, &visible))
	assert.Empty(t, visible)

	var queue models.PageResult[models.Comment]
	require.Equal(t, http.StatusOK, admin.do(http.MethodGet, "/api/admin/comments", nil, &queue))
	require.Equal(t, 1, queue.Total)
	require.Equal(t, http.StatusOK, admin.do(http.MethodPost, "/api/admin/comments/"+c.ID+"/approve", nil, nil))

	require.Equal(t, http.StatusOK, anon.do(http.MethodGet, "/api/articles/"+a.Slug+"/comments", nil, &visible))
	assert.Len(t, visible, 1)

	var body errorBody
	assert.Equal(t, http.StatusUnprocessableEntity, admin.do(http.MethodPost, "/api/admin/comments/"+c.ID+"/bury", nil, &body))
	assert.Equal(t, "validation", body.Code)
}

func TestInvoicesInPortal(t *testing.T) {
	e := newEnv(t)
	admin := e.admin(t)
	owner := e.verifiedClient(t, "fay@example.com")
	stranger := e.verifiedClient(t, "gus@example.com")
	fay := owner.me()
	require.NotNil(t, fay)

	var inv invoiceResponse
	require.Equal(t, http.StatusCreated, admin.do(http.MethodPost, "/api/admin/invoices", billing.InvoiceInput{
		ClientID: fay.ID,
		Items:    []models.InvoiceItem{{Description: "Design", Quantity: 2, UnitPriceCents: 150000}},
	}, &inv))
	assert.Equal(t, int64(300000), inv.TotalCents)
	assert.Equal(t, "EUR", inv.Currency)

	var page models.PageResult[models.Invoice]
	require.Equal(t, http.StatusOK, owner.do(http.MethodGet, "/api/portal/invoices", nil, &page))
	assert.Equal(t, 0, page.Total, "drafts stay hidden")

	require.Equal(t, http.StatusOK, admin.do(http.MethodPost, "/api/admin/invoices/"+inv.ID+"/send", nil, nil))
	assert.NotEmpty(t, e.outbox.msgs)

	require.Equal(t, http.StatusOK, owner.do(http.MethodGet, "/api/portal/invoices", nil, &page))
	assert.Equal(t, 1, page.Total)
	assert.Equal(t, http.StatusOK, owner.do(http.MethodGet, "/api/portal/invoices/"+inv.ID, nil, nil))
	assert.Equal(t, http.StatusNotFound, stranger.do(http.MethodGet, "/api/portal/invoices/"+inv.ID, nil, nil))

	var body errorBody
	assert.Equal(t, http.StatusConflict, admin.do(http.MethodPut, "/api/admin/invoices/"+inv.ID, billing.InvoiceInput{
		ClientID: fay.ID,
		Items:    []models.InvoiceItem{{Description: "Design", Quantity: 1, UnitPriceCents: 1}},
	}, &body))
	require.Equal(t, http.StatusOK, admin.do(http.MethodPost, "/api/admin/invoices/"+inv.ID+"/pay", nil, nil))
	assert.Equal(t, http.StatusConflict, admin.do(http.MethodPost, "/api/admin/invoices/"+inv.ID+"/cancel", nil, &body))
	assert.Equal(t, "invalid_transition", body.Code)
}

func TestSettingsEndpoints(t *testing.T) {
	e := newEnv(t)
	admin := e.admin(t)

	var body errorBody
	assert.Equal(t, http.StatusUnprocessableEntity, admin.do(http.MethodPut, "/api/admin/settings",
		map[string]string{"articles_per_page": "many"}, &body))
	assert.Contains(t, body.Fields, "articles_per_page")

	var values map[string]string
	require.Equal(t, http.StatusOK, admin.do(http.MethodPut, "/api/admin/settings",
		map[string]string{"site_name": "Atelier", "registration_open": "false"}, &values))
	assert.Equal(t, "Atelier", values["site_name"])

	anon := e.newClient(t)
	var public map[string]string
	require.Equal(t, http.StatusOK, anon.do(http.MethodGet, "/api/settings/public", nil, &public))
	assert.Equal(t, "Atelier", public["site_name"])
	assert.NotContains(t, public, "invoice_tax_rate_bp")

	assert.Equal(t, http.StatusForbidden, anon.do(http.MethodPost, "/api/auth/register",
		auth.RegisterInput{Email: "late@example.com", Name: "Late", Password: testPassword}, &body))
	assert.Equal(t, "registration_closed", body.Code)
}

func TestReports(t *testing.T) {
	e := newEnv(t)
	admin := e.admin(t)

	var names []string
	require.Equal(t, http.StatusOK, admin.do(http.MethodGet, "/api/admin/reports", nil, &names))
	assert.Equal(t, storage.ReportNames, names)

	var rows []map[string]any
	require.Equal(t, http.StatusOK, admin.do(http.MethodGet, "/api/admin/reports/total_users", nil, &rows))
	assert.NotEmpty(t, rows)
	assert.Equal(t, http.StatusNotFound, admin.do(http.MethodGet, "/api/admin/reports/nope", nil, nil))
}

func TestLogViewer(t *testing.T) {
	e := newEnv(t)
	admin := e.admin(t)

	lines := []string{`{"level":"info","msg":"one"}`, `{"level":"info","msg":"two"}`, "plain three"}
	require.NoError(t, os.WriteFile(e.logFile, []byte(fmt.Sprintln(lines[0])+fmt.Sprintln(lines[1])+fmt.Sprintln(lines[2])), 0o644))

	var chunk logger.Chunk
	require.Equal(t, http.StatusOK, admin.do(http.MethodGet, "/api/admin/logs?lines=2", nil, &chunk))
	require.Len(t, chunk.Entries, 2)
	assert.Equal(t, "two", chunk.Entries[0].Fields["msg"])
	assert.Nil(t, chunk.Entries[1].Fields)

	f, err := os.OpenFile(e.logFile, os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString(`{"level":"warn","msg":"four"}` + "\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	var next logger.Chunk
	require.Equal(t, http.StatusOK, admin.do(http.MethodGet, fmt.Sprintf("/api/admin/logs?offset=%d", chunk.Offset), nil, &next))
	require.Len(t, next.Entries, 1)
	assert.Equal(t, "four", next.Entries[0].Fields["msg"])

	assert.Equal(t, http.StatusUnprocessableEntity, admin.do(http.MethodGet, "/api/admin/logs?offset=x", nil, nil))
}

func TestMetricsUseRoutePattern(t *testing.T) {
	e := newEnv(t)
	c := e.newClient(t)
	c.do(http.MethodGet, "/api/articles/missing-one", nil, nil)
	c.do(http.MethodGet, "/api/articles/missing-two", nil, nil)

	assert.Equal(t, 2.0, testutil.ToFloat64(e.metrics.HTTPRequests.WithLabelValues("/api/articles/{slug}", "GET", "404")))

	resp, err := http.Get(e.srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "portal_http_requests_total")
}

func TestStatusFor(t *testing.T) {
	verr := models.NewValidationError()
	verr.Add("title", "is required")
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{verr, http.StatusUnprocessableEntity, "validation"},
		{fmt.Errorf("get: %w", storage.ErrNotFound), http.StatusNotFound, "not_found"},
		{storage.ErrConflict, http.StatusConflict, "conflict"},
		{billing.ErrInvalidTransition, http.StatusConflict, "invalid_transition"},
		{auth.ErrInvalidCredentials, http.StatusUnauthorized, "invalid_credentials"},
		{auth.ErrTooManyAttempts, http.StatusTooManyRequests, "too_many_attempts"},
		{fmt.Errorf("%w: too short", auth.ErrWeakPassword), http.StatusUnprocessableEntity, "weak_password"},
		{auth.ErrTokenExpired, http.StatusBadRequest, "token_expired"},
		{content.ErrCommentsClosed, http.StatusForbidden, "comments_closed"},
		{errors.New("boom"), http.StatusInternalServerError, "internal"},
	}
	for _, tc := range cases {
		status, code := statusFor(tc.err)
		assert.Equal(t, tc.status, status, tc.err.Error())
		assert.Equal(t, tc.code, code, tc.err.Error())
	}
}
