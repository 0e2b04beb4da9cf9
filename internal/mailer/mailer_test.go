package mailer

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/ZetoOfficial/portal-cms/internal/metrics"
	"github.com/ZetoOfficial/portal-cms/internal/models"
)

type mockSender struct {
	mock.Mock
}

func (m *mockSender) Send(ctx context.Context, msg Message) error {
	args := m.Called(ctx, msg)
	return args.Error(0)
}

func newTestMailer(t *testing.T, s Sender) (*Mailer, *metrics.Registry) {
	t.Helper()
	reg := metrics.New()
	m, err := New(s, "noreply@example.com", "Studio", reg)
	require.NoError(t, err)
	return m, reg
}

func TestSendVerification(t *testing.T) {
	sender := new(mockSender)
	m, reg := newTestMailer(t, sender)

	sender.On("Send", mock.Anything, mock.MatchedBy(func(msg Message) bool {
		return msg.To == "ann@example.com" &&
			msg.From == "noreply@example.com" &&
			msg.Tag == TemplateVerifyEmail &&
			msg.Subject == "Confirm your email for Studio"
	})).Return(nil).Once()

	u := &models.User{Email: "ann@example.com", Name: "Ann"}
	err := m.SendVerification(context.Background(), u, "https://example.com/verify?token=abc", 48*time.Hour)
	require.NoError(t, err)
	sender.AssertExpectations(t)

	msg := sender.Calls[0].Arguments.Get(1).(Message)
	assert.Contains(t, msg.Text, "Hello Ann")
	assert.Contains(t, msg.Text, "https://example.com/verify?token=abc")
	assert.Contains(t, msg.Text, "2 days")
	assert.Contains(t, msg.HTML, `href="https://example.com/verify?token=abc"`)
	assert.Equal(t, 1.0, testutil.ToFloat64(reg.MailsSent.WithLabelValues(TemplateVerifyEmail, "ok")))
}

func TestHTMLIsEscaped(t *testing.T) {
	m, _ := newTestMailer(t, LogSender{})
	msg, err := m.Render(TemplateResetPassword, "x@example.com", map[string]any{
		"Name": "<script>alert(1)</script>",
		"Link": "https://example.com/reset",
		"TTL":  time.Hour,
	})
	require.NoError(t, err)
	assert.NotContains(t, msg.HTML, "<script>")
	assert.Contains(t, msg.HTML, "&lt;script&gt;")
	assert.Contains(t, msg.Text, "<script>")
}

func TestSendInvoiceRendersTotals(t *testing.T) {
	sender := new(mockSender)
	m, _ := newTestMailer(t, sender)
	sender.On("Send", mock.Anything, mock.Anything).Return(nil)

	inv := &models.Invoice{
		Number:    "INV-2026-0001",
		Currency:  "EUR",
		TaxRateBP: 2000,
		IssuedAt:  time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		DueAt:     time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC),
		Items: []models.InvoiceItem{
			{Description: "Design", Quantity: 2, UnitPriceCents: 150000},
		},
	}
	client := &models.User{Email: "c@example.com", Name: "Client"}
	require.NoError(t, m.SendInvoice(context.Background(), client, inv, "https://example.com/portal/invoices/1"))

	msg := sender.Calls[0].Arguments.Get(1).(Message)
	assert.Equal(t, "Invoice INV-2026-0001 from Studio", msg.Subject)
	assert.Contains(t, msg.Text, "Design: 2 x 1,500.00 EUR")
	assert.Contains(t, msg.Text, "Total:    3,600.00 EUR")
	assert.Contains(t, msg.Text, "15 Mar 2026")
}

func TestSendFailureIsCounted(t *testing.T) {
	sender := new(mockSender)
	m, reg := newTestMailer(t, sender)
	sender.On("Send", mock.Anything, mock.Anything).Return(errors.New("relay down"))

	a := &models.Article{Title: "Hello"}
	c := &models.Comment{AuthorName: "Bob", Body: "Nice", CreatedAt: time.Now()}
	err := m.NotifyPendingComment(context.Background(), "admin@example.com", a, c, "https://example.com/admin")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "relay down")
	assert.Equal(t, 1.0, testutil.ToFloat64(reg.MailsSent.WithLabelValues(TemplateCommentPending, "error")))
}

func TestAPISender(t *testing.T) {
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"m-1","status":"queued"}`))
	}))
	defer srv.Close()

	s := NewAPISender(srv.URL, "key")
	err := s.Send(context.Background(), Message{From: "a@example.com", To: "b@example.com", Subject: "s", Text: "t"})
	require.NoError(t, err)
	assert.Equal(t, "Bearer key", auth)
}

func TestSMTPSenderHonoursContext(t *testing.T) {
	s := NewSMTPSender("localhost", 2525, "", "")
	assert.Equal(t, "localhost:2525", s.Addr)
	assert.Nil(t, s.Auth)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, s.Send(ctx, Message{To: "x@example.com"}), context.Canceled)
}

func TestLogSenderMasksTokens(t *testing.T) {
	var buf bytes.Buffer
	logrus.SetOutput(&buf)
	logrus.SetLevel(logrus.DebugLevel)
	t.Cleanup(func() {
		logrus.SetOutput(os.Stderr)
		logrus.SetLevel(logrus.InfoLevel)
	})

	secret := strings.Repeat("ab", 32)
	m, _ := newTestMailer(t, LogSender{})
	u := &models.User{Email: "ann@example.com", Name: "Ann"}
	require.NoError(t, m.SendPasswordReset(context.Background(), u, "https://example.com/reset?token="+secret, time.Hour))

	out := buf.String()
	assert.NotContains(t, out, secret)
	assert.Contains(t, out, "token=[скрыт]")
	assert.Contains(t, out, "ann@example.com")
}

func TestRedactTokens(t *testing.T) {
	assert.Equal(t, "go to https://x.test/verify?token=[скрыт] now",
		redactTokens("go to https://x.test/verify?token=0123abcd now"))
	assert.Equal(t, "https://x.test/a?b=1&token=[скрыт]&c=2",
		redactTokens("https://x.test/a?b=1&token=deadbeef&c=2"))
	assert.Equal(t, "no links here", redactTokens("no links here"))
}
