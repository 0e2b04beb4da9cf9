package mailer

import (
	"bytes"
	"context"
	"embed"
	"fmt"
	htmltemplate "html/template"
	"strings"
	"text/template"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/sirupsen/logrus"

	"github.com/ZetoOfficial/portal-cms/internal/metrics"
	"github.com/ZetoOfficial/portal-cms/internal/models"
)

//go:embed templates
var templateFS embed.FS

const (
	TemplateVerifyEmail    = "verify_email"
	TemplateResetPassword  = "reset_password"
	TemplateInvoiceSent    = "invoice_sent"
	TemplateCommentPending = "comment_pending"
)

var funcs = map[string]any{
	"money": func(cents int64, currency string) string {
		whole := humanize.Comma(cents / 100)
		if cents < 0 && cents/100 == 0 {
			whole = "-0"
		}
		frac := cents % 100
		if frac < 0 {
			frac = -frac
		}
		return fmt.Sprintf("%s.%02d %s", whole, frac, currency)
	},
	"within": func(d time.Duration) string {
		now := time.Now()
		return strings.TrimSpace(humanize.RelTime(now, now.Add(d), "", ""))
	},
	"date": func(t time.Time) string {
		return t.Format("2 Jan 2006")
	},
	"ago": humanize.Time,
}

// Mailer собирает письма из шаблонов и передаёт их Sender.
type Mailer struct {
	sender   Sender
	from     string
	siteName string
	metrics  *metrics.Registry
	text     *template.Template
	html     *htmltemplate.Template
}

func New(sender Sender, from, siteName string, m *metrics.Registry) (*Mailer, error) {
	text, err := template.New("mail").Funcs(funcs).ParseFS(templateFS, "templates/*.txt.tmpl")
	if err != nil {
		return nil, fmt.Errorf("parse text templates: %w", err)
	}
	html, err := htmltemplate.New("mail").Funcs(funcs).ParseFS(templateFS, "templates/*.html.tmpl")
	if err != nil {
		return nil, fmt.Errorf("parse html templates: %w", err)
	}
	return &Mailer{sender: sender, from: from, siteName: siteName, metrics: m, text: text, html: html}, nil
}

// Render builds the message for a template without sending it.
func (m *Mailer) Render(name, to string, data map[string]any) (Message, error) {
	if data == nil {
		data = map[string]any{}
	}
	data["SiteName"] = m.siteName

	var subject, text, html bytes.Buffer
	if err := m.text.ExecuteTemplate(&subject, name+".subject", data); err != nil {
		return Message{}, fmt.Errorf("render %s subject: %w", name, err)
	}
	if err := m.text.ExecuteTemplate(&text, name+".text", data); err != nil {
		return Message{}, fmt.Errorf("render %s text: %w", name, err)
	}
	if err := m.html.ExecuteTemplate(&html, name+".html", data); err != nil {
		return Message{}, fmt.Errorf("render %s html: %w", name, err)
	}
	return Message{
		From:    m.from,
		To:      to,
		Subject: strings.TrimSpace(subject.String()),
		Text:    strings.TrimSpace(text.String()) + "\n",
		HTML:    html.String(),
		Tag:     name,
	}, nil
}

func (m *Mailer) deliver(ctx context.Context, name, to string, data map[string]any) error {
	msg, err := m.Render(name, to, data)
	if err != nil {
		return err
	}
	err = m.sender.Send(ctx, msg)
	if m.metrics != nil {
		m.metrics.MailsSent.WithLabelValues(name, metrics.Outcome(err)).Inc()
	}
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"template": name,
			"to":       to,
			"error":    err,
		}).Error("Не удалось отправить письмо")
		return fmt.Errorf("send %s mail: %w", name, err)
	}
	return nil
}

func (m *Mailer) SendVerification(ctx context.Context, u *models.User, link string, ttl time.Duration) error {
	return m.deliver(ctx, TemplateVerifyEmail, u.Email, map[string]any{
		"Name": u.Name,
		"Link": link,
		"TTL":  ttl,
	})
}

func (m *Mailer) SendPasswordReset(ctx context.Context, u *models.User, link string, ttl time.Duration) error {
	return m.deliver(ctx, TemplateResetPassword, u.Email, map[string]any{
		"Name": u.Name,
		"Link": link,
		"TTL":  ttl,
	})
}

func (m *Mailer) SendInvoice(ctx context.Context, client *models.User, inv *models.Invoice, link string) error {
	return m.deliver(ctx, TemplateInvoiceSent, client.Email, map[string]any{
		"Name":    client.Name,
		"Invoice": inv,
		"Link":    link,
	})
}

// NotifyPendingComment сообщает администратору о комментарии на модерации.
func (m *Mailer) NotifyPendingComment(ctx context.Context, to string, a *models.Article, c *models.Comment, link string) error {
	return m.deliver(ctx, TemplateCommentPending, to, map[string]any{
		"Article": a,
		"Comment": c,
		"Link":    link,
	})
}
