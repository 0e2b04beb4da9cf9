package mailer

import (
	"context"
	"fmt"
	"net"
	"net/smtp"
	"regexp"
	"strconv"

	"github.com/jordan-wright/email"
	"github.com/sirupsen/logrus"

	"github.com/ZetoOfficial/portal-cms/internal/clients"
)

// Message представляет готовое к отправке письмо.
type Message struct {
	From    string
	To      string
	Subject string
	Text    string
	HTML    string
	Tag     string
}

type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// SMTPSender отправляет письма напрямую через SMTP-сервер.
type SMTPSender struct {
	Addr string
	Auth smtp.Auth
}

func NewSMTPSender(host string, port int, user, password string) *SMTPSender {
	s := &SMTPSender{Addr: net.JoinHostPort(host, strconv.Itoa(port))}
	if user != "" {
		s.Auth = smtp.PlainAuth("", user, password, host)
	}
	return s
}

func (s *SMTPSender) Send(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	e := email.NewEmail()
	e.From = msg.From
	e.To = []string{msg.To}
	e.Subject = msg.Subject
	e.Text = []byte(msg.Text)
	if msg.HTML != "" {
		e.HTML = []byte(msg.HTML)
	}
	if msg.Tag != "" {
		e.Headers.Set("X-Mail-Tag", msg.Tag)
	}
	if err := e.Send(s.Addr, s.Auth); err != nil {
		return fmt.Errorf("smtp send to %s: %w", msg.To, err)
	}
	return nil
}

// APISender отправляет письма через HTTP-релей.
type APISender struct {
	Client *clients.MailAPIClient
}

func NewAPISender(baseURL, apiKey string) *APISender {
	return &APISender{Client: clients.NewMailAPIClient(baseURL, apiKey)}
}

func (s *APISender) Send(ctx context.Context, msg Message) error {
	_, err := s.Client.Send(ctx, clients.OutgoingMail{
		From:    msg.From,
		To:      []string{msg.To},
		Subject: msg.Subject,
		Text:    msg.Text,
		HTML:    msg.HTML,
		Tag:     msg.Tag,
	})
	return err
}

// LogSender только пишет письмо в лог. Используется в разработке.
// LogSender only writes mail to the log. Token values in links are masked
// because the log file is readable through the admin log viewer.
type LogSender struct{}

var tokenParam = regexp.MustCompile(`([?&]token=)[^\s&"<>]+`)

func redactTokens(s string) string {
	return tokenParam.ReplaceAllString(s, "${1}[скрыт]")
}

func (LogSender) Send(_ context.Context, msg Message) error {
	logrus.WithFields(logrus.Fields{
		"from":    msg.From,
		"to":      msg.To,
		"subject": msg.Subject,
		"tag":     msg.Tag,
	}).Info("Письмо не отправлено: MAIL_DRIVER=log")
	logrus.WithField("tag", msg.Tag).Debug(redactTokens(msg.Text))
	return nil
}
