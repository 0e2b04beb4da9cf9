package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// MailAPIClient отправляет письма через HTTP API почтового релея.
type MailAPIClient struct {
	APIKey  string
	BaseURL string
	Client  *http.Client
}

func NewMailAPIClient(baseURL, apiKey string) *MailAPIClient {
	return &MailAPIClient{
		APIKey:  apiKey,
		BaseURL: strings.TrimRight(baseURL, "/") + "/",
		Client:  &http.Client{Timeout: 15 * time.Second},
	}
}

type MailAPIError struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// OutgoingMail is the relay payload.
type OutgoingMail struct {
	From    string   `json:"from"`
	To      []string `json:"to"`
	Subject string   `json:"subject"`
	Text    string   `json:"text"`
	HTML    string   `json:"html,omitempty"`
	Tag     string   `json:"tag,omitempty"`
}

type SendResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// makeRequest выполняет POST-запрос к API и декодирует ответ.
func (c *MailAPIClient) makeRequest(ctx context.Context, method string, payload any, response any) error {
	fullURL := c.BaseURL + method

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, fullURL, bytes.NewReader(body))
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"method": method,
			"url":    fullURL,
			"error":  err,
		}).Error("Не удалось создать HTTP-запрос")
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.APIKey)

	resp, err := c.Client.Do(req)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"method": method,
			"url":    fullURL,
			"error":  err,
		}).Error("Ошибка выполнения запроса к почтовому API")
		return fmt.Errorf("mail api call: %w", err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			logrus.WithFields(logrus.Fields{
				"method": method,
				"url":    fullURL,
				"error":  err,
			}).Warning("Не удалось закрыть тело ответа")
		}
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		var apiErr MailAPIError
		if json.Unmarshal(bodyBytes, &apiErr) == nil && apiErr.Error.Message != "" {
			logrus.WithFields(logrus.Fields{
				"method":     method,
				"url":        fullURL,
				"error_code": apiErr.Error.Code,
				"error_msg":  apiErr.Error.Message,
			}).Error("Почтовый API вернул ошибку")
			return fmt.Errorf("mail api error %s: %s", apiErr.Error.Code, apiErr.Error.Message)
		}
		logrus.WithFields(logrus.Fields{
			"method":      method,
			"url":         fullURL,
			"status_code": resp.StatusCode,
			"body":        string(bodyBytes),
		}).Error("Неправильный статус код от почтового API")
		return fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	if response == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(response); err != nil {
		logrus.WithFields(logrus.Fields{
			"method": method,
			"url":    fullURL,
			"error":  err,
		}).Error("Ошибка декодирования JSON ответа почтового API")
		return fmt.Errorf("json decode: %w", err)
	}
	return nil
}

// Send отправляет одно письмо и возвращает идентификатор релея.
func (c *MailAPIClient) Send(ctx context.Context, mail OutgoingMail) (string, error) {
	if len(mail.To) == 0 {
		return "", fmt.Errorf("mail has no recipients")
	}
	var response SendResponse
	if err := c.makeRequest(ctx, "messages", mail, &response); err != nil {
		return "", err
	}
	logrus.WithFields(logrus.Fields{
		"id":      response.ID,
		"status":  response.Status,
		"to":      strings.Join(mail.To, ","),
		"subject": mail.Subject,
	}).Debug("Письмо принято почтовым API")
	return response.ID, nil
}
