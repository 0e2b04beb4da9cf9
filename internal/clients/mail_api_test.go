package clients

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMailAPIClientSend(t *testing.T) {
	var got OutgoingMail
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"id":"msg-1","status":"queued"}`))
	}))
	defer srv.Close()

	c := NewMailAPIClient(srv.URL+"/v1/", "secret")
	id, err := c.Send(context.Background(), OutgoingMail{From: "a@x", To: []string{"b@x"}, Subject: "Hi", Text: "body"})
	require.NoError(t, err)
	assert.Equal(t, "msg-1", id)
	assert.Equal(t, "Hi", got.Subject)
}

func TestMailAPIClientErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("plain") != "" {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"error":{"code":"bad_recipient","message":"unknown mailbox"}}`))
	}))
	defer srv.Close()

	c := NewMailAPIClient(srv.URL, "k")
	_, err := c.Send(context.Background(), OutgoingMail{To: []string{"b@x"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown mailbox")

	c.BaseURL = srv.URL + "/?plain=1&x="
	_, err = c.Send(context.Background(), OutgoingMail{To: []string{"b@x"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")

	_, err = c.Send(context.Background(), OutgoingMail{})
	assert.Error(t, err)
}
