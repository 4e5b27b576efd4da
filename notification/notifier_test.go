package notification

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-resty/resty/v2"
	"github.com/stretchr/testify/require"
)

func TestWebhookNotifier_Posts_Payload(t *testing.T) {
	req := require.New(t)
	var received webhookPayload
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&received)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	notifier := NewWebhookNotifier(resty.New(), server.URL)

	err := notifier.Notify(context.Background(), "bob", "hello", "https://app/conversations/c1#1")

	req.NoError(err)
	req.Equal(webhookPayload{Target: "bob", Preview: "hello", DeepLink: "https://app/conversations/c1#1"}, received)
}

func TestWebhookNotifier_Error_Status_Fails(t *testing.T) {
	req := require.New(t)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	err := NewWebhookNotifier(resty.New(), server.URL).Notify(context.Background(), "bob", "hi", "link")

	req.Error(err)
	req.Contains(err.Error(), "503")
}
