package notify_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/sitewatch/monitor/internal/notify"
)

type testPayload struct {
	EventType string `json:"eventType"`
	URL       string `json:"url"`
}

func TestWebhookSend_PostsJSON(t *testing.T) {
	var (
		gotBody        testPayload
		gotContentType string
		gotDeliveryID  string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		gotContentType = r.Header.Get("Content-Type")
		gotDeliveryID = r.Header.Get("X-Delivery-Id")
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	sender := notify.NewWebhookSender()
	err := sender.Send(context.Background(), srv.URL,
		testPayload{EventType: "AlertDown", URL: "https://example.com"})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}

	if gotContentType != "application/json" {
		t.Errorf("Content-Type = %q", gotContentType)
	}
	if gotDeliveryID == "" {
		t.Error("X-Delivery-Id header missing")
	}
	if gotBody.EventType != "AlertDown" || gotBody.URL != "https://example.com" {
		t.Errorf("body = %+v", gotBody)
	}
}

func TestWebhookSend_Non2xxIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "broken pipe downstream", http.StatusBadGateway)
	}))
	defer srv.Close()

	err := notify.NewWebhookSender().Send(context.Background(), srv.URL, testPayload{})
	if !errors.Is(err, notify.ErrWebhookFailure) {
		t.Fatalf("Send = %v, want ErrWebhookFailure", err)
	}
	if !strings.Contains(err.Error(), "502") || !strings.Contains(err.Error(), "broken pipe downstream") {
		t.Errorf("error %q should carry status and body snippet", err)
	}
}

func TestWebhookSend_ConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	err := notify.NewWebhookSender().Send(context.Background(), url, testPayload{})
	if !errors.Is(err, notify.ErrWebhookFailure) {
		t.Errorf("Send = %v, want ErrWebhookFailure", err)
	}
}

func TestWebhookSend_UnmarshalablePayload(t *testing.T) {
	err := notify.NewWebhookSender().Send(context.Background(), "http://unused.invalid", make(chan int))
	if !errors.Is(err, notify.ErrWebhookFailure) {
		t.Errorf("Send = %v, want ErrWebhookFailure", err)
	}
}
