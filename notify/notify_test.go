package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/liveport/crmsync/retry"
)

func TestSendDisabledWithoutWebhook(t *testing.T) {
	notifier := NewNotifier("", 5*time.Second)

	err := notifier.Send(context.Background(), Alert{Message: "ignored"})
	if err != nil {
		t.Errorf("disabled notifier should silently succeed, got %v", err)
	}

	var nilNotifier *Notifier
	if err := nilNotifier.Send(context.Background(), Alert{}); err != nil {
		t.Errorf("nil notifier should silently succeed, got %v", err)
	}
}

func TestSendPostsCard(t *testing.T) {
	var received map[string]interface{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("Content-Type = %q", r.Header.Get("Content-Type"))
		}
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Fatalf("failed to decode card: %v", err)
		}
	}))
	defer server.Close()

	notifier := NewNotifier(server.URL, 5*time.Second)
	err := notifier.Send(context.Background(), Alert{
		Category:  "sync",
		Severity:  SeverityError,
		ErrorType: "API failure",
		Message:   "Source API connectivity failed",
		Details:   map[string]interface{}{"status": 503},
	})
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	text, _ := received["text"].(string)
	if text != "CRM Sync Alert - API failure" {
		t.Errorf("card text = %q", text)
	}
	cards, _ := received["cards"].([]interface{})
	if len(cards) != 1 {
		t.Fatalf("expected 1 card, got %d", len(cards))
	}
	card, _ := cards[0].(map[string]interface{})
	sections, _ := card["sections"].([]interface{})
	// Main section plus the details section.
	if len(sections) != 2 {
		t.Errorf("expected 2 sections, got %d", len(sections))
	}
}

func TestSendRetriesTransientFailures(t *testing.T) {
	attempts := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
	}))
	defer server.Close()

	notifier := NewNotifier(server.URL, 5*time.Second)
	notifier.Policy = retry.Fixed(3, 0)
	notifier.Policy.Sleep = func(time.Duration) {}

	if err := notifier.Send(context.Background(), Alert{Message: "retry me"}); err != nil {
		t.Fatalf("expected retries to recover, got %v", err)
	}
	if attempts != 3 {
		t.Errorf("attempts = %d, want 3", attempts)
	}
}

func TestSendSurfacesPermanentFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	notifier := NewNotifier(server.URL, 5*time.Second)
	notifier.Policy = retry.Fixed(1, 0)

	if err := notifier.Send(context.Background(), Alert{Message: "bad card"}); err == nil {
		t.Error("expected error for 400 response")
	}
}

func TestSendFillsTimestamp(t *testing.T) {
	var received map[string]interface{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&received)
	}))
	defer server.Close()

	notifier := NewNotifier(server.URL, 5*time.Second)
	if err := notifier.Send(context.Background(), Alert{Message: "no timestamp"}); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if received == nil {
		t.Fatal("no card received")
	}
}

func TestTestRequiresWebhook(t *testing.T) {
	notifier := NewNotifier("", 5*time.Second)
	if err := notifier.Test(context.Background()); err == nil {
		t.Error("Test should fail without a webhook URL")
	}
}

func TestTestPostsConnectionCard(t *testing.T) {
	var received map[string]interface{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&received)
	}))
	defer server.Close()

	notifier := NewNotifier(server.URL, 5*time.Second)
	if err := notifier.Test(context.Background()); err != nil {
		t.Fatalf("Test failed: %v", err)
	}
	text, _ := received["text"].(string)
	if text == "" {
		t.Error("test card missing text")
	}
}
