package dest

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/liveport/crmsync/errs"
	"github.com/liveport/crmsync/retry"
)

// High per-minute rate so the limiter never stalls a test.
func newTestClient(serverURL string) *Client {
	return NewClient(serverURL, "test-token", 5*time.Second, retry.Fixed(1, 0), 60000, time.Minute)
}

func TestFindContactByExternalKeyMatchesAttribute(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Api-Access-Token") != "test-token" {
			t.Errorf("missing Api-Access-Token header")
		}
		if r.URL.Path != "/contacts/search" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.URL.Query().Get("q") != "org-42" {
			t.Errorf("q = %q, want org-42", r.URL.Query().Get("q"))
		}
		fmt.Fprint(w, `{"payload": [
			{"id": 7, "name": "Stale Match", "custom_attributes": {"external_key": "org-41"}},
			{"id": 9, "name": "Acme", "custom_attributes": {"external_key": "org-42"}}
		]}`)
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	ref, err := client.FindContactByExternalKey(context.Background(), "org-42")
	if err != nil {
		t.Fatalf("FindContactByExternalKey failed: %v", err)
	}
	if ref == nil || ref.ID != 9 {
		t.Errorf("expected contact 9, got %+v", ref)
	}
}

func TestFindContactByExternalKeyNoMatch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// A text search can return near misses; none carry the key.
		fmt.Fprint(w, `{"payload": [{"id": 7, "name": "Acme", "custom_attributes": {}}]}`)
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	ref, err := client.FindContactByExternalKey(context.Background(), "org-42")
	if err != nil {
		t.Fatalf("FindContactByExternalKey failed: %v", err)
	}
	if ref != nil {
		t.Errorf("expected nil for no key match, got %+v", ref)
	}
}

func TestCreateContact(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/contacts" {
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		}

		var payload ContactPayload
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Fatalf("failed to decode payload: %v", err)
		}
		if payload.CustomAttributes[ExternalKeyAttribute] != "org-42" {
			t.Errorf("payload missing external key: %+v", payload.CustomAttributes)
		}

		fmt.Fprint(w, `{"payload": {"contact": {"id": 55, "name": "Acme"}}}`)
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	ref, err := client.CreateContact(context.Background(), ContactPayload{
		Name:             "Acme",
		CustomAttributes: map[string]interface{}{ExternalKeyAttribute: "org-42"},
	})
	if err != nil {
		t.Fatalf("CreateContact failed: %v", err)
	}
	if ref.ID != 55 {
		t.Errorf("expected contact 55, got %d", ref.ID)
	}
}

func TestCreateContactRejectsMissingID(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"payload": {"contact": {}}}`)
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	_, err := client.CreateContact(context.Background(), ContactPayload{Name: "Acme"})
	if !errs.IsData(err) {
		t.Errorf("expected data error for response without id, got %v", err)
	}
}

func TestUpdateContact(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut || r.URL.Path != "/contacts/9" {
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		}
		fmt.Fprint(w, `{}`)
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	ref, err := client.UpdateContact(context.Background(), &ContactRef{ID: 9}, ContactPayload{Name: "Acme Renamed"})
	if err != nil {
		t.Fatalf("UpdateContact failed: %v", err)
	}
	if ref.ID != 9 || ref.Name != "Acme Renamed" {
		t.Errorf("unexpected ref %+v", ref)
	}
}

func TestRateLimitCooldownRetry(t *testing.T) {
	attempts := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		fmt.Fprint(w, `{"payload": []}`)
	}))
	defer server.Close()

	var slept []time.Duration
	client := newTestClient(server.URL)
	client.Cooldown = time.Minute
	client.Sleep = func(d time.Duration) { slept = append(slept, d) }

	ref, err := client.FindContactByExternalKey(context.Background(), "org-1")
	if err != nil {
		t.Fatalf("expected cool-down retry to recover, got %v", err)
	}
	if ref != nil {
		t.Errorf("expected no match, got %+v", ref)
	}
	if attempts != 2 {
		t.Errorf("expected exactly 2 attempts, got %d", attempts)
	}
	if len(slept) != 1 || slept[0] != time.Minute {
		t.Errorf("expected one cool-down sleep of 1m, got %v", slept)
	}
}

func TestRateLimitSurfacesAfterSecondThrottle(t *testing.T) {
	attempts := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	client.Sleep = func(time.Duration) {}

	_, err := client.FindContactByExternalKey(context.Background(), "org-1")
	if !errs.IsRateLimit(err) {
		t.Fatalf("expected rate-limit error, got %v", err)
	}
	// One original call plus one post-cool-down retry, no more.
	if attempts != 2 {
		t.Errorf("expected exactly 2 attempts, got %d", attempts)
	}
}

func TestAuthFailureIsNeverRetried(t *testing.T) {
	attempts := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusForbidden)
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	client.Policy = retry.Fixed(5, 0)
	client.Sleep = func(time.Duration) { t.Fatal("should not cool down on auth failure") }

	_, err := client.FindContactByExternalKey(context.Background(), "org-1")
	if !errs.IsAuth(err) {
		t.Fatalf("expected auth error, got %v", err)
	}
	if attempts != 1 {
		t.Errorf("expected 1 attempt, got %d", attempts)
	}
}

func TestListInboxes(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"payload": [{"id": 3, "name": "Customer Database"}, {"id": 4, "name": "Website"}]}`)
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	inboxes, err := client.ListInboxes(context.Background())
	if err != nil {
		t.Fatalf("ListInboxes failed: %v", err)
	}
	if len(inboxes) != 2 || inboxes[0].Name != "Customer Database" {
		t.Errorf("unexpected inboxes %+v", inboxes)
	}
}

func TestAssignContactToInbox(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/contacts/9/contact_inboxes" {
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		}

		var body map[string]interface{}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("failed to decode body: %v", err)
		}
		if body["source_id"] != "crm_org-42" {
			t.Errorf("source_id = %v", body["source_id"])
		}
		fmt.Fprint(w, `{}`)
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	err := client.AssignContactToInbox(context.Background(), &ContactRef{ID: 9}, 3, "crm_org-42")
	if err != nil {
		t.Fatalf("AssignContactToInbox failed: %v", err)
	}
}

func TestCountContacts(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"meta": {"count": 321}, "payload": []}`)
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	count, err := client.CountContacts(context.Background())
	if err != nil {
		t.Fatalf("CountContacts failed: %v", err)
	}
	if count != 321 {
		t.Errorf("count = %d, want 321", count)
	}
}
