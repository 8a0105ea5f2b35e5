// ABOUTME: Support-platform API client for contact upserts
// ABOUTME: Serializes calls under a rate limiter with a single 429 cool-down retry
package dest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/liveport/crmsync/errs"
	"github.com/liveport/crmsync/retry"
)

// ExternalKeyAttribute is the custom attribute that carries the CRM natural
// key on every contact we create. It is what makes repeated pushes land on
// the same contact instead of creating duplicates.
const ExternalKeyAttribute = "external_key"

// ContactRef identifies a contact in the destination.
type ContactRef struct {
	ID   int64
	Name string
}

// ContactPayload is the destination-facing contact representation.
type ContactPayload struct {
	Name             string                 `json:"name"`
	PhoneNumber      *string                `json:"phone_number"`
	Email            *string                `json:"email,omitempty"`
	CustomAttributes map[string]interface{} `json:"custom_attributes"`
}

// Inbox is a destination conversation inbox.
type Inbox struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// Client talks to the support platform. All calls wait on the limiter, so
// pushes stay serialized and under the configured request rate. The client
// never deletes a destination contact.
type Client struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
	Policy     retry.Policy

	// Cooldown is how long to sleep after a 429 before the single retry.
	Cooldown time.Duration
	Sleep    func(time.Duration)

	limiter *rate.Limiter
}

func NewClient(baseURL, apiKey string, timeout time.Duration, policy retry.Policy, perMinute int, cooldown time.Duration) *Client {
	return &Client{
		BaseURL:    baseURL,
		APIKey:     apiKey,
		HTTPClient: &http.Client{Timeout: timeout},
		Policy:     policy,
		Cooldown:   cooldown,
		limiter:    rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), 1),
	}
}

// wireContact is the destination's contact shape, shared by search results
// and create responses.
type wireContact struct {
	ID               int64                  `json:"id"`
	Name             string                 `json:"name"`
	CustomAttributes map[string]interface{} `json:"custom_attributes"`
}

// FindContactByExternalKey searches the destination and matches on the
// external-key custom attribute. Returns nil when no contact carries the key.
func (c *Client) FindContactByExternalKey(ctx context.Context, key string) (*ContactRef, error) {
	body, err := c.do(ctx, http.MethodGet, "/contacts/search?q="+url.QueryEscape(key), nil)
	if err != nil {
		return nil, err
	}

	var result struct {
		Payload []wireContact `json:"payload"`
		Data    []wireContact `json:"data"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, &errs.DataError{Op: "search contacts", Err: err}
	}

	contacts := result.Payload
	if len(contacts) == 0 {
		contacts = result.Data
	}

	for _, contact := range contacts {
		if attributeString(contact.CustomAttributes, ExternalKeyAttribute) == key {
			return &ContactRef{ID: contact.ID, Name: contact.Name}, nil
		}
	}

	return nil, nil
}

// CreateContact creates a new destination contact and returns its reference.
func (c *Client) CreateContact(ctx context.Context, payload ContactPayload) (*ContactRef, error) {
	body, err := c.do(ctx, http.MethodPost, "/contacts", payload)
	if err != nil {
		return nil, err
	}

	var result struct {
		Payload struct {
			Contact wireContact `json:"contact"`
		} `json:"payload"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, &errs.DataError{Op: "create contact", Err: err}
	}
	if result.Payload.Contact.ID == 0 {
		return nil, &errs.DataError{Op: "create contact", Err: fmt.Errorf("response missing contact id")}
	}

	return &ContactRef{ID: result.Payload.Contact.ID, Name: result.Payload.Contact.Name}, nil
}

// UpdateContact overwrites an existing contact in place.
func (c *Client) UpdateContact(ctx context.Context, ref *ContactRef, payload ContactPayload) (*ContactRef, error) {
	_, err := c.do(ctx, http.MethodPut, "/contacts/"+strconv.FormatInt(ref.ID, 10), payload)
	if err != nil {
		return nil, err
	}
	return &ContactRef{ID: ref.ID, Name: payload.Name}, nil
}

// ListInboxes returns the destination's conversation inboxes.
func (c *Client) ListInboxes(ctx context.Context) ([]Inbox, error) {
	body, err := c.do(ctx, http.MethodGet, "/inboxes", nil)
	if err != nil {
		return nil, err
	}

	var result struct {
		Payload []Inbox `json:"payload"`
		Data    []Inbox `json:"data"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, &errs.DataError{Op: "list inboxes", Err: err}
	}

	if len(result.Payload) > 0 {
		return result.Payload, nil
	}
	return result.Data, nil
}

// AssignContactToInbox links a contact to an inbox so it is visible in the
// support interface.
func (c *Client) AssignContactToInbox(ctx context.Context, ref *ContactRef, inboxID int64, sourceID string) error {
	path := "/contacts/" + strconv.FormatInt(ref.ID, 10) + "/contact_inboxes"
	_, err := c.do(ctx, http.MethodPost, path, map[string]interface{}{
		"inbox_id":  inboxID,
		"source_id": sourceID,
	})
	return err
}

// Ping verifies connectivity and the API token.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.do(ctx, http.MethodGet, "/profile", nil)
	return err
}

// CountContacts reports the destination's total contact count.
func (c *Client) CountContacts(ctx context.Context) (int, error) {
	body, err := c.do(ctx, http.MethodGet, "/contacts?page=1&per_page=1", nil)
	if err != nil {
		return 0, err
	}

	var result struct {
		Meta struct {
			Count int `json:"count"`
		} `json:"meta"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return 0, &errs.DataError{Op: "count contacts", Err: err}
	}

	return result.Meta.Count, nil
}

// do performs one API call: wait for the limiter, run with the retry policy
// for transient failures, and on a rate-limit response sleep the cool-down
// and retry the same call once before surfacing RateLimitError.
func (c *Client) do(ctx context.Context, method, path string, payload interface{}) ([]byte, error) {
	body, err := c.doOnce(ctx, method, path, payload)
	if err == nil || !errs.IsRateLimit(err) {
		return body, err
	}

	log.WithFields(log.Fields{
		"method":   method,
		"path":     path,
		"cooldown": c.Cooldown.String(),
	}).Warn("destination rate limited, cooling down")

	sleep := c.Sleep
	if sleep == nil {
		sleep = time.Sleep
	}
	sleep(c.Cooldown)

	return c.doOnce(ctx, method, path, payload)
}

func (c *Client) doOnce(ctx context.Context, method, path string, payload interface{}) ([]byte, error) {
	op := "dest " + method + " " + path

	var requestBody []byte
	if payload != nil {
		var err error
		requestBody, err = json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
	}

	var responseBody []byte
	err := c.Policy.Do(ctx, op, func() error {
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return err
			}
		}

		var reader io.Reader
		if requestBody != nil {
			reader = bytes.NewReader(requestBody)
		}

		req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reader)
		if err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		req.Header.Set("Api-Access-Token", c.APIKey)
		if requestBody != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.HTTPClient.Do(req)
		if err != nil {
			return &errs.TransientError{Op: op, Err: err}
		}
		defer func() { _ = resp.Body.Close() }()

		if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
			return errs.FromStatus(op, resp.StatusCode)
		}

		responseBody, err = io.ReadAll(resp.Body)
		if err != nil {
			return &errs.TransientError{Op: op, Err: err}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return responseBody, nil
}

func attributeString(attributes map[string]interface{}, key string) string {
	value, ok := attributes[key]
	if !ok {
		return ""
	}
	switch v := value.(type) {
	case string:
		return v
	case float64:
		return strconv.FormatInt(int64(v), 10)
	default:
		return fmt.Sprintf("%v", v)
	}
}
