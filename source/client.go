// ABOUTME: CRM API client with transparent pagination
// ABOUTME: Fetches organizations and persons, mapping failures to the error taxonomy
package source

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/liveport/crmsync/errs"
	"github.com/liveport/crmsync/models"
	"github.com/liveport/crmsync/retry"
)

const defaultPageSize = 100

// Client talks to the CRM API. Fetches paginate transparently; a mid-fetch
// failure restarts from page 1 on the next run rather than resuming.
type Client struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
	Policy     retry.Policy
	PageSize   int

	// PageDelay spaces page requests to stay friendly to the CRM's own
	// rate limits. Sleep is injectable for tests.
	PageDelay time.Duration
	Sleep     func(time.Duration)
}

func NewClient(baseURL, apiKey string, timeout time.Duration, policy retry.Policy) *Client {
	return &Client{
		BaseURL:    baseURL,
		APIKey:     apiKey,
		HTTPClient: &http.Client{Timeout: timeout},
		Policy:     policy,
		PageSize:   defaultPageSize,
		PageDelay:  time.Second,
	}
}

// FetchOrganizations returns all canonical organizations matching the
// predicate, updated at or after since when a window is given. The second
// return value counts malformed records that were skipped.
func (c *Client) FetchOrganizations(ctx context.Context, since *time.Time, keep LabelPredicate) ([]models.Organization, int, error) {
	var organizations []models.Organization
	skipped := 0
	page := 0

	err := c.fetchPages(ctx, "/organizations", func(raw json.RawMessage) {
		org, err := convertOrganization(raw)
		if err != nil {
			skipped++
			log.WithError(err).Warn("skipping malformed organization record")
			return
		}
		if !keep(org.Status) {
			return
		}
		if since != nil && org.SourceUpdated != nil && org.SourceUpdated.Before(*since) {
			return
		}
		organizations = append(organizations, *org)
	}, &page)
	if err != nil {
		return nil, skipped, err
	}

	log.WithFields(log.Fields{
		"count": len(organizations),
		"pages": page,
	}).Info("fetched organizations from source")

	return organizations, skipped, nil
}

// FetchPersons returns all canonical persons matching the predicate.
func (c *Client) FetchPersons(ctx context.Context, since *time.Time, keep LabelPredicate) ([]models.Person, int, error) {
	var persons []models.Person
	skipped := 0
	page := 0

	err := c.fetchPages(ctx, "/persons", func(raw json.RawMessage) {
		person, err := convertPerson(raw)
		if err != nil {
			skipped++
			log.WithError(err).Warn("skipping malformed person record")
			return
		}
		if !keep(person.Status) {
			return
		}
		if since != nil && person.SourceUpdated != nil && person.SourceUpdated.Before(*since) {
			return
		}
		persons = append(persons, *person)
	}, &page)
	if err != nil {
		return nil, skipped, err
	}

	log.WithFields(log.Fields{
		"count": len(persons),
		"pages": page,
	}).Info("fetched persons from source")

	return persons, skipped, nil
}

// Ping verifies connectivity and credentials with a minimal request.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.getPage(ctx, "/organizations", 0, 1)
	return err
}

// CountOrganizations reports the collection total the CRM advertises, used
// by the monitor to detect source/mirror discrepancies.
func (c *Client) CountOrganizations(ctx context.Context) (int, error) {
	env, err := c.getPage(ctx, "/organizations", 0, 1)
	if err != nil {
		return 0, err
	}
	return env.AdditionalData.Pagination.TotalCount, nil
}

// fetchPages walks the collection start-by-start, handing each raw record to
// visit. Cancellation is honored between pages.
func (c *Client) fetchPages(ctx context.Context, path string, visit func(json.RawMessage), pages *int) error {
	sleep := c.Sleep
	if sleep == nil {
		sleep = time.Sleep
	}

	start := 0
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		env, err := c.getPage(ctx, path, start, c.pageSize())
		if err != nil {
			return err
		}
		*pages++

		for _, raw := range env.Data {
			visit(raw)
		}

		if !env.AdditionalData.Pagination.MoreItemsInCollection {
			return nil
		}
		next := env.AdditionalData.Pagination.NextStart
		if next <= start {
			next = start + c.pageSize()
		}
		start = next

		if c.PageDelay > 0 {
			sleep(c.PageDelay)
		}
	}
}

func (c *Client) getPage(ctx context.Context, path string, start, limit int) (*envelope, error) {
	op := "source GET " + path

	params := url.Values{}
	params.Set("api_token", c.APIKey)
	params.Set("start", strconv.Itoa(start))
	params.Set("limit", strconv.Itoa(limit))

	var env envelope
	err := c.Policy.Do(ctx, op, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+path+"?"+params.Encode(), nil)
		if err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}

		resp, err := c.HTTPClient.Do(req)
		if err != nil {
			return &errs.TransientError{Op: op, Err: err}
		}
		defer func() { _ = resp.Body.Close() }()

		if resp.StatusCode != http.StatusOK {
			return errs.FromStatus(op, resp.StatusCode)
		}

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return &errs.TransientError{Op: op, Err: err}
		}

		env = envelope{}
		if err := json.Unmarshal(body, &env); err != nil {
			return &errs.DataError{Op: op, Err: err}
		}
		if !env.Success {
			return &errs.DataError{Op: op, Err: fmt.Errorf("API reported failure")}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return &env, nil
}

func (c *Client) pageSize() int {
	if c.PageSize > 0 {
		return c.PageSize
	}
	return defaultPageSize
}
