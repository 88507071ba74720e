package workpointsync

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// Client talks to the WorkPoint practice-management API. It satisfies
// SourceReader and owns pagination: callers always receive the fully
// materialized record set for a window, because orphan detection needs the
// whole set.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	limiter <-chan time.Time
	now     func() time.Time

	session Session
}

func NewClient(apiKey string) (*Client, error) {
	baseURL := strings.TrimSpace(os.Getenv("WORKPOINT_API_BASE_URL"))
	if baseURL == "" {
		baseURL = "https://api.workpoint.io"
	}
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("workpoint api key is empty")
	}
	rateLimitPerMin := int64(30)
	if v := strings.TrimSpace(os.Getenv("WORKPOINT_RATE_LIMIT_PER_MIN")); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			rateLimitPerMin = n
		}
	}
	interval := time.Minute / time.Duration(rateLimitPerMin)

	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		http:    &http.Client{Timeout: 30 * time.Second},
		limiter: time.Tick(interval),
		now:     time.Now,
	}, nil
}

type sessionResponse struct {
	Token     string `json:"token"`
	ExpiresAt string `json:"expires_at"`
	ExpiresIn int64  `json:"expires_in"`
}

func (c *Client) acquireSession(ctx context.Context) (Session, error) {
	<-c.limiter
	body, _ := json.Marshal(map[string]string{"api_key": c.apiKey})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/sessions", bytes.NewReader(body))
	if err != nil {
		return Session{}, fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return Session{}, fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Session{}, fmt.Errorf("%w: session request failed %d: %s",
			ErrSourceUnavailable, resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	var parsed sessionResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return Session{}, fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
	}
	if parsed.Token == "" {
		return Session{}, fmt.Errorf("%w: session response has no token", ErrSourceUnavailable)
	}

	expiresAt := c.now().Add(15 * time.Minute)
	if parsed.ExpiresIn > 0 {
		expiresAt = c.now().Add(time.Duration(parsed.ExpiresIn) * time.Second)
	} else if t, err := time.Parse(time.RFC3339, parsed.ExpiresAt); err == nil {
		expiresAt = t
	}
	return Session{Token: parsed.Token, ExpiresAt: expiresAt}, nil
}

// ReleaseSession invalidates the client's current token upstream and clears
// it locally. Best effort: WorkPoint expires tokens on its own anyway.
func (c *Client) ReleaseSession(ctx context.Context) {
	if c.session.Token == "" {
		return
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.baseURL+"/v1/sessions/current", nil)
	if err != nil {
		return
	}
	req.Header.Set("Authorization", "Bearer "+c.session.Token)
	c.session = Session{}
	resp, err := c.http.Do(req)
	if err != nil {
		return
	}
	resp.Body.Close()
}

type listResponse struct {
	Data       []json.RawMessage `json:"data"`
	Items      []json.RawMessage `json:"items"`
	NextCursor string            `json:"next_cursor"`
	HasMore    *bool             `json:"has_more"`
}

// FetchDevRecords lists billable usage entries for the organization inside
// [start, end], following cursors until exhausted. A row that cannot be
// normalized fails the whole fetch: reconciliation over a partial set would
// misclassify orphans.
func (c *Client) FetchDevRecords(ctx context.Context, organizationId string, start, end time.Time) ([]DevRecord, error) {
	session, err := c.EnsureValidSession(ctx, c.session)
	if err != nil {
		return nil, err
	}
	c.session = session

	recordsPath := strings.TrimSpace(os.Getenv("WORKPOINT_DEV_RECORDS_PATH"))
	if recordsPath == "" {
		recordsPath = "/v1/dev-records"
	}

	var (
		records []DevRecord
		cursor  string
	)
	for {
		params := url.Values{}
		params.Set("organization_id", organizationId)
		params.Set("date_from", start.UTC().Format("2006-01-02"))
		params.Set("date_to", end.UTC().Format("2006-01-02"))
		params.Set("limit", "200")
		if cursor != "" {
			params.Set("cursor", cursor)
		}

		resp, err := c.getList(ctx, session, recordsPath, params)
		if err != nil {
			return nil, err
		}

		items := resp.Data
		if len(items) == 0 {
			items = resp.Items
		}

		for _, raw := range items {
			var wire workPointDevRecord
			if err := json.Unmarshal(raw, &wire); err != nil {
				return nil, fmt.Errorf("%w: %v", ErrSourceFormat, err)
			}
			rec, err := normalizeDevRecord(wire)
			if err != nil {
				return nil, err
			}
			if rec.OrganizationId == "" {
				rec.OrganizationId = organizationId
			}
			records = append(records, rec)
		}

		if resp.NextCursor == "" || (resp.HasMore != nil && !*resp.HasMore) {
			return records, nil
		}
		cursor = resp.NextCursor
	}
}

func (c *Client) getList(ctx context.Context, session Session, path string, params url.Values) (listResponse, error) {
	<-c.limiter
	endpoint := c.baseURL + path
	if len(params) > 0 {
		endpoint = endpoint + "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return listResponse{}, fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
	}
	req.Header.Set("Authorization", "Bearer "+session.Token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return listResponse{}, fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return listResponse{}, fmt.Errorf("%w: workpoint api error %d: %s",
			ErrSourceUnavailable, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var parsed listResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return listResponse{}, fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
	}
	return parsed, nil
}
