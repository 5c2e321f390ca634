package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/syncforge/syncforge/internal/record"
)

const (
	// DefaultTimeout is the default timeout for upstream requests.
	DefaultTimeout = 30 * time.Second

	// MaxResponseSize is the maximum allowed response size (100MB)
	MaxResponseSize = 100 * 1024 * 1024

	// UserAgent is the user agent string for upstream requests
	UserAgent = "syncforge/1.0"
)

// HTTPError represents a non-200 response from the upstream API.
type HTTPError struct {
	StatusCode int
	URL        string
	Status     string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("upstream request to %s failed: %s", e.URL, e.Status)
}

// HTTPClient is the HTTP implementation of Client. It authenticates with an
// API key exchanged for a bearer token and transparently re-authenticates
// once when the token expires mid-cycle; everything else surfaces as a
// retryable error to the caller.
type HTTPClient struct {
	baseURL string
	apiKey  string
	client  *http.Client

	mu    sync.Mutex
	token string
}

// NewHTTPClient creates an upstream client for the given base URL. If
// timeout is 0, DefaultTimeout is used.
func NewHTTPClient(baseURL, apiKey string, timeout time.Duration) *HTTPClient {
	if timeout == 0 {
		timeout = DefaultTimeout
	}
	return &HTTPClient{
		baseURL: baseURL,
		apiKey:  apiKey,
		client: &http.Client{
			Timeout: timeout,
		},
	}
}

// Fetch retrieves all records of entityType matching the query.
func (c *HTTPClient) Fetch(ctx context.Context, entityType string, q Query) ([]record.Record, error) {
	body, err := c.get(ctx, c.collectionURL(entityType, q))
	if err != nil {
		return nil, err
	}

	var payload struct {
		Items []map[string]any `json:"items"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("failed to decode %s response: %w", entityType, err)
	}

	records := make([]record.Record, 0, len(payload.Items))
	for _, item := range payload.Items {
		records = append(records, record.Record(item))
	}
	return records, nil
}

// collectionURL builds the collection endpoint URL with query filters.
func (c *HTTPClient) collectionURL(entityType string, q Query) string {
	params := url.Values{}
	if !q.ModifiedSince.IsZero() {
		params.Set("modified_since", q.ModifiedSince.UTC().Format(time.RFC3339))
	}
	if len(q.Branches) > 0 {
		params.Set("branches", q.BranchParam())
	}
	if q.PageSize > 0 {
		params.Set("page_size", strconv.Itoa(q.PageSize))
	}
	if q.SortBy != "" {
		params.Set("sort", q.SortBy)
	}

	u := fmt.Sprintf("%s/v1/%s", c.baseURL, entityType)
	if encoded := params.Encode(); encoded != "" {
		u += "?" + encoded
	}
	return u
}

// get performs an authenticated GET, re-authenticating once on 401.
func (c *HTTPClient) get(ctx context.Context, requestURL string) ([]byte, error) {
	body, err := c.doGet(ctx, requestURL)

	var httpErr *HTTPError
	if errors.As(err, &httpErr) && httpErr.StatusCode == http.StatusUnauthorized {
		// Token expired; refresh and retry the request once.
		if authErr := c.authenticate(ctx); authErr != nil {
			return nil, fmt.Errorf("re-authentication failed: %w", authErr)
		}
		body, err = c.doGet(ctx, requestURL)
	}

	return body, err
}

func (c *HTTPClient) doGet(ctx context.Context, requestURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("User-Agent", UserAgent)
	req.Header.Set("Accept", "application/json")
	if token := c.currentToken(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute request: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return nil, &HTTPError{StatusCode: resp.StatusCode, URL: requestURL, Status: resp.Status}
	}

	if resp.ContentLength > MaxResponseSize {
		return nil, fmt.Errorf("response size %d bytes exceeds maximum allowed size of %d bytes",
			resp.ContentLength, MaxResponseSize)
	}

	// Read with a limit; +1 to detect when the limit was exceeded.
	limitedReader := io.LimitReader(resp.Body, MaxResponseSize+1)
	body, err := io.ReadAll(limitedReader)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	if int64(len(body)) > MaxResponseSize {
		return nil, fmt.Errorf("response size exceeds maximum allowed size of %d bytes", MaxResponseSize)
	}

	return body, nil
}

// authenticate exchanges the API key for a bearer token.
func (c *HTTPClient) authenticate(ctx context.Context) error {
	reqBody, err := json.Marshal(map[string]string{"api_key": c.apiKey})
	if err != nil {
		return fmt.Errorf("failed to encode auth request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/auth/token", bytes.NewReader(reqBody))
	if err != nil {
		return fmt.Errorf("failed to create auth request: %w", err)
	}
	req.Header.Set("User-Agent", UserAgent)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute auth request: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return &HTTPError{StatusCode: resp.StatusCode, URL: c.baseURL + "/v1/auth/token", Status: resp.Status}
	}

	var payload struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1024*1024)).Decode(&payload); err != nil {
		return fmt.Errorf("failed to decode auth response: %w", err)
	}
	if payload.Token == "" {
		return fmt.Errorf("auth response contained no token")
	}

	c.mu.Lock()
	c.token = payload.Token
	c.mu.Unlock()
	return nil
}

func (c *HTTPClient) currentToken() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.token
}
