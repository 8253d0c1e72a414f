// Package algolia is a small client for the hosted search index: keyed
// queries on behalf of a caller and throttled admin writes from the indexer.
package algolia

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
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/HammerMeetNail/friendlane/internal/logging"
	"github.com/HammerMeetNail/friendlane/internal/models"
)

const (
	defaultTimeout = 5 * time.Second
	maxErrorBody   = 1 << 10
)

var ErrNotConfigured = errors.New("algolia client not configured")

// StatusError is returned for non-2xx responses.
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("algolia: status %d", e.StatusCode)
	}
	return fmt.Sprintf("algolia: status %d: %s", e.StatusCode, e.Message)
}

type Config struct {
	AppID    string
	AdminKey string
	Index    string
	// HostURL replaces both the search and write hosts. Used for tests and
	// self-hosted proxies.
	HostURL  string
	WriteQPS float64
}

type Client struct {
	httpClient *http.Client
	appID      string
	adminKey   string
	index      string
	searchHost string
	writeHost  string
	writes     *rate.Limiter
	logger     *logging.Logger
}

func NewClient(httpClient *http.Client, cfg Config) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}
	searchHost := "https://" + cfg.AppID + "-dsn.algolia.net"
	writeHost := "https://" + cfg.AppID + ".algolia.net"
	if cfg.HostURL != "" {
		searchHost = strings.TrimRight(cfg.HostURL, "/")
		writeHost = searchHost
	}
	qps := cfg.WriteQPS
	if qps <= 0 {
		qps = 10
	}
	return &Client{
		httpClient: httpClient,
		appID:      cfg.AppID,
		adminKey:   cfg.AdminKey,
		index:      cfg.Index,
		searchHost: searchHost,
		writeHost:  writeHost,
		writes:     rate.NewLimiter(rate.Limit(qps), 1),
		logger:     logging.Default,
	}
}

func (c *Client) SetLogger(logger *logging.Logger) {
	if logger != nil {
		c.logger = logger
	}
}

type searchRequest struct {
	Params string `json:"params"`
}

type searchResponse struct {
	Hits []struct {
		ObjectID string `json:"objectID"`
	} `json:"hits"`
}

// Search runs query with the caller's secured key. Hits are returned in
// ranked order.
func (c *Client) Search(ctx context.Context, key models.SecuredKey, query string, limit int) ([]models.SearchHit, error) {
	if c.appID == "" || c.index == "" {
		return nil, ErrNotConfigured
	}
	if key.Key == "" {
		return nil, errors.New("algolia: empty search key")
	}

	params := url.Values{}
	params.Set("query", query)
	params.Set("hitsPerPage", strconv.Itoa(limit))
	params.Set("attributesToRetrieve", "objectID")
	body, err := json.Marshal(searchRequest{Params: params.Encode()})
	if err != nil {
		return nil, fmt.Errorf("encoding search request: %w", err)
	}

	endpoint := c.searchHost + "/1/indexes/" + url.PathEscape(c.index) + "/query"
	var resp searchResponse
	if err := c.do(ctx, http.MethodPost, endpoint, key.Key, body, &resp); err != nil {
		return nil, err
	}

	hits := make([]models.SearchHit, 0, len(resp.Hits))
	for i, h := range resp.Hits {
		hits = append(hits, models.SearchHit{ObjectID: h.ObjectID, Rank: i})
	}
	return hits, nil
}

// SaveObject creates or replaces the record under its objectID.
func (c *Client) SaveObject(ctx context.Context, record models.IndexRecord) error {
	if record.ObjectID == "" {
		return errors.New("algolia: record without objectID")
	}
	body, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encoding index record: %w", err)
	}
	return c.write(ctx, http.MethodPut, record.ObjectID, body)
}

// DeleteObject removes objectID. Deleting a missing record succeeds.
func (c *Client) DeleteObject(ctx context.Context, objectID string) error {
	if objectID == "" {
		return errors.New("algolia: empty objectID")
	}
	err := c.write(ctx, http.MethodDelete, objectID, nil)
	var statusErr *StatusError
	if errors.As(err, &statusErr) && statusErr.StatusCode == http.StatusNotFound {
		return nil
	}
	return err
}

func (c *Client) write(ctx context.Context, method, objectID string, body []byte) error {
	if c.appID == "" || c.index == "" || c.adminKey == "" {
		return ErrNotConfigured
	}
	if err := c.writes.Wait(ctx); err != nil {
		return fmt.Errorf("waiting for write slot: %w", err)
	}
	endpoint := c.writeHost + "/1/indexes/" + url.PathEscape(c.index) + "/" + url.PathEscape(objectID)
	return c.do(ctx, method, endpoint, c.adminKey, body, nil)
}

func (c *Client) do(ctx context.Context, method, endpoint, apiKey string, body []byte, out any) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("building algolia request: %w", err)
	}
	req.Header.Set("X-Algolia-Application-Id", c.appID)
	req.Header.Set("X-Algolia-API-Key", apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warn("Algolia request failed", map[string]interface{}{
			"method": method,
			"error":  err.Error(),
		})
		return fmt.Errorf("algolia request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		var apiErr struct {
			Message string `json:"message"`
		}
		_ = json.Unmarshal(data, &apiErr)
		return &StatusError{StatusCode: resp.StatusCode, Message: apiErr.Message}
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding algolia response: %w", err)
	}
	return nil
}
