// Package apify is a minimal client for the Apify actor API: start a run,
// read its state, and page through its default dataset.
package apify

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

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"
)

const (
	defaultBaseURL  = "https://api.apify.com/v2"
	defaultPageSize = 1000
)

// Run states reported by Apify.
const (
	StatusReady     = "READY"
	StatusRunning   = "RUNNING"
	StatusSucceeded = "SUCCEEDED"
	StatusFailed    = "FAILED"
	StatusTimingOut = "TIMING-OUT"
	StatusTimedOut  = "TIMED-OUT"
	StatusAborting  = "ABORTING"
	StatusAborted   = "ABORTED"
)

// Client defines the Apify API operations used by the scraper adapters.
type Client interface {
	StartRun(ctx context.Context, actorID string, input any, opts RunOptions) (*RunInfo, error)
	GetRun(ctx context.Context, runID string) (*RunInfo, error)
	GetDatasetItems(ctx context.Context, datasetID string) ([]json.RawMessage, error)
}

// RunOptions are optional query parameters for starting an actor run.
type RunOptions struct {
	MemoryMB    int
	TimeoutSecs int
}

// RunInfo is the actor run object returned by the runs endpoints.
type RunInfo struct {
	ID               string     `json:"id"`
	ActID            string     `json:"actId"`
	Status           string     `json:"status"`
	StatusMessage    string     `json:"statusMessage,omitempty"`
	StartedAt        time.Time  `json:"startedAt"`
	FinishedAt       *time.Time `json:"finishedAt,omitempty"`
	DefaultDatasetID string     `json:"defaultDatasetId"`
	UsageTotalUSD    float64    `json:"usageTotalUsd"`
	Usage            UsageStats `json:"usage"`
}

// UsageStats is the resource breakdown Apify attaches to a run.
type UsageStats struct {
	ComputeUnits       float64 `json:"ACTOR_COMPUTE_UNITS"`
	DatasetReads       float64 `json:"DATASET_READS"`
	DatasetWrites      float64 `json:"DATASET_WRITES"`
	ProxyResidentialGB float64 `json:"PROXY_RESIDENTIAL_TRANSFER_GBYTES"`
	ProxySerps         float64 `json:"PROXY_SERPS"`
}

type envelope struct {
	Data RunInfo `json:"data"`
}

// APIError is returned when Apify responds with a non-2xx status.
type APIError struct {
	StatusCode int
	Body       string
	RetryAfter time.Duration
}

func (e *APIError) Error() string {
	return fmt.Sprintf("apify: HTTP %d: %s", e.StatusCode, e.Body)
}

// Option configures the httpClient.
type Option func(*httpClient)

// WithBaseURL overrides the default base URL.
func WithBaseURL(u string) Option {
	return func(c *httpClient) {
		if u != "" {
			c.baseURL = u
		}
	}
}

// WithTimeout sets the per-request timeout of the default HTTP client.
func WithTimeout(d time.Duration) Option {
	return func(c *httpClient) {
		if d > 0 {
			c.http.Timeout = d
		}
	}
}

// WithHTTPClient sets a custom *http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithRateLimit caps outgoing requests per second. Zero disables the limit.
func WithRateLimit(rps float64) Option {
	return func(c *httpClient) {
		if rps <= 0 {
			c.limiter = nil
			return
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), max(1, int(rps)))
	}
}

// WithPageSize overrides the dataset page size.
func WithPageSize(n int) Option {
	return func(c *httpClient) {
		if n > 0 {
			c.pageSize = n
		}
	}
}

// httpClient implements Client using net/http.
type httpClient struct {
	token    string
	baseURL  string
	http     *http.Client
	limiter  *rate.Limiter
	pageSize int
}

// NewClient creates a new Apify client.
func NewClient(token string, opts ...Option) Client {
	c := &httpClient{
		token:    token,
		baseURL:  defaultBaseURL,
		pageSize: defaultPageSize,
		http: &http.Client{
			Timeout: 60 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 20,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *httpClient) StartRun(ctx context.Context, actorID string, input any, opts RunOptions) (*RunInfo, error) {
	q := url.Values{}
	if opts.MemoryMB > 0 {
		q.Set("memory", strconv.Itoa(opts.MemoryMB))
	}
	if opts.TimeoutSecs > 0 {
		q.Set("timeout", strconv.Itoa(opts.TimeoutSecs))
	}
	path := fmt.Sprintf("/acts/%s/runs", url.PathEscape(actorID))
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var resp envelope
	if err := c.post(ctx, path, input, &resp); err != nil {
		return nil, eris.Wrapf(err, "apify: start run for actor %s", actorID)
	}
	return &resp.Data, nil
}

func (c *httpClient) GetRun(ctx context.Context, runID string) (*RunInfo, error) {
	var resp envelope
	if err := c.get(ctx, fmt.Sprintf("/actor-runs/%s", url.PathEscape(runID)), &resp); err != nil {
		return nil, eris.Wrapf(err, "apify: get run %s", runID)
	}
	return &resp.Data, nil
}

func (c *httpClient) GetDatasetItems(ctx context.Context, datasetID string) ([]json.RawMessage, error) {
	var all []json.RawMessage
	for offset := 0; ; offset += c.pageSize {
		path := fmt.Sprintf("/datasets/%s/items?format=json&clean=true&offset=%d&limit=%d",
			url.PathEscape(datasetID), offset, c.pageSize)

		var page []json.RawMessage
		if err := c.get(ctx, path, &page); err != nil {
			return nil, eris.Wrapf(err, "apify: get dataset %s items at offset %d", datasetID, offset)
		}
		all = append(all, page...)
		if len(page) < c.pageSize {
			break
		}
	}
	if all == nil {
		all = []json.RawMessage{}
	}
	return all, nil
}

func (c *httpClient) post(ctx context.Context, path string, body any, out any) error {
	buf, err := json.Marshal(body)
	if err != nil {
		return eris.Wrap(err, "marshal request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(buf))
	if err != nil {
		return eris.Wrap(err, "create request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)

	return c.do(req, out)
}

func (c *httpClient) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return eris.Wrap(err, "create request")
	}
	req.Header.Set("Authorization", "Bearer "+c.token)

	return c.do(req, out)
}

func (c *httpClient) do(req *http.Request, out any) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(req.Context()); err != nil {
			return eris.Wrap(err, "rate limiter wait")
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return eris.Wrap(err, "execute request")
	}
	defer resp.Body.Close() //nolint:errcheck

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return eris.Wrap(err, "read response body")
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &APIError{
			StatusCode: resp.StatusCode,
			Body:       string(data),
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
		}
	}

	if err := json.Unmarshal(data, out); err != nil {
		return eris.Wrap(err, "decode response")
	}

	return nil
}

func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}
