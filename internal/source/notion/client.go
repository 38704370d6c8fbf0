package notion

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/time/rate"

	"figmapedia/kbservice/internal/source"
)

const (
	DefaultBaseURL = "https://api.notion.com/v1"
	DefaultVersion = "2022-06-28"
	pageSize       = 100
	maxErrorBody   = 512
)

type Config struct {
	BaseURL string
	APIKey  string
	Version string
	// RequestsPerSecond bounds outbound calls. Zero disables limiting.
	RequestsPerSecond float64
	HTTPClient        *http.Client
	// RetryDelay is the fixed wait before the single rate-limit retry on
	// record and block reads.
	RetryDelay time.Duration
	Logger     *slog.Logger
}

// Client talks to the Notion REST API.
type Client struct {
	baseURL    string
	apiKey     string
	version    string
	httpClient *http.Client
	limiter    *rate.Limiter
	retry      source.RetryConfig
	logger     *slog.Logger
}

var _ source.Store = (*Client)(nil)

func New(cfg Config) *Client {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	version := strings.TrimSpace(cfg.Version)
	if version == "" {
		version = DefaultVersion
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{
			Timeout:   30 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		}
	}
	retryDelay := cfg.RetryDelay
	if retryDelay <= 0 {
		retryDelay = time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	c := &Client{
		baseURL:    baseURL,
		apiKey:     strings.TrimSpace(cfg.APIKey),
		version:    version,
		httpClient: httpClient,
		retry:      source.RateLimitRetryConfig(retryDelay),
		logger:     logger,
	}
	if cfg.RequestsPerSecond > 0 {
		burst := int(cfg.RequestsPerSecond)
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}
	return c
}

type queryRequest struct {
	PageSize    int               `json:"page_size"`
	StartCursor string            `json:"start_cursor,omitempty"`
	Sorts       []source.SortSpec `json:"sorts,omitempty"`
}

type queryResponse struct {
	Results    []source.Record `json:"results"`
	HasMore    bool            `json:"has_more"`
	NextCursor *string         `json:"next_cursor"`
}

type blocksResponse struct {
	Results    []source.RawBlock `json:"results"`
	HasMore    bool              `json:"has_more"`
	NextCursor *string           `json:"next_cursor"`
}

// QueryAll follows the cursor until the collection is exhausted.
func (c *Client) QueryAll(ctx context.Context, collectionID string, opts source.QueryOptions) ([]source.Record, error) {
	collectionID = strings.TrimSpace(collectionID)
	if collectionID == "" {
		return nil, fmt.Errorf("query collection: empty id")
	}

	endpoint := c.baseURL + "/databases/" + url.PathEscape(collectionID) + "/query"
	var (
		records []source.Record
		cursor  string
	)
	for {
		body := queryRequest{PageSize: pageSize, StartCursor: cursor, Sorts: opts.Sorts}
		var page queryResponse
		if err := c.do(ctx, http.MethodPost, endpoint, body, &page); err != nil {
			return nil, fmt.Errorf("query collection %s: %w", collectionID, err)
		}
		records = append(records, page.Results...)
		if !page.HasMore || page.NextCursor == nil || *page.NextCursor == "" {
			break
		}
		cursor = *page.NextCursor
	}
	return records, nil
}

// RetrieveRecord fetches one page, retrying once when rate limited.
func (c *Client) RetrieveRecord(ctx context.Context, recordID string) (source.Record, error) {
	recordID = strings.TrimSpace(recordID)
	if recordID == "" {
		return source.Record{}, fmt.Errorf("retrieve record: empty id")
	}

	endpoint := c.baseURL + "/pages/" + url.PathEscape(recordID)
	var record source.Record
	err := source.Retry(ctx, c.retry, func() error {
		return c.do(ctx, http.MethodGet, endpoint, nil, &record)
	})
	if err != nil {
		return source.Record{}, fmt.Errorf("retrieve record %s: %w", recordID, err)
	}
	return record, nil
}

// ListBlocks returns the direct children of a block or page.
func (c *Client) ListBlocks(ctx context.Context, blockID string) ([]source.RawBlock, error) {
	blockID = strings.TrimSpace(blockID)
	if blockID == "" {
		return nil, fmt.Errorf("list blocks: empty id")
	}

	var (
		blocks []source.RawBlock
		cursor string
	)
	for {
		params := url.Values{}
		params.Set("page_size", fmt.Sprint(pageSize))
		if cursor != "" {
			params.Set("start_cursor", cursor)
		}
		endpoint := c.baseURL + "/blocks/" + url.PathEscape(blockID) + "/children?" + params.Encode()

		var page blocksResponse
		err := source.Retry(ctx, c.retry, func() error {
			page = blocksResponse{}
			return c.do(ctx, http.MethodGet, endpoint, nil, &page)
		})
		if err != nil {
			return nil, fmt.Errorf("list blocks %s: %w", blockID, err)
		}
		blocks = append(blocks, page.Results...)
		if !page.HasMore || page.NextCursor == nil || *page.NextCursor == "" {
			break
		}
		cursor = *page.NextCursor
	}
	return blocks, nil
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Notion-Version", c.version)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		c.logger.Debug("notion request failed",
			slog.String("method", method),
			slog.Int("status", resp.StatusCode),
		)
		return &source.StatusError{
			Op:         method + " " + strings.TrimPrefix(endpoint, c.baseURL),
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(raw)),
		}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
