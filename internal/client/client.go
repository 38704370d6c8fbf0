// Package client talks to the knowledge-base service over HTTP and runs
// interactive search sessions against a locally loaded corpus.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"figmapedia/kbservice/internal/domain"
	"figmapedia/kbservice/internal/section"
)

const defaultTimeout = 30 * time.Second

// APIError is a non-2xx reply from the service.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("kb api: status %d: %s", e.Status, e.Message)
	}
	return fmt.Sprintf("kb api: status %d (%s): %s", e.Status, e.Code, e.Message)
}

type Client struct {
	baseURL string
	http    *http.Client
}

type Config struct {
	BaseURL string
	Client  *http.Client
}

func New(cfg Config) *Client {
	httpClient := cfg.Client
	if httpClient == nil {
		httpClient = &http.Client{
			Timeout:   defaultTimeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		}
	}
	return &Client{
		baseURL: strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		http:    httpClient,
	}
}

func (c *Client) SearchIndex(ctx context.Context) (domain.IndexSnapshot, error) {
	var out domain.IndexSnapshot
	err := c.do(ctx, http.MethodGet, "/api/search-index", nil, nil, &out)
	return out, err
}

func (c *Client) Sections(ctx context.Context) (section.Data, error) {
	var out section.Data
	err := c.do(ctx, http.MethodGet, "/api/section-data", nil, nil, &out)
	return out, err
}

func (c *Client) Section(ctx context.Context, key domain.SectionKey, categories ...string) ([]domain.Item, error) {
	q := url.Values{"section": {string(key)}}
	for _, name := range categories {
		q.Add("category", name)
	}
	var out struct {
		Items []domain.Item `json:"items"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/section-data", q, nil, &out); err != nil {
		return nil, err
	}
	if out.Items == nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrUnknownSection, key)
	}
	return out.Items, nil
}

func (c *Client) AISearch(ctx context.Context, query string) (domain.AISearchResponse, error) {
	var out domain.AISearchResponse
	err := c.do(ctx, http.MethodPost, "/api/ai-search", nil, map[string]string{"query": query}, &out)
	return out, err
}

func (c *Client) OGImage(ctx context.Context, target string) (string, error) {
	var out struct {
		OGImage *string `json:"ogImage"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/og-image", url.Values{"url": {target}}, nil, &out); err != nil {
		return "", err
	}
	return deref(out.OGImage), nil
}

func (c *Client) PageThumbnail(ctx context.Context, pageID string) (string, error) {
	var out struct {
		Thumbnail *string `json:"thumbnail"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/page-thumbnail", url.Values{"pageId": {pageID}}, nil, &out); err != nil {
		return "", err
	}
	return deref(out.Thumbnail), nil
}

func (c *Client) Entry(ctx context.Context, id string) (domain.EntryDetail, error) {
	var out domain.EntryDetail
	err := c.do(ctx, http.MethodGet, "/api/entries/"+url.PathEscape(id), nil, nil, &out)
	return out, err
}

type RevalidateResult struct {
	Revalidated bool     `json:"revalidated"`
	Tags        []string `json:"tags"`
	Timestamp   int64    `json:"timestamp"`
}

func (c *Client) Revalidate(ctx context.Context, secret string) (RevalidateResult, error) {
	var out RevalidateResult
	err := c.do(ctx, http.MethodPost, "/api/revalidate", nil, map[string]string{"secret": secret}, &out)
	return out, err
}

func (c *Client) SourcesHealth(ctx context.Context) ([]domain.SourceDiagnostics, error) {
	var out struct {
		Sources []domain.SourceDiagnostics `json:"sources"`
	}
	err := c.do(ctx, http.MethodGet, "/api/sources/health", nil, nil, &out)
	return out.Sources, err
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, dest any) error {
	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
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
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{Status: resp.StatusCode}
		var payload struct {
			Error string `json:"error"`
			Code  string `json:"code"`
		}
		if json.Unmarshal(data, &payload) == nil {
			apiErr.Code = payload.Code
			apiErr.Message = payload.Error
		}
		if apiErr.Message == "" {
			apiErr.Message = strings.TrimSpace(string(data))
		}
		return apiErr
	}
	if dest == nil {
		return nil
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
