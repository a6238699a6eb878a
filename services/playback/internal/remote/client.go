// Package remote is the HTTP client for the progress service.
package remote

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

	"github.com/example/chess-academy/internal/platform/httpserver"
	"github.com/example/chess-academy/internal/progress"
)

// maxBatch matches the progress service's per-request limit.
const maxBatch = 500

// TokenSource supplies the bearer token for each request.
type TokenSource interface {
	Token() (string, error)
}

// StatusError is a non-2xx answer from the progress service.
type StatusError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *StatusError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("progress service %d %s: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("progress service %d", e.StatusCode)
}

// Client implements progress.RemoteStore over HTTP.
type Client struct {
	baseURL string
	tokens  TokenSource
	http    *http.Client
}

func New(baseURL string, tokens TokenSource, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), tokens: tokens, http: httpClient}
}

type batchRequest struct {
	Records []progress.WireRecord `json:"records"`
}

type queryResponse struct {
	Records []progress.WireRecord `json:"records"`
}

// Upsert writes records in chunks. A 202 from the async write path counts as success.
func (c *Client) Upsert(ctx context.Context, records []progress.WireRecord) error {
	for start := 0; start < len(records); start += maxBatch {
		end := min(start+maxBatch, len(records))
		b, err := json.Marshal(batchRequest{Records: records[start:end]})
		if err != nil {
			return err
		}
		if _, err := c.do(ctx, http.MethodPost, "/v1/progress/batch", bytes.NewReader(b)); err != nil {
			return err
		}
	}
	return nil
}

func (c *Client) Query(ctx context.Context, subjectID string, itemIDs []string) ([]progress.WireRecord, error) {
	q := url.Values{}
	q.Set("subject_id", subjectID)
	for _, id := range itemIDs {
		q.Add("item_id", id)
	}
	data, err := c.do(ctx, http.MethodGet, "/v1/progress/?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	var out queryResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("decode progress query: %w", err)
	}
	return out.Records, nil
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if rid := httpserver.RequestIDFromContext(ctx); rid != "" {
		req.Header.Set(httpserver.RequestIDHeader, rid)
	}
	if c.tokens != nil {
		tok, err := c.tokens.Token()
		if err != nil {
			return nil, fmt.Errorf("service token: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+tok)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if resp.StatusCode >= 300 {
		se := &StatusError{StatusCode: resp.StatusCode}
		var env struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.Unmarshal(data, &env) == nil {
			se.Code, se.Message = env.Error.Code, env.Error.Message
		}
		return nil, se
	}
	return data, nil
}
