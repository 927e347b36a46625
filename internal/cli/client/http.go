package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cloo-solutions/filingsearch/internal/api/handlers"
)

const defaultTimeout = 60 * time.Second

// APIClient talks to a running filingsearchd.
type APIClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewAPIClient creates a client for baseURL.
func NewAPIClient(baseURL string) *APIClient {
	return &APIClient{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
}

// APIResponse is the server's response envelope.
type APIResponse struct {
	Data  json.RawMessage `json:"data,omitempty"`
	Error string          `json:"error,omitempty"`
	Code  string          `json:"code,omitempty"`
}

// APIError is a non-2xx response.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("API error (%d %s): %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("API error (%d): %s", e.StatusCode, e.Message)
}

// Search runs POST /search.
func (c *APIClient) Search(ctx context.Context, req handlers.SearchRequest) (*handlers.SearchResponse, error) {
	status, resp, err := c.do(ctx, http.MethodPost, "/search", req)
	if err != nil {
		return nil, err
	}
	if status >= 400 {
		return nil, &APIError{StatusCode: status, Code: resp.Code, Message: resp.Error}
	}

	var out handlers.SearchResponse
	if err := json.Unmarshal(resp.Data, &out); err != nil {
		return nil, fmt.Errorf("failed to parse search results: %w", err)
	}
	return &out, nil
}

// Health runs GET /health. A degraded server answers 503 with the same
// body, so the statuses are returned alongside healthy=false rather than an
// error.
func (c *APIClient) Health(ctx context.Context) (map[string]string, bool, error) {
	status, resp, err := c.do(ctx, http.MethodGet, "/health", nil)
	if err != nil {
		return nil, false, err
	}
	if status >= 400 && len(resp.Data) == 0 {
		return nil, false, &APIError{StatusCode: status, Code: resp.Code, Message: resp.Error}
	}

	var checks map[string]string
	if err := json.Unmarshal(resp.Data, &checks); err != nil {
		return nil, false, fmt.Errorf("failed to parse health response: %w", err)
	}
	return checks, status == http.StatusOK, nil
}

func (c *APIClient) do(ctx context.Context, method, path string, body any) (int, *APIResponse, error) {
	var reqBody io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return 0, nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		reqBody = bytes.NewReader(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to read response body: %w", err)
	}

	var apiResp APIResponse
	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		if resp.StatusCode >= 400 {
			return 0, nil, &APIError{StatusCode: resp.StatusCode, Message: string(respBody)}
		}
		return 0, nil, fmt.Errorf("failed to parse response: %w", err)
	}

	return resp.StatusCode, &apiResp, nil
}
