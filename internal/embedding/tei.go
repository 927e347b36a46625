package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	// DefaultTEIModel is the sentence-transformers model the TEI server is expected to serve
	DefaultTEIModel = "sentence-transformers/all-MiniLM-L6-v2"
	// DefaultTEIDimensions is the output size of DefaultTEIModel
	DefaultTEIDimensions = 384
)

type teiEmbedRequest struct {
	Inputs   []string `json:"inputs"`
	Truncate bool     `json:"truncate"`
}

type teiErrorResponse struct {
	Error     string `json:"error"`
	ErrorType string `json:"error_type"`
}

// TEIClient calls a text-embeddings-inference server. The same client works
// against CPU and GPU deployments; only the URL differs.
type TEIClient struct {
	baseURL    string
	model      string
	dimensions int
	httpClient *http.Client
}

type TEIConfig struct {
	URL        string
	Model      string
	Dimensions int
	Timeout    time.Duration
}

func NewTEIClient(cfg TEIConfig) *TEIClient {
	if cfg.Model == "" {
		cfg.Model = DefaultTEIModel
	}
	if cfg.Dimensions <= 0 {
		cfg.Dimensions = DefaultTEIDimensions
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	return &TEIClient{
		baseURL:    strings.TrimRight(cfg.URL, "/"),
		model:      cfg.Model,
		dimensions: cfg.Dimensions,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
}

func (c *TEIClient) Dimensions() int { return c.dimensions }

func (c *TEIClient) Model() string { return c.model }

// Embed posts the texts to /embed and returns one vector per text.
func (c *TEIClient) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	if err := checkInputs(texts); err != nil {
		return nil, err
	}

	body, err := json.Marshal(teiEmbedRequest{Inputs: texts, Truncate: true})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/embed", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var errResp teiErrorResponse
		if err := json.Unmarshal(raw, &errResp); err == nil && errResp.Error != "" {
			return nil, fmt.Errorf("tei error (status %d): %s", resp.StatusCode, errResp.Error)
		}
		return nil, fmt.Errorf("tei error (status %d): %s", resp.StatusCode, string(raw))
	}

	var vectors [][]float32
	if err := json.Unmarshal(raw, &vectors); err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}
	if err := checkVectors(vectors, len(texts), c.dimensions); err != nil {
		return nil, err
	}
	return vectors, nil
}
