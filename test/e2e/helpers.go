//go:build e2e

package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"io"
	"math"
	"net"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/cloo-solutions/filingsearch/internal/api/handlers"
	"github.com/cloo-solutions/filingsearch/internal/chunker"
	"github.com/cloo-solutions/filingsearch/internal/pipeline"
	"github.com/cloo-solutions/filingsearch/internal/repository"
	"github.com/cloo-solutions/filingsearch/internal/retrieval"
	"github.com/cloo-solutions/filingsearch/internal/server"
	"github.com/cloo-solutions/filingsearch/internal/source"
	"github.com/cloo-solutions/filingsearch/internal/storage"
	"github.com/cloo-solutions/filingsearch/internal/testutil"
	"github.com/cloo-solutions/filingsearch/internal/vectorindex"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	testCollection = "e2e_filings"
	testBucket     = "filings-e2e"
	testDims       = 64
)

// E2ETestEnv holds all resources needed for E2E tests
type E2ETestEnv struct {
	T            *testing.T
	Ctx          context.Context
	PostgresC    *testutil.PostgresContainer
	QdrantC      *testutil.QdrantContainer
	S3C          *testutil.S3Container
	Pool         *pgxpool.Pool
	S3Client     *storage.S3Client
	Index        vectorindex.Index
	Embedder     *hashEmbedder
	Pipeline     *pipeline.Pipeline
	ServerURL    string
	ServerCloser func()
	BinaryDir    string
	HTTPClient   *http.Client
}

// SetupE2EEnv starts PostgreSQL, Qdrant and S3 containers, seeds the bucket
// and starts the HTTP server.
func SetupE2EEnv(t *testing.T) *E2ETestEnv {
	ctx := context.Background()

	pgC := testutil.NewPostgresContainer(ctx, t)
	qC := testutil.NewQdrantContainer(ctx, t)
	s3C := testutil.NewS3Container(ctx, t)

	pool := testutil.NewTestPool(ctx, t, pgC, true)

	s3Client, err := storage.NewS3Client(ctx, storage.S3ClientConfig{
		Endpoint:        s3C.Endpoint(),
		Region:          "us-east-1",
		AccessKeyID:     s3C.AccessKey,
		SecretAccessKey: s3C.SecretKey,
		Bucket:          testBucket,
		UsePathStyle:    true,
	})
	if err != nil {
		t.Fatalf("failed to create S3 client: %v", err)
	}
	if err := s3Client.EnsureBucket(ctx); err != nil {
		t.Fatalf("failed to create bucket: %v", err)
	}

	qdrant, err := vectorindex.NewQdrant(qC.Addr())
	if err != nil {
		t.Fatalf("failed to connect to qdrant: %v", err)
	}
	index := vectorindex.NewRetrying(qdrant, 3, nil)

	embedder := &hashEmbedder{dims: testDims}
	chunks, err := chunker.New(chunker.Config{MaxWords: 40, OverlapWords: 5})
	if err != nil {
		t.Fatalf("failed to create chunker: %v", err)
	}

	p, err := pipeline.New(pipeline.Deps{
		Store:     repository.NewStore(pool),
		Extractor: textExtractor{},
		Chunker:   chunks,
		Embedder:  embedder,
		Index:     index,
	}, pipeline.Config{Collection: testCollection})
	if err != nil {
		t.Fatalf("failed to create pipeline: %v", err)
	}

	port, err := getFreePort()
	if err != nil {
		t.Fatalf("failed to get free port: %v", err)
	}

	env := &E2ETestEnv{
		T:          t,
		Ctx:        ctx,
		PostgresC:  pgC,
		QdrantC:    qC,
		S3C:        s3C,
		Pool:       pool,
		S3Client:   s3Client,
		Index:      index,
		Embedder:   embedder,
		Pipeline:   p,
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
	}
	env.ServerURL, env.ServerCloser = env.startServer(port)

	return env
}

// Cleanup releases all resources
func (e *E2ETestEnv) Cleanup() {
	if e.ServerCloser != nil {
		e.ServerCloser()
	}
	if e.Index != nil {
		_ = e.Index.Close()
	}
	if e.Pool != nil {
		e.Pool.Close()
	}
	if e.S3C != nil {
		_ = e.S3C.Terminate(e.Ctx)
	}
	if e.QdrantC != nil {
		_ = e.QdrantC.Terminate(e.Ctx)
	}
	if e.PostgresC != nil {
		_ = e.PostgresC.Terminate(e.Ctx)
	}
	if e.BinaryDir != "" {
		os.RemoveAll(e.BinaryDir)
	}
}

// Source returns an S3 source over the seeded bucket.
func (e *E2ETestEnv) Source() source.Source {
	return source.NewS3(e.S3Client, "")
}

// PutJSON stores v as JSON under key.
func (e *E2ETestEnv) PutJSON(key string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		e.T.Fatalf("failed to marshal %s: %v", key, err)
	}
	if err := e.S3Client.PutObject(e.Ctx, key, data, "application/json"); err != nil {
		e.T.Fatalf("failed to put %s: %v", key, err)
	}
}

// PutPDF stores a filing body. The e2e extractor reads it as plain text.
func (e *E2ETestEnv) PutPDF(key, text string) {
	if err := e.S3Client.PutObject(e.Ctx, key, []byte(text), "application/pdf"); err != nil {
		e.T.Fatalf("failed to put %s: %v", key, err)
	}
}

// BuildBinaries builds the filingsearch and filingsearchd binaries
func (e *E2ETestEnv) BuildBinaries() {
	tmpDir, err := os.MkdirTemp("", "filingsearch-e2e-*")
	if err != nil {
		e.T.Fatalf("failed to create temp dir: %v", err)
	}
	e.BinaryDir = tmpDir

	for _, name := range []string{"filingsearch", "filingsearchd"} {
		cmd := exec.Command("go", "build", "-o", filepath.Join(tmpDir, name), "./cmd/"+name)
		cmd.Dir = "../.."
		if out, err := cmd.CombinedOutput(); err != nil {
			e.T.Fatalf("failed to build %s: %v\n%s", name, err, out)
		}
	}
}

// RunClient runs the filingsearch CLI against the test server.
func (e *E2ETestEnv) RunClient(args ...string) (string, error) {
	cmd := exec.Command(filepath.Join(e.BinaryDir, "filingsearch"), args...)
	cmd.Env = append(os.Environ(),
		"FILINGS_API_URL="+e.ServerURL,
		"NO_COLOR=1",
	)
	out, err := cmd.CombinedOutput()
	return string(out), err
}

// APIResponse represents a standard API response
type APIResponse struct {
	Status int
	Data   json.RawMessage `json:"data"`
	Error  string          `json:"error,omitempty"`
	Code   string          `json:"code,omitempty"`
}

// Get performs a GET request
func (e *E2ETestEnv) Get(path string) (*APIResponse, error) {
	return e.doRequest(http.MethodGet, path, nil)
}

// Post performs a POST request
func (e *E2ETestEnv) Post(path string, body any) (*APIResponse, error) {
	return e.doRequest(http.MethodPost, path, body)
}

// Search posts a search request and decodes the results.
func (e *E2ETestEnv) Search(req handlers.SearchRequest) (*handlers.SearchResponse, *APIResponse, error) {
	resp, err := e.Post("/search", req)
	if err != nil {
		return nil, nil, err
	}
	if resp.Status != http.StatusOK {
		return nil, resp, nil
	}
	var out handlers.SearchResponse
	if err := json.Unmarshal(resp.Data, &out); err != nil {
		return nil, resp, err
	}
	return &out, resp, nil
}

// doRequest returns non-2xx responses as values so tests can assert on the
// status and error code.
func (e *E2ETestEnv) doRequest(method, path string, body any) (*APIResponse, error) {
	var reqBody io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal body: %w", err)
		}
		reqBody = bytes.NewReader(jsonData)
	}

	req, err := http.NewRequest(method, e.ServerURL+path, reqBody)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	var apiResp APIResponse
	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(respBody))
	}
	apiResp.Status = resp.StatusCode
	return &apiResp, nil
}

func (e *E2ETestEnv) startServer(port int) (string, func()) {
	engine, err := retrieval.NewEngine(retrieval.EngineDeps{
		Keyword:  repository.NewSearchRepository(e.Pool),
		Embedder: e.Embedder,
		Index:    e.Index,
	}, retrieval.Config{Collection: testCollection})
	if err != nil {
		e.T.Fatalf("failed to create engine: %v", err)
	}

	router := server.NewRouter(server.RouterConfig{
		SearchHandler: handlers.NewSearchHandler(engine, nil),
		Checks: map[string]server.HealthChecker{
			"database": e.Pool,
		},
	})

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: router,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			e.T.Logf("server error: %v", err)
		}
	}()

	serverURL := fmt.Sprintf("http://localhost:%d", port)
	waitForServer(e.T, serverURL, 10*time.Second)

	return serverURL, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}

func waitForServer(t *testing.T, url string, timeout time.Duration) {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		resp, err := http.Get(url + "/health")
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return
			}
		}
		time.Sleep(100 * time.Millisecond)
	}
	t.Fatalf("server did not start within %v", timeout)
}

func getFreePort() (int, error) {
	addr, err := net.ResolveTCPAddr("tcp", "localhost:0")
	if err != nil {
		return 0, err
	}

	l, err := net.ListenTCP("tcp", addr)
	if err != nil {
		return 0, err
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port, nil
}

// textExtractor reads stored bodies as UTF-8 text so the suite does not
// depend on poppler being installed.
type textExtractor struct{}

func (textExtractor) Extract(ctx context.Context, pdf []byte) (string, error) {
	return string(pdf), nil
}

// hashEmbedder is a deterministic bag-of-words embedder: texts sharing
// words have a higher cosine similarity.
type hashEmbedder struct {
	dims int
}

func (h *hashEmbedder) Dimensions() int { return h.dims }

func (h *hashEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		vec := make([]float32, h.dims)
		for _, word := range strings.Fields(strings.ToLower(text)) {
			f := fnv.New32a()
			_, _ = f.Write([]byte(strings.Trim(word, ".,;:()\"'")))
			vec[f.Sum32()%uint32(h.dims)]++
		}
		var norm float64
		for _, v := range vec {
			norm += float64(v * v)
		}
		if norm == 0 {
			vec[0] = 1
			norm = 1
		}
		scale := float32(1 / math.Sqrt(norm))
		for j := range vec {
			vec[j] *= scale
		}
		out[i] = vec
	}
	return out, nil
}
