package admin

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"
	"time"

	"github.com/cloo-solutions/filingsearch/internal/config"
	"github.com/cloo-solutions/filingsearch/internal/domain"
	"github.com/cloo-solutions/filingsearch/internal/pipeline"
	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	color.NoColor = true
	m.Run()
}

func TestNewLogger(t *testing.T) {
	tests := []struct {
		name      string
		format    string
		level     string
		wantJSON  bool
		wantDebug bool
	}{
		{"json debug", "json", "debug", true, true},
		{"text info", "text", "info", false, false},
		{"unknown level falls back to info", "JSON", "loud", true, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger := newLogger(&buf, tt.format, tt.level)

			assert.Equal(t, tt.wantDebug, logger.Enabled(context.Background(), slog.LevelDebug))

			logger.Info("hello", "k", "v")
			line := bytes.TrimSpace(buf.Bytes())
			if tt.wantJSON {
				var decoded map[string]any
				require.NoError(t, json.Unmarshal(line, &decoded))
				assert.Equal(t, "hello", decoded["msg"])
				assert.Equal(t, "filingsearch", decoded["service"])
			} else {
				assert.Contains(t, string(line), "msg=hello")
			}
		})
	}
}

func TestOpenSource(t *testing.T) {
	e := &env{cfg: &config.Config{}, logger: slog.Default()}
	ctx := context.Background()

	src, err := e.openSource(ctx, sourceDir, t.TempDir())
	require.NoError(t, err)
	assert.Contains(t, src.Name(), "dir:")

	_, err = e.openSource(ctx, sourceDir, "")
	assert.Error(t, err)

	_, err = e.openSource(ctx, sourceS3, "")
	assert.ErrorContains(t, err, "FILINGS_S3_ENDPOINT")

	_, err = e.openSource(ctx, "ftp", "")
	assert.ErrorContains(t, err, "unknown source")
}

func TestInitTelemetry_NoDSN(t *testing.T) {
	shutdown := initTelemetry(&config.Config{}, slog.Default())
	require.NotNil(t, shutdown)
	shutdown()
}

func TestPrintReport(t *testing.T) {
	report := &pipeline.Report{
		Processed:      3,
		Skipped:        1,
		Failed:         1,
		Chunks:         12,
		PointsUploaded: 12,
		Duration:       1500 * time.Millisecond,
		Failures: []pipeline.UnitFailure{{
			Kind:  domain.UnitKindDocument,
			Key:   "R2401001/D100",
			Stage: domain.StageExtract,
			Error: "pdf could not be parsed",
		}},
	}

	t.Run("text", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, printReport(&buf, outputText, report))

		out := buf.String()
		assert.Contains(t, out, "Ingestion finished in 1.5s")
		assert.Contains(t, out, "processed: 3")
		assert.Contains(t, out, "failed:    1")
		assert.Contains(t, out, "12 uploaded, 0 skipped, 0 failed")
		assert.Contains(t, out, "R2401001/D100")
	})

	t.Run("json", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, printReport(&buf, outputJSON, report))

		var decoded pipeline.Report
		require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
		assert.Equal(t, 3, decoded.Processed)
		require.Len(t, decoded.Failures, 1)
		assert.Equal(t, domain.StageExtract, decoded.Failures[0].Stage)
	})
}

func TestPrintMetadataReport(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, printMetadataReport(&buf, outputText, &pipeline.MetadataReport{Updated: 4, Missing: 2}))

	assert.Contains(t, buf.String(), "updated: 4")
	assert.Contains(t, buf.String(), "missing: 2")
	assert.NotContains(t, buf.String(), "failure")
}

func TestCommandTree(t *testing.T) {
	collection := CollectionCmd()
	var names []string
	for _, c := range collection.Commands() {
		names = append(names, c.Name())
	}
	assert.ElementsMatch(t, []string{"ensure", "recreate", "info"}, names)

	ingest := IngestCmd()
	for _, flag := range []string{"source", "dir", "recreate", "force", "skip-existing", "no-download", "watch", "output"} {
		assert.NotNil(t, ingest.Flags().Lookup(flag), flag)
	}
}
