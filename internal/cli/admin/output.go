package admin

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/cloo-solutions/filingsearch/internal/pipeline"
	"github.com/fatih/color"
)

const (
	outputText = "text"
	outputJSON = "json"
)

var (
	green  = color.New(color.FgGreen)
	yellow = color.New(color.FgYellow)
	red    = color.New(color.FgRed)
	bold   = color.New(color.Bold)
)

func writeJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode output: %w", err)
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}

func printReport(w io.Writer, format string, r *pipeline.Report) error {
	if format == outputJSON {
		return writeJSON(w, r)
	}

	bold.Fprintf(w, "Ingestion finished in %s\n", r.Duration.Round(time.Millisecond))
	green.Fprintf(w, "  processed: %d\n", r.Processed)
	yellow.Fprintf(w, "  skipped:   %d\n", r.Skipped)
	failed := green
	if r.Failed > 0 {
		failed = red
	}
	failed.Fprintf(w, "  failed:    %d\n", r.Failed)
	fmt.Fprintf(w, "  chunks:    %d\n", r.Chunks)
	fmt.Fprintf(w, "  points:    %d uploaded, %d skipped, %d failed\n", r.PointsUploaded, r.PointsSkipped, r.PointsFailed)

	printFailures(w, r.Failures)
	return nil
}

func printMetadataReport(w io.Writer, format string, r *pipeline.MetadataReport) error {
	if format == outputJSON {
		return writeJSON(w, r)
	}

	bold.Fprintln(w, "Proceeding metadata loaded")
	green.Fprintf(w, "  updated: %d\n", r.Updated)
	yellow.Fprintf(w, "  missing: %d\n", r.Missing)
	printFailures(w, r.Failures)
	return nil
}

func printFailures(w io.Writer, failures []pipeline.UnitFailure) {
	if len(failures) == 0 {
		return
	}
	red.Fprintf(w, "\n%d failure(s):\n", len(failures))
	for _, f := range failures {
		fmt.Fprintf(w, "  [%s] %s at %s: %s\n", f.Kind, f.Key, f.Stage, f.Error)
	}
}
