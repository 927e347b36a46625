package client

import (
	"encoding/json"
	"fmt"
	"io"
	"maps"
	"slices"
	"strings"
	"unicode/utf8"

	"github.com/cloo-solutions/filingsearch/internal/api/handlers"
	"github.com/cloo-solutions/filingsearch/internal/domain"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

const snippetRunes = 240

var (
	bold  = color.New(color.Bold)
	cyan  = color.New(color.FgCyan)
	dim   = color.New(color.Faint)
	green = color.New(color.FgGreen)
	red   = color.New(color.FgRed)
)

type searchOptions struct {
	mode            string
	limit           int
	collection      string
	proceedings     []string
	allowUnfiltered bool
	keywordWeight   float64
	semanticWeight  float64
}

// SearchCmd creates the search command.
func SearchCmd() *cobra.Command {
	var opts searchOptions

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search ingested filings",
		Long: `Searches ingested filings through a running filingsearchd.

Modes:
  keyword    PostgreSQL full-text ranking over chunks and documents
  semantic   nearest neighbours in the vector collection (default)
  reranked   semantic candidates re-scored by the cross-encoder
  hybrid     weighted fusion of keyword and semantic scores`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			outputJSON, _ := cmd.Flags().GetBool("output")
			flagURL, _ := cmd.Flags().GetString("api-url")

			baseURL, err := ResolveAPIURL(flagURL)
			if err != nil {
				return err
			}

			req := opts.request(strings.Join(args, " "), cmd)
			resp, err := NewAPIClient(baseURL).Search(cmd.Context(), req)
			if err != nil {
				return fmt.Errorf("search failed: %w", err)
			}

			if outputJSON {
				out, err := json.MarshalIndent(resp, "", "  ")
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), string(out))
				return nil
			}
			renderResults(cmd.OutOrStdout(), resp)
			return nil
		},
	}

	cmd.Flags().StringVarP(&opts.mode, "mode", "m", string(domain.SearchTypeSemantic), "Search mode (keyword, semantic, reranked, hybrid)")
	cmd.Flags().IntVarP(&opts.limit, "limit", "n", 5, "Maximum number of results")
	cmd.Flags().StringVar(&opts.collection, "collection", "", "Vector collection (defaults to the server's)")
	cmd.Flags().StringSliceVarP(&opts.proceedings, "proceeding", "p", nil, "Restrict semantic search to these proceedings")
	cmd.Flags().BoolVar(&opts.allowUnfiltered, "allow-unfiltered", false, "Retry without the proceeding filter when it matches nothing")
	cmd.Flags().Float64Var(&opts.keywordWeight, "keyword-weight", 0.3, "Hybrid keyword weight")
	cmd.Flags().Float64Var(&opts.semanticWeight, "semantic-weight", 0.7, "Hybrid semantic weight")

	return cmd
}

// request builds the API body. Weights are only sent when set explicitly so
// the server's defaults apply otherwise.
func (o searchOptions) request(query string, cmd *cobra.Command) handlers.SearchRequest {
	req := handlers.SearchRequest{
		Query:           query,
		Mode:            o.mode,
		Limit:           o.limit,
		Collection:      o.collection,
		Proceedings:     o.proceedings,
		AllowUnfiltered: o.allowUnfiltered,
	}
	if cmd.Flags().Changed("keyword-weight") || cmd.Flags().Changed("semantic-weight") {
		kw, sw := o.keywordWeight, o.semanticWeight
		req.KeywordWeight = &kw
		req.SemanticWeight = &sw
	}
	return req
}

func renderResults(w io.Writer, resp *handlers.SearchResponse) {
	if len(resp.Results) == 0 {
		fmt.Fprintln(w, "No results found.")
		return
	}

	fmt.Fprintf(w, "Found %d %s results:\n\n", resp.Count, resp.Mode)
	for i, r := range resp.Results {
		title := r.Title
		if title == "" {
			title = r.SourceURL
		}
		bold.Fprintf(w, "%d. %s", i+1, title)
		cyan.Fprintf(w, " (%.4f)\n", r.Score)

		fmt.Fprintf(w, "   Proceeding: %s", r.ProceedingNumber)
		if r.ChunkIndex == domain.DocumentLevelChunk {
			fmt.Fprint(w, "  document match\n")
		} else {
			fmt.Fprintf(w, "  chunk %d\n", r.ChunkIndex)
		}
		if details := scoreDetails(r); details != "" {
			dim.Fprintf(w, "   %s\n", details)
		}
		if r.FilterRelaxed {
			red.Fprintln(w, "   proceeding filter matched nothing; showing unfiltered results")
		}
		if text := snippet(r.ChunkText, snippetRunes); text != "" {
			fmt.Fprintf(w, "   %s\n", text)
		}
		green.Fprintf(w, "   %s\n", r.SourceURL)
		if i < len(resp.Results)-1 {
			fmt.Fprintln(w, strings.Repeat("-", 40))
		}
	}
}

func scoreDetails(r domain.RetrievalResult) string {
	var parts []string
	if r.KeywordRank != nil {
		parts = append(parts, fmt.Sprintf("keyword %.4f", *r.KeywordRank))
	}
	if r.Similarity != nil {
		parts = append(parts, fmt.Sprintf("similarity %.4f", *r.Similarity))
	}
	if r.RerankScore != nil {
		parts = append(parts, fmt.Sprintf("rerank %.4f", *r.RerankScore))
	}
	return strings.Join(parts, ", ")
}

// snippet collapses whitespace and truncates to limit runes.
func snippet(text string, limit int) string {
	text = strings.Join(strings.Fields(text), " ")
	if utf8.RuneCountInString(text) <= limit {
		return text
	}
	runes := []rune(text)
	return string(runes[:limit-3]) + "..."
}

// HealthCmd checks a running server.
func HealthCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check server, database and vector index health",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			flagURL, _ := cmd.Flags().GetString("api-url")
			baseURL, err := ResolveAPIURL(flagURL)
			if err != nil {
				return err
			}

			checks, healthy, err := NewAPIClient(baseURL).Health(cmd.Context())
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			for _, name := range slices.Sorted(maps.Keys(checks)) {
				state := checks[name]
				if state == "ok" {
					green.Fprintf(w, "%-14s %s\n", name, state)
				} else {
					red.Fprintf(w, "%-14s %s\n", name, state)
				}
			}
			if !healthy {
				return fmt.Errorf("server at %s is degraded", baseURL)
			}
			return nil
		},
	}
}
