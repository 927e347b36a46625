package main

import (
	"fmt"
	"os"

	"github.com/cloo-solutions/filingsearch/internal/cli"
	"github.com/cloo-solutions/filingsearch/internal/cli/admin"
	"github.com/spf13/cobra"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "filingsearchd",
		Short: "Filing ingestion and search daemon",
		Long: `filingsearchd ingests regulatory filings into PostgreSQL and a vector
collection, and serves keyword, semantic, reranked and hybrid search.

Configuration is read from FILINGS_* environment variables and .env.`,
		SilenceUsage: true,
	}

	cli.AddHelpJSONFlag(rootCmd)
	rootCmd.AddCommand(admin.ServeCmd())
	rootCmd.AddCommand(admin.IngestCmd())
	rootCmd.AddCommand(admin.LoadMetadataCmd())
	rootCmd.AddCommand(admin.CollectionCmd())
	rootCmd.AddCommand(admin.MigrateCmd())

	if len(os.Args) == 1 {
		os.Args = append(os.Args, "serve")
	}

	cli.CheckHelpJSON(rootCmd)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
