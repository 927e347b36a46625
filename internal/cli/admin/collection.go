package admin

import (
	"fmt"

	"github.com/cloo-solutions/filingsearch/internal/config"
	"github.com/cloo-solutions/filingsearch/internal/database"
	"github.com/cloo-solutions/filingsearch/internal/vectorindex"
	"github.com/spf13/cobra"
)

// CollectionCmd returns the collection command group.
func CollectionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "collection",
		Short: "Manage the vector collection",
		Long:  "Create, recreate or inspect the vector collection that holds chunk embeddings",
	}

	cmd.AddCommand(collectionEnsureCmd(false))
	cmd.AddCommand(collectionEnsureCmd(true))
	cmd.AddCommand(collectionInfoCmd())

	return cmd
}

func collectionEnsureCmd(recreate bool) *cobra.Command {
	use, short := "ensure", "Create the collection if it does not exist"
	if recreate {
		use, short = "recreate", "Drop and recreate the collection"
	}

	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			e, err := loadEnv(ctx)
			if err != nil {
				return err
			}
			defer e.Close()

			spec := vectorindex.CollectionSpec{
				Name:       e.cfg.CollectionName,
				Dimensions: e.embedder.Dimensions(),
			}
			if err := e.index.EnsureCollection(ctx, spec, recreate); err != nil {
				return fmt.Errorf("failed to %s collection %s: %w", use, spec.Name, err)
			}

			green.Fprintf(cmd.OutOrStdout(), "Collection %s ready (%d dimensions, %s)\n",
				spec.Name, spec.Dimensions, e.cfg.VectorBackend)
			return nil
		},
	}
}

func collectionInfoCmd() *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "info",
		Short: "Show the collection size and whether it matches the embedder",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			e, err := loadEnv(ctx)
			if err != nil {
				return err
			}
			defer e.Close()

			dims, err := e.index.Dimensions(ctx, e.cfg.CollectionName)
			if err != nil {
				return fmt.Errorf("failed to inspect collection %s: %w", e.cfg.CollectionName, err)
			}
			info := struct {
				Collection         string `json:"collection"`
				Backend            string `json:"backend"`
				Dimensions         int    `json:"dimensions"`
				EmbedderDimensions int    `json:"embedder_dimensions"`
				Compatible         bool   `json:"compatible"`
			}{
				Collection:         e.cfg.CollectionName,
				Backend:            e.cfg.VectorBackend,
				Dimensions:         dims,
				EmbedderDimensions: e.embedder.Dimensions(),
				Compatible:         dims == e.embedder.Dimensions(),
			}

			if output == outputJSON {
				return writeJSON(cmd.OutOrStdout(), info)
			}
			w := cmd.OutOrStdout()
			bold.Fprintf(w, "%s (%s)\n", info.Collection, info.Backend)
			fmt.Fprintf(w, "  dimensions: %d\n", info.Dimensions)
			fmt.Fprintf(w, "  embedder:   %d\n", info.EmbedderDimensions)
			if info.Compatible {
				green.Fprintln(w, "  compatible")
			} else {
				red.Fprintln(w, "  dimension mismatch: recreate the collection or change the embedding model")
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", outputText, "Output format (text or json)")
	return cmd
}

// MigrateCmd returns the migrate command.
func MigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			logger := newLogger(cmd.ErrOrStderr(), cfg.LogFormat, cfg.LogLevel)
			if err := database.Migrate(cfg.DatabaseURL, logger); err != nil {
				return err
			}
			return nil
		},
	}
}
