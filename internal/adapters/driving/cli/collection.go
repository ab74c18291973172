package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/democracy-chain/dcindex/internal/core/domain"
)

var (
	collectionName string
	collectionYes  bool
	collectionJSON bool
)

var collectionCmd = &cobra.Command{
	Use:   "collection",
	Short: "Inspect or drop the vector collection",
}

var collectionInfoCmd = &cobra.Command{
	Use:   "info",
	Short: "Show collection size and vector dimensions",
	Args:  cobra.NoArgs,
	RunE:  runCollectionInfo,
}

var collectionDropCmd = &cobra.Command{
	Use:   "drop",
	Short: "Delete the collection and every indexed chunk",
	Long: `Deletes the collection. Run this after changing the embedding model to
one with a different vector size, then re-ingest every programme.`,
	Args: cobra.NoArgs,
	RunE: runCollectionDrop,
}

func init() {
	collectionCmd.PersistentFlags().StringVar(&collectionName, "name", "", "collection (default vector_index.collection)")
	collectionInfoCmd.Flags().BoolVar(&collectionJSON, "json", false, "output as JSON")
	collectionDropCmd.Flags().BoolVarP(&collectionYes, "yes", "y", false, "confirm the drop")
	collectionCmd.AddCommand(collectionInfoCmd)
	collectionCmd.AddCommand(collectionDropCmd)
	rootCmd.AddCommand(collectionCmd)
}

func targetCollection() string {
	if collectionName != "" {
		return collectionName
	}
	return currentSettings.VectorIndex.Collection
}

func runCollectionInfo(cmd *cobra.Command, _ []string) error {
	b, err := requireBackend()
	if err != nil {
		return err
	}
	index, err := b.Index()
	if err != nil {
		return err
	}

	name := targetCollection()
	info, err := index.Info(cmd.Context(), name)
	if errors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("collection %q does not exist yet", name)
	}
	if err != nil {
		return fmt.Errorf("collection info failed: %w", err)
	}

	if collectionJSON {
		return printJSON(cmd, map[string]any{
			"name":      info.Name,
			"dimension": info.Dimension,
			"distance":  info.Distance,
			"points":    info.PointCount,
		})
	}
	cmd.Printf("Collection: %s\n", info.Name)
	cmd.Printf("  Backend:   %s\n", currentSettings.VectorIndex.Backend)
	cmd.Printf("  Dimension: %d\n", info.Dimension)
	cmd.Printf("  Distance:  %s\n", info.Distance)
	cmd.Printf("  Points:    %d\n", info.PointCount)
	return nil
}

func runCollectionDrop(cmd *cobra.Command, _ []string) error {
	name := targetCollection()
	if !collectionYes {
		return fmt.Errorf("refusing to drop %q without --yes", name)
	}
	b, err := requireBackend()
	if err != nil {
		return err
	}
	index, err := b.Index()
	if err != nil {
		return err
	}

	if err := index.DropCollection(cmd.Context(), name); err != nil {
		return fmt.Errorf("drop failed: %w", err)
	}
	cmd.Printf("Collection %q dropped.\n", name)
	return nil
}
