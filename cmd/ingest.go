package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest <file>",
	Short: "Chunk, embed and store a document",
	Args:  cobra.ExactArgs(1),
	RunE:  runIngest,
}

func init() {
	rootCmd.AddCommand(ingestCmd)
}

func runIngest(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	path := args[0]
	content, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}

	a, err := setupApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	filename := filepath.Base(path)
	start := time.Now()

	res, err := a.Ingestor.Ingest(ctx, string(content), filename, flagProvider)
	if err != nil {
		return err
	}
	elapsed := time.Since(start)

	key, cacheErr := a.Cache.Store(string(content), filename, int64(len(content)), elapsed)
	if cacheErr != nil {
		a.Logger.Warn("document not cached", "error", cacheErr)
	}

	fmt.Printf("Ingested %s\n", filename)
	fmt.Printf("  Document ID: %s\n", res.DocumentID)
	fmt.Printf("  Chunks:      %d\n", res.ChunkCount)
	fmt.Printf("  Took:        %s\n", elapsed.Round(time.Millisecond))
	if cacheErr == nil {
		fmt.Printf("  Cache key:   %s\n", key)
	}
	if res.Schema != nil {
		fmt.Printf("  Schema:      %v / %v\n", res.Schema.EntityTypes, res.Schema.RelationshipTypes)
	}
	if res.Degraded {
		fmt.Printf("  DEGRADED:    %s\n", res.DegradedReason)
	}
	return nil
}
