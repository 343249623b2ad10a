package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect the in-memory document cache",
}

var cacheListCmd = &cobra.Command{
	Use:   "list",
	Short: "List cached documents, newest first",
	Args:  cobra.NoArgs,
	RunE:  runCacheList,
}

var cacheStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show cache occupancy and limits",
	Args:  cobra.NoArgs,
	RunE:  runCacheStats,
}

func init() {
	cacheCmd.AddCommand(cacheListCmd)
	cacheCmd.AddCommand(cacheStatsCmd)
	rootCmd.AddCommand(cacheCmd)
}

func runCacheList(cmd *cobra.Command, _ []string) error {
	a, err := setupApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	entries := a.Cache.List()
	if len(entries) == 0 {
		fmt.Println("Cache is empty.")
		return nil
	}
	for _, e := range entries {
		fmt.Printf("%s  %-30s  %6d chars  %s\n",
			e.Key, e.Filename, e.Stats.Chars, e.StoredAt.Format(time.RFC3339))
	}
	return nil
}

func runCacheStats(cmd *cobra.Command, _ []string) error {
	a, err := setupApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	s := a.Cache.Stats()
	fmt.Printf("Documents: %d / %d\n", s.Count, s.MaxCount)
	fmt.Printf("Memory:    %.2f MB\n", s.MemoryMB)
	fmt.Printf("TTL:       %d minutes\n", s.TTLMinutes)
	return nil
}
