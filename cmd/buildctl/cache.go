package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"bldr/internal/actioncache"
	"bldr/internal/storage"
)

var cacheDBPath string

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect the action cache",
}

var cacheStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Print how many action results are currently cached",
	Args:  cobra.NoArgs,
	RunE:  runCacheStats,
}

func init() {
	cacheCmd.PersistentFlags().StringVar(&cacheDBPath, "db", "cache.db", "action cache database path")
	cacheCmd.AddCommand(cacheStatsCmd)
	rootCmd.AddCommand(cacheCmd)
}

func runCacheStats(cmd *cobra.Command, args []string) error {
	db, err := storage.NewSQLiteStore(cacheDBPath)
	if err != nil {
		return fmt.Errorf("opening cache database: %w", err)
	}
	defer db.Close()

	cache := actioncache.New(db)
	stats, err := cache.Stats(context.Background())
	if err != nil {
		return fmt.Errorf("reading cache stats: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "entries: %d\n", stats.Entries)
	return nil
}
