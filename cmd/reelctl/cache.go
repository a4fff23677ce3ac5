package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/maauso/reelsmith/internal/asset"
)

func newCacheCommand(ctx *commandContext) *cobra.Command {
	cacheCmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect and manage the background cache",
	}

	cacheCmd.AddCommand(newCacheStatsCommand(ctx))
	cacheCmd.AddCommand(newCachePruneCommand(ctx))
	cacheCmd.AddCommand(newCacheEvictCommand(ctx))

	return cacheCmd
}

func newCacheStatsCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show background cache usage",
		RunE: func(cmd *cobra.Command, args []string) error {
			cache, err := openCache(ctx)
			if err != nil {
				return err
			}
			stats, err := cache.Stats()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Entries: %d\n", stats.Entries)
			fmt.Fprintf(out, "Size:    %s / %s\n", humanBytes(stats.TotalBytes), humanBytes(stats.MaxBytes))
			fmt.Fprintf(out, "Disk:    %s free (%.1f%%)\n", humanBytes(int64(stats.FreeBytes)), stats.FreeRatio*100)
			printCacheEntries(out, stats.Items)
			return nil
		},
	}
}

func printCacheEntries(out io.Writer, entries []asset.Entry) {
	if len(entries) == 0 {
		fmt.Fprintln(out, "Cached backgrounds: none")
		return
	}
	rows := make([][]string, 0, len(entries))
	for _, e := range entries {
		rows = append(rows, []string{
			e.Key,
			humanBytes(e.SizeBytes),
			e.AccessedAt.Local().Format(stampLayout),
		})
	}
	fmt.Fprintln(out, renderTable(
		[]string{"Key", "Size", "Last used"},
		rows,
		[]columnAlignment{alignLeft, alignRight, alignLeft},
	))
}

func newCachePruneCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "prune",
		Short: "Prune the background cache now",
		RunE: func(cmd *cobra.Command, args []string) error {
			cache, err := openCache(ctx)
			if err != nil {
				return err
			}
			res, err := cache.Prune(cmd.Context())
			if err != nil {
				return err
			}
			if res.Removed == 0 && res.StaleTemps == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No cache entries pruned")
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Pruned %d entries and %d partial downloads (%s)\n",
				res.Removed, res.StaleTemps, humanBytes(res.FreedBytes))
			return nil
		},
	}
}

func newCacheEvictCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "evict <key>",
		Short: "Remove a background from the cache",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cache, err := openCache(ctx)
			if err != nil {
				return err
			}
			n, err := cache.Evict(args[0])
			if err != nil {
				return err
			}
			key := asset.SanitizeKey(args[0])
			if n == 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "No cache entry for %s\n", key)
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Evicted %s (%d files)\n", key, n)
			return nil
		},
	}
}

func openCache(ctx *commandContext) (*asset.Cache, error) {
	cfg, err := ctx.ensureConfig()
	if err != nil {
		return nil, err
	}
	return asset.NewCache(cfg.CacheDir, asset.NewFetcher(),
		asset.WithTTL(cfg.CacheTTL),
		asset.WithMaxBytes(cfg.CacheMaxBytes),
		asset.WithFreeSpaceFloor(cfg.CacheMinFreeRatio),
	)
}
