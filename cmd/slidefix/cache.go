package main

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"github.com/timmy/slidefix/internal/app"
)

var (
	windowDays  int
	olderThan   int
	usageFloor  int
	listExports bool
	keepExports int
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show cache, validator and recent run statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(runStats)
	},
}

var expireCmd = &cobra.Command{
	Use:   "expire",
	Short: "Delete stale, rarely used cache entries",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(runExpire)
	},
}

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Upload a snapshot of the cache to object storage",
	Long: `export writes the cache tables as one JSON snapshot under <prefix>/cache/.
With --list it prints the stored snapshots instead; --keep deletes all but
the newest N snapshots after exporting.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(runExport)
	},
}

func init() {
	statsCmd.Flags().IntVar(&windowDays, "window", 0, "days of lookup history to summarize (defaults from config)")
	expireCmd.Flags().IntVar(&olderThan, "older-than", 0, "days since last use or validation (defaults from config)")
	expireCmd.Flags().IntVar(&usageFloor, "usage-floor", -1, "entries used at least this often survive (defaults from config)")
	exportCmd.Flags().BoolVar(&listExports, "list", false, "list stored snapshots and exit")
	exportCmd.Flags().IntVar(&keepExports, "keep", 0, "keep only the newest N snapshots, 0 keeps all")

	rootCmd.AddCommand(statsCmd, expireCmd, exportCmd)
}

func runStats(ctx context.Context, a *app.App) error {
	window := windowDays
	if window <= 0 {
		window = a.Config.Cache.StatsWindowDays
	}
	stats, err := a.Cache.Stats(ctx, window)
	if err != nil {
		return err
	}
	runs, err := a.Runs.ListRecent(ctx, 5)
	if err != nil {
		return err
	}
	if jsonOutput {
		return printJSON(map[string]any{"cache": stats, "recent_runs": runs})
	}

	fmt.Println("Cache")
	fmt.Printf("  topics           %s\n", humanize.Comma(stats.TotalTopics))
	fmt.Printf("  images           %s (%s valid)\n", humanize.Comma(stats.TotalImages), humanize.Comma(stats.ValidImages))
	fmt.Printf("  usage            avg %.1f, max %s\n", stats.AvgUsage, humanize.Comma(stats.MaxUsage))
	fmt.Printf("  last %d days      %s lookups, %.0f%% hits, %s suggestion calls\n",
		stats.WindowDays, humanize.Comma(stats.WindowLookups), stats.WindowHitRate*100,
		humanize.Comma(stats.SuggestionCalls))

	if len(runs) > 0 {
		fmt.Println("Recent runs")
		for _, r := range runs {
			fmt.Printf("  %s  %-7s %-9s %s, %d replaced, %d removed\n",
				r.ID[:8], r.Kind, r.Status, humanize.Time(r.StartedAt), r.Replaced, r.Removed)
		}
	}

	if a.Suggestions != nil {
		strategies := a.Suggestions.StrategyStats()
		sort.SliceStable(strategies, func(i, j int) bool { return strategies[i].SuccessRate > strategies[j].SuccessRate })
		fmt.Println("Suggestion strategies (this process)")
		for _, s := range strategies {
			fmt.Printf("  %-12s %d/%d\n", s.Name, s.Successes, s.Attempts)
		}
	}
	return nil
}

func runExpire(ctx context.Context, a *app.App) error {
	days := olderThan
	if days <= 0 {
		days = a.Config.Cache.RetentionDays
	}
	floor := usageFloor
	if floor < 0 {
		floor = a.Config.Cache.UsageFloor
	}
	cutoff := time.Now().UTC().AddDate(0, 0, -days)

	removed, err := a.Cache.Expire(ctx, cutoff, floor)
	if err != nil {
		return err
	}
	if jsonOutput {
		return printJSON(map[string]any{"removed": removed, "cutoff": cutoff, "usage_floor": floor})
	}
	fmt.Printf("Removed %s cache entries unused since %s with fewer than %d uses\n",
		humanize.Comma(removed), humanize.Time(cutoff), floor)
	return nil
}

func runExport(ctx context.Context, a *app.App) error {
	if a.Exporter == nil {
		return fmt.Errorf("object storage is not configured, set storage.type and storage.bucket")
	}
	if listExports {
		return printExports(ctx, a)
	}

	key, err := a.Exporter.ExportCache(ctx)
	if err != nil {
		return err
	}
	pruned := 0
	if keepExports > 0 {
		if pruned, err = a.Exporter.PruneExports(ctx, keepExports); err != nil {
			return fmt.Errorf("exported %s but pruning failed: %w", key, err)
		}
	}
	if jsonOutput {
		return printJSON(map[string]any{"key": key, "url": a.Exporter.URL(key), "pruned": pruned})
	}
	fmt.Printf("Cache exported to %s\n", a.Exporter.URL(key))
	if pruned > 0 {
		fmt.Printf("Deleted %d older snapshots\n", pruned)
	}
	return nil
}

func printExports(ctx context.Context, a *app.App) error {
	objects, err := a.Exporter.ListExports(ctx)
	if err != nil {
		return err
	}
	if jsonOutput {
		return printJSON(objects)
	}
	if len(objects) == 0 {
		fmt.Println("No snapshots stored")
		return nil
	}
	var total uint64
	for _, o := range objects {
		total += uint64(o.Size)
		fmt.Printf("  %-60s %10s  %s\n", o.Key, humanize.Bytes(uint64(o.Size)), humanize.Time(o.LastModified))
	}
	fmt.Printf("%d snapshots, %s\n", len(objects), humanize.Bytes(total))
	return nil
}
