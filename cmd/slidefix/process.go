package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"github.com/timmy/slidefix/internal/app"
	"github.com/timmy/slidefix/internal/domain"
	"github.com/timmy/slidefix/internal/source"
)

const fetchBatchSize = 50

var (
	docTimeout time.Duration
	dryRun     bool
	archive    bool
)

var processCmd = &cobra.Command{
	Use:   "process",
	Short: "Repair broken images and write the documents back",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(runProcess)
	},
}

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Report broken images without changing anything",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(runAudit)
	},
}

func init() {
	addSourceFlags(processCmd)
	processCmd.Flags().StringVar(&outputPath, "output", "", "htmldir output directory, defaults to rewriting in place")
	processCmd.Flags().DurationVar(&docTimeout, "timeout", 0, "time budget per document (defaults from config)")
	processCmd.Flags().BoolVar(&dryRun, "dry-run", false, "repair in memory but do not write documents")
	processCmd.Flags().BoolVar(&archive, "archive", false, "archive the report to object storage")

	addSourceFlags(auditCmd)
	auditCmd.Flags().BoolVar(&archive, "archive", false, "archive the report to object storage")

	rootCmd.AddCommand(processCmd, auditCmd)
}

func loadDocuments(ctx context.Context, a *app.App) ([]domain.Document, source.Sink, error) {
	src, sink, err := openSource(a.Config)
	if err != nil {
		return nil, nil, err
	}
	docs, err := source.FetchAll(ctx, src, fetchBatchSize, limit)
	if err != nil {
		return nil, nil, err
	}
	a.Logger.WithField("documents", len(docs)).Infof("Loaded documents from %s", src.GetDisplayName())
	return docs, sink, nil
}

func runProcess(ctx context.Context, a *app.App) error {
	docs, sink, err := loadDocuments(ctx, a)
	if err != nil {
		return err
	}

	out, report := a.Pipeline.Process(ctx, docs, docTimeout)

	changed := make([]domain.Document, 0, report.DocumentsChanged)
	for i := range out {
		if out[i].HTML != docs[i].HTML {
			changed = append(changed, out[i])
		}
	}
	if !dryRun && len(changed) > 0 {
		if err := sink.WriteDocuments(ctx, changed); err != nil {
			return fmt.Errorf("failed to write documents: %w", err)
		}
	}

	if archive {
		archiveReport(ctx, a, report.RunID, report)
	}
	if jsonOutput {
		return printJSON(report)
	}

	fmt.Printf("Run %s: %s documents in %s\n", report.RunID,
		humanize.Comma(int64(report.TotalDocuments)),
		report.EndTime.Sub(report.StartTime).Round(time.Millisecond))
	fmt.Printf("  images checked   %s\n", humanize.Comma(int64(report.ImagesChecked)))
	fmt.Printf("  broken           %s\n", humanize.Comma(int64(report.FailuresFound)))
	fmt.Printf("  replaced         %s (%d stock)\n", humanize.Comma(int64(report.Replaced)), report.Fallbacks)
	fmt.Printf("  removed          %s\n", humanize.Comma(int64(report.Removed)))
	fmt.Printf("  left as is       %s\n", humanize.Comma(int64(report.LeftAsIs)))
	fmt.Printf("  cache hits       %s, similar topics %s, suggestion calls %s\n",
		humanize.Comma(int64(report.CacheHits)),
		humanize.Comma(int64(report.SimilarityHits)),
		humanize.Comma(int64(report.SuggestionCalls)))
	switch {
	case dryRun:
		fmt.Printf("  %d documents would change (dry run)\n", len(changed))
	default:
		fmt.Printf("  %d documents written\n", len(changed))
	}
	if report.PartialDocuments > 0 {
		fmt.Printf("  %d documents ran out of time\n", report.PartialDocuments)
	}
	for _, e := range report.Errors {
		fmt.Printf("  error: %s\n", e)
	}
	return nil
}

func runAudit(ctx context.Context, a *app.App) error {
	docs, _, err := loadDocuments(ctx, a)
	if err != nil {
		return err
	}

	report := a.Pipeline.ValidatePresentation(ctx, docs)
	if archive {
		archiveReport(ctx, a, report.RunID, report)
	}
	if jsonOutput {
		return printJSON(report)
	}

	fmt.Printf("Audit %s: %s images in %s documents (%s)\n", report.RunID,
		humanize.Comma(int64(report.TotalImages)),
		humanize.Comma(int64(report.TotalDocuments)),
		report.Elapsed.Round(time.Millisecond))
	fmt.Printf("  valid %s, invalid %s, format problems %s\n",
		humanize.Comma(int64(report.ValidImages)),
		humanize.Comma(int64(report.InvalidImages)),
		humanize.Comma(int64(report.FormatFailures)))
	for _, d := range report.Documents {
		if d.Invalid == 0 {
			continue
		}
		fmt.Printf("  %s (%s): %d broken\n", d.DocumentID, d.SlideType, d.Invalid)
		for _, img := range d.Images {
			if !img.Valid {
				fmt.Printf("    %s [%s]\n", img.Src, img.ErrorCategory)
			}
		}
	}
	for _, r := range report.Recommendations {
		fmt.Printf("  * %s\n", r)
	}
	return nil
}

func archiveReport(ctx context.Context, a *app.App, runID string, report any) {
	if a.Exporter == nil {
		a.Logger.Warn("Archive requested but object storage is not configured")
		return
	}
	key, err := a.Exporter.ArchiveReport(ctx, runID, report)
	if err != nil {
		a.Logger.WithError(err).Warn("Failed to archive report")
		return
	}
	fmt.Fprintf(os.Stderr, "report archived to %s\n", key)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
