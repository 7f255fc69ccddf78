package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/timmy/slidefix/internal/app"
	"github.com/timmy/slidefix/internal/config"
	"github.com/timmy/slidefix/internal/logger"
	"github.com/timmy/slidefix/internal/source"
	"github.com/timmy/slidefix/internal/source/htmldir"
	"github.com/timmy/slidefix/internal/source/staging"
)

var (
	configPath string
	sourceType string
	inputPath  string
	stagingID  string
	outputPath string
	limit      int
	jsonOutput bool
)

var rootCmd = &cobra.Command{
	Use:   "slidefix",
	Short: "Find and repair broken images in HTML slide decks",
	Long: `slidefix checks every <img> in a set of HTML documents, replaces broken
images with cached, similar-topic, suggested or stock images, and keeps a
topic-keyed cache of images known to load.`,
	SilenceUsage: true,
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&configPath, "config", os.Getenv("CONFIG_PATH"), "path to config file")
	pf.BoolVar(&jsonOutput, "json", false, "print reports as JSON")
}

// addSourceFlags registers the document source flags on commands that read documents.
func addSourceFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.StringVar(&sourceType, "source", "htmldir", "document source: htmldir or staging")
	f.StringVar(&inputPath, "input", "", "htmldir root or staging base path (defaults from config)")
	f.StringVar(&stagingID, "staging-id", "", "staging source id under the base path")
	f.IntVar(&limit, "limit", 0, "maximum number of documents, 0 for all")
}

func main() {
	logger.SetDefaultLogger(logger.NewFromEnv(logger.LoadFromEnv()))
	defer logger.Sync()

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// withApp loads config, wires the services and runs fn with a context
// cancelled on SIGINT or SIGTERM.
func withApp(fn func(ctx context.Context, a *app.App) error) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log := logger.GetDefault().WithField(logger.FieldComponent, "cli")
	ctx = log.WithContext(ctx)

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

// openSource builds the document source selected by the flags.
func openSource(cfg *config.Config) (source.Source, source.Sink, error) {
	switch sourceType {
	case "htmldir":
		root := inputPath
		if root == "" {
			root = cfg.Sources.HTMLDir.Path
		}
		a := htmldir.NewAdapter(root, outputPath)
		return a, a, nil
	case "staging":
		base := inputPath
		if base == "" {
			base = cfg.Sources.Staging.BasePath
		}
		if stagingID == "" {
			ids, err := staging.ListStagingSources(base)
			if err != nil {
				return nil, nil, err
			}
			if len(ids) != 1 {
				return nil, nil, fmt.Errorf("--staging-id is required, found %d staging sources in %s", len(ids), base)
			}
			stagingID = ids[0]
		}
		a := staging.NewAdapter(base, stagingID)
		return a, a, nil
	default:
		return nil, nil, fmt.Errorf("unknown source %q", sourceType)
	}
}
