// Command surveygen batch-converts questionnaire documents into SurveyJS
// survey definitions with the Gemini API.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"google.golang.org/genai"

	surveygen "github.com/vireona/surveygen"
)

var (
	flagModel           string
	flagOutput          string
	flagCacheDir        string
	flagConcurrency     int
	flagAllExamples     bool
	flagExamples        []string
	flagExamplesDir     string
	flagDefaultPages    string
	flagDefaultPagesDir string
	flagLogLevel        string
	flagNoStats         bool
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(2)
	}
}

func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "surveygen <input-dir>",
		Short:         "Generate SurveyJS surveys from questionnaire documents",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          run,
	}

	cmd.Flags().StringVar(&flagModel, "model", "", "model to use (default from config)")
	cmd.Flags().StringVarP(&flagOutput, "output", "o", "", "output directory")
	cmd.Flags().StringVar(&flagCacheDir, "cache-dir", "", "cache directory")
	cmd.Flags().IntVarP(&flagConcurrency, "concurrency", "c", 0, "maximum parallel jobs")
	cmd.Flags().BoolVar(&flagAllExamples, "all-examples", false, "use every example survey")
	cmd.Flags().StringSliceVar(&flagExamples, "examples", nil, "example surveys to use (relative paths)")
	cmd.Flags().StringVar(&flagExamplesDir, "examples-dir", "", "directory holding example surveys")
	cmd.Flags().StringVar(&flagDefaultPages, "default-pages", "none", "comma-separated default pages, or 'none'")
	cmd.Flags().StringVar(&flagDefaultPagesDir, "default-pages-dir", "", "directory holding default page templates")
	cmd.Flags().StringVar(&flagLogLevel, "log-level", "info", "log level (debug, info, warn, error)")
	cmd.Flags().BoolVar(&flagNoStats, "no-stats", false, "suppress the usage statistics summary")
	return cmd
}

func run(cmd *cobra.Command, args []string) error {
	// A missing .env is fine; the environment may be set directly.
	_ = godotenv.Load()

	log := newLogger(flagLogLevel)
	slog.SetDefault(log)

	cfg, err := surveygen.LoadConfig()
	if err != nil {
		return err
	}
	applyFlags(cfg)
	if err := cfg.Validate(); err != nil {
		return err
	}

	inputDir := args[0]
	if info, err := os.Stat(inputDir); err != nil || !info.IsDir() {
		return fmt.Errorf("input directory %s does not exist", inputDir)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	report, stats, err := execute(ctx, cfg, inputDir, log)
	if err != nil {
		return err
	}

	fmt.Print(report.Summary())
	if !flagNoStats {
		fmt.Print(stats.Summary(cfg.Model))
	}
	os.Exit(report.ExitCode())
	return nil
}

func execute(ctx context.Context, cfg *surveygen.Config, inputDir string, log *slog.Logger) (*surveygen.BatchReport, *surveygen.StatsCollector, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("create client: %w", err)
	}

	store, err := surveygen.NewStore(cfg.CacheDir, surveygen.WithStoreLogger(log))
	if err != nil {
		return nil, nil, err
	}
	gw := surveygen.NewGateway(
		surveygen.NewGenaiService(client, log),
		store,
		surveygen.WithCallTimeout(cfg.CallTimeout),
		surveygen.WithGatewayLogger(log),
	)

	examples, err := loadExamples(cfg, log)
	if err != nil {
		return nil, nil, err
	}
	defaultPages, err := loadDefaultPages(cfg, log)
	if err != nil {
		return nil, nil, err
	}

	prompts, err := surveygen.DefaultPromptProvider()
	if err != nil {
		return nil, nil, err
	}
	writer, err := surveygen.NewArtifactWriter(cfg.OutputDir)
	if err != nil {
		return nil, nil, err
	}

	stats := surveygen.NewStatsCollector()
	pipe, err := surveygen.NewPipeline(gw, prompts, writer, surveygen.PipelineConfig{
		Model:        cfg.Model,
		Examples:     examples,
		DefaultPages: defaultPages,
		Stats:        stats,
		Log:          log,
	})
	if err != nil {
		return nil, nil, err
	}

	inputs, err := surveygen.ListInputs(inputDir)
	if err != nil {
		return nil, nil, err
	}

	engine := surveygen.NewEngine(pipe, cfg.Concurrency, log)
	return engine.Execute(ctx, inputs), stats, nil
}

func loadExamples(cfg *surveygen.Config, log *slog.Logger) (*surveygen.ExampleSet, error) {
	if !flagAllExamples && len(flagExamples) == 0 {
		return &surveygen.ExampleSet{}, nil
	}
	set, err := surveygen.LoadExampleSet(cfg.ExamplesDir, flagExamples)
	if err != nil {
		return nil, err
	}
	surveygen.LogExampleSet(log, set)
	return set, nil
}

func loadDefaultPages(cfg *surveygen.Config, log *slog.Logger) (string, error) {
	if strings.EqualFold(flagDefaultPages, "none") || flagDefaultPages == "" {
		log.Info("skipping default pages")
		return "", nil
	}
	var names []string
	for _, name := range strings.Split(flagDefaultPages, ",") {
		if name = strings.TrimSpace(name); name != "" {
			names = append(names, name)
		}
	}
	pages := surveygen.LoadDefaultPages(names, cfg.DefaultPagesDir, log)
	return surveygen.FormatPagesForPrompt(pages)
}

func applyFlags(cfg *surveygen.Config) {
	if flagModel != "" {
		cfg.Model = flagModel
	}
	if flagOutput != "" {
		cfg.OutputDir = flagOutput
	}
	if flagCacheDir != "" {
		cfg.CacheDir = flagCacheDir
	}
	if flagConcurrency > 0 {
		cfg.Concurrency = flagConcurrency
	}
	if flagExamplesDir != "" {
		cfg.ExamplesDir = flagExamplesDir
	}
	if flagDefaultPagesDir != "" {
		cfg.DefaultPagesDir = flagDefaultPagesDir
	}
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
