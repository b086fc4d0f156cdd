package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/mik-tf/video-to-guide-pipeline/internal/config"
	"github.com/mik-tf/video-to-guide-pipeline/internal/logging"
	"github.com/mik-tf/video-to-guide-pipeline/internal/pipeline"
	"github.com/mik-tf/video-to-guide-pipeline/internal/version"

	"github.com/spf13/cobra"
)

const roundTo = 100 * time.Millisecond

var videoExtensions = map[string]bool{
	".mp4":  true,
	".mkv":  true,
	".mov":  true,
	".avi":  true,
	".webm": true,
	".m4v":  true,
}

type appState struct {
	configPath   string
	input        string
	batch        bool
	mode         string
	templateName string
	overwrite    bool
	preserve     bool
	workers      int
	model        string
	modelDir     string
	language     string
	verbose      bool
	jsonLogs     bool
	noProgress   bool
	systemInfo   bool

	logger *zap.Logger
	out    io.Writer

	processFn func(ctx context.Context, cfg config.Config, logger *zap.Logger, videos []string) []pipeline.Result
}

func NewRootCmd() *cobra.Command {
	app := &appState{
		out: os.Stdout,
	}
	app.processFn = runPipeline

	cmd := &cobra.Command{
		Use:           "vid2guide",
		Short:         "Turn videos into markdown guides via transcription",
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       version.Resolve(),
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			logger, err := logging.New(logging.Options{Verbose: app.verbose, JSON: app.jsonLogs})
			if err != nil {
				return fmt.Errorf("initialize logger: %w", err)
			}
			app.logger = logger
			return nil
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			if app.systemInfo {
				return printSystemInfo(app, cmd.OutOrStdout())
			}
			return app.runProcess(cmd.Context())
		},
	}

	cmd.SetVersionTemplate("{{.Name}} v{{.Version}}\n")

	bindLoggingFlags(cmd, app)
	bindProgressFlag(cmd, app)
	bindInputFlags(cmd, app)
	bindProcessingFlags(cmd, app)
	bindTranscriptionFlags(cmd, app)

	// Flag alias for the system-info subcommand.
	cmd.Flags().BoolVar(&app.systemInfo, "system-info", app.systemInfo, "Show which pipeline dependencies are available, then exit")

	cmd.AddCommand(newSystemInfoCmd(app))
	cmd.AddCommand(newVersionCmd())

	return cmd
}

func bindLoggingFlags(cmd *cobra.Command, app *appState) {
	cmd.Flags().BoolVar(&app.verbose, "verbose", app.verbose, "Enable verbose logs")
	cmd.Flags().BoolVar(&app.jsonLogs, "json", app.jsonLogs, "Enable JSON logging")
}

func bindProgressFlag(cmd *cobra.Command, app *appState) {
	cmd.Flags().BoolVar(&app.noProgress, "no-progress", app.noProgress, "Disable progress indicators")
}

func bindInputFlags(cmd *cobra.Command, app *appState) {
	cmd.Flags().StringVar(&app.input, "input", app.input, "Video file, or a directory with --batch")
	cmd.Flags().BoolVar(&app.batch, "batch", app.batch, "Process every video in the input directory")
	cmd.Flags().StringVar(&app.configPath, "config", app.configPath, "Path to a YAML configuration file")
}

func bindProcessingFlags(cmd *cobra.Command, app *appState) {
	cmd.Flags().StringVar(&app.mode, "mode", app.mode, "Processing mode: "+strings.Join(config.ModeNames(), "|"))
	cmd.Flags().StringVar(&app.templateName, "template", app.templateName, "Guide template name")
	cmd.Flags().BoolVar(&app.overwrite, "overwrite", app.overwrite, "Regenerate guides and transcripts that already exist")
	cmd.Flags().BoolVar(&app.preserve, "preserve-intermediate", app.preserve, "Keep extracted audio files after processing")
	cmd.Flags().IntVar(&app.workers, "workers", app.workers, "Parallel workers for batch processing (0 uses the configured value)")
}

func bindTranscriptionFlags(cmd *cobra.Command, app *appState) {
	cmd.Flags().StringVar(&app.model, "model", app.model, "Whisper model name or model file path")
	cmd.Flags().StringVar(&app.modelDir, "model-dir", app.modelDir, "Directory where whisper models are stored")
	cmd.Flags().StringVar(&app.language, "language", app.language, "Language code (auto|en|de|...) for transcription")
}

// loadConfig reads the configuration and layers flag overrides on
// top. Flags win over the file, which wins over defaults.
func (a *appState) loadConfig() (config.Config, error) {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return config.Config{}, err
	}

	if a.mode != "" {
		mode, err := config.ParseMode(a.mode)
		if err != nil {
			return config.Config{}, err
		}
		cfg.Processing.Mode = mode
	}
	if a.templateName != "" {
		cfg.GuideGeneration.Template.Name = a.templateName
	}
	if a.overwrite {
		cfg.Processing.OverwriteExisting = true
	}
	if a.preserve {
		cfg.Processing.PreserveIntermediate = true
	}
	if a.workers > 0 {
		cfg.Processing.ParallelWorkers = a.workers
	}
	if a.model != "" {
		cfg.Transcription.Model = a.model
	}
	if a.modelDir != "" {
		cfg.Transcription.ModelDir = a.modelDir
	}
	if a.language != "" {
		cfg.Transcription.Language = a.language
	}
	if a.noProgress {
		cfg.Processing.NoProgress = true
	}

	return cfg, nil
}

func (a *appState) runProcess(ctx context.Context) error {
	cfg, err := a.loadConfig()
	if err != nil {
		return err
	}

	logger, err := logging.New(logging.Options{
		Level:   cfg.Logging.Level,
		Verbose: a.verbose,
		JSON:    a.jsonLogs || cfg.Logging.JSON,
		File:    cfg.Logging.File,
	})
	if err != nil {
		return fmt.Errorf("initialize logger: %w", err)
	}
	a.logger = logger

	videos, err := collectVideos(a.input, a.batch)
	if err != nil {
		return err
	}

	logger.Info("processing videos",
		zap.Int("count", len(videos)),
		zap.String("mode", string(cfg.Processing.Mode)))

	stop := startSpinner(a.progressEnabled(), fmt.Sprintf("processing %d video(s)", len(videos)))
	results := a.processFn(ctx, cfg, logger, videos)
	stop()

	a.printSummary(results)

	summary := pipeline.Summarize(results)
	if summary.Failed > 0 {
		return fmt.Errorf("%d of %d videos failed", summary.Failed, summary.Total)
	}
	return nil
}

func runPipeline(ctx context.Context, cfg config.Config, logger *zap.Logger, videos []string) []pipeline.Result {
	driver, err := pipeline.New(cfg, logger)
	if err != nil {
		results := make([]pipeline.Result, len(videos))
		for i, video := range videos {
			results[i] = pipeline.Result{Video: video, Err: err}
		}
		return results
	}
	return driver.ProcessBatch(ctx, videos)
}

// collectVideos resolves the input flag into an ordered list of video
// files. Batch mode scans one directory level for known extensions.
func collectVideos(input string, batch bool) ([]string, error) {
	if strings.TrimSpace(input) == "" {
		return nil, fmt.Errorf("--input is required")
	}

	info, err := os.Stat(input)
	if err != nil {
		return nil, fmt.Errorf("input %s: %w", input, err)
	}

	if !batch {
		if info.IsDir() {
			return nil, fmt.Errorf("input %s is a directory; use --batch to process it", input)
		}
		return []string{input}, nil
	}

	if !info.IsDir() {
		return nil, fmt.Errorf("--batch requires a directory, got file %s", input)
	}

	entries, err := os.ReadDir(input)
	if err != nil {
		return nil, fmt.Errorf("read input directory: %w", err)
	}

	var videos []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if videoExtensions[strings.ToLower(filepath.Ext(entry.Name()))] {
			videos = append(videos, filepath.Join(input, entry.Name()))
		}
	}
	sort.Strings(videos)

	if len(videos) == 0 {
		return nil, fmt.Errorf("no video files found in %s", input)
	}
	return videos, nil
}

func (a *appState) printSummary(results []pipeline.Result) {
	out := a.outWriter()
	summary := pipeline.Summarize(results)

	fmt.Fprintln(out)
	for _, result := range results {
		name := filepath.Base(result.Video)
		switch {
		case result.Err != nil:
			fmt.Fprintf(out, "  FAIL  %s: %v\n", name, result.Err)
		case result.Skipped:
			fmt.Fprintf(out, "  SKIP  %s: guide already exists\n", name)
		default:
			fmt.Fprintf(out, "  OK    %s -> %s (%s + %s, %s)\n",
				name, result.GuidePath,
				result.TranscriptionBackend, result.GenerationBackend,
				result.Elapsed.Round(roundTo))
		}
	}
	fmt.Fprintf(out, "\n%d processed: %d succeeded, %d skipped, %d failed\n",
		summary.Total, summary.Succeeded, summary.Skipped, summary.Failed)
}

func (a *appState) progressEnabled() bool {
	if a.noProgress {
		return false
	}
	return term.IsTerminal(int(os.Stderr.Fd()))
}

func (a *appState) outWriter() io.Writer {
	if a.out == nil {
		return os.Stdout
	}
	return a.out
}
