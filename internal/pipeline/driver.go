package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mik-tf/video-to-guide-pipeline/internal/config"
	"github.com/mik-tf/video-to-guide-pipeline/internal/extract"
	"github.com/mik-tf/video-to-guide-pipeline/internal/guide"
	"github.com/mik-tf/video-to-guide-pipeline/internal/transcribe"
	"github.com/mik-tf/video-to-guide-pipeline/internal/whisper"
)

// audioExtractor is the slice of extract.Extractor the driver needs.
type audioExtractor interface {
	Validate(ctx context.Context, videoPath string) error
	Extract(ctx context.Context, videoPath, audioPath string) error
}

// Driver runs the full video-to-guide pipeline: audio extraction,
// transcription through a fallback chain, and guide generation
// through a fallback chain.
type Driver struct {
	cfg           config.Config
	logger        *zap.Logger
	extractor     audioExtractor
	transcription []transcribe.Backend
	generation    []guide.Backend
}

// New builds a driver for the configured processing mode.
func New(cfg config.Config, logger *zap.Logger) (*Driver, error) {
	models := &whisper.Manager{
		ModelRef:     cfg.Transcription.Model,
		ModelDir:     cfg.Transcription.ModelDir,
		AutoDownload: cfg.Transcription.AutoDownload,
		NoProgress:   cfg.Processing.NoProgress,
		Logger:       logger,
	}

	transcription, generation, err := NewBackends(cfg, models, logger).Resolve(cfg.Processing.Mode)
	if err != nil {
		return nil, err
	}

	return &Driver{
		cfg:           cfg,
		logger:        logger,
		extractor:     extract.New(cfg.Audio, logger),
		transcription: transcription,
		generation:    generation,
	}, nil
}

// Result reports the outcome of processing one video. Err is set when
// the video failed; Skipped means an existing guide was kept.
type Result struct {
	Video                string
	GuidePath            string
	TranscriptPath       string
	TranscriptionBackend string
	GenerationBackend    string
	Quality              transcribe.Quality
	Elapsed              time.Duration
	Skipped              bool
	Err                  error
}

// Paths derives the per-video output locations from the video name.
type Paths struct {
	Audio      string
	Transcript string
	Guide      string
}

// sanitizeStem keeps derived filenames portable across filesystems.
func sanitizeStem(name string) string {
	var b strings.Builder
	b.Grow(len(name))
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-' || r == '_' || r == '.':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	stem := strings.Trim(b.String(), "._")
	if stem == "" {
		stem = "video"
	}
	return stem
}

func (d *Driver) pathsFor(videoPath string) Paths {
	stem := sanitizeStem(strings.TrimSuffix(filepath.Base(videoPath), filepath.Ext(videoPath)))
	out := d.cfg.Output
	return Paths{
		Audio:      filepath.Join(out.BaseDir, out.AudioDir, stem+"."+d.cfg.Audio.Format),
		Transcript: filepath.Join(out.BaseDir, out.TranscriptionDir, stem+".txt"),
		Guide:      filepath.Join(out.BaseDir, out.GuideDir, stem+"_guide.md"),
	}
}

// ProcessVideo runs the pipeline for a single video. A failure in one
// video never affects others; the error is carried in the result.
func (d *Driver) ProcessVideo(ctx context.Context, videoPath string) Result {
	start := time.Now()
	result := Result{Video: videoPath}
	logger := d.logger.With(zap.String("video", filepath.Base(videoPath)))

	paths := d.pathsFor(videoPath)
	result.GuidePath = paths.Guide
	result.TranscriptPath = paths.Transcript

	if !d.cfg.Processing.OverwriteExisting {
		if _, err := os.Stat(paths.Guide); err == nil {
			logger.Info("guide already exists, skipping", zap.String("guide", paths.Guide))
			result.Skipped = true
			result.Elapsed = time.Since(start)
			return result
		}
	}

	if err := d.extractor.Validate(ctx, videoPath); err != nil {
		result.Err = fmt.Errorf("validate video: %w", err)
		result.Elapsed = time.Since(start)
		return result
	}

	transcript, backend, err := d.transcribe(ctx, logger, videoPath, paths)
	if err != nil {
		result.Err = err
		result.Elapsed = time.Since(start)
		return result
	}
	result.TranscriptionBackend = backend
	result.Quality = transcript.Quality

	doc, backend, _, err := RunChain[guide.Request, *guide.Document](ctx, "guide generation", d.generation, guide.Request{
		Transcript:   transcript,
		VideoName:    filepath.Base(videoPath),
		TemplateName: d.cfg.GuideGeneration.Template.Name,
	}, logger)
	if err != nil {
		result.Err = err
		result.Elapsed = time.Since(start)
		return result
	}
	result.GenerationBackend = backend

	if err := doc.Save(paths.Guide, d.cfg.GuideGeneration.Template.Dir, d.cfg.GuideGeneration.Template.Name); err != nil {
		result.Err = err
		result.Elapsed = time.Since(start)
		return result
	}

	if !d.cfg.Processing.PreserveIntermediate {
		if err := os.Remove(paths.Audio); err != nil && !os.IsNotExist(err) {
			logger.Warn("could not remove intermediate audio", zap.Error(err))
		}
	}

	result.Elapsed = time.Since(start)
	logger.Info("guide generated",
		zap.String("guide", paths.Guide),
		zap.String("transcription_backend", result.TranscriptionBackend),
		zap.String("generation_backend", result.GenerationBackend),
		zap.Duration("elapsed", result.Elapsed))
	return result
}

// transcribe reuses a saved transcript when one exists, otherwise it
// extracts audio and runs the transcription chain.
func (d *Driver) transcribe(ctx context.Context, logger *zap.Logger, videoPath string, paths Paths) (*transcribe.Transcript, string, error) {
	if !d.cfg.Processing.OverwriteExisting {
		if transcript, err := transcribe.LoadExisting(paths.Transcript); err == nil {
			logger.Info("reusing existing transcript", zap.String("transcript", paths.Transcript))
			return transcript, transcript.Metadata.Backend, nil
		}
	}

	if err := d.extractor.Extract(ctx, videoPath, paths.Audio); err != nil {
		return nil, "", fmt.Errorf("extract audio: %w", err)
	}
	d.warnIfSilent(logger, paths.Audio)

	language := d.cfg.Transcription.Language
	if language == "auto" {
		language = ""
	}

	transcript, backend, _, err := RunChain[transcribe.Request, *transcribe.Transcript](ctx, "transcription", d.transcription, transcribe.Request{
		AudioPath: paths.Audio,
		Language:  language,
	}, logger)
	if err != nil {
		return nil, "", err
	}

	issues := transcript.Validate(transcribe.ValidationThresholds{
		MinLength:     d.cfg.Transcription.MinLength,
		MinConfidence: d.cfg.Transcription.MinConfidence,
		Language:      d.cfg.Transcription.Language,
	})
	for _, issue := range issues {
		logger.Warn("transcript quality issue", zap.String("issue", issue))
	}

	if err := transcript.Save(paths.Transcript); err != nil {
		return nil, "", fmt.Errorf("save transcript: %w", err)
	}

	return transcript, backend, nil
}

const silenceThresholdDBFS = -65

// warnIfSilent flags extracted audio with no measurable signal. The
// pipeline still runs; an empty transcript is reported by validation.
func (d *Driver) warnIfSilent(logger *zap.Logger, audioPath string) {
	if !strings.EqualFold(d.cfg.Audio.Format, "wav") {
		return
	}

	metrics, err := extract.AnalyzeSilence(audioPath)
	if err != nil {
		logger.Debug("silence analysis failed", zap.Error(err))
		return
	}
	if metrics.SilentBelow(silenceThresholdDBFS) {
		logger.Warn("extracted audio is near-silent",
			zap.Float64("rms_dbfs", metrics.RMSdBFS),
			zap.Float64("peak_dbfs", metrics.PeakdBFS))
	}
}

// ProcessBatch processes videos with a bounded worker pool. Results
// are returned in input order.
func (d *Driver) ProcessBatch(ctx context.Context, videoPaths []string) []Result {
	workers := d.cfg.Processing.ParallelWorkers
	if workers < 1 {
		workers = 1
	}
	if workers > len(videoPaths) {
		workers = len(videoPaths)
	}

	results := make([]Result, len(videoPaths))
	jobs := make(chan int)

	var wg sync.WaitGroup
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				results[i] = d.ProcessVideo(ctx, videoPaths[i])
			}
		}()
	}

	for i := range videoPaths {
		select {
		case jobs <- i:
		case <-ctx.Done():
			for j := i; j < len(videoPaths); j++ {
				results[j] = Result{Video: videoPaths[j], Err: ctx.Err()}
			}
			close(jobs)
			wg.Wait()
			return results
		}
	}
	close(jobs)
	wg.Wait()
	return results
}

// Summary aggregates a batch run.
type Summary struct {
	Total     int
	Succeeded int
	Skipped   int
	Failed    int
	Elapsed   time.Duration
}

func Summarize(results []Result) Summary {
	summary := Summary{Total: len(results)}
	for _, result := range results {
		summary.Elapsed += result.Elapsed
		switch {
		case result.Err != nil:
			summary.Failed++
		case result.Skipped:
			summary.Skipped++
		default:
			summary.Succeeded++
		}
	}
	return summary
}
