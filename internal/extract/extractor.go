package extract

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/mik-tf/video-to-guide-pipeline/internal/config"
)

// ExtractError reports a failed audio extraction for one video.
type ExtractError struct {
	VideoPath string
	Err       error
}

func (e *ExtractError) Error() string {
	return fmt.Sprintf("extract audio from %s: %v", e.VideoPath, e.Err)
}

func (e *ExtractError) Unwrap() error { return e.Err }

// Extractor pulls a mono PCM track out of a video file with ffmpeg,
// tuned for speech recognition input.
type Extractor struct {
	cfg    config.AudioConfig
	logger *zap.Logger

	ffmpegPath  string
	ffprobePath string
}

func New(cfg config.AudioConfig, logger *zap.Logger) *Extractor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Extractor{
		cfg:         cfg,
		logger:      logger,
		ffmpegPath:  "ffmpeg",
		ffprobePath: "ffprobe",
	}
}

func (e *Extractor) Available() bool {
	return commandAvailable(e.ffmpegPath)
}

// Extract writes the audio track of videoPath to audioPath. The
// output is deterministic for identical input and settings.
func (e *Extractor) Extract(ctx context.Context, videoPath, audioPath string) error {
	if err := os.MkdirAll(filepath.Dir(audioPath), 0o755); err != nil {
		return &ExtractError{VideoPath: videoPath, Err: err}
	}

	args := e.buildArgs(videoPath, audioPath)
	e.logger.Debug("running ffmpeg", zap.Strings("args", args))

	cmd := exec.CommandContext(ctx, e.ffmpegPath, args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		trimmed := strings.TrimSpace(string(out))
		if trimmed != "" {
			err = fmt.Errorf("%w (%s)", err, lastLine(trimmed))
		}
		return &ExtractError{VideoPath: videoPath, Err: err}
	}

	info, err := os.Stat(audioPath)
	if err != nil {
		return &ExtractError{VideoPath: videoPath, Err: fmt.Errorf("ffmpeg produced no output: %w", err)}
	}
	if info.Size() == 0 {
		return &ExtractError{VideoPath: videoPath, Err: errors.New("ffmpeg produced an empty file")}
	}

	e.logger.Info("audio extracted",
		zap.String("video", filepath.Base(videoPath)),
		zap.String("audio", audioPath),
		zap.Int64("bytes", info.Size()),
	)
	return nil
}

// Duration reports the audio duration in seconds via ffprobe.
func (e *Extractor) Duration(ctx context.Context, audioPath string) (float64, error) {
	info, err := e.Probe(ctx, audioPath)
	if err != nil {
		return 0, err
	}
	return info.Duration, nil
}

// Segment copies one time window of audioPath into segmentPath,
// keeping the configured codec and sample layout.
func (e *Extractor) Segment(ctx context.Context, audioPath, segmentPath string, offset, duration float64) error {
	if err := os.MkdirAll(filepath.Dir(segmentPath), 0o755); err != nil {
		return &ExtractError{VideoPath: audioPath, Err: err}
	}

	args := e.buildSegmentArgs(audioPath, segmentPath, offset, duration)
	e.logger.Debug("running ffmpeg", zap.Strings("args", args))

	cmd := exec.CommandContext(ctx, e.ffmpegPath, args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		trimmed := strings.TrimSpace(string(out))
		if trimmed != "" {
			err = fmt.Errorf("%w (%s)", err, lastLine(trimmed))
		}
		return &ExtractError{VideoPath: audioPath, Err: err}
	}
	return nil
}

func (e *Extractor) buildArgs(videoPath, audioPath string) []string {
	return []string{
		"-nostdin", "-hide_banner", "-loglevel", "error",
		"-y",
		"-i", videoPath,
		"-vn",
		"-acodec", e.cfg.Codec,
		"-ar", strconv.Itoa(e.cfg.SampleRate),
		"-ac", strconv.Itoa(e.cfg.Channels),
		audioPath,
	}
}

func (e *Extractor) buildSegmentArgs(audioPath, segmentPath string, offset, duration float64) []string {
	return []string{
		"-nostdin", "-hide_banner", "-loglevel", "error",
		"-y",
		"-ss", formatSeconds(offset),
		"-t", formatSeconds(duration),
		"-i", audioPath,
		"-acodec", e.cfg.Codec,
		"-ar", strconv.Itoa(e.cfg.SampleRate),
		"-ac", strconv.Itoa(e.cfg.Channels),
		segmentPath,
	}
}

func formatSeconds(v float64) string {
	return strconv.FormatFloat(v, 'f', 3, 64)
}

func commandAvailable(name string) bool {
	_, err := exec.LookPath(name)
	return err == nil
}

func lastLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	return strings.TrimSpace(lines[len(lines)-1])
}
