package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
)

type StreamInfo struct {
	CodecType  string `json:"codec_type"`
	CodecName  string `json:"codec_name"`
	Width      int    `json:"width"`
	Height     int    `json:"height"`
	SampleRate string `json:"sample_rate"`
	Channels   int    `json:"channels"`
	FrameRate  string `json:"r_frame_rate"`
}

type VideoInfo struct {
	Path      string
	SizeBytes int64
	Duration  float64
	Video     *StreamInfo
	Audio     *StreamInfo
}

type probeOutput struct {
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
	Streams []StreamInfo `json:"streams"`
}

// Probe reads container and stream metadata with ffprobe.
func (e *Extractor) Probe(ctx context.Context, videoPath string) (VideoInfo, error) {
	stat, err := os.Stat(videoPath)
	if err != nil {
		return VideoInfo{}, &ExtractError{VideoPath: videoPath, Err: err}
	}

	cmd := exec.CommandContext(ctx, e.ffprobePath,
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		videoPath,
	)
	out, err := cmd.Output()
	if err != nil {
		return VideoInfo{}, &ExtractError{VideoPath: videoPath, Err: fmt.Errorf("ffprobe: %w", err)}
	}

	var parsed probeOutput
	if err := json.Unmarshal(out, &parsed); err != nil {
		return VideoInfo{}, &ExtractError{VideoPath: videoPath, Err: fmt.Errorf("parse ffprobe output: %w", err)}
	}

	info := VideoInfo{
		Path:      videoPath,
		SizeBytes: stat.Size(),
	}
	if d, err := strconv.ParseFloat(strings.TrimSpace(parsed.Format.Duration), 64); err == nil {
		info.Duration = d
	}
	for i := range parsed.Streams {
		stream := parsed.Streams[i]
		switch stream.CodecType {
		case "video":
			if info.Video == nil {
				info.Video = &stream
			}
		case "audio":
			if info.Audio == nil {
				info.Audio = &stream
			}
		}
	}

	return info, nil
}

// Validate checks that a video is suitable for processing: readable,
// non-empty, inside the configured duration bounds, and carrying an
// audio stream.
func (e *Extractor) Validate(ctx context.Context, videoPath string) error {
	stat, err := os.Stat(videoPath)
	if err != nil {
		return &ExtractError{VideoPath: videoPath, Err: err}
	}
	if stat.Size() == 0 {
		return &ExtractError{VideoPath: videoPath, Err: fmt.Errorf("video file is empty")}
	}

	info, err := e.Probe(ctx, videoPath)
	if err != nil {
		return err
	}

	if e.cfg.MinDuration > 0 && info.Duration < e.cfg.MinDuration {
		return &ExtractError{VideoPath: videoPath, Err: fmt.Errorf("video too short: %.1fs (minimum %.0fs)", info.Duration, e.cfg.MinDuration)}
	}
	if e.cfg.MaxDuration > 0 && info.Duration > e.cfg.MaxDuration {
		return &ExtractError{VideoPath: videoPath, Err: fmt.Errorf("video too long: %.1fs (maximum %.0fs)", info.Duration, e.cfg.MaxDuration)}
	}
	if info.Audio == nil {
		return &ExtractError{VideoPath: videoPath, Err: fmt.Errorf("no audio stream found")}
	}

	return nil
}
