package transcribe

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/mik-tf/video-to-guide-pipeline/internal/whisper"
)

// ErrUnavailable marks a backend that cannot serve requests at all
// (missing binary, unreachable endpoint, absent API key). The
// fallback chain treats it the same as a runtime failure.
var ErrUnavailable = errors.New("transcription backend unavailable")

var whisperCandidates = []string{"whisper-cli", "whisper-cpp", "whisper.cpp"}

// LocalWhisper transcribes audio by running a whisper.cpp CLI binary
// against a locally cached ggml model.
type LocalWhisper struct {
	Models        *whisper.Manager
	InvokeTimeout time.Duration
	Logger        *zap.Logger
}

func (l *LocalWhisper) Name() string { return "local-whisper" }

func (l *LocalWhisper) Timeout() time.Duration { return l.InvokeTimeout }

func (l *LocalWhisper) Available() bool {
	_, err := l.executable()
	return err == nil
}

func (l *LocalWhisper) executable() (string, error) {
	if override := strings.TrimSpace(os.Getenv("VID2GUIDE_WHISPER_PATH")); override != "" {
		if _, err := os.Stat(override); err != nil {
			return "", fmt.Errorf("%w: VID2GUIDE_WHISPER_PATH is not usable: %v", ErrUnavailable, err)
		}
		return override, nil
	}

	for _, candidate := range whisperCandidates {
		if path, err := exec.LookPath(candidate); err == nil {
			return path, nil
		}
	}

	return "", fmt.Errorf("%w: no whisper binary found on PATH (tried %s)", ErrUnavailable, strings.Join(whisperCandidates, ", "))
}

func (l *LocalWhisper) Invoke(ctx context.Context, req Request) (*Transcript, error) {
	logger := l.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	exe, err := l.executable()
	if err != nil {
		return nil, err
	}

	modelPath, err := l.Models.EnsureModel(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	outBase, err := os.CreateTemp("", "vid2guide-whisper-*")
	if err != nil {
		return nil, fmt.Errorf("create temp output: %w", err)
	}
	outPath := outBase.Name()
	_ = outBase.Close()
	_ = os.Remove(outPath)
	defer os.Remove(outPath + ".json")

	args := []string{"-m", modelPath, "-f", req.AudioPath, "-ojf", "-of", outPath, "-np"}
	if lang := strings.TrimSpace(req.Language); lang != "" && lang != "auto" {
		args = append(args, "-l", lang)
	}

	logger.Debug("running whisper", zap.String("binary", exe), zap.Strings("args", args))
	started := time.Now()

	cmd := exec.CommandContext(ctx, exe, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		detail := strings.TrimSpace(stderr.String())
		if detail != "" {
			return nil, fmt.Errorf("whisper transcription failed: %w (%s)", err, lastLine(detail))
		}
		return nil, fmt.Errorf("whisper transcription failed: %w", err)
	}

	data, err := os.ReadFile(outPath + ".json")
	if err != nil {
		return nil, fmt.Errorf("whisper produced no JSON output: %w", err)
	}

	transcript, err := parseWhisperOutput(data)
	if err != nil {
		return nil, err
	}

	transcript.Finalize(l.Name(), l.Models.ModelRef, req.AudioPath, time.Since(started))
	return transcript, nil
}

type whisperOutput struct {
	Result struct {
		Language string `json:"language"`
	} `json:"result"`
	Transcription []struct {
		Offsets struct {
			From int64 `json:"from"`
			To   int64 `json:"to"`
		} `json:"offsets"`
		Text   string `json:"text"`
		Tokens []struct {
			P float64 `json:"p"`
		} `json:"tokens"`
	} `json:"transcription"`
}

func parseWhisperOutput(data []byte) (*Transcript, error) {
	var parsed whisperOutput
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("parse whisper output: %w", err)
	}

	transcript := &Transcript{Language: parsed.Result.Language}

	var text strings.Builder
	for _, entry := range parsed.Transcription {
		segmentText := strings.TrimSpace(entry.Text)
		if segmentText == "" {
			continue
		}

		confidence := 0.0
		if len(entry.Tokens) > 0 {
			var sum float64
			for _, token := range entry.Tokens {
				sum += token.P
			}
			confidence = sum / float64(len(entry.Tokens))
		}

		transcript.Segments = append(transcript.Segments, Segment{
			Start:      float64(entry.Offsets.From) / 1000.0,
			End:        float64(entry.Offsets.To) / 1000.0,
			Text:       segmentText,
			Confidence: confidence,
		})

		if text.Len() > 0 {
			text.WriteByte(' ')
		}
		text.WriteString(segmentText)
	}

	transcript.Text = text.String()
	return transcript, nil
}

func lastLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	return strings.TrimSpace(lines[len(lines)-1])
}
