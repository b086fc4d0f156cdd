package transcribe

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/mik-tf/video-to-guide-pipeline/internal/config"
)

// Upload limits mirror what the hosted transcription endpoints
// enforce. Files above maxUploadBytes are cut into overlapping
// chunks that each stay under targetChunkBytes.
const (
	maxUploadBytes      = 25 << 20
	targetChunkBytes    = 20 << 20
	maxChunkSeconds     = 300.0
	chunkOverlapSeconds = 10.0
)

// AudioSplitter cuts time windows out of an audio file. Satisfied by
// extract.Extractor.
type AudioSplitter interface {
	Duration(ctx context.Context, audioPath string) (float64, error)
	Segment(ctx context.Context, audioPath, segmentPath string, offset, duration float64) error
}

// APIWhisper transcribes audio through an OpenAI-compatible
// /audio/transcriptions endpoint.
type APIWhisper struct {
	Config   config.APIConfig
	Splitter AudioSplitter
	Client   *http.Client
	Logger   *zap.Logger
}

func (a *APIWhisper) Name() string { return "api-stt" }

func (a *APIWhisper) Timeout() time.Duration { return a.Config.Timeout.Std() }

func (a *APIWhisper) Available() bool {
	return a.Config.APIKey() != ""
}

func (a *APIWhisper) httpClient() *http.Client {
	if a.Client != nil {
		return a.Client
	}
	return http.DefaultClient
}

func (a *APIWhisper) Invoke(ctx context.Context, req Request) (*Transcript, error) {
	if a.Config.APIKey() == "" {
		return nil, fmt.Errorf("%w: %s is not set", ErrUnavailable, a.Config.APIKeyEnv)
	}

	logger := a.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	stat, err := os.Stat(req.AudioPath)
	if err != nil {
		return nil, fmt.Errorf("stat audio file: %w", err)
	}

	started := time.Now()

	var transcript *Transcript
	if stat.Size() > maxUploadBytes {
		transcript, err = a.transcribeChunked(ctx, logger, req, stat.Size())
	} else {
		transcript, err = a.transcribeFile(ctx, logger, req.AudioPath, req.Language)
	}
	if err != nil {
		return nil, err
	}

	transcript.Finalize(a.Name(), a.Config.Model, req.AudioPath, time.Since(started))
	return transcript, nil
}

// transcribeChunked handles audio above the upload limit: the file is
// cut into overlapping windows, each window is transcribed on its
// own, and the per-chunk texts are merged with the repeated overlap
// words removed.
func (a *APIWhisper) transcribeChunked(ctx context.Context, logger *zap.Logger, req Request, totalBytes int64) (*Transcript, error) {
	if a.Splitter == nil {
		return nil, fmt.Errorf("audio file is %.1fMB, above the %dMB upload limit, and no audio splitter is configured",
			float64(totalBytes)/(1<<20), maxUploadBytes>>20)
	}

	totalSeconds, err := a.Splitter.Duration(ctx, req.AudioPath)
	if err != nil {
		return nil, fmt.Errorf("probe audio duration: %w", err)
	}
	if totalSeconds <= 0 {
		return nil, fmt.Errorf("audio file is %.1fMB, above the %dMB upload limit, but its duration could not be determined",
			float64(totalBytes)/(1<<20), maxUploadBytes>>20)
	}

	spans := chunkSpans(totalBytes, totalSeconds)
	logger.Info("audio exceeds upload limit, splitting into chunks",
		zap.Int64("bytes", totalBytes),
		zap.Float64("seconds", totalSeconds),
		zap.Int("chunks", len(spans)),
	)

	chunkDir, err := os.MkdirTemp("", "vid2guide-chunks-")
	if err != nil {
		return nil, fmt.Errorf("create chunk directory: %w", err)
	}
	defer os.RemoveAll(chunkDir)

	texts := make([]string, 0, len(spans))
	var segments []Segment
	language := ""

	for i, span := range spans {
		chunkPath := filepath.Join(chunkDir, fmt.Sprintf("chunk_%03d%s", i+1, filepath.Ext(req.AudioPath)))
		if err := a.Splitter.Segment(ctx, req.AudioPath, chunkPath, span.offset, span.duration); err != nil {
			return nil, fmt.Errorf("cut chunk %d/%d: %w", i+1, len(spans), err)
		}

		part, err := a.transcribeFile(ctx, logger, chunkPath, req.Language)
		if err != nil {
			return nil, fmt.Errorf("transcribe chunk %d/%d: %w", i+1, len(spans), err)
		}

		texts = append(texts, part.Text)
		for _, segment := range part.Segments {
			// Segments fully inside the overlap window repeat the
			// previous chunk's tail.
			if i > 0 && segment.End <= chunkOverlapSeconds {
				continue
			}
			segment.Start += span.offset
			segment.End += span.offset
			segments = append(segments, segment)
		}
		if language == "" {
			language = part.Language
		}

		logger.Debug("transcribed audio chunk",
			zap.Int("chunk", i+1),
			zap.Int("total", len(spans)),
			zap.Int("characters", len(part.Text)),
		)
	}

	return &Transcript{
		Text:     mergeChunkTexts(texts),
		Language: language,
		Segments: segments,
	}, nil
}

func (a *APIWhisper) transcribeFile(ctx context.Context, logger *zap.Logger, audioPath, language string) (*Transcript, error) {
	audioFile, err := os.Open(audioPath)
	if err != nil {
		return nil, fmt.Errorf("open audio file: %w", err)
	}
	defer audioFile.Close()

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	part, err := writer.CreateFormFile("file", filepath.Base(audioPath))
	if err != nil {
		return nil, fmt.Errorf("build upload: %w", err)
	}
	if _, err := io.Copy(part, audioFile); err != nil {
		return nil, fmt.Errorf("read audio file: %w", err)
	}
	_ = writer.WriteField("model", a.Config.Model)
	_ = writer.WriteField("response_format", "verbose_json")
	if language != "" && language != "auto" {
		_ = writer.WriteField("language", language)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("finish upload: %w", err)
	}

	url := a.Config.BaseURL + "/audio/transcriptions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+a.Config.APIKey())
	httpReq.Header.Set("Content-Type", writer.FormDataContentType())

	logger.Debug("sending transcription request", zap.String("url", url), zap.String("model", a.Config.Model))

	resp, err := a.httpClient().Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("transcription API returned status %d: %s", resp.StatusCode, truncate(string(payload), 200))
	}

	var parsed struct {
		Text     string  `json:"text"`
		Language string  `json:"language"`
		Duration float64 `json:"duration"`
		Segments []struct {
			Start      float64 `json:"start"`
			End        float64 `json:"end"`
			Text       string  `json:"text"`
			AvgLogprob float64 `json:"avg_logprob"`
		} `json:"segments"`
	}
	if err := json.Unmarshal(payload, &parsed); err != nil {
		return nil, fmt.Errorf("parse transcription response: %w", err)
	}

	transcript := &Transcript{
		Text:     parsed.Text,
		Language: parsed.Language,
	}
	transcript.Metadata.AudioDuration = parsed.Duration
	for _, segment := range parsed.Segments {
		transcript.Segments = append(transcript.Segments, Segment{
			Start:      segment.Start,
			End:        segment.End,
			Text:       segment.Text,
			Confidence: logprobToConfidence(segment.AvgLogprob),
		})
	}

	return transcript, nil
}

type chunkSpan struct {
	offset   float64
	duration float64
}

// chunkSpans plans overlapping windows that each stay under the
// upload limit, based on the file's measured byte rate.
func chunkSpans(totalBytes int64, totalSeconds float64) []chunkSpan {
	bytesPerSecond := float64(totalBytes) / totalSeconds
	maxDuration := math.Min(maxChunkSeconds, float64(targetChunkBytes)/bytesPerSecond)
	if maxDuration <= 2*chunkOverlapSeconds {
		maxDuration = 2 * chunkOverlapSeconds
	}
	step := maxDuration - chunkOverlapSeconds

	var spans []chunkSpan
	for offset := 0.0; offset < totalSeconds; offset += step {
		spans = append(spans, chunkSpan{
			offset:   offset,
			duration: math.Min(maxDuration, totalSeconds-offset),
		})
		if offset+maxDuration >= totalSeconds {
			break
		}
	}
	return spans
}

// mergeChunkTexts joins chunk transcriptions, dropping the words a
// chunk repeats from the previous chunk's overlap window.
func mergeChunkTexts(texts []string) string {
	var merged []string
	for _, text := range texts {
		words := strings.Fields(text)
		if len(words) == 0 {
			continue
		}
		if len(merged) == 0 {
			merged = words
			continue
		}

		limit := min(50, len(merged), len(words))
		overlap := 0
		for n := limit; n > 0; n-- {
			if slices.Equal(merged[len(merged)-n:], words[:n]) {
				overlap = n
				break
			}
		}
		merged = append(merged, words[overlap:]...)
	}
	return strings.Join(merged, " ")
}

// logprobToConfidence maps whisper's average log probability into a
// rough 0..1 confidence value.
func logprobToConfidence(avgLogprob float64) float64 {
	return min(1.0, max(0.0, avgLogprob+1.0))
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
