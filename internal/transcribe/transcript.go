package transcribe

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Request is the input for one transcription attempt.
type Request struct {
	AudioPath string
	Language  string
}

type Segment struct {
	Start      float64 `json:"start"`
	End        float64 `json:"end"`
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
}

type Metadata struct {
	SourceAudio    string        `json:"source_audio"`
	Model          string        `json:"model"`
	Backend        string        `json:"backend"`
	ProcessingTime time.Duration `json:"processing_time_ns"`
	CharacterCount int           `json:"character_count"`
	WordCount      int           `json:"word_count"`
	AudioDuration  float64       `json:"audio_duration"`
}

type Quality struct {
	ConfidenceScore       float64 `json:"confidence_score"`
	AvgSegmentConfidence  float64 `json:"avg_segment_confidence"`
	LowConfidenceSegments int     `json:"low_confidence_segments"`
	TextCompleteness      float64 `json:"text_completeness"`
	EstimatedAccuracy     string  `json:"estimated_accuracy"`
}

type Transcript struct {
	Text     string    `json:"text"`
	Language string    `json:"language"`
	Segments []Segment `json:"segments"`
	Metadata Metadata  `json:"metadata"`
	Quality  Quality   `json:"quality"`
}

const lowConfidenceThreshold = 0.7

// Finalize fills derived metadata and quality metrics. Backends call
// it once after assembling text and segments.
func (t *Transcript) Finalize(backend, model, audioPath string, elapsed time.Duration) {
	t.Text = strings.TrimSpace(t.Text)
	t.Metadata.SourceAudio = audioPath
	t.Metadata.Model = model
	t.Metadata.Backend = backend
	t.Metadata.ProcessingTime = elapsed
	t.Metadata.CharacterCount = len(t.Text)
	t.Metadata.WordCount = len(strings.Fields(t.Text))
	for _, segment := range t.Segments {
		if segment.End > t.Metadata.AudioDuration {
			t.Metadata.AudioDuration = segment.End
		}
	}
	t.Quality = t.computeQuality()
}

func (t *Transcript) computeQuality() Quality {
	var quality Quality

	if len(t.Segments) > 0 {
		var sum float64
		for _, segment := range t.Segments {
			sum += segment.Confidence
			if segment.Confidence < lowConfidenceThreshold {
				quality.LowConfidenceSegments++
			}
		}
		quality.AvgSegmentConfidence = sum / float64(len(t.Segments))
	}

	if t.Metadata.WordCount > 0 {
		avgWordLength := float64(t.Metadata.CharacterCount) / float64(t.Metadata.WordCount)
		quality.TextCompleteness = min(1.0, avgWordLength/5.0)
	}

	quality.ConfidenceScore = quality.AvgSegmentConfidence*0.7 + quality.TextCompleteness*0.3

	switch {
	case quality.ConfidenceScore >= 0.9:
		quality.EstimatedAccuracy = "excellent"
	case quality.ConfidenceScore >= 0.8:
		quality.EstimatedAccuracy = "good"
	case quality.ConfidenceScore >= 0.7:
		quality.EstimatedAccuracy = "fair"
	default:
		quality.EstimatedAccuracy = "poor"
	}

	return quality
}

// ValidationThresholds are the minimum-quality checks applied after
// transcription. Failing them is reported, not fatal.
type ValidationThresholds struct {
	MinLength     int
	MinConfidence float64
	Language      string
}

// Validate returns human-readable quality issues. An empty slice
// means the transcript passed every check.
func (t *Transcript) Validate(thresholds ValidationThresholds) []string {
	var issues []string

	if thresholds.MinLength > 0 && len(t.Text) < thresholds.MinLength {
		issues = append(issues, fmt.Sprintf("transcription too short: %d chars (minimum %d)", len(t.Text), thresholds.MinLength))
	}
	if thresholds.MinConfidence > 0 && t.Quality.ConfidenceScore < thresholds.MinConfidence {
		issues = append(issues, fmt.Sprintf("low confidence score: %.2f (minimum %.2f)", t.Quality.ConfidenceScore, thresholds.MinConfidence))
	}
	if t.Text == "" {
		issues = append(issues, "transcription is empty")
	} else if t.Metadata.WordCount < 10 {
		issues = append(issues, "transcription contains very few words")
	}
	if lang := strings.TrimSpace(thresholds.Language); lang != "" && lang != "auto" {
		if t.Language != "" && t.Language != "unknown" && t.Language != lang {
			issues = append(issues, fmt.Sprintf("language mismatch: expected %s, detected %s", lang, t.Language))
		}
	}

	return issues
}

// Save writes the plain text transcript plus a detailed JSON sidecar
// next to it.
func (t *Transcript) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create transcription directory: %w", err)
	}

	if err := os.WriteFile(path, []byte(t.Text+"\n"), 0o644); err != nil {
		return fmt.Errorf("write transcript: %w", err)
	}

	detailed, err := json.MarshalIndent(t, "", "  ")
	if err != nil {
		return fmt.Errorf("encode transcript details: %w", err)
	}

	jsonPath := detailedPath(path)
	if err := os.WriteFile(jsonPath, append(detailed, '\n'), 0o644); err != nil {
		return fmt.Errorf("write transcript details: %w", err)
	}

	return nil
}

// LoadExisting reads a previously persisted transcript, preferring
// the detailed JSON sidecar and falling back to the plain text file.
func LoadExisting(path string) (*Transcript, error) {
	if data, err := os.ReadFile(detailedPath(path)); err == nil {
		var transcript Transcript
		if err := json.Unmarshal(data, &transcript); err == nil {
			return &transcript, nil
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read existing transcript: %w", err)
	}

	transcript := &Transcript{Text: strings.TrimSpace(string(data))}
	transcript.Finalize("cached", "", path, 0)
	return transcript, nil
}

func detailedPath(path string) string {
	ext := filepath.Ext(path)
	return strings.TrimSuffix(path, ext) + "_detailed.json"
}

// Backend is one concrete transcription capability. Invoke failures
// advance the fallback chain; they are never fatal by themselves.
type Backend interface {
	Name() string
	Available() bool
	Timeout() time.Duration
	Invoke(ctx context.Context, req Request) (*Transcript, error)
}
