package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mik-tf/video-to-guide-pipeline/internal/config"
	"github.com/mik-tf/video-to-guide-pipeline/internal/guide"
	"github.com/mik-tf/video-to-guide-pipeline/internal/transcribe"
)

type fakeExtractor struct {
	validateErr func(videoPath string) error
	extracts    atomic.Int64
}

func (f *fakeExtractor) Validate(_ context.Context, videoPath string) error {
	if f.validateErr != nil {
		return f.validateErr(videoPath)
	}
	return nil
}

func (f *fakeExtractor) Extract(_ context.Context, _, audioPath string) error {
	f.extracts.Add(1)
	if err := os.MkdirAll(filepath.Dir(audioPath), 0o755); err != nil {
		return err
	}
	return os.WriteFile(audioPath, []byte("riff"), 0o644)
}

type fakeTranscriber struct {
	name      string
	available bool
	err       error
	text      string
}

func (f *fakeTranscriber) Name() string { return f.name }

func (f *fakeTranscriber) Available() bool { return f.available }

func (f *fakeTranscriber) Timeout() time.Duration { return time.Minute }

func (f *fakeTranscriber) Invoke(_ context.Context, req transcribe.Request) (*transcribe.Transcript, error) {
	if f.err != nil {
		return nil, f.err
	}
	transcript := &transcribe.Transcript{Text: f.text, Language: "en"}
	transcript.Finalize(f.name, "base", req.AudioPath, time.Second)
	return transcript, nil
}

type fakeGenerator struct {
	name      string
	available bool
	err       error
}

func (f *fakeGenerator) Name() string { return f.name }

func (f *fakeGenerator) Available() bool { return f.available }

func (f *fakeGenerator) Timeout() time.Duration { return time.Minute }

func (f *fakeGenerator) Invoke(_ context.Context, req guide.Request) (*guide.Document, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &guide.Document{Raw: "# " + req.VideoName}, nil
}

const driverTranscript = "How to deploy a web server on ubuntu. First you need a server " +
	"with root access. Now run `docker compose up` to start the stack and check " +
	"https://example.com/dashboard to confirm everything works as expected."

func testDriver(t *testing.T, extractor *fakeExtractor, transcription []transcribe.Backend, generation []guide.Backend) *Driver {
	t.Helper()

	cfg := config.Default()
	cfg.Output.BaseDir = t.TempDir()
	cfg.Transcription.MinLength = 10

	return &Driver{
		cfg:           cfg,
		logger:        zap.NewNop(),
		extractor:     extractor,
		transcription: transcription,
		generation:    generation,
	}
}

func localTranscriber() *fakeTranscriber {
	return &fakeTranscriber{name: "local-whisper", available: true, text: driverTranscript}
}

func templateGenerator() guide.Backend {
	return &guide.TemplateBackend{
		Config: config.Default().GuideGeneration.Template,
		Now:    func() time.Time { return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC) },
	}
}

func TestProcessVideoProducesGuide(t *testing.T) {
	t.Parallel()

	extractor := &fakeExtractor{}
	driver := testDriver(t, extractor,
		[]transcribe.Backend{localTranscriber()},
		[]guide.Backend{templateGenerator()})

	result := driver.ProcessVideo(t.Context(), "demo.mp4")
	require.NoError(t, result.Err)
	require.False(t, result.Skipped)
	require.Equal(t, "local-whisper", result.TranscriptionBackend)
	require.Equal(t, "template", result.GenerationBackend)

	data, err := os.ReadFile(result.GuidePath)
	require.NoError(t, err)
	require.Contains(t, string(data), "# Deploy A Web Server On Ubuntu")

	transcriptText, err := os.ReadFile(result.TranscriptPath)
	require.NoError(t, err)
	require.Contains(t, string(transcriptText), "docker compose up")
}

func TestProcessVideoRemovesIntermediateAudio(t *testing.T) {
	t.Parallel()

	extractor := &fakeExtractor{}
	driver := testDriver(t, extractor,
		[]transcribe.Backend{localTranscriber()},
		[]guide.Backend{templateGenerator()})

	result := driver.ProcessVideo(t.Context(), "demo.mp4")
	require.NoError(t, result.Err)

	audioPath := driver.pathsFor("demo.mp4").Audio
	_, err := os.Stat(audioPath)
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestProcessVideoPreservesIntermediateWhenConfigured(t *testing.T) {
	t.Parallel()

	extractor := &fakeExtractor{}
	driver := testDriver(t, extractor,
		[]transcribe.Backend{localTranscriber()},
		[]guide.Backend{templateGenerator()})
	driver.cfg.Processing.PreserveIntermediate = true

	result := driver.ProcessVideo(t.Context(), "demo.mp4")
	require.NoError(t, result.Err)

	_, err := os.Stat(driver.pathsFor("demo.mp4").Audio)
	require.NoError(t, err)
}

func TestProcessVideoSkipsExistingGuide(t *testing.T) {
	t.Parallel()

	extractor := &fakeExtractor{}
	driver := testDriver(t, extractor,
		[]transcribe.Backend{localTranscriber()},
		[]guide.Backend{templateGenerator()})

	guidePath := driver.pathsFor("demo.mp4").Guide
	require.NoError(t, os.MkdirAll(filepath.Dir(guidePath), 0o755))
	require.NoError(t, os.WriteFile(guidePath, []byte("# existing\n"), 0o644))

	result := driver.ProcessVideo(t.Context(), "demo.mp4")
	require.NoError(t, result.Err)
	require.True(t, result.Skipped)
	require.Zero(t, extractor.extracts.Load())

	data, err := os.ReadFile(guidePath)
	require.NoError(t, err)
	require.Equal(t, "# existing\n", string(data))
}

func TestProcessVideoOverwritesWhenConfigured(t *testing.T) {
	t.Parallel()

	extractor := &fakeExtractor{}
	driver := testDriver(t, extractor,
		[]transcribe.Backend{localTranscriber()},
		[]guide.Backend{templateGenerator()})
	driver.cfg.Processing.OverwriteExisting = true

	guidePath := driver.pathsFor("demo.mp4").Guide
	require.NoError(t, os.MkdirAll(filepath.Dir(guidePath), 0o755))
	require.NoError(t, os.WriteFile(guidePath, []byte("# existing\n"), 0o644))

	result := driver.ProcessVideo(t.Context(), "demo.mp4")
	require.NoError(t, result.Err)
	require.False(t, result.Skipped)

	data, err := os.ReadFile(guidePath)
	require.NoError(t, err)
	require.NotEqual(t, "# existing\n", string(data))
}

func TestProcessVideoReusesExistingTranscript(t *testing.T) {
	t.Parallel()

	extractor := &fakeExtractor{}
	driver := testDriver(t, extractor,
		[]transcribe.Backend{&fakeTranscriber{name: "local-whisper", available: true, err: errors.New("must not run")}},
		[]guide.Backend{templateGenerator()})

	transcriptPath := driver.pathsFor("demo.mp4").Transcript
	require.NoError(t, os.MkdirAll(filepath.Dir(transcriptPath), 0o755))
	require.NoError(t, os.WriteFile(transcriptPath, []byte(driverTranscript+"\n"), 0o644))

	result := driver.ProcessVideo(t.Context(), "demo.mp4")
	require.NoError(t, result.Err)
	require.Equal(t, "cached", result.TranscriptionBackend)
	require.Zero(t, extractor.extracts.Load())
}

func TestProcessVideoFallsThroughFullHybridChain(t *testing.T) {
	t.Parallel()

	driver := testDriver(t, &fakeExtractor{},
		[]transcribe.Backend{
			&fakeTranscriber{name: "api-stt", available: true, err: errors.New("quota exceeded")},
			localTranscriber(),
		},
		[]guide.Backend{
			&fakeGenerator{name: "api-llm", available: false},
			&fakeGenerator{name: "local-llm", available: true, err: errors.New("model load failed")},
			templateGenerator(),
		})

	result := driver.ProcessVideo(t.Context(), "demo.mp4")
	require.NoError(t, result.Err)
	require.Equal(t, "local-whisper", result.TranscriptionBackend)
	require.Equal(t, "template", result.GenerationBackend)

	_, err := os.Stat(result.GuidePath)
	require.NoError(t, err)
}

func TestProcessVideoReportsExhaustedTranscription(t *testing.T) {
	t.Parallel()

	driver := testDriver(t, &fakeExtractor{},
		[]transcribe.Backend{
			&fakeTranscriber{name: "api-stt", available: true, err: errors.New("quota exceeded")},
			&fakeTranscriber{name: "local-whisper", available: false},
		},
		[]guide.Backend{templateGenerator()})

	result := driver.ProcessVideo(t.Context(), "demo.mp4")

	var exhausted *ExhaustedError
	require.ErrorAs(t, result.Err, &exhausted)
	require.Equal(t, "transcription", exhausted.Stage)
}

func TestProcessBatchIsolatesFailures(t *testing.T) {
	t.Parallel()

	extractor := &fakeExtractor{
		validateErr: func(videoPath string) error {
			if filepath.Base(videoPath) == "broken.mp4" {
				return errors.New("no audio stream")
			}
			return nil
		},
	}
	driver := testDriver(t, extractor,
		[]transcribe.Backend{localTranscriber()},
		[]guide.Backend{templateGenerator()})
	driver.cfg.Processing.ParallelWorkers = 2

	videos := []string{"first.mp4", "broken.mp4", "third.mp4"}
	results := driver.ProcessBatch(t.Context(), videos)
	require.Len(t, results, 3)

	require.NoError(t, results[0].Err)
	require.Error(t, results[1].Err)
	require.NoError(t, results[2].Err)
	for i, result := range results {
		require.Equal(t, videos[i], result.Video)
	}

	summary := Summarize(results)
	require.Equal(t, 3, summary.Total)
	require.Equal(t, 2, summary.Succeeded)
	require.Equal(t, 1, summary.Failed)
	require.Equal(t, 0, summary.Skipped)
}

func TestSanitizeStem(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want string
	}{
		{"demo", "demo"},
		{"My Video (final)", "My_Video__final"},
		{"über-guide", "ber-guide"},
		{"...", "video"},
		{"a b.c", "a_b.c"},
	}
	for _, tc := range tests {
		require.Equal(t, tc.want, sanitizeStem(tc.in), "input %q", tc.in)
	}
}

func TestProcessBatchStopsOnCancellation(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	driver := testDriver(t, &fakeExtractor{},
		[]transcribe.Backend{localTranscriber()},
		[]guide.Backend{templateGenerator()})

	videos := make([]string, 5)
	for i := range videos {
		videos[i] = fmt.Sprintf("video%d.mp4", i)
	}

	results := driver.ProcessBatch(ctx, videos)
	require.Len(t, results, 5)
	for _, result := range results {
		require.Error(t, result.Err)
	}
}
