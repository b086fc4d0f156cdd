package transcribe

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mik-tf/video-to-guide-pipeline/internal/config"
)

func apiConfigFor(t *testing.T, baseURL string) config.APIConfig {
	t.Helper()
	t.Setenv("TEST_STT_KEY", "secret-key")
	return config.APIConfig{
		BaseURL:   baseURL,
		Model:     "whisper-1",
		APIKeyEnv: "TEST_STT_KEY",
		Timeout:   config.Duration(30 * time.Second),
	}
}

func TestAPIWhisperUnavailableWithoutKey(t *testing.T) {
	backend := &APIWhisper{Config: config.APIConfig{APIKeyEnv: "TEST_STT_KEY_MISSING"}}
	require.False(t, backend.Available())

	_, err := backend.Invoke(t.Context(), Request{AudioPath: "audio.wav"})
	require.ErrorIs(t, err, ErrUnavailable)
}

func TestAPIWhisperTranscribes(t *testing.T) {
	audioPath := filepath.Join(t.TempDir(), "audio.wav")
	require.NoError(t, os.WriteFile(audioPath, []byte("RIFFfake"), 0o644))

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/audio/transcriptions", r.URL.Path)
		require.Equal(t, "Bearer secret-key", r.Header.Get("Authorization"))

		require.NoError(t, r.ParseMultipartForm(1<<20))
		require.Equal(t, "whisper-1", r.FormValue("model"))
		require.Equal(t, "verbose_json", r.FormValue("response_format"))
		require.Equal(t, "en", r.FormValue("language"))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"text": "hello from the api",
			"language": "en",
			"duration": 4.2,
			"segments": [
				{"start": 0, "end": 4.2, "text": "hello from the api", "avg_logprob": -0.12}
			]
		}`))
	}))
	defer server.Close()

	backend := &APIWhisper{Config: apiConfigFor(t, server.URL)}
	require.True(t, backend.Available())

	transcript, err := backend.Invoke(t.Context(), Request{AudioPath: audioPath, Language: "en"})
	require.NoError(t, err)
	require.Equal(t, "hello from the api", transcript.Text)
	require.Equal(t, "api-stt", transcript.Metadata.Backend)
	require.Len(t, transcript.Segments, 1)
	require.InDelta(t, 0.88, transcript.Segments[0].Confidence, 0.001)
}

func TestAPIWhisperReportsHTTPError(t *testing.T) {
	audioPath := filepath.Join(t.TempDir(), "audio.wav")
	require.NoError(t, os.WriteFile(audioPath, []byte("RIFFfake"), 0o644))

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error": "rate limited"}`))
	}))
	defer server.Close()

	backend := &APIWhisper{Config: apiConfigFor(t, server.URL)}
	_, err := backend.Invoke(t.Context(), Request{AudioPath: audioPath})
	require.Error(t, err)
	require.ErrorContains(t, err, "status 429")
}

func TestLocalWhisperNameAndTimeout(t *testing.T) {
	t.Parallel()

	backend := &LocalWhisper{InvokeTimeout: time.Minute}
	require.Equal(t, "local-whisper", backend.Name())
	require.Equal(t, time.Minute, backend.Timeout())
}

type fakeSplitter struct {
	seconds float64
	cuts    [][2]float64
}

func (f *fakeSplitter) Duration(_ context.Context, _ string) (float64, error) {
	return f.seconds, nil
}

func (f *fakeSplitter) Segment(_ context.Context, _, segmentPath string, offset, duration float64) error {
	f.cuts = append(f.cuts, [2]float64{offset, duration})
	return os.WriteFile(segmentPath, []byte("RIFFchunk"), 0o644)
}

func TestAPIWhisperChunksLargeUploads(t *testing.T) {
	audioPath := filepath.Join(t.TempDir(), "audio.wav")
	require.NoError(t, os.WriteFile(audioPath, []byte("RIFF"), 0o644))
	require.NoError(t, os.Truncate(audioPath, 36<<20))

	var requests int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		w.Header().Set("Content-Type", "application/json")
		if requests == 1 {
			_, _ = w.Write([]byte(`{
				"text": "intro words alpha beta",
				"language": "en",
				"segments": [{"start": 0, "end": 295, "text": "intro words alpha beta", "avg_logprob": -0.1}]
			}`))
			return
		}
		_, _ = w.Write([]byte(`{
			"text": "alpha beta closing words",
			"language": "en",
			"segments": [
				{"start": 2, "end": 8, "text": "alpha beta", "avg_logprob": -0.2},
				{"start": 12, "end": 60, "text": "closing words", "avg_logprob": -0.2}
			]
		}`))
	}))
	defer server.Close()

	splitter := &fakeSplitter{seconds: 590}
	backend := &APIWhisper{Config: apiConfigFor(t, server.URL), Splitter: splitter}

	transcript, err := backend.Invoke(t.Context(), Request{AudioPath: audioPath})
	require.NoError(t, err)

	require.Equal(t, 2, requests)
	require.Equal(t, [][2]float64{{0, 300}, {290, 300}}, splitter.cuts)
	require.Equal(t, "intro words alpha beta closing words", transcript.Text)

	// The second chunk's overlap-window segment is dropped and the
	// kept one is shifted to absolute time.
	require.Len(t, transcript.Segments, 2)
	require.InDelta(t, 302.0, transcript.Segments[1].Start, 0.001)
	require.InDelta(t, 350.0, transcript.Segments[1].End, 0.001)
	require.InDelta(t, 350.0, transcript.Metadata.AudioDuration, 0.001)
}

func TestAPIWhisperLargeUploadNeedsSplitter(t *testing.T) {
	audioPath := filepath.Join(t.TempDir(), "audio.wav")
	require.NoError(t, os.WriteFile(audioPath, []byte("RIFF"), 0o644))
	require.NoError(t, os.Truncate(audioPath, 26<<20))

	backend := &APIWhisper{Config: apiConfigFor(t, "http://127.0.0.1:1")}
	_, err := backend.Invoke(t.Context(), Request{AudioPath: audioPath})
	require.Error(t, err)
	require.ErrorContains(t, err, "upload limit")
}

func TestChunkSpansCoverDuration(t *testing.T) {
	t.Parallel()

	spans := chunkSpans(36<<20, 590)
	require.Len(t, spans, 2)
	require.Equal(t, 0.0, spans[0].offset)
	require.Equal(t, 300.0, spans[0].duration)
	require.Equal(t, 290.0, spans[1].offset)
	require.InDelta(t, 590.0, spans[1].offset+spans[1].duration, 0.001)

	// Dense audio gets shorter windows so every chunk stays under
	// the upload limit.
	dense := chunkSpans(60<<20, 300)
	require.Greater(t, len(dense), 2)
	for _, span := range dense {
		require.LessOrEqual(t, span.duration*float64(60<<20)/300, float64(targetChunkBytes)+1)
	}
}

func TestMergeChunkTextsTrimsOverlap(t *testing.T) {
	t.Parallel()

	merged := mergeChunkTexts([]string{
		"one two three four",
		"three four five six",
		"five six seven",
	})
	require.Equal(t, "one two three four five six seven", merged)
}

func TestMergeChunkTextsWithoutOverlap(t *testing.T) {
	t.Parallel()

	require.Equal(t, "a b c d", mergeChunkTexts([]string{"a b", "c d"}))
	require.Equal(t, "solo", mergeChunkTexts([]string{"", "solo", ""}))
	require.Equal(t, "", mergeChunkTexts(nil))
}
