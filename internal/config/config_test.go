package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestDefaultIsValid(t *testing.T) {
	t.Parallel()

	cfg := Default()
	require.NoError(t, cfg.validate())
	require.Equal(t, ModeBasic, cfg.Processing.Mode)
	require.Equal(t, 16000, cfg.Audio.SampleRate)
	require.Equal(t, 1, cfg.Audio.Channels)
	require.Equal(t, "base", cfg.Transcription.Model)
	require.Equal(t, "whisper-1", cfg.Transcription.API.Model)
	require.Equal(t, "OPENAI_API_KEY", cfg.Transcription.API.APIKeyEnv)
	require.Equal(t, "OPENROUTER_API_KEY", cfg.GuideGeneration.API.APIKeyEnv)
	require.Equal(t, "http://localhost:11434", cfg.GuideGeneration.LocalAI.Host)
	require.Equal(t, 30*time.Minute, cfg.Transcription.Timeout.Std())
}

func TestLoadWithoutPathReturnsDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, Default().Output, cfg.Output)
}

func TestLoadOverlaysYAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
processing:
  mode: hybrid
  parallel_workers: 3
transcription:
  model: small
  timeout: 90s
audio:
  sample_rate: 44100
guide_generation:
  local_ai:
    model: mistral:7b
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, ModeHybrid, cfg.Processing.Mode)
	require.Equal(t, 3, cfg.Processing.ParallelWorkers)
	require.Equal(t, "small", cfg.Transcription.Model)
	require.Equal(t, 90*time.Second, cfg.Transcription.Timeout.Std())
	require.Equal(t, 44100, cfg.Audio.SampleRate)
	require.Equal(t, "mistral:7b", cfg.GuideGeneration.LocalAI.Model)

	// Untouched sections keep their defaults.
	require.Equal(t, "wav", cfg.Audio.Format)
	require.Equal(t, Default().Output, cfg.Output)
}

func TestLoadRejectsUnknownMode(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("processing:\n  mode: warp\n"), 0o644))

	_, err := Load(path)
	require.ErrorIs(t, err, ErrUnknownMode)
}

func TestLoadRejectsInvalidAudio(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("audio:\n  sample_rate: -1\n"), 0o644))

	_, err := Load(path)
	require.ErrorContains(t, err, "sample_rate")
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("VID2GUIDE_MODEL_DIR", "/srv/models")
	t.Setenv("VID2GUIDE_LOG_LEVEL", "debug")

	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, "/srv/models", cfg.Transcription.ModelDir)
	require.Equal(t, "debug", cfg.Logging.Level)
}

func TestParseMode(t *testing.T) {
	t.Parallel()

	for _, name := range ModeNames() {
		mode, err := ParseMode(name)
		require.NoError(t, err)
		require.Equal(t, ProcessingMode(name), mode)
	}

	mode, err := ParseMode("  HYBRID ")
	require.NoError(t, err)
	require.Equal(t, ModeHybrid, mode)

	_, err = ParseMode("warp")
	require.ErrorIs(t, err, ErrUnknownMode)
}

func TestAPIKeyReadsConfiguredEnv(t *testing.T) {
	t.Setenv("VID2GUIDE_TEST_KEY", "secret")

	api := APIConfig{APIKeyEnv: "VID2GUIDE_TEST_KEY"}
	require.Equal(t, "secret", api.APIKey())

	require.Empty(t, APIConfig{}.APIKey())
	require.Empty(t, APIConfig{APIKeyEnv: "VID2GUIDE_UNSET_KEY"}.APIKey())
}

func TestDurationUnmarshalsSecondsAndStrings(t *testing.T) {
	t.Parallel()

	var d Duration
	require.NoError(t, yaml.Unmarshal([]byte("300"), &d))
	require.Equal(t, 5*time.Minute, d.Std())

	require.NoError(t, yaml.Unmarshal([]byte("2m30s"), &d))
	require.Equal(t, 150*time.Second, d.Std())

	require.Error(t, yaml.Unmarshal([]byte("soon"), &d))
}

func TestDurationMarshalsAsString(t *testing.T) {
	t.Parallel()

	out, err := yaml.Marshal(Duration(90 * time.Second))
	require.NoError(t, err)
	require.Equal(t, "1m30s\n", string(out))
}
