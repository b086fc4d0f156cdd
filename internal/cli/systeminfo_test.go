package cli

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mik-tf/video-to-guide-pipeline/internal/config"
)

func TestSystemInfoListsDependencies(t *testing.T) {
	cmd := NewRootCmd()
	out := new(bytes.Buffer)
	cmd.SetOut(out)
	cmd.SetErr(out)
	cmd.SetArgs([]string{"system-info"})

	require.NoError(t, cmd.Execute())

	output := out.String()
	require.Contains(t, output, "Platform:")
	require.Contains(t, output, "ffmpeg")
	require.Contains(t, output, "ffprobe")
	require.Contains(t, output, "whisper-cli")
	require.Contains(t, output, "ollama")
	require.Contains(t, output, "Configured mode: basic")
}

func TestSystemInfoFlagAlias(t *testing.T) {
	cmd := NewRootCmd()
	out := new(bytes.Buffer)
	cmd.SetOut(out)
	cmd.SetErr(out)
	cmd.SetArgs([]string{"--system-info"})

	require.NoError(t, cmd.Execute())

	output := out.String()
	require.Contains(t, output, "Platform:")
	require.Contains(t, output, "Configured mode: basic")
}

func TestKeyStatus(t *testing.T) {
	t.Setenv("VID2GUIDE_TEST_KEY", "value")

	require.Equal(t, "no env var configured", keyStatus(""))
	require.Equal(t, "VID2GUIDE_TEST_KEY set", keyStatus("VID2GUIDE_TEST_KEY"))
	require.Equal(t, "VID2GUIDE_MISSING_KEY not set", keyStatus("VID2GUIDE_MISSING_KEY"))
}

func TestCommandStatusMissingBinary(t *testing.T) {
	t.Parallel()

	require.Equal(t, "missing", commandStatus("definitely-not-installed-anywhere"))
}

func TestOllamaStatusNotRunning(t *testing.T) {
	t.Parallel()

	cfg := config.Default()
	cfg.GuideGeneration.LocalAI.Host = "http://127.0.0.1:1"

	require.Contains(t, ollamaStatus(cfg), "not running")
}
