package cli

import (
	"fmt"
	"io"
	"os"
	"os/exec"

	"github.com/spf13/cobra"

	"github.com/mik-tf/video-to-guide-pipeline/internal/config"
	"github.com/mik-tf/video-to-guide-pipeline/internal/guide"
	"github.com/mik-tf/video-to-guide-pipeline/internal/platform"
	"github.com/mik-tf/video-to-guide-pipeline/internal/transcribe"
)

func newSystemInfoCmd(app *appState) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "system-info",
		Short: "Show which pipeline dependencies are available",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return printSystemInfo(app, cmd.OutOrStdout())
		},
	}

	bindLoggingFlags(cmd, app)

	return cmd
}

func printSystemInfo(app *appState, out io.Writer) error {
	cfg, err := app.loadConfig()
	if err != nil {
		return err
	}

	rt := platform.CurrentRuntime()
	fmt.Fprintf(out, "Platform: %s/%s\n\n", rt.OS, rt.Arch)

	rows := []struct {
		name   string
		status string
	}{
		{"ffmpeg", commandStatus("ffmpeg")},
		{"ffprobe", commandStatus("ffprobe")},
		{"whisper-cli", whisperStatus()},
		{"ollama", ollamaStatus(cfg)},
		{"transcription API key", keyStatus(cfg.Transcription.API.APIKeyEnv)},
		{"generation API key", keyStatus(cfg.GuideGeneration.API.APIKeyEnv)},
	}
	for _, row := range rows {
		fmt.Fprintf(out, "  %-22s %s\n", row.name, row.status)
	}

	fmt.Fprintf(out, "\nConfigured mode: %s\n", cfg.Processing.Mode)
	return nil
}

func commandStatus(name string) string {
	path, err := exec.LookPath(name)
	if err != nil {
		return "missing"
	}
	return "available (" + path + ")"
}

func whisperStatus() string {
	local := &transcribe.LocalWhisper{}
	if local.Available() {
		return "available"
	}
	return "missing"
}

func ollamaStatus(cfg config.Config) string {
	backend := &guide.OllamaBackend{Config: cfg.GuideGeneration.LocalAI}
	if backend.Available() {
		return "running (" + cfg.GuideGeneration.LocalAI.Host + ")"
	}
	return "not running (" + cfg.GuideGeneration.LocalAI.Host + ")"
}

func keyStatus(envName string) string {
	if envName == "" {
		return "no env var configured"
	}
	if os.Getenv(envName) == "" {
		return envName + " not set"
	}
	return envName + " set"
}
