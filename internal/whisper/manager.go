package whisper

import (
	"context"
	"fmt"
	"os"
	"sync"

	"go.uber.org/zap"

	"github.com/mik-tf/video-to-guide-pipeline/internal/download"
	"github.com/mik-tf/video-to-guide-pipeline/internal/platform"
)

// Manager resolves and caches the local model path for a run. The
// first caller pays for the download; later calls within the same
// process reuse the resolved path. Safe for concurrent workers.
type Manager struct {
	ModelRef     string
	ModelDir     string
	AutoDownload bool
	NoProgress   bool
	Logger       *zap.Logger

	mu       sync.Mutex
	resolved string
}

// EnsureModel returns the path of a ready-to-use model file,
// downloading it on first use when auto-download is enabled.
func (m *Manager) EnsureModel(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.resolved != "" {
		return m.resolved, nil
	}

	logger := m.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	modelDir, err := platform.ResolveModelDir(m.ModelDir)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(modelDir, 0o755); err != nil {
		return "", fmt.Errorf("create model directory %s: %w", modelDir, err)
	}

	resolved, err := ResolveModel(m.ModelRef, modelDir)
	if err != nil {
		return "", err
	}

	if resolved.NeedsDownload {
		if !m.AutoDownload {
			return "", fmt.Errorf("model %q is missing at %s and auto-download is disabled", resolved.Name, resolved.Path)
		}

		logger.Info("model not found, downloading",
			zap.String("model", resolved.Name),
			zap.String("destination", resolved.Path),
		)
		if err := download.DownloadFile(ctx, download.Options{
			URL:            resolved.URL,
			Destination:    resolved.Path,
			ExpectedSHA256: resolved.SHA256,
			NoProgress:     m.NoProgress,
			Logger:         logger,
		}); err != nil {
			return "", fmt.Errorf("download model %q: %w", resolved.Name, err)
		}
	}

	m.resolved = resolved.Path
	return m.resolved, nil
}
