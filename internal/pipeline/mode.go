package pipeline

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/mik-tf/video-to-guide-pipeline/internal/config"
	"github.com/mik-tf/video-to-guide-pipeline/internal/extract"
	"github.com/mik-tf/video-to-guide-pipeline/internal/guide"
	"github.com/mik-tf/video-to-guide-pipeline/internal/transcribe"
	"github.com/mik-tf/video-to-guide-pipeline/internal/whisper"
)

// Chain names the ordered backends a processing mode uses for each
// stage. Every generation chain ends with the template backend, so a
// produced transcript always yields a guide.
type Chain struct {
	Transcription []string
	Generation    []string
}

var modeChains = map[config.ProcessingMode]Chain{
	config.ModeBasic: {
		Transcription: []string{"local-whisper"},
		Generation:    []string{"template"},
	},
	config.ModeLocalAI: {
		Transcription: []string{"local-whisper"},
		Generation:    []string{"local-llm", "template"},
	},
	config.ModeAPITranscription: {
		Transcription: []string{"api-stt", "local-whisper"},
		Generation:    []string{"template"},
	},
	config.ModeAPIGeneration: {
		Transcription: []string{"local-whisper"},
		Generation:    []string{"api-llm", "template"},
	},
	config.ModeFullAPI: {
		Transcription: []string{"api-stt", "local-whisper"},
		Generation:    []string{"api-llm", "template"},
	},
	config.ModeHybrid: {
		Transcription: []string{"api-stt", "local-whisper"},
		Generation:    []string{"api-llm", "local-llm", "template"},
	},
}

// ChainFor returns the backend ordering for a processing mode.
func ChainFor(mode config.ProcessingMode) (Chain, error) {
	chain, ok := modeChains[mode]
	if !ok {
		return Chain{}, fmt.Errorf("%w: %q", config.ErrUnknownMode, mode)
	}
	return chain, nil
}

// Backends holds every constructed backend, keyed by name. Chains
// index into it so each mode shares the same instances.
type Backends struct {
	transcription map[string]transcribe.Backend
	generation    map[string]guide.Backend
}

// NewBackends wires all known backends from the configuration. The
// whisper model manager is shared so the model resolves once per run.
func NewBackends(cfg config.Config, models *whisper.Manager, logger *zap.Logger) *Backends {
	return &Backends{
		transcription: map[string]transcribe.Backend{
			"local-whisper": &transcribe.LocalWhisper{
				Models:        models,
				InvokeTimeout: cfg.Transcription.Timeout.Std(),
				Logger:        logger,
			},
			"api-stt": &transcribe.APIWhisper{
				Config:   cfg.Transcription.API,
				Splitter: extract.New(cfg.Audio, logger),
				Logger:   logger,
			},
		},
		generation: map[string]guide.Backend{
			"template": &guide.TemplateBackend{
				Config: cfg.GuideGeneration.Template,
			},
			"local-llm": &guide.OllamaBackend{
				Config: cfg.GuideGeneration.LocalAI,
				Logger: logger,
			},
			"api-llm": &guide.OpenRouterBackend{
				Config: cfg.GuideGeneration.API,
				Logger: logger,
			},
		},
	}
}

// Resolve turns a mode into ordered backend slices.
func (b *Backends) Resolve(mode config.ProcessingMode) ([]transcribe.Backend, []guide.Backend, error) {
	chain, err := ChainFor(mode)
	if err != nil {
		return nil, nil, err
	}

	transcription := make([]transcribe.Backend, 0, len(chain.Transcription))
	for _, name := range chain.Transcription {
		backend, ok := b.transcription[name]
		if !ok {
			return nil, nil, fmt.Errorf("unknown transcription backend %q", name)
		}
		transcription = append(transcription, backend)
	}

	generation := make([]guide.Backend, 0, len(chain.Generation))
	for _, name := range chain.Generation {
		backend, ok := b.generation[name]
		if !ok {
			return nil, nil, fmt.Errorf("unknown generation backend %q", name)
		}
		generation = append(generation, backend)
	}

	return transcription, generation, nil
}
