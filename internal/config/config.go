package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ProcessingMode selects which backend chains are used for a run.
type ProcessingMode string

const (
	ModeBasic            ProcessingMode = "basic"
	ModeLocalAI          ProcessingMode = "local_ai"
	ModeAPITranscription ProcessingMode = "api_transcription"
	ModeAPIGeneration    ProcessingMode = "api_generation"
	ModeFullAPI          ProcessingMode = "full_api"
	ModeHybrid           ProcessingMode = "hybrid"
)

var ErrUnknownMode = errors.New("unknown processing mode")

func ParseMode(value string) (ProcessingMode, error) {
	mode := ProcessingMode(strings.ToLower(strings.TrimSpace(value)))
	switch mode {
	case ModeBasic, ModeLocalAI, ModeAPITranscription, ModeAPIGeneration, ModeFullAPI, ModeHybrid:
		return mode, nil
	}
	return "", fmt.Errorf("%w: %q (valid modes: %s)", ErrUnknownMode, value, strings.Join(ModeNames(), ", "))
}

func ModeNames() []string {
	return []string{
		string(ModeBasic),
		string(ModeLocalAI),
		string(ModeAPITranscription),
		string(ModeAPIGeneration),
		string(ModeFullAPI),
		string(ModeHybrid),
	}
}

type AudioConfig struct {
	SampleRate  int     `yaml:"sample_rate"`
	Channels    int     `yaml:"channels"`
	Format      string  `yaml:"format"`
	Codec       string  `yaml:"codec"`
	MinDuration float64 `yaml:"min_duration"`
	MaxDuration float64 `yaml:"max_duration"`
}

type TranscriptionConfig struct {
	Model         string    `yaml:"model"`
	ModelDir      string    `yaml:"model_dir"`
	AutoDownload  bool      `yaml:"auto_download"`
	Language      string    `yaml:"language"`
	MinLength     int       `yaml:"min_length"`
	MinConfidence float64   `yaml:"min_confidence"`
	Timeout       Duration  `yaml:"timeout"`
	API           APIConfig `yaml:"api"`
}

// APIConfig describes one remote provider endpoint. The key itself is
// never stored in configuration, only the environment variable name.
type APIConfig struct {
	BaseURL   string   `yaml:"base_url"`
	Model     string   `yaml:"model"`
	APIKeyEnv string   `yaml:"api_key_env"`
	Timeout   Duration `yaml:"timeout"`
}

type LocalAIConfig struct {
	Host        string   `yaml:"host"`
	Model       string   `yaml:"model"`
	Temperature float64  `yaml:"temperature"`
	MaxTokens   int      `yaml:"max_tokens"`
	Timeout     Duration `yaml:"timeout"`
}

type TemplateConfig struct {
	Name             string `yaml:"name"`
	Dir              string `yaml:"dir"`
	MaxSectionLength int    `yaml:"max_section_length"`
	MinSectionLength int    `yaml:"min_section_length"`
	ExtractCommands  bool   `yaml:"extract_commands"`
	ExtractURLs      bool   `yaml:"extract_urls"`
	RemoveFillers    bool   `yaml:"remove_fillers"`
}

type GuideGenerationConfig struct {
	Template TemplateConfig `yaml:"template"`
	LocalAI  LocalAIConfig  `yaml:"local_ai"`
	API      APIConfig      `yaml:"api"`
}

type ProcessingConfig struct {
	Mode                 ProcessingMode `yaml:"mode"`
	ParallelWorkers      int            `yaml:"parallel_workers"`
	OverwriteExisting    bool           `yaml:"overwrite_existing"`
	PreserveIntermediate bool           `yaml:"preserve_intermediate"`
	NoProgress           bool           `yaml:"no_progress"`
}

type OutputConfig struct {
	BaseDir          string `yaml:"base_dir"`
	AudioDir         string `yaml:"audio_dir"`
	TranscriptionDir string `yaml:"transcription_dir"`
	GuideDir         string `yaml:"guide_dir"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
	JSON  bool   `yaml:"json"`
}

type Config struct {
	Audio           AudioConfig           `yaml:"audio"`
	Transcription   TranscriptionConfig   `yaml:"transcription"`
	GuideGeneration GuideGenerationConfig `yaml:"guide_generation"`
	Processing      ProcessingConfig      `yaml:"processing"`
	Output          OutputConfig          `yaml:"output"`
	Logging         LoggingConfig         `yaml:"logging"`
}

// Default returns the configuration used when no file is provided.
// Timeouts are configuration inputs, not constants the rest of the
// code hard-codes; backends read them from here.
func Default() Config {
	return Config{
		Audio: AudioConfig{
			SampleRate:  16000,
			Channels:    1,
			Format:      "wav",
			Codec:       "pcm_s16le",
			MinDuration: 1,
			MaxDuration: 7200,
		},
		Transcription: TranscriptionConfig{
			Model:         "base",
			AutoDownload:  true,
			Language:      "auto",
			MinLength:     100,
			MinConfidence: 0.7,
			Timeout:       Duration(30 * time.Minute),
			API: APIConfig{
				BaseURL:   "https://api.openai.com/v1",
				Model:     "whisper-1",
				APIKeyEnv: "OPENAI_API_KEY",
				Timeout:   Duration(5 * time.Minute),
			},
		},
		GuideGeneration: GuideGenerationConfig{
			Template: TemplateConfig{
				Name:             "deployment_guide",
				Dir:              "./templates",
				MaxSectionLength: 500,
				MinSectionLength: 50,
				ExtractCommands:  true,
				ExtractURLs:      true,
				RemoveFillers:    true,
			},
			LocalAI: LocalAIConfig{
				Host:        "http://localhost:11434",
				Model:       "llama3.2:3b",
				Temperature: 0.1,
				MaxTokens:   4000,
				Timeout:     Duration(2 * time.Minute),
			},
			API: APIConfig{
				BaseURL:   "https://openrouter.ai/api/v1",
				Model:     "anthropic/claude-3.5-sonnet",
				APIKeyEnv: "OPENROUTER_API_KEY",
				Timeout:   Duration(2 * time.Minute),
			},
		},
		Processing: ProcessingConfig{
			Mode:            ModeBasic,
			ParallelWorkers: 1,
		},
		Output: OutputConfig{
			BaseDir:          "./output",
			AudioDir:         "audio",
			TranscriptionDir: "transcriptions",
			GuideDir:         "guides",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load reads a YAML configuration file on top of the defaults. An
// empty path returns the defaults unchanged. Environment overrides
// are applied last.
func Load(path string) (Config, error) {
	cfg := Default()

	if strings.TrimSpace(path) != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func (c *Config) applyEnvOverrides() {
	if dir := os.Getenv("VID2GUIDE_MODEL_DIR"); dir != "" {
		c.Transcription.ModelDir = dir
	}
	if level := os.Getenv("VID2GUIDE_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
}

func (c *Config) validate() error {
	if _, err := ParseMode(string(c.Processing.Mode)); err != nil {
		return err
	}
	if c.Audio.SampleRate <= 0 {
		return fmt.Errorf("audio.sample_rate must be positive, got %d", c.Audio.SampleRate)
	}
	if c.Audio.Channels <= 0 {
		return fmt.Errorf("audio.channels must be positive, got %d", c.Audio.Channels)
	}
	if c.Processing.ParallelWorkers < 1 {
		c.Processing.ParallelWorkers = 1
	}
	return nil
}

// APIKey resolves the provider key from the configured environment
// variable. A missing key makes the backend unavailable, it is not a
// configuration error.
func (a APIConfig) APIKey() string {
	if a.APIKeyEnv == "" {
		return ""
	}
	return os.Getenv(a.APIKeyEnv)
}
