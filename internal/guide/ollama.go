package guide

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/mik-tf/video-to-guide-pipeline/internal/config"
)

// ErrUnavailable marks a generation backend that cannot serve
// requests at all. The fallback chain advances past it.
var ErrUnavailable = errors.New("guide generation backend unavailable")

// OllamaBackend generates guides through a local Ollama server.
type OllamaBackend struct {
	Config config.LocalAIConfig
	Client *http.Client
	Logger *zap.Logger
}

func (o *OllamaBackend) Name() string { return "local-llm" }

func (o *OllamaBackend) Timeout() time.Duration { return o.Config.Timeout.Std() }

func (o *OllamaBackend) httpClient() *http.Client {
	if o.Client != nil {
		return o.Client
	}
	return http.DefaultClient
}

// Available probes the Ollama tags endpoint with a short deadline.
func (o *OllamaBackend) Available() bool {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.Config.Host+"/api/tags", nil)
	if err != nil {
		return false
	}
	resp, err := o.httpClient().Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

func (o *OllamaBackend) hasModel(ctx context.Context) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.Config.Host+"/api/tags", nil)
	if err != nil {
		return false, err
	}
	resp, err := o.httpClient().Do(req)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("%w: ollama tags returned status %d", ErrUnavailable, resp.StatusCode)
	}

	var parsed struct {
		Models []struct {
			Name string `json:"name"`
		} `json:"models"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return false, fmt.Errorf("parse ollama tags: %w", err)
	}

	for _, model := range parsed.Models {
		if model.Name == o.Config.Model {
			return true, nil
		}
	}
	return false, nil
}

func (o *OllamaBackend) pullModel(ctx context.Context) error {
	body, err := json.Marshal(map[string]string{"name": o.Config.Model})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.Config.Host+"/api/pull", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.httpClient().Do(req)
	if err != nil {
		return fmt.Errorf("pull model %s: %w", o.Config.Model, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("pull model %s: status %d", o.Config.Model, resp.StatusCode)
	}
	return nil
}

func (o *OllamaBackend) Invoke(ctx context.Context, req Request) (*Document, error) {
	logger := o.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	hasModel, err := o.hasModel(ctx)
	if err != nil {
		return nil, err
	}
	if !hasModel {
		logger.Info("ollama model not present, pulling", zap.String("model", o.Config.Model))
		if err := o.pullModel(ctx); err != nil {
			return nil, err
		}
	}

	payload, err := json.Marshal(map[string]any{
		"model":  o.Config.Model,
		"prompt": buildUserPrompt(req),
		"system": systemPrompt,
		"stream": false,
		"options": map[string]any{
			"temperature": o.Config.Temperature,
			"num_predict": o.Config.MaxTokens,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("encode generation request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, o.Config.Host+"/api/generate", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := o.httpClient().Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("ollama generate returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(detail)))
	}

	var parsed struct {
		Response string `json:"response"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("parse ollama response: %w", err)
	}

	content := strings.TrimSpace(parsed.Response)
	if content == "" {
		return nil, fmt.Errorf("ollama returned an empty guide")
	}

	return documentFromMarkdown(content, req), nil
}

// documentFromMarkdown wraps AI-generated markdown, lifting the first
// heading into the title so reporting stays uniform across backends.
func documentFromMarkdown(content string, req Request) *Document {
	doc := &Document{
		Raw: content,
		Metadata: Metadata{
			SourceVideo:          req.VideoName,
			GeneratedAt:          time.Now().UTC(),
			WordCount:            len(strings.Fields(content)),
			EstimatedReadingTime: estimateReadingTime(content),
		},
	}

	for line := range strings.Lines(content) {
		if title, ok := strings.CutPrefix(strings.TrimSpace(line), "# "); ok {
			doc.Title = strings.TrimSpace(title)
			break
		}
	}
	if doc.Title == "" {
		doc.Title = "Generated Guide"
	}

	return doc
}
