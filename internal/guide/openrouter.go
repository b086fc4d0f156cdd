package guide

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/mik-tf/video-to-guide-pipeline/internal/config"
)

// OpenRouterBackend generates guides through an OpenAI-compatible
// chat completions endpoint.
type OpenRouterBackend struct {
	Config config.APIConfig
	Client *http.Client
	Logger *zap.Logger
}

func (o *OpenRouterBackend) Name() string { return "api-llm" }

func (o *OpenRouterBackend) Timeout() time.Duration { return o.Config.Timeout.Std() }

func (o *OpenRouterBackend) Available() bool {
	return o.Config.APIKey() != ""
}

func (o *OpenRouterBackend) httpClient() *http.Client {
	if o.Client != nil {
		return o.Client
	}
	return http.DefaultClient
}

func (o *OpenRouterBackend) Invoke(ctx context.Context, req Request) (*Document, error) {
	apiKey := o.Config.APIKey()
	if apiKey == "" {
		return nil, fmt.Errorf("%w: %s is not set", ErrUnavailable, o.Config.APIKeyEnv)
	}

	logger := o.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	payload, err := json.Marshal(map[string]any{
		"model": o.Config.Model,
		"messages": []map[string]string{
			{"role": "system", "content": systemPrompt},
			{"role": "user", "content": buildUserPrompt(req)},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("encode generation request: %w", err)
	}

	url := o.Config.BaseURL + "/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	logger.Debug("sending generation request", zap.String("url", url), zap.String("model", o.Config.Model))

	resp, err := o.httpClient().Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("generation API returned status %d: %s", resp.StatusCode, truncate(string(body), 200))
	}

	var parsed struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("parse generation response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return nil, fmt.Errorf("generation API returned no choices")
	}

	content := strings.TrimSpace(parsed.Choices[0].Message.Content)
	if content == "" {
		return nil, fmt.Errorf("generation API returned an empty guide")
	}

	return documentFromMarkdown(content, req), nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
