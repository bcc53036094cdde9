package advisor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"polypaper/internal/config"
)

// OpenAIProvider speaks the chat completions API.
type OpenAIProvider struct {
	cfg        config.OpenAIConfig
	httpClient *http.Client
	limits     Limits
}

func NewOpenAIProvider(httpClient *http.Client, cfg config.OpenAIConfig, limits Limits) *OpenAIProvider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com"
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &OpenAIProvider{cfg: cfg, httpClient: httpClient, limits: limits}
}

func (p *OpenAIProvider) Name() string  { return "openai" }
func (p *OpenAIProvider) Model() string { return p.cfg.Model }
func (p *OpenAIProvider) Limits() Limits {
	return p.limits
}

type openAIRequest struct {
	Model               string          `json:"model"`
	MaxCompletionTokens int             `json:"max_completion_tokens,omitempty"`
	Messages            []openAIMessage `json:"messages"`
}

type openAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (p *OpenAIProvider) Ask(ctx context.Context, prompt string) (string, Usage, error) {
	if p.cfg.APIKey == "" {
		return "", Usage{}, fmt.Errorf("openai api key not configured")
	}
	reqBody := openAIRequest{
		Model:               p.cfg.Model,
		MaxCompletionTokens: p.cfg.MaxTokens,
		Messages:            []openAIMessage{{Role: "user", Content: prompt}},
	}
	data, err := json.Marshal(reqBody)
	if err != nil {
		return "", Usage{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.BaseURL+"/v1/chat/completions", bytes.NewReader(data))
	if err != nil {
		return "", Usage{}, err
	}
	req.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)
	req.Header.Set("content-type", "application/json")

	start := time.Now()
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return "", Usage{}, fmt.Errorf("openai request: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", Usage{}, err
	}
	latency := time.Since(start).Milliseconds()
	if resp.StatusCode != http.StatusOK {
		return "", Usage{LatencyMs: latency}, fmt.Errorf("openai status %d: %s", resp.StatusCode, truncate(string(body), 200))
	}
	var parsed openAIResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", Usage{LatencyMs: latency}, fmt.Errorf("openai decode: %w", err)
	}
	if parsed.Error != nil {
		return "", Usage{LatencyMs: latency}, fmt.Errorf("openai error: %s", parsed.Error.Message)
	}
	if len(parsed.Choices) == 0 {
		return "", Usage{LatencyMs: latency}, fmt.Errorf("openai returned no choices")
	}
	usage := Usage{
		InputTokens:  parsed.Usage.PromptTokens,
		OutputTokens: parsed.Usage.CompletionTokens,
		LatencyMs:    latency,
		CostUSD: float64(parsed.Usage.PromptTokens)*p.cfg.InputCostPerMTok/1e6 +
			float64(parsed.Usage.CompletionTokens)*p.cfg.OutputCostPerMTok/1e6,
	}
	return parsed.Choices[0].Message.Content, usage, nil
}
