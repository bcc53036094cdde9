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

// AnthropicProvider speaks the Anthropic messages API.
type AnthropicProvider struct {
	cfg        config.AnthropicConfig
	httpClient *http.Client
	limits     Limits
}

func NewAnthropicProvider(httpClient *http.Client, cfg config.AnthropicConfig, limits Limits) *AnthropicProvider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.anthropic.com"
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &AnthropicProvider{cfg: cfg, httpClient: httpClient, limits: limits}
}

func (p *AnthropicProvider) Name() string  { return "anthropic" }
func (p *AnthropicProvider) Model() string { return p.cfg.Model }
func (p *AnthropicProvider) Limits() Limits {
	return p.limits
}

type anthropicRequest struct {
	Model     string             `json:"model"`
	MaxTokens int                `json:"max_tokens"`
	Messages  []anthropicMessage `json:"messages"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Usage struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

func (p *AnthropicProvider) Ask(ctx context.Context, prompt string) (string, Usage, error) {
	if p.cfg.APIKey == "" {
		return "", Usage{}, fmt.Errorf("anthropic api key not configured")
	}
	reqBody := anthropicRequest{
		Model:     p.cfg.Model,
		MaxTokens: p.cfg.MaxTokens,
		Messages:  []anthropicMessage{{Role: "user", Content: prompt}},
	}
	data, err := json.Marshal(reqBody)
	if err != nil {
		return "", Usage{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.BaseURL+"/v1/messages", bytes.NewReader(data))
	if err != nil {
		return "", Usage{}, err
	}
	req.Header.Set("x-api-key", p.cfg.APIKey)
	req.Header.Set("anthropic-version", "2023-06-01")
	req.Header.Set("content-type", "application/json")

	start := time.Now()
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return "", Usage{}, fmt.Errorf("anthropic request: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", Usage{}, err
	}
	latency := time.Since(start).Milliseconds()
	if resp.StatusCode != http.StatusOK {
		return "", Usage{LatencyMs: latency}, fmt.Errorf("anthropic status %d: %s", resp.StatusCode, truncate(string(body), 200))
	}
	var parsed anthropicResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", Usage{LatencyMs: latency}, fmt.Errorf("anthropic decode: %w", err)
	}
	if parsed.Error != nil {
		return "", Usage{LatencyMs: latency}, fmt.Errorf("anthropic error: %s", parsed.Error.Message)
	}
	var text strings.Builder
	for _, block := range parsed.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	usage := Usage{
		InputTokens:  parsed.Usage.InputTokens,
		OutputTokens: parsed.Usage.OutputTokens,
		LatencyMs:    latency,
		CostUSD: float64(parsed.Usage.InputTokens)*p.cfg.InputCostPerMTok/1e6 +
			float64(parsed.Usage.OutputTokens)*p.cfg.OutputCostPerMTok/1e6,
	}
	return text.String(), usage, nil
}
