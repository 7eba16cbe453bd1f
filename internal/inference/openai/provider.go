package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/reelqueue/internal/config"
	"github.com/kiranshivaraju/reelqueue/internal/inference"
	"github.com/kiranshivaraju/reelqueue/pkg/models"
)

const name = "openai"

// Provider implements models.InferenceProvider with a single synchronous
// chat-completions call. The handle returned by Submit already carries the result.
type Provider struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

func NewProvider(cfg config.OpenAIConfig, timeout time.Duration) *Provider {
	return &Provider{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		client:  &http.Client{Timeout: timeout},
	}
}

func (p *Provider) Name() string { return name }

func (p *Provider) Submit(ctx context.Context, req models.InferenceRequest) (models.InferenceHandle, error) {
	if p.apiKey == "" {
		return models.InferenceHandle{}, fmt.Errorf("%w: OPENAI_API_KEY is not set", inference.ErrMissingCredentials)
	}

	body := chatRequest{
		Model: req.Model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt(req)},
			{Role: "user", Content: req.Prompt},
		},
		ResponseFormat: &responseFormat{Type: "json_object"},
	}
	b, err := json.Marshal(body)
	if err != nil {
		return models.InferenceHandle{}, fmt.Errorf("encoding request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/v1/chat/completions", bytes.NewReader(b))
	if err != nil {
		return models.InferenceHandle{}, fmt.Errorf("building request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return models.InferenceHandle{}, inference.ClassifyTransportError(ctx, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var apiErr errorResponse
		_ = json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&apiErr)
		return models.InferenceHandle{}, inference.ClassifyStatus(name, resp.StatusCode, apiErr.Error.Message)
	}

	var chat chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chat); err != nil {
		return models.InferenceHandle{}, fmt.Errorf("%w: decoding completion: %v", inference.ErrInvalidResponse, err)
	}
	if len(chat.Choices) == 0 {
		return models.InferenceHandle{}, fmt.Errorf("%w: completion has no choices", inference.ErrInvalidResponse)
	}
	content := strings.TrimSpace(chat.Choices[0].Message.Content)
	if !json.Valid([]byte(content)) {
		return models.InferenceHandle{}, fmt.Errorf("%w: completion is not JSON", inference.ErrInvalidResponse)
	}

	id := chat.ID
	if id == "" {
		id = uuid.NewString()
	}
	return models.InferenceHandle{
		ID:       id,
		Provider: name,
		Result:   &models.PollResult{State: models.InferenceSucceeded, Output: json.RawMessage(content)},
	}, nil
}

// Poll returns the result captured at submit time.
func (p *Provider) Poll(_ context.Context, h models.InferenceHandle) (models.PollResult, error) {
	if h.Result == nil {
		return models.PollResult{}, fmt.Errorf("%w: openai handle %s carries no result", inference.ErrInvalidResponse, h.ID)
	}
	return *h.Result, nil
}

func systemPrompt(req models.InferenceRequest) string {
	if s, ok := req.Inputs["system"].(string); ok && s != "" {
		return s
	}
	return "You are a film production assistant. Respond with a single JSON object."
}

// --- OpenAI wire types ---

type chatRequest struct {
	Model          string          `json:"model"`
	Messages       []chatMessage   `json:"messages"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatResponse struct {
	ID      string `json:"id"`
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

type errorResponse struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

var _ models.InferenceProvider = (*Provider)(nil)
