package replicate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/kiranshivaraju/reelqueue/internal/config"
	"github.com/kiranshivaraju/reelqueue/internal/inference"
	"github.com/kiranshivaraju/reelqueue/pkg/models"
)

const name = "replicate"

// Provider implements models.InferenceProvider against Replicate's asynchronous
// prediction API.
type Provider struct {
	baseURL string
	token   string
	client  *http.Client
}

func NewProvider(cfg config.ReplicateConfig, timeout time.Duration) *Provider {
	return &Provider{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		token:   cfg.APIToken,
		client:  &http.Client{Timeout: timeout},
	}
}

func (p *Provider) Name() string { return name }

// Submit creates a prediction for req.Model ("owner/name" or "owner/name:version").
func (p *Provider) Submit(ctx context.Context, req models.InferenceRequest) (models.InferenceHandle, error) {
	if p.token == "" {
		return models.InferenceHandle{}, fmt.Errorf("%w: REPLICATE_API_TOKEN is not set", inference.ErrMissingCredentials)
	}

	model, version, hasVersion := strings.Cut(req.Model, ":")
	body := predictionRequest{Input: req.Inputs}
	u := fmt.Sprintf("%s/v1/models/%s/predictions", p.baseURL, model)
	if hasVersion {
		body.Version = version
		u = p.baseURL + "/v1/predictions"
	}
	if body.Input == nil {
		body.Input = map[string]any{}
	}

	var pred prediction
	if err := p.do(ctx, http.MethodPost, u, body, &pred); err != nil {
		return models.InferenceHandle{}, err
	}
	if pred.ID == "" {
		return models.InferenceHandle{}, fmt.Errorf("%w: prediction has no id", inference.ErrInvalidResponse)
	}
	return models.InferenceHandle{ID: pred.ID, Provider: name}, nil
}

func (p *Provider) Poll(ctx context.Context, h models.InferenceHandle) (models.PollResult, error) {
	if h.Result != nil {
		return *h.Result, nil
	}
	var pred prediction
	u := fmt.Sprintf("%s/v1/predictions/%s", p.baseURL, url.PathEscape(h.ID))
	if err := p.do(ctx, http.MethodGet, u, nil, &pred); err != nil {
		return models.PollResult{}, err
	}
	return pred.result()
}

func (p *Provider) do(ctx context.Context, method, u string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		reader = bytes.NewReader(b)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+p.token)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return inference.ClassifyTransportError(ctx, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var apiErr errorResponse
		_ = json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&apiErr)
		return inference.ClassifyStatus(name, resp.StatusCode, apiErr.Detail)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decoding prediction: %v", inference.ErrInvalidResponse, err)
	}
	return nil
}

// --- Replicate wire types ---

type predictionRequest struct {
	Version string         `json:"version,omitempty"`
	Input   map[string]any `json:"input"`
}

type prediction struct {
	ID     string          `json:"id"`
	Status string          `json:"status"`
	Output json.RawMessage `json:"output"`
	Error  any             `json:"error"`
}

type errorResponse struct {
	Detail string `json:"detail"`
}

func (p prediction) result() (models.PollResult, error) {
	res := models.PollResult{Output: p.Output}
	switch p.Status {
	case "starting":
		res.State = models.InferenceQueued
	case "processing":
		res.State = models.InferenceProcessing
	case "succeeded":
		res.State = models.InferenceSucceeded
	case "failed":
		res.State = models.InferenceFailed
	case "canceled", "aborted":
		res.State = models.InferenceCanceled
	default:
		return models.PollResult{}, fmt.Errorf("%w: unknown prediction status %q", inference.ErrInvalidResponse, p.Status)
	}
	if p.Error != nil {
		res.Error = fmt.Sprint(p.Error)
	}
	return res, nil
}

var _ models.InferenceProvider = (*Provider)(nil)
