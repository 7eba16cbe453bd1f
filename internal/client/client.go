package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/reelqueue/internal/reconciler"
	"github.com/kiranshivaraju/reelqueue/pkg/models"
)

// Sentinel errors for API client failures.
var (
	ErrUnreachable = errors.New("reelqueue api unreachable")
	ErrNotFound    = errors.New("job not found")
	ErrAPI         = errors.New("reelqueue api error")
)

// Job is the job representation returned by the API.
type Job struct {
	ID          uuid.UUID       `json:"id"`
	Kind        models.Kind     `json:"kind"`
	Status      models.Status   `json:"status"`
	Output      json.RawMessage `json:"output,omitempty"`
	Error       string          `json:"error,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
}

// HTTPClient talks to the ReelQueue API with a bearer API key.
type HTTPClient struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

func NewHTTPClient(baseURL, apiKey string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client:  &http.Client{Timeout: timeout},
	}
}

// CreateJob submits a new job and returns it in its pending state.
func (c *HTTPClient) CreateJob(ctx context.Context, kind models.Kind, input json.RawMessage) (*Job, error) {
	body, err := json.Marshal(map[string]any{"kind": kind, "input": input})
	if err != nil {
		return nil, err
	}
	var job Job
	if err := c.do(ctx, http.MethodPost, "/api/v1/jobs", body, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

func (c *HTTPClient) GetJob(ctx context.Context, id uuid.UUID) (*Job, error) {
	var job Job
	if err := c.do(ctx, http.MethodGet, "/api/v1/jobs/"+id.String(), nil, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

// JobStatus lets the client act as a reconciler status source.
func (c *HTTPClient) JobStatus(ctx context.Context, id uuid.UUID) (reconciler.StatusView, error) {
	job, err := c.GetJob(ctx, id)
	if err != nil {
		return reconciler.StatusView{}, err
	}
	return reconciler.StatusView{ID: job.ID, Status: job.Status, Output: job.Output, Error: job.Error}, nil
}

type apiError struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (c *HTTPClient) do(ctx context.Context, method, path string, body []byte, out any) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return classifyError(ctx, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var e apiError
		_ = json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&e)
		if e.Error.Message != "" {
			return fmt.Errorf("%w: status %d: %s: %s", ErrAPI, resp.StatusCode, e.Error.Code, e.Error.Message)
		}
		return fmt.Errorf("%w: status %d", ErrAPI, resp.StatusCode)
	}

	envelope := struct {
		Data any `json:"data"`
	}{Data: out}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

// classifyError maps transport-level errors to ErrUnreachable, leaving the
// caller's own cancellation untouched.
func classifyError(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: timeout: %v", ErrUnreachable, err)
	}
	return fmt.Errorf("%w: %v", ErrUnreachable, err)
}

var _ reconciler.StatusSource = (*HTTPClient)(nil)
