package mock

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/reelqueue/pkg/models"
)

// MockProvider satisfies models.InferenceProvider for tests and local development.
type MockProvider struct {
	Name_      string
	SubmitFunc func(ctx context.Context, req models.InferenceRequest) (models.InferenceHandle, error)
	PollFunc   func(ctx context.Context, h models.InferenceHandle) (models.PollResult, error)

	SubmitCalls atomic.Int64
	PollCalls   atomic.Int64
}

func (m *MockProvider) Name() string { return m.Name_ }

func (m *MockProvider) Submit(ctx context.Context, req models.InferenceRequest) (models.InferenceHandle, error) {
	m.SubmitCalls.Add(1)
	if m.SubmitFunc != nil {
		return m.SubmitFunc(ctx, req)
	}
	return models.InferenceHandle{ID: uuid.NewString(), Provider: m.Name_}, nil
}

func (m *MockProvider) Poll(ctx context.Context, h models.InferenceHandle) (models.PollResult, error) {
	m.PollCalls.Add(1)
	if m.PollFunc != nil {
		return m.PollFunc(ctx, h)
	}
	if h.Result != nil {
		return *h.Result, nil
	}
	return models.PollResult{State: models.InferenceSucceeded, Output: json.RawMessage(`{}`)}, nil
}

// NewMockProvider returns the provider routed by the "mock" configuration value.
// Script prompts are split on scene headings; media requests echo their source
// asset URL, so downstream download and storage still run end to end.
func NewMockProvider() *MockProvider {
	return &MockProvider{
		Name_: "mock",
		SubmitFunc: func(_ context.Context, req models.InferenceRequest) (models.InferenceHandle, error) {
			var out json.RawMessage
			if req.Kind == models.KindScriptBreakdown {
				out = breakdown(req.Prompt)
			} else {
				b, _ := json.Marshal(firstURL(req.Inputs))
				out = b
			}
			return models.InferenceHandle{
				ID:       uuid.NewString(),
				Provider: "mock",
				Result:   &models.PollResult{State: models.InferenceSucceeded, Output: out},
			}, nil
		},
	}
}

// NewSucceedingProvider returns a provider whose first poll succeeds with output.
func NewSucceedingProvider(output json.RawMessage) *MockProvider {
	return &MockProvider{
		Name_: "mock-succeeding",
		PollFunc: func(_ context.Context, _ models.InferenceHandle) (models.PollResult, error) {
			return models.PollResult{State: models.InferenceSucceeded, Output: output}, nil
		},
	}
}

// NewFailingProvider returns a provider whose Submit always returns err.
func NewFailingProvider(err error) *MockProvider {
	return &MockProvider{
		Name_: "mock-failing",
		SubmitFunc: func(_ context.Context, _ models.InferenceRequest) (models.InferenceHandle, error) {
			return models.InferenceHandle{}, err
		},
	}
}

// NewRejectingProvider returns a provider that accepts the submission and then
// reports a provider-side failure carrying message.
func NewRejectingProvider(message string) *MockProvider {
	return &MockProvider{
		Name_: "mock-rejecting",
		PollFunc: func(_ context.Context, _ models.InferenceHandle) (models.PollResult, error) {
			return models.PollResult{State: models.InferenceFailed, Error: message}, nil
		},
	}
}

// NewNeverFinishingProvider returns a provider that stays in processing forever.
func NewNeverFinishingProvider() *MockProvider {
	return &MockProvider{
		Name_: "mock-never-finishing",
		PollFunc: func(_ context.Context, _ models.InferenceHandle) (models.PollResult, error) {
			return models.PollResult{State: models.InferenceProcessing}, nil
		},
	}
}

type scene struct {
	Number     int      `json:"number"`
	Heading    string   `json:"heading"`
	Summary    string   `json:"summary"`
	Characters []string `json:"characters"`
	Locations  []string `json:"locations"`
	Props      []string `json:"props"`
}

func breakdown(script string) json.RawMessage {
	scenes := []scene{}
	for _, line := range strings.Split(script, "\n") {
		line = strings.TrimSpace(line)
		upper := strings.ToUpper(line)
		if !strings.HasPrefix(upper, "INT.") && !strings.HasPrefix(upper, "EXT.") && !strings.HasPrefix(upper, "INT/EXT") {
			continue
		}
		location := line
		if _, rest, ok := strings.Cut(line, " "); ok {
			location = rest
		}
		if place, _, ok := strings.Cut(location, " - "); ok {
			location = place
		}
		scenes = append(scenes, scene{
			Number:     len(scenes) + 1,
			Heading:    line,
			Summary:    "Scene at " + strings.TrimSpace(location),
			Characters: []string{},
			Locations:  []string{strings.TrimSpace(location)},
			Props:      []string{},
		})
	}
	b, _ := json.Marshal(map[string]any{"scenes": scenes})
	return b
}

func firstURL(inputs map[string]any) string {
	keys := make([]string, 0, len(inputs))
	for k := range inputs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if s, ok := inputs[k].(string); ok && (strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")) {
			return s
		}
	}
	return ""
}

var _ models.InferenceProvider = (*MockProvider)(nil)
