package models

import (
	"context"
	"encoding/json"
)

// InferenceProvider is the interface every remote transformation service implements.
// Never call a concrete provider directly; always inject this interface.
type InferenceProvider interface {
	// Submit starts a transformation and returns a handle to poll.
	Submit(ctx context.Context, req InferenceRequest) (InferenceHandle, error)
	// Poll reports the current state of a submitted transformation.
	Poll(ctx context.Context, h InferenceHandle) (PollResult, error)
	// Name returns the provider identifier (e.g., "replicate", "openai").
	Name() string
}

// InferenceRequest is the provider-agnostic request a job handler builds from job input.
type InferenceRequest struct {
	Kind   Kind
	Model  string
	Prompt string         // text providers
	Inputs map[string]any // media providers
}

// InferenceHandle identifies a submitted transformation. Synchronous providers
// fill Result so the first poll is already terminal.
type InferenceHandle struct {
	ID       string
	Provider string
	Result   *PollResult
}

// InferenceState is a provider-reported progress state.
type InferenceState string

const (
	InferenceQueued     InferenceState = "queued"
	InferenceProcessing InferenceState = "processing"
	InferenceSucceeded  InferenceState = "succeeded"
	InferenceFailed     InferenceState = "failed"
	InferenceCanceled   InferenceState = "canceled"
)

// Terminal reports whether polling can stop.
func (s InferenceState) Terminal() bool {
	return s == InferenceSucceeded || s == InferenceFailed || s == InferenceCanceled
}

// PollResult is one observation of a submitted transformation.
type PollResult struct {
	State  InferenceState
	Output json.RawMessage
	Error  string
}
