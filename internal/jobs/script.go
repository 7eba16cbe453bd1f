package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/kiranshivaraju/reelqueue/internal/inference"
	"github.com/kiranshivaraju/reelqueue/pkg/models"
)

const breakdownInstructions = `You break film scripts into scenes for a production team.
Return a JSON object {"scenes": [...]} where each scene has:
number (int), heading (the slug line), summary (one sentence),
characters, locations and props (arrays of strings).`

// Scene is one entry of a script breakdown.
type Scene struct {
	Number     int      `json:"number"`
	Heading    string   `json:"heading"`
	Summary    string   `json:"summary"`
	Characters []string `json:"characters"`
	Locations  []string `json:"locations"`
	Props      []string `json:"props"`
}

type scriptInput struct {
	Text  string `json:"text"`
	Title string `json:"title,omitempty"`
}

type breakdownOutput struct {
	Scenes []Scene `json:"scenes"`
}

// ScriptBreakdownHandler turns script text into a scene list with a text-generation provider.
type ScriptBreakdownHandler struct {
	route        inference.Route
	pollInterval time.Duration
	maxPolls     int
}

func NewScriptBreakdownHandler(route inference.Route, pollInterval time.Duration, maxPolls int) *ScriptBreakdownHandler {
	return &ScriptBreakdownHandler{route: route, pollInterval: pollInterval, maxPolls: maxPolls}
}

func (h *ScriptBreakdownHandler) Kind() models.Kind { return models.KindScriptBreakdown }

func (h *ScriptBreakdownHandler) Handle(ctx context.Context, job *models.Job) (json.RawMessage, error) {
	var in scriptInput
	if err := json.Unmarshal(job.Input, &in); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	if strings.TrimSpace(in.Text) == "" {
		return nil, fmt.Errorf("%w: text is required", ErrInvalidInput)
	}
	if h.route.Provider == nil {
		return nil, fmt.Errorf("no inference provider routed for %s", h.Kind())
	}

	handle, err := h.route.Provider.Submit(ctx, models.InferenceRequest{
		Kind:   h.Kind(),
		Model:  h.route.Model,
		Prompt: in.Text,
		Inputs: map[string]any{"system": breakdownInstructions, "title": in.Title},
	})
	if err != nil {
		return nil, err
	}

	res, err := inference.PollUntilDone(ctx, h.route.Provider, handle, h.pollInterval, h.maxPolls)
	if err != nil {
		return nil, err
	}
	if err := inference.ResultError(h.route.Provider.Name(), res); err != nil {
		return nil, err
	}

	var out breakdownOutput
	if err := json.Unmarshal(res.Output, &out); err != nil {
		return nil, fmt.Errorf("%w: breakdown is not a scene list: %v", inference.ErrInvalidResponse, err)
	}
	if len(out.Scenes) == 0 {
		return nil, fmt.Errorf("%w: breakdown contains no scenes", inference.ErrInvalidResponse)
	}
	for i := range out.Scenes {
		normalizeScene(&out.Scenes[i], i+1)
	}
	return json.Marshal(out)
}

func (h *ScriptBreakdownHandler) Describe(output json.RawMessage) string {
	var out breakdownOutput
	if err := json.Unmarshal(output, &out); err != nil {
		return ""
	}
	if len(out.Scenes) == 1 {
		return "1 scene found"
	}
	return fmt.Sprintf("%d scenes found", len(out.Scenes))
}

func normalizeScene(s *Scene, position int) {
	if s.Number <= 0 {
		s.Number = position
	}
	s.Heading = strings.TrimSpace(s.Heading)
	if s.Characters == nil {
		s.Characters = []string{}
	}
	if s.Locations == nil {
		s.Locations = []string{}
	}
	if s.Props == nil {
		s.Props = []string{}
	}
}
