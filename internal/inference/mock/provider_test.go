package mock_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/kiranshivaraju/reelqueue/internal/inference/mock"
	"github.com/kiranshivaraju/reelqueue/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- NewMockProvider ---

func TestNewMockProvider_Name(t *testing.T) {
	p := mock.NewMockProvider()
	assert.Equal(t, "mock", p.Name())
}

func TestNewMockProvider_ScriptBreakdown(t *testing.T) {
	p := mock.NewMockProvider()
	script := "INT. KITCHEN - NIGHT\nMARA pours coffee.\n\nEXT. HARBOR - DAWN\nBoats."

	h, err := p.Submit(context.Background(), models.InferenceRequest{Kind: models.KindScriptBreakdown, Prompt: script})
	require.NoError(t, err)
	require.NotNil(t, h.Result)

	res, err := p.Poll(context.Background(), h)
	require.NoError(t, err)
	assert.Equal(t, models.InferenceSucceeded, res.State)

	var out struct {
		Scenes []struct {
			Number    int      `json:"number"`
			Heading   string   `json:"heading"`
			Locations []string `json:"locations"`
		} `json:"scenes"`
	}
	require.NoError(t, json.Unmarshal(res.Output, &out))
	require.Len(t, out.Scenes, 2)
	assert.Equal(t, 1, out.Scenes[0].Number)
	assert.Equal(t, "INT. KITCHEN - NIGHT", out.Scenes[0].Heading)
	assert.Equal(t, []string{"KITCHEN"}, out.Scenes[0].Locations)
	assert.Equal(t, []string{"HARBOR"}, out.Scenes[1].Locations)
}

func TestNewMockProvider_MediaEchoesAsset(t *testing.T) {
	p := mock.NewMockProvider()
	h, err := p.Submit(context.Background(), models.InferenceRequest{
		Kind:   models.KindAudioClean,
		Inputs: map[string]any{"audio": "https://assets.example/dialog.wav", "noise_reduction": 0.5},
	})
	require.NoError(t, err)
	assert.JSONEq(t, `"https://assets.example/dialog.wav"`, string(h.Result.Output))
}

// --- Failure constructors ---

func TestNewFailingProvider(t *testing.T) {
	want := errors.New("provider down")
	p := mock.NewFailingProvider(want)
	_, err := p.Submit(context.Background(), models.InferenceRequest{})
	assert.ErrorIs(t, err, want)
	assert.Equal(t, int64(1), p.SubmitCalls.Load())
}

func TestNewRejectingProvider(t *testing.T) {
	p := mock.NewRejectingProvider("bad input")
	res, err := p.Poll(context.Background(), models.InferenceHandle{})
	require.NoError(t, err)
	assert.Equal(t, models.InferenceFailed, res.State)
	assert.Equal(t, "bad input", res.Error)
}

func TestNewNeverFinishingProvider(t *testing.T) {
	p := mock.NewNeverFinishingProvider()
	for i := 0; i < 3; i++ {
		res, err := p.Poll(context.Background(), models.InferenceHandle{})
		require.NoError(t, err)
		assert.False(t, res.State.Terminal())
	}
	assert.Equal(t, int64(3), p.PollCalls.Load())
}

func TestMockProvider_Defaults(t *testing.T) {
	p := &mock.MockProvider{Name_: "bare"}
	h, err := p.Submit(context.Background(), models.InferenceRequest{})
	require.NoError(t, err)
	assert.NotEmpty(t, h.ID)

	res, err := p.Poll(context.Background(), h)
	require.NoError(t, err)
	assert.Equal(t, models.InferenceSucceeded, res.State)
}
