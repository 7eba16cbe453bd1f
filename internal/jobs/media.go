package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/reelqueue/internal/inference"
	"github.com/kiranshivaraju/reelqueue/pkg/models"
)

// Downloader fetches a provider result file.
type Downloader interface {
	Download(ctx context.Context, url string) ([]byte, string, error)
}

// ArtifactStore keeps downloaded results.
type ArtifactStore interface {
	Put(ctx context.Context, jobID uuid.UUID, name, contentType string, data []byte) (*models.Artifact, error)
}

// mediaSpec describes how one media kind maps job input to provider input.
type mediaSpec struct {
	kind models.Kind
	// inputs validates options and returns the provider input (without the asset).
	inputs   func(opts map[string]any) (map[string]any, error)
	assetKey string
	artifact func(opts map[string]any) string
}

type mediaOutput struct {
	ArtifactID  uuid.UUID `json:"artifact_id"`
	ContentType string    `json:"content_type"`
	Bytes       int64     `json:"bytes"`
	SourceURL   string    `json:"source_url"`
	Provider    string    `json:"provider"`
}

// MediaHandler runs an asynchronous media transformation: submit, poll until the
// provider finishes, download the result and store it as an artifact.
type MediaHandler struct {
	spec         mediaSpec
	route        inference.Route
	fetcher      Downloader
	artifacts    ArtifactStore
	pollInterval time.Duration
	maxPolls     int
}

func (h *MediaHandler) Kind() models.Kind { return h.spec.kind }

func (h *MediaHandler) Handle(ctx context.Context, job *models.Job) (json.RawMessage, error) {
	var opts map[string]any
	if err := json.Unmarshal(job.Input, &opts); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	asset, _ := opts["asset_url"].(string)
	if u, err := url.Parse(asset); asset == "" || err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, fmt.Errorf("%w: asset_url must be an http(s) URL", ErrInvalidInput)
	}
	inputs, err := h.spec.inputs(opts)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	inputs[h.spec.assetKey] = asset

	if h.route.Provider == nil {
		return nil, fmt.Errorf("no inference provider routed for %s", h.Kind())
	}
	handle, err := h.route.Provider.Submit(ctx, models.InferenceRequest{
		Kind:   h.Kind(),
		Model:  h.route.Model,
		Inputs: inputs,
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

	resultURL, err := resultURL(res.Output)
	if err != nil {
		return nil, err
	}
	data, contentType, err := h.fetcher.Download(ctx, resultURL)
	if err != nil {
		return nil, fmt.Errorf("fetching result: %w", err)
	}
	a, err := h.artifacts.Put(ctx, job.ID, h.spec.artifact(opts), contentType, data)
	if err != nil {
		return nil, fmt.Errorf("storing artifact: %w", err)
	}

	return json.Marshal(mediaOutput{
		ArtifactID:  a.ID,
		ContentType: a.ContentType,
		Bytes:       a.SizeBytes,
		SourceURL:   resultURL,
		Provider:    h.route.Provider.Name(),
	})
}

func (h *MediaHandler) Describe(output json.RawMessage) string {
	var out mediaOutput
	if err := json.Unmarshal(output, &out); err != nil {
		return ""
	}
	return fmt.Sprintf("Result stored as artifact %s (%d bytes).", out.ArtifactID, out.Bytes)
}

// resultURL extracts the result file location from provider output, which is a
// URL string, a list of URLs, or an object carrying one.
func resultURL(output json.RawMessage) (string, error) {
	var s string
	if err := json.Unmarshal(output, &s); err == nil && s != "" {
		return s, nil
	}
	var list []string
	if err := json.Unmarshal(output, &list); err == nil && len(list) > 0 && list[0] != "" {
		return list[0], nil
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(output, &obj); err == nil {
		for _, key := range []string{"url", "output", "file"} {
			if raw, ok := obj[key]; ok {
				return resultURL(raw)
			}
		}
	}
	return "", fmt.Errorf("%w: no result URL in provider output", inference.ErrInvalidResponse)
}

func floatOption(opts map[string]any, key string, def float64) (float64, error) {
	raw, ok := opts[key]
	if !ok || raw == nil {
		return def, nil
	}
	v, ok := raw.(float64)
	if !ok {
		return 0, fmt.Errorf("%s must be a number", key)
	}
	if v < 0 || v > 1 {
		return 0, fmt.Errorf("%s must be between 0 and 1", key)
	}
	return v, nil
}

func stringOption(opts map[string]any, key, def string) (string, error) {
	raw, ok := opts[key]
	if !ok || raw == nil {
		return def, nil
	}
	v, ok := raw.(string)
	if !ok {
		return "", fmt.Errorf("%s must be a string", key)
	}
	if v == "" {
		return def, nil
	}
	return v, nil
}

var rotoSpec = mediaSpec{
	kind:     models.KindRoto,
	assetKey: "video",
	inputs: func(opts map[string]any) (map[string]any, error) {
		subject, err := stringOption(opts, "subject", "person")
		if err != nil {
			return nil, err
		}
		return map[string]any{"subject": subject}, nil
	},
	artifact: func(map[string]any) string { return "matte.mp4" },
}

var colorGradeSpec = mediaSpec{
	kind:     models.KindColorGrade,
	assetKey: "video",
	inputs: func(opts map[string]any) (map[string]any, error) {
		lut, err := stringOption(opts, "lut", "")
		if err != nil {
			return nil, err
		}
		ref, err := stringOption(opts, "reference_url", "")
		if err != nil {
			return nil, err
		}
		if (lut == "") == (ref == "") {
			return nil, fmt.Errorf("exactly one of lut or reference_url is required")
		}
		strength, err := floatOption(opts, "strength", 1)
		if err != nil {
			return nil, err
		}
		in := map[string]any{"strength": strength}
		if lut != "" {
			in["lut"] = lut
		} else {
			in["reference_image"] = ref
		}
		return in, nil
	},
	artifact: func(map[string]any) string { return "graded.mp4" },
}

var meshGenerateSpec = mediaSpec{
	kind:     models.KindMeshGenerate,
	assetKey: "image",
	inputs: func(opts map[string]any) (map[string]any, error) {
		format, err := stringOption(opts, "format", "glb")
		if err != nil {
			return nil, err
		}
		if format != "glb" && format != "obj" {
			return nil, fmt.Errorf("format must be glb or obj")
		}
		return map[string]any{"format": format}, nil
	},
	artifact: func(opts map[string]any) string {
		if f, _ := opts["format"].(string); f == "obj" {
			return "mesh.obj"
		}
		return "mesh.glb"
	},
}

var audioCleanSpec = mediaSpec{
	kind:     models.KindAudioClean,
	assetKey: "audio",
	inputs: func(opts map[string]any) (map[string]any, error) {
		level, err := floatOption(opts, "noise_reduction", 0.5)
		if err != nil {
			return nil, err
		}
		return map[string]any{"noise_reduction": level}, nil
	},
	artifact: func(map[string]any) string { return "clean.wav" },
}
