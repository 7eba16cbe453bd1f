package providers

import (
	"fmt"

	"github.com/kiranshivaraju/reelqueue/internal/config"
	"github.com/kiranshivaraju/reelqueue/internal/inference"
	"github.com/kiranshivaraju/reelqueue/internal/inference/mock"
	"github.com/kiranshivaraju/reelqueue/internal/inference/openai"
	"github.com/kiranshivaraju/reelqueue/internal/inference/replicate"
	"github.com/kiranshivaraju/reelqueue/pkg/models"
)

// NewRegistry builds one provider per configured backend and routes every job
// kind to it. Called once at worker startup. Missing credentials are not an error
// here; the provider reports them when a job is submitted.
func NewRegistry(cfg config.InferenceConfig) (inference.Routes, error) {
	built := make(map[string]models.InferenceProvider)
	routes := make(inference.Routes, len(cfg.Routes))

	for kind, r := range cfg.Routes {
		k := models.Kind(kind)
		if !k.Valid() {
			return nil, fmt.Errorf("inference route for unknown job kind %q", kind)
		}
		p, ok := built[r.Provider]
		if !ok {
			var err error
			if p, err = newProvider(cfg, r.Provider); err != nil {
				return nil, err
			}
			built[r.Provider] = p
		}
		routes[k] = inference.Route{Provider: p, Model: r.Model}
	}
	return routes, nil
}

func newProvider(cfg config.InferenceConfig, name string) (models.InferenceProvider, error) {
	switch name {
	case "replicate":
		return replicate.NewProvider(cfg.Replicate, cfg.Timeout), nil
	case "openai":
		return openai.NewProvider(cfg.OpenAI, cfg.Timeout), nil
	case "mock":
		return mock.NewMockProvider(), nil
	default:
		return nil, fmt.Errorf("unknown inference provider %q: must be one of replicate, openai, mock", name)
	}
}
