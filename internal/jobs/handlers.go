package jobs

import (
	"time"

	"github.com/kiranshivaraju/reelqueue/internal/inference"
	"github.com/kiranshivaraju/reelqueue/pkg/models"
)

// HandlerDeps is everything the built-in handlers need.
type HandlerDeps struct {
	Routes       inference.Routes
	Fetcher      Downloader
	Artifacts    ArtifactStore
	PollInterval time.Duration
	MaxPolls     int
}

// NewHandlers returns one handler per built-in job kind.
func NewHandlers(d HandlerDeps) []Handler {
	handlers := []Handler{
		NewScriptBreakdownHandler(d.Routes[models.KindScriptBreakdown], d.PollInterval, d.MaxPolls),
	}
	for _, spec := range []mediaSpec{rotoSpec, colorGradeSpec, meshGenerateSpec, audioCleanSpec} {
		handlers = append(handlers, &MediaHandler{
			spec:         spec,
			route:        d.Routes[spec.kind],
			fetcher:      d.Fetcher,
			artifacts:    d.Artifacts,
			pollInterval: d.PollInterval,
			maxPolls:     d.MaxPolls,
		})
	}
	return handlers
}
