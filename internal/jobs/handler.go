package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/kiranshivaraju/reelqueue/pkg/models"
)

// ErrInvalidInput marks a job whose input cannot be processed. Retrying it is pointless.
var ErrInvalidInput = errors.New("invalid input")

// Handler performs the work for one job kind. It returns the output to store
// on success; any error fails the job with the error text.
type Handler interface {
	Kind() models.Kind
	Handle(ctx context.Context, job *models.Job) (json.RawMessage, error)
}

// Describer is implemented by handlers that can summarize their output for the
// owner's notification.
type Describer interface {
	Describe(output json.RawMessage) string
}

// Registry maps each job kind to its handler.
type Registry struct {
	handlers map[models.Kind]Handler
}

func NewRegistry(handlers ...Handler) (*Registry, error) {
	r := &Registry{handlers: make(map[models.Kind]Handler, len(handlers))}
	for _, h := range handlers {
		if _, dup := r.handlers[h.Kind()]; dup {
			return nil, fmt.Errorf("duplicate handler for job kind %q", h.Kind())
		}
		r.handlers[h.Kind()] = h
	}
	return r, nil
}

func (r *Registry) Get(kind models.Kind) (Handler, bool) {
	h, ok := r.handlers[kind]
	return h, ok
}

// Validate fails when any known job kind has no handler. Workers call it at
// startup so a missing handler is caught before a job of that kind is claimed.
func (r *Registry) Validate() error {
	var missing []string
	for _, k := range models.AllKinds() {
		if _, ok := r.handlers[k]; !ok {
			missing = append(missing, string(k))
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("no handler registered for job kinds: %s", strings.Join(missing, ", "))
	}
	return nil
}
