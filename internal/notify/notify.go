package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/reelqueue/internal/cache"
	"github.com/kiranshivaraju/reelqueue/internal/metrics"
	"github.com/kiranshivaraju/reelqueue/pkg/models"
)

// Notifier tells a job's owner that the job finished.
type Notifier interface {
	Notify(ctx context.Context, ownerID, jobID uuid.UUID, title, message string) error
}

// Sink delivers one notification through one channel.
type Sink interface {
	Name() string
	Deliver(ctx context.Context, n *models.Notification) error
}

// Fanout builds the notification once and hands it to every sink. A failing sink
// does not stop the others; the joined error reports all failures.
type Fanout struct {
	sinks []Sink
	now   func() time.Time
}

func NewFanout(sinks ...Sink) *Fanout {
	return &Fanout{sinks: sinks, now: func() time.Time { return time.Now().UTC() }}
}

func (f *Fanout) Notify(ctx context.Context, ownerID, jobID uuid.UUID, title, message string) error {
	n := &models.Notification{
		ID:        uuid.New(),
		OwnerID:   ownerID,
		JobID:     jobID,
		Title:     title,
		Message:   message,
		CreatedAt: f.now(),
	}

	var errs []error
	for _, s := range f.sinks {
		if err := s.Deliver(ctx, n); err != nil {
			metrics.RecordNotifyFailure(s.Name())
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// NotificationWriter is the slice of store.Store the durable sink needs.
type NotificationWriter interface {
	CreateNotification(ctx context.Context, n *models.Notification) error
}

// StoreSink keeps the notification as a row the owner can list later.
type StoreSink struct {
	store NotificationWriter
}

func NewStoreSink(s NotificationWriter) *StoreSink {
	return &StoreSink{store: s}
}

func (s *StoreSink) Name() string { return "store" }

func (s *StoreSink) Deliver(ctx context.Context, n *models.Notification) error {
	return s.store.CreateNotification(ctx, n)
}

// PubSubSink publishes an in-app event on the owner's notification channel.
type PubSubSink struct {
	cache cache.Cache
}

func NewPubSubSink(c cache.Cache) *PubSubSink {
	return &PubSubSink{cache: c}
}

func (s *PubSubSink) Name() string { return "pubsub" }

func (s *PubSubSink) Deliver(ctx context.Context, n *models.Notification) error {
	payload, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("encoding notification: %w", err)
	}
	return s.cache.Publish(ctx, cache.NotificationChannel(n.OwnerID), payload)
}

var _ Notifier = (*Fanout)(nil)
