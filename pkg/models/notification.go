package models

import (
	"time"

	"github.com/google/uuid"
)

// Notification is the durable record that a job reached a terminal state,
// addressed to the job's owner.
type Notification struct {
	ID        uuid.UUID `db:"id"         json:"id"`
	OwnerID   uuid.UUID `db:"owner_id"   json:"owner_id"`
	JobID     uuid.UUID `db:"job_id"     json:"job_id"`
	Title     string    `db:"title"      json:"title"`
	Message   string    `db:"message"    json:"message"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}
