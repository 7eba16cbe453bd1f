package models

import (
	"time"

	"github.com/google/uuid"
)

// Artifact is a binary job result (matte, graded clip, mesh, cleaned audio) kept
// by the platform after the provider's copy expires.
type Artifact struct {
	ID          uuid.UUID `db:"id"           json:"id"`
	JobID       uuid.UUID `db:"job_id"       json:"job_id"`
	Name        string    `db:"name"         json:"name"`
	ContentType string    `db:"content_type" json:"content_type"`
	SizeBytes   int64     `db:"size_bytes"   json:"size_bytes"`
	Data        []byte    `db:"data"         json:"-"`
	CreatedAt   time.Time `db:"created_at"   json:"created_at"`
}
