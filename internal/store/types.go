package store

import (
	"time"

	"github.com/google/uuid"
)

// BaseModel holds the common identity and timestamp columns.
type BaseModel struct {
	ID        uuid.UUID `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewID returns a fresh random UUID.
func NewID() uuid.UUID {
	return uuid.New()
}

// ShortID returns a 12-char identifier for log lines and event payloads.
func ShortID() string {
	return uuid.NewString()[:12]
}
