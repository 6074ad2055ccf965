package database

import (
	"time"

	"github.com/google/uuid"
)

// Download is an append-only log entry written for every served download.
// It feeds the statistics queries only, never access decisions.
type Download struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey;default:(gen_random_uuid())"`
	FileName   string
	ClientAddr string
	Timestamp  time.Time `gorm:"index"`
	Username   string
}
