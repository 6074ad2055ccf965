package database

import "time"

// File is one registry entry. Names are unique across the whole namespace:
// folders and flat files share it, and folder uploads register one row per
// contained file using its relative path as the name.
type File struct {
	Name       string `gorm:"primaryKey"`
	Owner      string `gorm:"index"`
	Private    bool
	Size       int64
	UploadDate time.Time
}
