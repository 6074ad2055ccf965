package database

// FileShare grants one named user read access to one private file.
type FileShare struct {
	FileName   string `gorm:"primaryKey"`
	SharedWith string `gorm:"primaryKey"`
}
