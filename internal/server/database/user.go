package database

// User is an account allowed to open a session. Passwords are stored as
// bcrypt hashes, never as the cleartext the client sends on the wire.
type User struct {
	Username     string `gorm:"primaryKey"`
	PasswordHash string `gorm:"not null"`
}
