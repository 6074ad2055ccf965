package config

import (
	"os"

	"github.com/konorlevich/fileshare/internal/server/database"
)

type Config struct {
	Port       string
	DBFile     string
	StorageDir string
}

func Load() *Config {
	return &Config{
		Port:       getEnv("LISTEN_PORT", "1253"),
		DBFile:     getEnv("DB_FILE", database.DefaultFile),
		StorageDir: getEnv("STORAGE_DIR", "server_files"),
	}
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}
