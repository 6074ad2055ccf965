package main

import (
	"context"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"

	"github.com/konorlevich/fileshare/internal/server"
	"github.com/konorlevich/fileshare/internal/server/config"
	"github.com/konorlevich/fileshare/internal/server/database"
	"github.com/konorlevich/fileshare/internal/server/storage"
)

func main() {
	cfg := config.Load()
	l := log.New().WithFields(log.Fields{
		"port":        cfg.Port,
		"db_file":     cfg.DBFile,
		"storage_dir": cfg.StorageDir,
	})
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.NewDb(cfg.DBFile)
	if err != nil {
		l.WithError(err).Fatal("failed to open database")
	}
	store, err := storage.NewStorage(cfg.StorageDir, l)
	if err != nil {
		l.WithError(err).Fatal("failed to open storage dir")
	}

	s := server.New(":"+cfg.Port, database.NewRepository(db), store, l)
	if err := s.Listen(); err != nil {
		l.WithError(err).Fatal("failed to listen")
	}

	// Serve returns after a shutdown signal, once open sessions are drained.
	if err := s.Serve(ctx); err != nil {
		l.WithError(err).Fatal("serve returned err")
	}
	l.Println("server stopped")
}
