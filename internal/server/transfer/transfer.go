// Package transfer moves file bytes over an already-open connection: the
// size-announced send with resume offsets, and the exact-length receive.
package transfer

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/konorlevich/fileshare/internal/server/database"
	"github.com/konorlevich/fileshare/internal/server/storage"
)

// chunkSize matches the protocol's fixed read/write unit.
const chunkSize = 1024

// The incomplete-transfer texts reach the client verbatim after the
// "Error: " prefix, so they keep the protocol's casing.
var (
	ErrIncompleteTransfer       = errors.New("Incomplete file transfer")
	ErrIncompleteFolderTransfer = errors.New("Incomplete folder transfer")
	ErrFileNotFound             = errors.New("file not found")
	ErrAccessDenied             = errors.New("access denied")
)

type Registry interface {
	UpsertFile(name, owner string, private bool, size int64) error
	RecordDownload(fileName, clientAddr, username string) error
}

type Access interface {
	CanDownload(username, fileName string) (bool, error)
}

type Engine struct {
	registry Registry
	access   Access
	store    *storage.Storage
	l        *log.Entry
}

func NewEngine(registry Registry, access Access, store *storage.Storage, l *log.Entry) *Engine {
	return &Engine{registry: registry, access: access, store: store, l: l}
}

// Send streams the named entry to the client, starting at offset. Folders
// are zipped into a temporary archive first and announced with a ZIP marker.
// Every reply, including errors, is written to conn; the returned error is
// for the caller's log only.
func (e *Engine) Send(conn io.Writer, name, username, clientAddr string, offset int64) error {
	l := e.l.WithFields(log.Fields{
		"file":   name,
		"user":   username,
		"client": clientAddr,
		"offset": offset,
	})

	exists, isDir, err := e.store.Stat(name)
	if err != nil || !exists {
		_, _ = fmt.Fprintf(conn, "Error: File '%s' not found.", name)
		return ErrFileNotFound
	}

	ok, err := e.access.CanDownload(username, name)
	if err != nil {
		if errors.Is(err, database.ErrFileNotFound) {
			_, _ = fmt.Fprintf(conn, "Error: File '%s' not found.", name)
			return ErrFileNotFound
		}
		_, _ = fmt.Fprintf(conn, "Error: %s", err)
		return err
	}
	if !ok {
		_, _ = fmt.Fprintf(conn, "Error: Access denied for file '%s'", name)
		return ErrAccessDenied
	}

	var src *os.File
	var size int64
	if isDir {
		zipPath, zipSize, err := e.store.ArchiveDir(name)
		if err != nil {
			_, _ = fmt.Fprintf(conn, "Error: %s", err)
			return err
		}
		defer os.Remove(zipPath)
		src, err = os.Open(zipPath)
		if err != nil {
			_, _ = fmt.Fprintf(conn, "Error: %s", err)
			return err
		}
		size = zipSize
		if _, err := fmt.Fprintf(conn, "FILE_SIZE:%d:ZIP", size); err != nil {
			src.Close()
			return err
		}
	} else {
		src, err = e.store.Open(name)
		if err != nil {
			_, _ = fmt.Fprintf(conn, "Error: %s", err)
			return err
		}
		info, err := src.Stat()
		if err != nil {
			src.Close()
			_, _ = fmt.Fprintf(conn, "Error: %s", err)
			return err
		}
		size = info.Size()
		if _, err := fmt.Fprintf(conn, "FILE_SIZE:%d", size); err != nil {
			src.Close()
			return err
		}
	}
	defer src.Close()

	if _, err := src.Seek(offset, io.SeekStart); err != nil {
		return err
	}
	sent, err := io.CopyBuffer(conn, src, make([]byte, chunkSize))
	if err != nil {
		l.WithError(err).Error("transfer aborted")
		return err
	}
	l.WithField("sent", sent).Info("file sent")

	if err := e.registry.RecordDownload(name, clientAddr, username); err != nil {
		l.WithError(err).Error("can't record download")
	}
	return nil
}

// Receive reads exactly size bytes from the client into the store and
// registers the result: one row for a flat file, one row per contained file
// for a folder archive. A short read deletes the partial output.
func (e *Engine) Receive(conn io.Reader, name string, size int64, owner string, private, folder bool) error {
	l := e.l.WithFields(log.Fields{
		"file":    name,
		"user":    owner,
		"size":    size,
		"folder":  folder,
		"private": private,
	})

	if folder {
		return e.receiveFolder(conn, name, size, owner, private, l)
	}

	dst, err := e.store.Create(name)
	if err != nil {
		return err
	}
	received, err := io.CopyN(dst, conn, size)
	if cerr := dst.Close(); err == nil {
		err = cerr
	}
	if err != nil || received != size {
		l.WithError(err).WithField("received", received).Error(ErrIncompleteTransfer)
		_ = e.store.Remove(name)
		return ErrIncompleteTransfer
	}

	if err := e.registry.UpsertFile(name, owner, private, size); err != nil {
		return err
	}
	l.Info("file received")
	return nil
}

func (e *Engine) receiveFolder(conn io.Reader, name string, size int64, owner string, private bool, l *log.Entry) error {
	zipPath := filepath.Join(os.TempDir(), uuid.NewString()+".zip")
	defer os.Remove(zipPath)

	tmp, err := os.Create(zipPath)
	if err != nil {
		return err
	}
	received, err := io.CopyN(tmp, conn, size)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil || received != size {
		l.WithError(err).WithField("received", received).Error(ErrIncompleteFolderTransfer)
		return ErrIncompleteFolderTransfer
	}

	files, err := e.store.Unpack(zipPath, name)
	if err != nil {
		_ = e.store.Remove(name)
		return err
	}
	var total int64
	for _, f := range files {
		if err := e.registry.UpsertFile(f.Name, owner, private, f.Size); err != nil {
			return err
		}
		total += f.Size
	}
	// The folder itself gets a registry row too, so it can be listed,
	// downloaded and deleted under its own name.
	if err := e.registry.UpsertFile(name, owner, private, total); err != nil {
		return err
	}
	l.WithField("files", len(files)).Info("folder received")
	return nil
}
