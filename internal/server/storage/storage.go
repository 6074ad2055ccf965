// Package storage owns the on-disk file store: one entry per flat file, one
// directory per uploaded folder, all under a single root.
package storage

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	log "github.com/sirupsen/logrus"
)

var (
	ErrInvalidName       = errors.New("invalid file name")
	ErrCantCreateFile    = errors.New("can't create file")
	ErrCantCreateFileDir = errors.New("can't create file dir")
	ErrCantWriteFile     = errors.New("can't write file")

	ErrCantFindFile = errors.New("can't find the file")
	ErrCantOpenFile = errors.New("can't open the file")
)

type Storage struct {
	root string
	l    *log.Entry
}

func NewStorage(basePath string, l *log.Entry) (*Storage, error) {
	if err := os.MkdirAll(basePath, fs.ModePerm); err != nil {
		return nil, fmt.Errorf("can't create storage dir: %w", err)
	}
	return &Storage{root: basePath, l: l.WithField("storage_root", basePath)}, nil
}

// Path maps a registry name to its on-disk location. Names that would escape
// the root are rejected.
func (s *Storage) Path(name string) (string, error) {
	if name == "" || filepath.IsAbs(name) {
		return "", ErrInvalidName
	}
	cleaned := filepath.Clean(name)
	if cleaned == ".." || strings.HasPrefix(cleaned, ".."+string(filepath.Separator)) {
		return "", ErrInvalidName
	}
	return filepath.Join(s.root, cleaned), nil
}

// Stat reports whether the entry exists and whether it is a directory.
func (s *Storage) Stat(name string) (exists, isDir bool, err error) {
	p, err := s.Path(name)
	if err != nil {
		return false, false, err
	}
	info, err := os.Stat(p)
	if err != nil {
		if os.IsNotExist(err) {
			return false, false, nil
		}
		return false, false, err
	}
	return true, info.IsDir(), nil
}

// Create opens the entry for writing, making parent dirs as needed. The
// caller owns closing the returned file.
func (s *Storage) Create(name string) (*os.File, error) {
	p, err := s.Path(name)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(p), fs.ModePerm); err != nil {
		s.l.WithField("file_dir", filepath.Dir(p)).WithError(err).Error(ErrCantCreateFileDir)
		return nil, ErrCantCreateFileDir
	}
	f, err := os.OpenFile(p, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, fs.ModePerm)
	if err != nil {
		s.l.WithField("file_path", p).WithError(err).Error(ErrCantCreateFile)
		return nil, ErrCantCreateFile
	}
	return f, nil
}

// Save streams the reader into the named entry and returns bytes written.
// A failed write leaves no partial entry behind.
func (s *Storage) Save(name string, data io.Reader) (int64, error) {
	f, err := s.Create(name)
	if err != nil {
		return 0, err
	}
	defer func(f *os.File) {
		if err := f.Close(); err != nil {
			s.l.WithError(err).Error("can't close file")
		}
	}(f)

	n, err := io.Copy(f, data)
	if err != nil {
		s.l.WithError(err).Error(ErrCantWriteFile)
		_ = os.Remove(f.Name())
		return n, ErrCantWriteFile
	}
	return n, nil
}

// Open returns a read handle for a flat file entry.
func (s *Storage) Open(name string) (*os.File, error) {
	p, err := s.Path(name)
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(p); err != nil {
		s.l.WithField("file_path", p).WithError(err).Error(ErrCantFindFile)
		return nil, ErrCantFindFile
	}
	f, err := os.Open(p)
	if err != nil {
		s.l.WithField("file_path", p).WithError(err).Error(ErrCantOpenFile)
		return nil, ErrCantOpenFile
	}
	return f, nil
}

// Remove deletes the entry, recursively when it is a folder. Removing a
// missing entry is not an error.
func (s *Storage) Remove(name string) error {
	p, err := s.Path(name)
	if err != nil {
		return err
	}
	return os.RemoveAll(p)
}
