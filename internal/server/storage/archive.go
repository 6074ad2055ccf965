package storage

import (
	"archive/zip"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

var (
	ErrCantArchive = errors.New("can't archive folder")
	ErrCantUnpack  = errors.New("can't unpack archive")
)

// UnpackedFile describes one file extracted from an uploaded folder archive,
// named by its path relative to the storage root.
type UnpackedFile struct {
	Name string
	Size int64
}

// ArchiveDir zips the named folder into a temporary file and returns its
// path and size. Paths inside the archive are relative to the folder, so the
// receiver unpacks the same layout. The caller removes the archive when the
// transfer is done.
func (s *Storage) ArchiveDir(name string) (string, int64, error) {
	dir, err := s.Path(name)
	if err != nil {
		return "", 0, err
	}
	zipPath := filepath.Join(os.TempDir(), uuid.NewString()+".zip")
	if err := zipDir(dir, zipPath); err != nil {
		s.l.WithField("folder", name).WithError(err).Error(ErrCantArchive)
		_ = os.Remove(zipPath)
		return "", 0, ErrCantArchive
	}
	info, err := os.Stat(zipPath)
	if err != nil {
		_ = os.Remove(zipPath)
		return "", 0, ErrCantArchive
	}
	return zipPath, info.Size(), nil
}

func zipDir(dir, zipPath string) error {
	out, err := os.Create(zipPath)
	if err != nil {
		return fmt.Errorf("failed to create archive: %w", err)
	}
	defer out.Close()

	zw := zip.NewWriter(out)
	err = filepath.Walk(dir, func(p string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return err
		}
		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}
		return addFileToZip(zw, p, filepath.ToSlash(rel), info)
	})
	if err != nil {
		zw.Close()
		return err
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("failed to close zip writer: %w", err)
	}
	return nil
}

func addFileToZip(zw *zip.Writer, srcPath, archivePath string, info os.FileInfo) error {
	file, err := os.Open(srcPath)
	if err != nil {
		return fmt.Errorf("failed to open file %s: %w", srcPath, err)
	}
	defer file.Close()

	header, err := zip.FileInfoHeader(info)
	if err != nil {
		return fmt.Errorf("failed to create zip header: %w", err)
	}
	header.Name = archivePath
	header.Method = zip.Deflate

	writer, err := zw.CreateHeader(header)
	if err != nil {
		return fmt.Errorf("failed to create zip entry: %w", err)
	}

	if _, err := io.Copy(writer, file); err != nil {
		return fmt.Errorf("failed to write file to zip: %w", err)
	}
	return nil
}

// Unpack expands an uploaded zip into a folder entry and lists the files it
// contained, each with its on-disk size.
func (s *Storage) Unpack(zipPath, folder string) ([]UnpackedFile, error) {
	dest, err := s.Path(folder)
	if err != nil {
		return nil, err
	}
	zr, err := zip.OpenReader(zipPath)
	if err != nil {
		s.l.WithField("archive", zipPath).WithError(err).Error(ErrCantUnpack)
		return nil, ErrCantUnpack
	}
	defer zr.Close()

	if err := os.MkdirAll(dest, fs.ModePerm); err != nil {
		s.l.WithField("folder", folder).WithError(err).Error(ErrCantCreateFileDir)
		return nil, ErrCantCreateFileDir
	}

	var files []UnpackedFile
	for _, entry := range zr.File {
		if entry.FileInfo().IsDir() {
			continue
		}
		rel := path.Clean(entry.Name)
		if rel == ".." || strings.HasPrefix(rel, "../") || path.IsAbs(rel) {
			s.l.WithField("entry", entry.Name).Error(ErrCantUnpack)
			return nil, ErrCantUnpack
		}
		size, err := extractEntry(entry, filepath.Join(dest, filepath.FromSlash(rel)))
		if err != nil {
			s.l.WithField("entry", entry.Name).WithError(err).Error(ErrCantUnpack)
			return nil, ErrCantUnpack
		}
		files = append(files, UnpackedFile{
			Name: path.Join(folder, rel),
			Size: size,
		})
	}
	return files, nil
}

func extractEntry(entry *zip.File, dest string) (int64, error) {
	if err := os.MkdirAll(filepath.Dir(dest), fs.ModePerm); err != nil {
		return 0, err
	}
	in, err := entry.Open()
	if err != nil {
		return 0, err
	}
	defer in.Close()

	out, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, fs.ModePerm)
	if err != nil {
		return 0, err
	}
	defer out.Close()

	return io.Copy(out, in)
}
