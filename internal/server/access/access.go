// Package access resolves what a user may do with a file. Every check is a
// fresh query against the registry, so answers always reflect the latest
// committed state.
package access

import (
	"github.com/konorlevich/fileshare/internal/server/database"
)

type FileRegistry interface {
	GetFile(name string) (*database.File, error)
	HasShare(fileName, username string) (bool, error)
}

type Resolver struct {
	registry FileRegistry
}

func NewResolver(registry FileRegistry) *Resolver {
	return &Resolver{registry: registry}
}

// CanView reports whether the user may see the file: it is public, they own
// it, or it was shared with them.
func (r *Resolver) CanView(username, fileName string) (bool, error) {
	f, err := r.registry.GetFile(fileName)
	if err != nil {
		return false, err
	}
	if !f.Private || f.Owner == username {
		return true, nil
	}
	return r.registry.HasShare(fileName, username)
}

// CanDownload is identical to CanView.
func (r *Resolver) CanDownload(username, fileName string) (bool, error) {
	return r.CanView(username, fileName)
}

// CanModify is true only for the owner. Used for delete.
func (r *Resolver) CanModify(username, fileName string) (bool, error) {
	f, err := r.registry.GetFile(fileName)
	if err != nil {
		return false, err
	}
	return f.Owner == username, nil
}

// CanShare is true only for the owner of a private file.
func (r *Resolver) CanShare(username, fileName string) (bool, error) {
	f, err := r.registry.GetFile(fileName)
	if err != nil {
		return false, err
	}
	return f.Private && f.Owner == username, nil
}
