package database

import (
	"errors"
	"sort"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrInvalidCredentials = errors.New("invalid username or password")
	ErrUserExists         = errors.New("user already exists")
	ErrUserNotFound       = errors.New("user does not exist")
	ErrFileNotFound       = errors.New("file not found")
	ErrDuplicateShare     = errors.New("file already shared with this user")
)

type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) CreateUser(username, password string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	if err := r.db.Create(&User{Username: username, PasswordHash: string(hash)}).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return ErrUserExists
		}
		return err
	}
	return nil
}

func (r *Repository) VerifyCredentials(username, password string) error {
	u := &User{}
	if err := r.db.First(u, &User{Username: username}).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrInvalidCredentials
		}
		return err
	}
	if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) != nil {
		return ErrInvalidCredentials
	}
	return nil
}

func (r *Repository) UserExists(username string) (bool, error) {
	var count int64
	tx := r.db.Model(&User{}).Where(&User{Username: username}).Count(&count)
	return count > 0, tx.Error
}

func (r *Repository) ListUsers() ([]string, error) {
	var names []string
	tx := r.db.Model(&User{}).Order("username").Pluck("username", &names)
	return names, tx.Error
}

func (r *Repository) ChangePassword(username, newPassword string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(newPassword), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	return r.db.Model(&User{}).
		Where(&User{Username: username}).
		Update("password_hash", string(hash)).Error
}

// DeleteUser removes the account and everything hanging off it: the user's
// files, the shares granted on those files, and the download history. On-disk
// content is not touched here.
func (r *Repository) DeleteUser(username string) error {
	exists, err := r.UserExists(username)
	if err != nil {
		return err
	}
	if !exists {
		return ErrUserNotFound
	}
	return r.db.Transaction(func(tx *gorm.DB) error {
		owned := tx.Model(&File{}).Select("name").Where("owner = ?", username)
		if err := tx.Where("file_name IN (?)", owned).Delete(&FileShare{}).Error; err != nil {
			return err
		}
		if err := tx.Where("owner = ?", username).Delete(&File{}).Error; err != nil {
			return err
		}
		if err := tx.Where("username = ?", username).Delete(&Download{}).Error; err != nil {
			return err
		}
		return tx.Delete(&User{Username: username}).Error
	})
}

// UpsertFile registers an uploaded file, replacing any previous row with the
// same name regardless of its owner. Last writer wins.
func (r *Repository) UpsertFile(name, owner string, private bool, size int64) error {
	return r.db.Clauses(clause.OnConflict{UpdateAll: true}).Create(&File{
		Name:       name,
		Owner:      owner,
		Private:    private,
		Size:       size,
		UploadDate: time.Now(),
	}).Error
}

func (r *Repository) GetFile(name string) (*File, error) {
	f := &File{}
	if err := r.db.First(f, &File{Name: name}).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrFileNotFound
		}
		return nil, err
	}
	return f, nil
}

// DeleteFile drops the registry row and every share referencing it, so a
// share can never outlive its file. Deleting a folder entry also drops the
// rows of the files it contains.
func (r *Repository) DeleteFile(name string) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		contained := tx.Model(&File{}).Select("name").
			Where("name = ? OR name LIKE ?", name, name+"/%")
		if err := tx.Where("file_name IN (?)", contained).Delete(&FileShare{}).Error; err != nil {
			return err
		}
		return tx.Where("name = ? OR name LIKE ?", name, name+"/%").Delete(&File{}).Error
	})
}

func (r *Repository) ListPublicFiles() ([]string, error) {
	var names []string
	tx := r.db.Model(&File{}).Where("private = ?", false).Order("name").Pluck("name", &names)
	return names, tx.Error
}

// ListPrivateFilesFor returns the private files the user owns plus the ones
// shared with them, deduplicated and sorted.
func (r *Repository) ListPrivateFilesFor(username string) ([]string, error) {
	var owned []string
	if err := r.db.Model(&File{}).
		Where("private = ? AND owner = ?", true, username).
		Pluck("name", &owned).Error; err != nil {
		return nil, err
	}
	var shared []string
	if err := r.db.Model(&FileShare{}).
		Where("shared_with = ?", username).
		Pluck("file_name", &shared).Error; err != nil {
		return nil, err
	}
	seen := make(map[string]struct{}, len(owned)+len(shared))
	names := make([]string, 0, len(owned)+len(shared))
	for _, n := range append(owned, shared...) {
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		names = append(names, n)
	}
	sort.Strings(names)
	return names, nil
}

// SearchFiles filters the user's visible files by a name substring and
// returns them split the same way the listing is.
func (r *Repository) SearchFiles(username, query string) (public, private []string, err error) {
	pub, err := r.ListPublicFiles()
	if err != nil {
		return nil, nil, err
	}
	priv, err := r.ListPrivateFilesFor(username)
	if err != nil {
		return nil, nil, err
	}
	return filterContains(pub, query), filterContains(priv, query), nil
}

func (r *Repository) HasShare(fileName, username string) (bool, error) {
	var count int64
	tx := r.db.Model(&FileShare{}).
		Where(&FileShare{FileName: fileName, SharedWith: username}).
		Count(&count)
	return count > 0, tx.Error
}

func (r *Repository) AddShare(fileName, targetUser string) error {
	err := r.db.Create(&FileShare{FileName: fileName, SharedWith: targetUser}).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return ErrDuplicateShare
	}
	return err
}

func (r *Repository) RecordDownload(fileName, clientAddr, username string) error {
	return r.db.Create(&Download{
		FileName:   fileName,
		ClientAddr: clientAddr,
		Timestamp:  time.Now(),
		Username:   username,
	}).Error
}

func filterContains(names []string, query string) []string {
	res := make([]string, 0, len(names))
	for _, n := range names {
		if strings.Contains(n, query) {
			res = append(res, n)
		}
	}
	return res
}
