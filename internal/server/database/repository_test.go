package database

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setup(t *testing.T) *Repository {
	t.Helper()
	db, err := NewDb(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		log.WithError(err).Fatalf("failed to connect database")
	}
	return NewRepository(db)
}

func TestRepository_CreateUserVerifyCredentials(t *testing.T) {
	repo := setup(t)
	require.NoError(t, repo.CreateUser("alice", "secret"))

	tests := []struct {
		name     string
		username string
		password string
		wantErr  error
	}{
		{name: "correct password", username: "alice", password: "secret"},
		{name: "wrong password", username: "alice", password: "guess", wantErr: ErrInvalidCredentials},
		{name: "unknown user", username: "mallory", password: "secret", wantErr: ErrInvalidCredentials},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := repo.VerifyCredentials(tt.username, tt.password)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("VerifyCredentials() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}

	t.Run("duplicate username", func(t *testing.T) {
		assert.ErrorIs(t, repo.CreateUser("alice", "other"), ErrUserExists)
	})

	t.Run("cleartext never stored", func(t *testing.T) {
		u := &User{}
		require.NoError(t, repo.db.First(u, &User{Username: "alice"}).Error)
		assert.NotEqual(t, "secret", u.PasswordHash)
	})
}

func TestRepository_ChangePassword(t *testing.T) {
	repo := setup(t)
	require.NoError(t, repo.CreateUser("bob", "old"))

	require.NoError(t, repo.ChangePassword("bob", "new"))

	assert.ErrorIs(t, repo.VerifyCredentials("bob", "old"), ErrInvalidCredentials)
	assert.NoError(t, repo.VerifyCredentials("bob", "new"))
}

func TestRepository_UpsertFile(t *testing.T) {
	repo := setup(t)

	require.NoError(t, repo.UpsertFile("report.pdf", "alice", false, 100))

	f, err := repo.GetFile("report.pdf")
	require.NoError(t, err)
	assert.Equal(t, "alice", f.Owner)
	assert.Equal(t, int64(100), f.Size)
	assert.False(t, f.Private)

	// Re-upload under the same name replaces the row wholesale, even when
	// another user does it. Last writer wins.
	require.NoError(t, repo.UpsertFile("report.pdf", "bob", true, 250))

	f, err = repo.GetFile("report.pdf")
	require.NoError(t, err)
	assert.Equal(t, "bob", f.Owner)
	assert.Equal(t, int64(250), f.Size)
	assert.True(t, f.Private)

	_, err = repo.GetFile("missing.pdf")
	assert.ErrorIs(t, err, ErrFileNotFound)
}

func TestRepository_Listings(t *testing.T) {
	repo := setup(t)
	require.NoError(t, repo.UpsertFile("report.pdf", "alice", false, 10))
	require.NoError(t, repo.UpsertFile("notes.txt", "bob", false, 10))
	require.NoError(t, repo.UpsertFile("secret.doc", "alice", true, 10))
	require.NoError(t, repo.UpsertFile("diary.txt", "bob", true, 10))
	require.NoError(t, repo.AddShare("diary.txt", "alice"))

	tests := []struct {
		name        string
		username    string
		wantPublic  []string
		wantPrivate []string
	}{
		{name: "owner plus shared", username: "alice",
			wantPublic:  []string{"notes.txt", "report.pdf"},
			wantPrivate: []string{"diary.txt", "secret.doc"}},
		{name: "owner only", username: "bob",
			wantPublic:  []string{"notes.txt", "report.pdf"},
			wantPrivate: []string{"diary.txt"}},
		{name: "stranger", username: "carol",
			wantPublic:  []string{"notes.txt", "report.pdf"},
			wantPrivate: []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			public, err := repo.ListPublicFiles()
			require.NoError(t, err)
			if diff := cmp.Diff(tt.wantPublic, public); diff != "" {
				t.Errorf("ListPublicFiles()\n%s", diff)
			}
			private, err := repo.ListPrivateFilesFor(tt.username)
			require.NoError(t, err)
			if diff := cmp.Diff(tt.wantPrivate, private); diff != "" {
				t.Errorf("ListPrivateFilesFor()\n%s", diff)
			}
		})
	}
}

func TestRepository_SearchFiles(t *testing.T) {
	repo := setup(t)
	require.NoError(t, repo.UpsertFile("report.pdf", "alice", false, 10))
	require.NoError(t, repo.UpsertFile("report-final.pdf", "alice", false, 10))
	require.NoError(t, repo.UpsertFile("secret-report.doc", "alice", true, 10))
	require.NoError(t, repo.UpsertFile("notes.txt", "alice", false, 10))

	tests := []struct {
		name        string
		query       string
		wantPublic  []string
		wantPrivate []string
	}{
		{name: "substring", query: "report",
			wantPublic:  []string{"report-final.pdf", "report.pdf"},
			wantPrivate: []string{"secret-report.doc"}},
		{name: "no match", query: "missing",
			wantPublic:  []string{},
			wantPrivate: []string{}},
		{name: "empty query matches all", query: "",
			wantPublic:  []string{"notes.txt", "report-final.pdf", "report.pdf"},
			wantPrivate: []string{"secret-report.doc"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			public, private, err := repo.SearchFiles("alice", tt.query)
			require.NoError(t, err)
			if diff := cmp.Diff(tt.wantPublic, public); diff != "" {
				t.Errorf("SearchFiles() public\n%s", diff)
			}
			if diff := cmp.Diff(tt.wantPrivate, private); diff != "" {
				t.Errorf("SearchFiles() private\n%s", diff)
			}
		})
	}
}

func TestRepository_Shares(t *testing.T) {
	repo := setup(t)
	require.NoError(t, repo.CreateUser("alice", "pw"))
	require.NoError(t, repo.CreateUser("bob", "pw"))
	require.NoError(t, repo.UpsertFile("secret.doc", "alice", true, 10))

	require.NoError(t, repo.AddShare("secret.doc", "bob"))

	has, err := repo.HasShare("secret.doc", "bob")
	require.NoError(t, err)
	assert.True(t, has)

	has, err = repo.HasShare("secret.doc", "carol")
	require.NoError(t, err)
	assert.False(t, has)

	assert.ErrorIs(t, repo.AddShare("secret.doc", "bob"), ErrDuplicateShare)
}

func TestRepository_DeleteFile(t *testing.T) {
	repo := setup(t)
	require.NoError(t, repo.UpsertFile("secret.doc", "alice", true, 10))
	require.NoError(t, repo.AddShare("secret.doc", "bob"))

	require.NoError(t, repo.DeleteFile("secret.doc"))

	_, err := repo.GetFile("secret.doc")
	assert.ErrorIs(t, err, ErrFileNotFound)

	has, err := repo.HasShare("secret.doc", "bob")
	require.NoError(t, err)
	assert.False(t, has, "share must not outlive its file")

	t.Run("folder drops contained rows", func(t *testing.T) {
		require.NoError(t, repo.UpsertFile("photos", "alice", true, 15))
		require.NoError(t, repo.UpsertFile("photos/a.txt", "alice", true, 5))
		require.NoError(t, repo.UpsertFile("photoshoot.txt", "alice", true, 5))
		require.NoError(t, repo.AddShare("photos/a.txt", "bob"))

		require.NoError(t, repo.DeleteFile("photos"))

		_, err := repo.GetFile("photos/a.txt")
		assert.ErrorIs(t, err, ErrFileNotFound)
		has, err := repo.HasShare("photos/a.txt", "bob")
		require.NoError(t, err)
		assert.False(t, has)
		// name prefix match must not swallow similarly named siblings
		_, err = repo.GetFile("photoshoot.txt")
		assert.NoError(t, err)
	})
}

func TestRepository_DeleteUser(t *testing.T) {
	repo := setup(t)
	require.NoError(t, repo.CreateUser("alice", "pw"))
	require.NoError(t, repo.CreateUser("bob", "pw"))
	require.NoError(t, repo.UpsertFile("secret.doc", "alice", true, 10))
	require.NoError(t, repo.UpsertFile("notes.txt", "bob", false, 10))
	require.NoError(t, repo.AddShare("secret.doc", "bob"))
	require.NoError(t, repo.RecordDownload("secret.doc", "127.0.0.1:5000", "alice"))

	assert.ErrorIs(t, repo.DeleteUser("carol"), ErrUserNotFound)

	require.NoError(t, repo.DeleteUser("alice"))

	assert.ErrorIs(t, repo.VerifyCredentials("alice", "pw"), ErrInvalidCredentials)
	_, err := repo.GetFile("secret.doc")
	assert.ErrorIs(t, err, ErrFileNotFound)
	has, err := repo.HasShare("secret.doc", "bob")
	require.NoError(t, err)
	assert.False(t, has)

	var downloads int64
	require.NoError(t, repo.db.Model(&Download{}).Where("username = ?", "alice").Count(&downloads).Error)
	assert.Zero(t, downloads)

	// bob is untouched
	_, err = repo.GetFile("notes.txt")
	assert.NoError(t, err)
}

func TestRepository_AggregateStats(t *testing.T) {
	repo := setup(t)
	require.NoError(t, repo.UpsertFile("report.pdf", "alice", false, 100))
	require.NoError(t, repo.UpsertFile("notes.txt", "bob", false, 50))
	require.NoError(t, repo.UpsertFile("diary.txt", "bob", true, 25))
	require.NoError(t, repo.RecordDownload("report.pdf", "127.0.0.1:5000", "bob"))
	require.NoError(t, repo.RecordDownload("report.pdf", "127.0.0.1:5001", "bob"))
	require.NoError(t, repo.RecordDownload("notes.txt", "127.0.0.1:5002", "alice"))

	stats, err := repo.AggregateStats(time.Now().Add(-24 * time.Hour))
	require.NoError(t, err)

	want := &Stats{
		Downloads:        3,
		DownloadDays:     1,
		TotalFiles:       3,
		StorageBytes:     175,
		FilesPerUser:     map[string]int64{"alice": 1, "bob": 2},
		DownloadsPerUser: map[string]int64{"alice": 1, "bob": 2},
	}
	if diff := cmp.Diff(want, stats); diff != "" {
		t.Errorf("AggregateStats()\n%s", diff)
	}

	t.Run("window excludes old entries", func(t *testing.T) {
		stats, err := repo.AggregateStats(time.Now().Add(time.Hour))
		require.NoError(t, err)
		assert.Zero(t, stats.Downloads)
		assert.Empty(t, stats.DownloadsPerUser)
		assert.Equal(t, int64(3), stats.TotalFiles)
	})
}
