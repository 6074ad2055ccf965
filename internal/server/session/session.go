// Package session runs the per-connection command loop: one session per
// accepted connection, one command per socket read, strictly sequential.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/konorlevich/fileshare/internal/server/database"
	"github.com/konorlevich/fileshare/internal/server/protocol"
	"github.com/konorlevich/fileshare/internal/server/storage"
)

// commandBufSize bounds a single command read, matching the wire protocol's
// discrete-write framing.
const commandBufSize = 1024

// errClosed ends the command loop after a LOGOUT acknowledgment.
var errClosed = errors.New("session closed")

type Repository interface {
	VerifyCredentials(username, password string) error
	UserExists(username string) (bool, error)
	ChangePassword(username, newPassword string) error
	DeleteUser(username string) error
	DeleteFile(name string) error
	ListPublicFiles() ([]string, error)
	ListPrivateFilesFor(username string) ([]string, error)
	SearchFiles(username, query string) (public, private []string, err error)
	AddShare(fileName, targetUser string) error
}

type Access interface {
	CanModify(username, fileName string) (bool, error)
	CanShare(username, fileName string) (bool, error)
}

type Transfer interface {
	Send(conn io.Writer, name, username, clientAddr string, offset int64) error
	Receive(conn io.Reader, name string, size int64, owner string, private, folder bool) error
}

// Session holds the state of one connection: who is logged in, and the
// collaborators the handlers need. It is owned by exactly one goroutine.
type Session struct {
	conn   net.Conn
	repo   Repository
	access Access
	xfer   Transfer
	store  *storage.Storage
	l      *log.Entry

	// username is empty until a successful LOGIN.
	username string
}

func New(conn net.Conn, repo Repository, access Access, xfer Transfer, store *storage.Storage, l *log.Entry) *Session {
	return &Session{
		conn:   conn,
		repo:   repo,
		access: access,
		xfer:   xfer,
		store:  store,
		l:      l.WithField("client", conn.RemoteAddr().String()),
	}
}

// Handle reads commands until the client disconnects, a transport error
// occurs, or the client logs out.
func (s *Session) Handle(ctx context.Context) {
	buf := make([]byte, commandBufSize)
	for {
		if ctx.Err() != nil {
			return
		}
		n, err := s.conn.Read(buf)
		if err != nil {
			if !errors.Is(err, io.EOF) {
				s.l.WithError(err).Info("connection closed")
			}
			return
		}
		raw := strings.TrimSpace(string(buf[:n]))
		s.l.WithField("command", truncate(raw, 100)).Debug("command received")

		if err := s.dispatch(protocol.Parse(raw)); err != nil {
			if !errors.Is(err, errClosed) {
				s.l.WithError(err).Info("session ended")
			}
			return
		}
	}
}

// dispatch routes one command. A non-nil return means the session is over;
// per-command failures are answered on the wire and return nil.
func (s *Session) dispatch(cmd protocol.Command) error {
	switch cmd.Verb {
	case protocol.VerbLogin:
		return s.handleLogin(cmd)
	case protocol.VerbLogout:
		if err := s.reply("Logout successful."); err != nil {
			return err
		}
		s.l.WithField("user", s.username).Info("user logged out")
		return errClosed
	case protocol.VerbList:
		return s.handleList()
	case protocol.VerbSearch:
		return s.handleSearch(cmd)
	case protocol.VerbDownload:
		return s.handleDownload(strings.TrimSpace(cmd.Rest), 0)
	case protocol.VerbDownloadResume:
		return s.handleResume(cmd)
	case protocol.VerbUpload:
		return s.handleUpload(cmd)
	case protocol.VerbShare:
		return s.handleShare(cmd)
	case protocol.VerbChangePassword:
		return s.handleChangePassword(cmd)
	case protocol.VerbDeleteAccount:
		return s.handleDeleteAccount(cmd)
	case protocol.VerbDeleteFile:
		return s.handleDeleteFile(cmd)
	default:
		raw := cmd.Verb
		if cmd.Rest != "" {
			raw += ":" + cmd.Rest
		}
		return s.reply(fmt.Sprintf("Unknown command: %s", truncate(raw, 100)))
	}
}

// requireAuth answers unauthenticated requests with an error reply. The
// caller still has to check s.username afterwards.
func (s *Session) requireAuth() error {
	if s.username != "" {
		return nil
	}
	return s.reply("Error: Authentication required.")
}

func (s *Session) handleLogin(cmd protocol.Command) error {
	username, password, err := cmd.Credentials()
	if err != nil {
		return s.reply("Error: Invalid format. Use 'username:password'")
	}
	if err := s.repo.VerifyCredentials(username, password); err != nil {
		if errors.Is(err, database.ErrInvalidCredentials) {
			return s.reply("Error: Invalid username or password.")
		}
		return s.replyError(err)
	}
	s.username = username
	s.l.WithField("user", username).Info("user logged in")
	if err := s.reply("Login successful."); err != nil {
		return err
	}
	return s.sendListing()
}

func (s *Session) handleList() error {
	if err := s.requireAuth(); err != nil || s.username == "" {
		return err
	}
	return s.sendListing()
}

func (s *Session) handleSearch(cmd protocol.Command) error {
	if err := s.requireAuth(); err != nil || s.username == "" {
		return err
	}
	public, private, err := s.repo.SearchFiles(s.username, strings.TrimSpace(cmd.Rest))
	if err != nil {
		return s.replyError(err)
	}
	return s.reply(formatListing(public, private))
}

func (s *Session) handleDownload(name string, offset int64) error {
	if err := s.requireAuth(); err != nil || s.username == "" {
		return err
	}
	if err := s.xfer.Send(s.conn, name, s.username, s.conn.RemoteAddr().String(), offset); err != nil {
		s.l.WithError(err).WithField("file", name).Error("download failed")
	}
	return nil
}

func (s *Session) handleResume(cmd protocol.Command) error {
	if err := s.requireAuth(); err != nil || s.username == "" {
		return err
	}
	name, offset, err := cmd.FileAndOffset()
	if err != nil {
		return s.reply("Error: Invalid format. Use 'filename:offset'")
	}
	return s.handleDownload(name, offset)
}

func (s *Session) handleUpload(cmd protocol.Command) error {
	if err := s.requireAuth(); err != nil || s.username == "" {
		return err
	}
	if strings.Count(cmd.Rest, ":") != 3 {
		return s.reply("Error: Invalid format. Use 'filename:size:is_private:is_folder'")
	}
	name, size, private, folder, err := cmd.UploadHeader()
	if err != nil {
		return s.reply("Error: Invalid file size, privacy, or folder setting.")
	}
	if err := s.xfer.Receive(s.conn, name, size, s.username, private, folder); err != nil {
		s.l.WithError(err).WithField("file", name).Error("upload failed")
		return s.replyError(err)
	}
	if err := s.reply(fmt.Sprintf("File '%s' uploaded successfully.", name)); err != nil {
		return err
	}
	return s.sendListing()
}

func (s *Session) handleShare(cmd protocol.Command) error {
	if err := s.requireAuth(); err != nil || s.username == "" {
		return err
	}
	fileName, targetUser, err := cmd.FileAndUser()
	if err != nil {
		return s.reply("Error: Invalid format. Use 'file_name:target_user'")
	}
	ok, err := s.access.CanShare(s.username, fileName)
	if err != nil {
		if errors.Is(err, database.ErrFileNotFound) {
			return s.reply(fmt.Sprintf("Error: File '%s' not found.", fileName))
		}
		return s.replyError(err)
	}
	if !ok {
		return s.reply("Error: You can only share your private files.")
	}
	exists, err := s.repo.UserExists(targetUser)
	if err != nil {
		return s.replyError(err)
	}
	if !exists {
		return s.reply("Error: Target user does not exist.")
	}
	if err := s.repo.AddShare(fileName, targetUser); err != nil {
		if errors.Is(err, database.ErrDuplicateShare) {
			return s.reply("Error: File already shared with this user.")
		}
		return s.replyError(err)
	}
	s.l.WithFields(log.Fields{"user": s.username, "file": fileName, "target": targetUser}).
		Info("file shared")
	return s.reply(fmt.Sprintf("File '%s' shared with '%s'.", fileName, targetUser))
}

func (s *Session) handleChangePassword(cmd protocol.Command) error {
	if err := s.requireAuth(); err != nil || s.username == "" {
		return err
	}
	newPassword := strings.TrimSpace(cmd.Rest)
	if newPassword == "" {
		return s.reply("Error: Invalid format. Use 'new_password'")
	}
	if err := s.repo.ChangePassword(s.username, newPassword); err != nil {
		return s.replyError(err)
	}
	s.l.WithField("user", s.username).Info("password updated")
	return s.reply("Password updated successfully.")
}

// handleDeleteAccount is deliberately not scoped to the session's own user:
// the wire protocol names the target account explicitly and the server
// honors it as given, matching the original deployment.
func (s *Session) handleDeleteAccount(cmd protocol.Command) error {
	username := strings.TrimSpace(cmd.Rest)
	if username == "" {
		return s.reply("Error: Username required.")
	}
	if err := s.repo.DeleteUser(username); err != nil {
		if errors.Is(err, database.ErrUserNotFound) {
			return s.reply("Error: User does not exist.")
		}
		return s.replyError(err)
	}
	s.l.WithField("user", username).Info("account deleted")
	return s.reply("Account deleted successfully.")
}

func (s *Session) handleDeleteFile(cmd protocol.Command) error {
	if err := s.requireAuth(); err != nil || s.username == "" {
		return err
	}
	name := strings.TrimSpace(cmd.Rest)
	ok, err := s.access.CanModify(s.username, name)
	if err != nil && !errors.Is(err, database.ErrFileNotFound) {
		return s.replyError(err)
	}
	if err != nil || !ok {
		return s.reply(fmt.Sprintf("Error: You can only delete files you uploaded ('%s').", name))
	}
	if err := s.store.Remove(name); err != nil {
		return s.replyError(err)
	}
	if err := s.repo.DeleteFile(name); err != nil {
		return s.replyError(err)
	}
	s.l.WithFields(log.Fields{"user": s.username, "file": name}).Info("file deleted")
	return s.reply(fmt.Sprintf("File '%s' deleted successfully.", name))
}

func (s *Session) sendListing() error {
	public, err := s.repo.ListPublicFiles()
	if err != nil {
		return s.replyError(err)
	}
	private, err := s.repo.ListPrivateFilesFor(s.username)
	if err != nil {
		return s.replyError(err)
	}
	return s.reply(formatListing(public, private))
}

func formatListing(public, private []string) string {
	return fmt.Sprintf("PUBLIC:%s|PRIVATE:%s",
		strings.Join(public, ","), strings.Join(private, ","))
}

// reply writes one application-level response. A write failure means the
// transport is gone and the session has to end.
func (s *Session) reply(msg string) error {
	if _, err := s.conn.Write([]byte(msg)); err != nil {
		return fmt.Errorf("can't write reply: %w", err)
	}
	return nil
}

func (s *Session) replyError(err error) error {
	return s.reply(fmt.Sprintf("Error: %s", err))
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
