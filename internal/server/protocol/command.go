// Package protocol parses the colon-delimited command strings clients send.
// One socket read carries one command; replies are plain text, optionally
// followed by a raw byte stream for transfers.
package protocol

import (
	"errors"
	"strconv"
	"strings"
)

const (
	VerbLogin          = "LOGIN"
	VerbLogout         = "LOGOUT"
	VerbList           = "LIST"
	VerbSearch         = "SEARCH"
	VerbDownload       = "DOWNLOAD"
	VerbDownloadResume = "DOWNLOAD_RESUME"
	VerbUpload         = "UPLOAD"
	VerbShare          = "SHARE"
	VerbChangePassword = "CHANGE_PASSWORD"
	VerbDeleteAccount  = "DELETE_ACCOUNT"
	VerbDeleteFile     = "DELETE_FILE"
)

var ErrMalformed = errors.New("malformed command")

// Command is one parsed wire command: the verb and everything after the
// first colon, still colon-packed.
type Command struct {
	Verb string
	Rest string
}

// Parse splits a raw command string at the first colon. A missing colon
// leaves Rest empty, so bare verbs like LOGOUT and LIST parse the same with
// or without a trailing colon.
func Parse(raw string) Command {
	verb, rest, _ := strings.Cut(raw, ":")
	return Command{Verb: verb, Rest: rest}
}

// Credentials unpacks "username:password".
func (c Command) Credentials() (username, password string, err error) {
	parts := strings.SplitN(c.Rest, ":", 2)
	if len(parts) != 2 || parts[0] == "" {
		return "", "", ErrMalformed
	}
	return parts[0], parts[1], nil
}

// FileAndOffset unpacks "filename:offset" for a resumed download.
func (c Command) FileAndOffset() (name string, offset int64, err error) {
	parts := strings.Split(c.Rest, ":")
	if len(parts) != 2 || parts[0] == "" {
		return "", 0, ErrMalformed
	}
	offset, err = strconv.ParseInt(strings.TrimSpace(parts[1]), 10, 64)
	if err != nil || offset < 0 {
		return "", 0, ErrMalformed
	}
	return strings.TrimSpace(parts[0]), offset, nil
}

// UploadHeader unpacks "filename:size:is_private:is_folder".
func (c Command) UploadHeader() (name string, size int64, private, folder bool, err error) {
	parts := strings.Split(c.Rest, ":")
	if len(parts) != 4 {
		return "", 0, false, false, ErrMalformed
	}
	name = strings.TrimSpace(parts[0])
	if name == "" {
		return "", 0, false, false, ErrMalformed
	}
	size, err = strconv.ParseInt(strings.TrimSpace(parts[1]), 10, 64)
	if err != nil || size < 0 {
		return "", 0, false, false, ErrMalformed
	}
	private, err = parseFlag(parts[2])
	if err != nil {
		return "", 0, false, false, ErrMalformed
	}
	folder, err = parseFlag(parts[3])
	if err != nil {
		return "", 0, false, false, ErrMalformed
	}
	return name, size, private, folder, nil
}

// FileAndUser unpacks "file_name:target_user" for SHARE.
func (c Command) FileAndUser() (name, user string, err error) {
	parts := strings.Split(c.Rest, ":")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", ErrMalformed
	}
	return parts[0], parts[1], nil
}

func parseFlag(s string) (bool, error) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return false, ErrMalformed
	}
	return n != 0, nil
}
