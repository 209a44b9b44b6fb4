package internal

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	pkgerrs "github.com/jamesprial/go-bsky-bridge/pkg/errors"
	"github.com/jamesprial/go-bsky-bridge/pkg/types"
)

const (
	sessionFileSuffix = ".session.json"
	sessionFileMode   = 0o600
	sessionDirMode    = 0o700
)

// CredentialStore persists one session file per handle inside a directory.
// It is the only writer of those files. Writes are atomic (temp file and
// rename) but there is no locking between processes.
type CredentialStore struct {
	dir string
}

// NewCredentialStore returns a store rooted at dir. The directory is created
// on first save.
func NewCredentialStore(dir string) *CredentialStore {
	return &CredentialStore{dir: dir}
}

// Path returns the session file for handle.
func (s *CredentialStore) Path(handle string) string {
	return filepath.Join(s.dir, strings.ToLower(handle)+sessionFileSuffix)
}

// Load reads the stored credentials for handle. A missing file is reported as
// a *errors.StoreError wrapping fs.ErrNotExist.
func (s *CredentialStore) Load(handle string) (*types.Credentials, error) {
	path := s.Path(handle)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &pkgerrs.StoreError{Op: "load", Path: path, Err: err}
	}

	var creds types.Credentials
	if err := json.Unmarshal(data, &creds); err != nil {
		return nil, &pkgerrs.StoreError{Op: "load", Path: path, Err: fmt.Errorf("invalid session file: %w", err)}
	}
	return &creds, nil
}

// Save writes creds to the handle's session file.
func (s *CredentialStore) Save(creds *types.Credentials) error {
	path := s.Path(creds.Handle)

	data, err := json.MarshalIndent(creds, "", "  ")
	if err != nil {
		return &pkgerrs.StoreError{Op: "save", Path: path, Err: err}
	}

	if err := os.MkdirAll(s.dir, sessionDirMode); err != nil {
		return &pkgerrs.StoreError{Op: "save", Path: path, Err: err}
	}

	tmpFile, err := os.CreateTemp(s.dir, "session-*.tmp")
	if err != nil {
		return &pkgerrs.StoreError{Op: "save", Path: path, Err: fmt.Errorf("creating temp file: %w", err)}
	}
	tmpPath := tmpFile.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	if err := tmpFile.Chmod(sessionFileMode); err != nil {
		tmpFile.Close()
		return &pkgerrs.StoreError{Op: "save", Path: path, Err: err}
	}
	if _, err := tmpFile.Write(data); err != nil {
		tmpFile.Close()
		return &pkgerrs.StoreError{Op: "save", Path: path, Err: fmt.Errorf("writing session data: %w", err)}
	}
	if err := tmpFile.Close(); err != nil {
		return &pkgerrs.StoreError{Op: "save", Path: path, Err: fmt.Errorf("closing temp file: %w", err)}
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return &pkgerrs.StoreError{Op: "save", Path: path, Err: fmt.Errorf("renaming session file: %w", err)}
	}

	success = true
	return nil
}

// Remove deletes the handle's session file. A file that does not exist is not
// an error.
func (s *CredentialStore) Remove(handle string) error {
	path := s.Path(handle)
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return &pkgerrs.StoreError{Op: "remove", Path: path, Err: err}
	}
	return nil
}
