package persistence

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// FileVersion is the current version of the account file format.
const FileVersion = 1

// StoredAccount is the account the client should show.
type StoredAccount struct {
	// ID is the mail API account id.
	ID string `json:"id"`

	// Email is the mailbox address.
	Email string `json:"email"`

	// Token optionally authenticates the realtime session.
	Token string `json:"token,omitempty"`
}

// AccountFile is the on-disk format.
type AccountFile struct {
	// Version is the file format version.
	Version int `json:"version"`

	// LastUpdated is when the file was last saved.
	LastUpdated time.Time `json:"lastUpdated"`

	// CurrentAccount is nil when no account is selected.
	CurrentAccount *StoredAccount `json:"currentAccount,omitempty"`
}

// AccountStore manages the account file.
type AccountStore struct {
	mu   sync.Mutex
	path string
}

// NewAccountStore creates an account store for path.
func NewAccountStore(path string) *AccountStore {
	return &AccountStore{path: path}
}

// Path returns the file path.
func (s *AccountStore) Path() string {
	return s.path
}

// Save writes f to disk atomically.
func (s *AccountStore) Save(f *AccountFile) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}

	f.Version = FileVersion
	if f.LastUpdated.IsZero() {
		f.LastUpdated = time.Now()
	}

	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return err
	}
	return writeFileAtomic(s.path, data, 0o600)
}

// Load reads the account file.
// Returns nil, nil if the file doesn't exist.
func (s *AccountStore) Load() (*AccountFile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	f := &AccountFile{}
	if err := json.Unmarshal(data, f); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", s.path, err)
	}
	return f, nil
}

// Current returns the current account, or nil if none is selected or the
// file doesn't exist.
func (s *AccountStore) Current() (*StoredAccount, error) {
	f, err := s.Load()
	if err != nil || f == nil || f.CurrentAccount == nil || f.CurrentAccount.ID == "" {
		return nil, err
	}
	return f.CurrentAccount, nil
}

// Clear removes the account file.
func (s *AccountStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := os.Remove(s.path)
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

func writeFileAtomic(path string, data []byte, mode os.FileMode) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Chmod(mode); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		return err
	}
	committed = true
	return nil
}
