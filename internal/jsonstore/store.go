// Package jsonstore implements the Locked JSON Store: atomic
// read-modify-write of a single JSON document guarded by a filesystem
// mutex, so a control tool and the server process can share the same
// data files without corrupting them.
package jsonstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/agentsvc/agentsvcd/internal/logging"
)

// ErrLockTimeout is returned when the lock file cannot be acquired within
// the acquisition deadline.
var ErrLockTimeout = errors.New("jsonstore: lock acquisition timed out")

const (
	lockPollInterval = 50 * time.Millisecond
	lockDeadline     = 5 * time.Second
)

// Store guards a single JSON document on disk with a companion lock file.
type Store struct {
	path     string
	lockPath string
	logger   logging.Logger
}

// New returns a Store backed by the document at path. The parent directory
// is created if missing.
func New(path string, logger logging.Logger) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("jsonstore: path required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("jsonstore: ensure directory: %w", err)
	}
	return &Store{
		path:     path,
		lockPath: path + ".lock",
		logger:   logging.OrNop(logger),
	}, nil
}

// acquire takes the exclusive lock, polling until lockDeadline elapses.
// It returns a release token that must match on release.
func (s *Store) acquire() (string, error) {
	token := uuid.NewString()
	deadline := time.Now().Add(lockDeadline)
	for {
		f, err := os.OpenFile(s.lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
		if err == nil {
			_, werr := f.WriteString(token)
			closeErr := f.Close()
			if werr != nil || closeErr != nil {
				_ = os.Remove(s.lockPath)
				return "", fmt.Errorf("jsonstore: write lock token: %w", errors.Join(werr, closeErr))
			}
			return token, nil
		}
		if !errors.Is(err, os.ErrExist) {
			return "", fmt.Errorf("jsonstore: acquire lock: %w", err)
		}
		if time.Now().After(deadline) {
			return "", ErrLockTimeout
		}
		time.Sleep(lockPollInterval)
	}
}

// release deletes the lock file only if it still holds our token, so a
// release never clobbers a lock acquired by someone else after a timeout.
func (s *Store) release(token string) {
	data, err := os.ReadFile(s.lockPath)
	if err != nil {
		return
	}
	if string(data) != token {
		s.logger.Warn("jsonstore: lock token mismatch on release for %s, leaving in place", s.path)
		return
	}
	if err := os.Remove(s.lockPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		s.logger.Warn("jsonstore: failed to release lock %s: %v", s.lockPath, err)
	}
}

// Read decodes the current document into out. A missing file leaves out
// untouched and returns nil, matching "document not yet created" as the
// zero value of out.
func (s *Store) Read(out any) error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("jsonstore: read %s: %w", s.path, err)
	}
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("jsonstore: parse %s: %w", s.path, err)
	}
	return nil
}

// WithLock acquires the lock, decodes the current document into doc,
// invokes op to mutate it in place, persists the result, and releases the
// lock. If op returns an error, or persistence fails, the in-memory
// document is discarded (the caller already holds whatever op mutated,
// but nothing is written to disk) and the error is returned; the lock is
// always released.
func WithLock[T any](s *Store, doc *T, op func(*T) error) error {
	token, err := s.acquire()
	if err != nil {
		return err
	}
	defer s.release(token)

	if err := s.Read(doc); err != nil {
		return err
	}

	if err := op(doc); err != nil {
		return err
	}

	return s.persist(doc)
}

func (s *Store) persist(doc any) error {
	encoded, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("jsonstore: encode %s: %w", s.path, err)
	}
	encoded = append(encoded, '\n')

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, encoded, 0o600); err != nil {
		return fmt.Errorf("jsonstore: write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("jsonstore: rename %s: %w", tmp, err)
	}
	return nil
}

// Path returns the backing document path, for diagnostics.
func (s *Store) Path() string { return s.path }
