package file

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
)

// DefaultOutputDir is the receiver's output directory when none is configured.
const DefaultOutputDir = "received_files"

// Store maps header names to destination files under one directory.
type Store struct {
	dir          string
	locks        *PathLocker
	timeProvider TimeProvider
}

// NewStore creates a Store rooted at dir. The directory is created lazily.
func NewStore(dir string) (*Store, error) {
	if dir == "" {
		return nil, errors.New("output directory cannot be empty")
	}
	return &Store{
		dir:   filepath.Clean(dir),
		locks: NewPathLocker(),
	}, nil
}

// SetTimeProvider sets the time provider handed to every opened transfer.
func (s *Store) SetTimeProvider(tp TimeProvider) {
	s.timeProvider = tp
}

// Dir returns the output directory.
func (s *Store) Dir() string {
	return s.dir
}

// Resolve sanitizes name and returns the destination path for it.
func (s *Store) Resolve(name string) (string, error) {
	base, err := Sanitize(name)
	if err != nil {
		return "", err
	}
	return filepath.Join(s.dir, base), nil
}

// Ensure creates the output directory if it does not exist.
func (s *Store) Ensure() error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Ensure",
			"dir":      s.dir,
			"error":    err.Error(),
		}).Error("Failed to create output directory")
		return fmt.Errorf("create output directory: %w", err)
	}
	return nil
}

// Lock serializes writers of the same destination path.
func (s *Store) Lock(path string) (unlock func()) {
	return s.locks.Lock(path)
}

// Open resolves name, makes sure the directory exists and returns a
// started incoming transfer for it, together with the path lock that must
// be released after the transfer is closed.
func (s *Store) Open(name string, size uint64) (*Transfer, func(), error) {
	path, err := s.Resolve(name)
	if err != nil {
		return nil, nil, err
	}
	if err := s.Ensure(); err != nil {
		return nil, nil, err
	}

	unlock := s.Lock(path)
	t := NewIncoming(name, path, size)
	if s.timeProvider != nil {
		t.SetTimeProvider(s.timeProvider)
	}
	if err := t.Start(); err != nil {
		unlock()
		return nil, nil, err
	}
	return t, unlock, nil
}
