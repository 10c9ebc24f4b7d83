// Package filestore provides an xbeacon.PersistentStore backed by one file per
// key in a directory. Writes go to a temporary file that is renamed into
// place, so a crash mid-write leaves the previous value intact.
package filestore

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"sync"

	"github.com/trickstertwo/xbeacon"
)

// Store keeps values under Dir. Keys are path-escaped, so any key is safe.
type Store struct {
	dir   string
	quota int64

	mu sync.Mutex
}

var _ xbeacon.PersistentStore = (*Store)(nil)

// New creates dir if needed. quota <= 0 means unlimited; otherwise the total
// size of all stored values may not exceed quota bytes.
func New(dir string, quota int64) (*Store, error) {
	if dir == "" {
		return nil, errors.New("filestore: dir required")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("filestore: %w", err)
	}
	return &Store{dir: dir, quota: quota}, nil
}

func (s *Store) path(key string) string {
	return filepath.Join(s.dir, url.PathEscape(key)+".dat")
}

// Get returns xbeacon.ErrNotFound for a missing key.
func (s *Store) Get(key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, err := os.ReadFile(s.path(key))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, xbeacon.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("filestore: %w", err)
	}
	return b, nil
}

func (s *Store) Set(key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	target := s.path(key)
	if s.quota > 0 {
		used, err := s.usedLocked()
		if err != nil {
			return err
		}
		if fi, err := os.Stat(target); err == nil {
			used -= fi.Size()
		}
		if used+int64(len(value)) > s.quota {
			return xbeacon.ErrQuotaExceeded
		}
	}

	tmp, err := os.CreateTemp(s.dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("filestore: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(value); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("filestore: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("filestore: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("filestore: %w", err)
	}
	if err := os.Rename(tmp.Name(), target); err != nil {
		return fmt.Errorf("filestore: %w", err)
	}
	return nil
}

// Delete removes key. Deleting a missing key is not an error.
func (s *Store) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.path(key)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("filestore: %w", err)
	}
	return nil
}

func (s *Store) usedLocked() (int64, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return 0, fmt.Errorf("filestore: %w", err)
	}
	var total int64
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".dat" {
			continue
		}
		fi, err := e.Info()
		if err != nil {
			continue
		}
		total += fi.Size()
	}
	return total, nil
}
