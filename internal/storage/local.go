package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"
)

// Store is a flat directory of files keyed by reference ID.
// Uploads and transcription artifacts each get their own Store.
type Store struct {
	dir string
}

// NewStore creates a store rooted at dir, creating the directory if needed.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("mkdir %s: %w", dir, err)
	}
	return &Store{dir: dir}, nil
}

// Create streams data into a new file under key. The write is atomic
// (temp file + link) and exclusive: if key already exists, no bytes are
// touched and the error wraps fs.ErrExist. A partial write never leaves
// a file under key.
func (s *Store) Create(ctx context.Context, key string, data io.Reader) error {
	path := filepath.Join(s.dir, key)

	tmp, err := os.CreateTemp(s.dir, ".upload-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := io.Copy(tmp, data); err != nil {
		tmp.Close()
		return fmt.Errorf("write: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close: %w", err)
	}

	// Link instead of rename: fails with fs.ErrExist when the key is
	// already taken, which the ingestor uses for collision handling.
	if err := os.Link(tmpPath, path); err != nil {
		return fmt.Errorf("store %s: %w", key, err)
	}
	return nil
}

// Overwrite atomically replaces (or creates) the file under key.
// Used by the pipeline for artifacts, which must be safe to re-write
// when a job is redelivered.
func (s *Store) Overwrite(ctx context.Context, key string, data []byte) error {
	path := filepath.Join(s.dir, key)

	tmp, err := os.CreateTemp(s.dir, ".artifact-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename: %w", err)
	}
	return nil
}

// Open returns a reader for the file under key.
func (s *Store) Open(key string) (io.ReadCloser, error) {
	return os.Open(filepath.Join(s.dir, key))
}

// Path returns the filesystem path for key if the file exists, "" otherwise.
func (s *Store) Path(key string) string {
	full := filepath.Join(s.dir, key)
	if _, err := os.Stat(full); err == nil {
		return full
	}
	return ""
}

// Exists reports whether a file is stored under key.
func (s *Store) Exists(key string) bool {
	_, err := os.Stat(filepath.Join(s.dir, key))
	return err == nil
}

// Remove deletes the file under key. Removing a missing key is not an error.
func (s *Store) Remove(key string) error {
	err := os.Remove(filepath.Join(s.dir, key))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove %s: %w", key, err)
	}
	return nil
}

// Dir returns the store's root directory.
func (s *Store) Dir() string { return s.dir }

// Entry is a stored file with its creation time.
type Entry struct {
	Key     string
	Created time.Time
}

// List returns all stored keys with creation times, oldest first.
// Temp files from in-progress writes are skipped.
func (s *Store) List() ([]Entry, error) {
	dirents, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("read dir %s: %w", s.dir, err)
	}

	entries := make([]Entry, 0, len(dirents))
	for _, de := range dirents {
		if de.IsDir() || isTempName(de.Name()) {
			continue
		}
		info, err := de.Info()
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue // removed between readdir and stat
			}
			return nil, fmt.Errorf("stat %s: %w", de.Name(), err)
		}
		entries = append(entries, Entry{Key: de.Name(), Created: info.ModTime()})
	}

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Created.Equal(entries[j].Created) {
			return entries[i].Key < entries[j].Key
		}
		return entries[i].Created.Before(entries[j].Created)
	})
	return entries, nil
}

func isTempName(name string) bool {
	return len(name) > 0 && name[0] == '.'
}
