// Package storage keeps JSON documents in a directory tree.
//
// A key is a path slice: []string{"session", "ses_1"} lives at
// <root>/session/ses_1.json. Writes land in a temp file that is renamed into
// place, so readers see either the old document or the new one.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

const ext = ".json"

var (
	ErrNotFound   = errors.New("not found")
	ErrInvalidKey = errors.New("invalid key")
)

// Storage is a key/value store on the local filesystem. Writers of the same
// key are serialized across goroutines and processes.
type Storage struct {
	root  string
	locks sync.Map // file path -> *fileLock
}

// New returns a Storage rooted at dir. The directory is created lazily.
func New(dir string) *Storage {
	return &Storage{root: dir}
}

// Root returns the base directory.
func (s *Storage) Root() string { return s.root }

func (s *Storage) file(key []string) (string, error) {
	if len(key) == 0 {
		return "", fmt.Errorf("%w: empty key", ErrInvalidKey)
	}
	for _, seg := range key {
		if seg == "" || seg == "." || seg == ".." || strings.ContainsAny(seg, `/\`) {
			return "", fmt.Errorf("%w: segment %q", ErrInvalidKey, seg)
		}
	}
	return filepath.Join(s.root, filepath.Join(key...)) + ext, nil
}

func (s *Storage) dir(prefix []string) string {
	return filepath.Join(s.root, filepath.Join(prefix...))
}

func (s *Storage) locked(path string, fn func() error) error {
	v, _ := s.locks.LoadOrStore(path, newFileLock(path))
	l := v.(*fileLock)
	if err := l.lock(); err != nil {
		return err
	}
	defer l.unlock()
	return fn()
}

// Read returns the raw document at key.
func (s *Storage) Read(ctx context.Context, key []string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path, err := s.file(key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", strings.Join(key, "/"), err)
	}
	return data, nil
}

// Write replaces the document at key.
func (s *Storage) Write(ctx context.Context, key []string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	path, err := s.file(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create dir: %w", err)
	}
	return s.locked(path, func() error {
		return replaceFile(path, data)
	})
}

func replaceFile(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+"-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp: %w", err)
	}
	cleanup := func() { _ = os.Remove(tmp.Name()) }

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		cleanup()
		return fmt.Errorf("write temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("close temp: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		cleanup()
		return fmt.Errorf("rename: %w", err)
	}
	return nil
}

// Get decodes the document at key into v.
func (s *Storage) Get(ctx context.Context, key []string, v any) error {
	data, err := s.Read(ctx, key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode %s: %w", strings.Join(key, "/"), err)
	}
	return nil
}

// Put encodes v as indented JSON and writes it at key.
func (s *Storage) Put(ctx context.Context, key []string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", strings.Join(key, "/"), err)
	}
	return s.Write(ctx, key, data)
}

// Delete removes the document at key. A missing key is not an error, even
// when its directory was never created.
func (s *Storage) Delete(ctx context.Context, key []string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	path, err := s.file(key)
	if err != nil {
		return err
	}
	if _, err := os.Stat(filepath.Dir(path)); errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return s.locked(path, func() error {
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("delete %s: %w", strings.Join(key, "/"), err)
		}
		return nil
	})
}

// Exists reports whether a document is stored at key.
func (s *Storage) Exists(ctx context.Context, key []string) bool {
	path, err := s.file(key)
	if err != nil || ctx.Err() != nil {
		return false
	}
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// List returns the document keys and child prefixes directly under prefix.
func (s *Storage) List(ctx context.Context, prefix []string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	entries, err := s.entries(prefix)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		switch {
		case e.IsDir():
			names = append(names, e.Name())
		case isDocument(e.Name()):
			names = append(names, strings.TrimSuffix(e.Name(), ext))
		}
	}
	return names, nil
}

// Scan calls fn for each document directly under prefix, in key order.
// Documents that vanish or cannot be read mid-scan are skipped.
func (s *Storage) Scan(ctx context.Context, prefix []string, fn func(key string, data json.RawMessage) error) error {
	entries, err := s.entries(prefix)
	if err != nil {
		return err
	}
	dir := s.dir(prefix)
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		if e.IsDir() || !isDocument(e.Name()) {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			continue
		}
		if err := fn(strings.TrimSuffix(e.Name(), ext), data); err != nil {
			return err
		}
	}
	return nil
}

func (s *Storage) entries(prefix []string) ([]os.DirEntry, error) {
	entries, err := os.ReadDir(s.dir(prefix))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", strings.Join(prefix, "/"), err)
	}
	return entries, nil
}

// isDocument filters out temp files and lock sidecars.
func isDocument(name string) bool {
	return strings.HasSuffix(name, ext) && !strings.HasPrefix(name, ".")
}
