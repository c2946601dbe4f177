// Package media keeps temporary meal photos while a capture is pending.
package media

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

type Store interface {
	Save(ctx context.Context, data []byte, ext string) (string, error)
	Load(ctx context.Context, path string) ([]byte, error)
	Remove(ctx context.Context, path string) error
	// Orphans lists stored objects last modified before the cutoff.
	Orphans(ctx context.Context, before time.Time) ([]string, error)
}

func objectName(ext string) string {
	ext = strings.TrimPrefix(ext, ".")
	if ext == "" {
		ext = "jpg"
	}
	return uuid.NewString() + "." + ext
}

// DiskStore writes media under a local directory.
type DiskStore struct {
	dir string
}

func NewDiskStore(dir string) (*DiskStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create media dir: %w", err)
	}
	return &DiskStore{dir: dir}, nil
}

func (s *DiskStore) Save(_ context.Context, data []byte, ext string) (string, error) {
	path := filepath.Join(s.dir, objectName(ext))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write media: %w", err)
	}
	return path, nil
}

func (s *DiskStore) Load(_ context.Context, path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read media: %w", err)
	}
	return data, nil
}

func (s *DiskStore) Remove(_ context.Context, path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove media: %w", err)
	}
	return nil
}

func (s *DiskStore) Orphans(_ context.Context, before time.Time) ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("list media: %w", err)
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(before) {
			out = append(out, filepath.Join(s.dir, e.Name()))
		}
	}
	return out, nil
}
