package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/afero"
)

type LocalConfig struct {
	Root      string
	PublicURL string
}

// LocalDisk serves files from a directory through afero so tests can swap in
// an in-memory filesystem.
type LocalDisk struct {
	fs        afero.Fs
	root      string
	publicURL string
}

// NewLocalDisk scopes fs to cfg.Root. A nil fs means the OS filesystem.
func NewLocalDisk(cfg LocalConfig, fs afero.Fs) *LocalDisk {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	if cfg.Root != "" {
		fs = afero.NewBasePathFs(fs, cfg.Root)
	}
	return &LocalDisk{
		fs:        fs,
		root:      cfg.Root,
		publicURL: cfg.PublicURL,
	}
}

func (d *LocalDisk) Root() string {
	return d.root
}

func (d *LocalDisk) Fs() afero.Fs {
	return d.fs
}

func (d *LocalDisk) Exists(_ context.Context, key string) (bool, error) {
	ok, err := afero.Exists(d.fs, clean(key))
	if err != nil {
		return false, fmt.Errorf("stat %s: %w", key, err)
	}
	return ok, nil
}

func (d *LocalDisk) URL(key string) string {
	return publicURL(d.publicURL, key)
}

func (d *LocalDisk) Open(key string) (io.ReadCloser, error) {
	f, err := d.fs.Open(clean(key))
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", key, err)
	}
	return f, nil
}

// Create truncates or creates key, making parent directories as needed.
func (d *LocalDisk) Create(key string) (io.WriteCloser, error) {
	name := clean(key)
	if err := d.fs.MkdirAll(filepath.Dir(name), 0o755); err != nil {
		return nil, fmt.Errorf("create directory for %s: %w", key, err)
	}
	f, err := d.fs.Create(name)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", key, err)
	}
	return f, nil
}

func (d *LocalDisk) Stat(key string) (os.FileInfo, error) {
	info, err := d.fs.Stat(clean(key))
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", key, err)
	}
	return info, nil
}

// Rename moves from onto to, replacing to if it exists.
func (d *LocalDisk) Rename(from, to string) error {
	if err := d.fs.Rename(clean(from), clean(to)); err != nil {
		return fmt.Errorf("rename %s to %s: %w", from, to, err)
	}
	return nil
}

// Remove deletes key. A missing key is not an error.
func (d *LocalDisk) Remove(key string) error {
	if err := d.fs.Remove(clean(key)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove %s: %w", key, err)
	}
	return nil
}

func clean(key string) string {
	return filepath.Clean(string(filepath.Separator) + key)
}
