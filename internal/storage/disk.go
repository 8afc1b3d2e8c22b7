// Package storage provides the disks image paths are resolved against.
package storage

import (
	"context"
	"io"
	"os"
	"strings"
)

// Locator answers whether a key exists on a disk and how it is served.
type Locator interface {
	Exists(ctx context.Context, key string) (bool, error)
	URL(key string) string
}

// Disk is a Locator whose files can be read and written directly.
type Disk interface {
	Locator
	Open(key string) (io.ReadCloser, error)
	Create(key string) (io.WriteCloser, error)
	Stat(key string) (os.FileInfo, error)
	Rename(from, to string) error
	Remove(key string) error
	Root() string
}

func publicURL(base, key string) string {
	base = strings.TrimRight(base, "/")
	key = strings.TrimLeft(key, "/")
	if base == "" {
		return "/" + key
	}
	return base + "/" + key
}
