//go:build govips && cgo

package raster

import (
	"fmt"
	"strings"
	"sync"

	"github.com/davidbyttow/govips/v2/vips"
)

var (
	startupOnce sync.Once
	shutdownMu  sync.Mutex
	started     bool
)

func Startup() error {
	startupOnce.Do(func() {
		vips.LoggingSettings(nil, vips.LogLevelWarning)
		vips.Startup(&vips.Config{
			MaxCacheFiles: 0,
			MaxCacheMem:   64 * 1024 * 1024,
			MaxCacheSize:  50,
		})

		shutdownMu.Lock()
		started = true
		shutdownMu.Unlock()
	})
	return nil
}

func Shutdown() {
	shutdownMu.Lock()
	defer shutdownMu.Unlock()
	if !started {
		return
	}
	vips.Shutdown()
	started = false
}

// Probe loads the image header through libvips.
func Probe(data []byte) (Meta, error) {
	if err := Startup(); err != nil {
		return Meta{}, err
	}
	img, err := vips.LoadImageFromBuffer(data, vips.NewImportParams())
	if err != nil {
		return Meta{}, fmt.Errorf("probe image: %w", err)
	}
	defer img.Close()

	format := strings.ToLower(vips.ImageTypes[img.Format()])
	return Meta{Width: img.Width(), Height: img.Height(), Format: format}, nil
}
