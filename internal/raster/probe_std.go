//go:build !govips || !cgo

package raster

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
)

func Startup() error {
	return nil
}

func Shutdown() {}

// Probe reads the dimensions and format from the image header.
func Probe(data []byte) (Meta, error) {
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return Meta{}, fmt.Errorf("probe image: %w", err)
	}
	return Meta{Width: cfg.Width, Height: cfg.Height, Format: format}, nil
}
