package raster

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"sync"

	"github.com/disintegration/imaging"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/math/fixed"
)

const DefaultFontSize = 12

var ErrEmptyText = errors.New("text is empty")

// TextOptions describes one text draw. Align and VAlign choose both the canvas
// edge the text is measured from and the text's own anchor. DX and DY push the
// text inward from that edge. Angle rotates counter-clockwise in degrees.
type TextOptions struct {
	Text   string
	Face   font.Face
	Color  color.NRGBA
	Align  string
	VAlign string
	DX     int
	DY     int
	Angle  float64
}

// LoadFace parses a TrueType or OpenType font, or the first face of a
// collection, at size points.
func LoadFace(data []byte, size float64) (font.Face, error) {
	if size <= 0 {
		size = DefaultFontSize
	}
	f, err := parseFont(data)
	if err != nil {
		return nil, err
	}
	return newFace(f, size)
}

var goRegular = sync.OnceValues(func() (*opentype.Font, error) {
	return parseFont(goregular.TTF)
})

// DefaultFace is Go Regular at size points, used when no font file is given.
func DefaultFace(size float64) (font.Face, error) {
	if size <= 0 {
		size = DefaultFontSize
	}
	f, err := goRegular()
	if err != nil {
		return nil, err
	}
	return newFace(f, size)
}

func parseFont(data []byte) (*opentype.Font, error) {
	collection, err := opentype.ParseCollection(data)
	if err != nil {
		return nil, fmt.Errorf("parse font: %w", err)
	}
	f, err := collection.Font(0)
	if err != nil {
		return nil, fmt.Errorf("read font face: %w", err)
	}
	return f, nil
}

func newFace(f *opentype.Font, size float64) (font.Face, error) {
	face, err := opentype.NewFace(f, &opentype.FaceOptions{
		Size:    size,
		DPI:     72,
		Hinting: font.HintingFull,
	})
	if err != nil {
		return nil, fmt.Errorf("create font face: %w", err)
	}
	return face, nil
}

// DrawText renders opts.Text onto a copy of base.
func DrawText(base image.Image, opts TextOptions) (*image.NRGBA, error) {
	if opts.Text == "" {
		return nil, ErrEmptyText
	}
	face := opts.Face
	if face == nil {
		var err error
		if face, err = DefaultFace(DefaultFontSize); err != nil {
			return nil, err
		}
	}

	layer := textLayer(opts.Text, face, opts.Color)
	if opts.Angle != 0 {
		layer = imaging.Rotate(layer, opts.Angle, color.Transparent)
	}

	b := base.Bounds()
	l := layer.Bounds()
	x := anchorPoint(opts.Align, b.Dx(), opts.DX) - offsetWithin(opts.Align, l.Dx())
	y := anchorPoint(opts.VAlign, b.Dy(), opts.DY) - offsetWithin(opts.VAlign, l.Dy())

	return imaging.Overlay(base, layer, image.Pt(x, y), 1), nil
}

func textLayer(text string, face font.Face, c color.NRGBA) *image.NRGBA {
	metrics := face.Metrics()
	ascent := metrics.Ascent.Ceil()
	height := max(1, ascent+metrics.Descent.Ceil())
	width := max(1, font.MeasureString(face, text).Ceil())

	layer := NewCanvas(width, height)
	drawer := &font.Drawer{
		Dst:  layer,
		Src:  image.NewUniform(c),
		Face: face,
		Dot:  fixed.P(0, ascent),
	}
	drawer.DrawString(text)
	return layer
}

func anchorPoint(align string, outer, offset int) int {
	switch align {
	case "left", "top":
		return offset
	case "right", "bottom":
		return outer - offset
	default:
		return outer/2 + offset
	}
}

func offsetWithin(align string, size int) int {
	switch align {
	case "left", "top":
		return 0
	case "right", "bottom":
		return size
	default:
		return size / 2
	}
}
