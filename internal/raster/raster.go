// Package raster holds the pixel operations the local backend performs.
package raster

import (
	"fmt"
	"image"
	"image/color"
	"io"
	"strings"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/webp"
)

func Decode(r io.Reader) (image.Image, error) {
	img, err := imaging.Decode(r, imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	return img, nil
}

// Encode writes img in the format named by ext ("png", ".jpg", ...).
func Encode(w io.Writer, img image.Image, ext string) error {
	name := "out." + strings.TrimPrefix(strings.ToLower(ext), ".")
	format, err := imaging.FormatFromFilename(name)
	if err != nil {
		return fmt.Errorf("unsupported output format %q: %w", ext, err)
	}
	if err := imaging.Encode(w, img, format, imaging.JPEGQuality(90)); err != nil {
		return fmt.Errorf("encode %s: %w", format, err)
	}
	return nil
}

// CanEncode reports whether Encode supports ext.
func CanEncode(ext string) bool {
	_, err := imaging.FormatFromExtension(strings.TrimPrefix(strings.ToLower(ext), "."))
	return err == nil
}

// Fit crops and scales img to exactly w x h. A missing side copies the other.
func Fit(img image.Image, w, h int) image.Image {
	if w <= 0 && h <= 0 {
		return img
	}
	if h <= 0 {
		h = w
	}
	if w <= 0 {
		w = h
	}
	return imaging.Fill(img, w, h, imaging.Center, imaging.Lanczos)
}

// NewCanvas returns a fully transparent w x h image.
func NewCanvas(w, h int) *image.NRGBA {
	return imaging.New(w, h, color.Transparent)
}

// CircleMask copies the pixels of img that fall strictly inside the circle of
// radius r centred at (r, r) onto a transparent canvas of the same size.
func CircleMask(img image.Image, r int) *image.NRGBA {
	src := imaging.Clone(img)
	bounds := src.Bounds()
	canvas := NewCanvas(bounds.Dx(), bounds.Dy())

	r2 := r * r
	for y := 0; y < bounds.Dy(); y++ {
		for x := 0; x < bounds.Dx(); x++ {
			dx, dy := x-r, y-r
			if dx*dx+dy*dy < r2 {
				canvas.SetNRGBA(x, y, src.NRGBAAt(x, y))
			}
		}
	}
	return canvas
}

// Anchor is a horizontal and vertical alignment pair.
type Anchor struct {
	Align  string
	VAlign string
}

// ParsePosition splits a compound position such as "bottom-right" or "top".
func ParsePosition(position string) Anchor {
	a := Anchor{Align: "center", VAlign: "middle"}
	for _, part := range strings.Split(strings.ToLower(position), "-") {
		switch part {
		case "left", "right":
			a.Align = part
		case "top", "bottom":
			a.VAlign = part
		}
	}
	return a
}

// Overlay draws mark on base at the anchored position, shifted inward by dx
// and dy, with opacity in [0, 1].
func Overlay(base, mark image.Image, position string, dx, dy int, opacity float64) *image.NRGBA {
	anchor := ParsePosition(position)
	b := base.Bounds()
	m := mark.Bounds()

	x := place(anchor.Align, b.Dx(), m.Dx(), dx)
	y := place(anchor.VAlign, b.Dy(), m.Dy(), dy)
	return imaging.Overlay(base, mark, image.Pt(x, y), clampOpacity(opacity))
}

func place(align string, outer, inner, offset int) int {
	switch align {
	case "left", "top":
		return offset
	case "right", "bottom":
		return outer - inner - offset
	default:
		return (outer-inner)/2 + offset
	}
}

func clampOpacity(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
