// Package transform holds the backend-neutral description of one image
// request and the functions that normalize raw call arguments into it.
package transform

import (
	"fmt"
	"strings"
)

// Options is the loosely keyed argument set accepted by the fluent calls.
type Options map[string]any

// ResizeModes is the number of fitting strategies a resize mode may select.
const ResizeModes = 6

// ResizeSpec is a normalized resize. Mode indexes the backend's mode table.
type ResizeSpec struct {
	Mode      int    `json:"mode"`
	Width     int    `json:"w,omitempty"`
	Height    int    `json:"h,omitempty"`
	LongEdge  int    `json:"l,omitempty"`
	ShortEdge int    `json:"s,omitempty"`
	Limit     *bool  `json:"limit,omitempty"`
	PadColor  string `json:"color,omitempty"`
}

// RoundSpec keeps the shape the radius was given in because Qiniu encodes a
// pair differently from a scalar. Radius is always the effective value.
type RoundSpec struct {
	Radius  int  `json:"r"`
	RadiusX int  `json:"rx,omitempty"`
	RadiusY int  `json:"ry,omitempty"`
	Pair    bool `json:"pair,omitempty"`
}

// WatermarkKind is the watermark type named in a Watermark call.
type WatermarkKind int

// The numeric values double as Qiniu's watermark module version.
const (
	WatermarkImage    WatermarkKind = 1
	WatermarkText     WatermarkKind = 2
	WatermarkMixed    WatermarkKind = 3
	WatermarkTextTile WatermarkKind = 4
)

var watermarkKindNames = map[WatermarkKind]string{
	WatermarkImage:    "image",
	WatermarkText:     "text",
	WatermarkMixed:    "text_image",
	WatermarkTextTile: "text_tile",
}

func (k WatermarkKind) String() string {
	if name, ok := watermarkKindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("WatermarkKind(%d)", int(k))
}

// ParseWatermarkKind accepts the lower-case kind names.
func ParseWatermarkKind(raw string) (WatermarkKind, error) {
	normalized := strings.ToLower(strings.TrimSpace(raw))
	for kind, name := range watermarkKindNames {
		if name == normalized {
			return kind, nil
		}
	}
	return 0, invalidParameter("unknown watermark type "+quote(raw), raw)
}

// ImageMark overlays the image at key Image.
type ImageMark struct {
	Image          string   `json:"image"`
	Dissolve       *int     `json:"dissolve,omitempty"`
	Gravity        Gravity  `json:"gravity,omitempty"`
	DX             *int     `json:"dx,omitempty"`
	DY             *int     `json:"dy,omitempty"`
	VOffset        *int     `json:"voffset,omitempty"`
	WidthScale     *float64 `json:"ws,omitempty"`
	WidthScaleType *int     `json:"wst,omitempty"`
}

// TextMark draws Text. The Tile fields only apply to Qiniu tiled text.
type TextMark struct {
	Text       string  `json:"text"`
	Font       string  `json:"font,omitempty"`
	FontSize   *int    `json:"fontsize,omitempty"`
	Fill       string  `json:"fill,omitempty"`
	Dissolve   *int    `json:"dissolve,omitempty"`
	Rotate     *int    `json:"rotate,omitempty"`
	Gravity    Gravity `json:"gravity,omitempty"`
	DX         *int    `json:"dx,omitempty"`
	DY         *int    `json:"dy,omitempty"`
	VOffset    *int    `json:"voffset,omitempty"`
	Shadow     *int    `json:"shadow,omitempty"`
	Tiled      bool    `json:"tiled,omitempty"`
	TileWidth  *int    `json:"uw,omitempty"`
	TileHeight *int    `json:"uh,omitempty"`
	TileResize *int    `json:"resize,omitempty"`
}

// WatermarkSpec is a tagged union: exactly one of Image and Text is set.
// Layer identifies the watermark call that produced the mark.
type WatermarkSpec struct {
	Kind  WatermarkKind `json:"kind"`
	Layer int           `json:"layer"`
	Image *ImageMark    `json:"image,omitempty"`
	Text  *TextMark     `json:"text,omitempty"`
}

func (w WatermarkSpec) Gravity() Gravity {
	switch {
	case w.Image != nil:
		return w.Image.Gravity
	case w.Text != nil:
		return w.Text.Gravity
	default:
		return ""
	}
}

// Spec is the canonical description of one request chain.
type Spec struct {
	Resize     *ResizeSpec     `json:"resize,omitempty"`
	Round      *RoundSpec      `json:"round,omitempty"`
	Watermarks []WatermarkSpec `json:"watermark,omitempty"`
}

func (s Spec) Empty() bool {
	return s.Resize == nil && s.Round == nil && len(s.Watermarks) == 0
}

// NextLayer returns the layer number the next watermark call should use.
func (s Spec) NextLayer() int {
	if len(s.Watermarks) == 0 {
		return 0
	}
	return s.Watermarks[len(s.Watermarks)-1].Layer + 1
}

// Layers groups the marks by the call that produced them, keeping order.
func (s Spec) Layers() [][]WatermarkSpec {
	var (
		layers  [][]WatermarkSpec
		current = -1
	)
	for _, mark := range s.Watermarks {
		if len(layers) == 0 || mark.Layer != current {
			layers = append(layers, nil)
			current = mark.Layer
		}
		layers[len(layers)-1] = append(layers[len(layers)-1], mark)
	}
	return layers
}

// ImageInfo is the metadata reported by Info. Zero fields mean unknown.
type ImageInfo struct {
	Size   uint64 `json:"size"`
	Format string `json:"format"`
	Width  uint   `json:"width"`
	Height uint   `json:"height"`
}
