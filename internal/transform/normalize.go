package transform

import (
	"strings"

	"github.com/spf13/cast"
)

// Resize option keys.
const (
	KeyWidth     = "w"
	KeyHeight    = "h"
	KeyLongEdge  = "l"
	KeyShortEdge = "s"
	KeyLimit     = "limit"
	KeyPadColor  = "color"
)

// ResizeKeys is the full set of resize options any backend may honor.
var ResizeKeys = []string{KeyWidth, KeyHeight, KeyLongEdge, KeyShortEdge, KeyLimit, KeyPadColor}

// NormalizeResize validates mode and keeps the options named in allowed.
// Keys outside allowed, or unknown keys, are dropped without error.
func NormalizeResize(mode int, opts Options, allowed ...string) (ResizeSpec, error) {
	if mode < 0 || mode >= ResizeModes {
		return ResizeSpec{}, invalidParameter("resize mode out of range", mode)
	}
	if len(allowed) == 0 {
		allowed = ResizeKeys
	}

	spec := ResizeSpec{Mode: mode}
	for _, key := range allowed {
		raw, ok := opts[key]
		if !ok || raw == nil {
			continue
		}
		switch key {
		case KeyWidth, KeyHeight, KeyLongEdge, KeyShortEdge:
			n, err := cast.ToIntE(raw)
			if err != nil || n < 0 {
				return ResizeSpec{}, invalidParameter("resize "+key+" must be a non-negative integer", opts)
			}
			switch key {
			case KeyWidth:
				spec.Width = n
			case KeyHeight:
				spec.Height = n
			case KeyLongEdge:
				spec.LongEdge = n
			case KeyShortEdge:
				spec.ShortEdge = n
			}
		case KeyLimit:
			limit, err := cast.ToBoolE(raw)
			if err != nil {
				return ResizeSpec{}, invalidParameter("resize limit must be a boolean", opts)
			}
			spec.Limit = &limit
		case KeyPadColor:
			spec.PadColor = cast.ToString(raw)
		}
	}
	return spec, nil
}

// NormalizeWatermark turns one watermark call into its marks. The caller
// assigns the layer.
func NormalizeWatermark(kind string, params ...Options) ([]WatermarkSpec, error) {
	k, err := ParseWatermarkKind(kind)
	if err != nil {
		return nil, err
	}

	first := Options{}
	if len(params) > 0 && params[0] != nil {
		first = params[0]
	}

	switch k {
	case WatermarkImage:
		mark, err := imageMark(first)
		if err != nil {
			return nil, err
		}
		return []WatermarkSpec{{Kind: k, Image: mark}}, nil
	case WatermarkText, WatermarkTextTile:
		mark, err := textMark(first)
		if err != nil {
			return nil, err
		}
		mark.Tiled = k == WatermarkTextTile
		return []WatermarkSpec{{Kind: k, Text: mark}}, nil
	default:
		marks := make([]WatermarkSpec, 0, len(params))
		for _, entry := range params {
			switch {
			case has(entry, "image"):
				mark, err := imageMark(entry)
				if err != nil {
					return nil, err
				}
				marks = append(marks, WatermarkSpec{Kind: k, Image: mark})
			case has(entry, "text"):
				mark, err := textMark(entry)
				if err != nil {
					return nil, err
				}
				marks = append(marks, WatermarkSpec{Kind: k, Text: mark})
			}
		}
		return marks, nil
	}
}

// NormalizeRound accepts a scalar radius or a radiusx/radiusy pair. Anything
// else, including a non-positive radius, reports false and must be ignored.
func NormalizeRound(radius any) (RoundSpec, bool) {
	switch v := radius.(type) {
	case nil:
		return RoundSpec{}, false
	case Options:
		return roundPair(map[string]any(v))
	case map[string]any:
		return roundPair(v)
	case map[string]int:
		pair := make(map[string]any, len(v))
		for key, n := range v {
			pair[key] = n
		}
		return roundPair(pair)
	case bool:
		return RoundSpec{}, false
	case string:
		if strings.TrimSpace(v) == "" {
			return RoundSpec{}, false
		}
	}

	r, err := cast.ToIntE(radius)
	if err != nil || r <= 0 {
		return RoundSpec{}, false
	}
	return RoundSpec{Radius: r}, true
}

func roundPair(pair map[string]any) (RoundSpec, bool) {
	if len(pair) != 2 {
		return RoundSpec{}, false
	}
	rawX, okX := pair["radiusx"]
	rawY, okY := pair["radiusy"]
	if !okX || !okY {
		return RoundSpec{}, false
	}
	x, errX := cast.ToIntE(rawX)
	y, errY := cast.ToIntE(rawY)
	if errX != nil || errY != nil {
		return RoundSpec{}, false
	}
	r := min(x, y)
	if r <= 0 {
		return RoundSpec{}, false
	}
	return RoundSpec{Radius: r, RadiusX: x, RadiusY: y, Pair: true}, true
}

func imageMark(opts Options) (*ImageMark, error) {
	image := strings.TrimSpace(cast.ToString(opts["image"]))
	if image == "" {
		return nil, invalidParameter("image watermark requires image", opts)
	}

	mark := &ImageMark{Image: image}
	var err error
	if mark.Gravity, err = optGravity(opts); err != nil {
		return nil, err
	}
	ints := []struct {
		key string
		dst **int
	}{
		{"dissolve", &mark.Dissolve},
		{"dx", &mark.DX},
		{"dy", &mark.DY},
		{"voffset", &mark.VOffset},
		{"wst", &mark.WidthScaleType},
	}
	for _, field := range ints {
		if *field.dst, err = optInt(opts, field.key); err != nil {
			return nil, err
		}
	}
	if raw, ok := opts["ws"]; ok && raw != nil {
		ws, err := cast.ToFloat64E(raw)
		if err != nil {
			return nil, invalidParameter("ws must be a number", opts)
		}
		mark.WidthScale = &ws
	}
	return mark, nil
}

func textMark(opts Options) (*TextMark, error) {
	text := cast.ToString(opts["text"])
	if text == "" {
		return nil, invalidParameter("text watermark requires text", opts)
	}

	mark := &TextMark{
		Text: text,
		Font: cast.ToString(opts["font"]),
		Fill: cast.ToString(opts["fill"]),
	}
	var err error
	if mark.Gravity, err = optGravity(opts); err != nil {
		return nil, err
	}
	ints := []struct {
		key string
		dst **int
	}{
		{"fontsize", &mark.FontSize},
		{"dissolve", &mark.Dissolve},
		{"rotate", &mark.Rotate},
		{"dx", &mark.DX},
		{"dy", &mark.DY},
		{"voffset", &mark.VOffset},
		{"shadow", &mark.Shadow},
		{"uw", &mark.TileWidth},
		{"uh", &mark.TileHeight},
		{"resize", &mark.TileResize},
	}
	for _, field := range ints {
		if *field.dst, err = optInt(opts, field.key); err != nil {
			return nil, err
		}
	}
	return mark, nil
}

func optGravity(opts Options) (Gravity, error) {
	raw := strings.TrimSpace(cast.ToString(opts["gravity"]))
	if raw == "" {
		return "", nil
	}
	return ParseGravity(raw)
}

func optInt(opts Options, key string) (*int, error) {
	raw, ok := opts[key]
	if !ok || raw == nil {
		return nil, nil
	}
	if s, isString := raw.(string); isString && strings.TrimSpace(s) == "" {
		return nil, nil
	}
	n, err := cast.ToIntE(raw)
	if err != nil {
		return nil, invalidParameter(key+" must be an integer", opts)
	}
	return &n, nil
}

func has(opts Options, key string) bool {
	raw, ok := opts[key]
	return ok && raw != nil && cast.ToString(raw) != ""
}
