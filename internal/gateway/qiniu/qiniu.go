// Package qiniu encodes transforms into Qiniu Kodo fop chains.
package qiniu

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/cast"

	"github.com/dunamismax/pixelgate/internal/gateway"
	"github.com/dunamismax/pixelgate/internal/storage"
	"github.com/dunamismax/pixelgate/internal/transform"
)

const (
	Name       = "qiniu"
	infoSuffix = "?imageInfo"
)

// Encoder turns a spec into a fop chain on the resolved URL.
type Encoder struct {
	locator storage.Locator
	fetcher gateway.MetadataFetcher
	log     zerolog.Logger
}

// New is the registry factory for the Qiniu backend.
func New(deps gateway.Deps) (gateway.Gateway, error) {
	fetcher := deps.Fetcher
	if fetcher == nil {
		fetcher = gateway.NewHTTPFetcher(gateway.FetcherConfig{})
	}
	enc := &Encoder{
		locator: deps.Locator,
		fetcher: fetcher,
		log:     deps.Logger.With().Str("backend", Name).Logger(),
	}
	return gateway.NewChain(enc, deps.Logger), nil
}

func (e *Encoder) Name() string {
	return Name
}

// ResizeKeys follows imageView2: modes 0, 4 and 5 size by long and short
// edge, the others by width and height.
func (e *Encoder) ResizeKeys(mode int) []string {
	if edgeMode(mode) {
		return []string{transform.KeyLongEdge, transform.KeyShortEdge}
	}
	return []string{transform.KeyWidth, transform.KeyHeight}
}

func (e *Encoder) URL(ctx context.Context, path string, spec transform.Spec) (string, error) {
	base, err := gateway.ResolveURL(ctx, e.locator, path)
	if err != nil {
		return "", err
	}
	fop, err := Fop(spec)
	if err != nil {
		return "", err
	}
	if fop == "" {
		return base, nil
	}
	return base + "?" + fop, nil
}

type infoResponse struct {
	Size   any    `json:"size"`
	Format string `json:"format"`
	Width  any    `json:"width"`
	Height any    `json:"height"`
}

func (e *Encoder) Info(ctx context.Context, path string) (transform.ImageInfo, error) {
	base, err := gateway.ResolveURL(ctx, e.locator, path)
	if errors.Is(err, transform.ErrBackendRequest) {
		e.log.Warn().Err(err).Str("path", path).Msg("image info unavailable")
		return gateway.FallbackInfo(path), nil
	}
	if err != nil {
		return transform.ImageInfo{}, err
	}

	var resp infoResponse
	if err := e.fetcher.FetchJSON(ctx, base+infoSuffix, &resp); err != nil {
		e.log.Warn().Err(err).Str("url", base).Msg("image info unavailable")
		return gateway.FallbackInfo(base), nil
	}

	return transform.ImageInfo{
		Size:   cast.ToUint64(resp.Size),
		Format: resp.Format,
		Width:  cast.ToUint(resp.Width),
		Height: cast.ToUint(resp.Height),
	}, nil
}

// Fop renders spec as a "|" separated operator chain in imageView2, roundPic,
// watermark order. Each watermark call becomes one watermark operator.
func Fop(spec transform.Spec) (string, error) {
	var ops []operator

	if r := spec.Resize; r != nil {
		ops = append(ops, resizeOperator(*r))
	}
	if r := spec.Round; r != nil {
		op := operator{name: "roundPic"}
		if r.Pair {
			op = op.with("radiusx", strconv.Itoa(r.RadiusX)).with("radiusy", strconv.Itoa(r.RadiusY))
		} else {
			op = op.with("radius", strconv.Itoa(r.Radius))
		}
		ops = append(ops, op)
	}
	for _, layer := range spec.Layers() {
		op, err := watermarkOperator(layer)
		if err != nil {
			return "", err
		}
		ops = append(ops, op)
	}

	parts := make([]string, 0, len(ops))
	for _, op := range ops {
		parts = append(parts, op.String())
	}
	return strings.Join(parts, "|"), nil
}

func edgeMode(mode int) bool {
	return mode == 0 || mode == 4 || mode == 5
}

func resizeOperator(r transform.ResizeSpec) operator {
	op := operator{name: "imageView2", version: strconv.Itoa(r.Mode)}
	if edgeMode(r.Mode) {
		return op.withInt("w", r.LongEdge).withInt("h", r.ShortEdge)
	}
	return op.withInt("w", r.Width).withInt("h", r.Height)
}

func watermarkOperator(layer []transform.WatermarkSpec) (operator, error) {
	op := operator{name: "watermark", version: strconv.Itoa(int(layer[0].Kind))}

	for _, mark := range layer {
		switch {
		case mark.Image != nil:
			img := mark.Image
			op = op.with("image", gateway.URLSafeBase64(img.Image))
			op = op.withOpt("dissolve", img.Dissolve)
			g, err := gravity(img.Gravity)
			if err != nil {
				return operator{}, err
			}
			op = op.with("gravity", g)
			op = op.withOpt("dx", img.DX)
			op = op.withOpt("dy", img.DY)
			if img.WidthScale != nil {
				op = op.with("ws", strconv.FormatFloat(*img.WidthScale, 'f', -1, 64))
			}
			op = op.withOpt("wst", img.WidthScaleType)
		case mark.Text != nil && mark.Text.Tiled:
			text := mark.Text
			op = textHead(op, text)
			op = op.withOpt("rotate", text.Rotate)
			op = op.withOpt("uw", text.TileWidth)
			op = op.withOpt("uh", text.TileHeight)
			op = op.withOpt("resize", text.TileResize)
		case mark.Text != nil:
			text := mark.Text
			op = textHead(op, text)
			g, err := gravity(text.Gravity)
			if err != nil {
				return operator{}, err
			}
			op = op.with("gravity", g)
			op = op.withOpt("dx", text.DX)
			op = op.withOpt("dy", text.DY)
		default:
			return operator{}, &transform.ParameterError{Reason: "watermark has neither image nor text", Raw: mark}
		}
	}
	return op, nil
}

// textHead writes the keys shared by plain and tiled text marks.
func textHead(op operator, text *transform.TextMark) operator {
	op = op.with("text", gateway.URLSafeBase64(text.Text))
	if text.Font != "" {
		op = op.with("font", gateway.URLSafeBase64(text.Font))
	}
	op = op.withOpt("fontsize", text.FontSize)
	op = op.with("fill", text.Fill)
	return op.withOpt("dissolve", text.Dissolve)
}

func gravity(g transform.Gravity) (string, error) {
	if g == "" {
		return "", nil
	}
	return transform.QiniuGravity(g)
}

type operator struct {
	name    string
	version string
	params  []string
}

func (o operator) with(key, value string) operator {
	if value == "" {
		return o
	}
	o.params = append(o.params, key, value)
	return o
}

func (o operator) withInt(key string, v int) operator {
	if v == 0 {
		return o
	}
	return o.with(key, strconv.Itoa(v))
}

func (o operator) withOpt(key string, v *int) operator {
	if v == nil {
		return o
	}
	return o.with(key, strconv.Itoa(*v))
}

// String renders "name[/version]/k/v/k/v".
func (o operator) String() string {
	parts := make([]string, 0, 2+len(o.params))
	parts = append(parts, o.name)
	if o.version != "" {
		parts = append(parts, o.version)
	}
	parts = append(parts, o.params...)
	return strings.Join(parts, "/")
}
