// Package oss encodes transforms into Aliyun OSS x-oss-process requests.
package oss

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
	Name        = "oss"
	processKey  = "x-oss-process="
	infoProcess = "?x-oss-process=image/info"
)

// resizeModes is indexed by the resize mode.
var resizeModes = [transform.ResizeModes]string{"lfit", "mfit", "pad", "fixed", "fill", "undefined"}

// Encoder turns a spec into an x-oss-process query on the resolved URL.
type Encoder struct {
	locator storage.Locator
	fetcher gateway.MetadataFetcher
	log     zerolog.Logger
}

// New is the registry factory for the OSS backend.
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

func (e *Encoder) ResizeKeys(int) []string {
	return transform.ResizeKeys
}

func (e *Encoder) URL(ctx context.Context, path string, spec transform.Spec) (string, error) {
	base, err := gateway.ResolveURL(ctx, e.locator, path)
	if err != nil {
		return "", err
	}
	process, err := Process(spec)
	if err != nil {
		return "", err
	}
	if process == "" {
		return base, nil
	}
	return base + "?" + processKey + "image" + process, nil
}

type infoValue struct {
	Value any `json:"value"`
}

type infoResponse struct {
	FileSize    infoValue `json:"FileSize"`
	Format      infoValue `json:"Format"`
	ImageWidth  infoValue `json:"ImageWidth"`
	ImageHeight infoValue `json:"ImageHeight"`
}

// Info asks OSS for the source image metadata. Backend failures are logged and
// reported as the zero value with the format taken from the extension.
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
	if err := e.fetcher.FetchJSON(ctx, base+infoProcess, &resp); err != nil {
		e.log.Warn().Err(err).Str("url", base).Msg("image info unavailable")
		return gateway.FallbackInfo(base), nil
	}

	return transform.ImageInfo{
		Size:   cast.ToUint64(resp.FileSize.Value),
		Format: cast.ToString(resp.Format.Value),
		Width:  cast.ToUint(resp.ImageWidth.Value),
		Height: cast.ToUint(resp.ImageHeight.Value),
	}, nil
}

// Process renders spec as an OSS operator chain without the leading "image".
// Operators come in resize, circle, watermark order.
func Process(spec transform.Spec) (string, error) {
	var ops []operator

	if r := spec.Resize; r != nil {
		ops = append(ops, resizeOperator(*r))
	}
	if spec.Round != nil {
		ops = append(ops, operator{name: "circle"}.with("r", strconv.Itoa(spec.Round.Radius)))
	}
	for _, mark := range spec.Watermarks {
		op, err := watermarkOperator(mark)
		if err != nil {
			return "", err
		}
		ops = append(ops, op)
	}

	var b strings.Builder
	for _, op := range ops {
		op.writeTo(&b)
	}
	return b.String(), nil
}

func resizeOperator(r transform.ResizeSpec) operator {
	op := operator{name: "resize"}.with("m", resizeModes[r.Mode])
	op = op.withInt("w", r.Width)
	op = op.withInt("h", r.Height)
	op = op.withInt("l", r.LongEdge)
	op = op.withInt("s", r.ShortEdge)
	if r.Limit != nil {
		limit := "0"
		if *r.Limit {
			limit = "1"
		}
		op = op.with("limit", limit)
	}
	if r.PadColor != "" {
		op = op.with("color", strings.TrimPrefix(r.PadColor, "#"))
	}
	return op
}

func watermarkOperator(mark transform.WatermarkSpec) (operator, error) {
	op := operator{name: "watermark"}

	switch {
	case mark.Image != nil:
		img := mark.Image
		op = op.with("image", gateway.URLSafeBase64(img.Image))
		op = op.withOpt("t", img.Dissolve)
		g, err := position(img.Gravity)
		if err != nil {
			return operator{}, err
		}
		op = op.with("g", g)
		op = op.withOpt("x", img.DX)
		op = op.withOpt("y", img.DY)
		op = op.withOpt("voffset", img.VOffset)
	case mark.Text != nil:
		text := mark.Text
		op = op.with("text", gateway.URLSafeBase64(text.Text))
		if text.Font != "" {
			op = op.with("type", gateway.URLSafeBase64(text.Font))
		}
		op = op.withOpt("size", text.FontSize)
		if text.Fill != "" {
			op = op.with("color", strings.TrimPrefix(text.Fill, "#"))
		}
		op = op.withOpt("t", text.Dissolve)
		g, err := position(text.Gravity)
		if err != nil {
			return operator{}, err
		}
		op = op.with("g", g)
		op = op.withOpt("x", text.DX)
		op = op.withOpt("y", text.DY)
		op = op.withOpt("rotate", text.Rotate)
		op = op.withOpt("shadow", text.Shadow)
		op = op.withOpt("voffset", text.VOffset)
		if text.Tiled {
			op = op.with("fill", "1")
		}
	default:
		return operator{}, &transform.ParameterError{Reason: "watermark has neither image nor text", Raw: mark}
	}
	return op, nil
}

// position returns "" for an unset gravity so the key is skipped.
func position(g transform.Gravity) (string, error) {
	if g == "" {
		return "", nil
	}
	return transform.OSSPosition(g)
}

type param struct {
	key   string
	value string
}

type operator struct {
	name   string
	params []param
}

func (o operator) with(key, value string) operator {
	if value == "" {
		return o
	}
	o.params = append(o.params, param{key: key, value: value})
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

// writeTo renders "/name,k_v,k_v".
func (o operator) writeTo(b *strings.Builder) {
	b.WriteByte('/')
	b.WriteString(o.name)
	for _, p := range o.params {
		b.WriteByte(',')
		b.WriteString(p.key)
		b.WriteByte('_')
		b.WriteString(p.value)
	}
}
