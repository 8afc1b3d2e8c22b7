// Package local renders transforms on the local disk and serves the cached
// variant.
package local

import (
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
	"github.com/rs/zerolog"

	"github.com/dunamismax/pixelgate/internal/gateway"
	"github.com/dunamismax/pixelgate/internal/id"
	"github.com/dunamismax/pixelgate/internal/raster"
	"github.com/dunamismax/pixelgate/internal/storage"
	"github.com/dunamismax/pixelgate/internal/transform"
)

const (
	Name = "local"

	defaultTextColor = "#000000"
)

// Outcomes reported to the render observer.
const (
	OutcomeHit      = "hit"
	OutcomeRendered = "rendered"
	OutcomeFailed   = "failed"
)

// Encoder renders variants onto a local disk.
type Encoder struct {
	disk     storage.Disk
	log      zerolog.Logger
	observer gateway.RenderObserver
}

// New is the registry factory for the local backend.
func New(deps gateway.Deps) (gateway.Gateway, error) {
	if deps.Disk == nil {
		return nil, fmt.Errorf("%w: local backend requires a disk", transform.ErrInvalidGateway)
	}
	enc := &Encoder{
		disk:     deps.Disk,
		log:      deps.Logger.With().Str("backend", Name).Logger(),
		observer: deps.Observer,
	}
	return gateway.NewChain(enc, deps.Logger), nil
}

func (e *Encoder) Name() string {
	return Name
}

func (e *Encoder) ResizeKeys(int) []string {
	return []string{transform.KeyWidth, transform.KeyHeight}
}

// DerivedPath names the cached variant of path for spec: the spec hash is
// inserted before the extension, and rounded output is always PNG.
func DerivedPath(path string, spec transform.Spec) (string, error) {
	payload, err := json.Marshal(spec)
	if err != nil {
		return "", fmt.Errorf("encode spec: %w", err)
	}
	sum := strconv.FormatUint(xxhash.Sum64(payload), 16)

	ext := gateway.Suffix(path)
	stem := path
	if ext != "" {
		stem = strings.TrimSuffix(path, "."+ext)
	}

	outExt := ext
	if (spec.Round != nil && !strings.EqualFold(ext, "png")) || !raster.CanEncode(ext) {
		outExt = "png"
	}
	return stem + "_" + sum + "." + outExt, nil
}

// URL returns the public URL of the rendered variant, rendering it first when
// it is not cached yet.
func (e *Encoder) URL(ctx context.Context, path string, spec transform.Spec) (string, error) {
	if spec.Empty() {
		if err := e.requireSource(ctx, path); err != nil {
			return "", err
		}
		return e.disk.URL(path), nil
	}

	derived, err := DerivedPath(path, spec)
	if err != nil {
		return "", err
	}

	cached, err := e.disk.Exists(ctx, derived)
	if err != nil {
		return "", fmt.Errorf("check cached variant: %w", err)
	}
	if cached {
		e.observe(OutcomeHit)
		e.log.Debug().Str("path", path).Str("derived", derived).Msg("variant cache hit")
		return e.disk.URL(derived), nil
	}

	if err := e.requireSource(ctx, path); err != nil {
		return "", err
	}
	if err := e.render(ctx, path, derived, spec); err != nil {
		e.observe(OutcomeFailed)
		return "", err
	}
	e.observe(OutcomeRendered)
	e.log.Info().Str("path", path).Str("derived", derived).Msg("variant rendered")
	return e.disk.URL(derived), nil
}

// Info describes the source file, never a derived variant.
func (e *Encoder) Info(ctx context.Context, path string) (transform.ImageInfo, error) {
	if err := e.requireSource(ctx, path); err != nil {
		return transform.ImageInfo{}, err
	}

	data, err := e.readAll(path)
	if err != nil {
		return transform.ImageInfo{}, err
	}
	meta, err := raster.Probe(data)
	if err != nil {
		return transform.ImageInfo{}, err
	}

	format := gateway.Suffix(path)
	if format == "" {
		format = meta.Format
	}
	return transform.ImageInfo{
		Size:   uint64(len(data)),
		Format: format,
		Width:  uint(meta.Width),
		Height: uint(meta.Height),
	}, nil
}

func (e *Encoder) requireSource(ctx context.Context, path string) error {
	ok, err := e.disk.Exists(ctx, path)
	if err != nil {
		return fmt.Errorf("check source: %w", err)
	}
	if !ok {
		return fmt.Errorf("%w: %s", transform.ErrSourceNotFound, path)
	}
	return nil
}

// render runs fit, circle mask and the watermarks in order, then writes the
// result to derived.
func (e *Encoder) render(ctx context.Context, path, derived string, spec transform.Spec) error {
	img, err := e.decode(path)
	if err != nil {
		return err
	}

	if r := spec.Resize; r != nil {
		img = raster.Fit(img, r.Width, r.Height)
	}
	if r := spec.Round; r != nil {
		img = raster.CircleMask(img, r.Radius)
	}
	for i, mark := range spec.Watermarks {
		if err := ctx.Err(); err != nil {
			return err
		}
		if img, err = e.applyWatermark(img, mark); err != nil {
			return fmt.Errorf("watermark %d: %w", i, err)
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	return e.write(derived, img)
}

// write encodes img to a scratch key and renames it onto derived. A failed
// write leaves nothing at derived and removes the scratch key.
func (e *Encoder) write(derived string, img image.Image) (err error) {
	tmp := derived + ".tmp-" + id.New()
	defer func() {
		if err == nil {
			return
		}
		if rmErr := e.disk.Remove(tmp); rmErr != nil {
			e.log.Warn().Err(rmErr).Str("key", tmp).Msg("scratch variant not removed")
		}
	}()

	w, err := e.disk.Create(tmp)
	if err != nil {
		return err
	}
	if err := raster.Encode(w, img, gateway.Suffix(derived)); err != nil {
		_ = w.Close()
		return err
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("close %s: %w", derived, err)
	}
	return e.disk.Rename(tmp, derived)
}

func (e *Encoder) applyWatermark(img image.Image, mark transform.WatermarkSpec) (image.Image, error) {
	switch {
	case mark.Image != nil:
		return e.overlay(img, mark.Image)
	case mark.Text != nil:
		return e.text(img, mark.Text)
	default:
		return nil, &transform.ParameterError{Reason: "watermark has neither image nor text", Raw: mark}
	}
}

func (e *Encoder) overlay(img image.Image, mark *transform.ImageMark) (image.Image, error) {
	position, err := transform.LocalPosition(mark.Gravity)
	if err != nil {
		return nil, err
	}
	wm, err := e.decode(mark.Image)
	if err != nil {
		return nil, err
	}

	opacity := 1.0
	if mark.Dissolve != nil {
		opacity = float64(*mark.Dissolve) / 100
	}
	return raster.Overlay(img, wm, position, deref(mark.DX), deref(mark.DY), opacity), nil
}

func (e *Encoder) text(img image.Image, mark *transform.TextMark) (image.Image, error) {
	align := transform.TextAlign{Align: "left", VAlign: "top"}
	if mark.Gravity != "" {
		var err error
		if align, err = transform.LocalTextAlign(mark.Gravity); err != nil {
			return nil, err
		}
	}

	c, err := textColor(mark.Fill, mark.Dissolve)
	if err != nil {
		return nil, err
	}

	opts := raster.TextOptions{
		Text:   mark.Text,
		Color:  c,
		Align:  align.Align,
		VAlign: align.VAlign,
		DX:     deref(mark.DX),
		DY:     deref(mark.DY),
		Angle:  float64(deref(mark.Rotate)),
	}
	size := float64(raster.DefaultFontSize)
	if mark.FontSize != nil {
		size = float64(*mark.FontSize)
	}
	if mark.Font == "" {
		opts.Face, err = raster.DefaultFace(size)
	} else {
		var data []byte
		if data, err = e.readAll(mark.Font); err != nil {
			return nil, err
		}
		opts.Face, err = raster.LoadFace(data, size)
	}
	if err != nil {
		return nil, err
	}
	return raster.DrawText(img, opts)
}

// textColor resolves the fill, defaulting to black, with dissolve as alpha.
func textColor(fill string, dissolve *int) (color.NRGBA, error) {
	if fill == "" {
		fill = defaultTextColor
	}
	r, g, b, err := gateway.HexToRGB(fill)
	if err != nil {
		return color.NRGBA{}, err
	}
	alpha := uint8(255)
	if dissolve != nil {
		d := min(max(*dissolve, 0), 100)
		alpha = uint8(math.Round(float64(d) / 100 * 255))
	}
	return color.NRGBA{R: r, G: g, B: b, A: alpha}, nil
}

func (e *Encoder) decode(key string) (image.Image, error) {
	f, err := e.disk.Open(key)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return raster.Decode(f)
}

func (e *Encoder) readAll(key string) ([]byte, error) {
	f, err := e.disk.Open(key)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", key, err)
	}
	return data, nil
}

func (e *Encoder) observe(outcome string) {
	if e.observer != nil {
		e.observer.ObserveRender(Name, outcome)
	}
}

func deref(v *int) int {
	if v == nil {
		return 0
	}
	return *v
}
