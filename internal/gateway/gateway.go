// Package gateway defines the fluent contract every image backend satisfies
// and the helpers the backends share.
package gateway

import (
	"context"
	"slices"
	"strings"

	"github.com/rs/zerolog"

	"github.com/dunamismax/pixelgate/internal/storage"
	"github.com/dunamismax/pixelgate/internal/transform"
)

// Gateway is one request chain against one backend. Setters record the first
// failure and ignore later calls; the terminals report that failure.
type Gateway interface {
	Path(path string) Gateway
	Resize(mode int, opts transform.Options) Gateway
	Watermark(kind string, params ...transform.Options) Gateway
	Round(radius any) Gateway
	URL(ctx context.Context) (string, error)
	Info(ctx context.Context) (transform.ImageInfo, error)
	Spec() transform.Spec
	Err() error
}

// Encoder turns a finished spec into a backend request.
type Encoder interface {
	Name() string
	ResizeKeys(mode int) []string
	URL(ctx context.Context, path string, spec transform.Spec) (string, error)
	Info(ctx context.Context, path string) (transform.ImageInfo, error)
}

// RenderObserver is notified about local render outcomes.
type RenderObserver interface {
	ObserveRender(backend, outcome string)
}

// Deps are the collaborators a backend factory may draw on. Backends use only
// the fields they need.
type Deps struct {
	Logger   zerolog.Logger
	Disk     storage.Disk
	Locator  storage.Locator
	Fetcher  MetadataFetcher
	Observer RenderObserver
}

// Chain implements Gateway on top of an Encoder.
type Chain struct {
	enc  Encoder
	log  zerolog.Logger
	path string
	spec transform.Spec
	err  error
}

func NewChain(enc Encoder, logger zerolog.Logger) *Chain {
	return &Chain{
		enc: enc,
		log: logger.With().Str("backend", enc.Name()).Logger(),
	}
}

func (c *Chain) Path(path string) Gateway {
	if c.err != nil {
		return c
	}
	c.path = strings.TrimSpace(path)
	return c
}

func (c *Chain) Resize(mode int, opts transform.Options) Gateway {
	if c.err != nil {
		return c
	}
	spec, err := transform.NormalizeResize(mode, opts, c.enc.ResizeKeys(mode)...)
	if err != nil {
		return c.fail("resize", err)
	}
	c.spec.Resize = &spec
	return c
}

func (c *Chain) Watermark(kind string, params ...transform.Options) Gateway {
	if c.err != nil {
		return c
	}
	marks, err := transform.NormalizeWatermark(kind, params...)
	if err != nil {
		return c.fail("watermark", err)
	}
	layer := c.spec.NextLayer()
	for i := range marks {
		marks[i].Layer = layer
	}
	c.spec.Watermarks = append(c.spec.Watermarks, marks...)
	return c
}

func (c *Chain) Round(radius any) Gateway {
	if c.err != nil {
		return c
	}
	round, ok := transform.NormalizeRound(radius)
	if !ok {
		return c
	}
	c.spec.Round = &round
	return c
}

func (c *Chain) URL(ctx context.Context) (string, error) {
	if err := c.ready(); err != nil {
		return "", err
	}
	return c.enc.URL(ctx, c.path, c.Spec())
}

func (c *Chain) Info(ctx context.Context) (transform.ImageInfo, error) {
	if err := c.ready(); err != nil {
		return transform.ImageInfo{}, err
	}
	return c.enc.Info(ctx, c.path)
}

// Spec returns a copy of the accumulated spec.
func (c *Chain) Spec() transform.Spec {
	spec := c.spec
	spec.Watermarks = slices.Clone(c.spec.Watermarks)
	return spec
}

func (c *Chain) Err() error {
	return c.err
}

func (c *Chain) ready() error {
	if c.err != nil {
		return c.err
	}
	if c.path == "" {
		return &transform.ParameterError{Reason: "path is required"}
	}
	return nil
}

func (c *Chain) fail(op string, err error) Gateway {
	c.log.Debug().Err(err).Str("op", op).Msg("chain rejected parameters")
	c.err = err
	return c
}

// Failed returns a chain that reports err from every terminal.
func Failed(err error) *Chain {
	return &Chain{log: zerolog.Nop(), err: err}
}
