package imageprocess

import (
	"fmt"

	"github.com/dunamismax/pixelgate/internal/gateway"
	"github.com/dunamismax/pixelgate/internal/transform"
)

type Option func(*Processor)

// WithDeps sets the collaborators handed to every backend without its own.
func WithDeps(deps gateway.Deps) Option {
	return func(p *Processor) {
		p.shared = deps
	}
}

// WithBackendDeps sets the collaborators for one backend.
func WithBackendDeps(name string, deps gateway.Deps) Option {
	return func(p *Processor) {
		p.backends[normalizeName(name)] = deps
	}
}

// Processor starts chains on the default backend or on a named one. Every
// chain gets its own gateway.
type Processor struct {
	reg      *Registry
	def      string
	shared   gateway.Deps
	backends map[string]gateway.Deps
}

// New fails with ErrInvalidGateway when defaultName is not registered or its
// factory rejects the configured collaborators.
func New(reg *Registry, defaultName string, opts ...Option) (*Processor, error) {
	if reg == nil {
		return nil, fmt.Errorf("%w: nil registry", transform.ErrInvalidGateway)
	}
	p := &Processor{
		reg:      reg,
		def:      normalizeName(defaultName),
		backends: make(map[string]gateway.Deps),
	}
	for _, opt := range opts {
		opt(p)
	}

	if _, err := p.build(p.def); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Processor) Default() string {
	return p.def
}

// Backends lists the backends chains can be started on.
func (p *Processor) Backends() []string {
	return p.reg.Names()
}

// Gateway starts a chain on the default backend.
func (p *Processor) Gateway() gateway.Gateway {
	return p.Use(p.def)
}

// Use starts a chain on the named backend. Unknown names yield a chain whose
// terminals report ErrInvalidGateway.
func (p *Processor) Use(name string) gateway.Gateway {
	gw, err := p.build(name)
	if err != nil {
		return gateway.Failed(err)
	}
	return gw
}

func (p *Processor) Path(path string) gateway.Gateway {
	return p.Gateway().Path(path)
}

func (p *Processor) Resize(mode int, opts transform.Options) gateway.Gateway {
	return p.Gateway().Resize(mode, opts)
}

func (p *Processor) Watermark(kind string, params ...transform.Options) gateway.Gateway {
	return p.Gateway().Watermark(kind, params...)
}

func (p *Processor) Round(radius any) gateway.Gateway {
	return p.Gateway().Round(radius)
}

func (p *Processor) build(name string) (gateway.Gateway, error) {
	factory, err := p.reg.Lookup(name)
	if err != nil {
		return nil, err
	}
	deps, ok := p.backends[normalizeName(name)]
	if !ok {
		deps = p.shared
	}
	gw, err := factory(deps)
	if err != nil {
		return nil, fmt.Errorf("build backend %q: %w", name, err)
	}
	return gw, nil
}
