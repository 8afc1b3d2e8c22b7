// Package imageprocess selects an image backend by name and starts request
// chains on it.
package imageprocess

import (
	"fmt"
	"sort"
	"strings"

	"github.com/dunamismax/pixelgate/internal/gateway"
	"github.com/dunamismax/pixelgate/internal/gateway/local"
	"github.com/dunamismax/pixelgate/internal/gateway/oss"
	"github.com/dunamismax/pixelgate/internal/gateway/qiniu"
	"github.com/dunamismax/pixelgate/internal/transform"
)

// Factory builds a fresh, unbound gateway.
type Factory func(gateway.Deps) (gateway.Gateway, error)

type Registry struct {
	factories map[string]Factory
}

func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Builtin returns a registry holding the local, oss and qiniu backends.
func Builtin() *Registry {
	reg := NewRegistry()
	for name, factory := range map[string]Factory{
		local.Name: local.New,
		oss.Name:   oss.New,
		qiniu.Name: qiniu.New,
	} {
		if err := reg.Register(name, factory); err != nil {
			panic(err)
		}
	}
	return reg
}

func (r *Registry) Register(name string, factory Factory) error {
	name = normalizeName(name)
	switch {
	case name == "":
		return fmt.Errorf("%w: empty backend name", transform.ErrInvalidGateway)
	case factory == nil:
		return fmt.Errorf("%w: nil factory for %q", transform.ErrInvalidGateway, name)
	}
	if r.factories == nil {
		r.factories = make(map[string]Factory)
	}
	if _, exists := r.factories[name]; exists {
		return fmt.Errorf("%w: backend %q registered twice", transform.ErrInvalidGateway, name)
	}
	r.factories[name] = factory
	return nil
}

func (r *Registry) Lookup(name string) (Factory, error) {
	factory, ok := r.factories[normalizeName(name)]
	if !ok {
		return nil, fmt.Errorf("%w: unknown backend %q", transform.ErrInvalidGateway, name)
	}
	return factory, nil
}

// Names lists the registered backends in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func normalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
