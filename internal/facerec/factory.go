package facerec

import (
	"sort"
	"strings"

	"github.com/go-logr/logr"

	"github.com/pvondra/facefinder/internal/config"
)

type constructor func(cfg *config.Config, log logr.Logger) (Provider, error)

// registry maps provider names to constructors. Backends register
// themselves from init so the available set follows what is compiled in.
var registry = map[string]constructor{}

func register(name string, ctor constructor) {
	registry[name] = ctor
}

// Names returns the registered provider names, sorted.
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// New builds and validates the named provider. The name is matched
// case-insensitively.
func New(name string, cfg *config.Config, log logr.Logger) (Provider, error) {
	ctor, ok := registry[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return nil, &UnknownProviderError{Name: name}
	}

	p, err := ctor(cfg, log)
	if err != nil {
		return nil, err
	}
	if err := p.ValidateConfig(); err != nil {
		return nil, err
	}
	return p, nil
}
