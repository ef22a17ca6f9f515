package action

import (
	"fmt"
	"log/slog"

	xerrors "OpenMCP-WalletKit/internal/errors"
	"OpenMCP-WalletKit/pkg/logger"
)

// Source is a capability provider contributing action definitions.
type Source interface {
	Name() string
	Actions() []Definition
}

type staticSource struct {
	name string
	defs []Definition
}

// NewSource wraps a fixed list of definitions as a Source.
func NewSource(name string, defs ...Definition) Source {
	return &staticSource{name: name, defs: append([]Definition(nil), defs...)}
}

func (s *staticSource) Name() string { return s.name }

func (s *staticSource) Actions() []Definition {
	return append([]Definition(nil), s.defs...)
}

// Registry is the ordered, name-unique set of actions from all sources. It
// is immutable after NewRegistry and safe for concurrent use.
type Registry struct {
	defs    []Definition
	origins []string
	index   map[string]int
}

// NewRegistry flattens sources in order. A name contributed twice fails
// with DUPLICATE_ACTION and nothing is registered.
func NewRegistry(sources ...Source) (*Registry, error) {
	r := &Registry{index: make(map[string]int)}
	for i, src := range sources {
		if src == nil {
			return nil, xerrors.New(CodeInvalidDefinition, fmt.Sprintf("action source %d is nil", i))
		}
		for _, def := range src.Actions() {
			if err := def.Check(); err != nil {
				return nil, xerrors.Wrap(xerrors.CodeOf(err), err,
					fmt.Sprintf("source %q contributed an invalid action", src.Name()),
					xerrors.WithMetadata("source", src.Name()))
			}
			if at, ok := r.index[def.Name]; ok {
				return nil, xerrors.New(CodeDuplicateAction,
					fmt.Sprintf("action %q is provided by both %q and %q", def.Name, r.origins[at], src.Name()),
					xerrors.WithMetadata("action", def.Name),
					xerrors.WithMetadata("first_source", r.origins[at]),
					xerrors.WithMetadata("second_source", src.Name()),
				)
			}
			r.index[def.Name] = len(r.defs)
			r.defs = append(r.defs, def)
			r.origins = append(r.origins, src.Name())
		}
	}
	logger.Component("action").Debug("动作注册完成", slog.Int("actions", len(r.defs)), slog.Int("sources", len(sources)))
	return r, nil
}

// Lookup finds an action by exact name.
func (r *Registry) Lookup(name string) (Definition, bool) {
	if r == nil {
		return Definition{}, false
	}
	at, ok := r.index[name]
	if !ok {
		return Definition{}, false
	}
	return r.defs[at], true
}

// Get is Lookup returning ACTION_NOT_FOUND on a miss.
func (r *Registry) Get(name string) (Definition, error) {
	def, ok := r.Lookup(name)
	if !ok {
		return Definition{}, xerrors.New(CodeActionNotFound, fmt.Sprintf("action %q is not available", name),
			xerrors.WithMetadata("action", name))
	}
	return def, nil
}

// List returns the definitions in registration order.
func (r *Registry) List() []Definition {
	if r == nil {
		return nil
	}
	return append([]Definition(nil), r.defs...)
}

// Names returns action names in registration order.
func (r *Registry) Names() []string {
	if r == nil {
		return nil
	}
	names := make([]string, len(r.defs))
	for i, def := range r.defs {
		names[i] = def.Name
	}
	return names
}

// SourceOf returns the name of the source that contributed an action.
func (r *Registry) SourceOf(name string) string {
	if r == nil {
		return ""
	}
	if at, ok := r.index[name]; ok {
		return r.origins[at]
	}
	return ""
}

// Len returns the number of registered actions.
func (r *Registry) Len() int {
	if r == nil {
		return 0
	}
	return len(r.defs)
}
