package registry

import (
	"fmt"
	"log/slog"
	"reflect"
	"sort"

	"github.com/modelyard/modelyard/internal/config"
	"github.com/modelyard/modelyard/internal/step"
)

// Module is implemented by every built-in step package. A module
// contributes the manifest source declaring its step type and
// registers the handler that backs it.
type Module interface {
	// Manifest returns the embedded step type manifest for this module.
	Manifest() config.Source

	// Register adds the module's handlers to the registry.
	Register(r *Registry)
}

// Handler pairs a step function with the constructor for its input
// struct. NewInput must return a pointer to a fresh struct whose
// yard-tagged fields mirror the params declared in the manifest.
type Handler struct {
	NewInput func() any
	Fn       step.Func
}

// InputType reports the concrete struct type produced by NewInput,
// or nil when the handler takes no input.
func (h *Handler) InputType() reflect.Type {
	if h.NewInput == nil {
		return nil
	}
	t := reflect.TypeOf(h.NewInput())
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return t
}

// Registry is the central lookup for step type definitions and their
// handlers. Definitions come from manifests, handlers from Go modules;
// Validate checks that the two agree.
type Registry struct {
	Handlers    map[string]*Handler
	Definitions map[string]*config.StepType
}

func New() *Registry {
	return &Registry{
		Handlers:    make(map[string]*Handler),
		Definitions: make(map[string]*config.StepType),
	}
}

// RegisterHandler adds a named handler. Registering the same name twice
// is a programmer error and panics.
func (r *Registry) RegisterHandler(name string, h *Handler) {
	if _, exists := r.Handlers[name]; exists {
		panic(fmt.Sprintf("handler with name '%s' already registered", name))
	}
	slog.Debug("Registering step handler.", "name", name)
	r.Handlers[name] = h
}

// AddDefinitions merges translated step type definitions into the
// registry, rejecting duplicates across manifest sources.
func (r *Registry) AddDefinitions(defs map[string]*config.StepType) error {
	for name, def := range defs {
		if _, exists := r.Definitions[name]; exists {
			return fmt.Errorf("step type %q defined more than once", name)
		}
		r.Definitions[name] = def
	}
	return nil
}

// Definition returns the step type definition for name.
func (r *Registry) Definition(name string) (*config.StepType, bool) {
	def, ok := r.Definitions[name]
	return def, ok
}

// Handler returns the registered handler for a step type name.
func (r *Registry) Handler(name string) (*Handler, bool) {
	h, ok := r.Handlers[name]
	return h, ok
}

// TypeNames lists all known step type names in sorted order.
func (r *Registry) TypeNames() []string {
	names := make([]string, 0, len(r.Definitions))
	for name := range r.Definitions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
