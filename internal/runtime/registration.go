package runtime

import (
	"fmt"
	"reflect"
	"sort"
	"sync"

	errspkg "github.com/drblury/chord/internal/runtime/errors"
)

// MethodEntry is the registry record for one (controller, method) pair. The
// same pointer is returned by every Resolve for the lifetime of the Registry.
type MethodEntry struct {
	Controller  string
	Method      string
	Inject      []InjectionDeclaration
	Middlewares []Middleware
	Stats       *MethodStats

	definition *ControllerDefinition
	shape      handlerShape
}

// Name returns the qualified "Controller.method" form.
func (e *MethodEntry) Name() string {
	return e.Controller + "." + e.Method
}

// ParamTypes lists the positional argument types accepted by the handler.
func (e *MethodEntry) ParamTypes() []reflect.Type {
	out := make([]reflect.Type, len(e.shape.params))
	copy(out, e.shape.params)
	return out
}

// MethodInfo is the introspection view of a registered method.
type MethodInfo struct {
	Controller string       `json:"controller"`
	Method     string       `json:"method"`
	Params     []string     `json:"params"`
	Inject     []string     `json:"inject,omitempty"`
	Stats      *MethodStats `json:"stats"`
}

// Registry maps (controller, method) pairs to MethodEntry records. Lookups run
// under a read lock; registration takes the write lock.
type Registry struct {
	mu          sync.RWMutex
	controllers map[string]*ControllerDefinition
	entries     map[string]map[string]*MethodEntry
	sampler     *processSampler
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		controllers: make(map[string]*ControllerDefinition),
		entries:     make(map[string]map[string]*MethodEntry),
		sampler:     newProcessSampler(defaultSampleInterval),
	}
}

// Register validates every definition before committing any of them, so a
// ConfigurationError leaves the registry unchanged.
func (r *Registry) Register(defs ...ControllerDefinition) error {
	staged := make(map[string]map[string]*MethodEntry, len(defs))
	stagedDefs := make(map[string]*ControllerDefinition, len(defs))

	for i := range defs {
		def := defs[i]
		if err := def.validate(); err != nil {
			return err
		}
		if _, dup := stagedDefs[def.Name]; dup {
			return errspkg.Configuration("controller %s registered twice", def.Name)
		}

		methods, err := r.buildEntries(&def)
		if err != nil {
			return err
		}
		stagedDefs[def.Name] = &def
		staged[def.Name] = methods
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for name := range stagedDefs {
		if _, exists := r.controllers[name]; exists {
			return errspkg.Configuration("controller %s registered twice", name)
		}
	}
	for name, def := range stagedDefs {
		r.controllers[name] = def
		r.entries[name] = staged[name]
	}
	return nil
}

func (r *Registry) buildEntries(def *ControllerDefinition) (map[string]*MethodEntry, error) {
	methods := make(map[string]*MethodEntry, len(def.Methods))
	for _, m := range def.Methods {
		if m.Name == "" {
			err := errspkg.Configuration("controller %s declares a method without a name", def.Name)
			err.Cause = errspkg.ErrMethodNameRequired
			return nil, err
		}
		if _, dup := methods[m.Name]; dup {
			return nil, errspkg.Configuration("method %s.%s registered twice", def.Name, m.Name)
		}
		for i, mw := range m.Middlewares {
			if mw == nil {
				return nil, errspkg.Configuration("method %s.%s has nil middleware at position %d", def.Name, m.Name, i)
			}
		}
		shape, err := inspectHandler(def.instanceType, m.Handler)
		if err != nil {
			cfgErr := errspkg.Configuration("method %s.%s: %v", def.Name, m.Name, err)
			cfgErr.Cause = err
			return nil, cfgErr
		}

		qualified := def.Name + "." + m.Name
		methods[m.Name] = &MethodEntry{
			Controller:  def.Name,
			Method:      m.Name,
			Inject:      append([]InjectionDeclaration(nil), def.Inject...),
			Middlewares: append([]Middleware(nil), m.Middlewares...),
			Stats:       newMethodStats(qualified, r.sampler),
			definition:  def,
			shape:       shape,
		}
	}
	return methods, nil
}

// Resolve looks up a registered method.
func (r *Registry) Resolve(controller, method string) (*MethodEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if entry, ok := r.entries[controller][method]; ok {
		return entry, nil
	}
	return nil, errspkg.NotFound(controller, method)
}

// Entries returns every registered method sorted by qualified name.
func (r *Registry) Entries() []*MethodEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*MethodEntry
	for _, methods := range r.entries {
		for _, entry := range methods {
			out = append(out, entry)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

// Methods returns the introspection view of every registered method.
func (r *Registry) Methods() []MethodInfo {
	entries := r.Entries()
	infos := make([]MethodInfo, 0, len(entries))
	for _, e := range entries {
		info := MethodInfo{
			Controller: e.Controller,
			Method:     e.Method,
			Params:     make([]string, 0, len(e.shape.params)),
			Stats:      e.Stats,
		}
		for _, p := range e.shape.params {
			info.Params = append(info.Params, p.String())
		}
		for _, decl := range e.Inject {
			info.Inject = append(info.Inject, fmt.Sprintf("%s<-%s", decl.Field, decl.Token))
		}
		infos = append(infos, info)
	}
	return infos
}
