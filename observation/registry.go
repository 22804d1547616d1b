package observation

import (
	"fmt"
	"reflect"
	"sync"

	"github.com/hupe1980/obsmesh/internal/util"
)

// Spec registers one kind: its tag, description and payload shape.
//
// New must return a pointer to a zero payload value of the kind's shape; it is
// used both as the decode target and as the type identity checked by Classify.
// Failed builds a well-formed payload reporting an action failure.
type Spec struct {
	Kind        Kind
	Description string
	New         func() Payload
	Failed      func(f Failure) Payload
}

// payloadType returns the non-pointer type of the spec's payload shape.
func (s Spec) payloadType() reflect.Type {
	t := reflect.TypeOf(s.New())
	for t != nil && t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t
}

// Registry maps tags to payload shapes. Safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	specs   map[Kind]Spec
	order   []Kind
	retired map[Kind]struct{}
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{specs: make(map[Kind]Spec), retired: make(map[Kind]struct{})}
}

// NewDefaultRegistry returns a registry holding the five built-in kinds.
func NewDefaultRegistry() *Registry {
	r := NewRegistry()
	for _, spec := range builtinSpecs() {
		if err := r.Register(spec); err != nil {
			panic(err) // unreachable: built-in specs are distinct and well-formed
		}
	}
	return r
}

var defaultRegistry = NewDefaultRegistry()

// DefaultRegistry returns the process-wide registry used by the package-level
// helpers (Classify, Fail, Describe, Serialize).
func DefaultRegistry() *Registry { return defaultRegistry }

func builtinSpecs() []Spec {
	return []Spec{
		{
			Kind:        KindRead,
			Description: "The content of a file",
			New:         func() Payload { return &ReadPayload{} },
			Failed:      func(f Failure) Payload { return ReadPayload{Failure: &f} },
		},
		{
			Kind:        KindBrowse,
			Description: "The HTML content of a URL",
			New:         func() Payload { return &BrowsePayload{} },
			Failed:      func(f Failure) Payload { return BrowsePayload{Failure: &f} },
		},
		{
			Kind:        KindRun,
			Description: "The output of a command",
			New:         func() Payload { return &RunPayload{} },
			Failed:      func(f Failure) Payload { return RunPayload{ExitCode: ExitCode(-1), Failure: &f} },
		},
		{
			Kind:        KindRecall,
			Description: "The result of a search",
			New:         func() Payload { return &RecallPayload{} },
			Failed:      func(f Failure) Payload { return RecallPayload{Results: []RecallResult{}, Failure: &f} },
		},
		{
			Kind:        KindChat,
			Description: "A message from the user",
			New:         func() Payload { return &ChatPayload{} },
			Failed:      func(f Failure) Payload { return ChatPayload{Failure: &f} },
		},
	}
}

// Register adds a new kind. Tags are non-empty lowercase identifiers; a tag
// that is live or was ever retired cannot be registered.
func (r *Registry) Register(spec Spec) error {
	if err := validateSpec(spec); err != nil {
		return newError("register", spec.Kind, ErrInvalidPayload, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, retired := r.retired[spec.Kind]; retired {
		return newError("register", spec.Kind, ErrKindRetired, nil)
	}
	if _, exists := r.specs[spec.Kind]; exists {
		return newError("register", spec.Kind, ErrKindRegistered, nil)
	}

	r.specs[spec.Kind] = spec
	r.order = append(r.order, spec.Kind)
	return nil
}

func validateSpec(spec Spec) error {
	if spec.Kind == "" {
		return fieldError("kind", "required")
	}
	for _, c := range string(spec.Kind) {
		if (c < 'a' || c > 'z') && (c < '0' || c > '9') && c != '_' {
			return fieldError("kind", "must be lowercase [a-z0-9_]")
		}
	}
	if spec.New == nil {
		return fieldError("new", "payload constructor required")
	}
	if spec.Failed == nil {
		return fieldError("failed", "failure constructor required")
	}
	if p := spec.New(); p == nil || reflect.TypeOf(p).Kind() != reflect.Ptr {
		return fieldError("new", "must return a pointer to the payload value")
	}
	return nil
}

// Retire removes a kind permanently. Its tag can never be registered again.
func (r *Registry) Retire(kind Kind) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.specs[kind]; !exists {
		return newError("retire", kind, ErrUnknownKind, nil)
	}
	delete(r.specs, kind)
	r.retired[kind] = struct{}{}
	for i, k := range r.order {
		if k == kind {
			r.order = append(r.order[:i:i], r.order[i+1:]...)
			break
		}
	}
	return nil
}

// Lookup returns the spec registered for kind.
func (r *Registry) Lookup(kind Kind) (Spec, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	spec, ok := r.specs[kind]
	return spec, ok
}

// Kinds returns the live kinds in registration order.
func (r *Registry) Kinds() []Kind {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Kind, len(r.order))
	copy(out, r.order)
	return out
}

// Describe returns the documented one-line description of kind.
func (r *Registry) Describe(kind Kind) (string, error) {
	spec, ok := r.Lookup(kind)
	if !ok {
		return "", newError("describe", kind, ErrUnknownKind, nil)
	}
	return spec.Description, nil
}

// Schema returns a JSON schema of the payload fields registered for kind.
func (r *Registry) Schema(kind Kind) (map[string]any, error) {
	spec, ok := r.Lookup(kind)
	if !ok {
		return nil, newError("schema", kind, ErrUnknownKind, nil)
	}
	schema := util.CreateSchema(spec.New())
	schema["title"] = string(kind)
	schema["description"] = spec.Description
	return schema, nil
}

// String lists the live kinds, mainly for diagnostics.
func (r *Registry) String() string {
	return fmt.Sprintf("observation.Registry%v", r.Kinds())
}
