package outbox

import (
	"reflect"
	"strings"
	"sync"
)

// PayloadProvider lets an aggregate supply a custom projection for the outbox
// payload instead of having the whole struct serialized.
type PayloadProvider interface {
	OutboxPayload() any
}

// Options configures outbox tracking for one aggregate type. Zero values mean
// "derive": the aggregate type defaults to the Go type name and the event type
// to UPPERCASE(type) + "_" + operation.
type Options struct {
	AggregateType        string
	EventType            string
	IncludeChangedFields bool
	MaxRetries           int
	// Payload overrides projection discovery. When nil the registry uses the
	// aggregate's PayloadProvider implementation, falling back to serializing
	// the aggregate itself.
	Payload func(entity any) any
	// AggregateID overrides reflective ID extraction.
	AggregateID func(entity any) (string, error)
}

// Metadata is the resolved tracking configuration for one aggregate type.
type Metadata struct {
	EntityType string // Go type name, used for metric labels
	opts       Options
}

// AggregateTypeName returns the configured aggregate type or the type name.
func (m *Metadata) AggregateTypeName() string {
	if m.opts.AggregateType != "" {
		return m.opts.AggregateType
	}
	return m.EntityType
}

// EventTypeFor returns the configured event type, or derives one such as
// USER_INSERT for operation "INSERT".
func (m *Metadata) EventTypeFor(operation string) string {
	if m.opts.EventType != "" {
		return m.opts.EventType
	}
	return strings.ToUpper(m.EntityType) + "_" + operation
}

// IncludeChangedFields reports whether updates carry field-level diffs.
func (m *Metadata) IncludeChangedFields() bool { return m.opts.IncludeChangedFields }

// MaxRetries returns the per-aggregate retry budget.
func (m *Metadata) MaxRetries() int {
	if m.opts.MaxRetries > 0 {
		return m.opts.MaxRetries
	}
	return DefaultMaxRetries
}

// Registry records which aggregate types are outbox-tracked. Lookups are
// lock-free sync.Map reads on the hot path; registration happens at startup.
type Registry struct {
	types sync.Map // reflect.Type -> *Metadata
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry { return &Registry{} }

// Register marks the given aggregate's type as tracked. The entity argument
// is used only for its type; pass a zero value or a pointer to one.
func (r *Registry) Register(entity any, opts Options) {
	t := baseType(entity)
	r.types.Store(t, &Metadata{EntityType: t.Name(), opts: opts})
}

// Lookup returns tracking metadata for the entity's type, or nil when the
// type is untracked.
func (r *Registry) Lookup(entity any) *Metadata {
	if entity == nil {
		return nil
	}
	v, ok := r.types.Load(baseType(entity))
	if !ok {
		return nil
	}
	return v.(*Metadata)
}

func baseType(entity any) reflect.Type {
	t := reflect.TypeOf(entity)
	for t != nil && t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return t
}
