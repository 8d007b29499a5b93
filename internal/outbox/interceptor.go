package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"reflect"
	"strings"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"example.com/outbox/internal/observability"
)

var tracer = otel.Tracer("example.com/outbox/internal/outbox")

const (
	// OpInsert and OpUpdate name the write operations the interceptor hooks.
	OpInsert = "INSERT"
	OpUpdate = "UPDATE"
)

// Interceptor materializes outbox records for tracked aggregates inside the
// host's write path. It never recurses: Record itself is not a registrable
// aggregate, so persisting the outbox row cannot re-trigger capture.
type Interceptor struct {
	registry *Registry
	idCache  sync.Map // reflect.Type -> idExtractor
}

// NewInterceptor constructs an Interceptor over the given registry.
func NewInterceptor(registry *Registry) *Interceptor {
	return &Interceptor{registry: registry}
}

// OnInsert captures a pre-insert of entity. Untracked types are a no-op.
func (i *Interceptor) OnInsert(ctx context.Context, enl Enlister, entity any) error {
	return i.capture(ctx, enl, entity, nil, OpInsert)
}

// OnUpdate captures a pre-update of entity. oldState is the shadow copy of
// the aggregate as loaded; it drives changed-field extraction when the
// aggregate's metadata enables diff tracking.
func (i *Interceptor) OnUpdate(ctx context.Context, enl Enlister, oldState, entity any) error {
	return i.capture(ctx, enl, entity, oldState, OpUpdate)
}

func (i *Interceptor) capture(ctx context.Context, enl Enlister, entity, oldState any, op string) error {
	meta := i.registry.Lookup(entity)
	if meta == nil {
		return nil
	}

	ctx, span := tracer.Start(ctx, "outbox.create_message")
	defer span.End()
	span.SetAttributes(
		attribute.String("entity.type", meta.EntityType),
		attribute.String("operation", op),
	)

	rec, err := i.buildRecord(entity, oldState, meta, op)
	if err == nil {
		err = enl.Enlist(ctx, rec)
	}
	if err != nil {
		log.Printf("outbox: failed to create %s record for %s: %v", op, meta.EntityType, err)
		observability.RecordCreationFailure(meta.EntityType)
		return &CreationError{EntityType: meta.EntityType, Op: op, Err: err}
	}

	observability.RecordCreated(meta.EntityType, rec.EventType)
	return nil
}

func (i *Interceptor) buildRecord(entity, oldState any, meta *Metadata, op string) (*Record, error) {
	aggregateID, err := i.extractID(entity, meta)
	if err != nil {
		return nil, err
	}

	payload, err := marshalPayload(entity, meta)
	if err != nil {
		return nil, err
	}

	var changedFields []byte
	if op == OpUpdate && meta.IncludeChangedFields() && oldState != nil {
		diff, err := diffFields(oldState, entity)
		if err != nil {
			return nil, err
		}
		// An empty diff still produces a record; the update happened and
		// consumers decide relevance.
		changedFields, err = json.Marshal(diff)
		if err != nil {
			return nil, err
		}
	}

	return NewRecord(aggregateID, meta.AggregateTypeName(), meta.EventTypeFor(op), payload, changedFields, meta.MaxRetries()), nil
}

func marshalPayload(entity any, meta *Metadata) ([]byte, error) {
	var value any = entity
	if fn := meta.opts.Payload; fn != nil {
		value = fn(entity)
	} else if provider, ok := entity.(PayloadProvider); ok {
		value = provider.OutboxPayload()
	}

	payload, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("serializing payload: %w", err)
	}
	return payload, nil
}

// FieldChange is one entry of the changed-field diff.
type FieldChange struct {
	OldValue any `json:"oldValue"`
	NewValue any `json:"newValue"`
}

// diffFields pairwise-compares exported struct fields of the old and new
// aggregate state by value equality and returns the mutated ones.
func diffFields(oldState, newState any) (map[string]FieldChange, error) {
	oldVal := reflect.Indirect(reflect.ValueOf(oldState))
	newVal := reflect.Indirect(reflect.ValueOf(newState))

	if oldVal.Kind() != reflect.Struct || newVal.Kind() != reflect.Struct {
		return nil, fmt.Errorf("diffing requires struct aggregates, got %s and %s", oldVal.Kind(), newVal.Kind())
	}
	if oldVal.Type() != newVal.Type() {
		return nil, fmt.Errorf("diffing mismatched types %s and %s", oldVal.Type(), newVal.Type())
	}

	changes := make(map[string]FieldChange)
	t := oldVal.Type()
	for idx := 0; idx < t.NumField(); idx++ {
		field := t.Field(idx)
		if !field.IsExported() {
			continue
		}
		name := jsonFieldName(field)
		if name == "" {
			continue
		}
		before := oldVal.Field(idx).Interface()
		after := newVal.Field(idx).Interface()
		if !reflect.DeepEqual(before, after) {
			changes[name] = FieldChange{OldValue: before, NewValue: after}
		}
	}
	return changes, nil
}

func jsonFieldName(field reflect.StructField) string {
	tag := field.Tag.Get("json")
	if tag == "-" {
		return ""
	}
	if name, _, _ := strings.Cut(tag, ","); name != "" {
		return name
	}
	return field.Name
}
