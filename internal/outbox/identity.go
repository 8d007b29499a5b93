package outbox

import (
	"fmt"
	"reflect"
)

var (
	idMethodNames = []string{"GetID", "GetEntityID", "GetPrimaryKey", "ID"}
	idFieldNames  = []string{"ID", "EntityID", "PrimaryKey", "Id"}
)

type idExtractor func(entity any) (string, error)

// extractID resolves the aggregate identifier: a registered extractor first,
// then conventional accessor methods, then conventional fields. Resolution is
// cached per type.
func (i *Interceptor) extractID(entity any, meta *Metadata) (string, error) {
	if fn := meta.opts.AggregateID; fn != nil {
		return fn(entity)
	}

	t := reflect.TypeOf(entity)
	if cached, ok := i.idCache.Load(t); ok {
		return cached.(idExtractor)(entity)
	}

	extractor := buildIDExtractor(t)
	i.idCache.Store(t, extractor)
	return extractor(entity)
}

func buildIDExtractor(t reflect.Type) idExtractor {
	for _, name := range idMethodNames {
		method, ok := t.MethodByName(name)
		if !ok {
			continue
		}
		// Receiver only, single return value.
		if method.Type.NumIn() != 1 || method.Type.NumOut() != 1 {
			continue
		}
		idx := method.Index
		return func(entity any) (string, error) {
			out := reflect.ValueOf(entity).Method(idx).Call(nil)
			return stringifyID(out[0])
		}
	}

	structType := t
	for structType.Kind() == reflect.Pointer {
		structType = structType.Elem()
	}
	if structType.Kind() == reflect.Struct {
		for _, name := range idFieldNames {
			field, ok := structType.FieldByName(name)
			if !ok || !field.IsExported() {
				continue
			}
			index := field.Index
			return func(entity any) (string, error) {
				v := reflect.Indirect(reflect.ValueOf(entity))
				return stringifyID(v.FieldByIndex(index))
			}
		}
	}

	return func(any) (string, error) {
		return "", fmt.Errorf("no aggregate ID accessor on %s", t)
	}
}

func stringifyID(v reflect.Value) (string, error) {
	for v.Kind() == reflect.Pointer || v.Kind() == reflect.Interface {
		if v.IsNil() {
			return "", fmt.Errorf("aggregate ID is nil")
		}
		v = v.Elem()
	}
	if v.IsZero() {
		return "", fmt.Errorf("aggregate ID is unset")
	}
	id := fmt.Sprint(v.Interface())
	if id == "" {
		return "", fmt.Errorf("aggregate ID is empty")
	}
	return id, nil
}
