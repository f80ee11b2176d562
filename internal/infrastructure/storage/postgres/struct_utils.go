package postgres

import (
	"reflect"
	"sync"
)

// columnCache maps a struct type to its ordered "db" columns and field index paths.
var columnCache sync.Map // map[reflect.Type]*columnSet

type columnSet struct {
	names []string
	paths [][]int
}

func columnsOf(t reflect.Type) *columnSet {
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	if cached, ok := columnCache.Load(t); ok {
		return cached.(*columnSet)
	}

	set := &columnSet{}
	collectColumns(t, nil, set)
	columnCache.Store(t, set)
	return set
}

func collectColumns(t reflect.Type, prefix []int, set *columnSet) {
	if t.Kind() != reflect.Struct {
		return
	}
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		path := append(append([]int(nil), prefix...), i)

		// Embedded structs are flattened.
		if field.Anonymous {
			collectColumns(field.Type, path, set)
			continue
		}

		tag := field.Tag.Get("db")
		if tag == "" || tag == "-" {
			continue
		}
		set.names = append(set.names, tag)
		set.paths = append(set.paths, path)
	}
}

// ExtractDBColumns returns the column names of T's "db" tags in field order.
// Embedded structs are flattened.
func ExtractDBColumns[T any]() []string {
	return columnsOf(reflect.TypeOf((*T)(nil)).Elem()).names
}

// StructValues returns v's "db"-tagged field values in ExtractDBColumns order,
// ready for a COPY row or an INSERT values list.
func StructValues(v any) []any {
	rv := reflect.Indirect(reflect.ValueOf(v))
	if rv.Kind() != reflect.Struct {
		return nil
	}
	set := columnsOf(rv.Type())
	out := make([]any, len(set.paths))
	for i, path := range set.paths {
		out[i] = rv.FieldByIndex(path).Interface()
	}
	return out
}

// StructToMap converts a struct to a column → value map using "db" tags.
func StructToMap(v any) map[string]any {
	rv := reflect.Indirect(reflect.ValueOf(v))
	if rv.Kind() != reflect.Struct {
		return nil
	}
	set := columnsOf(rv.Type())
	res := make(map[string]any, len(set.names))
	for i, path := range set.paths {
		res[set.names[i]] = rv.FieldByIndex(path).Interface()
	}
	return res
}
