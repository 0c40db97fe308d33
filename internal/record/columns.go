// Derives the canonical tabular columns from the Record JSON schema.

package record

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/invopop/jsonschema"
)

var canonical, fieldIndex = mustColumns()

// Columns returns the canonical column names in serialization order.
func Columns() []string {
	return append([]string(nil), canonical...)
}

// Schema returns the JSON schema describing a Record.
func Schema() *jsonschema.Schema {
	r := jsonschema.Reflector{DoNotReference: true}
	return r.Reflect(&Record{})
}

func mustColumns() ([]string, map[string]int) {
	names, idx, err := columnsOf(reflect.TypeFor[Record]())
	if err != nil {
		panic(err)
	}
	return names, idx
}

// columnsOf lists the JSON property names of a flat struct of strings in
// declaration order, with the index of the struct field backing each one.
func columnsOf(t reflect.Type) ([]string, map[string]int, error) {
	if t.Kind() != reflect.Struct {
		return nil, nil, fmt.Errorf("type must be a struct, got %s", t.Kind())
	}
	r := jsonschema.Reflector{Anonymous: true, DoNotReference: true}
	schema := r.ReflectFromType(t)

	byName := make(map[string]int, t.NumField())
	for i := range t.NumField() {
		f := t.Field(i)
		if f.Type.Kind() != reflect.String {
			return nil, nil, fmt.Errorf("field %s must be a string, got %s", f.Name, f.Type)
		}
		byName[jsonFieldName(&f)] = i
	}

	var names []string
	for pair := schema.Properties.Oldest(); pair != nil; pair = pair.Next() {
		if _, ok := byName[pair.Key]; !ok {
			return nil, nil, fmt.Errorf("property %q has no backing field", pair.Key)
		}
		names = append(names, pair.Key)
	}
	return names, byName, nil
}

func jsonFieldName(f *reflect.StructField) string {
	tag := f.Tag.Get("json")
	if tag == "" || tag == "-" {
		return f.Name
	}
	if name, _, _ := strings.Cut(tag, ","); name != "" {
		return name
	}
	return f.Name
}

func (r *Record) get(column string) string {
	return reflect.ValueOf(r).Elem().Field(fieldIndex[column]).String()
}

func (r *Record) set(column, value string) {
	reflect.ValueOf(r).Elem().Field(fieldIndex[column]).SetString(value)
}
