package security

import (
	"html"
	"reflect"
	"strings"
)

// SanitizeString trims s and escapes HTML special characters.
func SanitizeString(s string) string {
	return html.EscapeString(strings.TrimSpace(s))
}

// Sanitize escapes every settable string reachable from v, which must be a
// pointer. Structs, pointers, slices, arrays and maps are walked.
func Sanitize(v any) {
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Pointer || rv.IsNil() {
		return
	}
	sanitizeValue(rv.Elem())
}

func sanitizeValue(v reflect.Value) {
	switch v.Kind() {
	case reflect.String:
		if v.CanSet() {
			v.SetString(SanitizeString(v.String()))
		}
	case reflect.Pointer, reflect.Interface:
		if v.IsNil() {
			return
		}
		if v.Kind() == reflect.Interface {
			// interface values are not addressable; sanitize a copy and store it back
			inner := v.Elem()
			cp := reflect.New(inner.Type()).Elem()
			cp.Set(inner)
			sanitizeValue(cp)
			if v.CanSet() {
				v.Set(cp)
			}
			return
		}
		sanitizeValue(v.Elem())
	case reflect.Struct:
		for i := 0; i < v.NumField(); i++ {
			if v.Type().Field(i).IsExported() {
				sanitizeValue(v.Field(i))
			}
		}
	case reflect.Slice, reflect.Array:
		for i := 0; i < v.Len(); i++ {
			sanitizeValue(v.Index(i))
		}
	case reflect.Map:
		if v.IsNil() {
			return
		}
		iter := v.MapRange()
		for iter.Next() {
			val := iter.Value()
			cp := reflect.New(val.Type()).Elem()
			cp.Set(val)
			sanitizeValue(cp)
			v.SetMapIndex(iter.Key(), cp)
		}
	}
}
