package debugui

import (
	"reflect"
	"sync"
)

type FieldInfo struct {
	Name      string
	Type      reflect.Type
	Index     int
	IsPointer bool
	IsStruct  bool
	IsSlice   bool
	IsMap     bool
	// Editable fields are scalars the inspector can write back.
	Editable bool
}

// ReflectionCache remembers the exported fields of component types.
type ReflectionCache struct {
	mu         sync.RWMutex
	fieldCache map[reflect.Type][]FieldInfo
}

func NewReflectionCache() *ReflectionCache {
	return &ReflectionCache{
		fieldCache: make(map[reflect.Type][]FieldInfo),
	}
}

// GetFields returns the exported fields of t. Pointer types are resolved to
// their element type.
func (rc *ReflectionCache) GetFields(t reflect.Type) []FieldInfo {
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}

	rc.mu.RLock()
	cached, ok := rc.fieldCache[t]
	rc.mu.RUnlock()
	if ok {
		return cached
	}

	rc.mu.Lock()
	defer rc.mu.Unlock()

	if cached, ok := rc.fieldCache[t]; ok {
		return cached
	}

	var fields []FieldInfo
	if t.Kind() == reflect.Struct {
		for i := 0; i < t.NumField(); i++ {
			field := t.Field(i)
			if !field.IsExported() {
				continue
			}

			fieldType := field.Type
			isPointer := fieldType.Kind() == reflect.Pointer
			if isPointer {
				fieldType = fieldType.Elem()
			}

			fields = append(fields, FieldInfo{
				Name:      field.Name,
				Type:      fieldType,
				Index:     i,
				IsPointer: isPointer,
				IsStruct:  fieldType.Kind() == reflect.Struct,
				IsSlice:   fieldType.Kind() == reflect.Slice,
				IsMap:     fieldType.Kind() == reflect.Map,
				Editable:  editable(fieldType.Kind()),
			})
		}
	}

	rc.fieldCache[t] = fields
	return fields
}

func editable(k reflect.Kind) bool {
	switch k {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64, reflect.Bool, reflect.String:
		return true
	}
	return false
}

// SetField writes value into field index of the struct component points to.
// Numbers are converted to the field's kind; it reports whether the write
// happened.
func SetField(component any, index int, value any) bool {
	val := reflect.ValueOf(component)
	if val.Kind() != reflect.Pointer || val.IsNil() {
		return false
	}
	val = val.Elem()
	if val.Kind() != reflect.Struct || index < 0 || index >= val.NumField() {
		return false
	}

	field := val.Field(index)
	if !field.CanSet() {
		return false
	}
	if field.Kind() == reflect.Pointer {
		if field.IsNil() {
			return false
		}
		field = field.Elem()
	}

	in := reflect.ValueOf(value)
	switch field.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if !in.CanInt() {
			return false
		}
		if field.OverflowInt(in.Int()) {
			return false
		}
		field.SetInt(in.Int())
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		var u uint64
		switch {
		case in.CanUint():
			u = in.Uint()
		case in.CanInt() && in.Int() >= 0:
			u = uint64(in.Int())
		default:
			return false
		}
		if field.OverflowUint(u) {
			return false
		}
		field.SetUint(u)
	case reflect.Float32, reflect.Float64:
		if !in.CanFloat() {
			return false
		}
		field.SetFloat(in.Float())
	case reflect.Bool:
		if in.Kind() != reflect.Bool {
			return false
		}
		field.SetBool(in.Bool())
	case reflect.String:
		if in.Kind() != reflect.String {
			return false
		}
		field.SetString(in.String())
	default:
		return false
	}
	return true
}

var globalReflectionCache = NewReflectionCache()
