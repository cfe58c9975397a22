package marshal

import (
	"reflect"
	"sync"
	"time"
)

type TypeResolver interface {
	ResolveType(name string) (reflect.Type, bool)
}

// Registry maps canonical type names to types. It is safe for concurrent use.
type Registry struct {
	mutex  sync.RWMutex
	byName map[string]reflect.Type
}

func NewRegistry() *Registry {
	return &Registry{
		mutex:  sync.RWMutex{},
		byName: make(map[string]reflect.Type),
	}
}

// DefaultRegistry is consulted after any caller supplied resolver.
var DefaultRegistry = func() *Registry {
	r := NewRegistry()
	for _, v := range []any{
		"", false,
		int(0), int8(0), int16(0), int32(0), int64(0),
		uint(0), uint8(0), uint16(0), uint32(0), uint64(0),
		float32(0), float64(0),
		time.Time{}, time.Duration(0),
	} {
		r.Register(v)
	}
	return r
}()

func Register(v any) {
	DefaultRegistry.Register(v)
}

// Register records the type of v, dereferencing pointers. Unnamed types are ignored.
func (r *Registry) Register(v any) {
	t := reflect.TypeOf(v)
	if t == nil {
		return
	}
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	name := TypeName(t)
	if name == "" {
		return
	}

	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.byName[name] = t
}

func (r *Registry) ResolveType(name string) (reflect.Type, bool) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	t, found := r.byName[name]
	return t, found
}

// TypeName is the canonical name of a named type, empty for unnamed types.
func TypeName(t reflect.Type) string {
	if t == nil || t.Name() == "" {
		return ""
	}
	if t.PkgPath() == "" {
		return t.Name()
	}
	return t.PkgPath() + "." + t.Name()
}

func resolve(resolver TypeResolver, name string) (reflect.Type, bool) {
	if resolver != nil {
		t, found := resolver.ResolveType(name)
		if found {
			return t, true
		}
	}
	return DefaultRegistry.ResolveType(name)
}
