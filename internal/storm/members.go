package storm

import (
	"reflect"
	"strconv"
	"strings"
	"sync"
)

// Attributes is what a resolver could learn about a placed object.
type Attributes struct {
	Radius     float64
	HasRadius  bool
	Powered    bool
	HasPowered bool
}

// AttributeResolver discovers the effective radius and power state of a
// radiator's runtime object.
type AttributeResolver interface {
	Resolve(obj any) Attributes
}

// RadiusReporter is implemented by objects that know their protective radius.
type RadiusReporter interface {
	EffectiveRadius() float64
}

// PowerReporter is implemented by objects that know whether they are powered.
type PowerReporter interface {
	Powered() bool
}

// ResolverChain asks each resolver in order; the first one to report an
// attribute wins it.
type ResolverChain []AttributeResolver

// DefaultResolver returns the standard priority order: explicit interfaces
// first, then reflective member-name probing.
func DefaultResolver() ResolverChain {
	return ResolverChain{InterfaceResolver{}, NewMemberResolver()}
}

// Resolve implements AttributeResolver.
func (c ResolverChain) Resolve(obj any) Attributes {
	var out Attributes
	for _, r := range c {
		if out.HasRadius && out.HasPowered {
			break
		}
		got := r.Resolve(obj)
		if !out.HasRadius && got.HasRadius {
			out.Radius, out.HasRadius = got.Radius, true
		}
		if !out.HasPowered && got.HasPowered {
			out.Powered, out.HasPowered = got.Powered, true
		}
	}
	return out
}

// InterfaceResolver reads attributes through RadiusReporter and PowerReporter.
type InterfaceResolver struct{}

// Resolve implements AttributeResolver.
func (InterfaceResolver) Resolve(obj any) Attributes {
	var out Attributes
	if r, ok := obj.(RadiusReporter); ok {
		out.Radius, out.HasRadius = r.EffectiveRadius(), true
	}
	if p, ok := obj.(PowerReporter); ok {
		out.Powered, out.HasPowered = p.Powered(), true
	}
	return out
}

// MemberResolver discovers attributes by member name: the first field or
// zero-argument method whose lower-cased name contains "radius" supplies the
// radius, and the first containing "powered", "active" or "enabled" supplies
// the power state. Fields are searched before methods. Lookups are cached
// per runtime type.
type MemberResolver struct {
	mu    sync.Mutex
	cache map[reflect.Type]*memberAccessors
}

type memberAccessor func(v reflect.Value) (reflect.Value, bool)

type memberAccessors struct {
	radius memberAccessor
	active memberAccessor
}

func (a *memberAccessors) complete() bool {
	return a.radius != nil && a.active != nil
}

// NewMemberResolver creates an empty resolver.
func NewMemberResolver() *MemberResolver {
	return &MemberResolver{cache: make(map[reflect.Type]*memberAccessors)}
}

// Resolve implements AttributeResolver.
func (p *MemberResolver) Resolve(obj any) Attributes {
	var out Attributes
	if obj == nil {
		return out
	}
	v := reflect.ValueOf(obj)
	acc := p.accessors(v.Type())

	if acc.radius != nil {
		if raw, ok := acc.radius(v); ok {
			if r, ok := toFloat(raw); ok {
				out.Radius, out.HasRadius = r, true
			}
		}
	}
	if acc.active != nil {
		if raw, ok := acc.active(v); ok {
			out.Powered, out.HasPowered = toBool(raw, true), true
		}
	}
	return out
}

func (p *MemberResolver) accessors(t reflect.Type) *memberAccessors {
	p.mu.Lock()
	defer p.mu.Unlock()
	if acc, ok := p.cache[t]; ok {
		return acc
	}
	acc := buildAccessors(t)
	p.cache[t] = acc
	return acc
}

func isRadiusName(name string) bool {
	return strings.Contains(strings.ToLower(name), "radius")
}

func isActiveName(name string) bool {
	lower := strings.ToLower(name)
	return strings.Contains(lower, "powered") ||
		strings.Contains(lower, "active") ||
		strings.Contains(lower, "enabled")
}

func buildAccessors(t reflect.Type) *memberAccessors {
	acc := &memberAccessors{}

	st := t
	for st.Kind() == reflect.Pointer {
		st = st.Elem()
	}
	if st.Kind() == reflect.Struct {
		for i := 0; i < st.NumField(); i++ {
			field := st.Field(i)
			idx := field.Index
			get := func(v reflect.Value) (reflect.Value, bool) {
				v = indirect(v)
				if !v.IsValid() {
					return reflect.Value{}, false
				}
				return v.FieldByIndex(idx), true
			}
			if acc.radius == nil && isRadiusName(field.Name) {
				acc.radius = get
			}
			if acc.active == nil && isActiveName(field.Name) {
				acc.active = get
			}
			if acc.complete() {
				return acc
			}
		}
	}

	for i := 0; i < t.NumMethod(); i++ {
		method := t.Method(i)
		// Receiver counts as the first input.
		if method.Type.NumIn() != 1 || method.Type.NumOut() != 1 {
			continue
		}
		idx := method.Index
		call := func(v reflect.Value) (reflect.Value, bool) {
			if v.Kind() == reflect.Pointer && v.IsNil() {
				return reflect.Value{}, false
			}
			return v.Method(idx).Call(nil)[0], true
		}
		if acc.radius == nil && isRadiusName(method.Name) {
			acc.radius = call
		}
		if acc.active == nil && isActiveName(method.Name) {
			acc.active = call
		}
		if acc.complete() {
			break
		}
	}
	return acc
}

func indirect(v reflect.Value) reflect.Value {
	for v.Kind() == reflect.Pointer || v.Kind() == reflect.Interface {
		if v.IsNil() {
			return reflect.Value{}
		}
		v = v.Elem()
	}
	return v
}

func toFloat(v reflect.Value) (float64, bool) {
	v = indirect(v)
	if !v.IsValid() {
		return 0, false
	}
	switch v.Kind() {
	case reflect.Float32, reflect.Float64:
		return v.Float(), true
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(v.Int()), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return float64(v.Uint()), true
	case reflect.String:
		f, err := strconv.ParseFloat(strings.TrimSpace(v.String()), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func toBool(v reflect.Value, fallback bool) bool {
	v = indirect(v)
	if !v.IsValid() {
		return fallback
	}
	switch v.Kind() {
	case reflect.Bool:
		return v.Bool()
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return v.Int() != 0
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return v.Uint() != 0
	case reflect.String:
		b, err := strconv.ParseBool(strings.TrimSpace(v.String()))
		if err != nil {
			return fallback
		}
		return b
	default:
		return fallback
	}
}
