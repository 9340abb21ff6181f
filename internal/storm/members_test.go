package storm

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

type fieldRadiator struct {
	ItemName     string
	EffectRadius float32
	isPowered    bool
}

type methodRadiator struct{}

func (methodRadiator) GetRadius() int { return 7 }
func (methodRadiator) IsActive() bool { return false }
func (methodRadiator) Describe(string) int { return 0 }

type stringlyRadiator struct {
	Radius  string
	Enabled string
}

type explicitRadiator struct {
	Radius float64
}

func (explicitRadiator) EffectiveRadius() float64 { return 20 }

func TestMemberResolverReadsFields(t *testing.T) {
	resolver := NewMemberResolver()
	attrs := resolver.Resolve(&fieldRadiator{ItemName: "radiator", EffectRadius: 12, isPowered: false})

	assert.True(t, attrs.HasRadius)
	assert.Equal(t, 12.0, attrs.Radius)
	assert.True(t, attrs.HasPowered)
	assert.False(t, attrs.Powered)
}

func TestMemberResolverCallsMethods(t *testing.T) {
	attrs := NewMemberResolver().Resolve(methodRadiator{})

	assert.True(t, attrs.HasRadius)
	assert.Equal(t, 7.0, attrs.Radius)
	assert.True(t, attrs.HasPowered)
	assert.False(t, attrs.Powered)
}

func TestMemberResolverConvertsStrings(t *testing.T) {
	attrs := NewMemberResolver().Resolve(stringlyRadiator{Radius: " 4.5", Enabled: "false"})
	assert.Equal(t, 4.5, attrs.Radius)
	assert.False(t, attrs.Powered)

	attrs = NewMemberResolver().Resolve(stringlyRadiator{Radius: "wide", Enabled: "maybe"})
	assert.False(t, attrs.HasRadius)
	assert.True(t, attrs.HasPowered)
	assert.True(t, attrs.Powered, "unparseable power state fails open")
}

func TestMemberResolverCachesPerType(t *testing.T) {
	resolver := NewMemberResolver()
	resolver.Resolve(&fieldRadiator{EffectRadius: 1})
	resolver.Resolve(&fieldRadiator{EffectRadius: 2})
	resolver.Resolve(methodRadiator{})

	assert.Len(t, resolver.cache, 2)
}

func TestMemberResolverHandlesNil(t *testing.T) {
	resolver := NewMemberResolver()
	assert.Equal(t, Attributes{}, resolver.Resolve(nil))

	var missing *fieldRadiator
	assert.NotPanics(t, func() {
		attrs := resolver.Resolve(missing)
		assert.False(t, attrs.HasRadius)
	})
}

func TestResolverChainPrefersInterfaces(t *testing.T) {
	attrs := DefaultResolver().Resolve(explicitRadiator{Radius: 3})
	assert.Equal(t, 20.0, attrs.Radius)
	assert.False(t, attrs.HasPowered)

	attrs = DefaultResolver().Resolve(&reportingRadiator{radius: 9, powered: true})
	assert.Equal(t, 9.0, attrs.Radius)
	assert.True(t, attrs.Powered)
}

func TestResolverChainFallsThrough(t *testing.T) {
	attrs := DefaultResolver().Resolve(&fieldRadiator{EffectRadius: 6, isPowered: true})
	assert.Equal(t, 6.0, attrs.Radius)
	assert.True(t, attrs.Powered)

	attrs = DefaultResolver().Resolve(&struct{ Name string }{Name: "crate"})
	assert.Equal(t, Attributes{}, attrs)
}
