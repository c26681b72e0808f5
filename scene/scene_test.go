/*
Copyright 2025 The goARRG Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/


package scene

import (
	"testing"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"goarrg.com/rhi/vxrt/managed"
)

func TestArena(t *testing.T) {
	var a Arena[string]
	assert.False(t, Handle{}.Valid())
	_, ok := a.Get(Handle{})
	assert.False(t, ok)

	h1 := a.Insert("one")
	h2 := a.Insert("two")
	assert.Equal(t, 2, a.Len())
	v, ok := a.Get(h1)
	require.True(t, ok)
	assert.Equal(t, "one", *v)

	require.True(t, a.Remove(h1))
	assert.False(t, a.Remove(h1))
	_, ok = a.Get(h1)
	assert.False(t, ok)

	// the slot is reused with a new generation
	h3 := a.Insert("three")
	assert.Equal(t, h1.index, h3.index)
	assert.NotEqual(t, h1, h3)
	_, ok = a.Get(h1)
	assert.False(t, ok)
	v, ok = a.Get(h3)
	require.True(t, ok)
	assert.Equal(t, "three", *v)

	var seen []string
	a.Each(func(_ Handle, v *string) bool {
		seen = append(seen, *v)
		return true
	})
	assert.Equal(t, []string{"three", "two"}, seen)

	seen = nil
	a.Each(func(_ Handle, v *string) bool {
		seen = append(seen, *v)
		return false
	})
	assert.Len(t, seen, 1)
	assert.Equal(t, 2, a.Len())

	v, ok = a.Get(h2)
	require.True(t, ok, "removing a neighbour keeps other handles valid")
	assert.Equal(t, "two", *v)
}

func TestEntityComponents(t *testing.T) {
	e := NewEntity("e", mgl32.Vec3{})
	assert.False(t, e.Has(ComponentGeometry))
	_, ok := e.Geometry()
	assert.False(t, ok)

	e.SetGeometry(Geometry{Indices: []uint32{0, 1, 2}})
	assert.True(t, e.Has(ComponentGeometry))
	assert.False(t, e.Has(ComponentAnimation))

	e.SetAnimation(Animation{Wobble: 0.5})
	g, ok := e.Geometry()
	require.True(t, ok)
	assert.True(t, g.Dynamic)

	e.Remove(ComponentGeometry)
	assert.False(t, e.Has(ComponentGeometry))
	assert.True(t, e.Has(ComponentAnimation))

	assert.Panics(t, func() { e.Has(numComponents) })
	assert.Equal(t, "Focus", ComponentFocus.String())
}

func assertVec3(t *testing.T, want, got mgl32.Vec3) {
	t.Helper()
	for i := range want {
		assert.InDelta(t, want[i], got[i], 1e-4, "component %d of %v", i, got)
	}
}

func TestEntityTransform(t *testing.T) {
	e := NewEntity("e", mgl32.Vec3{1, 2, 3})
	e.Scale = 2
	p := e.Transform().Mul4x1(mgl32.Vec4{1, 0, 0, 1})
	assertVec3(t, mgl32.Vec3{3, 2, 3}, p.Vec3())
	assert.InDelta(t, 1, p.W(), 1e-5)
}

func TestWorldFocus(t *testing.T) {
	w := NewWorld()
	target := w.Spawn(NewEntity("target", mgl32.Vec3{10, 0, 0}))
	watcher := NewEntity("watcher", mgl32.Vec3{})
	watcher.SetFocus(target)
	h := w.Spawn(watcher)

	got, ok := w.FocusTarget(h)
	require.True(t, ok)
	assert.Equal(t, "target", got.Name)

	w.Update(0.016)
	e, _ := w.Entity(h)
	forward := e.Rotation.Rotate(mgl32.Vec3{0, 0, -1})
	assertVec3(t, mgl32.Vec3{1, 0, 0}, forward)

	require.True(t, w.Despawn(target))
	assert.False(t, w.Despawn(target))
	_, ok = w.FocusTarget(h)
	assert.False(t, ok)
	assert.Equal(t, 1, w.Len())

	// a dangling focus is skipped
	assert.NotPanics(t, func() { w.Update(0.016) })
}

func TestWorldUpdate(t *testing.T) {
	w := NewWorld()
	rest := []managed.Vertex{
		{Position: mgl32.Vec3{0, 0, 0}, Normal: mgl32.Vec3{0, 1, 0}},
		{Position: mgl32.Vec3{1, 0, 0}, Normal: mgl32.Vec3{0, 1, 0}},
	}
	e := NewEntity("mover", mgl32.Vec3{})
	e.SetGeometry(Geometry{Vertices: rest, Indices: []uint32{0, 1, 0}})
	e.SetAnimation(Animation{Velocity: mgl32.Vec3{1, 0, 0}, Wobble: 1})
	h := w.Spawn(e)
	w.Spawn(NewEntity("still", mgl32.Vec3{}))

	w.Update(0.5)
	got, _ := w.Entity(h)
	assert.InDelta(t, 0.5, got.Position.X(), 1e-6)

	g, _ := got.Geometry()
	assert.Equal(t, uint64(1), g.Version)
	assert.True(t, g.Dynamic)
	first := g.Vertices
	assert.NotSame(t, &rest[0], &first[0])
	assert.Equal(t, mgl32.Vec3{0, 0, 0}, rest[0].Position)

	w.Update(0.5)
	assert.Equal(t, uint64(2), g.Version)
	// earlier snapshots are never written to
	assert.NotSame(t, &first[0], &g.Vertices[0])
	assert.Equal(t, rest[1].Position.X(), g.Vertices[1].Position.X())
}
