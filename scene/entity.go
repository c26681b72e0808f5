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
	"github.com/go-gl/mathgl/mgl32"

	"goarrg.com/rhi/vxrt/managed"
)

type Component uint32

const (
	ComponentGeometry Component = iota
	ComponentAnimation
	ComponentFocus
	numComponents
)

func (c Component) String() string {
	switch c {
	case ComponentGeometry:
		return "Geometry"
	case ComponentAnimation:
		return "Animation"
	case ComponentFocus:
		return "Focus"
	default:
		abort("Unknown Component: %d", c)
	}
	return ""
}

/*
Geometry is renderable mesh data. Static geometry gets its bottom level
acceleration structure built once, Dynamic geometry is refit every frame.
Vertices are shared with in flight work and must be replaced, never modified
in place, bumping Version.
*/
type Geometry struct {
	Vertices []managed.Vertex
	Indices  []uint32
	Material uint32
	Dynamic  bool
	Version  uint64

	rest []managed.Vertex
}

type Animation struct {
	Velocity        mgl32.Vec3
	Axis            mgl32.Vec3
	AngularVelocity float32
	// Wobble deforms the vertices every update, it makes the geometry dynamic
	Wobble float32
}

// Focus makes an entity face another one, resolving to nothing once the
// target has been despawned.
type Focus struct {
	Target Handle
}

/*
Entity holds at most one of each Component in a fixed table, Has answers
whether a slot is filled.
*/
type Entity struct {
	Name     string
	Position mgl32.Vec3
	Rotation mgl32.Quat
	Scale    float32

	components uint32
	geometry   Geometry
	animation  Animation
	focus      Focus
}

func NewEntity(name string, position mgl32.Vec3) Entity {
	return Entity{Name: name, Position: position, Rotation: mgl32.QuatIdent(), Scale: 1}
}

func (e *Entity) Has(c Component) bool {
	if c >= numComponents {
		abort("Unknown Component: %d", c)
	}
	return e.components&(1<<c) != 0
}

func (e *Entity) set(c Component) {
	e.components |= 1 << c
}

func (e *Entity) Remove(c Component) {
	if c >= numComponents {
		abort("Unknown Component: %d", c)
	}
	e.components &^= 1 << c
	switch c {
	case ComponentGeometry:
		e.geometry = Geometry{}
	case ComponentAnimation:
		e.animation = Animation{}
	case ComponentFocus:
		e.focus = Focus{}
	}
}

func (e *Entity) SetGeometry(g Geometry) {
	e.geometry = g
	e.set(ComponentGeometry)
}

func (e *Entity) Geometry() (*Geometry, bool) {
	if !e.Has(ComponentGeometry) {
		return nil, false
	}
	return &e.geometry, true
}

func (e *Entity) SetAnimation(a Animation) {
	e.animation = a
	e.set(ComponentAnimation)
	if a.Wobble != 0 && e.Has(ComponentGeometry) {
		e.geometry.Dynamic = true
	}
}

func (e *Entity) Animation() (*Animation, bool) {
	if !e.Has(ComponentAnimation) {
		return nil, false
	}
	return &e.animation, true
}

func (e *Entity) SetFocus(target Handle) {
	e.focus = Focus{Target: target}
	e.set(ComponentFocus)
}

func (e *Entity) Focus() (Handle, bool) {
	if !e.Has(ComponentFocus) {
		return Handle{}, false
	}
	return e.focus.Target, true
}

func (e *Entity) Transform() mgl32.Mat4 {
	return mgl32.Translate3D(e.Position.X(), e.Position.Y(), e.Position.Z()).
		Mul4(e.Rotation.Mat4()).
		Mul4(mgl32.Scale3D(e.Scale, e.Scale, e.Scale))
}
