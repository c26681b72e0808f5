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

/*
Package scene holds renderable entities in a generation checked arena. It is
owned by the render thread, work items only ever see snapshots of it.
*/
package scene

import (
	"math"

	"github.com/go-gl/mathgl/mgl32"
	"goarrg.com/debug"

	"goarrg.com/rhi/vxrt/internal/util"
	"goarrg.com/rhi/vxrt/managed"
)

var instance = struct {
	logger *debug.Logger
}{
	logger: debug.NewLogger("vxrt", "scene"),
}

func abort(fmt string, args ...any) {
	util.Abort(instance.logger, fmt, args...)
}

type World struct {
	entities Arena[Entity]
	time     float32
}

func NewWorld() *World {
	return &World{}
}

func (w *World) Spawn(e Entity) Handle {
	h := w.entities.Insert(e)
	instance.logger.VPrintf("Spawned %q as %s", e.Name, h)
	return h
}

func (w *World) Despawn(h Handle) bool {
	if !w.entities.Remove(h) {
		instance.logger.VPrintf("Despawn of stale handle %s", h)
		return false
	}
	return true
}

func (w *World) Entity(h Handle) (*Entity, bool) {
	return w.entities.Get(h)
}

// FocusTarget resolves the focus of h, false if either entity is gone.
func (w *World) FocusTarget(h Handle) (*Entity, bool) {
	e, ok := w.entities.Get(h)
	if !ok {
		return nil, false
	}
	target, ok := e.Focus()
	if !ok {
		return nil, false
	}
	return w.entities.Get(target)
}

func (w *World) Len() int {
	return w.entities.Len()
}

func (w *World) Each(f func(Handle, *Entity) bool) {
	w.entities.Each(f)
}

/*
Update advances animations by dt seconds and turns focused entities toward
their targets. Wobbling geometry gets a new vertex slice and Version.
*/
func (w *World) Update(dt float32) {
	w.time += dt
	w.entities.Each(func(h Handle, e *Entity) bool {
		if a, ok := e.Animation(); ok {
			e.Position = e.Position.Add(a.Velocity.Mul(dt))
			if a.AngularVelocity != 0 && a.Axis.Len() > 0 {
				spin := mgl32.QuatRotate(a.AngularVelocity*dt, a.Axis.Normalize())
				e.Rotation = spin.Mul(e.Rotation).Normalize()
			}
			if g, ok := e.Geometry(); ok && a.Wobble != 0 {
				w.deform(g, a.Wobble)
			}
		}
		if target, ok := w.FocusTarget(h); ok {
			if target.Position.Sub(e.Position).Len() > 1e-4 {
				// QuatLookAtV is a view rotation, the entity wants the inverse
				e.Rotation = mgl32.QuatLookAtV(e.Position, target.Position, mgl32.Vec3{0, 1, 0}).Inverse()
			}
		}
		return true
	})
}

func (w *World) deform(g *Geometry, amplitude float32) {
	if g.rest == nil {
		g.rest = g.Vertices
	}
	vertices := make([]managed.Vertex, len(g.rest))
	for i, v := range g.rest {
		offset := amplitude * float32(math.Sin(float64(w.time)+float64(i)))
		v.Position = v.Position.Add(v.Normal.Mul(offset))
		vertices[i] = v
	}
	g.Vertices = vertices
	g.Dynamic = true
	g.Version++
}
