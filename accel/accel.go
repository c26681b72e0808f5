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
Package accel keeps ray tracing acceleration structures in step with a scene:
bottom levels per geometry, one top level per frame in flight, rebuilt when
the set of instances changes and refit otherwise.
*/
package accel

import (
	"github.com/go-gl/mathgl/mgl32"
	"goarrg.com/debug"

	"goarrg.com/rhi/vxrt"
	"goarrg.com/rhi/vxrt/internal/util"
	"goarrg.com/rhi/vxrt/managed"
)

var instance = struct {
	logger *debug.Logger
}{
	logger: debug.NewLogger("vxrt", "accel"),
}

func abort(fmt string, args ...any) {
	util.Abort(instance.logger, fmt, args...)
}

type BuildMode uint32

const (
	BuildFull BuildMode = iota
	BuildRefit
)

func (m BuildMode) String() string {
	switch m {
	case BuildFull:
		return "Full"
	case BuildRefit:
		return "Refit"
	default:
		abort("Unknown BuildMode: %d", m)
	}
	return ""
}

type BottomLevel interface {
	vxrt.Destroyer
	Name() string
}

type TopLevel interface {
	vxrt.Destroyer
	Name() string
}

type Geometry struct {
	Vertices []managed.Vertex
	Indices  []uint32
}

/*
Instance is one entry of a top level structure. CustomIndex is always the
mesh slot of the managed.Registry the geometry was pushed to, so shading can
find its data from the index it hit.
*/
type Instance struct {
	BottomLevel BottomLevel
	Transform   mgl32.Mat4
	CustomIndex uint32
	Mask        uint8
}

// TransformRows returns the upper 3x4 of Transform in row major order.
func (i *Instance) TransformRows() [12]float32 {
	var ret [12]float32
	for r := 0; r < 3; r++ {
		for c := 0; c < 4; c++ {
			ret[r*4+c] = i.Transform.At(r, c)
		}
	}
	return ret
}

/*
Builder records acceleration structure builds into cb. With BuildRefit prev is
the structure to update and is usually returned again, with BuildFull prev is
nil and a new structure is returned.
*/
type Builder interface {
	BuildBottomLevel(cb vxrt.CommandBuffer, name string, g Geometry, mode BuildMode, prev BottomLevel) (BottomLevel, error)
	BuildTopLevel(cb vxrt.CommandBuffer, name string, instances []Instance, mode BuildMode, prev TopLevel) (TopLevel, error)
}
