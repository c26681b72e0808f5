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

package headless

import (
	"fmt"
	"sync"

	"goarrg.com/debug"

	"goarrg.com/rhi/vxrt"
	"goarrg.com/rhi/vxrt/accel"
	"goarrg.com/rhi/vxrt/internal/util"
)

type AccelerationStructure struct {
	name      string
	builder   *AccelBuilder
	primitive int
	builds    int
	refits    int
	destroyed bool
}

func (a *AccelerationStructure) Name() string {
	return a.name
}

// Primitives is the triangle count of a bottom level or the instance count of a top level.
func (a *AccelerationStructure) Primitives() int {
	return a.primitive
}

func (a *AccelerationStructure) Destroyed() bool {
	a.builder.mtx.Lock()
	defer a.builder.mtx.Unlock()
	return a.destroyed
}

func (a *AccelerationStructure) Destroy() {
	a.builder.mtx.Lock()
	defer a.builder.mtx.Unlock()
	if a.destroyed {
		util.Abort(logger, "Acceleration structure %q destroyed twice", a.name)
	}
	a.destroyed = true
	a.builder.live--
}

/*
AccelBuilder records builds as commands and checks that nothing destroyed is
ever referenced by a later build.
*/
type AccelBuilder struct {
	mtx  sync.Mutex
	live int
}

var _ accel.Builder = (*AccelBuilder)(nil)

func NewAccelBuilder() *AccelBuilder {
	return &AccelBuilder{}
}

// Live returns the number of acceleration structures not yet destroyed.
func (b *AccelBuilder) Live() int {
	b.mtx.Lock()
	defer b.mtx.Unlock()
	return b.live
}

func (b *AccelBuilder) build(cb vxrt.CommandBuffer, kind, name string, primitives int, mode accel.BuildMode, prev any) (*AccelerationStructure, error) {
	c, ok := cb.(*CommandBuffer)
	if !ok {
		return nil, debug.Errorf("Foreign command buffer %q", cb.Name())
	}

	b.mtx.Lock()
	defer b.mtx.Unlock()

	var as *AccelerationStructure
	switch mode {
	case accel.BuildFull:
		as = &AccelerationStructure{name: name, builder: b}
		b.live++
	case accel.BuildRefit:
		p, ok := prev.(*AccelerationStructure)
		if !ok || p == nil {
			return nil, debug.Errorf("Refit of %q without a previous structure", name)
		}
		if p.destroyed {
			return nil, debug.Errorf("Refit of destroyed %q", p.name)
		}
		if p.primitive != primitives {
			return nil, debug.Errorf("Refit of %q changes primitive count %d -> %d", p.name, p.primitive, primitives)
		}
		as = p
		as.refits++
	}
	as.primitive = primitives
	if mode == accel.BuildFull {
		as.builds++
	}
	c.Record(fmt.Sprintf("build%s(%s, %s, %d)", kind, name, mode, primitives))
	return as, nil
}

func (b *AccelBuilder) BuildBottomLevel(cb vxrt.CommandBuffer, name string, g accel.Geometry, mode accel.BuildMode, prev accel.BottomLevel) (accel.BottomLevel, error) {
	return b.build(cb, "BottomLevel", name, len(g.Indices)/3, mode, prev)
}

func (b *AccelBuilder) BuildTopLevel(cb vxrt.CommandBuffer, name string, instances []accel.Instance, mode accel.BuildMode, prev accel.TopLevel) (accel.TopLevel, error) {
	for i, inst := range instances {
		as, ok := inst.BottomLevel.(*AccelerationStructure)
		if !ok {
			return nil, debug.Errorf("Instance %d of %q has a foreign bottom level", i, name)
		}
		if as.Destroyed() {
			return nil, debug.Errorf("Instance %d of %q references destroyed %q", i, name, as.name)
		}
	}
	return b.build(cb, "TopLevel", name, len(instances), mode, prev)
}
