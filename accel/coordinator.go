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

package accel

import (
	"bytes"
	"fmt"
	"sync"

	"github.com/go-gl/mathgl/mgl32"
	"goarrg.com/debug"
	"goarrg.com/gmath"
	"golang.org/x/sync/errgroup"

	"goarrg.com/rhi/vxrt"
	"goarrg.com/rhi/vxrt/internal/util"
	"goarrg.com/rhi/vxrt/managed"
	"goarrg.com/rhi/vxrt/scene"
)

type Config struct {
	Name           string
	Priority       int
	FramesInFlight int32
	Mask           uint8
	// UploadLimit bounds how many new meshes are pushed to the registry in parallel
	UploadLimit int
}

func (c *Config) validate() {
	if c.Name == "" {
		c.Name = "accel"
	}
	if !gmath.InRange(c.FramesInFlight, 1, vxrt.MaxFramesInFlightLimit) {
		abort("Config.FramesInFlight must be in range [1, %d]", vxrt.MaxFramesInFlightLimit)
	}
	if c.Mask == 0 {
		c.Mask = 0xFF
	}
	if c.UploadLimit <= 0 {
		c.UploadLimit = 4
	}
}

type bottomLevel struct {
	name    string
	slot    int
	dynamic bool
	version uint64

	static   BottomLevel
	perFrame []BottomLevel
	uploaded []uint64
}

func (b *bottomLevel) destroyers() []vxrt.Destroyer {
	var ret []vxrt.Destroyer
	if b.static != nil {
		ret = append(ret, b.static)
	}
	for _, blas := range b.perFrame {
		if blas != nil {
			ret = append(ret, blas)
		}
	}
	return ret
}

type topLevel struct {
	tlas       TopLevel
	generation uint64
	instances  []Instance
}

type grave struct {
	bottom    *bottomLevel
	remaining int
}

type snapshot struct {
	handle    scene.Handle
	name      string
	transform mgl32.Mat4
	geometry  scene.Geometry
}

type Stats struct {
	BottomBuilds uint64
	BottomRefits uint64
	TopBuilds    uint64
	TopRefits    uint64
	Instances    int
	Removed      uint64
}

func (s Stats) MarshalJSON() ([]byte, error) {
	buff := bytes.Buffer{}
	buff.WriteString("{")

	buff.WriteString(fmt.Sprintf("\"BottomBuilds\": %d,", s.BottomBuilds))
	buff.WriteString(fmt.Sprintf("\"BottomRefits\": %d,", s.BottomRefits))
	buff.WriteString(fmt.Sprintf("\"TopBuilds\": %d,", s.TopBuilds))
	buff.WriteString(fmt.Sprintf("\"TopRefits\": %d,", s.TopRefits))
	buff.WriteString(fmt.Sprintf("\"Instances\": %d,", s.Instances))
	buff.WriteString(fmt.Sprintf("\"Removed\": %d", s.Removed))

	buff.WriteString("}")
	return buff.Bytes(), nil
}

/*
Coordinator owns every acceleration structure of a scene. Static geometry has
its bottom level built once, dynamic geometry gets one bottom level per frame
in flight that is refit every frame. Removed geometry is destroyed once no top
level that may still be in flight references it.

Work must be added once per frame, it records into that frame's compute
submission.
*/
type Coordinator struct {
	noCopy   util.NoCopy
	config   Config
	builder  Builder
	registry *managed.Registry

	mtx        sync.Mutex
	bottom     map[scene.Handle]*bottomLevel
	generation uint64
	top        []topLevel
	graveyard  []grave
	stats      Stats
}

func NewCoordinator(builder Builder, registry *managed.Registry, cfg Config) *Coordinator {
	cfg.validate()
	c := Coordinator{
		config:   cfg,
		builder:  builder,
		registry: registry,
		bottom:   map[scene.Handle]*bottomLevel{},
		top:      make([]topLevel, cfg.FramesInFlight),
	}
	c.noCopy.Init()
	return &c
}

type work struct {
	coordinator *Coordinator
	entities    []snapshot
}

func (w *work) Priority() int {
	return w.coordinator.config.Priority
}

func (w *work) Execute(worker *vxrt.Worker) error {
	return w.coordinator.execute(worker, w.entities)
}

/*
Work snapshots every entity of world that has geometry and returns the
WorkItem that brings the acceleration structures up to date with it. It must
be called from the thread that owns world.
*/
func (c *Coordinator) Work(world *scene.World) vxrt.WorkItem {
	c.noCopy.Check()
	var entities []snapshot
	world.Each(func(h scene.Handle, e *scene.Entity) bool {
		if g, ok := e.Geometry(); ok {
			entities = append(entities, snapshot{handle: h, name: e.Name, transform: e.Transform(), geometry: *g})
		}
		return true
	})
	return &work{coordinator: c, entities: entities}
}

func (c *Coordinator) bury(b *bottomLevel) {
	c.graveyard = append(c.graveyard, grave{bottom: b, remaining: len(c.top) - 1})
	c.generation++
	c.stats.Removed++
}

func (c *Coordinator) collectGraveyard(w *vxrt.Worker) {
	keep := c.graveyard[:0]
	for _, g := range c.graveyard {
		if g.remaining > 0 {
			g.remaining--
			keep = append(keep, g)
			continue
		}
		w.GPUResource(g.bottom.destroyers()...)
		c.registry.ReleaseMesh(w, g.bottom.slot)
	}
	clear(c.graveyard[len(keep):])
	c.graveyard = keep
}

func (c *Coordinator) upload(entities []snapshot) ([]int, error) {
	slots := make([]int, len(entities))
	g := errgroup.Group{}
	g.SetLimit(c.config.UploadLimit)
	for i, s := range entities {
		g.Go(func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = debug.Errorf("Failed to upload geometry of %q: %v", s.name, r)
				}
			}()
			slots[i] = c.registry.PushMesh(s.geometry.Vertices, s.geometry.Indices, s.geometry.Material)
			return nil
		})
	}
	return slots, g.Wait()
}

func (c *Coordinator) execute(w *vxrt.Worker, entities []snapshot) error {
	c.noCopy.Check()
	c.mtx.Lock()
	defer c.mtx.Unlock()

	frame := w.Frame()
	if frame >= len(c.top) {
		abort("Frame %d out of range for %d frames in flight", frame, len(c.top))
	}
	cb, err := w.CommandBuffer(vxrt.SubmitCompute)
	if err != nil {
		return err
	}

	c.collectGraveyard(w)

	alive := make(map[scene.Handle]*snapshot, len(entities))
	for i := range entities {
		alive[entities[i].handle] = &entities[i]
	}
	for h, b := range c.bottom {
		s, ok := alive[h]
		if !ok || s.geometry.Dynamic != b.dynamic || (!b.dynamic && s.geometry.Version != b.version) {
			delete(c.bottom, h)
			c.bury(b)
		}
	}

	var added []snapshot
	for _, s := range entities {
		if _, ok := c.bottom[s.handle]; !ok {
			added = append(added, s)
		}
	}
	if len(added) > 0 {
		slots, err := c.upload(added)
		if err != nil {
			return err
		}
		for i, s := range added {
			b := &bottomLevel{
				name:    fmt.Sprintf("%s_%s_%s", c.config.Name, s.name, s.handle),
				slot:    slots[i],
				dynamic: s.geometry.Dynamic,
				version: s.geometry.Version,
			}
			if b.dynamic {
				b.perFrame = make([]BottomLevel, len(c.top))
				b.uploaded = make([]uint64, len(c.top))
				for f := range b.uploaded {
					b.uploaded[f] = s.geometry.Version
				}
			}
			c.bottom[s.handle] = b
		}
		c.generation++
	}

	instances := make([]Instance, 0, len(entities))
	for _, s := range entities {
		b := c.bottom[s.handle]
		blas, err := c.prepareBottom(cb, frame, b, &s)
		if err != nil {
			return err
		}
		instances = append(instances, Instance{
			BottomLevel: blas,
			Transform:   s.transform,
			CustomIndex: uint32(b.slot),
			Mask:        c.config.Mask,
		})
	}

	return c.prepareTop(w, cb, frame, instances)
}

func (c *Coordinator) prepareBottom(cb vxrt.CommandBuffer, frame int, b *bottomLevel, s *snapshot) (BottomLevel, error) {
	g := Geometry{Vertices: s.geometry.Vertices, Indices: s.geometry.Indices}

	if !b.dynamic {
		if b.static == nil {
			blas, err := c.builder.BuildBottomLevel(cb, b.name, g, BuildFull, nil)
			if err != nil {
				return nil, debug.ErrorWrapf(err, "Failed to build %q", b.name)
			}
			b.static = blas
			c.stats.BottomBuilds++
		}
		return b.static, nil
	}

	if b.uploaded[frame] != s.geometry.Version {
		c.registry.UpdateMesh(frame, b.slot, s.geometry.Vertices)
		b.uploaded[frame] = s.geometry.Version
	}

	prev := b.perFrame[frame]
	mode := BuildRefit
	if prev == nil {
		mode = BuildFull
	}
	blas, err := c.builder.BuildBottomLevel(cb, fmt.Sprintf("%s_frame_%d", b.name, frame), g, mode, prev)
	if err != nil {
		return nil, debug.ErrorWrapf(err, "Failed to %s %q", mode, b.name)
	}
	b.perFrame[frame] = blas
	if mode == BuildFull {
		c.stats.BottomBuilds++
	} else {
		c.stats.BottomRefits++
	}
	return blas, nil
}

func (c *Coordinator) prepareTop(w *vxrt.Worker, cb vxrt.CommandBuffer, frame int, instances []Instance) error {
	t := &c.top[frame]
	mode := BuildRefit
	prev := t.tlas
	if t.tlas == nil || t.generation != c.generation {
		mode = BuildFull
		prev = nil
	}

	name := fmt.Sprintf("%s_tlas_frame_%d", c.config.Name, frame)
	tlas, err := c.builder.BuildTopLevel(cb, name, instances, mode, prev)
	if err != nil {
		return debug.ErrorWrapf(err, "Failed to %s %q", mode, name)
	}
	if mode == BuildFull {
		if t.tlas != nil {
			w.GPUResource(t.tlas)
		}
		c.stats.TopBuilds++
		instance.logger.VPrintf("Rebuilt %q with %d instances", name, len(instances))
	} else {
		c.stats.TopRefits++
	}
	t.tlas = tlas
	t.generation = c.generation
	t.instances = instances
	c.stats.Instances = len(instances)
	return nil
}

// Instances returns the instances last built into the top level of frame.
func (c *Coordinator) Instances(frame int) []Instance {
	c.noCopy.Check()
	c.mtx.Lock()
	defer c.mtx.Unlock()
	return append([]Instance(nil), c.top[frame].instances...)
}

// Resolve returns the mesh record an instance custom index refers to in
// frame, nil if it was never written.
func (c *Coordinator) Resolve(frame int, customIndex uint32) *managed.MeshRecord {
	c.noCopy.Check()
	return c.registry.Mesh(frame, int(customIndex))
}

func (c *Coordinator) Stats() Stats {
	c.noCopy.Check()
	c.mtx.Lock()
	defer c.mtx.Unlock()
	return c.stats
}

// Destroy releases every acceleration structure immediately, the GPU must be idle.
func (c *Coordinator) Destroy() {
	c.noCopy.Check()
	c.mtx.Lock()
	defer c.mtx.Unlock()

	for h, b := range c.bottom {
		for _, d := range b.destroyers() {
			d.Destroy()
		}
		delete(c.bottom, h)
	}
	for _, g := range c.graveyard {
		for _, d := range g.bottom.destroyers() {
			d.Destroy()
		}
	}
	c.graveyard = nil
	for i := range c.top {
		if c.top[i].tlas != nil {
			c.top[i].tlas.Destroy()
		}
		c.top[i] = topLevel{}
	}
	instance.logger.IPrintf("%s destroyed: %s", c.config.Name, statsString(c.stats))
	c.noCopy.Close()
}

func statsString(s Stats) string {
	b, _ := s.MarshalJSON()
	return string(b)
}
