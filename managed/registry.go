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

package managed

import (
	"bytes"
	"fmt"

	"github.com/go-gl/mathgl/mgl32"
	"goarrg.com/gmath"
)

type Vertex struct {
	Position mgl32.Vec3
	Normal   mgl32.Vec3
	UV       mgl32.Vec2
}

// MeshRecord is what a shading pass reads for a mesh slot.
type MeshRecord struct {
	VertexOffset uint32
	VertexCount  uint32
	IndexOffset  uint32
	IndexCount   uint32
	Material     uint32
}

type Config struct {
	Name             string
	FramesInFlight   int32
	MaxResourceIndex int32
	MaxVertices      int32
	MaxIndices       int32
	MaxTextures      int32

	// BindTexture is called once for every texture given a new index.
	BindTexture func(index int, name string)
}

func (c *Config) MarshalJSON() ([]byte, error) {
	buff := bytes.Buffer{}
	buff.WriteString("{")

	buff.WriteString(fmt.Sprintf("\"Name\": %q,", c.Name))
	buff.WriteString(fmt.Sprintf("\"FramesInFlight\": %d,", c.FramesInFlight))
	buff.WriteString(fmt.Sprintf("\"MaxResourceIndex\": %d,", c.MaxResourceIndex))
	buff.WriteString(fmt.Sprintf("\"MaxVertices\": %d,", c.MaxVertices))
	buff.WriteString(fmt.Sprintf("\"MaxIndices\": %d,", c.MaxIndices))
	buff.WriteString(fmt.Sprintf("\"MaxTextures\": %d", c.MaxTextures))

	buff.WriteString("}")
	return buff.Bytes(), nil
}

func (c *Config) validate() {
	if c.Name == "" {
		c.Name = "registry"
	}
	if !gmath.InRange(c.FramesInFlight, 1, 8) {
		abort("Config.FramesInFlight must be in range [1, 8]")
	}
	if c.MaxResourceIndex <= 0 {
		abort("Config.MaxResourceIndex must be > 0")
	}
	if c.MaxVertices <= 0 {
		c.MaxVertices = c.MaxResourceIndex * 1024
	}
	if c.MaxIndices <= 0 {
		c.MaxIndices = c.MaxVertices * 3
	}
	if c.MaxTextures <= 0 {
		c.MaxTextures = c.MaxResourceIndex
	}
}

/*
Registry groups the bindless tables a renderer binds once per frame. Mesh
slots are what acceleration structure instances carry as their custom index.
*/
type Registry struct {
	Vertices *Table[Vertex]
	Indices  *Table[uint32]
	Meshes   *Table[MeshRecord]
	Textures *DescriptorArray[string]
}

func NewRegistry(cfg Config) *Registry {
	cfg.validate()
	instance.logger.IPrintf("Registry config: %s", jsonString(&cfg))
	frames := int(cfg.FramesInFlight)
	return &Registry{
		Vertices: NewTable[Vertex](cfg.Name+"_vertices", frames, int(cfg.MaxVertices)),
		Indices:  NewTable[uint32](cfg.Name+"_indices", frames, int(cfg.MaxIndices)),
		Meshes:   NewTable[MeshRecord](cfg.Name+"_meshes", frames, int(cfg.MaxResourceIndex)),
		Textures: NewDescriptorArray(cfg.Name+"_textures", int(cfg.MaxTextures), cfg.BindTexture),
	}
}

// PushMesh uploads the geometry into every frame in flight and returns its mesh slot.
func (r *Registry) PushMesh(vertices []Vertex, indices []uint32, material uint32) int {
	rec := MeshRecord{
		VertexCount: uint32(len(vertices)),
		IndexCount:  uint32(len(indices)),
		Material:    material,
	}
	if len(vertices) > 0 {
		rec.VertexOffset = uint32(r.Vertices.Push(vertices...))
	}
	if len(indices) > 0 {
		rec.IndexOffset = uint32(r.Indices.Push(indices...))
	}
	return r.Meshes.Push(rec)
}

/*
UpdateMesh rewrites the vertices of a mesh for one frame in flight, used for
geometry deformed every frame. The vertex count must not change.
*/
func (r *Registry) UpdateMesh(frame, slot int, vertices []Vertex) {
	rec, ok := r.Meshes.Get(frame, slot)
	if !ok {
		abort("UpdateMesh: mesh slot %d was never pushed", slot)
	}
	if int(rec.VertexCount) != len(vertices) {
		abort("UpdateMesh: mesh slot %d has %d vertices, got %d", slot, rec.VertexCount, len(vertices))
	}
	if len(vertices) > 0 {
		r.Vertices.Update(frame, int(rec.VertexOffset), vertices...)
	}
	r.Meshes.Update(frame, slot, rec)
}

// Mesh returns the record a shading pass would read for slot in frame, nil if
// the slot was never written.
func (r *Registry) Mesh(frame, slot int) *MeshRecord {
	if slot < 0 || slot >= r.Meshes.Cap() {
		return nil
	}
	rec, ok := r.Meshes.Get(frame, slot)
	if !ok {
		return nil
	}
	return &rec
}

// ReleaseMesh frees the mesh slot and its geometry once the frame r belongs to retires.
func (r *Registry) ReleaseMesh(ret Retirer, slot int) {
	rec, ok := r.Meshes.Get(0, slot)
	if !ok {
		abort("ReleaseMesh: mesh slot %d was never pushed", slot)
	}
	if rec.VertexCount > 0 {
		r.Vertices.Release(ret, int(rec.VertexOffset), int(rec.VertexCount))
	}
	if rec.IndexCount > 0 {
		r.Indices.Release(ret, int(rec.IndexOffset), int(rec.IndexCount))
	}
	r.Meshes.Release(ret, slot, 1)
}
