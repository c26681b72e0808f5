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
	"encoding/binary"
	"sync"
	"testing"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"goarrg.com/rhi/vxrt"
)

type retirer struct {
	mtx      sync.Mutex
	deferred []vxrt.Destroyer
}

func (r *retirer) GPUResource(d ...vxrt.Destroyer) {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	r.deferred = append(r.deferred, d...)
}

func (r *retirer) retire() {
	r.mtx.Lock()
	deferred := r.deferred
	r.deferred = nil
	r.mtx.Unlock()
	for _, d := range deferred {
		d.Destroy()
	}
}

type byteSink struct {
	data []byte
}

func (b *byteSink) HostWrite(offset uintptr, data []byte) {
	copy(b.data[offset:], data)
}

func TestTable(t *testing.T) {
	table := NewTable[uint32]("test", 2, 8)
	assert.Equal(t, "test", table.Name())
	assert.Equal(t, 8, table.Cap())

	a := table.Push(1, 2, 3)
	b := table.Push(4)
	assert.Equal(t, 0, a)
	assert.Equal(t, 3, b)
	assert.Equal(t, 4, table.Len())

	for frame := 0; frame < 2; frame++ {
		v, ok := table.Get(frame, 1)
		require.True(t, ok)
		assert.Equal(t, uint32(2), v)
	}
	_, ok := table.Get(0, 5)
	assert.False(t, ok)

	table.Update(1, b, 40)
	v, _ := table.Get(0, b)
	assert.Equal(t, uint32(4), v)
	v, _ = table.Get(1, b)
	assert.Equal(t, uint32(40), v)

	assert.Panics(t, func() { table.Update(0, 7, 1, 2) })
	assert.Panics(t, func() { table.Push() })
}

func TestTableRelease(t *testing.T) {
	r := &retirer{}
	table := NewTable[uint32]("release", 1, 8)
	a := table.Push(1, 1)
	b := table.Push(2, 2)
	c := table.Push(3, 3)

	table.Release(r, a, 2)
	table.Release(r, b, 2)

	// still owned by the frame that released them
	assert.Zero(t, table.Free())
	v, ok := table.Get(0, a)
	require.True(t, ok)
	assert.Equal(t, uint32(1), v)

	r.retire()
	assert.Equal(t, 4, table.Free())
	_, ok = table.Get(0, a)
	assert.False(t, ok)

	// merged ranges serve a request larger than either release
	d := table.Push(5, 5, 5, 5)
	assert.Equal(t, a, d)
	assert.Zero(t, table.Free())
	assert.Equal(t, 6, table.Len())

	v, _ = table.Get(0, c)
	assert.Equal(t, uint32(3), v)
}

func TestTableFull(t *testing.T) {
	table := NewTable[uint32]("full", 1, 4)
	table.Push(1, 2, 3)
	assert.Panics(t, func() { table.Push(4, 5) })
	// the lock is released by the abort
	assert.Equal(t, 3, table.Push(4))
}

func TestTableConcurrentPush(t *testing.T) {
	const producers = 8
	const perProducer = 32

	table := NewTable[uint32]("concurrent", 2, producers*perProducer*2)
	slots := make([][]int, producers)

	g := errgroup.Group{}
	for p := 0; p < producers; p++ {
		g.Go(func() error {
			for i := 0; i < perProducer; i++ {
				id := uint32(p*perProducer + i)
				slots[p] = append(slots[p], table.Push(id, id))
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	seen := map[int]bool{}
	for p := range slots {
		for i, base := range slots[p] {
			id := uint32(p*perProducer + i)
			for _, s := range []int{base, base + 1} {
				assert.False(t, seen[s], "slot %d allocated twice", s)
				seen[s] = true
				for frame := 0; frame < 2; frame++ {
					v, ok := table.Get(frame, s)
					require.True(t, ok)
					assert.Equal(t, id, v)
				}
			}
		}
	}
	assert.Len(t, seen, producers*perProducer*2)
}

func TestTableBind(t *testing.T) {
	table := NewTable[uint32]("bind", 2, 16)
	table.Push(1, 2, 3)
	table.Update(1, 2, 30)

	sink := &byteSink{data: make([]byte, 64)}
	n := table.Bind(1, sink)
	require.Equal(t, uintptr(12), n)
	assert.Equal(t, uint32(1), binary.NativeEndian.Uint32(sink.data[0:]))
	assert.Equal(t, uint32(30), binary.NativeEndian.Uint32(sink.data[8:]))
}

func TestDescriptorArray(t *testing.T) {
	r := &retirer{}
	bound := map[int]string{}
	array := NewDescriptorArray("textures", 2, func(index int, key string) {
		bound[index] = key
	})

	assert.Equal(t, 0, array.Push("albedo"))
	assert.Equal(t, 1, array.Push("normal"))
	assert.Equal(t, 0, array.Push("albedo"))
	assert.Equal(t, map[int]string{0: "albedo", 1: "normal"}, bound)
	assert.Panics(t, func() { array.Push("roughness") })

	array.Pop(r, "albedo")
	array.Pop(r, "missing")
	i, ok := array.Lookup("albedo")
	require.True(t, ok)
	assert.Equal(t, 0, i)

	r.retire()
	_, ok = array.Lookup("albedo")
	assert.False(t, ok)
	assert.Equal(t, 1, array.Len())

	assert.Equal(t, 0, array.Push("roughness"))
	assert.Equal(t, "roughness", bound[0])
}

func cube() ([]Vertex, []uint32) {
	vertices := make([]Vertex, 8)
	for i := range vertices {
		vertices[i].Position = mgl32.Vec3{float32(i & 1), float32(i >> 1 & 1), float32(i >> 2 & 1)}
	}
	return vertices, []uint32{0, 1, 2, 2, 1, 3}
}

func TestRegistry(t *testing.T) {
	r := &retirer{}
	reg := NewRegistry(Config{FramesInFlight: 2, MaxResourceIndex: 4})

	vertices, indices := cube()
	a := reg.PushMesh(vertices, indices, 7)
	b := reg.PushMesh(vertices, indices, 8)

	rec := reg.Mesh(1, b)
	require.NotNil(t, rec)
	assert.Equal(t, MeshRecord{
		VertexOffset: 8, VertexCount: 8, IndexOffset: 6, IndexCount: 6, Material: 8,
	}, *rec)
	assert.Nil(t, reg.Mesh(0, 3))
	assert.Nil(t, reg.Mesh(0, 100))

	moved := append([]Vertex(nil), vertices...)
	moved[0].Position = mgl32.Vec3{-1, -1, -1}
	reg.UpdateMesh(1, a, moved)
	got, _ := reg.Vertices.Get(1, 0)
	assert.Equal(t, moved[0], got)
	got, _ = reg.Vertices.Get(0, 0)
	assert.Equal(t, vertices[0], got)
	assert.Panics(t, func() { reg.UpdateMesh(0, a, moved[:4]) })

	reg.ReleaseMesh(r, a)
	require.NotNil(t, reg.Mesh(0, a))
	r.retire()
	assert.Nil(t, reg.Mesh(0, a))
	assert.Nil(t, reg.Mesh(1, a))
	assert.Equal(t, 8, reg.Vertices.Free())

	c := reg.PushMesh(vertices, indices, 9)
	assert.Equal(t, a, c)
	assert.Equal(t, uint32(0), reg.Mesh(0, c).VertexOffset)
}

type hostPlatform struct {
	aborts int
}

func (p *hostPlatform) Abort() {
	p.aborts++
	panic("host abort")
}

func (p *hostPlatform) AbortPopup(string, ...any) {
	p.Abort()
}

type panicPlatform struct{}

func (panicPlatform) Abort()                    { panic("Fatal Error") }
func (panicPlatform) AbortPopup(string, ...any) { panic("Fatal Error") }

func TestAbortUsesPlatform(t *testing.T) {
	host := &hostPlatform{}
	vxrt.InitPlatform(host)
	defer vxrt.InitPlatform(panicPlatform{})

	table := NewTable[uint32]("aborting", 1, 1)
	table.Push(1)
	assert.PanicsWithValue(t, "host abort", func() { table.Push(2) })
	assert.Equal(t, 1, host.aborts)

	array := NewDescriptorArray[string]("aborting", 1, nil)
	array.Push("albedo")
	assert.PanicsWithValue(t, "host abort", func() { array.Push("normal") })
	assert.Equal(t, 2, host.aborts)
}
