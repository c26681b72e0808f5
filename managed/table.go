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
	"slices"
	"sync"

	"goarrg.com/rhi/vxrt"
	"goarrg.com/rhi/vxrt/internal/util"
)

type slotRange struct {
	base int
	len  int
}

/*
Table is a fixed capacity array of records addressed by slot, replicated once
per frame in flight so a write for one frame never tears a read the GPU is
doing for another. The replica index is always the frame in flight index.

Push and Release are serialized by a mutex, Update calls for disjoint slots
may run concurrently.
*/
type Table[T comparable] struct {
	noCopy   util.NoCopy
	name     string
	capacity int

	mtx    sync.Mutex
	offset int
	free   []slotRange

	replicas [][]T
	written  [][]bool
}

func NewTable[T comparable](name string, framesInFlight, capacity int) *Table[T] {
	if framesInFlight <= 0 {
		abort("Table %q needs at least 1 frame in flight", name)
	}
	if capacity <= 0 {
		abort("Table %q needs a capacity > 0", name)
	}
	t := Table[T]{
		name:     name,
		capacity: capacity,
		replicas: make([][]T, framesInFlight),
		written:  make([][]bool, framesInFlight),
	}
	for i := range t.replicas {
		t.replicas[i] = make([]T, capacity)
		t.written[i] = make([]bool, capacity)
	}
	t.noCopy.Init()
	return &t
}

func (t *Table[T]) Name() string {
	return t.name
}

func (t *Table[T]) Cap() int {
	return t.capacity
}

// Len returns the high water mark of allocated slots.
func (t *Table[T]) Len() int {
	t.noCopy.Check()
	t.mtx.Lock()
	defer t.mtx.Unlock()
	return t.offset
}

// Free returns the number of released slots waiting for reuse.
func (t *Table[T]) Free() int {
	t.noCopy.Check()
	t.mtx.Lock()
	defer t.mtx.Unlock()
	n := 0
	for _, r := range t.free {
		n += r.len
	}
	return n
}

func (t *Table[T]) allocate(n int) int {
	t.mtx.Lock()
	defer t.mtx.Unlock()

	for i, r := range t.free {
		if r.len < n {
			continue
		}
		base := r.base
		if r.len == n {
			t.free = slices.Delete(t.free, i, i+1)
		} else {
			t.free[i] = slotRange{base: r.base + n, len: r.len - n}
		}
		return base
	}

	if t.offset+n > t.capacity {
		abort("Table %q is full: capacity %d, requested %d at offset %d", t.name, t.capacity, n, t.offset)
	}
	base := t.offset
	t.offset += n
	return base
}

/*
Push allocates len(entries) contiguous slots, writes entries into every
replica and returns the first slot. Running out of capacity aborts.
*/
func (t *Table[T]) Push(entries ...T) int {
	t.noCopy.Check()
	if len(entries) == 0 {
		abort("Table %q: Push called without entries", t.name)
	}
	base := t.allocate(len(entries))
	for f := range t.replicas {
		copy(t.replicas[f][base:], entries)
		for i := range entries {
			t.written[f][base+i] = true
		}
	}
	return base
}

func (t *Table[T]) checkRange(base, n int) {
	if base < 0 || n < 0 || base+n > t.capacity {
		abort("Table %q: range [%d, %d) out of bounds [0, %d)", t.name, base, base+n, t.capacity)
	}
}

// Update overwrites the records starting at base for one frame in flight.
func (t *Table[T]) Update(frame, base int, entries ...T) {
	t.noCopy.Check()
	t.checkRange(base, len(entries))
	copy(t.replicas[frame][base:], entries)
	for i := range entries {
		t.written[frame][base+i] = true
	}
}

// Get returns the record of slot for frame, ok is false if it was never written.
func (t *Table[T]) Get(frame, slot int) (T, bool) {
	t.noCopy.Check()
	t.checkRange(slot, 1)
	if !t.written[frame][slot] {
		var zero T
		return zero, false
	}
	return t.replicas[frame][slot], true
}

/*
Release returns n slots starting at base for reuse once the frame r belongs to
has been retired, until then every replica keeps its record.
*/
func (t *Table[T]) Release(r Retirer, base, n int) {
	t.noCopy.Check()
	t.checkRange(base, n)
	r.GPUResource(vxrt.DestroyFunc(func() {
		t.release(base, n)
	}))
}

func (t *Table[T]) release(base, n int) {
	var zero T
	for f := range t.replicas {
		for i := base; i < base+n; i++ {
			t.replicas[f][i] = zero
			t.written[f][i] = false
		}
	}

	t.mtx.Lock()
	defer t.mtx.Unlock()
	i, _ := slices.BinarySearchFunc(t.free, base, func(r slotRange, base int) int {
		return r.base - base
	})
	t.free = slices.Insert(t.free, i, slotRange{base: base, len: n})
	if i+1 < len(t.free) && t.free[i].base+t.free[i].len == t.free[i+1].base {
		t.free[i].len += t.free[i+1].len
		t.free = slices.Delete(t.free, i+1, i+2)
	}
	if i > 0 && t.free[i-1].base+t.free[i-1].len == t.free[i].base {
		t.free[i-1].len += t.free[i].len
		t.free = slices.Delete(t.free, i, i+1)
	}
}

// Bind mirrors every allocated record of frame into target and returns the
// number of bytes written.
func (t *Table[T]) Bind(frame int, target util.HostWriter) uintptr {
	n := t.Len()
	return util.HostWriteSlice(target, 0, t.replicas[frame][:n])
}
