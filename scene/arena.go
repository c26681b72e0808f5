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
	"fmt"

	"goarrg.com/rhi/vxrt/internal/container"
)

/*
Handle refers to a value in an Arena. A Handle outlives its value safely: once
the value is removed the generation no longer matches and lookups fail.
The zero Handle never resolves.
*/
type Handle struct {
	index      uint32
	generation uint32
}

func (h Handle) Valid() bool {
	return h.generation != 0
}

func (h Handle) String() string {
	return fmt.Sprintf("%d.%d", h.index, h.generation)
}

type arenaEntry[T any] struct {
	value      T
	generation uint32
	alive      bool
}

// Arena stores values addressed by generation checked handles, it is not
// safe for concurrent use.
type Arena[T any] struct {
	entries []arenaEntry[T]
	free    container.Stack[uint32]
	len     int
}

func (a *Arena[T]) Insert(v T) Handle {
	var i uint32
	if a.free.Empty() {
		i = uint32(len(a.entries))
		a.entries = append(a.entries, arenaEntry[T]{})
	} else {
		i = a.free.Pop()
	}
	e := &a.entries[i]
	e.value = v
	e.generation++
	if e.generation == 0 {
		e.generation = 1
	}
	e.alive = true
	a.len++
	return Handle{index: i, generation: e.generation}
}

func (a *Arena[T]) Get(h Handle) (*T, bool) {
	if !h.Valid() || int(h.index) >= len(a.entries) {
		return nil, false
	}
	e := &a.entries[h.index]
	if !e.alive || e.generation != h.generation {
		return nil, false
	}
	return &e.value, true
}

// Remove reports whether h was alive.
func (a *Arena[T]) Remove(h Handle) bool {
	if _, ok := a.Get(h); !ok {
		return false
	}
	e := &a.entries[h.index]
	var zero T
	e.value = zero
	e.alive = false
	a.free.Push(h.index)
	a.len--
	return true
}

func (a *Arena[T]) Len() int {
	return a.len
}

// Each calls f for every live value in slot order until f returns false.
func (a *Arena[T]) Each(f func(Handle, *T) bool) {
	for i := range a.entries {
		e := &a.entries[i]
		if !e.alive {
			continue
		}
		if !f(Handle{index: uint32(i), generation: e.generation}, &e.value) {
			return
		}
	}
}
