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
	"sync"

	"goarrg.com/rhi/vxrt"
	"goarrg.com/rhi/vxrt/internal/container"
	"goarrg.com/rhi/vxrt/internal/util"
)

/*
DescriptorArray manages inserting and removing keyed resources from a bindless
descriptor array. Pushing a key that is already present returns its index,
bind is called with the index once for every new key.
*/
type DescriptorArray[K comparable] struct {
	noCopy    util.NoCopy
	name      string
	capacity  int
	bind      func(index int, key K)
	mtx       sync.Mutex
	index     int
	freeStack container.Stack[int]
	managed   map[K]int
}

func NewDescriptorArray[K comparable](name string, capacity int, bind func(index int, key K)) *DescriptorArray[K] {
	if capacity <= 0 {
		abort("DescriptorArray %q needs a capacity > 0", name)
	}
	ret := DescriptorArray[K]{
		name:     name,
		capacity: capacity,
		bind:     bind,
		managed:  map[K]int{},
	}
	ret.noCopy.Init()
	return &ret
}

func (d *DescriptorArray[K]) Push(key K) int {
	d.noCopy.Check()
	d.mtx.Lock()
	defer d.mtx.Unlock()

	if i, found := d.managed[key]; found {
		return i
	}
	var i int
	if d.freeStack.Empty() {
		if d.index >= d.capacity {
			abort("Trying to push %v into full descriptor array %q", key, d.name)
		}
		i = d.index
		d.index++
	} else {
		i = d.freeStack.Pop()
	}
	d.managed[key] = i
	if d.bind != nil {
		d.bind(i, key)
	}
	return i
}

func (d *DescriptorArray[K]) Lookup(key K) (int, bool) {
	d.noCopy.Check()
	d.mtx.Lock()
	defer d.mtx.Unlock()
	i, found := d.managed[key]
	return i, found
}

func (d *DescriptorArray[K]) Len() int {
	d.noCopy.Check()
	d.mtx.Lock()
	defer d.mtx.Unlock()
	return len(d.managed)
}

/*
Pop marks the index holding target as unused, it becomes available for reuse
once the frame r belongs to has been retired.
*/
func (d *DescriptorArray[K]) Pop(r Retirer, target K) {
	d.noCopy.Check()
	d.mtx.Lock()
	i, found := d.managed[target]
	d.mtx.Unlock()
	if !found {
		return
	}
	r.GPUResource(vxrt.DestroyFunc(func() {
		d.mtx.Lock()
		defer d.mtx.Unlock()
		if j, found := d.managed[target]; found && j == i {
			delete(d.managed, target)
			d.freeStack.Push(i)
		}
	}))
}
