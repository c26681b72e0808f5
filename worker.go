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

package vxrt

import (
	"fmt"
	"sync/atomic"

	"goarrg.com/debug"

	"goarrg.com/rhi/vxrt/internal/util"
)

type workerFrame struct {
	commandPools [2]CommandPool
	descriptors  descriptorPool
	allocated    int
}

/*
Worker executes WorkItems pulled from its Scheduler. It owns, per frame in flight,
a graphics and a compute CommandPool, a descriptor pool and the FrameResources the
command buffers it records are queued into. None of these are shared with any
other Worker, so a WorkItem may use them without locking.
*/
type Worker struct {
	noCopy    util.NoCopy
	id        int
	name      string
	scheduler *Scheduler
	device    Device
	frames    []workerFrame
	resources *FrameResources

	busy atomic.Bool
	// taskFrame and executed are guarded by scheduler.mtx
	taskFrame int
	executed  uint64

	current   *task
	recording []CommandBuffer
}

func newWorker(s *Scheduler, id int) (*Worker, error) {
	w := &Worker{
		id:        id,
		name:      fmt.Sprintf("%s_worker_%d", s.config.name, id),
		scheduler: s,
		device:    s.device,
		frames:    make([]workerFrame, s.config.maxFramesInFlight),
	}
	w.noCopy.Init()
	w.resources = NewFrameResources(w.name, s.config.maxFramesInFlight)

	for i := range w.frames {
		f := &w.frames[i]
		f.descriptors = descriptorPool{
			name:     fmt.Sprintf("%s_frame_%d_descriptors", w.name, i),
			bankSize: s.config.descriptorPoolBankSize,
		}
		for _, q := range []QueueKind{QueueGraphics, QueueCompute} {
			name := fmt.Sprintf("%s_frame_%d_%s", w.name, i, q)
			pool, err := s.device.NewCommandPool(name, q)
			if err != nil {
				w.destroy()
				return nil, debug.ErrorWrapf(err, "Failed to create command pool %q", name)
			}
			f.commandPools[q] = pool
		}
	}

	return w, nil
}

func (w *Worker) run() {
	defer w.scheduler.wg.Done()
	for {
		t := w.scheduler.waitForWork(w)
		if t == nil {
			return
		}
		err := w.execute(t)
		if !w.scheduler.workFinished(w, t, err) {
			return
		}
	}
}

func (w *Worker) execute(t *task) (err error) {
	w.current = t
	defer func() {
		if r := recover(); r != nil {
			err = debug.Errorf("WorkItem panicked: %v\n%s", r, debug.StackTrace(0))
		}
		for _, cb := range w.recording {
			if endErr := cb.End(); endErr != nil && err == nil {
				err = debug.ErrorWrapf(endErr, "Failed to end command buffer %q", cb.Name())
			}
		}
		clear(w.recording)
		w.recording = w.recording[:0]
		w.current = nil
	}()
	instance.logger.VPrintf("%s executing item with priority %d on frame %d", w.name, t.item.Priority(), t.frame)
	return t.item.Execute(w)
}

func (w *Worker) mustBeExecuting() *task {
	w.noCopy.Check()
	if w.current == nil {
		abort("%s: Worker methods may only be called from within WorkItem.Execute", w.name)
	}
	return w.current
}

func (w *Worker) ID() int {
	return w.id
}

// Busy reports whether the Worker currently holds a WorkItem.
func (w *Worker) Busy() bool {
	return w.busy.Load()
}

func (w *Worker) Device() Device {
	return w.device
}

// Frame returns the frame in flight the current WorkItem records into.
func (w *Worker) Frame() int {
	return w.mustBeExecuting().frame
}

/*
CommandBuffer allocates a command buffer in the recording state from the pool
matching class and queues it for submission with the current frame. It is ended
automatically when Execute returns.
*/
func (w *Worker) CommandBuffer(class SubmitClass) (CommandBuffer, error) {
	t := w.mustBeExecuting()
	f := &w.frames[t.frame]
	name := fmt.Sprintf("%s_frame_%d_%s_%d", w.name, t.frame, class, f.allocated)
	cb, err := f.commandPools[class.queue()].Allocate(name, class.level())
	if err != nil {
		return nil, debug.ErrorWrapf(err, "Failed to allocate command buffer %q", name)
	}
	f.allocated++
	w.recording = append(w.recording, cb)
	w.resources.Queue(t.frame, class, cb)
	return cb, nil
}

// Queue adds already ended command buffers to the current frame.
func (w *Worker) Queue(class SubmitClass, cbs ...CommandBuffer) {
	t := w.mustBeExecuting()
	w.resources.Queue(t.frame, class, cbs...)
}

func (w *Worker) AllocateDescriptorSet(layout DescriptorSetLayout) (DescriptorSet, error) {
	t := w.mustBeExecuting()
	return w.frames[t.frame].descriptors.allocate(w.device, layout)
}

/*
GPUResource defers destruction of d until the GPU has retired the frame the
current WorkItem records into, use it for staging buffers and anything else
the recorded commands reference.
*/
func (w *Worker) GPUResource(d ...Destroyer) {
	t := w.mustBeExecuting()
	t.destroyers = append(t.destroyers, d...)
}

func (w *Worker) resetFrame(frame int) error {
	w.noCopy.Check()
	if n := w.resources.Discard(frame); n > 0 {
		instance.logger.WPrintf("%s: discarding %d uncollected command buffers of frame %d", w.name, n, frame)
	}
	f := &w.frames[frame]
	for _, p := range f.commandPools {
		if err := p.Reset(); err != nil {
			return debug.ErrorWrapf(err, "%s: failed to reset command pool of frame %d", w.name, frame)
		}
	}
	f.allocated = 0
	return f.descriptors.reset()
}

func (w *Worker) destroy() {
	for i := range w.frames {
		f := &w.frames[i]
		for q, p := range f.commandPools {
			if p != nil {
				p.Destroy()
				f.commandPools[q] = nil
			}
		}
		f.descriptors.destroy()
	}
	w.noCopy.Close()
}
