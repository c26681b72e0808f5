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
	"bytes"
	"fmt"
	"sync"

	"goarrg.com/debug"

	"goarrg.com/rhi/vxrt/internal/container"
	"goarrg.com/rhi/vxrt/internal/util"
)

type frameSlot struct {
	state      FrameState
	pending    []*task
	processing []*task
	finished   []*task
}

/*
Scheduler is a fixed pool of Workers pulling from one priority queue. Higher
priorities are dequeued first, equal priorities currently come out in enqueue
order but callers must not depend on that.

Executed items are kept per frame in flight: pending until BeginProcessing,
processing until ClearProcessed and finished until DeleteFinished destroys them
along with their GPU resources. Only the render thread may call those, WaitIdle,
Collect, Reset and NextFrame.
*/
type Scheduler struct {
	noCopy util.NoCopy
	device Device
	config config

	mtx           sync.Mutex
	workCond      sync.Cond
	idleCond      sync.Cond
	queue         container.PriorityQueue[*task]
	continuations []continuation
	slots         []frameSlot
	frame         int
	busy          int
	sealed        bool
	closed        bool
	err           error

	enqueued  uint64
	executed  uint64
	destroyed uint64

	workers []*Worker
	main    *FrameResources
	wg      sync.WaitGroup
}

func NewScheduler(dev Device, cfg Config) (*Scheduler, error) {
	cfg.validate()
	if err := cfg.checkDevice(dev); err != nil {
		return nil, err
	}

	s := &Scheduler{device: dev}
	s.config.use(cfg)
	s.workCond.L = &s.mtx
	s.idleCond.L = &s.mtx
	s.slots = make([]frameSlot, s.config.maxFramesInFlight)
	s.main = NewFrameResources(s.config.name+"_main", s.config.maxFramesInFlight)

	for i := 0; i < s.config.numWorkers; i++ {
		w, err := newWorker(s, i)
		if err != nil {
			for _, w := range s.workers {
				w.destroy()
			}
			return nil, debug.ErrorWrapf(err, "Failed to create worker %d", i)
		}
		s.workers = append(s.workers, w)
	}

	s.noCopy.Init()
	s.wg.Add(len(s.workers))
	for _, w := range s.workers {
		go w.run()
	}

	instance.logger.IPrintf("Scheduler %q started with %d workers and %d frames in flight",
		s.config.name, s.config.numWorkers, s.config.maxFramesInFlight)
	return s, nil
}

func (s *Scheduler) slot(frame int) *frameSlot {
	if frame < 0 || frame >= len(s.slots) {
		abort("Frame %d out of range [0, %d)", frame, len(s.slots))
	}
	return &s.slots[frame]
}

func (s *Scheduler) transition(frame int, to FrameState) {
	slot := s.slot(frame)
	if slot.state == to {
		return
	}
	if !slot.state.canTransition(to) {
		abort("Illegal frame %d transition: %s -> %s", frame, slot.state, to)
	}
	instance.logger.VPrintf("Frame %d: %s -> %s", frame, slot.state, to)
	slot.state = to
}

// AddWork enqueues items and wakes one Worker per item. Adding to a closed
// Scheduler aborts.
func (s *Scheduler) AddWork(items ...WorkItem) {
	s.noCopy.Check()
	s.mtx.Lock()
	defer s.mtx.Unlock()

	if s.closed {
		abort("AddWork called on closed scheduler %q", s.config.name)
	}
	for _, item := range items {
		if item == nil {
			abort("AddWork called with nil WorkItem")
		}
		s.queue.Push(&task{item: item}, item.Priority())
		s.enqueued++
		s.workCond.Signal()
	}
}

/*
AddWorkAfter holds items back until the timeline value of waiter is reached,
they are enqueued by the first Advance call that observes it.
*/
func (s *Scheduler) AddWorkAfter(waiter *TimelineSemaphoreWaiter, items ...WorkItem) {
	s.noCopy.Check()
	if waiter == nil {
		s.AddWork(items...)
		return
	}
	s.mtx.Lock()
	defer s.mtx.Unlock()
	if s.closed {
		abort("AddWorkAfter called on closed scheduler %q", s.config.name)
	}
	s.continuations = append(s.continuations, continuation{waiter: waiter, items: items})
}

// Advance enqueues every continuation whose signal has been reached and
// returns the number of items released.
func (s *Scheduler) Advance() (int, error) {
	s.noCopy.Check()
	s.mtx.Lock()
	conts := s.continuations
	s.continuations = nil
	s.mtx.Unlock()

	var keep []continuation
	var err error
	released := 0
	for _, c := range conts {
		if err != nil {
			keep = append(keep, c)
			continue
		}
		done, pollErr := c.waiter.Poll()
		if pollErr != nil {
			err = debug.ErrorWrapf(pollErr, "Failed to poll continuation waiting on %d", c.waiter.Value())
			keep = append(keep, c)
			continue
		}
		if !done {
			keep = append(keep, c)
			continue
		}
		s.AddWork(c.items...)
		released += len(c.items)
	}

	s.mtx.Lock()
	s.continuations = append(keep, s.continuations...)
	s.mtx.Unlock()
	return released, err
}

func (s *Scheduler) waitForWork(w *Worker) *task {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	for !s.closed && s.err == nil && (s.heldLocked() || s.queue.Empty()) {
		s.workCond.Wait()
	}
	if s.closed || s.err != nil {
		return nil
	}

	t := s.queue.Pop()
	t.frame = s.frame
	s.busy++
	w.taskFrame = t.frame
	w.busy.Store(true)
	return t
}

func (s *Scheduler) workFinished(w *Worker, t *task, err error) bool {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	s.busy--
	w.busy.Store(false)
	w.executed++

	slot := s.slot(t.frame)
	slot.pending = append(slot.pending, t)

	if err != nil {
		if s.err == nil {
			s.err = &ErrorWorkFailed{Worker: w.id, Priority: t.item.Priority(), Err: err}
			instance.logger.EPrintf("%s", s.err)
		}
		s.workCond.Broadcast()
		s.idleCond.Broadcast()
		return false
	}

	if slot.state != FrameRecording {
		s.transition(t.frame, FrameRecording)
	}
	s.executed++
	if s.idleLocked() {
		s.idleCond.Broadcast()
	}
	return true
}

// heldLocked reports whether queued items must stay queued, either because the
// Scheduler is sealed or because the current slot has not been retired yet.
func (s *Scheduler) heldLocked() bool {
	switch s.slots[s.frame].state {
	case FrameSubmitted, FrameRetiring:
		return true
	}
	return s.sealed
}

func (s *Scheduler) idleLocked() bool {
	return s.busy == 0 && (s.heldLocked() || s.queue.Empty())
}

/*
WaitIdle blocks until no Worker is busy and nothing can be dequeued. That
means an empty queue unless the Scheduler is sealed or the current slot is
still submitted or retiring, then queued items stay queued until the seal is
lifted or the slot is retired by ClearProcessed. It returns the first work
failure, or ErrorSchedulerClosed.
*/
func (s *Scheduler) WaitIdle() error {
	s.noCopy.Check()
	s.mtx.Lock()
	defer s.mtx.Unlock()
	return s.waitIdleLocked()
}

func (s *Scheduler) waitIdleLocked() error {
	for s.err == nil && !s.closed && !s.idleLocked() {
		s.idleCond.Wait()
	}
	if s.err != nil {
		return s.err
	}
	if s.closed {
		return ErrorSchedulerClosed{}
	}
	return nil
}

/*
waitIdleAndSeal waits like WaitIdle and then stops further dequeues until
unseal, items added in between stay queued. The frame loop seals between
collecting a frame and retiring the next slot so no Worker records into a slot
the GPU may still be reading.
*/
func (s *Scheduler) waitIdleAndSeal() error {
	s.noCopy.Check()
	s.mtx.Lock()
	defer s.mtx.Unlock()
	if err := s.waitIdleLocked(); err != nil {
		return err
	}
	s.sealed = true
	return nil
}

func (s *Scheduler) unseal() {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	if s.sealed {
		s.sealed = false
		s.workCond.Broadcast()
	}
}

/*
Collect returns every command buffer queued for frame and class, the render
thread's own first followed by each Worker's in ID order. Workers must not be
recording into frame, call WaitIdle first.
*/
func (s *Scheduler) Collect(class SubmitClass, frame int) []CommandBuffer {
	s.noCopy.Check()
	s.mtx.Lock()
	s.slot(frame)
	for _, w := range s.workers {
		if w.busy.Load() && w.taskFrame == frame {
			s.mtx.Unlock()
			abort("Collect(%s, %d) while %s is recording into it", class, frame, w.name)
		}
	}
	s.mtx.Unlock()

	ret := s.main.Collect(frame, class)
	for _, w := range s.workers {
		ret = append(ret, w.resources.Collect(frame, class)...)
	}
	return ret
}

// Queue adds command buffers recorded by the render thread to frame.
func (s *Scheduler) Queue(frame int, class SubmitClass, cbs ...CommandBuffer) {
	s.noCopy.Check()
	s.main.Queue(frame, class, cbs...)
}

// GPUResource defers d until frame is retired by ClearProcessed.
func (s *Scheduler) GPUResource(frame int, d ...Destroyer) {
	s.noCopy.Check()
	s.main.GPUResource(frame, d...)
}

// BeginProcessing marks the pending items of frame as submitted to the GPU.
func (s *Scheduler) BeginProcessing(frame int) {
	s.noCopy.Check()
	s.mtx.Lock()
	defer s.mtx.Unlock()

	slot := s.slot(frame)
	if len(slot.processing) != 0 {
		abort("Frame %d submitted again before ClearProcessed", frame)
	}
	slot.processing, slot.pending = slot.pending, slot.processing
	s.transition(frame, FrameSubmitted)
}

/*
ClearProcessed moves the processing items of frame to finished. It must only be
called once the GPU work previously submitted for frame has completed, it also
resets the command and descriptor pools every Worker owns for frame and
releases what the render thread deferred with GPUResource.
*/
func (s *Scheduler) ClearProcessed(frame int) error {
	s.noCopy.Check()
	s.mtx.Lock()
	slot := s.slot(frame)
	if slot.state == FrameRecording || len(slot.pending) != 0 {
		s.mtx.Unlock()
		abort("ClearProcessed(%d) while frame is recording", frame)
	}
	for _, w := range s.workers {
		if w.busy.Load() && w.taskFrame == frame {
			s.mtx.Unlock()
			abort("ClearProcessed(%d) while %s is recording into it", frame, w.name)
		}
	}
	s.mtx.Unlock()

	// the slot stays held until every pool of it is reset
	for _, w := range s.workers {
		if err := w.resetFrame(frame); err != nil {
			return err
		}
	}
	if n := s.main.Discard(frame); n > 0 {
		instance.logger.WPrintf("Discarding %d uncollected command buffers of frame %d", n, frame)
	}
	s.main.Release(frame)

	s.mtx.Lock()
	defer s.mtx.Unlock()
	slot.finished = append(slot.finished, slot.processing...)
	clear(slot.processing)
	slot.processing = slot.processing[:0]
	s.transition(frame, FrameFinished)
	s.workCond.Broadcast()
	return nil
}

// DeleteFinished destroys every finished item and returns how many there were.
func (s *Scheduler) DeleteFinished() int {
	s.noCopy.Check()
	s.mtx.Lock()
	var finished []*task
	for i := range s.slots {
		slot := &s.slots[i]
		finished = append(finished, slot.finished...)
		clear(slot.finished)
		slot.finished = slot.finished[:0]
		if slot.state == FrameFinished {
			s.transition(i, FrameIdle)
		}
	}
	s.destroyed += uint64(len(finished))
	s.workCond.Broadcast()
	s.mtx.Unlock()

	for _, t := range finished {
		t.destroy()
	}
	return len(finished)
}

func (s *Scheduler) Frame() int {
	s.noCopy.Check()
	s.mtx.Lock()
	defer s.mtx.Unlock()
	return s.frame
}

/*
NextFrame moves the current slot from Submitted to Retiring, if it was
submitted, and advances the frame counter. It returns the new frame. Workers
do not dequeue while the new current slot is submitted or retiring.
*/
func (s *Scheduler) NextFrame() int {
	s.noCopy.Check()
	s.mtx.Lock()
	defer s.mtx.Unlock()
	if s.slots[s.frame].state == FrameSubmitted {
		s.transition(s.frame, FrameRetiring)
	}
	s.frame = (s.frame + 1) % len(s.slots)
	s.workCond.Broadcast()
	return s.frame
}

func (s *Scheduler) FrameState(frame int) FrameState {
	s.noCopy.Check()
	s.mtx.Lock()
	defer s.mtx.Unlock()
	return s.slot(frame).state
}

func (s *Scheduler) NumWorkers() int {
	return len(s.workers)
}

func (s *Scheduler) NumFramesInFlight() int {
	return len(s.slots)
}

/*
Reset drops queued items and continuations and abandons every frame slot, the
GPU work they reference is assumed gone. Items that were never executed are
still destroyed if they implement Destroyer. Workers must be idle, a sealed
Scheduler stays sealed. It returns
the number of queued items dropped.
*/
func (s *Scheduler) Reset() int {
	s.noCopy.Check()
	s.mtx.Lock()
	if s.busy != 0 {
		s.mtx.Unlock()
		abort("Reset called with %d busy workers", s.busy)
	}
	dropped := s.queue.Drain()
	for _, c := range s.continuations {
		for _, item := range c.items {
			dropped = append(dropped, &task{item: item})
		}
	}
	s.continuations = nil

	var abandoned []*task
	for i := range s.slots {
		slot := &s.slots[i]
		abandoned = append(abandoned, slot.pending...)
		abandoned = append(abandoned, slot.processing...)
		abandoned = append(abandoned, slot.finished...)
		*slot = frameSlot{}
	}
	s.destroyed += uint64(len(abandoned))
	s.frame = 0
	s.workCond.Broadcast()
	s.mtx.Unlock()

	for i := range s.slots {
		for _, w := range s.workers {
			if err := w.resetFrame(i); err != nil {
				instance.logger.WPrintf("Reset: %v", err)
			}
		}
		s.main.Discard(i)
		s.main.Release(i)
	}
	for _, t := range abandoned {
		t.destroy()
	}
	for _, t := range dropped {
		t.destroy()
	}

	if len(dropped) > 0 {
		instance.logger.WPrintf("Reset dropped %d queued work items", len(dropped))
	}
	instance.logger.IPrintf("Scheduler %q reset, abandoned %d executed work items", s.config.name, len(abandoned))
	return len(dropped)
}

type SchedulerStats struct {
	Workers       int
	Queued        int
	Busy          int
	Continuations int
	Enqueued      uint64
	Executed      uint64
	Destroyed     uint64
	Frame         int
	Frames        []FrameState
	PerWorker     []uint64
}

func (s SchedulerStats) MarshalJSON() ([]byte, error) {
	buff := bytes.Buffer{}
	buff.WriteString("{")

	buff.WriteString(fmt.Sprintf("\"Workers\": %d,", s.Workers))
	buff.WriteString(fmt.Sprintf("\"Queued\": %d,", s.Queued))
	buff.WriteString(fmt.Sprintf("\"Busy\": %d,", s.Busy))
	buff.WriteString(fmt.Sprintf("\"Continuations\": %d,", s.Continuations))
	buff.WriteString(fmt.Sprintf("\"Enqueued\": %d,", s.Enqueued))
	buff.WriteString(fmt.Sprintf("\"Executed\": %d,", s.Executed))
	buff.WriteString(fmt.Sprintf("\"Destroyed\": %d,", s.Destroyed))
	buff.WriteString(fmt.Sprintf("\"Frame\": %d,", s.Frame))

	buff.WriteString("\"Frames\": [")
	for i, f := range s.Frames {
		if i > 0 {
			buff.WriteString(",")
		}
		buff.WriteString(fmt.Sprintf("%q", f.String()))
	}
	buff.WriteString("],")

	buff.WriteString("\"PerWorker\": [")
	for i, n := range s.PerWorker {
		if i > 0 {
			buff.WriteString(",")
		}
		buff.WriteString(fmt.Sprintf("%d", n))
	}
	buff.WriteString("]")

	buff.WriteString("}")
	return buff.Bytes(), nil
}

func (s *Scheduler) Stats() SchedulerStats {
	s.noCopy.Check()
	s.mtx.Lock()
	defer s.mtx.Unlock()

	stats := SchedulerStats{
		Workers:       len(s.workers),
		Queued:        s.queue.Len(),
		Busy:          s.busy,
		Continuations: len(s.continuations),
		Enqueued:      s.enqueued,
		Executed:      s.executed,
		Destroyed:     s.destroyed,
		Frame:         s.frame,
		Frames:        make([]FrameState, len(s.slots)),
		PerWorker:     make([]uint64, len(s.workers)),
	}
	for i := range s.slots {
		stats.Frames[i] = s.slots[i].state
	}
	for i, w := range s.workers {
		stats.PerWorker[i] = w.executed
	}
	return stats
}

/*
Close stops the Workers once they finish their current item, queued items are
dropped. Everything still held per frame is destroyed, so the GPU must be idle.
It returns the first work failure, if any.
*/
func (s *Scheduler) Close() error {
	s.noCopy.Check()
	s.mtx.Lock()
	if s.closed {
		s.mtx.Unlock()
		abort("Scheduler %q closed twice", s.config.name)
	}
	s.closed = true
	dropped := s.queue.Drain()
	s.continuations = nil
	s.workCond.Broadcast()
	s.idleCond.Broadcast()
	s.mtx.Unlock()

	s.wg.Wait()

	for i := range s.slots {
		slot := &s.slots[i]
		for _, list := range [][]*task{slot.pending, slot.processing, slot.finished} {
			for _, t := range list {
				t.destroy()
			}
		}
		*slot = frameSlot{}
		s.main.Discard(i)
		s.main.Release(i)
	}
	for _, t := range dropped {
		t.destroy()
	}
	for _, w := range s.workers {
		w.destroy()
	}
	if len(dropped) > 0 {
		instance.logger.WPrintf("Scheduler %q closed with %d queued work items", s.config.name, len(dropped))
	}
	instance.logger.IPrintf("Scheduler %q closed", s.config.name)

	err := s.err
	s.noCopy.Close()
	return err
}
