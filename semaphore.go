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
	"sync"
	"sync/atomic"

	"goarrg.com/debug"

	"goarrg.com/rhi/vxrt/internal/util"
)

/*
TimelineSemaphore tracks the values handed out for a device Timeline. Values
for GPU signals come from signalInfo, values for CPU signals from Promise, and
both share one monotonically increasing counter. The cached value is only an
optimization to skip device queries, the device stays the source of truth.
*/
type TimelineSemaphore struct {
	noCopy        util.NoCopy
	timeline      Timeline
	name          string
	mtx           sync.Mutex
	gpuPending    uint64
	cpuPending    uint64
	pendingSignal uint64
	value         atomic.Uint64
}

var _ Destroyer = (*TimelineSemaphore)(nil)

func NewTimelineSemaphore(dev Device, name string) (*TimelineSemaphore, error) {
	t, err := dev.NewTimeline(name)
	if err != nil {
		return nil, debug.ErrorWrapf(err, "Failed to create timeline %q", name)
	}
	s := TimelineSemaphore{timeline: t, name: name}
	s.noCopy.Init()
	return &s, nil
}

func (s *TimelineSemaphore) Destroy() {
	s.noCopy.Check()
	if err := s.Wait(); err != nil {
		instance.logger.WPrintf("Destroying timeline %q without waiting: %v", s.name, err)
	}
	s.timeline.Destroy()
	s.noCopy.Close()
}

func (s *TimelineSemaphore) Value() (uint64, error) {
	s.noCopy.Check()
	v, err := s.timeline.Value()
	if err != nil {
		return s.value.Load(), err
	}
	s.observe(v)
	return v, nil
}

func (s *TimelineSemaphore) observe(v uint64) {
	for {
		old := s.value.Load()
		if old >= v || s.value.CompareAndSwap(old, v) {
			return
		}
	}
}

func (s *TimelineSemaphore) signalInfo() TimelineSignal {
	s.noCopy.Check()
	s.mtx.Lock()
	defer s.mtx.Unlock()
	s.pendingSignal += 1
	s.gpuPending = s.pendingSignal
	return TimelineSignal{Timeline: s.timeline, Value: s.gpuPending}
}

func (s *TimelineSemaphore) sendSignal(signal uint64) error {
	s.noCopy.Check()
	if s.value.Load() >= s.cpuPendingValue() {
		abort("No pending CPU signal promise")
	}
	if err := s.timeline.Signal(signal); err != nil {
		return debug.ErrorWrapf(err, "Failed to signal timeline %q to %d", s.name, signal)
	}
	s.observe(signal)
	return nil
}

func (s *TimelineSemaphore) cpuPendingValue() uint64 {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	return s.cpuPending
}

type TimelineSemaphorePromise struct {
	noCopy    util.NoCopy
	semaphore *TimelineSemaphore
	value     uint64
}

/*
Promise reserves the next value for a CPU signal, Signal must be called on it
before anything waiting on a later value can complete.
*/
func (s *TimelineSemaphore) Promise() *TimelineSemaphorePromise {
	s.noCopy.Check()
	s.mtx.Lock()
	s.pendingSignal += 1
	s.cpuPending = s.pendingSignal
	p := TimelineSemaphorePromise{semaphore: s, value: s.pendingSignal}
	s.mtx.Unlock()
	p.noCopy.Init()
	return &p
}

func (p *TimelineSemaphorePromise) Signal() error {
	p.noCopy.Check()
	// this ensures we signal in order
	if err := p.semaphore.waitForSignal(p.value - 1); err != nil {
		return err
	}
	if err := p.semaphore.sendSignal(p.value); err != nil {
		return err
	}
	p.noCopy.Close()
	return nil
}

func (p *TimelineSemaphorePromise) Value() uint64 {
	p.noCopy.Check()
	return p.value
}

func (s *TimelineSemaphore) waitForSignal(signal uint64) error {
	if s.value.Load() >= signal {
		return nil
	}
	s.noCopy.Check()
	if err := s.timeline.Wait(signal); err != nil {
		return err
	}
	s.observe(signal)
	return nil
}

func (s *TimelineSemaphore) pending() uint64 {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	return s.pendingSignal
}

func (s *TimelineSemaphore) Wait() error {
	return s.waitForSignal(s.pending())
}

type TimelineSemaphoreWaiter struct {
	noCopy    util.NoCopy
	semaphore *TimelineSemaphore
	value     uint64
}

func (s *TimelineSemaphore) WaiterForPendingValue() *TimelineSemaphoreWaiter {
	s.noCopy.Check()
	w := TimelineSemaphoreWaiter{semaphore: s, value: s.pending()}
	w.noCopy.Init()
	return &w
}

func (s *TimelineSemaphore) WaiterForValue(value uint64) *TimelineSemaphoreWaiter {
	s.noCopy.Check()
	if value > s.pending() {
		abort("Waiter for value %d on timeline %q which only has %d pending", value, s.name, s.pending())
	}
	w := TimelineSemaphoreWaiter{semaphore: s, value: value}
	w.noCopy.Init()
	return &w
}

func (w *TimelineSemaphoreWaiter) Poll() (bool, error) {
	w.noCopy.Check()
	if w.semaphore.value.Load() >= w.value {
		return true, nil
	}
	v, err := w.semaphore.Value()
	if err != nil {
		return false, err
	}
	return v >= w.value, nil
}

func (w *TimelineSemaphoreWaiter) Wait() error {
	w.noCopy.Check()
	return w.semaphore.waitForSignal(w.value)
}

func (w *TimelineSemaphoreWaiter) Value() uint64 {
	w.noCopy.Check()
	return w.value
}

/*
HostTimeline is a Timeline signaled from the CPU, it backs headless devices and
lets tests decide exactly when a frame counts as retired.
*/
type HostTimeline struct {
	mtx       sync.Mutex
	cond      sync.Cond
	value     uint64
	lost      bool
	destroyed bool
}

var _ Timeline = (*HostTimeline)(nil)

func NewHostTimeline() *HostTimeline {
	t := &HostTimeline{}
	t.cond.L = &t.mtx
	return t
}

func (t *HostTimeline) Value() (uint64, error) {
	t.mtx.Lock()
	defer t.mtx.Unlock()
	if t.lost {
		return t.value, ErrorDeviceLost{}
	}
	return t.value, nil
}

func (t *HostTimeline) Wait(value uint64) error {
	t.mtx.Lock()
	defer t.mtx.Unlock()
	for t.value < value && !t.lost && !t.destroyed {
		t.cond.Wait()
	}
	if t.lost {
		return ErrorDeviceLost{}
	}
	if t.value < value {
		return debug.Errorf("Timeline destroyed while waiting for %d", value)
	}
	return nil
}

func (t *HostTimeline) Signal(value uint64) error {
	t.mtx.Lock()
	defer t.mtx.Unlock()
	if t.lost {
		return ErrorDeviceLost{}
	}
	if value < t.value {
		return debug.Errorf("Timeline cannot go backwards: %d < %d", value, t.value)
	}
	t.value = value
	t.cond.Broadcast()
	return nil
}

// Lose simulates a device loss, every pending and future wait fails.
func (t *HostTimeline) Lose() {
	t.mtx.Lock()
	t.lost = true
	t.cond.Broadcast()
	t.mtx.Unlock()
}

func (t *HostTimeline) Destroy() {
	t.mtx.Lock()
	t.destroyed = true
	t.cond.Broadcast()
	t.mtx.Unlock()
}
