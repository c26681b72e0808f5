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

/*
Package headless implements vxrt.Device on the CPU. Command buffers record
strings, timelines are vxrt.HostTimelines signaled when a submission
"completes", either immediately, after a latency or when the test says so.
*/
package headless

import (
	"fmt"
	"sync"
	"time"

	"goarrg.com/debug"

	"goarrg.com/rhi/vxrt"
)

var logger = debug.NewLogger("vxrt", "internal", "headless")

type Config struct {
	Features vxrt.FeatureFlags
	// Latency delays completion of every submission, 0 completes on Submit
	Latency time.Duration
	// Manual leaves completion to Complete and WaitIdle
	Manual bool
	// DescriptorLimit makes descriptor pools run dry after that many sets,
	// before their maxSets, 0 disables it
	DescriptorLimit int32
}

type Submission struct {
	Frame   int
	Batches []vxrt.SubmitBatch
	Signal  uint64
	Present bool
}

type pendingSignal struct {
	timeline vxrt.Timeline
	value    uint64
}

type Device struct {
	config Config

	mtx          sync.Mutex
	lost         bool
	outOfDate    bool
	acquired     map[int]bool
	submissions  []Submission
	pending      []pendingSignal
	timelines    []*vxrt.HostTimeline
	commandPools int
	recreations  int
	inflight     sync.WaitGroup
}

var _ vxrt.Device = (*Device)(nil)

func New(cfg Config) *Device {
	if cfg.Features == 0 {
		cfg.Features = vxrt.FeatureTimelineSemaphore | vxrt.FeatureDescriptorIndexing |
			vxrt.FeatureAccelerationStructure | vxrt.FeatureRayQuery
	}
	logger.IPrintf("Headless device with features %s", cfg.Features)
	return &Device{config: cfg, acquired: map[int]bool{}}
}

func (d *Device) Features() vxrt.FeatureFlags {
	return d.config.Features
}

func (d *Device) NewCommandPool(name string, queue vxrt.QueueKind) (vxrt.CommandPool, error) {
	d.mtx.Lock()
	defer d.mtx.Unlock()
	if d.lost {
		return nil, vxrt.ErrorDeviceLost{}
	}
	d.commandPools++
	return &CommandPool{name: name, queue: queue}, nil
}

func (d *Device) NewDescriptorPool(name string, maxSets int32) (vxrt.DescriptorPool, error) {
	limit := maxSets
	if d.config.DescriptorLimit > 0 && d.config.DescriptorLimit < limit {
		limit = d.config.DescriptorLimit
	}
	return &DescriptorPool{name: name, maxSets: maxSets, limit: limit}, nil
}

func (d *Device) NewTimeline(name string) (vxrt.Timeline, error) {
	d.mtx.Lock()
	defer d.mtx.Unlock()
	if d.lost {
		return nil, vxrt.ErrorDeviceLost{}
	}
	t := vxrt.NewHostTimeline()
	d.timelines = append(d.timelines, t)
	logger.VPrintf("Created timeline %q", name)
	return t, nil
}

func (d *Device) AcquireSurface(frame int) error {
	d.mtx.Lock()
	defer d.mtx.Unlock()
	if d.lost {
		return vxrt.ErrorDeviceLost{}
	}
	if d.outOfDate {
		return vxrt.ErrorSurfaceOutOfDate{}
	}
	d.acquired[frame] = true
	return nil
}

func (d *Device) Submit(frame int, batches []vxrt.SubmitBatch, signal vxrt.TimelineSignal) error {
	for _, b := range batches {
		for _, cb := range b.CommandBuffers {
			c, ok := cb.(*CommandBuffer)
			if !ok {
				return debug.Errorf("Foreign command buffer %q", cb.Name())
			}
			if err := c.submittable(); err != nil {
				return err
			}
		}
	}

	d.mtx.Lock()
	defer d.mtx.Unlock()
	if d.lost {
		return vxrt.ErrorDeviceLost{}
	}
	d.submissions = append(d.submissions, Submission{Frame: frame, Batches: batches, Signal: signal.Value})

	switch {
	case d.config.Manual:
		d.pending = append(d.pending, pendingSignal{timeline: signal.Timeline, value: signal.Value})
	case d.config.Latency > 0:
		d.inflight.Add(1)
		go func() {
			defer d.inflight.Done()
			time.Sleep(d.config.Latency)
			if err := signal.Timeline.Signal(signal.Value); err != nil {
				logger.WPrintf("Failed to complete submission of frame %d: %v", frame, err)
			}
		}()
	default:
		return signal.Timeline.Signal(signal.Value)
	}
	return nil
}

func (d *Device) Present(frame int) error {
	d.mtx.Lock()
	defer d.mtx.Unlock()
	if d.lost {
		return vxrt.ErrorDeviceLost{}
	}
	if !d.acquired[frame] {
		return debug.Errorf("Present of frame %d without an acquired surface", frame)
	}
	delete(d.acquired, frame)
	if len(d.submissions) > 0 {
		d.submissions[len(d.submissions)-1].Present = true
	}
	if d.outOfDate {
		return vxrt.ErrorSurfaceOutOfDate{}
	}
	return nil
}

func (d *Device) RecreateSurface() error {
	d.mtx.Lock()
	defer d.mtx.Unlock()
	if d.lost {
		return vxrt.ErrorDeviceLost{}
	}
	d.outOfDate = false
	clear(d.acquired)
	d.recreations++
	return nil
}

// Complete finishes the n oldest pending submissions in Manual mode.
func (d *Device) Complete(n int) error {
	d.mtx.Lock()
	n = min(n, len(d.pending))
	done := append([]pendingSignal(nil), d.pending[:n]...)
	d.pending = d.pending[n:]
	d.mtx.Unlock()

	for _, p := range done {
		if err := p.timeline.Signal(p.value); err != nil {
			return err
		}
	}
	return nil
}

func (d *Device) Pending() int {
	d.mtx.Lock()
	defer d.mtx.Unlock()
	return len(d.pending)
}

func (d *Device) WaitIdle() error {
	d.inflight.Wait()
	if err := d.Complete(d.Pending()); err != nil {
		return err
	}
	d.mtx.Lock()
	defer d.mtx.Unlock()
	if d.lost {
		return vxrt.ErrorDeviceLost{}
	}
	return nil
}

// Invalidate makes the surface go out of date until RecreateSurface.
func (d *Device) Invalidate() {
	d.mtx.Lock()
	defer d.mtx.Unlock()
	d.outOfDate = true
}

// Lose simulates a device loss, every timeline wait fails from now on.
func (d *Device) Lose() {
	d.mtx.Lock()
	defer d.mtx.Unlock()
	d.lost = true
	for _, t := range d.timelines {
		t.Lose()
	}
	logger.WPrintf("Device lost")
}

func (d *Device) Submissions() []Submission {
	d.mtx.Lock()
	defer d.mtx.Unlock()
	return append([]Submission(nil), d.submissions...)
}

func (d *Device) Recreations() int {
	d.mtx.Lock()
	defer d.mtx.Unlock()
	return d.recreations
}

func (d *Device) CommandPools() int {
	d.mtx.Lock()
	defer d.mtx.Unlock()
	return d.commandPools
}

func (d *Device) String() string {
	d.mtx.Lock()
	defer d.mtx.Unlock()
	return fmt.Sprintf("headless{submissions: %d, pending: %d, lost: %t}", len(d.submissions), len(d.pending), d.lost)
}
