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
	"errors"
	"fmt"
	"sync"
	"time"

	"goarrg.com/debug"

	"goarrg.com/rhi/vxrt/internal/util"
)

/*
Renderer owns the frames in flight ring, the Scheduler feeding it and the
timeline the GPU signals as frames complete. All methods must be called from
the render thread, except QueueDestroy.
*/
type Renderer struct {
	noCopy    util.NoCopy
	device    Device
	config    config
	scheduler *Scheduler
	timeline  *TimelineSemaphore

	frames       []frame
	frameStarted bool
	sleep        bool

	destroyMtx sync.Mutex
	destroyers []Destroyer

	framesSubmitted uint64
	recreations     uint64
}

func New(dev Device, cfg Config) (*Renderer, error) {
	cfg.validate()
	instance.logger.IPrintf("User requested config: %s", prettyString(&cfg))
	if err := cfg.checkDevice(dev); err != nil {
		return nil, debug.ErrorWrapf(err, "Unsupported device")
	}

	r := &Renderer{device: dev}
	r.config.use(cfg)

	var err error
	if r.scheduler, err = NewScheduler(dev, cfg); err != nil {
		return nil, err
	}
	// workers stay out of slot 0 until the first FrameBegin has retired it
	if err := r.scheduler.waitIdleAndSeal(); err != nil {
		r.scheduler.Close()
		return nil, err
	}
	if r.timeline, err = NewTimelineSemaphore(dev, r.config.name+"_frames"); err != nil {
		r.scheduler.Close()
		return nil, err
	}
	r.frames = make([]frame, r.config.maxFramesInFlight)
	r.noCopy.Init()

	instance.logger.IPrintf("Initialization Completed")
	return r, nil
}

func (r *Renderer) Device() Device {
	r.noCopy.Check()
	return r.device
}

func (r *Renderer) Scheduler() *Scheduler {
	r.noCopy.Check()
	return r.scheduler
}

/*
QueueDestroy defers d until the frame currently being recorded, or the next
one to end, is retired by the GPU. It is safe to call from any goroutine and
never blocks.
*/
func (r *Renderer) QueueDestroy(d ...Destroyer) {
	r.destroyMtx.Lock()
	defer r.destroyMtx.Unlock()
	r.destroyers = append(r.destroyers, d...)
}

func (r *Renderer) takeDestroyers() []Destroyer {
	r.destroyMtx.Lock()
	defer r.destroyMtx.Unlock()
	ret := r.destroyers
	r.destroyers = nil
	return ret
}

/*
RenderFrame runs f between FrameBegin and End. If the surface went out of date
the Renderer is recreated and the frame retried once.
*/
func (r *Renderer) RenderFrame(f func(*Frame) error) error {
	r.noCopy.Check()
	for attempt := 0; ; attempt++ {
		err := r.renderFrame(f)
		if attempt > 0 || !errors.Is(err, ErrorSurfaceOutOfDate{}) {
			return err
		}
		instance.logger.WPrintf("Surface out of date, recreating")
		if err := r.Recreate(); err != nil {
			return err
		}
	}
}

func (r *Renderer) renderFrame(f func(*Frame) error) error {
	frame, err := r.FrameBegin()
	if err != nil {
		return err
	}
	userErr := f(frame)
	endErr := frame.End()
	if userErr != nil {
		if endErr != nil {
			instance.logger.WPrintf("Failed to end %s after error: %v", frame.name, endErr)
		}
		return userErr
	}
	return endErr
}

/*
Recreate waits for the device, abandons all scheduler state as the GPU work it
tracked went with the old surface, and recreates the surface.
*/
func (r *Renderer) Recreate() error {
	r.noCopy.Check()
	if r.frameStarted {
		abort("Recreate called when there's an active frame")
	}
	start := time.Now()

	if err := r.device.WaitIdle(); err != nil {
		return debug.ErrorWrapf(err, "Failed to wait for device")
	}
	if err := r.scheduler.waitIdleAndSeal(); err != nil {
		return err
	}
	for i := range r.frames {
		if err := r.frames[i].wait(); err != nil {
			return debug.ErrorWrapf(err, "Failed to wait for frame %d", i)
		}
		r.frames[i].retired = false
	}
	r.scheduler.Reset()

	if err := r.device.RecreateSurface(); err != nil {
		return debug.ErrorWrapf(err, "Failed to recreate surface")
	}
	r.sleep = false
	r.recreations++
	instance.logger.IPrintf("Recreate took: %v", time.Since(start))
	return nil
}

type RendererStats struct {
	FramesSubmitted uint64
	Recreations     uint64
	Scheduler       SchedulerStats
}

func (s RendererStats) MarshalJSON() ([]byte, error) {
	buff := bytes.Buffer{}
	buff.WriteString("{")

	buff.WriteString(fmt.Sprintf("\"FramesSubmitted\": %d,", s.FramesSubmitted))
	buff.WriteString(fmt.Sprintf("\"Recreations\": %d,", s.Recreations))
	buff.WriteString(fmt.Sprintf("\"Scheduler\": %s", jsonString(s.Scheduler)))

	buff.WriteString("}")
	return buff.Bytes(), nil
}

func (r *Renderer) Stats() RendererStats {
	r.noCopy.Check()
	return RendererStats{
		FramesSubmitted: r.framesSubmitted,
		Recreations:     r.recreations,
		Scheduler:       r.scheduler.Stats(),
	}
}

// Destroy waits for the device and releases everything, the returned error is
// the first work item failure, if any.
func (r *Renderer) Destroy() error {
	r.noCopy.Check()
	if r.frameStarted {
		abort("Destroy called when there's an active frame")
	}

	if err := r.device.WaitIdle(); err != nil {
		instance.logger.WPrintf("Failed to wait for device: %v", err)
	}
	for i := range r.frames {
		if err := r.frames[i].wait(); err != nil {
			instance.logger.WPrintf("Failed to wait for frame %d: %v", i, err)
		}
	}

	for _, d := range r.takeDestroyers() {
		d.Destroy()
	}

	instance.logger.VPrintf("Stats: %s", prettyString(r.Stats()))
	err := r.scheduler.Close()
	r.timeline.Destroy()
	r.noCopy.Close()
	instance.logger.IPrintf("Destroyed")
	return err
}
