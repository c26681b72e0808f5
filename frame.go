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
	"errors"
	"fmt"

	"goarrg.com/debug"

	"goarrg.com/rhi/vxrt/internal/util"
)

type frame struct {
	waiter     *TimelineSemaphoreWaiter
	destroyers []Destroyer
	// retired is set once the slot's previous submission is known complete
	// and cleared when the slot is submitted again
	retired bool
}

func (f *frame) wait() error {
	if f.waiter != nil {
		if err := f.waiter.Wait(); err != nil {
			return err
		}
		f.waiter = nil
	}
	for _, d := range f.destroyers {
		d.Destroy()
	}
	clear(f.destroyers)
	f.destroyers = f.destroyers[:0]
	return nil
}

type Frame struct {
	noCopy     util.NoCopy
	renderer   *Renderer
	frame      *frame
	index      int
	name       string
	acquired   bool
	cancelable bool
}

/*
FrameBegin waits for the GPU to retire the next frame in flight slot, then
releases everything that slot held: finished work items, worker command and
descriptor pools and destroyers queued with it. Workers are let back in
afterwards and record into the returned Frame until End.
*/
func (r *Renderer) FrameBegin() (*Frame, error) {
	r.noCopy.Check()
	if r.frameStarted {
		abort("FrameBegin called when there's an active frame")
	}

	index := r.scheduler.Frame()
	f := &r.frames[index]
	if !f.retired {
		if err := f.wait(); err != nil {
			return nil, debug.ErrorWrapf(err, "Failed to wait for frame %d", index)
		}
		if err := r.scheduler.ClearProcessed(index); err != nil {
			return nil, debug.ErrorWrapf(err, "Failed to retire frame %d", index)
		}
		n := r.scheduler.DeleteFinished()
		instance.logger.VPrintf("Frame %d retired %d work items", index, n)
		f.retired = true
	}

	r.scheduler.unseal()
	if _, err := r.scheduler.Advance(); err != nil {
		return nil, err
	}

	ret := Frame{renderer: r, frame: f, index: index, name: fmt.Sprintf("%s_frame_%d", r.config.name, index), cancelable: true}
	ret.noCopy.Init()
	r.frameStarted = true
	return &ret, nil
}

func (f *Frame) Index() int {
	f.noCopy.Check()
	return f.index
}

func (f *Frame) Name() string {
	f.noCopy.Check()
	return f.name
}

/*
AcquireSurface acquires the swapchain image for this frame, it returns
ErrorSurfaceOutOfDate until the Renderer is recreated once the surface has
gone out of date.
*/
func (f *Frame) AcquireSurface() error {
	f.noCopy.Check()
	r := f.renderer
	if r.sleep {
		return ErrorSurfaceOutOfDate{}
	}
	if f.acquired {
		return nil
	}
	if err := r.device.AcquireSurface(f.index); err != nil {
		if errors.Is(err, ErrorSurfaceOutOfDate{}) {
			r.sleep = true
			return err
		}
		return debug.ErrorWrapf(err, "Failed to acquire surface for %s", f.name)
	}
	f.acquired = true
	f.cancelable = false
	return nil
}

// Queue adds command buffers recorded on the render thread, they are
// submitted ahead of the Workers' for the same class.
func (f *Frame) Queue(class SubmitClass, cbs ...CommandBuffer) {
	f.noCopy.Check()
	f.renderer.scheduler.Queue(f.index, class, cbs...)
	f.cancelable = false
}

/*
QueueDestroy is a convenience function to avoid having to store destroyers
until the end of the frame, they run once the GPU retires this frame.
*/
func (f *Frame) QueueDestroy(destroyers ...Destroyer) {
	f.noCopy.Check()
	f.frame.destroyers = append(f.frame.destroyers, destroyers...)
}

/*
Cancel ends the frame without submitting. Work items already executed for it
stay pending and are submitted by the next frame using the same slot.
*/
func (f *Frame) Cancel() error {
	f.noCopy.Check()
	if !f.cancelable {
		abort("Cannot cancel frame with acquired surface or queued command buffers")
	}
	r := f.renderer
	err := r.scheduler.waitIdleAndSeal()
	r.frameStarted = false
	f.noCopy.Close()
	return err
}

/*
End waits for the Workers, submits every class of command buffer recorded for
the frame together with a timeline signal, and presents if a surface was
acquired. The frame is closed even if an error is returned.
*/
func (f *Frame) End() error {
	f.noCopy.Check()
	r := f.renderer
	defer func() {
		r.frameStarted = false
		f.noCopy.Close()
	}()

	if err := r.scheduler.waitIdleAndSeal(); err != nil {
		return err
	}

	var batches []SubmitBatch
	for _, class := range SubmitClasses {
		if cbs := r.scheduler.Collect(class, f.index); len(cbs) > 0 {
			batches = append(batches, SubmitBatch{Class: class, CommandBuffers: cbs})
		}
	}

	signal := r.timeline.signalInfo()
	if err := r.device.Submit(f.index, batches, signal); err != nil {
		return debug.ErrorWrapf(err, "Failed to submit %s", f.name)
	}
	r.scheduler.BeginProcessing(f.index)
	f.frame.waiter = r.timeline.WaiterForValue(signal.Value)
	f.frame.retired = false

	f.frame.destroyers = append(f.frame.destroyers, r.takeDestroyers()...)

	r.scheduler.NextFrame()
	r.framesSubmitted++

	if f.acquired {
		if err := r.device.Present(f.index); err != nil {
			if errors.Is(err, ErrorSurfaceOutOfDate{}) {
				r.sleep = true
				return err
			}
			return debug.ErrorWrapf(err, "Failed to present %s", f.name)
		}
	}
	return nil
}
