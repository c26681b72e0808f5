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
	"slices"

	"goarrg.com/rhi/vxrt/internal/util"
)

/*
FrameState is the lifecycle of one frame in flight slot:
Idle -> Recording -> Submitted -> Retiring -> Finished -> Idle.
Transitions are made by the render thread through the Scheduler.
*/
type FrameState uint32

const (
	FrameIdle FrameState = iota
	FrameRecording
	FrameSubmitted
	FrameRetiring
	FrameFinished
)

func (s FrameState) String() string {
	switch s {
	case FrameIdle:
		return "Idle"
	case FrameRecording:
		return "Recording"
	case FrameSubmitted:
		return "Submitted"
	case FrameRetiring:
		return "Retiring"
	case FrameFinished:
		return "Finished"
	default:
		abort("Unknown FrameState: %d", s)
	}
	return ""
}

var frameTransitions = [...][]FrameState{
	FrameIdle:      {FrameRecording, FrameSubmitted, FrameFinished},
	FrameRecording: {FrameSubmitted},
	FrameSubmitted: {FrameRetiring, FrameFinished},
	FrameRetiring:  {FrameFinished},
	FrameFinished:  {FrameIdle, FrameRecording, FrameSubmitted},
}

func (s FrameState) canTransition(to FrameState) bool {
	return slices.Contains(frameTransitions[s], to)
}

type frameBucket struct {
	buffers    [numSubmitClasses][]CommandBuffer
	destroyers []Destroyer
}

/*
FrameResources holds, per frame in flight, the command buffers waiting to be
submitted grouped by SubmitClass, and objects whose destruction has to wait
for the GPU to retire that frame. It has a single writer, either a Worker or
the render thread, and must only be collected while that writer is idle.
*/
type FrameResources struct {
	noCopy util.NoCopy
	name   string
	frames []frameBucket
}

func NewFrameResources(name string, numFrames int) *FrameResources {
	if numFrames <= 0 {
		abort("FrameResources %q needs at least 1 frame", name)
	}
	r := FrameResources{name: name, frames: make([]frameBucket, numFrames)}
	r.noCopy.Init()
	return &r
}

func (r *FrameResources) bucket(frame int) *frameBucket {
	r.noCopy.Check()
	if frame < 0 || frame >= len(r.frames) {
		abort("FrameResources %q: frame %d out of range [0, %d)", r.name, frame, len(r.frames))
	}
	return &r.frames[frame]
}

func (r *FrameResources) Queue(frame int, class SubmitClass, cbs ...CommandBuffer) {
	b := r.bucket(frame)
	b.buffers[class] = append(b.buffers[class], cbs...)
}

// Collect returns and clears the command buffers queued for frame and class.
func (r *FrameResources) Collect(frame int, class SubmitClass) []CommandBuffer {
	b := r.bucket(frame)
	ret := b.buffers[class]
	b.buffers[class] = nil
	return ret
}

func (r *FrameResources) Len(frame int, class SubmitClass) int {
	return len(r.bucket(frame).buffers[class])
}

// GPUResource defers d until Release is called for frame.
func (r *FrameResources) GPUResource(frame int, d ...Destroyer) {
	b := r.bucket(frame)
	b.destroyers = append(b.destroyers, d...)
}

// Release destroys everything deferred for frame, in the order it was added.
func (r *FrameResources) Release(frame int) int {
	b := r.bucket(frame)
	n := len(b.destroyers)
	for _, d := range b.destroyers {
		d.Destroy()
	}
	clear(b.destroyers)
	b.destroyers = b.destroyers[:0]
	return n
}

// Discard drops command buffers that were never collected for frame.
func (r *FrameResources) Discard(frame int) int {
	b := r.bucket(frame)
	n := 0
	for c := range b.buffers {
		n += len(b.buffers[c])
		b.buffers[c] = nil
	}
	return n
}
