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

type Destroyer interface {
	Destroy()
}

type destroyFunc struct {
	f func()
}

func (d destroyFunc) Destroy() {
	d.f()
}

// DestroyFunc adapts f into a Destroyer.
func DestroyFunc(f func()) Destroyer {
	return destroyFunc{f}
}

type FeatureFlags uint64

const (
	FeatureTimelineSemaphore FeatureFlags = 1 << iota
	FeatureDescriptorIndexing
	FeatureAccelerationStructure
	FeatureRayQuery
)

func (f FeatureFlags) String() string {
	str := ""
	if hasBits(f, FeatureTimelineSemaphore) {
		str += "TimelineSemaphore|"
	}
	if hasBits(f, FeatureDescriptorIndexing) {
		str += "DescriptorIndexing|"
	}
	if hasBits(f, FeatureAccelerationStructure) {
		str += "AccelerationStructure|"
	}
	if hasBits(f, FeatureRayQuery) {
		str += "RayQuery|"
	}
	if str == "" {
		return "None"
	}
	return str[:len(str)-1]
}

type QueueKind uint32

const (
	QueueGraphics QueueKind = iota
	QueueCompute
)

func (q QueueKind) String() string {
	switch q {
	case QueueGraphics:
		return "Graphics"
	case QueueCompute:
		return "Compute"
	default:
		abort("Unknown QueueKind: %d", q)
	}
	return ""
}

type CommandBufferLevel uint32

const (
	CommandBufferPrimary CommandBufferLevel = iota
	CommandBufferSecondary
)

/*
SubmitClass groups command buffers of a frame by how they are handed to the
device, Device.Submit receives one SubmitBatch per class in declaration order.
*/
type SubmitClass uint32

const (
	SubmitCompute SubmitClass = iota
	SubmitShadow
	SubmitPrimaryGraphics
	SubmitSecondaryGraphics
	SubmitParticle

	numSubmitClasses
)

// SubmitClasses lists every SubmitClass in submission order.
var SubmitClasses = [numSubmitClasses]SubmitClass{
	SubmitCompute, SubmitShadow, SubmitPrimaryGraphics, SubmitSecondaryGraphics, SubmitParticle,
}

func (c SubmitClass) String() string {
	switch c {
	case SubmitCompute:
		return "Compute"
	case SubmitShadow:
		return "Shadow"
	case SubmitPrimaryGraphics:
		return "PrimaryGraphics"
	case SubmitSecondaryGraphics:
		return "SecondaryGraphics"
	case SubmitParticle:
		return "Particle"
	default:
		abort("Unknown SubmitClass: %d", c)
	}
	return ""
}

func (c SubmitClass) queue() QueueKind {
	if c == SubmitCompute {
		return QueueCompute
	}
	return QueueGraphics
}

func (c SubmitClass) level() CommandBufferLevel {
	if c == SubmitSecondaryGraphics {
		return CommandBufferSecondary
	}
	return CommandBufferPrimary
}

/*
CommandBuffer is a native command buffer in the recording state, what gets
recorded into it is up to the WorkItem and the device implementation.
*/
type CommandBuffer interface {
	Name() string
	End() error
}

type CommandPool interface {
	Destroyer
	Allocate(name string, level CommandBufferLevel) (CommandBuffer, error)
	// Reset returns every CommandBuffer allocated from the pool to the pool,
	// it is only called once the GPU has retired all of them.
	Reset() error
}

type DescriptorSetLayout interface {
	ID() string
}

type DescriptorSet interface {
	Layout() DescriptorSetLayout
}

type DescriptorPool interface {
	Destroyer
	// Allocate returns ErrorPoolExhausted once the pool cannot serve layout anymore.
	Allocate(layout DescriptorSetLayout) (DescriptorSet, error)
	Reset() error
}

type ErrorPoolExhausted struct{}

func (ErrorPoolExhausted) Is(target error) bool {
	_, ok := target.(ErrorPoolExhausted)
	return ok
}

func (ErrorPoolExhausted) Error() string {
	return "Pool Exhausted"
}

/*
Timeline is a device timeline semaphore or an equivalent fence counter.
Wait returns ErrorDeviceLost if the device is lost while waiting.
*/
type Timeline interface {
	Destroyer
	Value() (uint64, error)
	Wait(value uint64) error
	Signal(value uint64) error
}

type TimelineSignal struct {
	Timeline Timeline
	Value    uint64
}

type SubmitBatch struct {
	Class          SubmitClass
	CommandBuffers []CommandBuffer
}

/*
Device is everything the core needs from the graphics device. Command pools and
descriptor pools are only ever used by the worker that created them, the other
calls are only made from the render thread.
*/
type Device interface {
	Features() FeatureFlags

	NewCommandPool(name string, queue QueueKind) (CommandPool, error)
	NewDescriptorPool(name string, maxSets int32) (DescriptorPool, error)
	NewTimeline(name string) (Timeline, error)

	// AcquireSurface and Present return ErrorSurfaceOutOfDate when the
	// swapchain has to be recreated.
	AcquireSurface(frame int) error
	Submit(frame int, batches []SubmitBatch, signal TimelineSignal) error
	Present(frame int) error
	RecreateSurface() error

	WaitIdle() error
}
