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


package headless

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"goarrg.com/rhi/vxrt"
)

func submit(t *testing.T, d *Device, frame int, value uint64) vxrt.Timeline {
	t.Helper()
	timeline, err := d.NewTimeline("test")
	require.NoError(t, err)
	pool, err := d.NewCommandPool("pool", vxrt.QueueGraphics)
	require.NoError(t, err)
	cb, err := pool.Allocate("cb", vxrt.CommandBufferPrimary)
	require.NoError(t, err)
	require.NoError(t, cb.End())
	require.NoError(t, d.Submit(frame, []vxrt.SubmitBatch{
		{Class: vxrt.SubmitPrimaryGraphics, CommandBuffers: []vxrt.CommandBuffer{cb}},
	}, vxrt.TimelineSignal{Timeline: timeline, Value: value}))
	return timeline
}

func TestDeviceManual(t *testing.T) {
	d := New(Config{Manual: true})
	timeline := submit(t, d, 0, 3)

	v, err := timeline.Value()
	require.NoError(t, err)
	assert.Zero(t, v)
	assert.Equal(t, 1, d.Pending())

	require.NoError(t, d.Complete(5))
	v, _ = timeline.Value()
	assert.Equal(t, uint64(3), v)
	assert.Zero(t, d.Pending())
	require.Len(t, d.Submissions(), 1)
}

func TestDeviceLatency(t *testing.T) {
	d := New(Config{Latency: 5 * time.Millisecond})
	timeline := submit(t, d, 1, 1)
	require.NoError(t, timeline.Wait(1))
	require.NoError(t, d.WaitIdle())
}

func TestDeviceSurface(t *testing.T) {
	d := New(Config{})
	assert.Error(t, d.Present(0))

	require.NoError(t, d.AcquireSurface(0))
	d.Invalidate()
	assert.ErrorIs(t, d.AcquireSurface(1), vxrt.ErrorSurfaceOutOfDate{})
	assert.ErrorIs(t, d.Present(0), vxrt.ErrorSurfaceOutOfDate{})

	require.NoError(t, d.RecreateSurface())
	assert.Equal(t, 1, d.Recreations())
	require.NoError(t, d.AcquireSurface(1))

	d.Lose()
	assert.ErrorIs(t, d.AcquireSurface(0), vxrt.ErrorDeviceLost{})
	assert.ErrorIs(t, d.WaitIdle(), vxrt.ErrorDeviceLost{})
}

func TestCommandPool(t *testing.T) {
	d := New(Config{})
	p, err := d.NewCommandPool("pool", vxrt.QueueCompute)
	require.NoError(t, err)
	cb, err := p.Allocate("cb", vxrt.CommandBufferSecondary)
	require.NoError(t, err)

	c := cb.(*CommandBuffer)
	c.Record("draw")
	assert.Equal(t, vxrt.CommandBufferSecondary, c.Level())
	assert.Error(t, c.submittable())
	require.NoError(t, c.End())
	assert.Error(t, c.End())
	assert.Panics(t, func() { c.Record("late") })
	assert.NoError(t, c.submittable())

	require.NoError(t, p.Reset())
	assert.Equal(t, 1, p.(*CommandPool).Resets())
	assert.Error(t, c.submittable())
	assert.Equal(t, []string{"draw"}, c.Commands())

	p.Destroy()
	_, err = p.Allocate("after", vxrt.CommandBufferPrimary)
	assert.Error(t, err)
	assert.Equal(t, 1, d.CommandPools())
}

func TestDescriptorPool(t *testing.T) {
	d := New(Config{DescriptorLimit: 2})
	p, err := d.NewDescriptorPool("pool", 8)
	require.NoError(t, err)
	for range 2 {
		set, err := p.Allocate(DescriptorSetLayout("layout"))
		require.NoError(t, err)
		assert.Equal(t, "layout", set.Layout().ID())
	}
	_, err = p.Allocate(DescriptorSetLayout("layout"))
	assert.ErrorIs(t, err, vxrt.ErrorPoolExhausted{})

	require.NoError(t, p.Reset())
	_, err = p.Allocate(DescriptorSetLayout("layout"))
	assert.NoError(t, err)

	full, err := New(Config{}).NewDescriptorPool("full", 1)
	require.NoError(t, err)
	_, err = full.Allocate(DescriptorSetLayout("layout"))
	require.NoError(t, err)
	_, err = full.Allocate(DescriptorSetLayout("layout"))
	assert.ErrorIs(t, err, vxrt.ErrorPoolExhausted{})
}
