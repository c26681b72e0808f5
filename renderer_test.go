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

package vxrt_test

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"goarrg.com/rhi/vxrt"
	"goarrg.com/rhi/vxrt/internal/headless"
)

func newRenderer(t *testing.T, dev *headless.Device, cfg vxrt.Config) *vxrt.Renderer {
	t.Helper()
	cfg.Name = t.Name()
	r, err := vxrt.New(dev, cfg)
	require.NoError(t, err)
	return r
}

func recordItem(class vxrt.SubmitClass) vxrt.WorkItem {
	return vxrt.WorkFunc(0, func(w *vxrt.Worker) error {
		cb, err := w.CommandBuffer(class)
		if err != nil {
			return err
		}
		cb.(*headless.CommandBuffer).Record("dispatch")
		return nil
	})
}

func countBuffers(sub headless.Submission) int {
	n := 0
	for _, b := range sub.Batches {
		n += len(b.CommandBuffers)
	}
	return n
}

func TestRendererFrames(t *testing.T) {
	dev := headless.New(headless.Config{})
	r := newRenderer(t, dev, vxrt.Config{MaxFramesInFlight: 2, NumWorkers: 3})

	for i := range 10 {
		require.NoError(t, r.RenderFrame(func(f *vxrt.Frame) error {
			require.NoError(t, f.AcquireSurface())
			assert.Equal(t, i%2, f.Index())
			for j := range 20 {
				r.Scheduler().AddWork(recordItem(vxrt.SubmitClasses[j%len(vxrt.SubmitClasses)]))
			}
			return nil
		}))
	}

	subs := dev.Submissions()
	require.Len(t, subs, 10)
	for i, sub := range subs {
		assert.Equal(t, i%2, sub.Frame)
		assert.Equal(t, uint64(i+1), sub.Signal)
		assert.True(t, sub.Present)
		assert.Equal(t, 20, countBuffers(sub))
		for j := 1; j < len(sub.Batches); j++ {
			assert.Less(t, sub.Batches[j-1].Class, sub.Batches[j].Class)
		}
	}

	stats := r.Stats()
	assert.Equal(t, uint64(10), stats.FramesSubmitted)
	assert.Equal(t, uint64(200), stats.Scheduler.Executed)
	require.NoError(t, r.Destroy())
}

func TestRendererRetirementWaitsForGPU(t *testing.T) {
	dev := headless.New(headless.Config{Manual: true})
	r := newRenderer(t, dev, vxrt.Config{MaxFramesInFlight: 2, NumWorkers: 2})

	destroyed := atomic.Int32{}
	require.NoError(t, r.RenderFrame(func(f *vxrt.Frame) error {
		for range 8 {
			r.Scheduler().AddWork(vxrt.WorkFunc(0, func(w *vxrt.Worker) error {
				w.GPUResource(vxrt.DestroyFunc(func() { destroyed.Add(1) }))
				return nil
			}))
		}
		return nil
	}))
	require.NoError(t, r.RenderFrame(func(*vxrt.Frame) error { return nil }))

	type result struct {
		frame *vxrt.Frame
		err   error
	}
	done := make(chan result)
	go func() {
		f, err := r.FrameBegin()
		done <- result{f, err}
	}()

	select {
	case <-done:
		t.Fatal("FrameBegin reused frame 0 before the GPU retired it")
	case <-time.After(50 * time.Millisecond):
	}
	assert.Zero(t, destroyed.Load())

	require.NoError(t, dev.Complete(1))
	res := <-done
	require.NoError(t, res.err)
	assert.Equal(t, 0, res.frame.Index())
	assert.Equal(t, int32(8), destroyed.Load())

	require.NoError(t, res.frame.End())
	require.NoError(t, r.Destroy())
}

func TestRendererRecreate(t *testing.T) {
	dev := headless.New(headless.Config{})
	r := newRenderer(t, dev, vxrt.Config{MaxFramesInFlight: 2, NumWorkers: 2})

	render := func(f *vxrt.Frame) error {
		if err := f.AcquireSurface(); err != nil {
			return err
		}
		for range 5 {
			r.Scheduler().AddWork(recordItem(vxrt.SubmitPrimaryGraphics))
		}
		return nil
	}
	for range 3 {
		require.NoError(t, r.RenderFrame(render))
	}

	dev.Invalidate()
	require.NoError(t, r.RenderFrame(render))
	assert.Equal(t, 1, dev.Recreations())
	assert.Equal(t, uint64(1), r.Stats().Recreations)

	subs := dev.Submissions()
	require.Len(t, subs, 5)
	assert.Zero(t, countBuffers(subs[3]), "the out of date attempt submits nothing")
	assert.False(t, subs[3].Present)
	assert.Equal(t, 0, subs[4].Frame, "frames restart after a recreate")
	assert.Equal(t, 5, countBuffers(subs[4]))
	require.NoError(t, r.Destroy())
}

func TestRendererDeviceLost(t *testing.T) {
	dev := headless.New(headless.Config{Manual: true})
	r := newRenderer(t, dev, vxrt.Config{MaxFramesInFlight: 2, NumWorkers: 1})

	for range 2 {
		require.NoError(t, r.RenderFrame(func(*vxrt.Frame) error { return nil }))
	}
	dev.Lose()

	_, err := r.FrameBegin()
	require.Error(t, err)
	assert.ErrorIs(t, err, vxrt.ErrorDeviceLost{})
	assert.NoError(t, r.Destroy())
}

func TestRendererWorkFailure(t *testing.T) {
	dev := headless.New(headless.Config{})
	r := newRenderer(t, dev, vxrt.Config{MaxFramesInFlight: 1, NumWorkers: 2})

	err := r.RenderFrame(func(*vxrt.Frame) error {
		r.Scheduler().AddWork(vxrt.WorkFunc(0, func(*vxrt.Worker) error { return errBadContent }))
		return nil
	})
	assert.ErrorIs(t, err, errBadContent)
	assert.Empty(t, dev.Submissions())
	assert.ErrorIs(t, r.Destroy(), errBadContent)
}

func TestRendererCancel(t *testing.T) {
	dev := headless.New(headless.Config{})
	r := newRenderer(t, dev, vxrt.Config{MaxFramesInFlight: 1, NumWorkers: 1})

	f, err := r.FrameBegin()
	require.NoError(t, err)
	assert.Panics(t, func() { r.FrameBegin() })
	r.Scheduler().AddWork(recordItem(vxrt.SubmitCompute))
	require.NoError(t, f.Cancel())
	assert.Empty(t, dev.Submissions())

	f, err = r.FrameBegin()
	require.NoError(t, err)
	require.NoError(t, f.End())
	subs := dev.Submissions()
	require.Len(t, subs, 1)
	assert.Equal(t, 1, countBuffers(subs[0]), "work of the cancelled frame is submitted with the next one")

	f, err = r.FrameBegin()
	require.NoError(t, err)
	require.NoError(t, f.AcquireSurface())
	assert.Panics(t, func() { f.Cancel() })
	require.NoError(t, f.End())
	require.NoError(t, r.Destroy())
}

func TestRendererDescriptorBanks(t *testing.T) {
	dev := headless.New(headless.Config{DescriptorLimit: 3})
	r := newRenderer(t, dev, vxrt.Config{MaxFramesInFlight: 1, NumWorkers: 1, DescriptorPoolBankSize: 4})

	allocate := func(n int) func(*vxrt.Frame) error {
		return func(*vxrt.Frame) error {
			r.Scheduler().AddWork(vxrt.WorkFunc(0, func(w *vxrt.Worker) error {
				for range n {
					set, err := w.AllocateDescriptorSet(headless.DescriptorSetLayout("material"))
					if err != nil {
						return err
					}
					if set.Layout().ID() != "material" {
						return errBadContent
					}
				}
				return nil
			}))
			return nil
		}
	}

	require.NoError(t, r.RenderFrame(allocate(10)))
	assert.Equal(t, 4, r.Scheduler().DescriptorBanks(0, 0))

	require.NoError(t, r.RenderFrame(allocate(3)))
	assert.Equal(t, 4, r.Scheduler().DescriptorBanks(0, 0), "banks are reset and reused")
	require.NoError(t, r.Destroy())
}

func TestRendererQueueDestroy(t *testing.T) {
	dev := headless.New(headless.Config{Manual: true})
	r := newRenderer(t, dev, vxrt.Config{MaxFramesInFlight: 1, NumWorkers: 1})

	destroyed := atomic.Int32{}
	r.QueueDestroy(vxrt.DestroyFunc(func() { destroyed.Add(1) }))
	require.NoError(t, r.RenderFrame(func(f *vxrt.Frame) error {
		f.QueueDestroy(vxrt.DestroyFunc(func() { destroyed.Add(1) }))
		return nil
	}))
	assert.Zero(t, destroyed.Load())

	require.NoError(t, dev.Complete(1))
	f, err := r.FrameBegin()
	require.NoError(t, err)
	assert.Equal(t, int32(2), destroyed.Load())
	require.NoError(t, f.End())
	require.NoError(t, r.Destroy())
}

func TestRendererQueueDestroyBacklog(t *testing.T) {
	dev := headless.New(headless.Config{Manual: true})
	r := newRenderer(t, dev, vxrt.Config{MaxFramesInFlight: 1, NumWorkers: 1})

	destroyed := atomic.Int32{}
	g := errgroup.Group{}
	for range 4 {
		g.Go(func() error {
			for range 100 {
				r.QueueDestroy(vxrt.DestroyFunc(func() { destroyed.Add(1) }))
			}
			return nil
		})
	}
	// no frame is open, nothing drains the queue until End
	for range 100 {
		r.QueueDestroy(vxrt.DestroyFunc(func() { destroyed.Add(1) }))
	}
	require.NoError(t, g.Wait())

	require.NoError(t, r.RenderFrame(func(*vxrt.Frame) error { return nil }))
	assert.Zero(t, destroyed.Load())

	require.NoError(t, dev.Complete(1))
	f, err := r.FrameBegin()
	require.NoError(t, err)
	assert.Equal(t, int32(500), destroyed.Load())
	require.NoError(t, f.End())

	r.QueueDestroy(vxrt.DestroyFunc(func() { destroyed.Add(1) }), vxrt.DestroyFunc(func() { destroyed.Add(1) }))
	require.NoError(t, r.Destroy())
	assert.Equal(t, int32(502), destroyed.Load())
}
