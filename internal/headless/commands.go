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
	"sync"

	"goarrg.com/debug"

	"goarrg.com/rhi/vxrt"
	"goarrg.com/rhi/vxrt/internal/util"
)

type commandBufferState uint32

const (
	commandBufferRecording commandBufferState = iota
	commandBufferExecutable
	commandBufferInvalid
)

type CommandBuffer struct {
	name     string
	level    vxrt.CommandBufferLevel
	pool     *CommandPool
	state    commandBufferState
	commands []string
}

var _ vxrt.CommandBuffer = (*CommandBuffer)(nil)

func (c *CommandBuffer) Name() string {
	return c.name
}

func (c *CommandBuffer) Level() vxrt.CommandBufferLevel {
	return c.level
}

// Record appends a command, recording into an ended or reset buffer aborts.
func (c *CommandBuffer) Record(cmd string) {
	if c.state != commandBufferRecording {
		util.Abort(logger, "Record %q into command buffer %q which is not recording", cmd, c.name)
	}
	c.commands = append(c.commands, cmd)
}

func (c *CommandBuffer) Commands() []string {
	return append([]string(nil), c.commands...)
}

func (c *CommandBuffer) End() error {
	if c.state != commandBufferRecording {
		return debug.Errorf("End called on command buffer %q which is not recording", c.name)
	}
	c.state = commandBufferExecutable
	return nil
}

func (c *CommandBuffer) submittable() error {
	switch c.state {
	case commandBufferRecording:
		return debug.Errorf("Command buffer %q submitted while recording", c.name)
	case commandBufferInvalid:
		return debug.Errorf("Command buffer %q submitted after its pool was reset", c.name)
	}
	return nil
}

/*
CommandPool must only be used by one goroutine at a time, the mutex only
guards against the device reading buffers during Submit.
*/
type CommandPool struct {
	name      string
	queue     vxrt.QueueKind
	mtx       sync.Mutex
	buffers   []*CommandBuffer
	resets    int
	destroyed bool
}

var _ vxrt.CommandPool = (*CommandPool)(nil)

func (p *CommandPool) Allocate(name string, level vxrt.CommandBufferLevel) (vxrt.CommandBuffer, error) {
	p.mtx.Lock()
	defer p.mtx.Unlock()
	if p.destroyed {
		return nil, debug.Errorf("Allocate from destroyed command pool %q", p.name)
	}
	cb := &CommandBuffer{name: name, level: level, pool: p}
	p.buffers = append(p.buffers, cb)
	return cb, nil
}

func (p *CommandPool) Reset() error {
	p.mtx.Lock()
	defer p.mtx.Unlock()
	for _, cb := range p.buffers {
		cb.state = commandBufferInvalid
	}
	clear(p.buffers)
	p.buffers = p.buffers[:0]
	p.resets++
	return nil
}

func (p *CommandPool) Resets() int {
	p.mtx.Lock()
	defer p.mtx.Unlock()
	return p.resets
}

func (p *CommandPool) Destroy() {
	p.mtx.Lock()
	defer p.mtx.Unlock()
	for _, cb := range p.buffers {
		cb.state = commandBufferInvalid
	}
	p.buffers = nil
	p.destroyed = true
}

type DescriptorSetLayout string

func (l DescriptorSetLayout) ID() string {
	return string(l)
}

type DescriptorSet struct {
	layout vxrt.DescriptorSetLayout
	pool   string
}

func (s *DescriptorSet) Layout() vxrt.DescriptorSetLayout {
	return s.layout
}

func (s *DescriptorSet) Pool() string {
	return s.pool
}

type DescriptorPool struct {
	name      string
	maxSets   int32
	limit     int32
	allocated int32
}

var _ vxrt.DescriptorPool = (*DescriptorPool)(nil)

func (p *DescriptorPool) Allocate(layout vxrt.DescriptorSetLayout) (vxrt.DescriptorSet, error) {
	// limit never exceeds maxSets
	if p.allocated >= p.limit {
		return nil, vxrt.ErrorPoolExhausted{}
	}
	p.allocated++
	return &DescriptorSet{layout: layout, pool: p.name}, nil
}

func (p *DescriptorPool) Reset() error {
	p.allocated = 0
	return nil
}

func (p *DescriptorPool) Destroy() {
	p.allocated = 0
}
