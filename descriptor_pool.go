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

	"goarrg.com/debug"
)

type descriptorPoolBank struct {
	name   string
	pool   DescriptorPool
	len    int32
	cap    int32
	layout map[string]int32
}

func (b *descriptorPoolBank) MarshalJSON() ([]byte, error) {
	buff := bytes.Buffer{}
	buff.WriteString("{")

	buff.WriteString(fmt.Sprintf("\"name\": %q,", b.name))
	buff.WriteString(fmt.Sprintf("\"len\": %d,", b.len))
	buff.WriteString(fmt.Sprintf("\"cap\": %d,", b.cap))

	{
		buff.WriteString("\"layouts\": {")
		err := mapRunFuncSorted(b.layout, func(k string, v int32) error {
			buff.WriteString(fmt.Sprintf("%q: %d,", k, v))
			return nil
		})
		if err == nil {
			buff.Truncate(buff.Len() - 1)
		}
		buff.WriteString("}")
	}

	buff.WriteString("}")
	return buff.Bytes(), nil
}

func (b *descriptorPoolBank) canAllocate() bool {
	return b.len < b.cap
}

func (b *descriptorPoolBank) allocate(layout DescriptorSetLayout) (DescriptorSet, error) {
	set, err := b.pool.Allocate(layout)
	if err != nil {
		return nil, err
	}
	b.len++
	b.layout[layout.ID()]++
	return set, nil
}

/*
descriptorPool hands out descriptor sets for one worker and one frame in flight.
Sets are never freed individually, the whole pool is reset once the frame retires.
*/
type descriptorPool struct {
	name     string
	bankSize int32
	banks    []*descriptorPoolBank
}

func (p *descriptorPool) MarshalJSON() ([]byte, error) {
	buff := bytes.Buffer{}
	buff.WriteString("[")
	if len(p.banks) > 0 {
		for _, b := range p.banks {
			buff.WriteString(jsonString(b))
			buff.WriteString(",")
		}
		buff.Truncate(buff.Len() - 1)
	}
	buff.WriteString("]")
	return buff.Bytes(), nil
}

func (p *descriptorPool) createBank(dev Device) (*descriptorPoolBank, error) {
	name := fmt.Sprintf("%s_bank_%d", p.name, len(p.banks))
	pool, err := dev.NewDescriptorPool(name, p.bankSize)
	if err != nil {
		return nil, debug.ErrorWrapf(err, "Failed to create descriptor pool %q", name)
	}
	bank := &descriptorPoolBank{name: name, pool: pool, cap: p.bankSize, layout: map[string]int32{}}
	p.banks = append(p.banks, bank)
	return bank, nil
}

func (p *descriptorPool) allocate(dev Device, layout DescriptorSetLayout) (DescriptorSet, error) {
	for _, b := range p.banks {
		if !b.canAllocate() {
			continue
		}
		set, err := b.allocate(layout)
		if err == nil {
			return set, nil
		}
		if !errors.Is(err, ErrorPoolExhausted{}) {
			return nil, debug.ErrorWrapf(err, "Failed to allocate %q from %q", layout.ID(), b.name)
		}
		// the device ran out of a descriptor type before maxSets, stop trying this bank
		b.cap = b.len
	}

	bank, err := p.createBank(dev)
	if err != nil {
		return nil, err
	}
	set, err := bank.allocate(layout)
	if err != nil {
		return nil, debug.ErrorWrapf(err, "Failed to allocate %q from new bank %q", layout.ID(), bank.name)
	}
	return set, nil
}

func (p *descriptorPool) reset() error {
	for _, b := range p.banks {
		if err := b.pool.Reset(); err != nil {
			return debug.ErrorWrapf(err, "Failed to reset %q", b.name)
		}
		b.len = 0
		b.cap = p.bankSize
		clear(b.layout)
	}
	return nil
}

func (p *descriptorPool) destroy() {
	for _, b := range p.banks {
		b.pool.Destroy()
	}
	p.banks = nil
}
