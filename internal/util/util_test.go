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

package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type byteSink struct {
	data []byte
}

func (b *byteSink) HostWrite(offset uintptr, data []byte) {
	copy(b.data[offset:], data)
}

type record struct {
	A uint32
	B uint32
}

func TestHostWrite(t *testing.T) {
	sink := &byteSink{data: make([]byte, 64)}

	n := HostWrite(sink, 8, record{A: 0x01020304, B: 0x05060708})
	require.Equal(t, uintptr(8), n)
	assert.Equal(t, Stride[record](), n)
	assert.NotEqual(t, make([]byte, 8), sink.data[8:16])
	assert.Equal(t, make([]byte, 8), sink.data[:8])

	n = HostWriteSlice(sink, 16, []record{{A: 1}, {A: 2}, {A: 3}})
	assert.Equal(t, uintptr(24), n)
	assert.Equal(t, uintptr(0), HostWriteSlice[record](sink, 0, nil))
}

func TestNoCopy(t *testing.T) {
	var n NoCopy
	assert.Panics(t, func() { n.Check() }, "zero value")
	n.Init()
	n.Check()
	assert.Panics(t, func() { n.Init() })

	copied := n //nolint:govet
	assert.Panics(t, func() { copied.Check() })

	n.Close()
	assert.Panics(t, func() { n.Check() })
	assert.NotPanics(t, func() { n.Init() })
	n.Check()
}
