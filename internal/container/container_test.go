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

package container

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStack(t *testing.T) {
	var s Stack[int]
	require.True(t, s.Empty())

	s.Push(1, 2, 3)
	assert.False(t, s.Empty())
	assert.Equal(t, 3, s.Pop())
	s.Push(4)
	assert.Equal(t, 4, s.Pop())
	assert.Equal(t, 2, s.Pop())
	assert.Equal(t, 1, s.Pop())
	assert.True(t, s.Empty())
	assert.Panics(t, func() { s.Pop() })
}

func TestPriorityQueueOrder(t *testing.T) {
	var q PriorityQueue[string]
	q.Push("low-a", 1)
	q.Push("high-a", 5)
	q.Push("mid", 3)
	q.Push("low-b", 1)
	q.Push("high-b", 5)

	assert.Equal(t, 5, q.Len())
	assert.Equal(t, []string{"high-a", "high-b", "mid", "low-a", "low-b"}, q.Drain())
	assert.True(t, q.Empty())
}

func TestPriorityQueueNonIncreasing(t *testing.T) {
	var q PriorityQueue[int]
	for i := range 500 {
		p := (i * 7919) % 37
		q.Push(p, p)
	}

	prev := 1 << 30
	for !q.Empty() {
		p := q.Pop()
		require.LessOrEqual(t, p, prev)
		prev = p
	}
}
