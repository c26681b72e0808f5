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

import "container/heap"

type pqEntry[E any] struct {
	value    E
	priority int
	seq      uint64
}

type pqHeap[E any] []pqEntry[E]

func (h pqHeap[E]) Len() int { return len(h) }

func (h pqHeap[E]) Less(i, j int) bool {
	if h[i].priority != h[j].priority {
		return h[i].priority > h[j].priority
	}
	return h[i].seq < h[j].seq
}

func (h pqHeap[E]) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *pqHeap[E]) Push(x any) {
	*h = append(*h, x.(pqEntry[E]))
}

func (h *pqHeap[E]) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = pqEntry[E]{}
	*h = old[:n-1]
	return e
}

/*
PriorityQueue is a max-heap keyed by an int priority. Elements of equal priority
come out in insertion order. It is not safe for concurrent use.
*/
type PriorityQueue[E any] struct {
	h   pqHeap[E]
	seq uint64
}

func (q *PriorityQueue[E]) Len() int {
	return len(q.h)
}

func (q *PriorityQueue[E]) Empty() bool {
	return len(q.h) == 0
}

func (q *PriorityQueue[E]) Push(e E, priority int) {
	heap.Push(&q.h, pqEntry[E]{value: e, priority: priority, seq: q.seq})
	q.seq++
}

func (q *PriorityQueue[E]) Pop() E {
	return heap.Pop(&q.h).(pqEntry[E]).value
}

// Drain removes every element and returns them in pop order.
func (q *PriorityQueue[E]) Drain() []E {
	ret := make([]E, 0, len(q.h))
	for !q.Empty() {
		ret = append(ret, q.Pop())
	}
	return ret
}
