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

/*
WorkItem is a single unit of CPU side work. Execute is called exactly once, on
one Worker, and may record GPU commands through that Worker. A returned error
is fatal to the Scheduler. If the WorkItem also implements Destroyer, Destroy
is called once the GPU has retired the frame the item recorded into.
*/
type WorkItem interface {
	Priority() int
	Execute(w *Worker) error
}

type workFunc struct {
	priority int
	f        func(*Worker) error
}

func (w workFunc) Priority() int {
	return w.priority
}

func (w workFunc) Execute(worker *Worker) error {
	return w.f(worker)
}

func WorkFunc(priority int, f func(*Worker) error) WorkItem {
	return workFunc{priority: priority, f: f}
}

// task is the scheduler's record of a WorkItem from dequeue until destruction.
type task struct {
	item       WorkItem
	frame      int
	destroyers []Destroyer
}

func (t *task) destroy() {
	for _, d := range t.destroyers {
		d.Destroy()
	}
	t.destroyers = nil
	if d, ok := t.item.(Destroyer); ok {
		d.Destroy()
	}
	t.item = nil
}

type continuation struct {
	waiter *TimelineSemaphoreWaiter
	items  []WorkItem
}
