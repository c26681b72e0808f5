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

import "fmt"

type ErrorSurfaceOutOfDate struct{}

func (ErrorSurfaceOutOfDate) Is(target error) bool {
	_, ok := target.(ErrorSurfaceOutOfDate)
	return ok
}

func (ErrorSurfaceOutOfDate) Error() string {
	return "Surface Out Of Date"
}

type ErrorDeviceLost struct{}

func (ErrorDeviceLost) Is(target error) bool {
	_, ok := target.(ErrorDeviceLost)
	return ok
}

func (ErrorDeviceLost) Error() string {
	return "Device Lost"
}

type ErrorSchedulerClosed struct{}

func (ErrorSchedulerClosed) Is(target error) bool {
	_, ok := target.(ErrorSchedulerClosed)
	return ok
}

func (ErrorSchedulerClosed) Error() string {
	return "Scheduler Closed"
}

/*
ErrorWorkFailed is returned by the Scheduler after a WorkItem failed, the pool
stops dequeuing once it is recorded.
*/
type ErrorWorkFailed struct {
	Worker   int
	Priority int
	Err      error
}

func (e *ErrorWorkFailed) Error() string {
	return fmt.Sprintf("Worker %d failed work item (priority %d): %v", e.Worker, e.Priority, e.Err)
}

func (e *ErrorWorkFailed) Unwrap() error {
	return e.Err
}
