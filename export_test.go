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

func ValidateConfig(c Config) Config {
	c.validate()
	return c
}

func (s *Scheduler) WaitIdleAndSeal() error {
	return s.waitIdleAndSeal()
}

func (s *Scheduler) Unseal() {
	s.unseal()
}

func (s *Scheduler) Sealed() bool {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	return s.sealed
}

// DescriptorBanks returns how many descriptor pool banks worker i created for frame.
func (s *Scheduler) DescriptorBanks(i, frame int) int {
	return len(s.workers[i].frames[frame].descriptors.banks)
}

func (s FrameState) CanTransition(to FrameState) bool {
	return s.canTransition(to)
}
