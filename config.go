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
	"fmt"
	"runtime"

	"goarrg.com/debug"
	"goarrg.com/gmath"
)

const MaxFramesInFlightLimit = 8

type Config struct {
	Name                   string
	MaxFramesInFlight      int32
	NumWorkers             int32
	DescriptorPoolBankSize int32

	RequiredFeatures FeatureFlags
}

func (c *Config) MarshalJSON() ([]byte, error) {
	buff := bytes.Buffer{}
	buff.WriteString("{")

	buff.WriteString(fmt.Sprintf("\"Name\": %q,", c.Name))
	buff.WriteString(fmt.Sprintf("\"MaxFramesInFlight\": %d,", c.MaxFramesInFlight))
	buff.WriteString(fmt.Sprintf("\"NumWorkers\": %d,", c.NumWorkers))
	buff.WriteString(fmt.Sprintf("\"DescriptorPoolBankSize\": %d,", c.DescriptorPoolBankSize))
	buff.WriteString(fmt.Sprintf("\"RequiredFeatures\": %q", c.RequiredFeatures.String()))

	buff.WriteString("}")
	return buff.Bytes(), nil
}

func (c *Config) validate() {
	if c.Name == "" {
		c.Name = "vxrt"
	}
	if !gmath.InRange(c.MaxFramesInFlight, 1, MaxFramesInFlightLimit) {
		abort("Config.MaxFramesInFlight must be in range [1, %d]", MaxFramesInFlightLimit)
	}
	if c.NumWorkers < 0 {
		abort("Config.NumWorkers must be >= 0")
	} else if c.NumWorkers == 0 {
		// leave a core for the render thread
		c.NumWorkers = int32(max(runtime.GOMAXPROCS(0)-1, 1))
	}
	if c.DescriptorPoolBankSize < 0 {
		abort("Config.DescriptorPoolBankSize must be >= 0")
	} else if c.DescriptorPoolBankSize == 0 {
		c.DescriptorPoolBankSize = 64
	}
	c.RequiredFeatures |= FeatureTimelineSemaphore | FeatureDescriptorIndexing
}

func (c *Config) checkDevice(dev Device) error {
	have := dev.Features()
	if !hasBits(have, c.RequiredFeatures) {
		return debug.Errorf("Device is missing required features: want %q have %q", c.RequiredFeatures.String(), have.String())
	}
	return nil
}

type config struct {
	name                   string
	maxFramesInFlight      int
	numWorkers             int
	descriptorPoolBankSize int32
}

func (c *config) use(user Config) {
	c.name = user.Name
	c.maxFramesInFlight = int(user.MaxFramesInFlight)
	c.numWorkers = int(user.NumWorkers)
	c.descriptorPoolBankSize = user.DescriptorPoolBankSize
}
