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

/*
Package managed implements bindless resource tables: slot allocation, per frame
in flight record replicas and keyed descriptor arrays, all safe to use from
Workers concurrently.
*/
package managed

import (
	"encoding/json"
	"strings"

	"goarrg.com/debug"

	"goarrg.com/rhi/vxrt"
	"goarrg.com/rhi/vxrt/internal/util"
)

var instance = struct {
	logger *debug.Logger
}{
	logger: debug.NewLogger("vxrt", "managed"),
}

func abort(fmt string, args ...any) {
	util.Abort(instance.logger, fmt, args...)
}

func jsonString(target any) string {
	bytes, err := json.Marshal(target)
	if err != nil {
		abort("%s", err)
	}
	return strings.TrimSpace(string(bytes))
}

/*
Retirer defers destruction until the GPU retires the frame it belongs to,
*vxrt.Worker implements it.
*/
type Retirer interface {
	GPUResource(d ...vxrt.Destroyer)
}
