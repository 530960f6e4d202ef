// Copyright 2024 Google Inc. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package block

import (
	"github.com/nvfuse/nvfuse/cfg"
	"github.com/nvfuse/nvfuse/internal/nverr"
)

// Open dispatches device configuration to the matching AsyncBackend
// implementation, the single selection point spec.md §9 calls for instead
// of scattering a type switch through callers.
func Open(device cfg.DeviceConfig, clusterSize int) (AsyncBackend, error) {
	switch device.Kind {
	case cfg.BackendMemory:
		return NewMemoryBackend(clusterSize, device.SizeBytes), nil
	case cfg.BackendFile:
		return NewFileBackend(device.Path, clusterSize, device.SizeBytes), nil
	case cfg.BackendKernelAIO:
		return NewKernelAIOBackend(device.Path, clusterSize, device.SizeBytes, 0), nil
	case cfg.BackendNVMe:
		return NewNVMeBackend(device.Path, clusterSize, device.SizeBytes, 0), nil
	default:
		return nil, nverr.Invalid.Withf(nil, "unknown device kind %q", device.Kind)
	}
}
