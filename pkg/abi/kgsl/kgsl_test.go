// Copyright 2023 The iodisco Authors.
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

package kgsl

import (
	"testing"

	"iodisco.dev/iodisco/pkg/abi/ioc"
)

func TestRequestNumbers(t *testing.T) {
	for _, tc := range []struct {
		name string
		req  uint32
		want uint32
	}{
		{"DEVICE_GETPROPERTY", IOCTL_KGSL_DEVICE_GETPROPERTY, ioc.IOWR(KGSL_IOC_TYPE, 0x2, SizeofDeviceGetProperty)},
		{"DRAWCTXT_CREATE", IOCTL_KGSL_DRAWCTXT_CREATE, ioc.IOWR(KGSL_IOC_TYPE, 0x13, SizeofDrawctxtCreate)},
		{"SETPROPERTY", IOCTL_KGSL_SETPROPERTY, ioc.IOW(KGSL_IOC_TYPE, 0x32, SizeofDeviceGetProperty)},
		{"PERFCOUNTER_GET", IOCTL_KGSL_PERFCOUNTER_GET, ioc.IOWR(KGSL_IOC_TYPE, 0x38, SizeofPerfcounterGet)},
		{"PERFCOUNTER_QUERY", IOCTL_KGSL_PERFCOUNTER_QUERY, ioc.IOWR(KGSL_IOC_TYPE, 0x3a, SizeofPerfcounterQuery)},
	} {
		if tc.req != tc.want {
			t.Errorf("IOCTL_KGSL_%s = %#08x, want %#08x", tc.name, tc.req, tc.want)
		}
	}
}
