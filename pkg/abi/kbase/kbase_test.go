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

package kbase

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
		{"VERSION_CHECK_JM", KBASE_IOCTL_VERSION_CHECK_JM, ioc.IOWR(KBASE_IOCTL_TYPE, 0, SizeofVersionCheck)},
		{"SET_FLAGS", KBASE_IOCTL_SET_FLAGS, ioc.IOW(KBASE_IOCTL_TYPE, 1, SizeofSetFlags)},
		{"GET_GPUPROPS", KBASE_IOCTL_GET_GPUPROPS, ioc.IOW(KBASE_IOCTL_TYPE, 3, SizeofGetGPUProps)},
		{"MEM_ALLOC", KBASE_IOCTL_MEM_ALLOC, ioc.IOWR(KBASE_IOCTL_TYPE, 5, SizeofMemAlloc)},
		{"MEM_FREE", KBASE_IOCTL_MEM_FREE, ioc.IOW(KBASE_IOCTL_TYPE, 7, SizeofMemFree)},
		{"HWCNT_READER_SETUP", KBASE_IOCTL_HWCNT_READER_SETUP, ioc.IOW(KBASE_IOCTL_TYPE, 8, SizeofHwcntReaderSetup)},
		{"DISJOINT_QUERY", KBASE_IOCTL_DISJOINT_QUERY, ioc.IOR(KBASE_IOCTL_TYPE, 12, SizeofDisjointQuery)},
		{"GET_DDK_VERSION", KBASE_IOCTL_GET_DDK_VERSION, ioc.IOW(KBASE_IOCTL_TYPE, 13, SizeofGetDDKVersion)},
		{"GET_CONTEXT_ID", KBASE_IOCTL_GET_CONTEXT_ID, ioc.IOR(KBASE_IOCTL_TYPE, 17, SizeofGetContextID)},
		{"GET_CPU_GPU_TIMEINFO", KBASE_IOCTL_GET_CPU_GPU_TIMEINFO, ioc.IOWR(KBASE_IOCTL_TYPE, 50, SizeofGetCPUGPUTimeinfo)},
		{"CS_GET_GLB_IFACE", KBASE_IOCTL_CS_GET_GLB_IFACE, ioc.IOWR(KBASE_IOCTL_TYPE, 51, SizeofCSGetGlbIface)},
		{"VERSION_CHECK_CSF", KBASE_IOCTL_VERSION_CHECK_CSF, ioc.IOWR(KBASE_IOCTL_TYPE, 52, SizeofVersionCheck)},
		{"SET_LIMITED_CORE_COUNT", KBASE_IOCTL_SET_LIMITED_CORE_COUNT, ioc.IOW(KBASE_IOCTL_TYPE, 55, SizeofSetLimitedCoreCount)},
	} {
		if tc.req != tc.want {
			t.Errorf("KBASE_IOCTL_%s = %#08x, want %#08x", tc.name, tc.req, tc.want)
		}
	}
}
