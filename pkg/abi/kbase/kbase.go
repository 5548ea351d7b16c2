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

// Package kbase contains the userspace ABI of the Arm Mali "kbase" kernel
// driver, from include/uapi/gpu/arm/midgard/*.h.
package kbase

// KBASE_IOCTL_TYPE is the IOC_TYPE of every kbase ioctl.
const KBASE_IOCTL_TYPE = 0x80

// Ioctl request numbers shared by the job manager (JM) and command stream
// frontend (CSF) flavours of the driver.
const (
	KBASE_IOCTL_VERSION_CHECK_JM       = 0xc0048000 // _IOWR(0x80, 0, kbase_ioctl_version_check), JM
	KBASE_IOCTL_SET_FLAGS              = 0x40048001 // _IOW(0x80, 1, kbase_ioctl_set_flags)
	KBASE_IOCTL_GET_GPUPROPS           = 0x40108003 // _IOW(0x80, 3, kbase_ioctl_get_gpuprops)
	KBASE_IOCTL_MEM_ALLOC              = 0xc0208005 // _IOWR(0x80, 5, kbase_ioctl_mem_alloc)
	KBASE_IOCTL_MEM_FREE               = 0x40088007 // _IOW(0x80, 7, kbase_ioctl_mem_free)
	KBASE_IOCTL_HWCNT_READER_SETUP     = 0x40148008 // _IOW(0x80, 8, kbase_ioctl_hwcnt_reader_setup)
	KBASE_IOCTL_DISJOINT_QUERY         = 0x8004800c // _IOR(0x80, 12, kbase_ioctl_disjoint_query)
	KBASE_IOCTL_GET_DDK_VERSION        = 0x4010800d // _IOW(0x80, 13, kbase_ioctl_get_ddk_version)
	KBASE_IOCTL_GET_CONTEXT_ID         = 0x80048011 // _IOR(0x80, 17, kbase_ioctl_get_context_id)
	KBASE_IOCTL_GET_CPU_GPU_TIMEINFO   = 0xc0208032 // _IOWR(0x80, 50, kbase_ioctl_get_cpu_gpu_timeinfo)
	KBASE_IOCTL_CS_GET_GLB_IFACE       = 0xc0188033 // _IOWR(0x80, 51, kbase_ioctl_cs_get_glb_iface), CSF
	KBASE_IOCTL_VERSION_CHECK_CSF      = 0xc0048034 // _IOWR(0x80, 52, kbase_ioctl_version_check), CSF
	KBASE_IOCTL_SET_LIMITED_CORE_COUNT = 0x40018037 // _IOW(0x80, 55, kbase_ioctl_set_limited_core_count)
)

// Struct sizes.
const (
	SizeofVersionCheck        = 4
	SizeofSetFlags            = 4
	SizeofGetGPUProps         = 16
	SizeofMemAlloc            = 32
	SizeofMemFree             = 8
	SizeofHwcntReaderSetup    = 20
	SizeofDisjointQuery       = 4
	SizeofGetDDKVersion       = 16
	SizeofGetContextID        = 4
	SizeofGetCPUGPUTimeinfo   = 32
	SizeofCSGetGlbIface       = 24
	SizeofSetLimitedCoreCount = 1
)

// Property identifiers from the KBASE_IOCTL_GET_GPUPROPS blob. Each blob entry
// is a little-endian u32 key, (id << 2) | size code, followed by the value.
const (
	KBASE_GPUPROP_PRODUCT_ID                = 1
	KBASE_GPUPROP_VERSION_STATUS            = 2
	KBASE_GPUPROP_MINOR_REVISION            = 3
	KBASE_GPUPROP_MAJOR_REVISION            = 4
	KBASE_GPUPROP_GPU_FREQ_KHZ_MAX          = 6
	KBASE_GPUPROP_LOG2_PROGRAM_COUNTER_SIZE = 8
	KBASE_GPUPROP_GPU_AVAILABLE_MEMORY_SIZE = 12
	KBASE_GPUPROP_L2_LOG2_LINE_SIZE         = 13
	KBASE_GPUPROP_L2_LOG2_CACHE_SIZE        = 14
	KBASE_GPUPROP_L2_NUM_L2_SLICES          = 15
	KBASE_GPUPROP_TILER_BIN_SIZE_BYTES      = 16
	KBASE_GPUPROP_TILER_MAX_ACTIVE_LEVELS   = 17
	KBASE_GPUPROP_MAX_THREADS               = 18
	KBASE_GPUPROP_MAX_WORKGROUP_SIZE        = 19
	KBASE_GPUPROP_MAX_BARRIER_SIZE          = 20
	KBASE_GPUPROP_MAX_REGISTERS             = 21
	KBASE_GPUPROP_MAX_TASK_QUEUE            = 22
	KBASE_GPUPROP_MAX_THREAD_GROUP_SPLIT    = 23
	KBASE_GPUPROP_IMPL_TECH                 = 24
	KBASE_GPUPROP_RAW_SHADER_PRESENT        = 25
	KBASE_GPUPROP_RAW_TILER_PRESENT         = 26
	KBASE_GPUPROP_RAW_L2_PRESENT            = 27
	KBASE_GPUPROP_RAW_STACK_PRESENT         = 28
	KBASE_GPUPROP_RAW_L2_FEATURES           = 29
	KBASE_GPUPROP_RAW_CORE_FEATURES         = 30
	KBASE_GPUPROP_RAW_MEM_FEATURES          = 31
	KBASE_GPUPROP_RAW_MMU_FEATURES          = 32
	KBASE_GPUPROP_RAW_AS_PRESENT            = 33
	KBASE_GPUPROP_RAW_JS_PRESENT            = 34
	KBASE_GPUPROP_RAW_TILER_FEATURES        = 51
	KBASE_GPUPROP_RAW_GPU_ID                = 55
	KBASE_GPUPROP_RAW_THREAD_MAX_THREADS    = 56
	KBASE_GPUPROP_RAW_THREAD_FEATURES       = 59
	KBASE_GPUPROP_RAW_COHERENCY_MODE        = 60
	KBASE_GPUPROP_COHERENCY_NUM_GROUPS      = 61
	KBASE_GPUPROP_COHERENCY_NUM_CORE_GROUPS = 62
	KBASE_GPUPROP_COHERENCY_COHERENCY       = 63
	KBASE_GPUPROP_NUM_EXEC_ENGINES          = 82
	KBASE_GPUPROP_RAW_GPU_FEATURES          = 85
)

// PropNames maps GPU property identifiers to the names reported for them.
// Properties missing from this map are reported as "prop_<id>".
var PropNames = map[uint32]string{
	KBASE_GPUPROP_PRODUCT_ID:                "product_id",
	KBASE_GPUPROP_VERSION_STATUS:            "version_status",
	KBASE_GPUPROP_MINOR_REVISION:            "minor_revision",
	KBASE_GPUPROP_MAJOR_REVISION:            "major_revision",
	KBASE_GPUPROP_GPU_FREQ_KHZ_MAX:          "gpu_freq_khz_max",
	KBASE_GPUPROP_LOG2_PROGRAM_COUNTER_SIZE: "log2_program_counter_size",
	KBASE_GPUPROP_GPU_AVAILABLE_MEMORY_SIZE: "gpu_available_memory_size",
	KBASE_GPUPROP_L2_LOG2_LINE_SIZE:         "l2_log2_line_size",
	KBASE_GPUPROP_L2_LOG2_CACHE_SIZE:        "l2_log2_cache_size",
	KBASE_GPUPROP_L2_NUM_L2_SLICES:          "l2_num_l2_slices",
	KBASE_GPUPROP_TILER_BIN_SIZE_BYTES:      "tiler_bin_size_bytes",
	KBASE_GPUPROP_TILER_MAX_ACTIVE_LEVELS:   "tiler_max_active_levels",
	KBASE_GPUPROP_MAX_THREADS:               "max_threads",
	KBASE_GPUPROP_MAX_WORKGROUP_SIZE:        "max_workgroup_size",
	KBASE_GPUPROP_MAX_BARRIER_SIZE:          "max_barrier_size",
	KBASE_GPUPROP_MAX_REGISTERS:             "max_registers",
	KBASE_GPUPROP_MAX_TASK_QUEUE:            "max_task_queue",
	KBASE_GPUPROP_MAX_THREAD_GROUP_SPLIT:    "max_thread_group_split",
	KBASE_GPUPROP_IMPL_TECH:                 "impl_tech",
	KBASE_GPUPROP_RAW_SHADER_PRESENT:        "raw_shader_present",
	KBASE_GPUPROP_RAW_TILER_PRESENT:         "raw_tiler_present",
	KBASE_GPUPROP_RAW_L2_PRESENT:            "raw_l2_present",
	KBASE_GPUPROP_RAW_STACK_PRESENT:         "raw_stack_present",
	KBASE_GPUPROP_RAW_L2_FEATURES:           "raw_l2_features",
	KBASE_GPUPROP_RAW_CORE_FEATURES:         "raw_core_features",
	KBASE_GPUPROP_RAW_MEM_FEATURES:          "raw_mem_features",
	KBASE_GPUPROP_RAW_MMU_FEATURES:          "raw_mmu_features",
	KBASE_GPUPROP_RAW_AS_PRESENT:            "raw_as_present",
	KBASE_GPUPROP_RAW_JS_PRESENT:            "raw_js_present",
	KBASE_GPUPROP_RAW_TILER_FEATURES:        "raw_tiler_features",
	KBASE_GPUPROP_RAW_GPU_ID:                "raw_gpu_id",
	KBASE_GPUPROP_RAW_THREAD_MAX_THREADS:    "raw_thread_max_threads",
	KBASE_GPUPROP_RAW_THREAD_FEATURES:       "raw_thread_features",
	KBASE_GPUPROP_RAW_COHERENCY_MODE:        "raw_coherency_mode",
	KBASE_GPUPROP_COHERENCY_NUM_GROUPS:      "coherency_num_groups",
	KBASE_GPUPROP_COHERENCY_NUM_CORE_GROUPS: "coherency_num_core_groups",
	KBASE_GPUPROP_COHERENCY_COHERENCY:       "coherency_coherency",
	KBASE_GPUPROP_NUM_EXEC_ENGINES:          "num_exec_engines",
	KBASE_GPUPROP_RAW_GPU_FEATURES:          "raw_gpu_features",
}

// GPU props blob size codes, the low two bits of an entry key.
const (
	KBASE_GPUPROP_VALUE_SIZE_U8  = 0
	KBASE_GPUPROP_VALUE_SIZE_U16 = 1
	KBASE_GPUPROP_VALUE_SIZE_U32 = 2
	KBASE_GPUPROP_VALUE_SIZE_U64 = 3
)

// Memory allocation flags.
const (
	BASE_MEM_PROT_CPU_RD = 1 << 0
	BASE_MEM_PROT_CPU_WR = 1 << 1
	BASE_MEM_PROT_GPU_RD = 1 << 2
	BASE_MEM_PROT_GPU_WR = 1 << 3
)

// KBASE_IOCTL_GET_CPU_GPU_TIMEINFO request flags.
const (
	BASE_TIMEINFO_MONOTONIC_FLAG     = 1 << 0
	BASE_TIMEINFO_TIMESTAMP_FLAG     = 1 << 1
	BASE_TIMEINFO_CYCLE_COUNTER_FLAG = 1 << 2
)
