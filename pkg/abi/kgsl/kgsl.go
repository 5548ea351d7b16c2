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

// Package kgsl contains the userspace ABI of the Qualcomm Adreno "kgsl"
// kernel driver, from include/uapi/linux/msm_kgsl.h.
package kgsl

// KGSL_IOC_TYPE is the IOC_TYPE of every kgsl ioctl.
const KGSL_IOC_TYPE = 0x09

// Ioctl request numbers, as laid out for a 64-bit kernel.
const (
	IOCTL_KGSL_DEVICE_GETPROPERTY = 0xc0180902 // _IOWR(0x09, 0x2, kgsl_device_getproperty)
	IOCTL_KGSL_DRAWCTXT_CREATE    = 0xc0080913 // _IOWR(0x09, 0x13, kgsl_drawctxt_create)
	IOCTL_KGSL_SETPROPERTY        = 0x40180932 // _IOW(0x09, 0x32, kgsl_device_getproperty)
	IOCTL_KGSL_PERFCOUNTER_GET    = 0xc0140938 // _IOWR(0x09, 0x38, kgsl_perfcounter_get)
	IOCTL_KGSL_PERFCOUNTER_QUERY  = 0xc020093a // _IOWR(0x09, 0x3a, kgsl_perfcounter_query)
)

// Struct sizes.
const (
	SizeofDeviceGetProperty = 24
	SizeofDrawctxtCreate    = 8
	SizeofPerfcounterGet    = 20
	SizeofPerfcounterQuery  = 32
	SizeofDevinfo           = 40
	SizeofVersion           = 16
	SizeofUcodeVersion      = 8
	SizeofGPUModel          = 32
	SizeofDeviceConstraint  = 24
)

// Property types accepted by IOCTL_KGSL_DEVICE_GETPROPERTY.
const (
	KGSL_PROP_DEVICE_INFO       = 0x1
	KGSL_PROP_DEVICE_SHADOW     = 0x2
	KGSL_PROP_DEVICE_POWER      = 0x3
	KGSL_PROP_MMU_ENABLE        = 0x6
	KGSL_PROP_VERSION           = 0x8
	KGSL_PROP_PWR_CONSTRAINT    = 0x12
	KGSL_PROP_UCODE_VERSION     = 0x15
	KGSL_PROP_GPMU_VERSION      = 0x16
	KGSL_PROP_HIGHEST_BANK_BIT  = 0x17
	KGSL_PROP_DEVICE_BITNESS    = 0x18
	KGSL_PROP_MIN_ACCESS_LENGTH = 0x1a
	KGSL_PROP_UBWC_MODE         = 0x1b
	KGSL_PROP_SPEED_BIN         = 0x25
	KGSL_PROP_GAMING_BIN        = 0x26
	KGSL_PROP_GPU_MODEL         = 0x29
	KGSL_PROP_VK_DEVICE_ID      = 0x2a
)

// Draw context flags.
const (
	KGSL_CONTEXT_PREAMBLE      = 0x00000040
	KGSL_CONTEXT_NO_GMEM_ALLOC = 0x00000002
)
