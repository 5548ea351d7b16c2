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

package catalog

import (
	"iodisco.dev/iodisco/pkg/abi/kgsl"
)

// kgslPropertyLayout is struct kgsl_device_getproperty with a side buffer
// of n bytes behind its value pointer.
func kgslPropertyLayout(n uint32) Layout {
	return Layout{
		Size: kgsl.SizeofDeviceGetProperty,
		Fields: []Field{
			{Name: "type", Offset: 0, Kind: U32, Internal: true},
			{Name: "value", Offset: 8, Kind: Ptr, Len: n, LenField: "sizebytes"},
			{Name: "sizebytes", Offset: 16, Kind: U64, Internal: true},
		},
	}
}

// kgslProperty describes one IOCTL_KGSL_DEVICE_GETPROPERTY property whose
// value is a structure of the given layout.
func kgslProperty(name, summary string, value Layout) *Descriptor {
	req := kgslPropertyLayout(value.Size)
	req.Fields[1].Internal = true
	out := req.Fields[1]
	out.LenField = ""
	return &Descriptor{
		Name:          "GETPROPERTY." + name,
		Summary:       summary,
		Tier:          ReadOnlyQuery,
		RequestLayout: req,
		ResponseLayout: Layout{
			Size:   kgsl.SizeofDeviceGetProperty,
			Fields: []Field{out},
		},
		SelectorField: "type",
		Decode:        DecodeSub("value", value),
	}
}

func kgslU32Property(name, summary string) *Descriptor {
	return kgslProperty(name, summary, Layout{
		Size:   4,
		Fields: []Field{{Name: "value", Kind: U32}},
	})
}

var kgslDevinfoLayout = Layout{
	Size: kgsl.SizeofDevinfo,
	Fields: []Field{
		{Name: "device_id", Offset: 0, Kind: U32},
		{Name: "chip_id", Offset: 4, Kind: U32},
		{Name: "mmu_enabled", Offset: 8, Kind: U32},
		{Name: "gmem_gpubaseaddr", Offset: 16, Kind: U64},
		{Name: "gpu_id", Offset: 24, Kind: U32},
		{Name: "gmem_sizebytes", Offset: 32, Kind: U64},
	},
}

var kgslVersionLayout = Layout{
	Size: kgsl.SizeofVersion,
	Fields: []Field{
		{Name: "drv_major", Offset: 0, Kind: U32},
		{Name: "drv_minor", Offset: 4, Kind: U32},
		{Name: "dev_major", Offset: 8, Kind: U32},
		{Name: "dev_minor", Offset: 12, Kind: U32},
	},
}

var kgslUcodeVersionLayout = Layout{
	Size: kgsl.SizeofUcodeVersion,
	Fields: []Field{
		{Name: "pfp", Offset: 0, Kind: U32},
		{Name: "pm4", Offset: 4, Kind: U32},
	},
}

var kgslGPMUVersionLayout = Layout{
	Size: 12,
	Fields: []Field{
		{Name: "major", Offset: 0, Kind: U32},
		{Name: "minor", Offset: 4, Kind: U32},
		{Name: "features", Offset: 8, Kind: U32},
	},
}

var kgslGPUModelLayout = Layout{
	Size:   kgsl.SizeofGPUModel,
	Fields: []Field{{Name: "gpu_model", Kind: Bytes, Len: kgsl.SizeofGPUModel}},
}

func kgslVersionProperty() *Descriptor {
	d := kgslProperty("VERSION", "read the driver and device versions", kgslVersionLayout)
	d.Identify = true
	return d
}

var kgslSetPwrConstraint = &Descriptor{
	Name:          "SETPROPERTY.PWR_CONSTRAINT",
	Summary:       "apply a power constraint to a draw context",
	Tier:          StateAltering,
	RequestLayout: kgslPropertyLayout(kgsl.SizeofDeviceConstraint),
	SelectorField: "type",
	Decode:        DecodeReturn,
}

var kgslDrawctxtCreate = &Descriptor{
	Name:    "DRAWCTXT_CREATE",
	Summary: "create a draw context",
	Tier:    StateAltering,
	RequestLayout: Layout{
		Size: kgsl.SizeofDrawctxtCreate,
		Fields: []Field{
			{Name: "flags", Offset: 0, Kind: U32},
			{Name: "drawctxt_id", Offset: 4, Kind: U32, Internal: true},
		},
	},
	ResponseLayout: Layout{
		Size:   kgsl.SizeofDrawctxtCreate,
		Fields: []Field{{Name: "drawctxt_id", Offset: 4, Kind: U32}},
	},
	Defaults: Args{"flags": uint64(kgsl.KGSL_CONTEXT_PREAMBLE | kgsl.KGSL_CONTEXT_NO_GMEM_ALLOC)},
	Decode:   DecodeFields,
}

var kgslPerfcounterGet = &Descriptor{
	Name:    "PERFCOUNTER_GET",
	Summary: "reserve a performance counter",
	Tier:    Experimental,
	RequestLayout: Layout{
		Size: kgsl.SizeofPerfcounterGet,
		Fields: []Field{
			{Name: "groupid", Offset: 0, Kind: U32},
			{Name: "countable", Offset: 4, Kind: U32},
			{Name: "offset", Offset: 8, Kind: U32, Internal: true},
			{Name: "offset_hi", Offset: 12, Kind: U32, Internal: true},
			{Name: "pad", Offset: 16, Kind: U32, Internal: true},
		},
	},
	ResponseLayout: Layout{
		Size: kgsl.SizeofPerfcounterGet,
		Fields: []Field{
			{Name: "offset", Offset: 8, Kind: U32},
			{Name: "offset_hi", Offset: 12, Kind: U32},
		},
	},
	Decode: DecodeFields,
}

// PERFCOUNTER_QUERY with a NULL countables pointer only reports how many
// counters the group has.
var kgslPerfcounterQuery = &Descriptor{
	Name:    "PERFCOUNTER_QUERY",
	Summary: "count the countables of a performance counter group",
	Tier:    Experimental,
	RequestLayout: Layout{
		Size: kgsl.SizeofPerfcounterQuery,
		Fields: []Field{
			{Name: "groupid", Offset: 0, Kind: U32},
			{Name: "countables", Offset: 8, Kind: U64, Internal: true},
			{Name: "count", Offset: 16, Kind: U32, Internal: true},
			{Name: "max_counters", Offset: 20, Kind: U32, Internal: true},
		},
	},
	ResponseLayout: Layout{
		Size:   kgsl.SizeofPerfcounterQuery,
		Fields: []Field{{Name: "max_counters", Offset: 20, Kind: U32}},
	},
	Decode: DecodeFields,
}

func prop(selector uint32) Opcode {
	return Opcode{Request: kgsl.IOCTL_KGSL_DEVICE_GETPROPERTY, Selector: selector}
}

func setprop(selector uint32) Opcode {
	return Opcode{Request: kgsl.IOCTL_KGSL_SETPROPERTY, Selector: selector}
}

var kgslVersioningTable = []versionDiff{
	{
		version: Version{3, 0, 0},
		entries: entryTable{
			prop(kgsl.KGSL_PROP_DEVICE_INFO):       kgslProperty("DEVICE_INFO", "read chip and gmem information", kgslDevinfoLayout),
			prop(kgsl.KGSL_PROP_VERSION):           kgslVersionProperty(),
			prop(kgsl.KGSL_PROP_MMU_ENABLE):        kgslU32Property("MMU_ENABLE", "read whether the GPU MMU is enabled"),
			prop(kgsl.KGSL_PROP_UCODE_VERSION):     kgslProperty("UCODE_VERSION", "read the microcode versions", kgslUcodeVersionLayout),
			prop(kgsl.KGSL_PROP_GPMU_VERSION):      kgslProperty("GPMU_VERSION", "read the GPMU firmware version", kgslGPMUVersionLayout),
			prop(kgsl.KGSL_PROP_HIGHEST_BANK_BIT):  kgslU32Property("HIGHEST_BANK_BIT", "read the highest DDR bank bit"),
			prop(kgsl.KGSL_PROP_DEVICE_BITNESS):    kgslU32Property("DEVICE_BITNESS", "read the GPU address width"),
			prop(kgsl.KGSL_PROP_MIN_ACCESS_LENGTH): kgslU32Property("MIN_ACCESS_LENGTH", "read the minimum DDR access length"),
			prop(kgsl.KGSL_PROP_UBWC_MODE):         kgslU32Property("UBWC_MODE", "read the UBWC compression mode"),
			prop(kgsl.KGSL_PROP_SPEED_BIN):         kgslU32Property("SPEED_BIN", "read the fused speed bin"),
			prop(kgsl.KGSL_PROP_GPU_MODEL):         kgslProperty("GPU_MODEL", "read the GPU model name", kgslGPUModelLayout),

			Op(kgsl.IOCTL_KGSL_DRAWCTXT_CREATE):    kgslDrawctxtCreate,
			Op(kgsl.IOCTL_KGSL_PERFCOUNTER_GET):    kgslPerfcounterGet,
			Op(kgsl.IOCTL_KGSL_PERFCOUNTER_QUERY):  kgslPerfcounterQuery,
			setprop(kgsl.KGSL_PROP_PWR_CONSTRAINT): kgslSetPwrConstraint,
		},
	},
}
