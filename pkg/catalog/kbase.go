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
	"fmt"

	"iodisco.dev/iodisco/pkg/abi/kbase"
)

// kbaseGPUPropsCapacity bounds the GPU property blob. Drivers report well
// under 2KiB.
const kbaseGPUPropsCapacity = 8192

var kbaseVersionCheckLayout = Layout{
	Size: kbase.SizeofVersionCheck,
	Fields: []Field{
		{Name: "major", Offset: 0, Kind: U16},
		{Name: "minor", Offset: 2, Kind: U16},
	},
}

func kbaseVersionCheck() *Descriptor {
	return &Descriptor{
		Name:           "VERSION_CHECK",
		Summary:        "negotiate the driver API version",
		Tier:           ReadOnlyQuery,
		RequestLayout:  kbaseVersionCheckLayout,
		ResponseLayout: kbaseVersionCheckLayout,
		Decode:         DecodeFields,
		Identify:       true,
	}
}

// SET_FLAGS creates the per-file kbase context that every other query
// requires. It only affects the calling file descriptor.
var kbaseSetFlags = &Descriptor{
	Name:    "SET_FLAGS",
	Summary: "create the context of this file descriptor",
	Tier:    ReadOnlyQuery,
	RequestLayout: Layout{
		Size:   kbase.SizeofSetFlags,
		Fields: []Field{{Name: "create_flags", Kind: U32}},
	},
	Decode: DecodeReturn,
}

var kbaseGetGPUPropsLayout = Layout{
	Size: kbase.SizeofGetGPUProps,
	Fields: []Field{
		{Name: "buffer", Offset: 0, Kind: Ptr, Len: kbaseGPUPropsCapacity, LenField: "size", Internal: true},
		{Name: "size", Offset: 8, Kind: U32, Internal: true},
		{Name: "flags", Offset: 12, Kind: U32, Internal: true},
	},
}

var kbaseGetGPUProps = &Descriptor{
	Name:          "GET_GPUPROPS",
	Summary:       "read the GPU property blob",
	Tier:          ReadOnlyQuery,
	RequestLayout: kbaseGetGPUPropsLayout,
	ResponseLayout: Layout{
		Size:   kbase.SizeofGetGPUProps,
		Fields: []Field{{Name: "buffer", Offset: 0, Kind: Ptr, Len: kbaseGPUPropsCapacity}},
	},
	Decode: decodeGPUProps,
}

var kbaseGetDDKVersionLayout = Layout{
	Size: kbase.SizeofGetDDKVersion,
	Fields: []Field{
		{Name: "version_buffer", Offset: 0, Kind: Ptr, Len: 128, LenField: "size", Internal: true},
		{Name: "size", Offset: 8, Kind: U32, Internal: true},
		{Name: "padding", Offset: 12, Kind: U32, Internal: true},
	},
}

var kbaseGetDDKVersion = &Descriptor{
	Name:          "GET_DDK_VERSION",
	Summary:       "read the driver development kit release string",
	Tier:          ReadOnlyQuery,
	RequestLayout: kbaseGetDDKVersionLayout,
	ResponseLayout: Layout{
		Size:   kbase.SizeofGetDDKVersion,
		Fields: []Field{{Name: "version_buffer", Offset: 0, Kind: Ptr, Len: 128}},
	},
	Decode: decodeDDKVersion,
}

func kbaseU32Out(name, summary, field string, size uint32) *Descriptor {
	l := Layout{
		Size:   size,
		Fields: []Field{{Name: field, Kind: U32, Internal: true}},
	}
	return &Descriptor{
		Name:           name,
		Summary:        summary,
		Tier:           ReadOnlyQuery,
		RequestLayout:  l,
		ResponseLayout: l,
		Decode:         DecodeFields,
	}
}

var (
	kbaseDisjointQuery = kbaseU32Out("DISJOINT_QUERY", "read the disjoint event counter", "counter", kbase.SizeofDisjointQuery)
	kbaseGetContextID  = kbaseU32Out("GET_CONTEXT_ID", "read the context id of this file descriptor", "id", kbase.SizeofGetContextID)
)

var kbaseGetCPUGPUTimeinfo = &Descriptor{
	Name:    "GET_CPU_GPU_TIMEINFO",
	Summary: "sample correlated CPU and GPU clocks",
	Tier:    Experimental,
	RequestLayout: Layout{
		Size:   kbase.SizeofGetCPUGPUTimeinfo,
		Fields: []Field{{Name: "request_flags", Offset: 0, Kind: U32}},
	},
	ResponseLayout: Layout{
		Size: kbase.SizeofGetCPUGPUTimeinfo,
		Fields: []Field{
			{Name: "sec", Offset: 0, Kind: U64},
			{Name: "nsec", Offset: 8, Kind: U32},
			{Name: "timestamp", Offset: 16, Kind: U64},
			{Name: "cycle_counter", Offset: 24, Kind: U64},
		},
	},
	Defaults: Args{
		"request_flags": uint64(kbase.BASE_TIMEINFO_MONOTONIC_FLAG | kbase.BASE_TIMEINFO_TIMESTAMP_FLAG | kbase.BASE_TIMEINFO_CYCLE_COUNTER_FLAG),
	},
	Decode: DecodeFields,
}

var kbaseHwcntReaderSetup = &Descriptor{
	Name:    "HWCNT_READER_SETUP",
	Summary: "open a hardware counter reader",
	Tier:    Experimental,
	RequestLayout: Layout{
		Size: kbase.SizeofHwcntReaderSetup,
		Fields: []Field{
			{Name: "buffer_count", Offset: 0, Kind: U32},
			{Name: "fe_bm", Offset: 4, Kind: U32},
			{Name: "shader_bm", Offset: 8, Kind: U32},
			{Name: "tiler_bm", Offset: 12, Kind: U32},
			{Name: "mmu_l2_bm", Offset: 16, Kind: U32},
		},
	},
	Defaults:  Args{"buffer_count": uint64(16)},
	Decode:    decodeReaderFD,
	ReturnsFD: true,
}

var kbaseCSGetGlbIface = &Descriptor{
	Name:    "CS_GET_GLB_IFACE",
	Summary: "read the command stream global interface counts",
	Tier:    ReadOnlyQuery,
	RequestLayout: Layout{
		Size: kbase.SizeofCSGetGlbIface,
		Fields: []Field{
			{Name: "max_group_num", Offset: 0, Kind: U32, Internal: true},
			{Name: "max_total_stream_num", Offset: 4, Kind: U32, Internal: true},
			{Name: "groups_ptr", Offset: 8, Kind: U64, Internal: true},
			{Name: "streams_ptr", Offset: 16, Kind: U64, Internal: true},
		},
	},
	ResponseLayout: Layout{
		Size: kbase.SizeofCSGetGlbIface,
		Fields: []Field{
			{Name: "glb_version", Offset: 0, Kind: U32},
			{Name: "features", Offset: 4, Kind: U32},
			{Name: "group_num", Offset: 8, Kind: U32},
			{Name: "prfcnt_size", Offset: 12, Kind: U32},
			{Name: "total_stream_num", Offset: 16, Kind: U32},
			{Name: "instr_features", Offset: 20, Kind: U32},
		},
	},
	Decode: DecodeFields,
}

var kbaseMemAlloc = &Descriptor{
	Name:    "MEM_ALLOC",
	Summary: "allocate GPU memory in this context",
	Tier:    StateAltering,
	RequestLayout: Layout{
		Size: kbase.SizeofMemAlloc,
		Fields: []Field{
			{Name: "va_pages", Offset: 0, Kind: U64},
			{Name: "commit_pages", Offset: 8, Kind: U64},
			{Name: "extension", Offset: 16, Kind: U64},
			{Name: "flags", Offset: 24, Kind: U64},
		},
	},
	ResponseLayout: Layout{
		Size: kbase.SizeofMemAlloc,
		Fields: []Field{
			{Name: "flags", Offset: 0, Kind: U64},
			{Name: "gpu_va", Offset: 8, Kind: U64},
		},
	},
	Defaults: Args{
		"va_pages":     uint64(1),
		"commit_pages": uint64(1),
		"flags":        uint64(kbase.BASE_MEM_PROT_CPU_RD | kbase.BASE_MEM_PROT_GPU_RD),
	},
	Decode: DecodeFields,
}

var kbaseMemFree = &Descriptor{
	Name:    "MEM_FREE",
	Summary: "free GPU memory in this context",
	Tier:    StateAltering,
	RequestLayout: Layout{
		Size:   kbase.SizeofMemFree,
		Fields: []Field{{Name: "gpu_addr", Kind: U64}},
	},
	Decode: DecodeReturn,
}

var kbaseSetLimitedCoreCount = &Descriptor{
	Name:    "SET_LIMITED_CORE_COUNT",
	Summary: "restrict the shader cores used by this context",
	Tier:    StateAltering,
	RequestLayout: Layout{
		Size:   kbase.SizeofSetLimitedCoreCount,
		Fields: []Field{{Name: "max_core_count", Kind: U8}},
	},
	Decode: DecodeReturn,
}

var kbaseJMVersioningTable = []versionDiff{
	{
		version: Version{11, 0, 0},
		entries: entryTable{
			Op(kbase.KBASE_IOCTL_VERSION_CHECK_JM):   kbaseVersionCheck(),
			Op(kbase.KBASE_IOCTL_SET_FLAGS):          kbaseSetFlags,
			Op(kbase.KBASE_IOCTL_GET_GPUPROPS):       kbaseGetGPUProps,
			Op(kbase.KBASE_IOCTL_MEM_ALLOC):          kbaseMemAlloc,
			Op(kbase.KBASE_IOCTL_MEM_FREE):           kbaseMemFree,
			Op(kbase.KBASE_IOCTL_HWCNT_READER_SETUP): kbaseHwcntReaderSetup,
			Op(kbase.KBASE_IOCTL_DISJOINT_QUERY):     kbaseDisjointQuery,
			Op(kbase.KBASE_IOCTL_GET_DDK_VERSION):    kbaseGetDDKVersion,
			Op(kbase.KBASE_IOCTL_GET_CONTEXT_ID):     kbaseGetContextID,
		},
	},
	{
		version: Version{11, 20, 0},
		entries: entryTable{
			Op(kbase.KBASE_IOCTL_GET_CPU_GPU_TIMEINFO): kbaseGetCPUGPUTimeinfo,
		},
	},
	{
		version: Version{11, 25, 0},
		entries: entryTable{
			Op(kbase.KBASE_IOCTL_SET_LIMITED_CORE_COUNT): kbaseSetLimitedCoreCount,
		},
	},
}

var kbaseCSFVersioningTable = []versionDiff{
	{
		version: Version{1, 0, 0},
		entries: entryTable{
			Op(kbase.KBASE_IOCTL_VERSION_CHECK_CSF):    kbaseVersionCheck(),
			Op(kbase.KBASE_IOCTL_SET_FLAGS):            kbaseSetFlags,
			Op(kbase.KBASE_IOCTL_GET_GPUPROPS):         kbaseGetGPUProps,
			Op(kbase.KBASE_IOCTL_MEM_ALLOC):            kbaseMemAlloc,
			Op(kbase.KBASE_IOCTL_MEM_FREE):             kbaseMemFree,
			Op(kbase.KBASE_IOCTL_HWCNT_READER_SETUP):   kbaseHwcntReaderSetup,
			Op(kbase.KBASE_IOCTL_DISJOINT_QUERY):       kbaseDisjointQuery,
			Op(kbase.KBASE_IOCTL_GET_DDK_VERSION):      kbaseGetDDKVersion,
			Op(kbase.KBASE_IOCTL_GET_CONTEXT_ID):       kbaseGetContextID,
			Op(kbase.KBASE_IOCTL_CS_GET_GLB_IFACE):     kbaseCSGetGlbIface,
			Op(kbase.KBASE_IOCTL_GET_CPU_GPU_TIMEINFO): kbaseGetCPUGPUTimeinfo,
		},
	},
	{
		version: Version{1, 1, 0},
		entries: entryTable{
			Op(kbase.KBASE_IOCTL_SET_LIMITED_CORE_COUNT): kbaseSetLimitedCoreCount,
		},
	},
}

// decodeGPUProps parses the property blob written by GET_GPUPROPS. The
// return value of the call is the blob length.
func decodeGPUProps(r Response) (Values, error) {
	buf, err := r.Bytes("buffer")
	if err != nil {
		return nil, err
	}
	if n := uint64(r.Ret()); n > 0 && n < uint64(len(buf)) {
		buf = buf[:n]
	}
	vals := make(Values)
	for off := 0; off+4 <= len(buf); {
		k := ByteOrder.Uint32(buf[off:])
		if k == 0 {
			break
		}
		off += 4
		var size int
		switch k & 3 {
		case kbase.KBASE_GPUPROP_VALUE_SIZE_U8:
			size = 1
		case kbase.KBASE_GPUPROP_VALUE_SIZE_U16:
			size = 2
		case kbase.KBASE_GPUPROP_VALUE_SIZE_U32:
			size = 4
		default:
			size = 8
		}
		if off+size > len(buf) {
			return nil, fmt.Errorf("property %d truncated at offset %d", k>>2, off)
		}
		var v uint64
		switch size {
		case 1:
			v = uint64(buf[off])
		case 2:
			v = uint64(ByteOrder.Uint16(buf[off:]))
		case 4:
			v = uint64(ByteOrder.Uint32(buf[off:]))
		default:
			v = ByteOrder.Uint64(buf[off:])
		}
		off += size
		name, ok := kbase.PropNames[k>>2]
		if !ok {
			name = fmt.Sprintf("prop_%d", k>>2)
		}
		vals[name] = v
	}
	if len(vals) == 0 {
		return nil, fmt.Errorf("empty property blob")
	}
	return vals, nil
}

func decodeDDKVersion(r Response) (Values, error) {
	buf, err := r.Bytes("version_buffer")
	if err != nil {
		return nil, err
	}
	if n := uint64(r.Ret()); n > 0 && n < uint64(len(buf)) {
		buf = buf[:n]
	}
	for len(buf) > 0 && buf[len(buf)-1] == 0 {
		buf = buf[:len(buf)-1]
	}
	return Values{"version": string(buf)}, nil
}

func decodeReaderFD(r Response) (Values, error) {
	return Values{"reader_fd": uint64(r.Ret())}, nil
}
