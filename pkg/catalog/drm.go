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
	"iodisco.dev/iodisco/pkg/abi/drm"
)

var drmVersionLayout = Layout{
	Size: drm.SizeofVersion,
	Fields: []Field{
		{Name: "version_major", Offset: 0, Kind: U32, Internal: true},
		{Name: "version_minor", Offset: 4, Kind: U32, Internal: true},
		{Name: "version_patchlevel", Offset: 8, Kind: U32, Internal: true},
		{Name: "name_len", Offset: 16, Kind: U64, Internal: true},
		{Name: "name", Offset: 24, Kind: Ptr, Len: 64, LenField: "name_len", Internal: true},
		{Name: "date_len", Offset: 32, Kind: U64, Internal: true},
		{Name: "date", Offset: 40, Kind: Ptr, Len: 64, LenField: "date_len", Internal: true},
		{Name: "desc_len", Offset: 48, Kind: U64, Internal: true},
		{Name: "desc", Offset: 56, Kind: Ptr, Len: 256, LenField: "desc_len", Internal: true},
	},
}

var drmVersion = &Descriptor{
	Name:           "VERSION",
	Summary:        "read the driver name, date and version",
	Tier:           ReadOnlyQuery,
	RequestLayout:  drmVersionLayout,
	ResponseLayout: drmVersionLayout,
	Decode:         DecodeFields,
	Identify:       true,
}

var drmUniqueLayout = Layout{
	Size: drm.SizeofUnique,
	Fields: []Field{
		{Name: "unique_len", Offset: 0, Kind: U64, Internal: true},
		{Name: "unique", Offset: 8, Kind: Ptr, Len: 128, LenField: "unique_len", Internal: true},
	},
}

var drmGetUnique = &Descriptor{
	Name:           "GET_UNIQUE",
	Summary:        "read the bus id of the device",
	Tier:           ReadOnlyQuery,
	RequestLayout:  drmUniqueLayout,
	ResponseLayout: drmUniqueLayout,
	Decode:         DecodeFields,
}

func drmCap(name, summary string) *Descriptor {
	return &Descriptor{
		Name:    "GET_CAP." + name,
		Summary: summary,
		Tier:    ReadOnlyQuery,
		RequestLayout: Layout{
			Size: drm.SizeofGetCap,
			Fields: []Field{
				{Name: "capability", Offset: 0, Kind: U64, Internal: true},
				{Name: "value", Offset: 8, Kind: U64, Internal: true},
			},
		},
		ResponseLayout: Layout{
			Size:   drm.SizeofGetCap,
			Fields: []Field{{Name: "value", Offset: 8, Kind: U64}},
		},
		SelectorField: "capability",
		Decode:        DecodeFields,
	}
}

var drmGetClient = &Descriptor{
	Name:    "GET_CLIENT",
	Summary: "read a client of the device by index",
	Tier:    Experimental,
	RequestLayout: Layout{
		Size: drm.SizeofClient,
		Fields: []Field{
			{Name: "idx", Offset: 0, Kind: U32},
			{Name: "auth", Offset: 4, Kind: U32, Internal: true},
			{Name: "pid", Offset: 8, Kind: U64, Internal: true},
			{Name: "uid", Offset: 16, Kind: U64, Internal: true},
			{Name: "magic", Offset: 24, Kind: U64, Internal: true},
			{Name: "iocs", Offset: 32, Kind: U64, Internal: true},
		},
	},
	ResponseLayout: Layout{
		Size: drm.SizeofClient,
		Fields: []Field{
			{Name: "auth", Offset: 4, Kind: U32},
			{Name: "pid", Offset: 8, Kind: U64},
			{Name: "uid", Offset: 16, Kind: U64},
			{Name: "magic", Offset: 24, Kind: U64},
			{Name: "iocs", Offset: 32, Kind: U64},
		},
	},
	Decode: DecodeFields,
}

var drmSetVersionLayout = Layout{
	Size: drm.SizeofSetVersion,
	Fields: []Field{
		{Name: "di_major", Offset: 0, Kind: U32},
		{Name: "di_minor", Offset: 4, Kind: U32},
		{Name: "sv_major", Offset: 8, Kind: U32},
		{Name: "sv_minor", Offset: 12, Kind: U32},
	},
}

// SET_VERSION fields of -1 mean "no requirement".
var drmSetVersion = &Descriptor{
	Name:           "SET_VERSION",
	Summary:        "bind the interface version of this file",
	Tier:           StateAltering,
	RequestLayout:  drmSetVersionLayout,
	ResponseLayout: drmSetVersionLayout,
	Defaults: Args{
		"di_major": uint64(1),
		"di_minor": uint64(4),
		"sv_major": uint64(0xffffffff),
		"sv_minor": uint64(0xffffffff),
	},
	Decode: DecodeFields,
}

var drmSetClientCap = &Descriptor{
	Name:    "SET_CLIENT_CAP",
	Summary: "enable a client capability on this file",
	Tier:    StateAltering,
	RequestLayout: Layout{
		Size: drm.SizeofSetClientCap,
		Fields: []Field{
			{Name: "capability", Offset: 0, Kind: U64},
			{Name: "value", Offset: 8, Kind: U64},
		},
	},
	Defaults: Args{"value": uint64(1)},
	Decode:   DecodeReturn,
}

var drmDropMaster = &Descriptor{
	Name:          "DROP_MASTER",
	Summary:       "give up DRM master on a primary node",
	Tier:          StateAltering,
	RequestLayout: Layout{},
	Decode:        DecodeReturn,
}

func capOp(selector uint32) Opcode {
	return Opcode{Request: drm.DRM_IOCTL_GET_CAP, Selector: selector}
}

var drmVersioningTable = []versionDiff{
	{
		version: Version{1, 0, 0},
		entries: entryTable{
			Op(drm.DRM_IOCTL_VERSION):    drmVersion,
			Op(drm.DRM_IOCTL_GET_UNIQUE): drmGetUnique,

			capOp(drm.DRM_CAP_DUMB_BUFFER):         drmCap("DUMB_BUFFER", "read dumb buffer support"),
			capOp(drm.DRM_CAP_PRIME):               drmCap("PRIME", "read PRIME import and export support"),
			capOp(drm.DRM_CAP_TIMESTAMP_MONOTONIC): drmCap("TIMESTAMP_MONOTONIC", "read whether vblank timestamps are monotonic"),
			capOp(drm.DRM_CAP_ADDFB2_MODIFIERS):    drmCap("ADDFB2_MODIFIERS", "read framebuffer modifier support"),
			capOp(drm.DRM_CAP_SYNCOBJ):             drmCap("SYNCOBJ", "read sync object support"),
			capOp(drm.DRM_CAP_SYNCOBJ_TIMELINE):    drmCap("SYNCOBJ_TIMELINE", "read timeline sync object support"),

			Op(drm.DRM_IOCTL_GET_CLIENT):     drmGetClient,
			Op(drm.DRM_IOCTL_SET_VERSION):    drmSetVersion,
			Op(drm.DRM_IOCTL_SET_CLIENT_CAP): drmSetClientCap,
			Op(drm.DRM_IOCTL_DROP_MASTER):    drmDropMaster,
		},
	},
}
