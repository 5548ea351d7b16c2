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

// Package drm contains the core DRM userspace ABI, from
// include/uapi/drm/drm.h, as laid out on 64-bit kernels.
package drm

// DRM_IOCTL_BASE is the IOC_TYPE of core DRM ioctls.
const DRM_IOCTL_BASE = 'd'

// Ioctl request numbers.
const (
	DRM_IOCTL_VERSION        = 0xc0406400 // _IOWR('d', 0x00, drm_version)
	DRM_IOCTL_GET_UNIQUE     = 0xc0106401 // _IOWR('d', 0x01, drm_unique)
	DRM_IOCTL_GET_CLIENT     = 0xc0286405 // _IOWR('d', 0x05, drm_client)
	DRM_IOCTL_SET_VERSION    = 0xc0106407 // _IOWR('d', 0x07, drm_set_version)
	DRM_IOCTL_GET_CAP        = 0xc010640c // _IOWR('d', 0x0c, drm_get_cap)
	DRM_IOCTL_SET_CLIENT_CAP = 0x4010640d // _IOW('d', 0x0d, drm_set_client_cap)
	DRM_IOCTL_DROP_MASTER    = 0x0000641f // _IO('d', 0x1f)
)

// Struct sizes.
const (
	SizeofVersion      = 64
	SizeofUnique       = 16
	SizeofClient       = 40
	SizeofSetVersion   = 16
	SizeofGetCap       = 16
	SizeofSetClientCap = 16
)

// Capabilities accepted by DRM_IOCTL_GET_CAP.
const (
	DRM_CAP_DUMB_BUFFER          = 0x1
	DRM_CAP_VBLANK_HIGH_CRTC     = 0x2
	DRM_CAP_DUMB_PREFERRED_DEPTH = 0x3
	DRM_CAP_DUMB_PREFER_SHADOW   = 0x4
	DRM_CAP_PRIME                = 0x5
	DRM_CAP_TIMESTAMP_MONOTONIC  = 0x6
	DRM_CAP_ASYNC_PAGE_FLIP      = 0x7
	DRM_CAP_ADDFB2_MODIFIERS     = 0x10
	DRM_CAP_SYNCOBJ              = 0x13
	DRM_CAP_SYNCOBJ_TIMELINE     = 0x14
)

// Client capabilities accepted by DRM_IOCTL_SET_CLIENT_CAP.
const (
	DRM_CLIENT_CAP_STEREO_3D            = 1
	DRM_CLIENT_CAP_UNIVERSAL_PLANES     = 2
	DRM_CLIENT_CAP_ATOMIC               = 3
	DRM_CLIENT_CAP_ASPECT_RATIO         = 4
	DRM_CLIENT_CAP_WRITEBACK_CONNECTORS = 5
)

// DRM_PRIME_CAP_* bits of the DRM_CAP_PRIME value.
const (
	DRM_PRIME_CAP_IMPORT = 0x1
	DRM_PRIME_CAP_EXPORT = 0x2
)

// DRM_MAJOR is the character device major of DRM nodes.
const DRM_MAJOR = 226
