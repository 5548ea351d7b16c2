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

package drm

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
		{"VERSION", DRM_IOCTL_VERSION, ioc.IOWR(DRM_IOCTL_BASE, 0x00, SizeofVersion)},
		{"GET_UNIQUE", DRM_IOCTL_GET_UNIQUE, ioc.IOWR(DRM_IOCTL_BASE, 0x01, SizeofUnique)},
		{"GET_CLIENT", DRM_IOCTL_GET_CLIENT, ioc.IOWR(DRM_IOCTL_BASE, 0x05, SizeofClient)},
		{"SET_VERSION", DRM_IOCTL_SET_VERSION, ioc.IOWR(DRM_IOCTL_BASE, 0x07, SizeofSetVersion)},
		{"GET_CAP", DRM_IOCTL_GET_CAP, ioc.IOWR(DRM_IOCTL_BASE, 0x0c, SizeofGetCap)},
		{"SET_CLIENT_CAP", DRM_IOCTL_SET_CLIENT_CAP, ioc.IOW(DRM_IOCTL_BASE, 0x0d, SizeofSetClientCap)},
		{"DROP_MASTER", DRM_IOCTL_DROP_MASTER, ioc.IO(DRM_IOCTL_BASE, 0x1f)},
	} {
		if tc.req != tc.want {
			t.Errorf("DRM_IOCTL_%s = %#08x, want %#08x", tc.name, tc.req, tc.want)
		}
	}
}
