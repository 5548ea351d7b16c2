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

package ioc

import "testing"

func TestEncode(t *testing.T) {
	for _, tc := range []struct {
		name string
		got  uint32
		want uint32
	}{
		{"kbase version check", IOWR(0x80, 0, 4), 0xc0048000},
		{"kbase disjoint query", IOR(0x80, 12, 4), 0x8004800c},
		{"kbase mem free", IOW(0x80, 7, 8), 0x40088007},
		{"kgsl getproperty", IOWR(0x09, 0x2, 24), 0xc0180902},
		{"drm version", IOWR('d', 0x00, 64), 0xc0406400},
		{"drm drop master", IO('d', 0x1f), 0x641f},
	} {
		t.Run(tc.name, func(t *testing.T) {
			if tc.got != tc.want {
				t.Errorf("got %#08x, want %#08x", tc.got, tc.want)
			}
		})
	}
}

func TestDecode(t *testing.T) {
	req := IOWR(0x09, 0x3a, 32)
	if got := Dir(req); got != Read|Write {
		t.Errorf("Dir(%#x) = %d, want %d", req, got, Read|Write)
	}
	if got := Type(req); got != 0x09 {
		t.Errorf("Type(%#x) = %#x, want 0x09", req, got)
	}
	if got := NR(req); got != 0x3a {
		t.Errorf("NR(%#x) = %#x, want 0x3a", req, got)
	}
	if got := Size(req); got != 32 {
		t.Errorf("Size(%#x) = %d, want 32", req, got)
	}
}

func TestOversizePanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Errorf("IOC with a 16KiB payload did not panic")
		}
	}()
	IOWR(0x80, 0, 1<<SizeBits)
}
