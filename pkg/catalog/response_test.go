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
	"testing"

	"github.com/google/go-cmp/cmp"
	"iodisco.dev/iodisco/pkg/abi/drm"
	"iodisco.dev/iodisco/pkg/abi/kbase"
	"iodisco.dev/iodisco/pkg/abi/kgsl"
)

func propEntry(id uint32, code uint32, v uint64) []byte {
	b := make([]byte, 4)
	ByteOrder.PutUint32(b, id<<2|code)
	switch code {
	case 0:
		b = append(b, byte(v))
	case 1:
		b = ByteOrder.AppendUint16(b, uint16(v))
	case 2:
		b = ByteOrder.AppendUint32(b, uint32(v))
	default:
		b = ByteOrder.AppendUint64(b, v)
	}
	return b
}

func TestDecodeGPUProps(t *testing.T) {
	var blob []byte
	blob = append(blob, propEntry(kbase.KBASE_GPUPROP_PRODUCT_ID, 2, 0x9091)...)
	blob = append(blob, propEntry(kbase.KBASE_GPUPROP_L2_NUM_L2_SLICES, 0, 2)...)
	blob = append(blob, propEntry(kbase.KBASE_GPUPROP_RAW_SHADER_PRESENT, 3, 0xff)...)
	blob = append(blob, propEntry(200, 1, 7)...)
	side := make([]byte, kbaseGPUPropsCapacity)
	copy(side, blob)

	d, err := Default().Lookup(Mali, Op(kbase.KBASE_IOCTL_GET_GPUPROPS))
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	r := NewResponse(d.ResponseLayout, make([]byte, d.RequestLayout.Size), map[string][]byte{"buffer": side}, uintptr(len(blob)))
	got, err := d.Decode(r)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	want := Values{
		"product_id":         uint64(0x9091),
		"l2_num_l2_slices":   uint64(2),
		"raw_shader_present": uint64(0xff),
		"prop_200":           uint64(7),
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Decode mismatch (-want +got):\n%s", diff)
	}
}

func TestDecodeGPUPropsTruncated(t *testing.T) {
	blob := propEntry(kbase.KBASE_GPUPROP_RAW_GPU_ID, 3, 1)
	d, err := Default().Lookup(Mali, Op(kbase.KBASE_IOCTL_GET_GPUPROPS))
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	// The return value claims fewer bytes than the u64 needs.
	r := NewResponse(d.ResponseLayout, make([]byte, d.RequestLayout.Size), map[string][]byte{"buffer": blob}, 8)
	if _, err := d.Decode(r); err == nil {
		t.Errorf("Decode of a truncated blob succeeded")
	}
}

func TestDecodeKGSLDevinfo(t *testing.T) {
	d, err := Default().Lookup(KGSL, Opcode{Request: kgsl.IOCTL_KGSL_DEVICE_GETPROPERTY, Selector: kgsl.KGSL_PROP_DEVICE_INFO})
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	info := make([]byte, kgsl.SizeofDevinfo)
	ByteOrder.PutUint32(info[0:], 1)
	ByteOrder.PutUint32(info[4:], 0x06030001)
	ByteOrder.PutUint32(info[8:], 1)
	ByteOrder.PutUint64(info[16:], 0x100000)
	ByteOrder.PutUint32(info[24:], 630)
	ByteOrder.PutUint64(info[32:], 1<<20)
	r := NewResponse(d.ResponseLayout, make([]byte, d.RequestLayout.Size), map[string][]byte{"value": info}, 0)
	got, err := d.Decode(r)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	want := Values{
		"device_id":        uint64(1),
		"chip_id":          uint64(0x06030001),
		"mmu_enabled":      uint64(1),
		"gmem_gpubaseaddr": uint64(0x100000),
		"gpu_id":           uint64(630),
		"gmem_sizebytes":   uint64(1 << 20),
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Decode mismatch (-want +got):\n%s", diff)
	}
}

func TestDecodeDRMVersion(t *testing.T) {
	d, err := Default().Lookup(DRM, Op(drm.DRM_IOCTL_VERSION))
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	data := make([]byte, drm.SizeofVersion)
	ByteOrder.PutUint32(data[0:], 1)
	ByteOrder.PutUint32(data[4:], 12)
	ByteOrder.PutUint32(data[8:], 0)
	ByteOrder.PutUint64(data[16:], 8) // name_len
	ByteOrder.PutUint64(data[32:], 8) // date_len
	// desc is longer than its 256 byte buffer; only the buffer is read.
	ByteOrder.PutUint64(data[48:], 1000)
	name := make([]byte, 64)
	copy(name, "panfrostXXXX")
	date := make([]byte, 64)
	copy(date, "20180908")
	desc := make([]byte, 256)
	copy(desc, "panfrost DRM")
	r := NewResponse(d.ResponseLayout, data, map[string][]byte{"name": name, "date": date, "desc": desc}, 0)
	got, err := d.Decode(r)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	want := Values{
		"version_major":      uint64(1),
		"version_minor":      uint64(12),
		"version_patchlevel": uint64(0),
		"name":               "panfrost",
		"date":               "20180908",
		"desc":               "panfrost DRM",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Decode mismatch (-want +got):\n%s", diff)
	}
}

func TestResponseBounds(t *testing.T) {
	l := Layout{Size: 8, Fields: []Field{{Name: "a", Offset: 4, Kind: U32}}}
	r := NewResponse(l, make([]byte, 6), nil, 0)
	if _, err := r.Uint("a"); err == nil {
		t.Errorf("Uint read past the end of a short buffer")
	}
	if _, err := r.Uint("b"); err == nil {
		t.Errorf("Uint read a field outside the response layout")
	}
	if _, err := r.Bytes("a"); err == nil {
		t.Errorf("Bytes read an integer field")
	}
}
