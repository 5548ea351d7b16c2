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

package aggregate

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"golang.org/x/sys/unix"

	"iodisco.dev/iodisco/pkg/abi/kbase"
	"iodisco.dev/iodisco/pkg/catalog"
	"iodisco.dev/iodisco/pkg/device"
	"iodisco.dev/iodisco/pkg/dispatch"
	"iodisco.dev/iodisco/pkg/dispatch/dispatchtest"
	"iodisco.dev/iodisco/pkg/gate"
	"iodisco.dev/iodisco/pkg/gpuerr"
)

type prop struct {
	id, code uint32
	v        uint64
}

func propsBlob(props ...prop) []byte {
	var b []byte
	for _, p := range props {
		b = catalog.ByteOrder.AppendUint32(b, p.id<<2|p.code)
		switch p.code {
		case kbase.KBASE_GPUPROP_VALUE_SIZE_U8:
			b = append(b, byte(p.v))
		case kbase.KBASE_GPUPROP_VALUE_SIZE_U16:
			b = catalog.ByteOrder.AppendUint16(b, uint16(p.v))
		case kbase.KBASE_GPUPROP_VALUE_SIZE_U32:
			b = catalog.ByteOrder.AppendUint32(b, uint32(p.v))
		default:
			b = catalog.ByteOrder.AppendUint64(b, p.v)
		}
	}
	return b
}

// g710Props describes an eight core Mali-G710.
var g710Props = []prop{
	{kbase.KBASE_GPUPROP_PRODUCT_ID, kbase.KBASE_GPUPROP_VALUE_SIZE_U32, 0xa002},
	{kbase.KBASE_GPUPROP_RAW_GPU_ID, kbase.KBASE_GPUPROP_VALUE_SIZE_U64, 0xa0020000},
	{kbase.KBASE_GPUPROP_RAW_SHADER_PRESENT, kbase.KBASE_GPUPROP_VALUE_SIZE_U64, 0xff},
	{kbase.KBASE_GPUPROP_L2_NUM_L2_SLICES, kbase.KBASE_GPUPROP_VALUE_SIZE_U8, 2},
	{kbase.KBASE_GPUPROP_L2_LOG2_CACHE_SIZE, kbase.KBASE_GPUPROP_VALUE_SIZE_U8, 20},
	{kbase.KBASE_GPUPROP_RAW_L2_FEATURES, kbase.KBASE_GPUPROP_VALUE_SIZE_U32, 0x07130206},
	{kbase.KBASE_GPUPROP_RAW_COHERENCY_MODE, kbase.KBASE_GPUPROP_VALUE_SIZE_U32, 31},
}

func maliKernel() *dispatchtest.Kernel {
	k := dispatchtest.NewKernel()
	k.Handle(kbase.KBASE_IOCTL_SET_FLAGS, dispatchtest.Return(0))
	k.Handle(kbase.KBASE_IOCTL_GET_GPUPROPS, func(a *dispatch.Arena) (uintptr, error) {
		blob := propsBlob(g710Props...)
		copy(a.Side("buffer"), blob)
		return uintptr(len(blob)), nil
	})
	k.Handle(kbase.KBASE_IOCTL_GET_DDK_VERSION, func(a *dispatch.Arena) (uintptr, error) {
		n := copy(a.Side("version_buffer"), "K:r38p1-01eac0")
		return uintptr(n), nil
	})
	k.Handle(kbase.KBASE_IOCTL_GET_CONTEXT_ID, func(a *dispatch.Arena) (uintptr, error) {
		catalog.ByteOrder.PutUint32(a.Bytes(), 7)
		return 0, nil
	})
	k.Handle(kbase.KBASE_IOCTL_DISJOINT_QUERY, dispatchtest.Return(0))
	return k
}

func maliHandle() *dispatchtest.Handle {
	h := dispatchtest.NewHandle("/dev/mali0", catalog.Mali)
	h.SetVersion(catalog.Version{Major: 11, Minor: 31})
	h.SetIdentity(catalog.Values{"major": uint64(11), "minor": uint64(31)})
	return h
}

func names(r Report) []string {
	var res []string
	for _, e := range r.Entries {
		res = append(res, e.Name)
	}
	return res
}

func TestAggregate(t *testing.T) {
	k := maliKernel()
	a := New(dispatch.New(k, dispatch.Options{}), catalog.Default())
	h := maliHandle()

	r, err := a.Aggregate(context.Background(), h, DefaultQueries(catalog.Mali, h.Version()))
	if err != nil {
		t.Fatalf("Aggregate: %v", err)
	}
	want := []string{"SET_FLAGS", "GET_GPUPROPS", "GET_DDK_VERSION", "GET_CONTEXT_ID", "DISJOINT_QUERY"}
	if diff := cmp.Diff(want, names(r)); diff != "" {
		t.Errorf("entries mismatch (-want +got):\n%s", diff)
	}
	if n := r.Failed(); n != 0 {
		t.Errorf("%d failed entries, want 0", n)
	}
	if r.Device != "/dev/mali0" || r.Family != catalog.Mali || r.Mode != gate.MinimalSafe {
		t.Errorf("report header = %q %v %v", r.Device, r.Family, r.Mode)
	}
	if diff := cmp.Diff(catalog.Values{"id": uint64(7)}, r.Values("GET_CONTEXT_ID")); diff != "" {
		t.Errorf("GET_CONTEXT_ID mismatch (-want +got):\n%s", diff)
	}
	if r.Finished.Before(r.Started) {
		t.Errorf("report finished at %v, before it started at %v", r.Finished, r.Started)
	}
	if k.Count() != len(want) {
		t.Errorf("%d kernel calls, want %d", k.Count(), len(want))
	}
}

func TestAggregatePartialFailure(t *testing.T) {
	k := maliKernel()
	k.Handle(kbase.KBASE_IOCTL_GET_DDK_VERSION, dispatchtest.Fail(unix.EIO))
	a := New(dispatch.New(k, dispatch.Options{}), catalog.Default())

	r, err := a.Aggregate(context.Background(), maliHandle(), DefaultQueries(catalog.Mali, catalog.Version{Major: 11, Minor: 31}))
	if err != nil {
		t.Fatalf("Aggregate: %v", err)
	}
	if got := len(r.Entries); got != 5 {
		t.Fatalf("%d entries, want 5", got)
	}
	if n := r.Failed(); n != 1 {
		t.Errorf("%d failed entries, want 1", n)
	}
	e := r.Entries[2]
	want := &Failure{Kind: gpuerr.DeviceError, Errno: "EIO", Message: e.Error.Message}
	if diff := cmp.Diff(want, e.Error); diff != "" {
		t.Errorf("GET_DDK_VERSION failure mismatch (-want +got):\n%s", diff)
	}
	if e.Values != nil {
		t.Errorf("failed entry carries values %v", e.Values)
	}
	if !r.Entries[3].OK() || !r.Entries[4].OK() {
		t.Errorf("queries after the failure did not run: %+v", r.Entries[3:])
	}
}

func TestAggregateRecordsRefusals(t *testing.T) {
	k := maliKernel()
	a := New(dispatch.New(k, dispatch.Options{Mode: gate.MinimalSafe}), catalog.Default())
	queries := []catalog.Opcode{
		catalog.Op(kbase.KBASE_IOCTL_SET_FLAGS),
		catalog.Op(0xdeadbeef),
		catalog.Op(kbase.KBASE_IOCTL_MEM_ALLOC),
		catalog.Op(kbase.KBASE_IOCTL_GET_CONTEXT_ID),
	}
	r, err := a.Aggregate(context.Background(), maliHandle(), queries)
	if err != nil {
		t.Fatalf("Aggregate: %v", err)
	}
	var kinds []gpuerr.Kind
	for _, e := range r.Entries {
		if e.OK() {
			kinds = append(kinds, 0)
		} else {
			kinds = append(kinds, e.Error.Kind)
		}
	}
	if diff := cmp.Diff([]gpuerr.Kind{0, gpuerr.Unclassified, gpuerr.ModeViolation, 0}, kinds); diff != "" {
		t.Errorf("entry kinds mismatch (-want +got):\n%s", diff)
	}
	if r.Entries[1].Opcode != queries[1] {
		t.Errorf("unclassified entry opcode = %v, want %v", r.Entries[1].Opcode, queries[1])
	}
	if n := k.Count(); n != 2 {
		t.Errorf("%d kernel calls, want 2", n)
	}
}

func TestAggregateStopsOnInvalidHandle(t *testing.T) {
	k := maliKernel()
	k.Handle(kbase.KBASE_IOCTL_GET_GPUPROPS, dispatchtest.Fail(unix.ENODEV))
	a := New(dispatch.New(k, dispatch.Options{}), catalog.Default())

	r, err := a.Aggregate(context.Background(), maliHandle(), DefaultQueries(catalog.Mali, catalog.Version{}))
	if !errors.Is(err, gpuerr.DeviceError) {
		t.Fatalf("Aggregate: err = %v, want DeviceError", err)
	}
	if diff := cmp.Diff([]string{"SET_FLAGS", "GET_GPUPROPS"}, names(r)); diff != "" {
		t.Errorf("partial report mismatch (-want +got):\n%s", diff)
	}
	if n := k.Count(); n != 2 {
		t.Errorf("%d kernel calls, want 2", n)
	}
}

func TestFinalizeCopies(t *testing.T) {
	h := maliHandle()
	b := NewBuilder(h, gate.Experimental)
	b.Add(dispatch.Result{Name: "GET_CONTEXT_ID", Values: catalog.Values{"id": uint64(1)}})
	first := b.Finalize()

	first.Entries[0].Values["id"] = uint64(99)
	first.Identity["major"] = uint64(0)
	b.Add(dispatch.Result{Name: "DISJOINT_QUERY", Err: gpuerr.New(gpuerr.Timeout, "dispatch", "timed out")})
	second := b.Finalize()

	if got := len(first.Entries); got != 1 {
		t.Errorf("finalized report grew to %d entries", got)
	}
	if diff := cmp.Diff(catalog.Values{"id": uint64(1)}, second.Entries[0].Values); diff != "" {
		t.Errorf("builder values changed through a report (-want +got):\n%s", diff)
	}
	if got := second.Identity["major"]; got != uint64(11) {
		t.Errorf("builder identity changed through a report: major = %v", got)
	}
	if h.Identity()["major"] != uint64(11) {
		t.Errorf("handle identity changed through a report")
	}
	if first.Session != second.Session {
		t.Errorf("session changed between finalizations")
	}
	if second.Entries[1].Error.Kind != gpuerr.Timeout {
		t.Errorf("second entry = %+v, want a Timeout failure", second.Entries[1])
	}
}

func TestDefaultQueries(t *testing.T) {
	for _, f := range catalog.Families() {
		ops := DefaultQueries(f, catalog.Version{})
		if len(ops) == 0 {
			t.Errorf("%v has no default queries", f)
			continue
		}
		for _, op := range ops {
			d, err := catalog.Default().Lookup(f, op)
			if err != nil {
				t.Errorf("%v default query %v: %v", f, op, err)
				continue
			}
			if d.Identify {
				t.Errorf("%v default queries repeat the identification probe %s", f, d.Name)
			}
			if d.Tier != catalog.ReadOnlyQuery {
				t.Errorf("%v default query %s has tier %v", f, d.Name, d.Tier)
			}
		}
	}
	first, err := catalog.Default().Lookup(catalog.MaliCSF, DefaultQueries(catalog.MaliCSF, catalog.Version{})[0])
	if err != nil || first.Name != "SET_FLAGS" {
		t.Errorf("first CSF query = %v, %v; want SET_FLAGS", first.Name, err)
	}
}

func TestSummarizeMali(t *testing.T) {
	a := New(dispatch.New(maliKernel(), dispatch.Options{}), catalog.Default())
	h := maliHandle()
	r, err := a.Aggregate(context.Background(), h, DefaultQueries(catalog.Mali, h.Version()))
	if err != nil {
		t.Fatalf("Aggregate: %v", err)
	}
	want := Summary{
		Vendor:          "ARM",
		Model:           "Mali-G710",
		Architecture:    "Valhall",
		Tier:            "high-performance",
		Driver:          "kbase",
		DriverVersion:   "11.31",
		DriverBuild:     "K:r38p1-01eac0",
		GPUID:           0xa0020000,
		Cores:           8,
		CoreMask:        0xff,
		L2Slices:        2,
		L2Bytes:         2 << 20,
		BusWidth:        128,
		EnginesPerCore:  2,
		FP32FMAsPerCore: 64,
		FP16FMAsPerCore: 128,
		TexelsPerCore:   8,
		PixelsPerCore:   4,
		TotalFP32FMAs:   512,
		TotalFP16FMAs:   1024,
		TotalTexels:     64,
		TotalPixels:     32,
		Features:        []string{"job-manager", "coherency-none"},
	}
	if diff := cmp.Diff(want, Summarize(r)); diff != "" {
		t.Errorf("Summarize mismatch (-want +got):\n%s", diff)
	}
}

func TestSummarizeKGSL(t *testing.T) {
	r := Report{
		Family:  catalog.KGSL,
		Version: catalog.Version{Major: 3, Minor: 14},
		Entries: []Entry{
			{Name: "GETPROPERTY.DEVICE_INFO", Values: catalog.Values{
				"device_id": uint64(1), "chip_id": uint64(0x06030001), "mmu_enabled": uint64(1),
				"gmem_gpubaseaddr": uint64(0x100000), "gpu_id": uint64(630), "gmem_sizebytes": uint64(1 << 20),
			}},
			{Name: "GETPROPERTY.GPU_MODEL", Error: &Failure{Kind: gpuerr.DeviceError, Errno: "EINVAL"}},
			{Name: "GETPROPERTY.UBWC_MODE", Values: catalog.Values{"value": uint64(3)}},
			{Name: "GETPROPERTY.DEVICE_BITNESS", Values: catalog.Values{"value": uint64(48)}},
		},
	}
	want := Summary{
		Vendor:        "Qualcomm",
		Model:         "Adreno 630",
		Architecture:  "A6xx",
		Driver:        "kgsl",
		DriverVersion: "3.14",
		GPUID:         0x06030001,
		GMEM:          1 << 20,
		Features:      []string{"mmu", "ubwc-3", "48-bit"},
	}
	if diff := cmp.Diff(want, Summarize(r)); diff != "" {
		t.Errorf("Summarize mismatch (-want +got):\n%s", diff)
	}
}

func TestSummarizeDRM(t *testing.T) {
	r := Report{
		Family: catalog.DRM,
		Identity: catalog.Values{
			"version_major": uint64(1), "version_minor": uint64(2), "version_patchlevel": uint64(0),
			"name": "panfrost", "date": "20180908", "desc": "panfrost DRM",
		},
		Entries: []Entry{
			{Name: "GET_UNIQUE", Values: catalog.Values{"unique": "fde60000.gpu"}},
			{Name: "GET_CAP.DUMB_BUFFER", Values: catalog.Values{"value": uint64(0)}},
			{Name: "GET_CAP.PRIME", Values: catalog.Values{"value": uint64(3)}},
			{Name: "GET_CAP.SYNCOBJ", Values: catalog.Values{"value": uint64(1)}},
			{Name: "GET_CAP.SYNCOBJ_TIMELINE", Error: &Failure{Kind: gpuerr.DeviceError}},
		},
	}
	want := Summary{
		Vendor:        "ARM",
		Model:         "panfrost DRM",
		Driver:        "panfrost",
		DriverVersion: "1.2.0",
		DriverBuild:   "20180908",
		Features:      []string{"prime", "syncobj"},
	}
	if diff := cmp.Diff(want, Summarize(r)); diff != "" {
		t.Errorf("Summarize mismatch (-want +got):\n%s", diff)
	}
}

// hostSystem serves /dev/mali0 and /dev/mali1 to any process.
type hostSystem struct {
	mu   sync.Mutex
	next int
	open map[int]bool
}

func (s *hostSystem) Stat(path string) (device.Node, error) {
	switch path {
	case "/dev/mali0", "/dev/mali1":
		return device.Node{Path: path, Mode: 0o666, Char: true}, nil
	}
	return device.Node{}, unix.ENOENT
}

func (s *hostSystem) Credentials() (uint32, []uint32, error) { return 1000, nil, nil }

func (s *hostSystem) GroupName(uint32) (string, error) { return "", errors.New("no groups") }

func (s *hostSystem) Open(string, int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.next++
	s.open[s.next] = true
	return s.next, nil
}

func (s *hostSystem) Close(fd int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.open, fd)
	return nil
}

func TestInspectAll(t *testing.T) {
	k := maliKernel()
	k.Handle(kbase.KBASE_IOCTL_VERSION_CHECK_JM, func(a *dispatch.Arena) (uintptr, error) {
		catalog.ByteOrder.PutUint16(a.Bytes()[0:], 11)
		catalog.ByteOrder.PutUint16(a.Bytes()[2:], 31)
		return 0, nil
	})
	d := dispatch.New(k, dispatch.Options{})
	sys := &hostSystem{open: make(map[int]bool)}
	m := device.NewManager(d, catalog.Default(), device.Options{System: sys, LockDir: t.TempDir()})
	a := New(d, catalog.Default())

	paths := []string{"/dev/mali0", "/dev/mali7", "/dev/mali1"}
	res := a.InspectAll(context.Background(), m, paths, 2)
	if len(res) != len(paths) {
		t.Fatalf("%d inspections, want %d", len(res), len(paths))
	}
	for i, ins := range res {
		if ins.Path != paths[i] {
			t.Errorf("inspection %d is of %s, want %s", i, ins.Path, paths[i])
		}
	}
	for _, i := range []int{0, 2} {
		if res[i].Err != nil {
			t.Errorf("%s: %v", res[i].Path, res[i].Err)
			continue
		}
		if res[i].Report.Device != paths[i] || len(res[i].Report.Entries) != 5 {
			t.Errorf("%s: report of %s with %d entries", paths[i], res[i].Report.Device, len(res[i].Report.Entries))
		}
		if got := Summarize(res[i].Report).Model; got != "Mali-G710" {
			t.Errorf("%s: model %q, want Mali-G710", paths[i], got)
		}
	}
	if !errors.Is(res[1].Err, gpuerr.DeviceNotFound) {
		t.Errorf("%s: err = %v, want DeviceNotFound", paths[1], res[1].Err)
	}
	if res[0].Report.Session == res[2].Report.Session {
		t.Errorf("two devices share session %v", res[0].Report.Session)
	}
	if n := len(sys.open); n != 0 {
		t.Errorf("%d descriptors left open", n)
	}
}
