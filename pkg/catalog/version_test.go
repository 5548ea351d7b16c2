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
)

func TestVersionTableSorted(t *testing.T) {
	for family, table := range versioningTables {
		var prev Version // zero value is correct.
		for i, cur := range table {
			if !cur.version.IsGreaterThan(prev) {
				t.Errorf("%v: version %s at index %d is less than or equal to the previous version %s at index %d", family, cur.version, i, prev, i-1)
			}
			prev = cur.version
		}
	}
}

func TestVersionFrom(t *testing.T) {
	for _, tc := range []struct {
		in      string
		want    Version
		wantErr bool
	}{
		{in: "11.40", want: Version{11, 40, 0}},
		{in: "1.2.3", want: Version{1, 2, 3}},
		{in: "11", wantErr: true},
		{in: "1.x", wantErr: true},
		{in: "1.2.3.4", wantErr: true},
	} {
		got, err := VersionFrom(tc.in)
		if (err != nil) != tc.wantErr {
			t.Errorf("VersionFrom(%q) error = %v, wantErr %v", tc.in, err, tc.wantErr)
			continue
		}
		if got != tc.want {
			t.Errorf("VersionFrom(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestVersionOrdering(t *testing.T) {
	a, b := Version{11, 20, 0}, Version{11, 3, 0}
	if !a.IsGreaterThan(b) {
		t.Errorf("%v.IsGreaterThan(%v) = false", a, b)
	}
	if b.IsGreaterThanOrEqual(a) {
		t.Errorf("%v.IsGreaterThanOrEqual(%v) = true", b, a)
	}
	if !a.IsGreaterThanOrEqual(a) {
		t.Errorf("%v.IsGreaterThanOrEqual(itself) = false", a)
	}
	if a.IsGreaterThan(a) {
		t.Errorf("%v.IsGreaterThan(itself) = true", a)
	}
}

func testDescriptor(name string) *Descriptor {
	return &Descriptor{Name: name, Tier: ReadOnlyQuery, Decode: DecodeReturn}
}

func TestBuildTableAppliesDiffs(t *testing.T) {
	a, b, c := Op(0x1), Op(0x2), Op(0x3)
	table := []versionDiff{
		{version: Version{1, 0, 0}, entries: entryTable{a: testDescriptor("A"), b: testDescriptor("B")}},
		{version: Version{1, 5, 0}, entries: entryTable{c: testDescriptor("C"), b: nil}},
		{version: Version{2, 0, 0}, entries: entryTable{a: testDescriptor("A2")}},
	}
	names := func(t entryTable) map[Opcode]string {
		res := make(map[Opcode]string)
		for op, d := range t {
			res[op] = d.Name
		}
		return res
	}
	for _, tc := range []struct {
		version Version
		want    map[Opcode]string
	}{
		{Version{1, 0, 0}, map[Opcode]string{a: "A", b: "B"}},
		{Version{1, 9, 0}, map[Opcode]string{a: "A", c: "C"}},
		{Version{3, 0, 0}, map[Opcode]string{a: "A2", c: "C"}},
	} {
		got, err := buildTable(table, tc.version)
		if err != nil {
			t.Fatalf("buildTable(%v): %v", tc.version, err)
		}
		if diff := cmp.Diff(tc.want, names(got)); diff != "" {
			t.Errorf("buildTable(%v) mismatch (-want +got):\n%s", tc.version, diff)
		}
	}
	if _, err := buildTable(table, Version{0, 9, 0}); err == nil {
		t.Errorf("buildTable below the base version succeeded")
	}
}

func TestFlattenTableStampsVersions(t *testing.T) {
	a, b := Op(0x1), Op(0x2)
	table := []versionDiff{
		{version: Version{1, 0, 0}, entries: entryTable{a: testDescriptor("A")}},
		{version: Version{1, 5, 0}, entries: entryTable{b: testDescriptor("B")}},
		{version: Version{2, 0, 0}, entries: entryTable{a: nil}},
	}
	got := make(map[string][2]Version)
	for _, d := range flattenTable(Mali, table) {
		if d.Family != Mali {
			t.Errorf("%s: family %v, want %v", d.Name, d.Family, Mali)
		}
		got[d.Name] = [2]Version{d.MinVersion, d.MaxVersion}
	}
	want := map[string][2]Version{
		"A": {{1, 0, 0}, {2, 0, 0}},
		"B": {{1, 5, 0}, {}},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("flattenTable mismatch (-want +got):\n%s", diff)
	}
}

func TestSupported(t *testing.T) {
	old, err := Supported(Mali, Version{11, 10, 0})
	if err != nil {
		t.Fatalf("Supported: %v", err)
	}
	for _, d := range old {
		if d.Name == "SET_LIMITED_CORE_COUNT" || d.Name == "GET_CPU_GPU_TIMEINFO" {
			t.Errorf("API 11.10 offers %s", d.Name)
		}
	}
	latest, err := Supported(Mali, Version{11, 40, 0})
	if err != nil {
		t.Fatalf("Supported: %v", err)
	}
	if len(latest) != len(Default().InFamily(Mali)) {
		t.Errorf("API 11.40 offers %d operations, catalog has %d", len(latest), len(Default().InFamily(Mali)))
	}
}
