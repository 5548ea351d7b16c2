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

package models

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestMaliTable(t *testing.T) {
	ms, err := MaliModels()
	if err != nil {
		t.Fatalf("MaliModels: %v", err)
	}
	if len(ms) == 0 {
		t.Fatalf("empty Mali table")
	}
	// Entries sharing a product id must be ordered by decreasing core
	// count, or the larger variants can never match.
	for i, m := range ms {
		for _, prev := range ms[:i] {
			if prev.ID&prev.IDMask == m.ID&m.IDMask && prev.IDMask == m.IDMask && prev.MinCores <= m.MinCores {
				t.Errorf("%s (min %d cores) is shadowed by %s (min %d cores)", m.Name, m.MinCores, prev.Name, prev.MinCores)
			}
		}
	}
	ms[0].Name = "changed"
	if again, _ := MaliModels(); again[0].Name == "changed" {
		t.Errorf("MaliModels returned the shared table")
	}
}

func TestIdentifyMali(t *testing.T) {
	for _, tc := range []struct {
		productID uint32
		cores     int
		want      string
	}{
		{0x6000, 8, "Mali-G71"},
		{0x9002, 24, "Mali-G78"},
		{0xa002, 10, "Mali-G710"},
		{0xb002, 11, "Immortalis-G715"},
		{0xb002, 7, "Mali-G715"},
		{0xb002, 6, "Mali-G615"},
		{0xc000, 12, "Immortalis-G720"},
		{0xc000, 6, "Mali-G720"},
		{0xc000, 2, "Mali-G620"},
		// Midgard ids are matched on the top twelve bits.
		{0x0865, 4, "Mali-T860"},
		// The high half carries the core count on some drivers.
		{0x000ac000, 10, "Immortalis-G720"},
	} {
		m, ok := IdentifyMali(tc.productID, tc.cores)
		if !ok {
			t.Errorf("IdentifyMali(%#x, %d) found nothing, want %s", tc.productID, tc.cores, tc.want)
			continue
		}
		if m.Name != tc.want {
			t.Errorf("IdentifyMali(%#x, %d) = %s, want %s", tc.productID, tc.cores, m.Name, tc.want)
		}
	}
	if m, ok := IdentifyMali(0x1234, 4); ok {
		t.Errorf("IdentifyMali(0x1234) = %s, want no match", m.Name)
	}
}

func TestMaliThroughput(t *testing.T) {
	m, ok := IdentifyMali(0xc000, 6)
	if !ok {
		t.Fatalf("Mali-G720 not found")
	}
	if got := m.FP32FMAsPerCore(); got != 128 {
		t.Errorf("FP32FMAsPerCore = %d, want 128", got)
	}
	if got := m.FP16FMAsPerCore(); got != 256 {
		t.Errorf("FP16FMAsPerCore = %d, want 256", got)
	}
}

func TestDecodeAdreno(t *testing.T) {
	for _, tc := range []struct {
		chipID uint32
		want   Adreno
		ok     bool
	}{
		{0x06030001, Adreno{ChipID: 0x06030001, Core: 6, Major: 3, Minor: 0, Patch: 1, Name: "Adreno 630", Generation: "A6xx"}, true},
		{0x05040000, Adreno{ChipID: 0x05040000, Core: 5, Major: 4, Minor: 0, Name: "Adreno 540", Generation: "A5xx"}, true},
		{0x07030001, Adreno{ChipID: 0x07030001, Core: 7, Major: 3, Minor: 0, Patch: 1, Name: "Adreno 730", Generation: "A7xx"}, true},
		{0x43050a01, Adreno{ChipID: 0x43050a01}, false},
	} {
		got, ok := DecodeAdreno(tc.chipID)
		if ok != tc.ok {
			t.Errorf("DecodeAdreno(%#x) ok = %t, want %t", tc.chipID, ok, tc.ok)
		}
		if diff := cmp.Diff(tc.want, got); diff != "" {
			t.Errorf("DecodeAdreno(%#x) mismatch (-want +got):\n%s", tc.chipID, diff)
		}
	}
	if got, want := (Adreno{ChipID: 0x43050a01}).String(), "Adreno (chip id 0x43050a01)"; got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
}
