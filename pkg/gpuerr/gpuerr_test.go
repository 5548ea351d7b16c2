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

package gpuerr

import (
	"errors"
	"fmt"
	"testing"

	"golang.org/x/sys/unix"
)

func TestIs(t *testing.T) {
	err := fmt.Errorf("query: %w", New(ModeViolation, "dispatch", "tier %s not permitted", "StateAltering"))
	if !errors.Is(err, ModeViolation) {
		t.Errorf("errors.Is(%v, ModeViolation) = false, want true", err)
	}
	if errors.Is(err, Unclassified) {
		t.Errorf("errors.Is(%v, Unclassified) = true, want false", err)
	}
}

func TestKindOf(t *testing.T) {
	for _, tc := range []struct {
		name string
		err  error
		want Kind
	}{
		{"nil", nil, 0},
		{"typed", New(DeviceBusy, "open", "locked"), DeviceBusy},
		{"wrapped", fmt.Errorf("x: %w", New(Timeout, "dispatch", "deadline")), Timeout},
		{"bare kind", Unclassified, Unclassified},
		{"foreign", errors.New("boom"), Unknown},
	} {
		t.Run(tc.name, func(t *testing.T) {
			if got := KindOf(tc.err); got != tc.want {
				t.Errorf("KindOf(%v) = %v, want %v", tc.err, got, tc.want)
			}
		})
	}
}

func TestWrapKeepsErrno(t *testing.T) {
	err := Wrap(DeviceError, "dispatch", unix.EINVAL)
	if err.Errno != unix.EINVAL {
		t.Errorf("Errno = %v, want EINVAL", err.Errno)
	}
	if !errors.Is(err, unix.EINVAL) {
		t.Errorf("errors.Is(%v, EINVAL) = false, want true", err)
	}
}

func TestKindText(t *testing.T) {
	for k := range kindNames {
		b, err := k.MarshalText()
		if err != nil {
			t.Fatalf("MarshalText(%v): %v", k, err)
		}
		var got Kind
		if err := got.UnmarshalText(b); err != nil {
			t.Fatalf("UnmarshalText(%q): %v", b, err)
		}
		if got != k {
			t.Errorf("round trip of %v = %v", k, got)
		}
	}
}

func TestSessionFatal(t *testing.T) {
	for _, k := range []Kind{PermissionDenied, DeviceNotFound, DeviceBusy} {
		if !k.SessionFatal() {
			t.Errorf("%v.SessionFatal() = false, want true", k)
		}
	}
	for _, k := range []Kind{ModeViolation, Unclassified, DeviceError, Timeout} {
		if k.SessionFatal() {
			t.Errorf("%v.SessionFatal() = true, want false", k)
		}
	}
}
