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

package cleanup

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestCleanOrder(t *testing.T) {
	var got []int
	func() {
		cu := Make(func() { got = append(got, 1) })
		cu.Add(func() { got = append(got, 2) })
		defer cu.Clean()
	}()
	if diff := cmp.Diff([]int{2, 1}, got); diff != "" {
		t.Errorf("cleanup order mismatch (-want +got):\n%s", diff)
	}
}

func TestRelease(t *testing.T) {
	called := 0
	var done func()
	func() {
		cu := Make(func() { called++ })
		defer cu.Clean()
		done = cu.Release()
	}()
	if called != 0 {
		t.Fatalf("released cleanup ran %d times on scope exit", called)
	}
	done()
	if called != 1 {
		t.Errorf("released function ran %d times, want 1", called)
	}
}
