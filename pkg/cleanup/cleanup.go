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

// Package cleanup runs deferred release steps unless the scope succeeds.
package cleanup

// Cleanup collects release functions. Clean runs them in reverse order of
// registration; Release disarms the Cleanup and hands them to the caller.
//
// Typical use:
//
//	cu := cleanup.Make(func() { unix.Close(fd) })
//	defer cu.Clean()
//	...
//	cu.Release()
type Cleanup struct {
	fns []func()
}

// Make returns a Cleanup armed with f.
func Make(f func()) Cleanup {
	return Cleanup{fns: []func(){f}}
}

// Add registers f to run before the already registered functions.
func (c *Cleanup) Add(f func()) {
	c.fns = append(c.fns, f)
}

// Clean runs every registered function, last registered first, and
// disarms c.
func (c *Cleanup) Clean() {
	for i := len(c.fns) - 1; i >= 0; i-- {
		c.fns[i]()
	}
	c.fns = nil
}

// Release disarms c and returns a function that runs what Clean would have.
func (c *Cleanup) Release() func() {
	old := c.fns
	c.fns = nil
	return func() {
		for i := len(old) - 1; i >= 0; i-- {
			old[i]()
		}
	}
}
