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

package dispatch

import (
	"context"

	"iodisco.dev/iodisco/pkg/catalog"
)

// Kernel issues ioctl(2) calls.
type Kernel interface {
	// Ioctl issues request on fd with the arena as argument. A nil arena
	// passes a NULL argument. Errors are unix.Errno values.
	Ioctl(fd int, request uint32, a *Arena) (uintptr, error)
}

// Handle is an open device as seen by the dispatcher.
type Handle interface {
	Path() string
	Family() catalog.Family

	// Version returns the negotiated driver API version, or the zero
	// Version if it is unknown.
	Version() catalog.Version

	// Verified returns true once the caller's access to the node has been
	// established.
	Verified() bool

	// Begin reserves the handle for one kernel call and returns its
	// descriptor. It waits, bounded by ctx, for an abandoned earlier call
	// to return.
	Begin(ctx context.Context) (int, error)

	// End releases the reservation taken by Begin.
	End()

	// Invalidate marks the handle unusable.
	Invalidate(cause error)

	// Err returns the reason the handle can no longer be used, or nil.
	Err() error
}
