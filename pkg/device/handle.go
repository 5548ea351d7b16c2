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

package device

import (
	"context"
	"fmt"
	"sync"

	"github.com/gofrs/flock"

	"iodisco.dev/iodisco/pkg/catalog"
	"iodisco.dev/iodisco/pkg/gpuerr"
)

// Route is how the process reaches a device node.
type Route struct {
	// Via is "owner", "group" or "world".
	Via string `json:"via"`

	// Group is the granting group for Via == "group".
	Group string `json:"group,omitempty"`
}

// String implements fmt.Stringer.
func (r Route) String() string {
	if r.Via == "group" {
		return fmt.Sprintf("group %s", r.Group)
	}
	return r.Via
}

// Handle is one open connection to a GPU device node. A Handle is used by
// one goroutine at a time; Close is idempotent.
type Handle struct {
	node     Node
	sys      System
	lock     *flock.Flock
	route    Route
	verified bool

	// Set while identifying the driver, then fixed.
	family   catalog.Family
	version  catalog.Version
	identity catalog.Values

	// busy holds a token while a kernel call is in flight.
	busy chan struct{}

	mu         sync.Mutex
	fd         int
	closed     bool
	closeOnEnd bool
	invalid    error
}

func newHandle(sys System, node Node, fd int, route Route, lock *flock.Flock) *Handle {
	return &Handle{
		node:     node,
		sys:      sys,
		lock:     lock,
		route:    route,
		verified: true,
		fd:       fd,
		busy:     make(chan struct{}, 1),
	}
}

// Path returns the device node path.
func (h *Handle) Path() string { return h.node.Path }

// Node returns the device node metadata.
func (h *Handle) Node() Node { return h.node }

// Family returns the detected driver family.
func (h *Handle) Family() catalog.Family { return h.family }

// Version returns the driver API version reported during identification.
func (h *Handle) Version() catalog.Version { return h.version }

// Verified returns true once group access to the node was established.
func (h *Handle) Verified() bool { return h.verified }

// Route returns how access to the node was granted.
func (h *Handle) Route() Route { return h.route }

// Identity returns a copy of the values reported by the identification
// probe. Drivers such as kbase accept the probe once per descriptor, so
// callers read it here instead of repeating it.
func (h *Handle) Identity() catalog.Values {
	res := make(catalog.Values, len(h.identity))
	for k, v := range h.identity {
		res[k] = v
	}
	return res
}

// Begin implements dispatch.Handle.Begin.
func (h *Handle) Begin(ctx context.Context) (int, error) {
	if err := h.usable(); err != nil {
		return 0, err
	}
	select {
	case h.busy <- struct{}{}:
	case <-ctx.Done():
		return 0, gpuerr.Wrap(gpuerr.Timeout, "begin", ctx.Err()).WithPath(h.Path())
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.usableLocked(); err != nil {
		<-h.busy
		return 0, err
	}
	return h.fd, nil
}

// End implements dispatch.Handle.End.
func (h *Handle) End() {
	h.mu.Lock()
	if h.closeOnEnd {
		h.closeOnEnd = false
		h.sys.Close(h.fd)
		h.unlock()
	}
	h.mu.Unlock()
	<-h.busy
}

// Invalidate implements dispatch.Handle.Invalidate.
func (h *Handle) Invalidate(cause error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.invalid == nil {
		h.invalid = cause
	}
}

// Err returns the reason h can no longer be used, or nil.
func (h *Handle) Err() error {
	return h.usable()
}

func (h *Handle) usable() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.usableLocked()
}

func (h *Handle) usableLocked() error {
	switch {
	case h.closed:
		return gpuerr.New(gpuerr.DeviceError, "begin", "handle is closed").WithPath(h.Path())
	case h.invalid != nil:
		return &gpuerr.Error{Kind: gpuerr.DeviceError, Op: "begin", Path: h.Path(), Reason: "handle is no longer valid", Err: h.invalid}
	default:
		return nil
	}
}

// Close releases the descriptor and the session lock. If a call abandoned
// by the dispatcher is still in flight, both are released when it returns.
func (h *Handle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	h.closed = true

	select {
	case h.busy <- struct{}{}:
	default:
		h.closeOnEnd = true
		return nil
	}
	err := h.sys.Close(h.fd)
	<-h.busy
	if uerr := h.unlock(); uerr != nil && err == nil {
		err = uerr
	}
	return err
}

func (h *Handle) unlock() error {
	if h.lock == nil {
		return nil
	}
	return h.lock.Unlock()
}
