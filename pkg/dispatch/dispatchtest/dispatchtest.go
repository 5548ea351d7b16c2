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

// Package dispatchtest provides a scripted kernel and device handle for
// testing code built on package dispatch.
package dispatchtest

import (
	"context"
	"sync"

	"golang.org/x/sys/unix"

	"iodisco.dev/iodisco/pkg/catalog"
	"iodisco.dev/iodisco/pkg/dispatch"
	"iodisco.dev/iodisco/pkg/gpuerr"
)

// Handler answers one ioctl. The arena is nil for NULL-argument calls.
type Handler func(a *dispatch.Arena) (uintptr, error)

// Return answers with ret.
func Return(ret uintptr) Handler {
	return func(*dispatch.Arena) (uintptr, error) { return ret, nil }
}

// Fail answers with errno.
func Fail(errno unix.Errno) Handler {
	return func(*dispatch.Arena) (uintptr, error) { return 0, errno }
}

// Call records one ioctl.
type Call struct {
	FD      int
	Request uint32
	Null    bool
}

// Kernel is a dispatch.Kernel that answers from registered handlers.
// Requests without a handler fail with ENOTTY.
type Kernel struct {
	mu       sync.Mutex
	handlers map[uint32]Handler
	calls    []Call
}

// NewKernel returns a Kernel without handlers.
func NewKernel() *Kernel {
	return &Kernel{handlers: make(map[uint32]Handler)}
}

// Handle registers h for request, replacing any earlier handler.
func (k *Kernel) Handle(request uint32, h Handler) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.handlers[request] = h
}

// Ioctl implements dispatch.Kernel.Ioctl.
func (k *Kernel) Ioctl(fd int, request uint32, a *dispatch.Arena) (uintptr, error) {
	k.mu.Lock()
	k.calls = append(k.calls, Call{FD: fd, Request: request, Null: a == nil})
	h, ok := k.handlers[request]
	k.mu.Unlock()
	if !ok {
		return 0, unix.ENOTTY
	}
	return h(a)
}

// Calls returns the ioctls issued so far.
func (k *Kernel) Calls() []Call {
	k.mu.Lock()
	defer k.mu.Unlock()
	return append([]Call(nil), k.calls...)
}

// Count returns the number of ioctls issued so far.
func (k *Kernel) Count() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.calls)
}

// Handle is a dispatch.Handle without a device node behind it.
type Handle struct {
	path     string
	family   catalog.Family
	version  catalog.Version
	verified bool
	identity catalog.Values
	busy     chan struct{}

	mu      sync.Mutex
	invalid error
}

// NewHandle returns a verified handle of family f.
func NewHandle(path string, f catalog.Family) *Handle {
	return &Handle{
		path:     path,
		family:   f,
		verified: true,
		busy:     make(chan struct{}, 1),
	}
}

// SetVersion sets the driver API version reported by h.
func (h *Handle) SetVersion(v catalog.Version) {
	h.version = v
}

// SetIdentity sets the identification result reported by h.
func (h *Handle) SetIdentity(v catalog.Values) {
	h.identity = v
}

// SetVerified sets the permission state of h.
func (h *Handle) SetVerified(v bool) {
	h.verified = v
}

// Path implements dispatch.Handle.Path.
func (h *Handle) Path() string { return h.path }

// Family implements dispatch.Handle.Family.
func (h *Handle) Family() catalog.Family { return h.family }

// Version implements dispatch.Handle.Version.
func (h *Handle) Version() catalog.Version { return h.version }

// Verified implements dispatch.Handle.Verified.
func (h *Handle) Verified() bool { return h.verified }

// Identity returns the values set by SetIdentity.
func (h *Handle) Identity() catalog.Values { return h.identity }

// Begin implements dispatch.Handle.Begin. The descriptor is always 3.
func (h *Handle) Begin(ctx context.Context) (int, error) {
	if err := h.Err(); err != nil {
		return 0, gpuerr.Wrap(gpuerr.DeviceError, "begin", err)
	}
	select {
	case h.busy <- struct{}{}:
		return 3, nil
	case <-ctx.Done():
		return 0, gpuerr.Wrap(gpuerr.Timeout, "begin", ctx.Err())
	}
}

// End implements dispatch.Handle.End.
func (h *Handle) End() {
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

// Err returns the cause h was invalidated with, or nil.
func (h *Handle) Err() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.invalid
}
