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

// Package dispatch executes catalogued ioctls on device handles under the
// mode gate.
package dispatch

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
	"golang.org/x/time/rate"

	"iodisco.dev/iodisco/pkg/catalog"
	"iodisco.dev/iodisco/pkg/gate"
	"iodisco.dev/iodisco/pkg/gpuerr"
)

// Options configure a Dispatcher.
type Options struct {
	// Mode is the operating mode every call is authorized against.
	Mode gate.Mode

	// CallTimeout bounds each kernel call. Zero means no bound beyond the
	// caller's context.
	CallTimeout time.Duration

	// CallsPerSecond limits the kernel call rate. Zero means unlimited.
	CallsPerSecond float64

	// MaxCalls is the total number of kernel calls allowed. Zero means
	// unlimited.
	MaxCalls int64
}

// Stats counts what a Dispatcher did.
type Stats struct {
	// Calls is the number of kernel calls issued.
	Calls int64 `json:"calls"`

	// Denied is the number of requests refused before reaching the kernel.
	Denied int64 `json:"denied"`

	// Failed is the number of kernel calls that returned an error.
	Failed int64 `json:"failed"`

	// Abandoned is the number of kernel calls whose wait was abandoned.
	Abandoned int64 `json:"abandoned"`
}

// Result is the outcome of one dispatched operation. Exactly one of Values
// and Err is set.
type Result struct {
	Name   string         `json:"name"`
	Opcode catalog.Opcode `json:"opcode"`
	Tier   catalog.Tier   `json:"tier"`
	Values catalog.Values `json:"values,omitempty"`
	Ret    uintptr        `json:"ret"`
	Err    error          `json:"-"`
}

// OK returns true if the operation succeeded.
func (r Result) OK() bool {
	return r.Err == nil
}

// Dispatcher runs catalogued operations. It is safe for concurrent use on
// distinct handles.
type Dispatcher struct {
	kernel  Kernel
	opts    Options
	limiter *rate.Limiter

	mu    sync.Mutex
	stats Stats
}

// New returns a Dispatcher that issues calls through k.
func New(k Kernel, opts Options) *Dispatcher {
	limit := rate.Inf
	if opts.CallsPerSecond > 0 {
		limit = rate.Limit(opts.CallsPerSecond)
	}
	return &Dispatcher{
		kernel:  k,
		opts:    opts,
		limiter: rate.NewLimiter(limit, 1),
	}
}

// Mode returns the operating mode of d.
func (d *Dispatcher) Mode() gate.Mode {
	return d.opts.Mode
}

// Stats returns a snapshot of d's counters.
func (d *Dispatcher) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stats
}

// reserve counts one kernel call against the budget. It returns false if
// the budget is exhausted.
func (d *Dispatcher) reserve() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.opts.MaxCalls > 0 && d.stats.Calls >= d.opts.MaxCalls {
		return false
	}
	d.stats.Calls++
	return true
}

func (d *Dispatcher) count(fn func(*Stats)) {
	d.mu.Lock()
	fn(&d.stats)
	d.mu.Unlock()
}

// Dispatch runs desc on h with args. Failures are reported in the Result;
// nothing reaches the kernel unless h is verified, desc belongs to h's
// family, the mode permits desc's tier, the driver provides it and args
// encode cleanly.
func (d *Dispatcher) Dispatch(ctx context.Context, h Handle, desc catalog.Descriptor, args catalog.Args) Result {
	res := Result{Name: desc.Name, Opcode: desc.Opcode, Tier: desc.Tier}
	fail := func(err *gpuerr.Error) Result {
		res.Err = err.WithPath(h.Path()).WithName(desc.String())
		return res
	}

	if err := d.precheck(h, desc); err != nil {
		return fail(err)
	}
	arena, err := NewArena(desc, args)
	if err != nil {
		var ge *gpuerr.Error
		errors.As(err, &ge)
		d.count(func(s *Stats) { s.Denied++ })
		return fail(ge)
	}

	ret, err := d.invoke(ctx, h, desc.Opcode.Request, arena)
	if err != nil {
		return fail(d.kernelError(h, err))
	}
	res.Ret = ret
	if desc.ReturnsFD && int(ret) > 0 {
		// The session never reads from returned descriptors.
		defer unix.Close(int(ret))
	}

	vals, err := desc.Decode(arena.Response(desc.ResponseLayout, ret))
	if err != nil {
		return fail(&gpuerr.Error{Kind: gpuerr.DeviceError, Op: "decode", Reason: "malformed response", Err: err})
	}
	res.Values = vals
	return res
}

// precheck runs every check that does not involve the kernel.
func (d *Dispatcher) precheck(h Handle, desc catalog.Descriptor) *gpuerr.Error {
	if !h.Verified() {
		d.count(func(s *Stats) { s.Denied++ })
		return gpuerr.New(gpuerr.PermissionDenied, "dispatch", "device access has not been verified")
	}
	if dec := gate.Authorize(desc, d.opts.Mode); !dec.Allowed {
		d.count(func(s *Stats) { s.Denied++ })
		logrus.WithFields(logrus.Fields{"path": h.Path(), "op": desc.String(), "tier": desc.Tier}).Debug("denied by mode gate")
		return gpuerr.New(gpuerr.ModeViolation, "authorize", "%s", dec.Reason)
	}
	if desc.Family != h.Family() {
		d.count(func(s *Stats) { s.Denied++ })
		return gpuerr.New(gpuerr.Unclassified, "dispatch", "%v is not catalogued for %v devices", desc, h.Family())
	}
	if v := h.Version(); !desc.AvailableIn(v) {
		d.count(func(s *Stats) { s.Denied++ })
		return gpuerr.New(gpuerr.UnsupportedOperation, "dispatch", "driver API %v does not provide %v (added in %v)", v, desc, desc.MinVersion)
	}
	return nil
}

type outcome struct {
	ret uintptr
	err error
}

// invoke issues one kernel call on h, subject to the call budget, the rate
// limit and the call timeout. Kernel failures are returned as unix.Errno,
// everything else as *gpuerr.Error.
func (d *Dispatcher) invoke(ctx context.Context, h Handle, request uint32, a *Arena) (uintptr, error) {
	if d.opts.MaxCalls > 0 && d.Stats().Calls >= d.opts.MaxCalls {
		d.count(func(s *Stats) { s.Denied++ })
		return 0, gpuerr.New(gpuerr.DeviceError, "dispatch", "call budget exhausted")
	}
	if d.opts.CallTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.opts.CallTimeout)
		defer cancel()
	}
	if err := d.limiter.Wait(ctx); err != nil {
		return 0, gpuerr.Wrap(gpuerr.Timeout, "dispatch", err)
	}
	fd, err := h.Begin(ctx)
	if err != nil {
		var ge *gpuerr.Error
		if errors.As(err, &ge) {
			return 0, ge
		}
		return 0, gpuerr.Wrap(gpuerr.Timeout, "dispatch", err)
	}

	if !d.reserve() {
		h.End()
		d.count(func(s *Stats) { s.Denied++ })
		return 0, gpuerr.New(gpuerr.DeviceError, "dispatch", "call budget exhausted")
	}
	done := make(chan outcome, 1)
	start := time.Now()
	go func() {
		ret, err := d.kernel.Ioctl(fd, request, a)
		h.End()
		done <- outcome{ret, err}
	}()

	select {
	case o := <-done:
		log := logrus.WithFields(logrus.Fields{
			"path":     h.Path(),
			"request":  catalog.Op(request),
			"duration": time.Since(start),
		})
		if o.err != nil {
			d.count(func(s *Stats) { s.Failed++ })
			log.WithError(o.err).Debug("ioctl failed")
		} else {
			log.Debug("ioctl")
		}
		return o.ret, o.err
	case <-ctx.Done():
		d.count(func(s *Stats) { s.Abandoned++ })
		logrus.WithField("path", h.Path()).Warnf("abandoned ioctl %v after %v", catalog.Op(request), time.Since(start))
		return 0, gpuerr.Wrap(gpuerr.Timeout, "ioctl", ctx.Err())
	}
}

// kernelError classifies an error returned by invoke and invalidates h if
// the error leaves its descriptor unusable.
func (d *Dispatcher) kernelError(h Handle, err error) *gpuerr.Error {
	var ge *gpuerr.Error
	if errors.As(err, &ge) {
		return ge
	}
	var errno unix.Errno
	if !errors.As(err, &errno) {
		return gpuerr.Wrap(gpuerr.Unknown, "ioctl", err)
	}
	c := classify(errno)
	e := &gpuerr.Error{Kind: c.kind, Op: "ioctl", Errno: errno, Reason: errno.Error()}
	if c.invalidates {
		h.Invalidate(e)
	}
	return e
}
