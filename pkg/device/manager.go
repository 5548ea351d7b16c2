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

// Package device opens GPU device nodes for unprivileged queries.
package device

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/gofrs/flock"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"iodisco.dev/iodisco/pkg/catalog"
	"iodisco.dev/iodisco/pkg/cleanup"
	"iodisco.dev/iodisco/pkg/dispatch"
	"iodisco.dev/iodisco/pkg/gpuerr"
)

// DefaultRequiredGroups are the groups GPU nodes are conventionally shared
// through.
var DefaultRequiredGroups = []string{"video", "render", "graphics"}

// Options configure a Manager.
type Options struct {
	// RequiredGroups restricts group access to these group names. Empty
	// accepts any owning group.
	RequiredGroups []string

	// Exclusive sessions hold an advisory lock per node.
	Exclusive bool

	// LockDir holds the lock files of exclusive sessions.
	LockDir string

	// Root is prepended to scanned patterns. Defaults to "/".
	Root string

	// System defaults to Host.
	System System
}

// Manager opens and identifies device handles.
type Manager struct {
	opts       Options
	sys        System
	catalog    *catalog.Catalog
	dispatcher *dispatch.Dispatcher
}

// NewManager returns a Manager that identifies drivers with d's catalog
// probes.
func NewManager(d *dispatch.Dispatcher, c *catalog.Catalog, opts Options) *Manager {
	sys := opts.System
	if sys == nil {
		sys = Host{}
	}
	if opts.Root == "" {
		opts.Root = "/"
	}
	if opts.LockDir == "" {
		opts.LockDir = filepath.Join(os.TempDir(), "iodisco")
	}
	return &Manager{opts: opts, sys: sys, catalog: c, dispatcher: d}
}

// Dispatcher returns the dispatcher handles are identified with.
func (m *Manager) Dispatcher() *dispatch.Dispatcher {
	return m.dispatcher
}

// Scan lists the GPU nodes of the system.
func (m *Manager) Scan() ([]Node, error) {
	return Scan(m.sys, m.opts.Root)
}

// Open opens path and identifies its driver. No descriptor is acquired
// unless the process reaches the node through an allowed route; every
// failure releases what was acquired.
func (m *Manager) Open(ctx context.Context, path string) (*Handle, error) {
	node, err := m.sys.Stat(path)
	if err != nil {
		if errors.Is(err, unix.EACCES) {
			return nil, gpuerr.Wrap(gpuerr.PermissionDenied, "stat", err).WithPath(path)
		}
		return nil, gpuerr.Wrap(gpuerr.DeviceNotFound, "stat", err).WithPath(path)
	}
	if !node.Recognized() {
		return nil, gpuerr.New(gpuerr.DeviceNotFound, "stat", "not a GPU device node").WithPath(path)
	}
	route, err := m.Access(node)
	if err != nil {
		return nil, err
	}
	log := logrus.WithFields(logrus.Fields{"path": path, "access": route.String()})

	var cu cleanup.Cleanup
	defer cu.Clean()

	var lock *flock.Flock
	if m.opts.Exclusive {
		lock, err = m.lock(path)
		if err != nil {
			return nil, err
		}
		cu.Add(func() { lock.Unlock() })
	}

	fd, err := m.open(path)
	if err != nil {
		return nil, err
	}

	// The handle owns the descriptor and the lock from here, and defers
	// releasing them while an abandoned identification call runs.
	h := newHandle(m.sys, node, fd, route, lock)
	cu.Release()
	cu.Add(func() { h.Close() })
	if err := m.identify(ctx, h); err != nil {
		return nil, err
	}
	cu.Release()
	log.WithFields(logrus.Fields{"family": h.family, "version": h.version}).Info("opened device")
	return h, nil
}

// With opens path, runs fn and closes the handle on every exit path.
func (m *Manager) With(ctx context.Context, path string, fn func(*Handle) error) error {
	h, err := m.Open(ctx, path)
	if err != nil {
		return err
	}
	defer h.Close()
	return fn(h)
}

// Access decides whether the process may use n. Capabilities never
// widen access.
func (m *Manager) Access(n Node) (Route, error) {
	uid, gids, err := m.sys.Credentials()
	if err != nil {
		return Route{}, gpuerr.Wrap(gpuerr.PermissionDenied, "credentials", err).WithPath(n.Path)
	}
	const rw = 0o6
	if n.UID == uid && (uint32(n.Mode)>>6)&rw == rw {
		return Route{Via: "owner"}, nil
	}
	if (uint32(n.Mode)>>3)&rw == rw {
		for _, gid := range gids {
			if gid != n.GID {
				continue
			}
			name, err := m.sys.GroupName(gid)
			if err != nil {
				name = fmt.Sprintf("%d", gid)
			}
			if m.groupAllowed(name) {
				return Route{Via: "group", Group: name}, nil
			}
			logrus.WithField("path", n.Path).Debugf("group %s grants access but is not one of %v", name, m.opts.RequiredGroups)
		}
	}
	if uint32(n.Mode)&rw == rw {
		return Route{Via: "world"}, nil
	}
	reason := "no owner, group or world read-write access"
	if len(m.opts.RequiredGroups) > 0 {
		reason = fmt.Sprintf("process is not in a group among [%s] with read-write access", strings.Join(m.opts.RequiredGroups, ", "))
	}
	return Route{}, gpuerr.New(gpuerr.PermissionDenied, "access", "%s", reason).WithPath(n.Path)
}

func (m *Manager) groupAllowed(name string) bool {
	if len(m.opts.RequiredGroups) == 0 {
		return true
	}
	for _, g := range m.opts.RequiredGroups {
		if g == name {
			return true
		}
	}
	return false
}

func (m *Manager) lock(path string) (*flock.Flock, error) {
	if err := os.MkdirAll(m.opts.LockDir, 0o711); err != nil {
		return nil, gpuerr.Wrap(gpuerr.DeviceBusy, "lock", err).WithPath(path)
	}
	name := strings.ReplaceAll(strings.TrimPrefix(filepath.Clean(path), "/"), "/", "_") + ".lock"
	l := flock.New(filepath.Join(m.opts.LockDir, name))
	ok, err := l.TryLock()
	if err != nil {
		return nil, gpuerr.Wrap(gpuerr.DeviceBusy, "lock", err).WithPath(path)
	}
	if !ok {
		return nil, gpuerr.New(gpuerr.DeviceBusy, "lock", "an exclusive session holds %s", l.Path()).WithPath(path)
	}
	return l, nil
}

// open opens the node read-only, then read-write.
func (m *Manager) open(path string) (int, error) {
	fd, err := m.sys.Open(path, unix.O_RDONLY)
	if err == nil {
		return fd, nil
	}
	logrus.WithField("path", path).WithError(err).Debug("read-only open failed, trying read-write")
	fd, err = m.sys.Open(path, unix.O_RDWR)
	if err == nil {
		return fd, nil
	}
	kind := gpuerr.DeviceError
	switch {
	case errors.Is(err, unix.EBUSY):
		kind = gpuerr.DeviceBusy
	case errors.Is(err, unix.ENOENT), errors.Is(err, unix.ENXIO), errors.Is(err, unix.ENODEV):
		kind = gpuerr.DeviceNotFound
	case errors.Is(err, unix.EACCES), errors.Is(err, unix.EPERM):
		kind = gpuerr.PermissionDenied
	}
	return -1, gpuerr.Wrap(kind, "open", err).WithPath(path)
}

// identify runs the identification probe of each candidate family until
// one succeeds.
func (m *Manager) identify(ctx context.Context, h *Handle) error {
	for _, f := range h.node.Candidates() {
		desc, ok := m.catalog.Identifier(f)
		if !ok {
			continue
		}
		h.family = f
		res := m.dispatcher.Dispatch(ctx, h, desc, nil)
		if res.OK() {
			h.identity = res.Values
			h.version = versionOf(f, res.Values)
			return nil
		}
		logrus.WithField("path", h.Path()).WithError(res.Err).Debugf("not a %v driver", f)
		if err := h.Err(); err != nil {
			return err
		}
		if ctx.Err() != nil {
			return gpuerr.Wrap(gpuerr.Timeout, "identify", ctx.Err()).WithPath(h.Path())
		}
	}
	h.family = 0
	return gpuerr.New(gpuerr.DeviceNotFound, "identify", "not a recognized GPU driver").WithPath(h.Path())
}

// versionOf extracts the driver API version from an identification result.
func versionOf(f catalog.Family, vals catalog.Values) catalog.Version {
	get := func(k string) int {
		v, _ := vals[k].(uint64)
		return int(v)
	}
	switch f {
	case catalog.Mali, catalog.MaliCSF:
		return catalog.Version{Major: get("major"), Minor: get("minor")}
	case catalog.KGSL:
		return catalog.Version{Major: get("drv_major"), Minor: get("drv_minor")}
	default:
		// DRM versions are per driver and do not gate the core ioctls.
		return catalog.Version{}
	}
}
