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
	"golang.org/x/sys/unix"

	"iodisco.dev/iodisco/pkg/gpuerr"
)

// errnoClass is the classification of a kernel error.
type errnoClass struct {
	kind gpuerr.Kind

	// invalidates is set for errors after which the descriptor is unusable.
	invalidates bool
}

var errnoClasses = map[unix.Errno]errnoClass{
	unix.ENOTTY:     {kind: gpuerr.UnsupportedOperation},
	unix.EOPNOTSUPP: {kind: gpuerr.UnsupportedOperation},
	unix.ENOSYS:     {kind: gpuerr.UnsupportedOperation},

	unix.ETIMEDOUT: {kind: gpuerr.Timeout},
	unix.ETIME:     {kind: gpuerr.Timeout},

	unix.EIO:    {kind: gpuerr.DeviceError},
	unix.EFAULT: {kind: gpuerr.DeviceError},
	unix.EINVAL: {kind: gpuerr.DeviceError},
	unix.EPERM:  {kind: gpuerr.DeviceError},
	unix.EACCES: {kind: gpuerr.DeviceError},
	unix.ENOMEM: {kind: gpuerr.DeviceError},
	unix.EBUSY:  {kind: gpuerr.DeviceError},
	unix.EAGAIN: {kind: gpuerr.DeviceError},
	unix.ENODEV: {kind: gpuerr.DeviceError, invalidates: true},
	unix.ENXIO:  {kind: gpuerr.DeviceError, invalidates: true},
	unix.EBADF:  {kind: gpuerr.DeviceError, invalidates: true},
}

// classify maps a kernel error to an error kind. Errnos without a class
// are Unknown.
func classify(errno unix.Errno) errnoClass {
	if c, ok := errnoClasses[errno]; ok {
		return c
	}
	return errnoClass{kind: gpuerr.Unknown}
}

// Presence is the outcome of a probe.
type Presence int

// Probe outcomes.
const (
	// Indeterminate: the probe did not tell whether the request exists.
	Indeterminate Presence = iota

	// Absent: the driver does not know the request.
	Absent

	// Present: the driver knows the request.
	Present

	// Gated: the driver knows the request but refuses this caller.
	Gated
)

var presenceNames = map[Presence]string{
	Indeterminate: "indeterminate",
	Absent:        "absent",
	Present:       "present",
	Gated:         "permission-gated",
}

// String implements fmt.Stringer.
func (p Presence) String() string {
	return presenceNames[p]
}

// MarshalText implements encoding.TextMarshaler.
func (p Presence) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// presenceOf classifies the errno of a call made with a NULL argument. A
// driver that recognizes the request fails copying the argument in.
func presenceOf(errno unix.Errno) Presence {
	switch errno {
	case 0, unix.EFAULT, unix.EINVAL:
		return Present
	case unix.ENOTTY:
		return Absent
	case unix.EPERM, unix.EACCES:
		return Gated
	default:
		return Indeterminate
	}
}
