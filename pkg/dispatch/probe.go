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
	"errors"

	"golang.org/x/sys/unix"

	"iodisco.dev/iodisco/pkg/catalog"
)

// ProbeResult is the outcome of Probe.
type ProbeResult struct {
	Name     string         `json:"name"`
	Opcode   catalog.Opcode `json:"opcode"`
	Tier     catalog.Tier   `json:"tier"`
	Presence Presence       `json:"presence"`
	Errno    unix.Errno     `json:"-"`
	Err      error          `json:"-"`
}

// Probe checks whether the driver behind h knows desc's request by issuing
// it with a NULL argument. Probes pass the same gate as Dispatch. Requests
// without an argument are not probed.
func (d *Dispatcher) Probe(ctx context.Context, h Handle, desc catalog.Descriptor) ProbeResult {
	res := ProbeResult{Name: desc.Name, Opcode: desc.Opcode, Tier: desc.Tier}
	if err := d.precheck(h, desc); err != nil {
		res.Err = err.WithPath(h.Path()).WithName(desc.String())
		return res
	}
	if desc.RequestLayout.Size == 0 {
		return res
	}

	ret, err := d.invoke(ctx, h, desc.Opcode.Request, nil)
	if err == nil {
		if desc.ReturnsFD && int(ret) > 0 {
			unix.Close(int(ret))
		}
		res.Presence = Present
		return res
	}
	var errno unix.Errno
	if !errors.As(err, &errno) {
		res.Err = d.kernelError(h, err).WithPath(h.Path()).WithName(desc.String())
		return res
	}
	res.Errno = errno
	res.Presence = presenceOf(errno)
	if classify(errno).invalidates {
		res.Err = d.kernelError(h, errno).WithPath(h.Path()).WithName(desc.String())
	}
	return res
}
