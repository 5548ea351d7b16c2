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
	"runtime"
	"unsafe"

	"golang.org/x/exp/constraints"
	"golang.org/x/sys/unix"

	"iodisco.dev/iodisco/pkg/catalog"
)

// Syscalls is the Kernel backed by the host.
type Syscalls struct{}

// Ioctl implements Kernel.Ioctl.
func (Syscalls) Ioctl(fd int, request uint32, a *Arena) (uintptr, error) {
	if a == nil || len(a.data) == 0 {
		return IOCTLInvoke[uint32, uintptr](fd, request, 0)
	}
	a.patchPointers()
	n, err := IOCTLInvoke[uint32, uintptr](fd, request, uintptr(unsafe.Pointer(&a.data[0])))
	runtime.KeepAlive(a)
	return n, err
}

// patchPointers stores the address of each side buffer in its pointer
// field. The arena must stay reachable until the call returns.
func (a *Arena) patchPointers() {
	for _, f := range a.layout.SideBuffers() {
		buf := a.side[f.Name]
		catalog.ByteOrder.PutUint64(a.data[f.Offset:], uint64(uintptr(unsafe.Pointer(&buf[0]))))
	}
}

// IOCTLInvoke makes ioctl syscalls with the arg of the integer type.
func IOCTLInvoke[Cmd, Arg constraints.Integer](fd int, cmd Cmd, arg Arg) (uintptr, error) {
	n, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), uintptr(cmd), uintptr(arg))
	if errno != 0 {
		return n, errno
	}
	return n, nil
}
