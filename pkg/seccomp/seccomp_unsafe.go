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

//go:build linux
// +build linux

package seccomp

import (
	"fmt"
	"runtime"
	"unsafe"

	"golang.org/x/net/bpf"
	"golang.org/x/sys/unix"
)

// From include/uapi/linux/seccomp.h.
const (
	SECCOMP_SET_MODE_FILTER   = 1
	SECCOMP_FILTER_FLAG_TSYNC = 1
)

// Baseline is the set of ioctls the process needs for its own terminal
// handling, whatever the operating mode.
func Baseline() Rule {
	return Or{
		EqualTo(unix.TCGETS),
		EqualTo(unix.TIOCGWINSZ),
	}
}

// Install confines every thread of the process so that ioctl(2) succeeds
// only for requests matched by rule or Baseline. Other ioctls fail with
// EPERM. The filter cannot be removed.
func Install(rule Rule) error {
	if nativeArch == 0 {
		return fmt.Errorf("seccomp filters are not supported on %s", runtime.GOARCH)
	}
	insns, err := Program(Or{Baseline(), rule}, nativeArch, uint32(unix.SYS_IOCTL), DefaultActions)
	if err != nil {
		return fmt.Errorf("compiling filter: %w", err)
	}
	raw, err := bpf.Assemble(insns)
	if err != nil {
		return fmt.Errorf("assembling filter: %w", err)
	}
	filter := make([]unix.SockFilter, len(raw))
	for i, ins := range raw {
		filter[i] = unix.SockFilter{Code: ins.Op, Jt: ins.Jt, Jf: ins.Jf, K: ins.K}
	}
	prog := unix.SockFprog{
		Len:    uint16(len(filter)),
		Filter: &filter[0],
	}

	if err := unix.Prctl(unix.PR_SET_NO_NEW_PRIVS, 1, 0, 0, 0); err != nil {
		return fmt.Errorf("prctl(PR_SET_NO_NEW_PRIVS): %w", err)
	}
	tid, _, errno := unix.RawSyscall(unix.SYS_SECCOMP, SECCOMP_SET_MODE_FILTER, SECCOMP_FILTER_FLAG_TSYNC, uintptr(unsafe.Pointer(&prog)))
	runtime.KeepAlive(filter)
	if errno != 0 {
		return fmt.Errorf("seccomp(SECCOMP_SET_MODE_FILTER): %w", errno)
	}
	if tid != 0 {
		return fmt.Errorf("seccomp(SECCOMP_SET_MODE_FILTER): thread %d could not be synchronized", tid)
	}
	return nil
}
