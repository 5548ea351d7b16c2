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

// Package ioc encodes and decodes Linux ioctl request numbers, as defined in
// include/uapi/asm-generic/ioctl.h.
package ioc

import "fmt"

// Field widths of an ioctl request number.
const (
	NRBits   = 8
	TypeBits = 8
	SizeBits = 14
	DirBits  = 2

	NRShift   = 0
	TypeShift = NRShift + NRBits
	SizeShift = TypeShift + TypeBits
	DirShift  = SizeShift + SizeBits

	NRMask   = (1 << NRBits) - 1
	TypeMask = (1 << TypeBits) - 1
	SizeMask = (1 << SizeBits) - 1
	DirMask  = (1 << DirBits) - 1
)

// Transfer directions, from the point of view of userspace.
const (
	None  = 0
	Write = 1
	Read  = 2
)

// IOC encodes an ioctl request number. It panics if a component does not fit
// its field; request numbers are compile-time tables.
func IOC(dir, typ, nr, size uint32) uint32 {
	if dir > DirMask || typ > TypeMask || nr > NRMask || size > SizeMask {
		panic(fmt.Sprintf("ioctl component out of range: dir=%d type=%#x nr=%#x size=%d", dir, typ, nr, size))
	}
	return dir<<DirShift | typ<<TypeShift | nr<<NRShift | size<<SizeShift
}

// IO encodes a request without a payload.
func IO(typ, nr uint32) uint32 {
	return IOC(None, typ, nr, 0)
}

// IOR encodes a request the kernel writes back to userspace.
func IOR(typ, nr, size uint32) uint32 {
	return IOC(Read, typ, nr, size)
}

// IOW encodes a request the kernel reads from userspace.
func IOW(typ, nr, size uint32) uint32 {
	return IOC(Write, typ, nr, size)
}

// IOWR encodes a request that is both read and written by the kernel.
func IOWR(typ, nr, size uint32) uint32 {
	return IOC(Read|Write, typ, nr, size)
}

// NR returns the command number of req.
func NR(req uint32) uint32 {
	return (req >> NRShift) & NRMask
}

// Type returns the driver magic of req.
func Type(req uint32) uint32 {
	return (req >> TypeShift) & TypeMask
}

// Size returns the payload size encoded in req.
func Size(req uint32) uint32 {
	return (req >> SizeShift) & SizeMask
}

// Dir returns the transfer direction of req.
func Dir(req uint32) uint32 {
	return (req >> DirShift) & DirMask
}

// Describe renders req the way the uapi headers spell it, e.g.
// "_IOWR(0x80, 0x00, 4)".
func Describe(req uint32) string {
	switch Dir(req) {
	case None:
		return fmt.Sprintf("_IO(%#02x, %#02x)", Type(req), NR(req))
	case Read:
		return fmt.Sprintf("_IOR(%#02x, %#02x, %d)", Type(req), NR(req), Size(req))
	case Write:
		return fmt.Sprintf("_IOW(%#02x, %#02x, %d)", Type(req), NR(req), Size(req))
	default:
		return fmt.Sprintf("_IOWR(%#02x, %#02x, %d)", Type(req), NR(req), Size(req))
	}
}
