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

package catalog

import (
	"encoding/binary"
	"fmt"
	"sort"

	"golang.org/x/exp/slices"
)

// ByteOrder is the byte order of every supported target.
var ByteOrder = binary.LittleEndian

// MaxSideBuffer bounds the size of a single side buffer.
const MaxSideBuffer = 64 << 10

// FieldKind is the storage class of a layout field.
type FieldKind uint8

// Field kinds.
const (
	U8 FieldKind = iota + 1
	U16
	U32
	U64

	// Bytes is an inline array of Len bytes.
	Bytes

	// Ptr is a 64-bit userspace pointer to a side buffer of Len bytes. The
	// side buffer is owned by the call; callers never supply the pointer
	// itself.
	Ptr
)

// String implements fmt.Stringer.
func (k FieldKind) String() string {
	switch k {
	case U8:
		return "u8"
	case U16:
		return "u16"
	case U32:
		return "u32"
	case U64:
		return "u64"
	case Bytes:
		return "bytes"
	case Ptr:
		return "ptr"
	default:
		return fmt.Sprintf("FieldKind(%d)", uint8(k))
	}
}

// Integer returns true for the fixed-width integer kinds.
func (k FieldKind) Integer() bool {
	return k >= U8 && k <= U64
}

// Field is one named member of a Layout.
type Field struct {
	Name   string
	Offset uint32
	Kind   FieldKind

	// Len is the width of a Bytes field or the capacity of a Ptr field's
	// side buffer.
	Len uint32

	// LenField names the integer field that carries a Ptr field's side
	// buffer capacity to the kernel.
	LenField string

	// Internal fields are filled in by the dispatcher or the kernel and
	// cannot be set by callers.
	Internal bool
}

// Width returns the number of bytes f occupies in its layout.
func (f Field) Width() uint32 {
	switch f.Kind {
	case U8:
		return 1
	case U16:
		return 2
	case U32:
		return 4
	case U64, Ptr:
		return 8
	case Bytes:
		return f.Len
	default:
		return 0
	}
}

// Max returns the largest value an integer field can hold.
func (f Field) Max() uint64 {
	switch f.Kind {
	case U8:
		return 1<<8 - 1
	case U16:
		return 1<<16 - 1
	case U32:
		return 1<<32 - 1
	default:
		return 1<<64 - 1
	}
}

// Layout describes a fixed-size buffer exchanged with the kernel.
type Layout struct {
	Size   uint32
	Fields []Field
}

// Field returns the named field.
func (l Layout) Field(name string) (Field, bool) {
	for _, f := range l.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// SideBuffers returns the Ptr fields of l.
func (l Layout) SideBuffers() []Field {
	var res []Field
	for _, f := range l.Fields {
		if f.Kind == Ptr {
			res = append(res, f)
		}
	}
	return res
}

// Validate checks that every field lies inside the layout, that no two
// fields overlap and that Ptr fields are well formed.
func (l Layout) Validate() error {
	names := make(map[string]struct{}, len(l.Fields))
	for _, f := range l.Fields {
		if f.Name == "" {
			return fmt.Errorf("field at offset %d has no name", f.Offset)
		}
		if _, ok := names[f.Name]; ok {
			return fmt.Errorf("duplicate field %q", f.Name)
		}
		names[f.Name] = struct{}{}
		w := f.Width()
		if w == 0 {
			return fmt.Errorf("field %q: invalid kind %v or zero length", f.Name, f.Kind)
		}
		if uint64(f.Offset)+uint64(w) > uint64(l.Size) {
			return fmt.Errorf("field %q [%d, %d) exceeds layout size %d", f.Name, f.Offset, f.Offset+w, l.Size)
		}
		if f.Kind == Ptr && (f.Len == 0 || f.Len > MaxSideBuffer) {
			return fmt.Errorf("field %q: side buffer capacity %d outside (0, %d]", f.Name, f.Len, MaxSideBuffer)
		}
		if f.LenField != "" && f.Kind != Ptr {
			return fmt.Errorf("field %q: only ptr fields carry a length field", f.Name)
		}
	}
	for _, f := range l.Fields {
		if f.LenField == "" {
			continue
		}
		lf, ok := l.Field(f.LenField)
		if !ok {
			return fmt.Errorf("field %q: length field %q not in layout", f.Name, f.LenField)
		}
		if !lf.Kind.Integer() || uint64(f.Len) > lf.Max() {
			return fmt.Errorf("field %q: length field %q cannot hold %d", f.Name, f.LenField, f.Len)
		}
	}

	sorted := slices.Clone(l.Fields)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Offset < sorted[j].Offset })
	for i := 1; i < len(sorted); i++ {
		prev, cur := sorted[i-1], sorted[i]
		if prev.Offset+prev.Width() > cur.Offset {
			return fmt.Errorf("fields %q and %q overlap", prev.Name, cur.Name)
		}
	}
	return nil
}

// lengthFields returns the names of fields that carry side buffer lengths.
func (l Layout) lengthFields() map[string]bool {
	res := make(map[string]bool)
	for _, f := range l.Fields {
		if f.LenField != "" {
			res[f.LenField] = true
		}
	}
	return res
}

func (l Layout) clone() Layout {
	return Layout{Size: l.Size, Fields: slices.Clone(l.Fields)}
}
