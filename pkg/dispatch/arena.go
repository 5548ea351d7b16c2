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
	"fmt"
	"sort"
	"strconv"

	"iodisco.dev/iodisco/pkg/catalog"
	"iodisco.dev/iodisco/pkg/gpuerr"
)

// Arena owns the buffers of one kernel call: the request structure, sized
// exactly to the descriptor's request layout, and one side buffer per
// pointer field. Nothing outside the arena is handed to the kernel.
type Arena struct {
	layout catalog.Layout
	data   []byte
	side   map[string][]byte
}

// NewArena encodes args for d. Defaults are applied first, then args, then
// the selector. Setting an unknown or kernel-owned field, or a value that
// does not fit its field, is an EncodingError.
func NewArena(d catalog.Descriptor, args catalog.Args) (*Arena, error) {
	a := &Arena{
		layout: d.RequestLayout,
		data:   make([]byte, d.RequestLayout.Size),
		side:   make(map[string][]byte),
	}
	fail := func(format string, args ...any) error {
		return gpuerr.New(gpuerr.EncodingError, "encode", format, args...).WithName(d.String())
	}
	lengths := make(map[string]bool)
	for _, f := range a.layout.SideBuffers() {
		a.side[f.Name] = make([]byte, f.Len)
		if f.LenField != "" {
			lf, _ := a.layout.Field(f.LenField)
			a.putUint(lf, uint64(f.Len))
			lengths[f.LenField] = true
		}
	}

	for _, name := range sortedKeys(d.Defaults) {
		f, ok := a.layout.Field(name)
		if !ok {
			return nil, fail("default for unknown field %q", name)
		}
		if err := a.set(f, d.Defaults[name]); err != nil {
			return nil, fail("default %q: %v", name, err)
		}
	}
	for _, name := range sortedKeys(args) {
		f, ok := a.layout.Field(name)
		if !ok {
			return nil, fail("unknown field %q", name)
		}
		if f.Internal || lengths[name] {
			return nil, fail("field %q is owned by the kernel", name)
		}
		if err := a.set(f, args[name]); err != nil {
			return nil, fail("field %q: %v", name, err)
		}
	}
	if d.SelectorField != "" {
		f, ok := a.layout.Field(d.SelectorField)
		if !ok {
			return nil, fail("selector field %q not in layout", d.SelectorField)
		}
		if uint64(d.Opcode.Selector) > f.Max() {
			return nil, fail("selector %#x does not fit %v field %q", d.Opcode.Selector, f.Kind, f.Name)
		}
		a.putUint(f, uint64(d.Opcode.Selector))
	}
	return a, nil
}

func sortedKeys(args catalog.Args) []string {
	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Bytes returns the request structure.
func (a *Arena) Bytes() []byte {
	return a.data
}

// Side returns the side buffer of a pointer field, or nil.
func (a *Arena) Side(name string) []byte {
	return a.side[name]
}

// Response returns a read-only view of the arena after the call.
func (a *Arena) Response(layout catalog.Layout, ret uintptr) catalog.Response {
	return catalog.NewResponse(layout, a.data, a.side, ret)
}

func (a *Arena) set(f catalog.Field, v any) error {
	switch {
	case f.Kind.Integer():
		n, err := toUint(v)
		if err != nil {
			return err
		}
		if n > f.Max() {
			return fmt.Errorf("value %#x overflows %v", n, f.Kind)
		}
		a.putUint(f, n)
	case f.Kind == catalog.Bytes:
		b, err := toBytes(v)
		if err != nil {
			return err
		}
		if uint32(len(b)) > f.Len {
			return fmt.Errorf("%d bytes exceed the %d byte field", len(b), f.Len)
		}
		copy(a.data[f.Offset:f.Offset+f.Len], b)
	case f.Kind == catalog.Ptr:
		b, err := toBytes(v)
		if err != nil {
			return err
		}
		if uint32(len(b)) > f.Len {
			return fmt.Errorf("%d bytes exceed the %d byte buffer", len(b), f.Len)
		}
		copy(a.side[f.Name], b)
	default:
		return fmt.Errorf("unsupported field kind %v", f.Kind)
	}
	return nil
}

func (a *Arena) putUint(f catalog.Field, n uint64) {
	b := a.data[f.Offset:]
	switch f.Kind {
	case catalog.U8:
		b[0] = uint8(n)
	case catalog.U16:
		catalog.ByteOrder.PutUint16(b, uint16(n))
	case catalog.U32:
		catalog.ByteOrder.PutUint32(b, uint32(n))
	case catalog.U64, catalog.Ptr:
		catalog.ByteOrder.PutUint64(b, n)
	}
}

func toUint(v any) (uint64, error) {
	switch v := v.(type) {
	case uint64:
		return v, nil
	case uint32:
		return uint64(v), nil
	case uint16:
		return uint64(v), nil
	case uint8:
		return uint64(v), nil
	case uint:
		return uint64(v), nil
	case int:
		if v < 0 {
			return 0, fmt.Errorf("negative value %d", v)
		}
		return uint64(v), nil
	case int64:
		if v < 0 {
			return 0, fmt.Errorf("negative value %d", v)
		}
		return uint64(v), nil
	case string:
		n, err := strconv.ParseUint(v, 0, 64)
		if err != nil {
			return 0, fmt.Errorf("not an integer: %q", v)
		}
		return n, nil
	default:
		return 0, fmt.Errorf("%T is not an integer", v)
	}
}

func toBytes(v any) ([]byte, error) {
	switch v := v.(type) {
	case []byte:
		return v, nil
	case string:
		return []byte(v), nil
	default:
		return nil, fmt.Errorf("%T is not a byte string", v)
	}
}
