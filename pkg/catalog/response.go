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
	"bytes"
	"fmt"
)

// Values is a decoded value set, keyed by field name. Values are uint64,
// string, bool or []string.
type Values map[string]any

// Args are the caller-supplied field values of a request, keyed by field
// name. Integer fields take uint64, uint32 or non-negative int values; Bytes
// and Ptr fields take []byte or string.
type Args map[string]any

// Decoder turns a completed call's buffers into a value set. Decoders read
// only through Response accessors.
type Decoder func(r Response) (Values, error)

// Response is the read-only view of a completed call.
type Response struct {
	layout Layout
	data   []byte
	side   map[string][]byte
	ret    uintptr
}

// NewResponse returns a view over data and side, restricted to layout.
func NewResponse(layout Layout, data []byte, side map[string][]byte, ret uintptr) Response {
	return Response{layout: layout, data: data, side: side, ret: ret}
}

// Ret returns the ioctl return value.
func (r Response) Ret() uintptr {
	return r.ret
}

func (r Response) field(name string, kinds ...FieldKind) (Field, error) {
	f, ok := r.layout.Field(name)
	if !ok {
		return Field{}, fmt.Errorf("field %q not in response layout", name)
	}
	for _, k := range kinds {
		if f.Kind == k {
			return f, nil
		}
	}
	return Field{}, fmt.Errorf("field %q is %v, want one of %v", name, f.Kind, kinds)
}

func (r Response) window(f Field) ([]byte, error) {
	end := uint64(f.Offset) + uint64(f.Width())
	if end > uint64(len(r.data)) {
		return nil, fmt.Errorf("field %q [%d, %d) outside %d byte buffer", f.Name, f.Offset, end, len(r.data))
	}
	return r.data[f.Offset:end], nil
}

// Uint returns the value of an integer field.
func (r Response) Uint(name string) (uint64, error) {
	f, err := r.field(name, U8, U16, U32, U64)
	if err != nil {
		return 0, err
	}
	b, err := r.window(f)
	if err != nil {
		return 0, err
	}
	switch f.Kind {
	case U8:
		return uint64(b[0]), nil
	case U16:
		return uint64(ByteOrder.Uint16(b)), nil
	case U32:
		return uint64(ByteOrder.Uint32(b)), nil
	default:
		return ByteOrder.Uint64(b), nil
	}
}

// Bytes returns a copy of an inline Bytes field, or of the valid part of a
// Ptr field's side buffer. The valid part is bounded by the field's length
// field when the response layout carries it.
func (r Response) Bytes(name string) ([]byte, error) {
	f, err := r.field(name, Bytes, Ptr)
	if err != nil {
		return nil, err
	}
	if f.Kind == Bytes {
		b, err := r.window(f)
		if err != nil {
			return nil, err
		}
		return append([]byte(nil), b...), nil
	}
	buf, ok := r.side[name]
	if !ok {
		return nil, fmt.Errorf("no side buffer for field %q", name)
	}
	n := uint64(len(buf))
	if n > uint64(f.Len) {
		n = uint64(f.Len)
	}
	if f.LenField != "" {
		if _, ok := r.layout.Field(f.LenField); ok {
			l, err := r.Uint(f.LenField)
			if err != nil {
				return nil, err
			}
			if l < n {
				n = l
			}
		}
	}
	return append([]byte(nil), buf[:n]...), nil
}

// String returns a Bytes or Ptr field as a NUL-terminated string.
func (r Response) String(name string) (string, error) {
	b, err := r.Bytes(name)
	if err != nil {
		return "", err
	}
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	return string(b), nil
}

// Sub returns a view of the side buffer behind a Ptr field, restricted to
// layout. It is used to decode structures the kernel writes out of line.
func (r Response) Sub(name string, layout Layout) (Response, error) {
	b, err := r.Bytes(name)
	if err != nil {
		return Response{}, err
	}
	if uint32(len(b)) < layout.Size {
		return Response{}, fmt.Errorf("field %q holds %d bytes, want %d", name, len(b), layout.Size)
	}
	return Response{layout: layout, data: b, ret: r.ret}, nil
}

// DecodeFields decodes every field of the response layout: integers as
// uint64, Bytes and Ptr fields as strings. Length fields of Ptr fields are
// folded into their strings.
func DecodeFields(r Response) (Values, error) {
	skip := r.layout.lengthFields()
	vals := make(Values, len(r.layout.Fields))
	for _, f := range r.layout.Fields {
		if skip[f.Name] {
			continue
		}
		if f.Kind.Integer() {
			v, err := r.Uint(f.Name)
			if err != nil {
				return nil, err
			}
			vals[f.Name] = v
			continue
		}
		s, err := r.String(f.Name)
		if err != nil {
			return nil, err
		}
		vals[f.Name] = s
	}
	return vals, nil
}

// DecodeReturn decodes only the ioctl return value, for requests whose
// result is their success.
func DecodeReturn(r Response) (Values, error) {
	return Values{"ret": uint64(r.Ret())}, nil
}

// DecodeSub returns a Decoder for a structure the kernel writes into the
// side buffer of field.
func DecodeSub(field string, layout Layout) Decoder {
	return func(r Response) (Values, error) {
		sub, err := r.Sub(field, layout)
		if err != nil {
			return nil, err
		}
		return DecodeFields(sub)
	}
}
