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
	"fmt"
	"strconv"
	"strings"
)

// Family identifies a driver interface. Each family's catalog entries are
// keyed independently; the same request number means different things in
// different families.
type Family uint8

// Driver families.
const (
	// Mali is the Arm Mali kbase driver, job manager flavour (Midgard,
	// Bifrost and early Valhall).
	Mali Family = iota + 1

	// MaliCSF is the Arm Mali kbase driver, command stream frontend
	// flavour (Valhall CSF and later).
	MaliCSF

	// KGSL is the Qualcomm Adreno kgsl driver.
	KGSL

	// DRM is a generic DRM render or primary node.
	DRM
)

var familyNames = map[Family]string{
	Mali:    "mali",
	MaliCSF: "mali-csf",
	KGSL:    "kgsl",
	DRM:     "drm",
}

// Families returns all known families in catalog order.
func Families() []Family {
	return []Family{Mali, MaliCSF, KGSL, DRM}
}

// String implements fmt.Stringer.
func (f Family) String() string {
	if s, ok := familyNames[f]; ok {
		return s
	}
	return fmt.Sprintf("family(%d)", uint8(f))
}

// Vendor returns the GPU vendor behind the family.
func (f Family) Vendor() string {
	switch f {
	case Mali, MaliCSF:
		return "ARM"
	case KGSL:
		return "Qualcomm"
	case DRM:
		return "DRM"
	default:
		return "unknown"
	}
}

// ParseFamily parses the String form of a family.
func ParseFamily(s string) (Family, error) {
	for f, name := range familyNames {
		if strings.EqualFold(s, name) {
			return f, nil
		}
	}
	return 0, fmt.Errorf("unknown driver family %q", s)
}

// MarshalText implements encoding.TextMarshaler.
func (f Family) MarshalText() ([]byte, error) {
	return []byte(f.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (f *Family) UnmarshalText(b []byte) error {
	v, err := ParseFamily(string(b))
	if err != nil {
		return err
	}
	*f = v
	return nil
}

// Tier is the risk classification of a catalogued operation.
type Tier uint8

// Risk tiers. The zero Tier is invalid; every catalog entry must name one.
const (
	// ReadOnlyQuery operations do not change driver or hardware state.
	ReadOnlyQuery Tier = iota + 1

	// StateAltering operations may modify driver or hardware state.
	StateAltering

	// Experimental operations have effects that are not fully
	// characterized.
	Experimental
)

// String implements fmt.Stringer.
func (t Tier) String() string {
	switch t {
	case ReadOnlyQuery:
		return "ReadOnlyQuery"
	case StateAltering:
		return "StateAltering"
	case Experimental:
		return "Experimental"
	default:
		return fmt.Sprintf("Tier(%d)", uint8(t))
	}
}

// Valid returns true if t is one of the defined tiers.
func (t Tier) Valid() bool {
	return t >= ReadOnlyQuery && t <= Experimental
}

// MarshalText implements encoding.TextMarshaler.
func (t Tier) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// Opcode identifies one operation inside a family.
//
// Request is the encoded ioctl request number. Selector discriminates the
// operations a driver multiplexes over one request, such as the property
// type of IOCTL_KGSL_DEVICE_GETPROPERTY or the capability of
// DRM_IOCTL_GET_CAP; it is zero for plain requests.
type Opcode struct {
	Request  uint32
	Selector uint32
}

// Op returns the Opcode of a plain request.
func Op(request uint32) Opcode {
	return Opcode{Request: request}
}

// String implements fmt.Stringer.
func (o Opcode) String() string {
	if o.Selector == 0 {
		return fmt.Sprintf("%#08x", o.Request)
	}
	return fmt.Sprintf("%#08x:%#x", o.Request, o.Selector)
}

// MarshalText implements encoding.TextMarshaler.
func (o Opcode) MarshalText() ([]byte, error) {
	return []byte(o.String()), nil
}

// ParseOpcode parses "request" or "request:selector", in any base accepted
// by strconv.ParseUint.
func ParseOpcode(s string) (Opcode, error) {
	req, sel, hasSel := strings.Cut(s, ":")
	r, err := strconv.ParseUint(req, 0, 32)
	if err != nil {
		return Opcode{}, fmt.Errorf("invalid request number %q: %v", req, err)
	}
	o := Opcode{Request: uint32(r)}
	if hasSel {
		v, err := strconv.ParseUint(sel, 0, 32)
		if err != nil {
			return Opcode{}, fmt.Errorf("invalid selector %q: %v", sel, err)
		}
		o.Selector = uint32(v)
	}
	return o, nil
}

func (o Opcode) less(other Opcode) bool {
	if o.Request != other.Request {
		return o.Request < other.Request
	}
	return o.Selector < other.Selector
}
