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

// Package catalog is the static registry of GPU driver operations iodisco
// knows how to encode, classify and decode.
//
// Every entry carries a risk tier. Lookups of anything that is not in the
// catalog fail with gpuerr.Unclassified: absence of classification is never
// treated as permission.
package catalog

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/google/btree"
	"iodisco.dev/iodisco/pkg/abi/ioc"
	"iodisco.dev/iodisco/pkg/gpuerr"
)

// Descriptor describes one catalogued operation. Descriptors are values;
// the catalog hands out copies.
type Descriptor struct {
	Family  Family
	Opcode  Opcode
	Name    string
	Summary string
	Tier    Tier

	// RequestLayout is the shape of the argument buffer passed to the
	// kernel. Its size matches the size encoded in the request number.
	RequestLayout Layout

	// ResponseLayout lists the fields the decoder may read back after the
	// call. It aliases the request buffer.
	ResponseLayout Layout

	// SelectorField is the request field that carries Opcode.Selector.
	SelectorField string

	// Defaults are applied to the request before caller arguments.
	Defaults Args

	Decode Decoder

	// Identify marks the family's identification probe.
	Identify bool

	// ReturnsFD marks requests whose return value is a new file
	// descriptor owned by the caller.
	ReturnsFD bool

	// MinVersion is the first driver API version providing the operation.
	// MaxVersion, if set, is the first version that no longer does.
	MinVersion Version
	MaxVersion Version
}

// String implements fmt.Stringer.
func (d Descriptor) String() string {
	return fmt.Sprintf("%v/%s", d.Family, d.Name)
}

// AvailableIn returns true if the operation exists at driver API version v.
// An unknown (zero) version is assumed to provide everything.
func (d Descriptor) AvailableIn(v Version) bool {
	if v.IsZero() {
		return true
	}
	if !v.IsGreaterThanOrEqual(d.MinVersion) {
		return false
	}
	return d.MaxVersion.IsZero() || !v.IsGreaterThanOrEqual(d.MaxVersion)
}

func (d Descriptor) validate() error {
	if _, ok := familyNames[d.Family]; !ok {
		return fmt.Errorf("unknown family %v", d.Family)
	}
	if d.Name == "" {
		return fmt.Errorf("opcode %v has no name", d.Opcode)
	}
	if !d.Tier.Valid() {
		return fmt.Errorf("no risk tier")
	}
	if d.Decode == nil {
		return fmt.Errorf("no decoder")
	}
	if err := d.RequestLayout.Validate(); err != nil {
		return fmt.Errorf("request layout: %w", err)
	}
	if err := d.ResponseLayout.Validate(); err != nil {
		return fmt.Errorf("response layout: %w", err)
	}
	if want := ioc.Size(d.Opcode.Request); d.RequestLayout.Size != want {
		return fmt.Errorf("request layout is %d bytes, request number encodes %d", d.RequestLayout.Size, want)
	}
	if len(d.ResponseLayout.Fields) > 0 && d.ResponseLayout.Size != d.RequestLayout.Size {
		return fmt.Errorf("response layout is %d bytes, request layout %d", d.ResponseLayout.Size, d.RequestLayout.Size)
	}
	for _, f := range d.ResponseLayout.SideBuffers() {
		rf, ok := d.RequestLayout.Field(f.Name)
		if !ok || rf.Kind != Ptr || rf.Offset != f.Offset || rf.Len != f.Len {
			return fmt.Errorf("response side buffer %q does not match the request layout", f.Name)
		}
	}
	if (d.Opcode.Selector != 0) != (d.SelectorField != "") {
		return fmt.Errorf("selector %#x and selector field %q must be set together", d.Opcode.Selector, d.SelectorField)
	}
	if d.SelectorField != "" {
		f, ok := d.RequestLayout.Field(d.SelectorField)
		if !ok || !f.Kind.Integer() || !f.Internal {
			return fmt.Errorf("selector field %q must be an internal integer field", d.SelectorField)
		}
		if uint64(d.Opcode.Selector) > f.Max() {
			return fmt.Errorf("selector %#x does not fit field %q", d.Opcode.Selector, d.SelectorField)
		}
	}
	for name := range d.Defaults {
		f, ok := d.RequestLayout.Field(name)
		if !ok || f.Internal {
			return fmt.Errorf("default for %q does not name a settable field", name)
		}
	}
	return nil
}

func (d Descriptor) clone() Descriptor {
	c := d
	c.RequestLayout = d.RequestLayout.clone()
	c.ResponseLayout = d.ResponseLayout.clone()
	if d.Defaults != nil {
		c.Defaults = make(Args, len(d.Defaults))
		for k, v := range d.Defaults {
			c.Defaults[k] = v
		}
	}
	return c
}

type key struct {
	family Family
	op     Opcode
}

func (k key) less(other key) bool {
	if k.family != other.family {
		return k.family < other.family
	}
	return k.op.less(other.op)
}

func sortDescriptors(ds []Descriptor) {
	sort.Slice(ds, func(i, j int) bool {
		return key{ds[i].Family, ds[i].Opcode}.less(key{ds[j].Family, ds[j].Opcode})
	})
}

// Catalog is an immutable set of descriptors. It is safe for concurrent
// use.
type Catalog struct {
	entries map[key]Descriptor
	names   map[Family]map[string]Opcode // by lower-cased name
	order   *btree.BTreeG[key]
}

// New builds a catalog from descs. It fails if any descriptor is malformed,
// lacks a risk tier, or collides with another.
func New(descs ...Descriptor) (*Catalog, error) {
	c := &Catalog{
		entries: make(map[key]Descriptor, len(descs)),
		names:   make(map[Family]map[string]Opcode),
		order:   btree.NewG[key](8, key.less),
	}
	for _, d := range descs {
		if err := d.validate(); err != nil {
			return nil, fmt.Errorf("%v (%v): %w", d, d.Opcode, err)
		}
		k := key{d.Family, d.Opcode}
		if prev, ok := c.entries[k]; ok {
			return nil, fmt.Errorf("%v: opcode %v already catalogued as %s", d, d.Opcode, prev.Name)
		}
		if c.names[d.Family] == nil {
			c.names[d.Family] = make(map[string]Opcode)
		}
		folded := strings.ToLower(d.Name)
		if op, ok := c.names[d.Family][folded]; ok {
			return nil, fmt.Errorf("%v: name collides with %s", d, c.entries[key{d.Family, op}].Name)
		}
		c.names[d.Family][folded] = d.Opcode
		c.entries[k] = d.clone()
		c.order.ReplaceOrInsert(k)
	}
	return c, nil
}

// Lookup returns the descriptor of op in family f, or an Unclassified error.
func (c *Catalog) Lookup(f Family, op Opcode) (Descriptor, error) {
	d, ok := c.entries[key{f, op}]
	if !ok {
		return Descriptor{}, gpuerr.New(gpuerr.Unclassified, "lookup", "%v opcode %v is not catalogued", f, op)
	}
	return d.clone(), nil
}

// ByName returns the descriptor called name in family f, or an Unclassified
// error. Names are matched case-insensitively.
func (c *Catalog) ByName(f Family, name string) (Descriptor, error) {
	op, ok := c.names[f][strings.ToLower(name)]
	if !ok {
		return Descriptor{}, gpuerr.New(gpuerr.Unclassified, "lookup", "%v has no operation named %q", f, name)
	}
	return c.Lookup(f, op)
}

// Resolve accepts either an operation name or an opcode in ParseOpcode form.
func (c *Catalog) Resolve(f Family, s string) (Descriptor, error) {
	if d, err := c.ByName(f, s); err == nil {
		return d, nil
	}
	op, err := ParseOpcode(s)
	if err != nil {
		return Descriptor{}, gpuerr.New(gpuerr.Unclassified, "lookup", "%v has no operation named %q", f, s)
	}
	return c.Lookup(f, op)
}

// All returns every descriptor, ordered by family then opcode.
func (c *Catalog) All() []Descriptor {
	res := make([]Descriptor, 0, len(c.entries))
	c.order.Ascend(func(k key) bool {
		res = append(res, c.entries[k].clone())
		return true
	})
	return res
}

// InFamily returns the descriptors of family f in opcode order.
func (c *Catalog) InFamily(f Family) []Descriptor {
	var res []Descriptor
	c.order.AscendRange(key{family: f}, key{family: f + 1}, func(k key) bool {
		res = append(res, c.entries[k].clone())
		return true
	})
	return res
}

// Identifier returns the identification probe of family f.
func (c *Catalog) Identifier(f Family) (Descriptor, bool) {
	for _, d := range c.InFamily(f) {
		if d.Identify {
			return d, true
		}
	}
	return Descriptor{}, false
}

// Len returns the number of descriptors.
func (c *Catalog) Len() int {
	return len(c.entries)
}

var (
	defaultOnce    sync.Once
	defaultCatalog *Catalog
)

// Default returns the built-in catalog of every supported family. It is
// built on first use and never changes afterwards.
func Default() *Catalog {
	defaultOnce.Do(func() {
		var descs []Descriptor
		for _, f := range Families() {
			descs = append(descs, flattenTable(f, versioningTables[f])...)
		}
		c, err := New(descs...)
		if err != nil {
			panic(fmt.Sprintf("built-in catalog is invalid: %v", err))
		}
		defaultCatalog = c
	})
	return defaultCatalog
}
