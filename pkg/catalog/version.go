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

// Version is a driver API version as reported by the driver's
// identification ioctl.
type Version struct {
	Major int
	Minor int
	Patch int
}

// VersionFrom parses "major.minor" or "major.minor.patch".
func VersionFrom(version string) (Version, error) {
	parts := strings.Split(version, ".")
	if len(parts) != 2 && len(parts) != 3 {
		return Version{}, fmt.Errorf("invalid format of version string %q", version)
	}
	var (
		res Version
		err error
	)
	res.Major, err = strconv.Atoi(parts[0])
	if err != nil {
		return Version{}, fmt.Errorf("invalid format for major version %q: %v", version, err)
	}
	res.Minor, err = strconv.Atoi(parts[1])
	if err != nil {
		return Version{}, fmt.Errorf("invalid format for minor version %q: %v", version, err)
	}
	if len(parts) == 3 {
		res.Patch, err = strconv.Atoi(parts[2])
		if err != nil {
			return Version{}, fmt.Errorf("invalid format for patch version %q: %v", version, err)
		}
	}
	return res, nil
}

// String implements fmt.Stringer.
func (v Version) String() string {
	if v.Patch == 0 {
		return fmt.Sprintf("%d.%d", v.Major, v.Minor)
	}
	return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
}

// IsZero returns true if v is unknown.
func (v Version) IsZero() bool {
	return v == Version{}
}

// MarshalText implements encoding.TextMarshaler.
func (v Version) MarshalText() ([]byte, error) {
	return []byte(v.String()), nil
}

// IsGreaterThan returns true if v is strictly newer than v2.
func (v Version) IsGreaterThan(v2 Version) bool {
	return v.isGreaterThanImpl(false /* orEqual */, v2)
}

// IsGreaterThanOrEqual returns true if v is v2 or newer.
func (v Version) IsGreaterThanOrEqual(v2 Version) bool {
	return v.isGreaterThanImpl(true /* orEqual */, v2)
}

func (v Version) isGreaterThanImpl(orEqual bool, v2 Version) bool {
	if v.Major != v2.Major {
		return v.Major > v2.Major
	}
	if v.Minor != v2.Minor {
		return v.Minor > v2.Minor
	}
	if v.Patch != v2.Patch {
		return v.Patch > v2.Patch
	}
	return orEqual
}

// entryTable holds the catalog entries of one family, keyed by opcode.
//
// Drivers grow their ioctl surface with their API version. Each family's
// entries are therefore described as a sparse sequence of diffs against the
// previous API version, the way the driver headers document them.
type entryTable map[Opcode]*Descriptor

// apply merges diff into t. A nil descriptor removes the opcode.
func (t entryTable) apply(diff entryTable) {
	for k, v := range diff {
		if v == nil {
			delete(t, k)
		} else {
			t[k] = v
		}
	}
}

// versionDiff is the set of changes a driver API version made compared to
// the previous entry of such a diff:
//  1. Add: a non-nil descriptor for an opcode the previous version lacks.
//  2. Update: a non-nil descriptor replacing the previous one.
//  3. Delete: a nil descriptor. The previous descriptor is removed.
type versionDiff struct {
	version Version
	entries entryTable
}

// buildTable returns the entries available at a given API version of a
// family described by table (strictly increasing versions).
func buildTable(table []versionDiff, version Version) (entryTable, error) {
	if len(table) == 0 {
		return nil, fmt.Errorf("no versioning table")
	}
	base := table[0].version
	if !version.IsGreaterThanOrEqual(base) {
		return nil, fmt.Errorf("%s is unsupported; minimum supported version is %s", version, base)
	}
	res := make(entryTable)
	for _, cur := range table {
		if cur.version.IsGreaterThan(version) {
			break
		}
		res.apply(cur.entries)
	}
	return res, nil
}

// flattenTable returns every descriptor that appears anywhere in table,
// stamped with the version range it is available in. Updated entries keep
// the version that first introduced their opcode.
func flattenTable(family Family, table []versionDiff) []Descriptor {
	type state struct {
		desc    Descriptor
		removed bool
	}
	seen := make(map[Opcode]*state)
	var order []Opcode
	for _, cur := range table {
		for op, d := range cur.entries {
			s, ok := seen[op]
			switch {
			case d == nil:
				if ok && !s.removed {
					s.removed = true
					s.desc.MaxVersion = cur.version
				}
			case !ok:
				desc := *d
				desc.Family = family
				desc.Opcode = op
				desc.MinVersion = cur.version
				seen[op] = &state{desc: desc}
				order = append(order, op)
			default:
				first := s.desc.MinVersion
				if s.removed {
					first = cur.version
				}
				desc := *d
				desc.Family = family
				desc.Opcode = op
				desc.MinVersion = first
				s.desc = desc
				s.removed = false
			}
		}
	}
	res := make([]Descriptor, 0, len(order))
	for _, op := range order {
		res = append(res, seen[op].desc)
	}
	return res
}

// versioningTables holds the sparse version tables of every family.
var versioningTables = map[Family][]versionDiff{
	Mali:    kbaseJMVersioningTable,
	MaliCSF: kbaseCSFVersioningTable,
	KGSL:    kgslVersioningTable,
	DRM:     drmVersioningTable,
}

// Supported returns the descriptors a family offers at a given API version,
// in opcode order.
func Supported(family Family, version Version) ([]Descriptor, error) {
	table, ok := versioningTables[family]
	if !ok {
		return nil, fmt.Errorf("unknown family %v", family)
	}
	entries, err := buildTable(table, version)
	if err != nil {
		return nil, err
	}
	res := make([]Descriptor, 0, len(entries))
	for op := range entries {
		d, err := Default().Lookup(family, op)
		if err != nil {
			return nil, err
		}
		res = append(res, d)
	}
	sortDescriptors(res)
	return res, nil
}
