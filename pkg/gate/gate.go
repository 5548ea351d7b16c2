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

// Package gate decides which catalogued operations may run under an
// operating mode.
package gate

import (
	"fmt"
	"strings"

	"iodisco.dev/iodisco/pkg/catalog"
	"iodisco.dev/iodisco/pkg/gpuerr"
	"iodisco.dev/iodisco/pkg/seccomp"
)

// Mode is the operating mode of a session. The zero value is MinimalSafe.
type Mode int

// Operating modes, from least to most permissive.
const (
	// MinimalSafe only runs read-only identification queries.
	MinimalSafe Mode = iota

	// Experimental additionally runs Experimental tier operations.
	Experimental

	// Professional runs every catalogued operation.
	Professional
)

var modeNames = []string{
	MinimalSafe:  "minimal-safe",
	Experimental: "experimental",
	Professional: "professional",
}

// Modes returns every valid mode, least permissive first.
func Modes() []Mode {
	return []Mode{MinimalSafe, Experimental, Professional}
}

// Valid returns true if m is a known mode.
func (m Mode) Valid() bool {
	return m >= MinimalSafe && m <= Professional
}

// String implements fmt.Stringer.
func (m Mode) String() string {
	if m.Valid() {
		return modeNames[m]
	}
	return fmt.Sprintf("Mode(%d)", int(m))
}

// ParseMode parses a mode name. The empty string is MinimalSafe.
func ParseMode(s string) (Mode, error) {
	if s == "" {
		return MinimalSafe, nil
	}
	for i, name := range modeNames {
		if strings.EqualFold(s, name) {
			return Mode(i), nil
		}
	}
	return MinimalSafe, fmt.Errorf("invalid mode %q, must be one of: %s", s, strings.Join(modeNames, ", "))
}

// Set implements flag.Value.
func (m *Mode) Set(s string) error {
	v, err := ParseMode(s)
	if err != nil {
		return err
	}
	*m = v
	return nil
}

// Get implements flag.Getter.
func (m *Mode) Get() any {
	return *m
}

// MarshalText implements encoding.TextMarshaler.
func (m Mode) MarshalText() ([]byte, error) {
	if !m.Valid() {
		return nil, fmt.Errorf("invalid mode %d", int(m))
	}
	return []byte(m.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (m *Mode) UnmarshalText(b []byte) error {
	return m.Set(string(b))
}

// Permits returns true if tier may run under m.
func (m Mode) Permits(tier catalog.Tier) bool {
	switch tier {
	case catalog.ReadOnlyQuery:
		return m.Valid()
	case catalog.Experimental:
		return m == Experimental || m == Professional
	case catalog.StateAltering:
		return m == Professional
	default:
		return false
	}
}

// Decision is the outcome of Authorize.
type Decision struct {
	Allowed bool
	Reason  string
}

// Authorize decides whether d may run under mode. It has no side effects.
func Authorize(d catalog.Descriptor, mode Mode) Decision {
	switch {
	case !mode.Valid():
		return Decision{Reason: fmt.Sprintf("unknown operating mode %v", mode)}
	case !d.Tier.Valid():
		return Decision{Reason: fmt.Sprintf("%v has no valid risk tier", d)}
	case mode.Permits(d.Tier):
		return Decision{Allowed: true, Reason: fmt.Sprintf("%v tier permitted in %v mode", d.Tier, mode)}
	default:
		return Decision{Reason: fmt.Sprintf("%v is %v tier, which requires %v mode; current mode is %v", d, d.Tier, required(d.Tier), mode)}
	}
}

// required returns the least permissive mode that permits tier.
func required(tier catalog.Tier) Mode {
	for _, m := range Modes() {
		if m.Permits(tier) {
			return m
		}
	}
	return Professional
}

// Err returns the ModeViolation error for a denied decision, or nil.
func (dec Decision) Err(d catalog.Descriptor) error {
	if dec.Allowed {
		return nil
	}
	return gpuerr.New(gpuerr.ModeViolation, "authorize", "%s", dec.Reason).WithName(d.String())
}

// Authorized returns the descriptors of c that may run under mode.
func Authorized(c *catalog.Catalog, mode Mode) []catalog.Descriptor {
	var res []catalog.Descriptor
	for _, d := range c.All() {
		if Authorize(d, mode).Allowed {
			res = append(res, d)
		}
	}
	return res
}

// RequestRule returns a seccomp rule matching the request numbers of every
// operation authorized under mode. Selectors are not visible to the
// filter, so a multiplexed request passes if any of its selectors is
// authorized.
func RequestRule(c *catalog.Catalog, mode Mode) seccomp.Rule {
	var rule seccomp.Or
	for _, d := range Authorized(c, mode) {
		rule = append(rule, seccomp.EqualTo(d.Opcode.Request))
	}
	return seccomp.Optimize(rule)
}
