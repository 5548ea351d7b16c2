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

// Package seccomp confines ioctl(2) to an allow-list of request numbers.
package seccomp

import (
	"fmt"
	"strings"
)

// Rule matches the request argument of an ioctl(2) call.
type Rule interface {
	// Recurse replaces every direct sub-rule with fn(sub-rule).
	Recurse(fn func(Rule) Rule)

	String() string
}

// MatchAll matches any request.
type MatchAll struct{}

// Recurse implements Rule.Recurse.
func (MatchAll) Recurse(func(Rule) Rule) {}

// String implements Rule.String.
func (MatchAll) String() string { return "*" }

// EqualTo matches a single request number.
type EqualTo uint32

// Recurse implements Rule.Recurse.
func (EqualTo) Recurse(func(Rule) Rule) {}

// String implements Rule.String.
func (e EqualTo) String() string { return fmt.Sprintf("== %#x", uint32(e)) }

// MaskedEqual matches requests r with r & Mask == Value.
type MaskedEqual struct {
	Mask  uint32
	Value uint32
}

// Recurse implements Rule.Recurse.
func (MaskedEqual) Recurse(func(Rule) Rule) {}

// String implements Rule.String.
func (m MaskedEqual) String() string {
	return fmt.Sprintf("& %#x == %#x", m.Mask, m.Value)
}

// Or matches if any of its rules match. An empty Or matches nothing.
type Or []Rule

// Recurse implements Rule.Recurse.
func (o Or) Recurse(fn func(Rule) Rule) {
	for i, r := range o {
		o[i] = fn(r)
	}
}

// String implements Rule.String.
func (o Or) String() string { return join("||", o) }

// And matches if all of its rules match. An empty And matches everything.
type And []Rule

// Recurse implements Rule.Recurse.
func (a And) Recurse(fn func(Rule) Rule) {
	for i, r := range a {
		a[i] = fn(r)
	}
}

// String implements Rule.String.
func (a And) String() string { return join("&&", a) }

func join(op string, rules []Rule) string {
	parts := make([]string, len(rules))
	for i, r := range rules {
		parts[i] = r.String()
	}
	return "(" + strings.Join(parts, " "+op+" ") + ")"
}

// Matches evaluates r against req in Go. It is the reference the compiled
// program must agree with.
func Matches(r Rule, req uint32) bool {
	switch r := r.(type) {
	case MatchAll:
		return true
	case EqualTo:
		return req == uint32(r)
	case MaskedEqual:
		return req&r.Mask == r.Value
	case Or:
		for _, sub := range r {
			if Matches(sub, req) {
				return true
			}
		}
		return false
	case And:
		for _, sub := range r {
			if !Matches(sub, req) {
				return false
			}
		}
		return true
	default:
		return false
	}
}
