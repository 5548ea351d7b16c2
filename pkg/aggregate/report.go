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

package aggregate

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mohae/deepcopy"
	"golang.org/x/sys/unix"

	"iodisco.dev/iodisco/pkg/catalog"
	"iodisco.dev/iodisco/pkg/dispatch"
	"iodisco.dev/iodisco/pkg/gate"
	"iodisco.dev/iodisco/pkg/gpuerr"
)

// Failure is the recorded form of a failed query.
type Failure struct {
	Kind    gpuerr.Kind `json:"kind" yaml:"kind"`
	Errno   string      `json:"errno,omitempty" yaml:"errno,omitempty"`
	Message string      `json:"message" yaml:"message"`
}

func failureOf(err error) *Failure {
	f := &Failure{Kind: gpuerr.KindOf(err), Message: err.Error()}
	var e *gpuerr.Error
	if errors.As(err, &e) && e.Errno != 0 {
		f.Errno = unix.ErrnoName(e.Errno)
	}
	return f
}

// Entry is the outcome of one query. Exactly one of Values and Error is
// set.
type Entry struct {
	Name   string         `json:"name" yaml:"name"`
	Opcode catalog.Opcode `json:"opcode" yaml:"opcode"`
	Tier   catalog.Tier   `json:"tier,omitempty" yaml:"tier,omitempty"`
	Values catalog.Values `json:"values,omitempty" yaml:"values,omitempty"`
	Error  *Failure       `json:"error,omitempty" yaml:"error,omitempty"`
}

// OK returns true if the query succeeded.
func (e Entry) OK() bool {
	return e.Error == nil
}

// Report is the capability report of one device. Reports returned by
// Builder.Finalize share no memory with the builder or each other.
type Report struct {
	Session  uuid.UUID       `json:"session" yaml:"session"`
	Device   string          `json:"device" yaml:"device"`
	Family   catalog.Family  `json:"family" yaml:"family"`
	Version  catalog.Version `json:"version" yaml:"version"`
	Mode     gate.Mode       `json:"mode" yaml:"mode"`
	Identity catalog.Values  `json:"identity,omitempty" yaml:"identity,omitempty"`
	Started  time.Time       `json:"started" yaml:"started"`
	Finished time.Time       `json:"finished" yaml:"finished"`
	Entries  []Entry         `json:"entries" yaml:"entries"`
}

// Entry returns the entry called name.
func (r *Report) Entry(name string) (Entry, bool) {
	for _, e := range r.Entries {
		if e.Name == name {
			return e, true
		}
	}
	return Entry{}, false
}

// Values returns the values of the successful entry called name, or nil.
func (r *Report) Values(name string) catalog.Values {
	if e, ok := r.Entry(name); ok && e.OK() {
		return e.Values
	}
	return nil
}

// Failed returns the number of failed entries.
func (r *Report) Failed() int {
	n := 0
	for _, e := range r.Entries {
		if !e.OK() {
			n++
		}
	}
	return n
}

// Builder accumulates the entries of a Report.
type Builder struct {
	mu     sync.Mutex
	report Report
}

// NewBuilder starts a report for h under mode.
func NewBuilder(h Handle, mode gate.Mode) *Builder {
	return &Builder{report: Report{
		Session:  uuid.New(),
		Device:   h.Path(),
		Family:   h.Family(),
		Version:  h.Version(),
		Mode:     mode,
		Identity: h.Identity(),
		Started:  time.Now(),
	}}
}

// Add records a dispatch result.
func (b *Builder) Add(res dispatch.Result) {
	e := Entry{Name: res.Name, Opcode: res.Opcode, Tier: res.Tier}
	if res.OK() {
		e.Values = res.Values
	} else {
		e.Error = failureOf(res.Err)
	}
	b.add(e)
}

// Fail records a query that could not be dispatched at all.
func (b *Builder) Fail(name string, op catalog.Opcode, err error) {
	b.add(Entry{Name: name, Opcode: op, Error: failureOf(err)})
}

func (b *Builder) add(e Entry) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.report.Entries = append(b.report.Entries, e)
}

// Finalize returns a deep copy of the report built so far.
func (b *Builder) Finalize() Report {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.report.Finished = time.Now()
	return deepcopy.Copy(b.report).(Report)
}
