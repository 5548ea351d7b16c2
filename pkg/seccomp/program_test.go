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

package seccomp

import (
	"encoding/binary"
	"testing"

	"golang.org/x/net/bpf"
)

const (
	testArch  = 0xc000003e
	testIoctl = 16

	retMatch    = 1
	retMismatch = 2
	retBadArch  = 3
)

var testActions = Actions{Match: retMatch, Mismatch: retMismatch, BadArch: retBadArch}

// seccompData builds a struct seccomp_data. The bpf VM loads words in
// network byte order, so the fields are stored big-endian here.
func seccompData(nr, arch, request uint32) []byte {
	b := make([]byte, 64)
	binary.BigEndian.PutUint32(b[seccompDataNR:], nr)
	binary.BigEndian.PutUint32(b[seccompDataArch:], arch)
	binary.BigEndian.PutUint32(b[seccompDataRequest:], request)
	return b
}

func run(t *testing.T, insns []bpf.Instruction, data []byte) int {
	t.Helper()
	vm, err := bpf.NewVM(insns)
	if err != nil {
		t.Fatalf("bpf.NewVM: %v", err)
	}
	ret, err := vm.Run(data)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	return ret
}

func TestProgram(t *testing.T) {
	rule := Or{
		EqualTo(0x1234),
		MaskedEqual{Mask: 0xff00, Value: 0x6400},
		And{EqualTo(0x9000), MatchAll{}},
	}
	insns, err := Program(rule, testArch, testIoctl, testActions)
	if err != nil {
		t.Fatalf("Program: %v", err)
	}
	if _, err := bpf.Assemble(insns); err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	for _, test := range []struct {
		name string
		data []byte
		want int
	}{
		{"foreign arch", seccompData(testIoctl, 0x40000003, 0x1234), retBadArch},
		{"other syscall", seccompData(1, testArch, 0), retMatch},
		{"exact request", seccompData(testIoctl, testArch, 0x1234), retMatch},
		{"masked request", seccompData(testIoctl, testArch, 0x64ab), retMatch},
		{"and request", seccompData(testIoctl, testArch, 0x9000), retMatch},
		{"unlisted request", seccompData(testIoctl, testArch, 0x9999), retMismatch},
		{"unlisted neighbour", seccompData(testIoctl, testArch, 0x1235), retMismatch},
	} {
		t.Run(test.name, func(t *testing.T) {
			if got := run(t, insns, test.data); got != test.want {
				t.Errorf("got %d, want %d", got, test.want)
			}
		})
	}
}

func TestProgramEmptyRule(t *testing.T) {
	insns, err := Program(Or{}, testArch, testIoctl, testActions)
	if err != nil {
		t.Fatalf("Program: %v", err)
	}
	if got := run(t, insns, seccompData(testIoctl, testArch, 0x1234)); got != retMismatch {
		t.Errorf("ioctl under empty rule: got %d, want %d", got, retMismatch)
	}
	if got := run(t, insns, seccompData(0, testArch, 0)); got != retMatch {
		t.Errorf("read under empty rule: got %d, want %d", got, retMatch)
	}
}

func TestProgramAgreesWithMatches(t *testing.T) {
	var rule Or
	for i := uint32(0); i < 60; i++ {
		rule = append(rule, EqualTo(0xc0000000|i<<8|i))
	}
	insns, err := Program(rule, testArch, testIoctl, testActions)
	if err != nil {
		t.Fatalf("Program: %v", err)
	}
	for i := uint32(0); i < 64; i++ {
		req := 0xc0000000 | i<<8 | i
		want := retMismatch
		if Matches(rule, req) {
			want = retMatch
		}
		if got := run(t, insns, seccompData(testIoctl, testArch, req)); got != want {
			t.Errorf("request %#x: got %d, want %d", req, got, want)
		}
	}
}

func TestProgramTooLong(t *testing.T) {
	var rule Or
	for i := uint32(0); i < 200; i++ {
		rule = append(rule, EqualTo(i))
	}
	if _, err := Program(rule, testArch, testIoctl, testActions); err == nil {
		t.Errorf("Program accepted a rule whose jumps exceed the conditional range")
	}
}
