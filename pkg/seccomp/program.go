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
	"fmt"

	"golang.org/x/net/bpf"
)

// Return values of a seccomp filter, from include/uapi/linux/seccomp.h.
const (
	SECCOMP_RET_KILL_PROCESS = 0x80000000
	SECCOMP_RET_ERRNO        = 0x00050000
	SECCOMP_RET_ALLOW        = 0x7fff0000
)

// Offsets into struct seccomp_data.
const (
	seccompDataNR   = 0
	seccompDataArch = 4

	// Low 32 bits of args[1], the ioctl request, on a little-endian
	// machine.
	seccompDataRequest = 16 + 8*1
)

// Actions are the values a compiled filter returns.
type Actions struct {
	// Match is returned for allowed ioctls and for every other syscall.
	Match uint32

	// Mismatch is returned for ioctls the rule rejects.
	Mismatch uint32

	// BadArch is returned for syscalls made through a foreign ABI.
	BadArch uint32
}

// DefaultActions fails rejected ioctls with EPERM and kills the process on
// a foreign syscall ABI.
var DefaultActions = Actions{
	Match:    SECCOMP_RET_ALLOW,
	Mismatch: SECCOMP_RET_ERRNO | 1, // EPERM
	BadArch:  SECCOMP_RET_KILL_PROCESS,
}

// Program compiles a filter that checks the audit architecture, passes
// every syscall other than sysIoctl, and applies rule to the request of
// sysIoctl.
func Program(rule Rule, arch, sysIoctl uint32, actions Actions) ([]bpf.Instruction, error) {
	var b builder
	b.emit(bpf.LoadAbsolute{Off: seccompDataArch, Size: 4})
	b.jumpIf(bpf.JumpEqual, arch, "arch_ok", "bad_arch")
	b.label("arch_ok")
	b.emit(bpf.LoadAbsolute{Off: seccompDataNR, Size: 4})
	b.jumpIf(bpf.JumpEqual, sysIoctl, "ioctl", "allow")
	b.label("ioctl")
	if err := b.rule(Optimize(rule), "allow", "deny"); err != nil {
		return nil, err
	}
	b.label("allow")
	b.emit(bpf.RetConstant{Val: actions.Match})
	b.label("deny")
	b.emit(bpf.RetConstant{Val: actions.Mismatch})
	b.label("bad_arch")
	b.emit(bpf.RetConstant{Val: actions.BadArch})
	return b.resolve()
}

// fixup records a jump whose targets are labels.
type fixup struct {
	pc     int
	jt, jf string
}

// builder assembles instructions with symbolic jump targets.
type builder struct {
	insns  []bpf.Instruction
	fixups []fixup
	labels map[string]int
	next   int
}

func (b *builder) emit(i bpf.Instruction) {
	b.insns = append(b.insns, i)
}

// jumpIf emits a conditional jump to label t if the test holds, else f.
func (b *builder) jumpIf(cond bpf.JumpTest, val uint32, t, f string) {
	b.fixups = append(b.fixups, fixup{pc: len(b.insns), jt: t, jf: f})
	b.emit(bpf.JumpIf{Cond: cond, Val: val})
}

// jump emits an unconditional jump to label l.
func (b *builder) jump(l string) {
	b.fixups = append(b.fixups, fixup{pc: len(b.insns), jt: l})
	b.emit(bpf.Jump{})
}

func (b *builder) label(l string) {
	if b.labels == nil {
		b.labels = make(map[string]int)
	}
	b.labels[l] = len(b.insns)
}

func (b *builder) newLabel() string {
	b.next++
	return fmt.Sprintf("L%d", b.next)
}

// rule emits code that continues at match if r holds and at miss otherwise.
func (b *builder) rule(r Rule, match, miss string) error {
	switch r := r.(type) {
	case MatchAll:
		b.jump(match)
	case EqualTo:
		b.emit(bpf.LoadAbsolute{Off: seccompDataRequest, Size: 4})
		b.jumpIf(bpf.JumpEqual, uint32(r), match, miss)
	case MaskedEqual:
		b.emit(bpf.LoadAbsolute{Off: seccompDataRequest, Size: 4})
		b.emit(bpf.ALUOpConstant{Op: bpf.ALUOpAnd, Val: r.Mask})
		b.jumpIf(bpf.JumpEqual, r.Value, match, miss)
	case Or:
		if len(r) == 0 {
			b.jump(miss)
			return nil
		}
		for i, sub := range r {
			if i == len(r)-1 {
				return b.rule(sub, match, miss)
			}
			next := b.newLabel()
			if err := b.rule(sub, match, next); err != nil {
				return err
			}
			b.label(next)
		}
	case And:
		if len(r) == 0 {
			b.jump(match)
			return nil
		}
		for i, sub := range r {
			if i == len(r)-1 {
				return b.rule(sub, match, miss)
			}
			next := b.newLabel()
			if err := b.rule(sub, next, miss); err != nil {
				return err
			}
			b.label(next)
		}
	default:
		return fmt.Errorf("unsupported rule %T", r)
	}
	return nil
}

// resolve patches jump offsets. Conditional jumps only reach 255
// instructions ahead.
func (b *builder) resolve() ([]bpf.Instruction, error) {
	target := func(pc int, l string) (int, error) {
		dst, ok := b.labels[l]
		if !ok {
			return 0, fmt.Errorf("undefined label %q", l)
		}
		if dst <= pc {
			return 0, fmt.Errorf("backward jump from %d to %q", pc, l)
		}
		return dst - pc - 1, nil
	}
	for _, f := range b.fixups {
		switch insn := b.insns[f.pc].(type) {
		case bpf.Jump:
			skip, err := target(f.pc, f.jt)
			if err != nil {
				return nil, err
			}
			insn.Skip = uint32(skip)
			b.insns[f.pc] = insn
		case bpf.JumpIf:
			st, err := target(f.pc, f.jt)
			if err != nil {
				return nil, err
			}
			sf, err := target(f.pc, f.jf)
			if err != nil {
				return nil, err
			}
			if st > 255 || sf > 255 {
				return nil, fmt.Errorf("jump at %d out of range (%d, %d)", f.pc, st, sf)
			}
			insn.SkipTrue = uint8(st)
			insn.SkipFalse = uint8(sf)
			b.insns[f.pc] = insn
		}
	}
	return b.insns, nil
}
