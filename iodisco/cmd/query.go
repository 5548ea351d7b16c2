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

package cmd

import (
	"context"
	"flag"
	"fmt"
	"io"
	"strings"

	"github.com/google/subcommands"

	"iodisco.dev/iodisco/iodisco/config"
	"iodisco.dev/iodisco/pkg/aggregate"
	"iodisco.dev/iodisco/pkg/catalog"
	"iodisco.dev/iodisco/pkg/device"
)

// fieldValues collects repeated -set field=value flags. Values are passed
// through as strings; the dispatcher parses integers in any base.
type fieldValues catalog.Args

// String implements flag.Value.
func (v fieldValues) String() string {
	var parts []string
	for k, x := range v {
		parts = append(parts, fmt.Sprintf("%s=%v", k, x))
	}
	return strings.Join(parts, ",")
}

// Set implements flag.Value.
func (v fieldValues) Set(s string) error {
	field, value, ok := strings.Cut(s, "=")
	if !ok || field == "" {
		return fmt.Errorf("want field=value, got %q", s)
	}
	v[field] = value
	return nil
}

// Query implements subcommands.Command for the "query" command.
type Query struct {
	set fieldValues
}

// Name implements subcommands.Command.Name.
func (*Query) Name() string {
	return "query"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Query) Synopsis() string {
	return "dispatch catalogued operations against a GPU device"
}

// Usage implements subcommands.Command.Usage.
func (*Query) Usage() string {
	return `query [flags] <device> <operation>... - dispatch catalogued operations.

Operations are catalogue names, such as GET_GPUPROPS or GET_CAP.PRIME, or
opcodes written request[:selector]. Each operation must be authorized by the
operating mode. Arguments set with -set apply to every operation.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (q *Query) SetFlags(f *flag.FlagSet) {
	q.set = make(fieldValues)
	f.Var(q.set, "set", "request field assignment field=value; may be repeated.")
}

// Execute implements subcommands.Command.Execute.
func (q *Query) Execute(ctx context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() < 2 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	conf, env := fromArgs(args)
	if err := q.run(ctx, conf, env, f.Arg(0), f.Args()[1:]); err != nil {
		Fatalf("%v", err)
	}
	return subcommands.ExitSuccess
}

func (q *Query) run(ctx context.Context, conf *config.Config, env *Env, path string, ops []string) error {
	s := newSession(conf, env)
	defer s.logStats()

	var report aggregate.Report
	err := s.manager.With(ctx, path, func(h *device.Handle) error {
		b := aggregate.NewBuilder(h, conf.Mode)
		defer func() { report = b.Finalize() }()
		for _, name := range ops {
			desc, err := s.catalog.Resolve(h.Family(), name)
			if err != nil {
				op, _ := catalog.ParseOpcode(name)
				b.Fail(name, op, err)
				continue
			}
			b.Add(s.dispatch(ctx, h, desc, catalog.Args(q.set)))
			if herr := h.Err(); herr != nil {
				return herr
			}
		}
		return nil
	})
	if report.Device != "" {
		if werr := write(env.Out, conf.Format, report, func(w io.Writer) error {
			return writeReportText(w, report)
		}); werr != nil {
			return werr
		}
	}
	if err != nil {
		return err
	}
	if n := report.Failed(); n > 0 {
		return fmt.Errorf("%d of %d operations failed", n, len(ops))
	}
	return nil
}
