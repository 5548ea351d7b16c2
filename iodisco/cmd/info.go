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

	"github.com/google/subcommands"

	"iodisco.dev/iodisco/iodisco/config"
	"iodisco.dev/iodisco/pkg/aggregate"
)

// Info implements subcommands.Command for the "info" command.
type Info struct {
	parallel int
	raw      bool
}

// Name implements subcommands.Command.Name.
func (*Info) Name() string {
	return "info"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Info) Synopsis() string {
	return "report the capabilities of GPU devices"
}

// Usage implements subcommands.Command.Usage.
func (*Info) Usage() string {
	return `info [flags] [device...] - report the capabilities of GPU devices.

Runs the read-only identification queries of each device's driver and
summarizes the results. Without arguments, the configured devices or every
GPU node found are inspected.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (i *Info) SetFlags(f *flag.FlagSet) {
	f.IntVar(&i.parallel, "parallel", 4, "number of devices inspected concurrently; 0 is unlimited.")
	f.BoolVar(&i.raw, "raw", false, "include every query result in text output.")
}

// Execute implements subcommands.Command.Execute.
func (i *Info) Execute(ctx context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	conf, env := fromArgs(args)
	if err := i.run(ctx, conf, env, f.Args()); err != nil {
		Fatalf("%v", err)
	}
	return subcommands.ExitSuccess
}

// deviceInfo is the outcome of inspecting one device.
type deviceInfo struct {
	Path    string             `json:"path" yaml:"path"`
	Summary *aggregate.Summary `json:"summary,omitempty" yaml:"summary,omitempty"`
	Report  *aggregate.Report  `json:"report,omitempty" yaml:"report,omitempty"`
	Error   string             `json:"error,omitempty" yaml:"error,omitempty"`
}

func (i *Info) run(ctx context.Context, conf *config.Config, env *Env, args []string) error {
	s := newSession(conf, env)
	defer s.logStats()
	paths, err := s.paths(args)
	if err != nil {
		return err
	}

	a := aggregate.New(s.dispatcher, s.catalog)
	var (
		infos  []deviceInfo
		failed int
	)
	for _, ins := range a.InspectAll(ctx, s.manager, paths, i.parallel) {
		ins := ins
		di := deviceInfo{Path: ins.Path}
		if ins.Report.Device != "" {
			sum := aggregate.Summarize(ins.Report)
			di.Summary = &sum
			di.Report = &ins.Report
		}
		if ins.Err != nil {
			failed++
			di.Error = ins.Err.Error()
		}
		infos = append(infos, di)
	}

	if err := write(env.Out, conf.Format, infos, func(w io.Writer) error {
		return i.writeText(w, infos)
	}); err != nil {
		return err
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d devices could not be inspected", failed, len(paths))
	}
	return nil
}

func (i *Info) writeText(w io.Writer, infos []deviceInfo) error {
	for n, di := range infos {
		if n > 0 {
			fmt.Fprintln(w)
		}
		fmt.Fprintf(w, "%s:\n", di.Path)
		if di.Error != "" {
			fmt.Fprintf(w, "Error: %s\n", di.Error)
		}
		if di.Report == nil {
			continue
		}
		fmt.Fprintf(w, "Driver: %v %v\n", di.Report.Family, di.Report.Version)
		if err := writeSummaryText(w, *di.Summary); err != nil {
			return err
		}
		if failed := di.Report.Failed(); failed > 0 {
			fmt.Fprintf(w, "%d of %d queries failed\n", failed, len(di.Report.Entries))
		}
		if i.raw {
			if err := writeReportText(w, *di.Report); err != nil {
				return err
			}
		}
	}
	return nil
}
