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
	"text/tabwriter"

	"github.com/google/subcommands"
	specs "github.com/opencontainers/runtime-spec/specs-go"
	"github.com/sirupsen/logrus"

	"iodisco.dev/iodisco/iodisco/config"
	"iodisco.dev/iodisco/pkg/device"
)

// Devices implements subcommands.Command for the "devices" command.
type Devices struct {
	format string
}

// Name implements subcommands.Command.Name.
func (*Devices) Name() string {
	return "devices"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Devices) Synopsis() string {
	return "list the GPU device nodes of the host and how they are reached"
}

// Usage implements subcommands.Command.Usage.
func (*Devices) Usage() string {
	return `devices [flags] - list the GPU device nodes of the host.

No device is opened. Each node is listed with the route through which the
process may open it, or the reason it may not.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (d *Devices) SetFlags(f *flag.FlagSet) {
	f.StringVar(&d.format, "format", "", "output format: text, json, yaml, cbor, or oci for OCI runtime device entries. Defaults to the global -format.")
}

// Execute implements subcommands.Command.Execute.
func (d *Devices) Execute(_ context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() != 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	conf, env := fromArgs(args)
	if err := d.run(conf, env); err != nil {
		Fatalf("%v", err)
	}
	return subcommands.ExitSuccess
}

// deviceEntry is one listed node.
type deviceEntry struct {
	device.Node `yaml:",inline"`
	Access      string `json:"access,omitempty" yaml:"access,omitempty"`
	Error       string `json:"error,omitempty" yaml:"error,omitempty"`
}

// deviceList is the output of the devices command.
type deviceList struct {
	Devices []deviceEntry `json:"devices" yaml:"devices"`

	// Privileges are elevated capabilities the process holds. None are
	// needed.
	Privileges []string `json:"privileges,omitempty" yaml:"privileges,omitempty"`
}

func (d *Devices) run(conf *config.Config, env *Env) error {
	s := newSession(conf, env)
	nodes, err := s.manager.Scan()
	if err != nil {
		return err
	}

	format := d.format
	if format == "" {
		format = conf.Format
	}
	if format == "oci" {
		devs := make([]specs.LinuxDevice, 0, len(nodes))
		for _, n := range nodes {
			devs = append(devs, n.OCIDevice())
		}
		return write(env.Out, config.FormatJSON, devs, nil)
	}

	var list deviceList
	for _, n := range nodes {
		e := deviceEntry{Node: n}
		if route, err := s.manager.Access(n); err != nil {
			e.Error = err.Error()
		} else {
			e.Access = route.String()
		}
		list.Devices = append(list.Devices, e)
	}
	if list.Privileges, err = device.Privileges(); err != nil {
		logrus.WithError(err).Debug("reading capabilities")
	}
	if len(list.Privileges) > 0 {
		logrus.Warnf("running with elevated capabilities %s, which iodisco does not need", strings.Join(list.Privileges, ", "))
	}
	return write(env.Out, format, list, list.writeText)
}

func (l deviceList) writeText(w io.Writer) error {
	if len(l.Devices) == 0 {
		_, err := fmt.Fprintln(w, "No GPU device nodes found.")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "PATH\tDEVICE\tMODE\tOWNER\tACCESS\n")
	for _, e := range l.Devices {
		access := e.Access
		if e.Error != "" {
			access = "denied: " + e.Error
		}
		fmt.Fprintf(tw, "%s\t%d:%d\t%v\t%d:%d\t%s\n", e.Path, e.Major, e.Minor, e.Mode.Perm(), e.UID, e.GID, access)
	}
	return tw.Flush()
}
