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
	"text/tabwriter"

	"github.com/google/subcommands"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"iodisco.dev/iodisco/iodisco/config"
	"iodisco.dev/iodisco/pkg/catalog"
	"iodisco.dev/iodisco/pkg/device"
	"iodisco.dev/iodisco/pkg/gate"
)

// Discover implements subcommands.Command for the "discover" command.
type Discover struct{}

// Name implements subcommands.Command.Name.
func (*Discover) Name() string {
	return "discover"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Discover) Synopsis() string {
	return "probe which catalogued requests the drivers know"
}

// Usage implements subcommands.Command.Usage.
func (*Discover) Usage() string {
	return `discover [device...] - probe which catalogued requests the drivers know.

Every operation of the device's family that the mode authorizes is issued
with a NULL argument. The driver's refusal tells whether it knows the request.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (*Discover) SetFlags(*flag.FlagSet) {}

// Execute implements subcommands.Command.Execute.
func (d *Discover) Execute(ctx context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	conf, env := fromArgs(args)
	if err := d.run(ctx, conf, env, f.Args()); err != nil {
		Fatalf("%v", err)
	}
	return subcommands.ExitSuccess
}

// probeEntry is the probe result of one operation.
type probeEntry struct {
	Name     string         `json:"name" yaml:"name"`
	Opcode   catalog.Opcode `json:"opcode" yaml:"opcode"`
	Tier     catalog.Tier   `json:"tier" yaml:"tier"`
	Presence string         `json:"presence" yaml:"presence"`
	Errno    string         `json:"errno,omitempty" yaml:"errno,omitempty"`
	Error    string         `json:"error,omitempty" yaml:"error,omitempty"`
}

// discovery is the probe results of one device.
type discovery struct {
	Path    string          `json:"path" yaml:"path"`
	Family  catalog.Family  `json:"family,omitempty" yaml:"family,omitempty"`
	Version catalog.Version `json:"version" yaml:"version"`
	Probes  []probeEntry    `json:"probes,omitempty" yaml:"probes,omitempty"`

	// Skipped counts operations the mode does not authorize.
	Skipped int    `json:"skipped" yaml:"skipped"`
	Error   string `json:"error,omitempty" yaml:"error,omitempty"`
}

func (d *Discover) run(ctx context.Context, conf *config.Config, env *Env, args []string) error {
	s := newSession(conf, env)
	defer s.logStats()
	paths, err := s.paths(args)
	if err != nil {
		return err
	}

	var (
		res    []discovery
		failed int
	)
	for _, path := range paths {
		dis := discovery{Path: path}
		err := s.manager.With(ctx, path, func(h *device.Handle) error {
			dis.Family, dis.Version = h.Family(), h.Version()
			for _, desc := range s.catalog.InFamily(h.Family()) {
				if !gate.Authorize(desc, conf.Mode).Allowed {
					dis.Skipped++
					continue
				}
				pr := s.dispatcher.Probe(ctx, h, desc)
				e := probeEntry{Name: pr.Name, Opcode: pr.Opcode, Tier: pr.Tier, Presence: pr.Presence.String()}
				if pr.Errno != 0 {
					e.Errno = unix.ErrnoName(pr.Errno)
				}
				if pr.Err != nil {
					e.Error = pr.Err.Error()
				}
				dis.Probes = append(dis.Probes, e)
				if herr := h.Err(); herr != nil {
					return herr
				}
			}
			return nil
		})
		if err != nil {
			failed++
			dis.Error = err.Error()
			logrus.WithField("path", path).WithError(err).Warn("discovery failed")
		}
		res = append(res, dis)
	}

	if err := write(env.Out, conf.Format, res, func(w io.Writer) error {
		return writeDiscoveryText(w, res)
	}); err != nil {
		return err
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d devices could not be probed", failed, len(paths))
	}
	return nil
}

func writeDiscoveryText(w io.Writer, res []discovery) error {
	for i, dis := range res {
		if i > 0 {
			fmt.Fprintln(w)
		}
		fmt.Fprintf(w, "%s: %v %v\n", dis.Path, dis.Family, dis.Version)
		if dis.Error != "" {
			fmt.Fprintf(w, "Error: %s\n", dis.Error)
		}
		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		for _, e := range dis.Probes {
			detail := e.Errno
			if e.Error != "" {
				detail = e.Error
			}
			fmt.Fprintf(tw, "  %s\t%v\t%v\t%s\t%s\n", e.Name, e.Opcode, e.Tier, e.Presence, detail)
		}
		if err := tw.Flush(); err != nil {
			return err
		}
		if dis.Skipped > 0 {
			fmt.Fprintf(w, "%d operations not authorized in this mode\n", dis.Skipped)
		}
	}
	return nil
}
