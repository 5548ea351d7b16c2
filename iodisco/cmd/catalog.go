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

	"iodisco.dev/iodisco/iodisco/config"
	"iodisco.dev/iodisco/pkg/catalog"
	"iodisco.dev/iodisco/pkg/gate"
)

// Catalog implements subcommands.Command for the "catalog" command.
type Catalog struct {
	family string
}

// Name implements subcommands.Command.Name.
func (*Catalog) Name() string {
	return "catalog"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Catalog) Synopsis() string {
	return "list the catalogued operations and whether the mode authorizes them"
}

// Usage implements subcommands.Command.Usage.
func (*Catalog) Usage() string {
	return `catalog [flags] - list the catalogued operations.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (c *Catalog) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.family, "family", "", "only list operations of this family: mali, mali-csf, kgsl, drm.")
}

// Execute implements subcommands.Command.Execute.
func (c *Catalog) Execute(_ context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() != 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	conf, env := fromArgs(args)
	if err := c.run(conf, env); err != nil {
		Fatalf("%v", err)
	}
	return subcommands.ExitSuccess
}

// catalogEntry is one listed operation.
type catalogEntry struct {
	Family     catalog.Family `json:"family" yaml:"family"`
	Name       string         `json:"name" yaml:"name"`
	Opcode     catalog.Opcode `json:"opcode" yaml:"opcode"`
	Tier       catalog.Tier   `json:"tier" yaml:"tier"`
	Since      string         `json:"since,omitempty" yaml:"since,omitempty"`
	Until      string         `json:"until,omitempty" yaml:"until,omitempty"`
	Summary    string         `json:"summary,omitempty" yaml:"summary,omitempty"`
	Authorized bool           `json:"authorized" yaml:"authorized"`
	Reason     string         `json:"reason" yaml:"reason"`
}

func (c *Catalog) run(conf *config.Config, env *Env) error {
	cat := catalog.Default()
	descs := cat.All()
	if c.family != "" {
		f, err := catalog.ParseFamily(c.family)
		if err != nil {
			return err
		}
		descs = cat.InFamily(f)
	}

	entries := make([]catalogEntry, 0, len(descs))
	for _, d := range descs {
		dec := gate.Authorize(d, conf.Mode)
		e := catalogEntry{
			Family:     d.Family,
			Name:       d.Name,
			Opcode:     d.Opcode,
			Tier:       d.Tier,
			Summary:    d.Summary,
			Authorized: dec.Allowed,
			Reason:     dec.Reason,
		}
		if !d.MinVersion.IsZero() {
			e.Since = d.MinVersion.String()
		}
		if !d.MaxVersion.IsZero() {
			e.Until = d.MaxVersion.String()
		}
		entries = append(entries, e)
	}
	return write(env.Out, conf.Format, entries, func(w io.Writer) error {
		return writeCatalogText(w, conf.Mode, entries)
	})
}

func writeCatalogText(w io.Writer, mode gate.Mode, entries []catalogEntry) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "FAMILY\tNAME\tOPCODE\tTIER\tSINCE\t%s\n", mode)
	for _, e := range entries {
		allowed := "denied"
		if e.Authorized {
			allowed = "allowed"
		}
		fmt.Fprintf(tw, "%v\t%s\t%v\t%v\t%s\t%s\n", e.Family, e.Name, e.Opcode, e.Tier, e.Since, allowed)
	}
	return tw.Flush()
}
