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
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/fxamacker/cbor/v2"
	"gopkg.in/yaml.v3"

	"iodisco.dev/iodisco/iodisco/config"
	"iodisco.dev/iodisco/pkg/aggregate"
	"iodisco.dev/iodisco/pkg/catalog"
)

// cborMode encodes maps with sorted keys so that equal reports encode to
// equal bytes.
var cborMode = func() cbor.EncMode {
	opts := cbor.CoreDetEncOptions()
	opts.Time = cbor.TimeRFC3339Nano
	em, err := opts.EncMode()
	if err != nil {
		panic(fmt.Sprintf("cbor options: %v", err))
	}
	return em
}()

// write renders v in format. Text output is produced by text.
func write(w io.Writer, format string, v any, text func(io.Writer) error) error {
	switch format {
	case config.FormatText:
		return text(w)
	case config.FormatJSON:
		e := json.NewEncoder(w)
		e.SetIndent("", "  ")
		return e.Encode(v)
	case config.FormatYAML:
		e := yaml.NewEncoder(w)
		e.SetIndent(2)
		if err := e.Encode(v); err != nil {
			return err
		}
		return e.Close()
	case config.FormatCBOR:
		return cborMode.NewEncoder(w).Encode(v)
	default:
		return fmt.Errorf("unsupported output format %q", format)
	}
}

// formatValues renders vals as sorted key=value pairs.
func formatValues(vals catalog.Values) string {
	keys := make([]string, 0, len(vals))
	for k := range vals {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var sb strings.Builder
	for i, k := range keys {
		if i > 0 {
			sb.WriteByte(' ')
		}
		switch v := vals[k].(type) {
		case string:
			fmt.Fprintf(&sb, "%s=%q", k, v)
		default:
			fmt.Fprintf(&sb, "%s=%v", k, v)
		}
	}
	return sb.String()
}

func writeReportText(w io.Writer, r aggregate.Report) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "Device:\t%s\n", r.Device)
	fmt.Fprintf(tw, "Driver:\t%v %v\n", r.Family, r.Version)
	fmt.Fprintf(tw, "Mode:\t%v\n", r.Mode)
	fmt.Fprintf(tw, "Session:\t%v\n", r.Session)
	if len(r.Identity) > 0 {
		fmt.Fprintf(tw, "Identity:\t%s\n", formatValues(r.Identity))
	}
	for _, e := range r.Entries {
		if !e.OK() {
			fmt.Fprintf(tw, "  %s\t%v\terror: %s\n", e.Name, e.Opcode, e.Error.Message)
			continue
		}
		fmt.Fprintf(tw, "  %s\t%v\t%s\n", e.Name, e.Opcode, formatValues(e.Values))
	}
	return tw.Flush()
}

func writeSummaryText(w io.Writer, s aggregate.Summary) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	line := func(label string, v any) {
		switch v := v.(type) {
		case string:
			if v == "" {
				return
			}
		case int:
			if v == 0 {
				return
			}
		case uint64:
			if v == 0 {
				return
			}
		}
		fmt.Fprintf(tw, "%s:\t%v\n", label, v)
	}
	line("Vendor", s.Vendor)
	line("Model", s.Model)
	line("Architecture", s.Architecture)
	line("Tier", s.Tier)
	line("Driver", s.Driver)
	line("Driver version", s.DriverVersion)
	line("Driver build", s.DriverBuild)
	if s.GPUID != 0 {
		line("GPU ID", fmt.Sprintf("%#x", s.GPUID))
	}
	line("Shader cores", s.Cores)
	if s.CoreMask != 0 {
		line("Core mask", fmt.Sprintf("%#x", s.CoreMask))
	}
	line("L2 slices", s.L2Slices)
	line("L2 bytes", s.L2Bytes)
	line("GMEM bytes", s.GMEM)
	line("Bus width", s.BusWidth)
	line("FP32 FMA/clk", s.TotalFP32FMAs)
	line("FP16 FMA/clk", s.TotalFP16FMAs)
	line("Texels/clk", s.TotalTexels)
	line("Pixels/clk", s.TotalPixels)
	if len(s.Features) > 0 {
		line("Features", strings.Join(s.Features, ", "))
	}
	return tw.Flush()
}
