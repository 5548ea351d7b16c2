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

// Package aggregate composes dispatched queries into device capability
// reports.
package aggregate

import (
	"context"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"iodisco.dev/iodisco/pkg/catalog"
	"iodisco.dev/iodisco/pkg/device"
	"iodisco.dev/iodisco/pkg/dispatch"
	"iodisco.dev/iodisco/pkg/gpuerr"
)

// Handle is a dispatch.Handle that can report its identification result
// and whether it is still usable.
type Handle interface {
	dispatch.Handle

	// Identity returns the values of the identification probe.
	Identity() catalog.Values

	// Err returns non-nil once the handle can no longer be used.
	Err() error
}

// Aggregator runs query lists against devices.
type Aggregator struct {
	dispatcher *dispatch.Dispatcher
	catalog    *catalog.Catalog
}

// New returns an Aggregator that resolves opcodes in c and runs them
// through d.
func New(d *dispatch.Dispatcher, c *catalog.Catalog) *Aggregator {
	return &Aggregator{dispatcher: d, catalog: c}
}

// Aggregate dispatches queries against h in order. Failed queries,
// including uncatalogued opcodes and operations the mode forbids, are
// recorded in the report. The only fatal failure is h becoming unusable,
// in which case the partial report is returned with the error.
func (a *Aggregator) Aggregate(ctx context.Context, h Handle, queries []catalog.Opcode) (Report, error) {
	b := NewBuilder(h, a.dispatcher.Mode())
	log := logrus.WithField("path", h.Path())
	for _, op := range queries {
		desc, err := a.catalog.Lookup(h.Family(), op)
		if err != nil {
			b.Fail(op.String(), op, err)
			continue
		}
		res := a.dispatcher.Dispatch(ctx, h, desc, nil)
		b.Add(res)
		if res.OK() {
			continue
		}
		log.WithError(res.Err).Debugf("query %s failed", desc.Name)
		if herr := h.Err(); herr != nil {
			return b.Finalize(), gpuerr.Wrap(gpuerr.DeviceError, "aggregate", herr).WithPath(h.Path())
		}
	}
	return b.Finalize(), nil
}

// defaultQueryNames are the queries of an identification report, in
// report order. Mali drivers refuse every query until SET_FLAGS has
// completed the handshake started by the identification probe.
var defaultQueryNames = map[catalog.Family][]string{
	catalog.Mali: {
		"SET_FLAGS",
		"GET_GPUPROPS",
		"GET_DDK_VERSION",
		"GET_CONTEXT_ID",
		"DISJOINT_QUERY",
	},
	catalog.MaliCSF: {
		"SET_FLAGS",
		"GET_GPUPROPS",
		"GET_DDK_VERSION",
		"GET_CONTEXT_ID",
		"CS_GET_GLB_IFACE",
	},
	catalog.KGSL: {
		"GETPROPERTY.DEVICE_INFO",
		"GETPROPERTY.GPU_MODEL",
		"GETPROPERTY.MMU_ENABLE",
		"GETPROPERTY.UCODE_VERSION",
		"GETPROPERTY.GPMU_VERSION",
		"GETPROPERTY.HIGHEST_BANK_BIT",
		"GETPROPERTY.DEVICE_BITNESS",
		"GETPROPERTY.UBWC_MODE",
		"GETPROPERTY.SPEED_BIN",
	},
	catalog.DRM: {
		"GET_UNIQUE",
		"GET_CAP.DUMB_BUFFER",
		"GET_CAP.PRIME",
		"GET_CAP.TIMESTAMP_MONOTONIC",
		"GET_CAP.ADDFB2_MODIFIERS",
		"GET_CAP.SYNCOBJ",
		"GET_CAP.SYNCOBJ_TIMELINE",
	},
}

// DefaultQueries returns the identification queries of family f that a
// driver at version v provides. The identification probe itself is not
// repeated; its result is the handle's identity.
func DefaultQueries(f catalog.Family, v catalog.Version) []catalog.Opcode {
	c := catalog.Default()
	var ops []catalog.Opcode
	for _, name := range defaultQueryNames[f] {
		d, err := c.ByName(f, name)
		if err != nil || !d.AvailableIn(v) {
			continue
		}
		ops = append(ops, d.Opcode)
	}
	return ops
}

// Inspection is the outcome of inspecting one device.
type Inspection struct {
	Path   string
	Report Report
	Err    error
}

// InspectAll opens each path through m and aggregates its default queries,
// one goroutine per device and at most limit at a time (unlimited if
// limit <= 0). Failures are per device; results are in paths order.
func (a *Aggregator) InspectAll(ctx context.Context, m *device.Manager, paths []string, limit int) []Inspection {
	res := make([]Inspection, len(paths))
	var g errgroup.Group
	if limit > 0 {
		g.SetLimit(limit)
	}
	for i, path := range paths {
		i, path := i, path
		g.Go(func() error {
			res[i].Path = path
			res[i].Err = m.With(ctx, path, func(h *device.Handle) error {
				var err error
				res[i].Report, err = a.Aggregate(ctx, h, DefaultQueries(h.Family(), h.Version()))
				return err
			})
			if res[i].Err != nil {
				logrus.WithField("path", path).WithError(res[i].Err).Warn("inspection failed")
			}
			return nil
		})
	}
	g.Wait()
	return res
}
