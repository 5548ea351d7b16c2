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

// Package models identifies GPU products from the identifiers their drivers
// report.
package models

import (
	_ "embed"
	"fmt"
	"sync"

	"gopkg.in/yaml.v3"
)

//go:embed mali.yaml
var maliTable []byte

// Mali is one Mali product.
type Mali struct {
	ID       uint32 `yaml:"id" json:"-"`
	IDMask   uint32 `yaml:"id_mask" json:"-"`
	MinCores int    `yaml:"min_cores" json:"-"`

	Name         string `yaml:"name" json:"name"`
	Architecture string `yaml:"architecture" json:"architecture"`
	Tier         string `yaml:"tier" json:"tier"`

	// Per core.
	ExecutionEngines int `yaml:"execution_engines" json:"execution_engines"`
	FMAPerEngine     int `yaml:"fma_per_engine" json:"fma_per_engine"`
	TexelsPerCycle   int `yaml:"texels_per_cycle" json:"texels_per_cycle"`
	PixelsPerCycle   int `yaml:"pixels_per_cycle" json:"pixels_per_cycle"`
}

// FP32FMAsPerCore returns the single precision FMAs a core retires per
// cycle.
func (m Mali) FP32FMAsPerCore() int {
	return m.ExecutionEngines * m.FMAPerEngine
}

// FP16FMAsPerCore returns the half precision FMAs a core retires per cycle.
func (m Mali) FP16FMAsPerCore() int {
	return 2 * m.FP32FMAsPerCore()
}

func (m Mali) matches(productID uint32, cores int) bool {
	return productID&m.IDMask == m.ID&m.IDMask && cores >= m.MinCores
}

var (
	maliOnce   sync.Once
	maliModels []Mali
	maliErr    error
)

func loadMali() ([]Mali, error) {
	maliOnce.Do(func() {
		if err := yaml.Unmarshal(maliTable, &maliModels); err != nil {
			maliErr = fmt.Errorf("parsing Mali model table: %w", err)
			return
		}
		for i, m := range maliModels {
			if m.Name == "" || m.IDMask == 0 || m.MinCores < 1 {
				maliErr = fmt.Errorf("Mali model table entry %d (%q) is incomplete", i, m.Name)
				return
			}
		}
	})
	return maliModels, maliErr
}

// MaliModels returns the known Mali products in match order.
func MaliModels() ([]Mali, error) {
	ms, err := loadMali()
	if err != nil {
		return nil, err
	}
	return append([]Mali(nil), ms...), nil
}

// IdentifyMali returns the first product matching the GPU product id and
// shader core count. Only the low 16 bits of productID are significant.
func IdentifyMali(productID uint32, cores int) (Mali, bool) {
	ms, err := loadMali()
	if err != nil {
		return Mali{}, false
	}
	productID &= 0xffff
	for _, m := range ms {
		if m.matches(productID, cores) {
			return m, true
		}
	}
	return Mali{}, false
}
