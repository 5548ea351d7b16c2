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

package models

import "fmt"

// Adreno is a decoded KGSL chip id. Chip ids are laid out as 0xCCMMmmPP:
// core, major, minor and patch revision.
type Adreno struct {
	ChipID     uint32 `json:"chip_id"`
	Core       int    `json:"core"`
	Major      int    `json:"major"`
	Minor      int    `json:"minor"`
	Patch      int    `json:"patch"`
	Name       string `json:"name"`
	Generation string `json:"generation"`
}

var adrenoGenerations = map[int]string{
	2: "A2xx (Yamato)",
	3: "A3xx",
	4: "A4xx",
	5: "A5xx",
	6: "A6xx",
	7: "A7xx",
	8: "A8xx",
}

// DecodeAdreno decodes chipID. It returns false for ids that do not follow
// the core/major/minor/patch layout, such as the opaque ids of recent
// parts.
func DecodeAdreno(chipID uint32) (Adreno, bool) {
	a := Adreno{
		ChipID: chipID,
		Core:   int(chipID >> 24 & 0xff),
		Major:  int(chipID >> 16 & 0xff),
		Minor:  int(chipID >> 8 & 0xff),
		Patch:  int(chipID & 0xff),
	}
	gen, ok := adrenoGenerations[a.Core]
	if !ok || a.Major > 9 || a.Minor > 9 {
		return Adreno{ChipID: chipID}, false
	}
	a.Generation = gen
	a.Name = fmt.Sprintf("Adreno %d%d%d", a.Core, a.Major, a.Minor)
	return a, true
}

// String implements fmt.Stringer.
func (a Adreno) String() string {
	if a.Name == "" {
		return fmt.Sprintf("Adreno (chip id %#08x)", a.ChipID)
	}
	return a.Name
}
