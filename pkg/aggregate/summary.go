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

package aggregate

import (
	"fmt"
	"math/bits"
	"strings"

	"iodisco.dev/iodisco/pkg/catalog"
	"iodisco.dev/iodisco/pkg/models"
)

// Summary is the human-facing digest of a Report. Zero fields are unknown.
type Summary struct {
	Vendor        string `json:"vendor" yaml:"vendor"`
	Model         string `json:"model,omitempty" yaml:"model,omitempty"`
	Architecture  string `json:"architecture,omitempty" yaml:"architecture,omitempty"`
	Tier          string `json:"tier,omitempty" yaml:"tier,omitempty"`
	Driver        string `json:"driver,omitempty" yaml:"driver,omitempty"`
	DriverVersion string `json:"driver_version,omitempty" yaml:"driver_version,omitempty"`
	DriverBuild   string `json:"driver_build,omitempty" yaml:"driver_build,omitempty"`
	GPUID         uint64 `json:"gpu_id,omitempty" yaml:"gpu_id,omitempty"`

	Cores    int    `json:"cores,omitempty" yaml:"cores,omitempty"`
	CoreMask uint64 `json:"core_mask,omitempty" yaml:"core_mask,omitempty"`
	L2Slices int    `json:"l2_slices,omitempty" yaml:"l2_slices,omitempty"`
	L2Bytes  uint64 `json:"l2_bytes,omitempty" yaml:"l2_bytes,omitempty"`
	GMEM     uint64 `json:"gmem_bytes,omitempty" yaml:"gmem_bytes,omitempty"`
	BusWidth int    `json:"bus_width,omitempty" yaml:"bus_width,omitempty"`

	// Per core, per cycle.
	EnginesPerCore  int `json:"engines_per_core,omitempty" yaml:"engines_per_core,omitempty"`
	FP32FMAsPerCore int `json:"fp32_fmas_per_core,omitempty" yaml:"fp32_fmas_per_core,omitempty"`
	FP16FMAsPerCore int `json:"fp16_fmas_per_core,omitempty" yaml:"fp16_fmas_per_core,omitempty"`
	TexelsPerCore   int `json:"texels_per_core,omitempty" yaml:"texels_per_core,omitempty"`
	PixelsPerCore   int `json:"pixels_per_core,omitempty" yaml:"pixels_per_core,omitempty"`

	// Whole GPU, per cycle.
	TotalFP32FMAs int `json:"total_fp32_fmas,omitempty" yaml:"total_fp32_fmas,omitempty"`
	TotalFP16FMAs int `json:"total_fp16_fmas,omitempty" yaml:"total_fp16_fmas,omitempty"`
	TotalTexels   int `json:"total_texels,omitempty" yaml:"total_texels,omitempty"`
	TotalPixels   int `json:"total_pixels,omitempty" yaml:"total_pixels,omitempty"`

	Features []string `json:"features,omitempty" yaml:"features,omitempty"`
}

// Summarize derives a Summary from the entries of r. Missing or failed
// entries leave the fields they feed unset.
func Summarize(r Report) Summary {
	s := Summary{Vendor: r.Family.Vendor()}
	switch r.Family {
	case catalog.Mali, catalog.MaliCSF:
		summarizeMali(r, &s)
	case catalog.KGSL:
		summarizeKGSL(r, &s)
	case catalog.DRM:
		summarizeDRM(r, &s)
	}
	if s.Cores > 0 {
		s.TotalFP32FMAs = s.Cores * s.FP32FMAsPerCore
		s.TotalFP16FMAs = s.Cores * s.FP16FMAsPerCore
		s.TotalTexels = s.Cores * s.TexelsPerCore
		s.TotalPixels = s.Cores * s.PixelsPerCore
	}
	return s
}

func uintOf(vals catalog.Values, name string) (uint64, bool) {
	v, ok := vals[name].(uint64)
	return v, ok
}

func stringOf(vals catalog.Values, name string) string {
	v, _ := vals[name].(string)
	return v
}

var maliCoherency = map[uint64]string{
	0:  "coherency-ace-lite",
	1:  "coherency-ace",
	31: "coherency-none",
}

func summarizeMali(r Report, s *Summary) {
	s.Driver = "kbase"
	if !r.Version.IsZero() {
		s.DriverVersion = r.Version.String()
	}
	s.DriverBuild = stringOf(r.Values("GET_DDK_VERSION"), "version")
	if r.Family == catalog.MaliCSF {
		s.Features = append(s.Features, "csf")
	} else {
		s.Features = append(s.Features, "job-manager")
	}

	props := r.Values("GET_GPUPROPS")
	if props == nil {
		return
	}
	s.GPUID, _ = uintOf(props, "raw_gpu_id")
	if mask, ok := uintOf(props, "raw_shader_present"); ok {
		s.CoreMask = mask
		s.Cores = bits.OnesCount64(mask)
	}
	if n, ok := uintOf(props, "l2_num_l2_slices"); ok {
		s.L2Slices = int(n)
		if log2, ok := uintOf(props, "l2_log2_cache_size"); ok && log2 < 64 {
			s.L2Bytes = n << log2
		}
	}
	if f, ok := uintOf(props, "raw_l2_features"); ok {
		if log2 := f >> 24 & 0xff; log2 > 0 && log2 < 31 {
			s.BusWidth = 1 << log2
		}
	}
	if mode, ok := uintOf(props, "raw_coherency_mode"); ok {
		if name, ok := maliCoherency[mode]; ok {
			s.Features = append(s.Features, name)
		}
	}
	if n, ok := uintOf(props, "num_exec_engines"); ok && n > 0 {
		s.EnginesPerCore = int(n)
	}

	pid, ok := uintOf(props, "product_id")
	if !ok {
		return
	}
	m, ok := models.IdentifyMali(uint32(pid), s.Cores)
	if !ok {
		s.Model = fmt.Sprintf("Mali (product %#04x)", pid)
		return
	}
	s.Model = m.Name
	s.Architecture = m.Architecture
	s.Tier = m.Tier
	if s.EnginesPerCore == 0 {
		s.EnginesPerCore = m.ExecutionEngines
	}
	s.FP32FMAsPerCore = s.EnginesPerCore * m.FMAPerEngine
	s.FP16FMAsPerCore = 2 * s.FP32FMAsPerCore
	s.TexelsPerCore = m.TexelsPerCycle
	s.PixelsPerCore = m.PixelsPerCycle
}

func summarizeKGSL(r Report, s *Summary) {
	s.Driver = "kgsl"
	if !r.Version.IsZero() {
		s.DriverVersion = r.Version.String()
	}
	if info := r.Values("GETPROPERTY.DEVICE_INFO"); info != nil {
		chip, _ := uintOf(info, "chip_id")
		s.GPUID = chip
		a, _ := models.DecodeAdreno(uint32(chip))
		s.Model = a.String()
		s.Architecture = a.Generation
		s.GMEM, _ = uintOf(info, "gmem_sizebytes")
		if mmu, ok := uintOf(info, "mmu_enabled"); ok && mmu != 0 {
			s.Features = append(s.Features, "mmu")
		}
	}
	if name := stringOf(r.Values("GETPROPERTY.GPU_MODEL"), "gpu_model"); name != "" {
		s.Model = name
	}
	if n, ok := uintOf(r.Values("GETPROPERTY.UBWC_MODE"), "value"); ok && n > 0 {
		s.Features = append(s.Features, fmt.Sprintf("ubwc-%d", n))
	}
	if n, ok := uintOf(r.Values("GETPROPERTY.DEVICE_BITNESS"), "value"); ok && n > 0 {
		s.Features = append(s.Features, fmt.Sprintf("%d-bit", n))
	}
}

var drmVendors = map[string]string{
	"panfrost": "ARM",
	"panthor":  "ARM",
	"lima":     "ARM",
	"msm":      "Qualcomm",
	"i915":     "Intel",
	"xe":       "Intel",
	"amdgpu":   "AMD",
	"radeon":   "AMD",
	"nouveau":  "NVIDIA",
	"v3d":      "Broadcom",
	"vc4":      "Broadcom",
}

func summarizeDRM(r Report, s *Summary) {
	s.Driver = stringOf(r.Identity, "name")
	if v, ok := drmVendors[s.Driver]; ok {
		s.Vendor = v
	}
	s.Model = stringOf(r.Identity, "desc")
	if major, ok := uintOf(r.Identity, "version_major"); ok {
		minor, _ := uintOf(r.Identity, "version_minor")
		patch, _ := uintOf(r.Identity, "version_patchlevel")
		s.DriverVersion = fmt.Sprintf("%d.%d.%d", major, minor, patch)
	}
	s.DriverBuild = stringOf(r.Identity, "date")
	for _, e := range r.Entries {
		name, ok := strings.CutPrefix(e.Name, "GET_CAP.")
		if !ok || !e.OK() {
			continue
		}
		if v, _ := uintOf(e.Values, "value"); v != 0 {
			s.Features = append(s.Features, strings.ToLower(name))
		}
	}
}
