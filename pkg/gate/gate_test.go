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

package gate

import (
	"errors"
	"flag"
	"testing"

	"github.com/BurntSushi/toml"
	"iodisco.dev/iodisco/pkg/abi/kbase"
	"iodisco.dev/iodisco/pkg/abi/kgsl"
	"iodisco.dev/iodisco/pkg/catalog"
	"iodisco.dev/iodisco/pkg/gpuerr"
	"iodisco.dev/iodisco/pkg/seccomp"
)

func desc(tier catalog.Tier) catalog.Descriptor {
	return catalog.Descriptor{Family: catalog.Mali, Name: "TEST", Tier: tier}
}

func TestAuthorizeLadder(t *testing.T) {
	for _, tc := range []struct {
		tier catalog.Tier
		mode Mode
		want bool
	}{
		{catalog.ReadOnlyQuery, MinimalSafe, true},
		{catalog.ReadOnlyQuery, Experimental, true},
		{catalog.ReadOnlyQuery, Professional, true},
		{catalog.Experimental, MinimalSafe, false},
		{catalog.Experimental, Experimental, true},
		{catalog.Experimental, Professional, true},
		{catalog.StateAltering, MinimalSafe, false},
		{catalog.StateAltering, Experimental, false},
		{catalog.StateAltering, Professional, true},
		{catalog.Tier(0), Professional, false},
		{catalog.Tier(9), Professional, false},
		{catalog.ReadOnlyQuery, Mode(7), false},
		{catalog.ReadOnlyQuery, Mode(-1), false},
	} {
		dec := Authorize(desc(tc.tier), tc.mode)
		if dec.Allowed != tc.want {
			t.Errorf("Authorize(%v, %v) = %+v, want allowed %t", tc.tier, tc.mode, dec, tc.want)
		}
		if dec.Reason == "" {
			t.Errorf("Authorize(%v, %v) gave no reason", tc.tier, tc.mode)
		}
	}
}

func TestAuthorizeDeterministic(t *testing.T) {
	d := desc(catalog.StateAltering)
	first := Authorize(d, Experimental)
	for i := 0; i < 10; i++ {
		if got := Authorize(d, Experimental); got != first {
			t.Fatalf("Authorize changed its answer: %+v then %+v", first, got)
		}
	}
}

// Every tier permitted in a mode stays permitted in more permissive modes.
func TestModesAreNested(t *testing.T) {
	tiers := []catalog.Tier{catalog.ReadOnlyQuery, catalog.Experimental, catalog.StateAltering}
	modes := Modes()
	for i := 1; i < len(modes); i++ {
		for _, tier := range tiers {
			if modes[i-1].Permits(tier) && !modes[i].Permits(tier) {
				t.Errorf("%v permits %v but %v does not", modes[i-1], tier, modes[i])
			}
		}
	}
}

func TestDecisionErr(t *testing.T) {
	d := desc(catalog.StateAltering)
	err := Authorize(d, MinimalSafe).Err(d)
	if !errors.Is(err, gpuerr.ModeViolation) {
		t.Errorf("denied decision error = %v, want ModeViolation", err)
	}
	if err := Authorize(d, Professional).Err(d); err != nil {
		t.Errorf("allowed decision error = %v, want nil", err)
	}
}

func TestParseMode(t *testing.T) {
	for s, want := range map[string]Mode{
		"":             MinimalSafe,
		"minimal-safe": MinimalSafe,
		"Experimental": Experimental,
		"professional": Professional,
	} {
		got, err := ParseMode(s)
		if err != nil {
			t.Errorf("ParseMode(%q): %v", s, err)
			continue
		}
		if got != want {
			t.Errorf("ParseMode(%q) = %v, want %v", s, got, want)
		}
	}
	if _, err := ParseMode("root"); err == nil {
		t.Errorf("ParseMode(\"root\") succeeded")
	}
}

func TestModeFlagAndTOML(t *testing.T) {
	var m Mode
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	fs.Var(&m, "mode", "")
	if err := fs.Parse([]string{"-mode=experimental"}); err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if m != Experimental {
		t.Errorf("flag mode = %v, want experimental", m)
	}

	var conf struct {
		Mode Mode `toml:"mode"`
	}
	if _, err := toml.Decode(`mode = "professional"`, &conf); err != nil {
		t.Fatalf("toml.Decode: %v", err)
	}
	if conf.Mode != Professional {
		t.Errorf("toml mode = %v, want professional", conf.Mode)
	}
	if _, err := toml.Decode(`mode = "sudo"`, &conf); err == nil {
		t.Errorf("toml.Decode accepted an unknown mode")
	}
}

func TestAuthorizedDefaultCatalog(t *testing.T) {
	c := catalog.Default()
	for _, d := range Authorized(c, MinimalSafe) {
		if d.Tier != catalog.ReadOnlyQuery {
			t.Errorf("%v (%v) authorized in minimal-safe mode", d, d.Tier)
		}
	}
	if got, want := len(Authorized(c, Professional)), c.Len(); got != want {
		t.Errorf("professional mode authorizes %d of %d entries", got, want)
	}
}

func TestRequestRule(t *testing.T) {
	c := catalog.Default()
	safe := RequestRule(c, MinimalSafe)
	pro := RequestRule(c, Professional)
	for _, tc := range []struct {
		req        uint32
		safe, prof bool
	}{
		{kbase.KBASE_IOCTL_GET_GPUPROPS, true, true},
		{kgsl.IOCTL_KGSL_DEVICE_GETPROPERTY, true, true},
		{kbase.KBASE_IOCTL_MEM_ALLOC, false, true},
		{kgsl.IOCTL_KGSL_SETPROPERTY, false, true},
		{0xc0048099, false, false},
	} {
		if got := seccomp.Matches(safe, tc.req); got != tc.safe {
			t.Errorf("minimal-safe rule matches %#x = %t, want %t", tc.req, got, tc.safe)
		}
		if got := seccomp.Matches(pro, tc.req); got != tc.prof {
			t.Errorf("professional rule matches %#x = %t, want %t", tc.req, got, tc.prof)
		}
	}
}
