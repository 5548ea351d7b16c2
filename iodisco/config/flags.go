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

package config

import (
	"flag"
	"fmt"
	"reflect"
	"strings"
	"time"

	"iodisco.dev/iodisco/pkg/device"
	"iodisco.dev/iodisco/pkg/gate"
)

// stringList is a comma separated flag value.
type stringList []string

func (l *stringList) String() string {
	return strings.Join(*l, ",")
}

// Set implements flag.Value.
func (l *stringList) Set(s string) error {
	*l = nil
	for _, v := range strings.Split(s, ",") {
		if v = strings.TrimSpace(v); v != "" {
			*l = append(*l, v)
		}
	}
	return nil
}

// Get implements flag.Getter.
func (l *stringList) Get() any {
	return append([]string(nil), *l...)
}

// RegisterFlags registers every configuration flag with flagSet.
func RegisterFlags(flagSet *flag.FlagSet) {
	flagSet.String("config", "", "TOML configuration file, applied before flags.")

	// Session flags.
	mode := gate.MinimalSafe
	flagSet.Var(&mode, "mode", "operating mode: minimal-safe (default), experimental, professional.")
	flagSet.Var(&stringList{}, "devices", "comma-separated device nodes to use when a command names none. Empty scans for GPU nodes.")
	groups := stringList(device.DefaultRequiredGroups)
	flagSet.Var(&groups, "required-groups", "comma-separated groups through which device access is accepted. Empty accepts any owning group.")
	flagSet.Bool("exclusive", false, "hold an advisory lock on each device for the whole session.")
	flagSet.String("lock-dir", "", "directory for exclusive session lock files, default is $TMPDIR/iodisco.")
	flagSet.Bool("sandbox", false, "confine ioctl(2) to the requests the mode authorizes with a seccomp filter.")

	// Dispatch flags.
	flagSet.Duration("call-timeout", 5*time.Second, "bound on each ioctl; 0 waits forever.")
	flagSet.Float64("max-calls-per-second", 0, "ioctl rate limit; 0 is unlimited.")
	flagSet.Int64("max-total-calls", 0, "ioctl budget of the invocation; 0 is unlimited.")
	flagSet.Int("read-only-retries", 0, "attempts for read-only queries failing transiently; 0 or 1 disables retries.")

	// Output and logging flags.
	flagSet.String("format", FormatText, "output format: text (default), json, yaml, cbor.")
	flagSet.String("log", "", "file path where logs are written, default is stderr.")
	flagSet.String("log-format", "text", "log format: text (default), json.")
	flagSet.Bool("debug", false, "enable debug logging.")
}

// NewFromFlags builds a Config from the flags registered by RegisterFlags:
// flag defaults, overlaid by the -config file, overlaid by flags set on
// the command line.
func NewFromFlags(flagSet *flag.FlagSet) (*Config, error) {
	conf := &Config{}
	if err := conf.setFlags(flagSet, flagSet.VisitAll); err != nil {
		return nil, err
	}
	if conf.ConfigFile != "" {
		if err := conf.load(conf.ConfigFile); err != nil {
			return nil, err
		}
	}
	if err := conf.setFlags(flagSet, flagSet.Visit); err != nil {
		return nil, err
	}
	if err := conf.validate(); err != nil {
		return nil, err
	}
	return conf, nil
}

// setFlags copies the flags enumerated by visit into the fields bound to
// them.
func (c *Config) setFlags(flagSet *flag.FlagSet, visit func(func(*flag.Flag))) error {
	obj := reflect.ValueOf(c).Elem()
	st := obj.Type()
	fields := make(map[string]int)
	for i := 0; i < st.NumField(); i++ {
		name, ok := st.Field(i).Tag.Lookup("flag")
		if !ok {
			continue
		}
		if flagSet.Lookup(name) == nil {
			panic(fmt.Sprintf("Flag %q not found", name))
		}
		fields[name] = i
	}
	var err error
	visit(func(fl *flag.Flag) {
		i, ok := fields[fl.Name]
		if !ok || err != nil {
			return
		}
		getter, ok := fl.Value.(flag.Getter)
		if !ok {
			err = fmt.Errorf("flag %q cannot be read back", fl.Name)
			return
		}
		x := reflect.ValueOf(getter.Get())
		if !x.Type().AssignableTo(st.Field(i).Type) {
			err = fmt.Errorf("flag %q holds %v, field %s is %v", fl.Name, x.Type(), st.Field(i).Name, st.Field(i).Type)
			return
		}
		obj.Field(i).Set(x)
	})
	return err
}
