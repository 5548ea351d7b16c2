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

// Package config holds the configuration of the iodisco command.
//
// Settings are resolved in three layers: built-in defaults, then the TOML
// file named by -config, then flags set on the command line.
package config

import (
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/sirupsen/logrus"

	"iodisco.dev/iodisco/pkg/device"
	"iodisco.dev/iodisco/pkg/dispatch"
	"iodisco.dev/iodisco/pkg/gate"
)

// Output formats.
const (
	FormatText = "text"
	FormatJSON = "json"
	FormatYAML = "yaml"
	FormatCBOR = "cbor"
)

// Config holds every iodisco setting. Fields with a flag tag are bound to
// the flag of that name; toml tags name the config file keys.
type Config struct {
	// ConfigFile is the TOML file read before flags are applied.
	ConfigFile string `flag:"config" toml:"-"`

	// Mode is the operating mode of the session.
	Mode gate.Mode `flag:"mode" toml:"mode"`

	// Devices are the device nodes to use when a command is given none.
	// Empty means every GPU node found by scanning.
	Devices []string `flag:"devices" toml:"devices"`

	// RequiredGroups restricts group access to these groups.
	RequiredGroups []string `flag:"required-groups" toml:"required_groups"`

	// Exclusive takes an advisory lock on each opened node.
	Exclusive bool `flag:"exclusive" toml:"exclusive"`

	// LockDir holds the lock files of exclusive sessions.
	LockDir string `flag:"lock-dir" toml:"lock_dir"`

	// CallTimeout bounds each ioctl.
	CallTimeout time.Duration `flag:"call-timeout" toml:"call_timeout"`

	// MaxCallsPerSecond limits the ioctl rate. Zero is unlimited.
	MaxCallsPerSecond float64 `flag:"max-calls-per-second" toml:"max_calls_per_second"`

	// MaxTotalCalls caps the ioctls of one invocation. Zero is unlimited.
	MaxTotalCalls int64 `flag:"max-total-calls" toml:"max_total_calls"`

	// ReadOnlyRetries is the number of attempts made for read-only
	// queries that fail transiently. Zero and one both mean no retry.
	ReadOnlyRetries int `flag:"read-only-retries" toml:"read_only_retries"`

	// Sandbox installs a seccomp filter admitting only the ioctls the mode
	// authorizes.
	Sandbox bool `flag:"sandbox" toml:"sandbox"`

	Format      string `flag:"format" toml:"format"`
	LogFilename string `flag:"log" toml:"log"`
	LogFormat   string `flag:"log-format" toml:"log_format"`
	Debug       bool   `flag:"debug" toml:"debug"`
}

func (c *Config) validate() error {
	if !c.Mode.Valid() {
		return fmt.Errorf("invalid mode %v", c.Mode)
	}
	switch c.Format {
	case FormatText, FormatJSON, FormatYAML, FormatCBOR:
	default:
		return fmt.Errorf("invalid output format %q, want one of text, json, yaml, cbor", c.Format)
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log format %q, want text or json", c.LogFormat)
	}
	if c.CallTimeout < 0 {
		return fmt.Errorf("call_timeout must not be negative, got %v", c.CallTimeout)
	}
	if c.MaxCallsPerSecond < 0 {
		return fmt.Errorf("max_calls_per_second must not be negative, got %v", c.MaxCallsPerSecond)
	}
	if c.MaxTotalCalls < 0 {
		return fmt.Errorf("max_total_calls must not be negative, got %d", c.MaxTotalCalls)
	}
	if c.ReadOnlyRetries < 0 {
		return fmt.Errorf("read_only_retries must not be negative, got %d", c.ReadOnlyRetries)
	}
	return nil
}

// load overlays the TOML file at path. Unknown keys are an error so that a
// misspelt setting is not silently ignored.
func (c *Config) load(path string) error {
	md, err := toml.DecodeFile(path, c)
	if err != nil {
		return fmt.Errorf("reading config file %q: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, k := range undecoded {
			keys = append(keys, k.String())
		}
		return fmt.Errorf("config file %q: unknown keys %s", path, strings.Join(keys, ", "))
	}
	return nil
}

// DispatchOptions returns the dispatcher settings of c.
func (c *Config) DispatchOptions() dispatch.Options {
	return dispatch.Options{
		Mode:           c.Mode,
		CallTimeout:    c.CallTimeout,
		CallsPerSecond: c.MaxCallsPerSecond,
		MaxCalls:       c.MaxTotalCalls,
	}
}

// DeviceOptions returns the device manager settings of c.
func (c *Config) DeviceOptions() device.Options {
	return device.Options{
		RequiredGroups: c.RequiredGroups,
		Exclusive:      c.Exclusive,
		LockDir:        c.LockDir,
	}
}

// Log writes every setting at debug level.
func (c *Config) Log() {
	logrus.Debugf("Config:")
	obj := reflect.ValueOf(c).Elem()
	st := obj.Type()
	for i := 0; i < st.NumField(); i++ {
		logrus.Debugf("  %s: %v", st.Field(i).Name, obj.Field(i).Interface())
	}
}
