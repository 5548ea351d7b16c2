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

// Package cmd holds implementations of the iodisco commands.
package cmd

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"

	"iodisco.dev/iodisco/iodisco/config"
	"iodisco.dev/iodisco/pkg/catalog"
	"iodisco.dev/iodisco/pkg/device"
	"iodisco.dev/iodisco/pkg/dispatch"
	"iodisco.dev/iodisco/pkg/gpuerr"
)

// ErrorLogger is where error messages should be written to. These messages
// are consumed by the user in addition to stderr.
var ErrorLogger io.Writer

// Fatalf logs to stderr and to ErrorLogger, then exits.
func Fatalf(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	logrus.Error(msg)
	fmt.Fprintln(os.Stderr, "iodisco: "+msg)
	if ErrorLogger != nil {
		fmt.Fprintln(ErrorLogger, msg)
	}
	os.Exit(128)
}

// Env is the host a command runs against. Commands receive it as their
// second Execute argument, after the *config.Config.
type Env struct {
	Kernel dispatch.Kernel
	System device.System

	// Root is the root of the device tree to scan.
	Root string

	Out io.Writer
}

// HostEnv returns the Env of the running process.
func HostEnv() *Env {
	return &Env{
		Kernel: dispatch.Syscalls{},
		System: device.Host{},
		Root:   "/",
		Out:    os.Stdout,
	}
}

// fromArgs unpacks the Execute arguments.
func fromArgs(args []any) (*config.Config, *Env) {
	conf := args[0].(*config.Config)
	env := HostEnv()
	if len(args) > 1 {
		env = args[1].(*Env)
	}
	return conf, env
}

// session bundles the services of one invocation.
type session struct {
	conf       *config.Config
	env        *Env
	catalog    *catalog.Catalog
	dispatcher *dispatch.Dispatcher
	manager    *device.Manager
}

func newSession(conf *config.Config, env *Env) *session {
	c := catalog.Default()
	d := dispatch.New(env.Kernel, conf.DispatchOptions())
	opts := conf.DeviceOptions()
	opts.Root = env.Root
	opts.System = env.System
	return &session{
		conf:       conf,
		env:        env,
		catalog:    c,
		dispatcher: d,
		manager:    device.NewManager(d, c, opts),
	}
}

// paths returns the devices named on the command line, else the configured
// devices, else every GPU node found.
func (s *session) paths(args []string) ([]string, error) {
	if len(args) > 0 {
		return args, nil
	}
	if len(s.conf.Devices) > 0 {
		return s.conf.Devices, nil
	}
	nodes, err := s.manager.Scan()
	if err != nil {
		return nil, err
	}
	var paths []string
	for _, n := range nodes {
		paths = append(paths, n.Path)
	}
	if len(paths) == 0 {
		return nil, gpuerr.New(gpuerr.DeviceNotFound, "scan", "no GPU device nodes found under %s", s.env.Root)
	}
	return paths, nil
}

// dispatch runs desc, retrying read-only queries if configured to.
func (s *session) dispatch(ctx context.Context, h dispatch.Handle, desc catalog.Descriptor, args catalog.Args) dispatch.Result {
	if s.conf.ReadOnlyRetries > 1 && desc.Tier == catalog.ReadOnlyQuery {
		return s.dispatcher.RetryReadOnly(ctx, h, desc, args, s.conf.ReadOnlyRetries)
	}
	return s.dispatcher.Dispatch(ctx, h, desc, args)
}

// logStats writes the dispatcher counters at debug level.
func (s *session) logStats() {
	st := s.dispatcher.Stats()
	logrus.WithFields(logrus.Fields{
		"calls":     st.Calls,
		"denied":    st.Denied,
		"failed":    st.Failed,
		"abandoned": st.Abandoned,
	}).Debug("dispatch statistics")
}
