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

// Package cli is the main entrypoint for iodisco.
package cli

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"runtime"

	"github.com/google/subcommands"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"iodisco.dev/iodisco/iodisco/cmd"
	"iodisco.dev/iodisco/iodisco/config"
	"iodisco.dev/iodisco/pkg/catalog"
	"iodisco.dev/iodisco/pkg/gate"
	"iodisco.dev/iodisco/pkg/seccomp"
)

// versionFlagName is the name of a flag that triggers printing the version.
const versionFlagName = "version"

// version is set at link time.
var version = "development"

// Main is the main entrypoint.
func Main() {
	// Register all commands.
	forEachCmd(subcommands.Register)

	// Register with the main command line.
	config.RegisterFlags(flag.CommandLine)
	flag.Bool(versionFlagName, false, "show version and exit.")

	// All subcommands must be registered before flag parsing.
	flag.Parse()

	if flag.Lookup(versionFlagName).Value.(flag.Getter).Get().(bool) {
		fmt.Fprintf(os.Stdout, "iodisco version %s\n", version)
		fmt.Fprintf(os.Stdout, "catalog: %d operations\n", catalog.Default().Len())
		os.Exit(0)
	}

	os.Exit(int(execute()))
}

// execute runs the subcommand named on the command line.
func execute() subcommands.ExitStatus {
	// Create a new Config from the flags.
	conf, err := config.NewFromFlags(flag.CommandLine)
	if err != nil {
		cmd.Fatalf("%v", err)
	}

	logOut := io.Writer(os.Stderr)
	if conf.LogFilename != "" {
		f, err := os.OpenFile(conf.LogFilename, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0644)
		if err != nil {
			cmd.Fatalf("error opening log file %q: %v", conf.LogFilename, err)
		}
		defer f.Close()
		logOut = f
		cmd.ErrorLogger = f
	}
	setupLogging(conf, logOut)

	logrus.Infof("iodisco %s, %s, %s/%s, PID %d, UID %d, GID %d", version, runtime.Version(), runtime.GOOS, runtime.GOARCH, os.Getpid(), os.Getuid(), os.Getgid())
	logrus.Infof("Args: %v", os.Args)
	conf.Log()

	// The filter must be in place before any device is opened.
	if conf.Sandbox {
		if err := seccomp.Install(gate.RequestRule(catalog.Default(), conf.Mode)); err != nil {
			cmd.Fatalf("installing seccomp filter: %v", err)
		}
		logrus.Infof("seccomp filter installed for %v mode", conf.Mode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, unix.SIGTERM)
	defer stop()

	// Call the subcommand and pass in the configuration.
	subcmdCode := subcommands.Execute(ctx, conf, cmd.HostEnv())
	if subcmdCode != subcommands.ExitSuccess {
		logrus.Warnf("Failure to execute command, status: %v", subcmdCode)
	}
	return subcmdCode
}

// setupLogging configures the standard logrus logger.
func setupLogging(conf *config.Config, out io.Writer) {
	logrus.SetOutput(out)
	if conf.LogFormat == "json" {
		logrus.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	if conf.Debug {
		logrus.SetLevel(logrus.DebugLevel)
	} else {
		logrus.SetLevel(logrus.WarnLevel)
	}
}

// forEachCmd invokes the passed callback for each command supported by
// iodisco.
func forEachCmd(cb func(cmd subcommands.Command, group string)) {
	// Help and flags commands are generated automatically.
	cb(subcommands.HelpCommand(), "")
	cb(subcommands.FlagsCommand(), "")

	cb(new(cmd.Devices), "")
	cb(new(cmd.Info), "")
	cb(new(cmd.Query), "")
	cb(new(cmd.Discover), "")

	const helperGroup = "helpers"
	cb(new(cmd.Catalog), helperGroup)
}
