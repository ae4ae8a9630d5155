// Copyright 2025 The Tern Authors.
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

// Binary tern drives the emulated kernel execution core: boot a thread set
// over the machine, inspect the system call table, print the version.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/google/subcommands"
	"github.com/sirupsen/logrus"

	"github.com/tern-os/tern/pkg/log"
)

var (
	logLevel  = flag.String("log-level", "info", "log verbosity: debug, info or warning")
	logPath   = flag.String("log", "", "file path for machine logs; %TIMESTAMP% and %COMMAND% expand; empty logs to stderr")
	logFormat = flag.String("log-format", "text", `machine log format: "text", "json", or "json-k8s"`)
)

func main() {
	subcommands.Register(subcommands.HelpCommand(), "")
	subcommands.Register(subcommands.FlagsCommand(), "")
	subcommands.Register(new(Boot), "")
	subcommands.Register(new(Syscalls), "")
	subcommands.Register(new(Version), "")

	flag.Parse()

	if err := applyLogLevel(*logLevel); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if err := applyLogTarget(*logPath, *logFormat, flag.Arg(0)); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	os.Exit(int(subcommands.Execute(context.Background())))
}

// applyLogLevel configures both loggers: the in-tree one the machine and
// engine write to, and logrus for operator-facing output.
func applyLogLevel(level string) error {
	switch level {
	case "debug":
		log.SetLevel(log.Debug)
		logrus.SetLevel(logrus.DebugLevel)
	case "info":
		log.SetLevel(log.Info)
		logrus.SetLevel(logrus.InfoLevel)
	case "warning":
		log.SetLevel(log.Warning)
		logrus.SetLevel(logrus.WarnLevel)
	default:
		return fmt.Errorf("invalid log level %q", level)
	}
	return nil
}

// applyLogTarget points the machine logger at the requested destination and
// format. An empty path keeps stderr.
func applyLogTarget(path, format, command string) error {
	var w io.Writer = os.Stderr
	f, err := log.OpenFile(path, command, os.O_WRONLY|os.O_CREATE|os.O_APPEND)
	if err != nil {
		return err
	}
	if f != nil {
		w = f
	}
	e, err := newEmitter(format, w)
	if err != nil {
		return err
	}
	log.SetTarget(e)
	return nil
}

func newEmitter(format string, logFile io.Writer) (log.Emitter, error) {
	switch format {
	case "text":
		return log.GoogleEmitter{Writer: &log.Writer{Next: logFile}}, nil
	case "json":
		return log.JSONEmitter{Writer: &log.Writer{Next: logFile}}, nil
	case "json-k8s":
		return log.K8sJSONEmitter{Writer: &log.Writer{Next: logFile}}, nil
	}
	return nil, fmt.Errorf("invalid log format %q, must be 'text', 'json', or 'json-k8s'", format)
}
