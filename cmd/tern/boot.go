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

package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/google/subcommands"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"

	"github.com/tern-os/tern/pkg/abi"
	"github.com/tern-os/tern/pkg/gate"
	"github.com/tern-os/tern/pkg/sys"
	"github.com/tern-os/tern/pkg/thread"
)

// bootConfig is the TOML boot manifest.
type bootConfig struct {
	// Apps are the user programs init starts, in order. Each must name a
	// registered application.
	Apps []string `toml:"apps"`

	// Banner is what the hello program writes to the console.
	Banner string `toml:"banner"`

	// ConsoleInput is queued as terminal input before boot, for echo.
	ConsoleInput string `toml:"console_input"`

	// TimerSliceMS is the tick interval driving preemption; 0 disables
	// the timer.
	TimerSliceMS int `toml:"timer_slice_ms"`
}

func defaultBootConfig() bootConfig {
	return bootConfig{
		Apps:         []string{"hello", "echo", "uptime"},
		Banner:       "tern: kernel execution core demo\n",
		ConsoleInput: "echoed through the read syscall\n",
		TimerSliceMS: 5,
	}
}

// Boot implements subcommands.Command for the "boot" command.
type Boot struct {
	configPath string
}

// Name implements subcommands.Command.Name.
func (*Boot) Name() string {
	return "boot"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Boot) Synopsis() string {
	return "boot the emulated kernel and run the configured thread set"
}

// Usage implements subcommands.Command.Usage.
func (*Boot) Usage() string {
	return `boot [--config <manifest.toml>] - boot the emulated kernel
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (b *Boot) SetFlags(f *flag.FlagSet) {
	f.StringVar(&b.configPath, "config", "", "path to a TOML boot manifest; empty uses the built-in demo set")
}

// Execute implements subcommands.Command.Execute.
func (b *Boot) Execute(ctx context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	cfg := defaultBootConfig()
	if b.configPath != "" {
		if _, err := toml.DecodeFile(b.configPath, &cfg); err != nil {
			logrus.Errorf("boot: %v", errors.Wrapf(err, "loading manifest %q", b.configPath))
			return subcommands.ExitFailure
		}
	}
	if err := b.boot(ctx, cfg); err != nil {
		logrus.Errorf("boot: %v", err)
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}

func (b *Boot) boot(ctx context.Context, cfg bootConfig) error {
	engine := thread.NewEngine()
	kernel := sys.NewKernel(sys.Options{Threads: engine, Space: engine.Space()})
	engine.Install(sys.NewTable(kernel, sys.DefaultHandlers()))

	registerApps(engine, kernel, cfg)
	kernel.Console.QueueInput([]byte(cfg.ConsoleInput))

	ctx, cancel := signal.NotifyContext(ctx, unix.SIGINT, unix.SIGTERM)
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer cancel() // the machine is done; stop the tick source
		if err := engine.Run(func(init *thread.Context) {
			bootThread(init, kernel, cfg)
		}); err != nil {
			return errors.Wrap(err, "engine")
		}
		return nil
	})
	if cfg.TimerSliceMS > 0 {
		g.Go(func() error {
			tick := time.NewTicker(time.Duration(cfg.TimerSliceMS) * time.Millisecond)
			defer tick.Stop()
			for {
				select {
				case <-ctx.Done():
					return nil
				case <-tick.C:
					engine.CPU().Pend(gate.Timer)
				}
			}
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	fmt.Fprintf(os.Stdout, "--- console ---\n%s", kernel.Console.Contents())
	logrus.Infof("boot complete: uptime %dms", kernel.Clock.SystemTimeMillis())
	return nil
}

// bootThread is init: start every configured application through the real
// ApplicationStart syscall and join each one.
func bootThread(init *thread.Context, kernel *sys.Kernel, cfg bootConfig) {
	nameBuf := uint64(0x1000)
	for _, app := range cfg.Apps {
		kernel.Mem.CopyOut(nameBuf, []byte(app))
		id := init.Syscall(abi.ApplicationStart, nameBuf, uint64(len(app)), 0)
		if _, err := abi.DecodeResult(id); err != nil {
			logrus.Warnf("starting %q: %v", app, err)
			continue
		}
		logrus.Debugf("started %q as thread %d", app, id)
		if ret := init.Syscall(abi.ThreadJoin, uint64(id), 0, 0); ret != 0 {
			logrus.Warnf("joining %q: ret %d", app, ret)
		}
	}
}

// registerApps installs the demo user programs. Each talks to the kernel
// exclusively through system calls.
func registerApps(engine *thread.Engine, kernel *sys.Kernel, cfg bootConfig) {
	// hello writes the banner to stdout.
	engine.RegisterApp("hello", func(ctx *thread.Context) {
		buf := uint64(0x2000)
		kernel.Mem.CopyOut(buf, []byte(cfg.Banner))
		ctx.Syscall(abi.Write, 1, buf, uint64(len(cfg.Banner)))
	})

	// echo copies console input to stdout until end of input.
	engine.RegisterApp("echo", func(ctx *thread.Context) {
		buf := uint64(0x3000)
		for {
			n := ctx.Syscall(abi.Read, 0, buf, 64)
			if n <= 0 {
				return
			}
			ctx.Syscall(abi.Write, 1, buf, uint64(n))
			ctx.Syscall(abi.ThreadSwitch, 0, 0, 0)
		}
	})

	// uptime sleeps a few slices and reports milliseconds since boot.
	engine.RegisterApp("uptime", func(ctx *thread.Context) {
		ctx.Syscall(abi.ThreadSleep, 20, 0, 0)
		ms := ctx.Syscall(abi.GetSystemTime, 0, 0, 0)
		line := fmt.Sprintf("uptime: %dms\n", ms)
		buf := uint64(0x4000)
		kernel.Mem.CopyOut(buf, []byte(line))
		ctx.Syscall(abi.Write, 1, buf, uint64(len(line)))
	})

	// spin burns slices cooperatively, demonstrating timer preemption.
	engine.RegisterApp("spin", func(ctx *thread.Context) {
		for i := 0; i < 100; i++ {
			ctx.Checkpoint()
		}
	})
}
