// Copyright 2024 The Taskkernel Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//    https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	systemd "github.com/coreos/go-systemd/daemon"
	"github.com/pkg/profile"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli"
	service "gopkg.in/hlandau/service.v1"

	"github.com/oxidecomputer/taskkernel/domain"
	"github.com/oxidecomputer/taskkernel/ipcgrpc"
	"github.com/oxidecomputer/taskkernel/packager"
)

const usage = `humility host simulator + debugger

humility is the host-side counterpart to the target's own debugger
entry point: it simulates a kernel/supervisor pair built from an
app-descriptor TOML and exposes its task table over the same gRPC
surface a real debugger attaches to, so the supervisor and KIPC
surfaces can be exercised without target hardware.
`

func main() {
	app := cli.NewApp()
	app.Name = "humility"
	app.Usage = usage
	app.Version = "0.1.0"

	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "log-level",
			Value: "info",
			Usage: "log categories to include (debug, info, warning, error, fatal)",
		},
	}

	app.Before = func(ctx *cli.Context) error {
		logrus.SetOutput(os.Stderr)
		level, err := logrus.ParseLevel(ctx.GlobalString("log-level"))
		if err != nil {
			return fmt.Errorf("humility: log-level %q not recognized", ctx.GlobalString("log-level"))
		}
		logrus.SetLevel(level)
		return nil
	}

	app.Commands = []cli.Command{
		simCommand(),
		statusCommand(),
		restartCommand(),
		holdCommand(),
	}

	if err := app.Run(os.Args); err != nil {
		logrus.Fatal(err)
	}
}

func simCommand() cli.Command {
	return cli.Command{
		Name:  "sim",
		Usage: "run a host-side kernel/supervisor simulation and serve the debugger control plane",
		Flags: []cli.Flag{
			cli.StringFlag{Name: "config", Usage: "path to a packager app-descriptor TOML", Required: true},
			cli.StringFlag{Name: "addr", Value: "127.0.0.1:9010", Usage: "debugger gRPC listen address"},
			cli.DurationFlag{Name: "tick-step", Value: 10 * time.Millisecond, Usage: "wall-clock interval between simulated ticks (each tick advances by measured elapsed time)"},
			cli.BoolFlag{Name: "cpu-profiling", Hidden: true, Usage: "enable cpu-profiling data collection"},
			cli.BoolFlag{Name: "memory-profiling", Hidden: true, Usage: "enable memory-profiling data collection"},
			cli.BoolFlag{Name: "daemonize", Usage: "run under gopkg.in/hlandau/service.v1's daemonization harness"},
		},
		Action: runSimCommand,
	}
}

func runSimCommand(ctx *cli.Context) error {
	log := logrus.WithField("cmd", "sim")

	configBytes, err := os.ReadFile(ctx.String("config"))
	if err != nil {
		return fmt.Errorf("humility: reading config: %w", err)
	}
	cfg, err := packager.LoadConfig(configBytes, "")
	if err != nil {
		return fmt.Errorf("humility: loading config: %w", err)
	}

	prof, err := runProfiler(ctx)
	if err != nil {
		return err
	}

	sim := newSimulator(cfg, log)

	lis, err := net.Listen("tcp", ctx.String("addr"))
	if err != nil {
		return fmt.Errorf("humility: listening on %s: %w", ctx.String("addr"), err)
	}

	grpcServer := ipcgrpc.NewGRPCServer()
	ipcgrpc.RegisterDebuggerServer(grpcServer, ipcgrpc.NewServer(sim.kernel.Kipc(0), sim.setDisposition))

	runCtx, cancel := context.WithCancel(context.Background())

	runLoop := func() error {
		go tickForever(runCtx, sim, ctx.Duration("tick-step"))

		serveErr := make(chan error, 1)
		go func() { serveErr <- grpcServer.Serve(lis) }()

		exitChan := make(chan os.Signal, 1)
		signal.Notify(exitChan, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

		systemd.SdNotify(false, systemd.SdNotifyReady)
		log.Infof("humility sim listening on %s", ctx.String("addr"))

		select {
		case s := <-exitChan:
			log.Warnf("humility caught signal: %s", s)
		case err := <-serveErr:
			if err != nil {
				log.Errorf("grpc server exited: %v", err)
			}
		case <-runCtx.Done():
		}

		systemd.SdNotify(false, systemd.SdNotifyStopping)
		cancel()
		grpcServer.GracefulStop()
		if prof != nil {
			prof.Stop()
		}
		return nil
	}

	if !ctx.Bool("daemonize") {
		return runLoop()
	}

	service.Main(&service.Info{
		Name:        "humility",
		Description: "taskkernel host simulator",
		RunFunc: func(smgr service.Manager) error {
			smgr.SetStarted()
			smgr.SetStatus("simulating")
			go func() {
				<-smgr.StopChan()
				cancel()
			}()
			return runLoop()
		},
	})
	return nil
}

// tickForever drives the kernel's clock at a fixed wall-clock cadence
// until ctx is cancelled, standing in for the target's timer interrupt.
// Each tick's advance is the actual elapsed monotonic time since the
// previous one, sampled via unix.ClockGettime(CLOCK_MONOTONIC, ...)
// rather than assumed to be exactly step: the ticker can fire late
// under scheduler pressure, and the host sim's clock should reflect
// wall time actually elapsed, the same property CLOCK_MONOTONIC gives
// the target's own timer hardware.
func tickForever(ctx context.Context, sim *simulator, step time.Duration) {
	ticker := time.NewTicker(step)
	defer ticker.Stop()

	last, err := monotonicNow()
	if err != nil {
		logrus.WithError(err).Warn("humility: CLOCK_MONOTONIC unavailable, falling back to fixed tick step")
	}
	fallback := domain.Ticks(step.Microseconds())
	if fallback == 0 {
		fallback = 1
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			now, nowErr := monotonicNow()
			if err != nil || nowErr != nil {
				sim.kernel.Tick(fallback)
				last, err = now, nowErr
				continue
			}
			advance := domain.Ticks(now.Sub(last) / time.Microsecond)
			if advance == 0 {
				advance = 1
			}
			sim.kernel.Tick(advance)
			last = now
		}
	}
}

// runProfiler starts cpu or memory profiling per the sim command's
// hidden flags, mirroring the exclusivity check and NoShutdownHook
// pattern of a single profiling entry point reacting to its own exit
// handler instead of pprof's default sigterm hook.
func runProfiler(ctx *cli.Context) (interface{ Stop() }, error) {
	cpuOn := ctx.Bool("cpu-profiling")
	memOn := ctx.Bool("memory-profiling")

	if cpuOn && memOn {
		return nil, fmt.Errorf("humility: cpu and memory profiling are mutually exclusive")
	}
	if !cpuOn && !memOn {
		return nil, nil
	}

	if cpuOn {
		return profile.Start(profile.CPUProfile, profile.ProfilePath("."), profile.NoShutdownHook), nil
	}
	return profile.Start(profile.MemProfile, profile.ProfilePath("."), profile.NoShutdownHook), nil
}

func statusCommand() cli.Command {
	return cli.Command{
		Name:  "status",
		Usage: "read a task's status from a running humility sim",
		Flags: []cli.Flag{
			cli.StringFlag{Name: "addr", Value: "127.0.0.1:9010"},
			cli.IntFlag{Name: "index", Required: true},
		},
		Action: func(ctx *cli.Context) error {
			client, err := dialDebugger(ctx.String("addr"), 3*time.Second)
			if err != nil {
				return err
			}
			defer client.Close()

			reqCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer cancel()
			resp, err := client.ReadTaskStatus(reqCtx, uint16(ctx.Int("index")))
			if err != nil {
				return err
			}
			fmt.Printf("state: %s\n", resp.State)
			if resp.FaultReason != "" {
				fmt.Printf("fault: %s/%s\n", resp.FaultSource, resp.FaultReason)
			}
			return nil
		},
	}
}

func restartCommand() cli.Command {
	return cli.Command{
		Name:  "restart",
		Usage: "restart a task on a running humility sim",
		Flags: []cli.Flag{
			cli.StringFlag{Name: "addr", Value: "127.0.0.1:9010"},
			cli.IntFlag{Name: "index", Required: true},
			cli.BoolFlag{Name: "start-at-boot"},
		},
		Action: func(ctx *cli.Context) error {
			client, err := dialDebugger(ctx.String("addr"), 3*time.Second)
			if err != nil {
				return err
			}
			defer client.Close()

			reqCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer cancel()
			resp, err := client.RestartTask(reqCtx, uint16(ctx.Int("index")), ctx.Bool("start-at-boot"))
			if err != nil {
				return err
			}
			fmt.Printf("generation: %d\n", resp.Generation)
			return nil
		},
	}
}

func holdCommand() cli.Command {
	return cli.Command{
		Name:  "hold",
		Usage: "set or clear a task's fault-hold disposition on a running humility sim",
		Flags: []cli.Flag{
			cli.StringFlag{Name: "addr", Value: "127.0.0.1:9010"},
			cli.IntFlag{Name: "index", Required: true},
			cli.BoolFlag{Name: "hold"},
		},
		Action: func(ctx *cli.Context) error {
			client, err := dialDebugger(ctx.String("addr"), 3*time.Second)
			if err != nil {
				return err
			}
			defer client.Close()

			reqCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer cancel()
			return client.SetDisposition(reqCtx, uint16(ctx.Int("index")), ctx.Bool("hold"))
		},
	}
}
