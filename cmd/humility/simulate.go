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

// Package main implements humility, the host-side simulator and
// debugger CLI: it builds a kernel/supervisor pair from a packager
// app-descriptor TOML on the host (no target hardware, no real task
// code), ticks it the way the target's timer interrupt would, and
// exposes the result over the same debugger gRPC surface a real
// Humility would attach to.
package main

import (
	"fmt"
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/oxidecomputer/taskkernel/domain"
	"github.com/oxidecomputer/taskkernel/kernel/caboose"
	"github.com/oxidecomputer/taskkernel/kernel/syscall"
	"github.com/oxidecomputer/taskkernel/kernel/task"
	"github.com/oxidecomputer/taskkernel/packager"
	"github.com/oxidecomputer/taskkernel/supervisor"
)

// buildTaskConfigs converts a packager.Config's task table into
// kernel/task.Config entries, in a stable order so repeated runs
// against the same descriptor produce the same task indices. The
// supervisor task (named "jefe" by convention, see supervisorName) is
// always placed first: syscall.SupervisorIndex is fixed at 0, and the
// kernel's KIPC surface enforces that only the task at that index may
// call restart/fault operations.
func buildTaskConfigs(cfg *packager.Config) []task.Config {
	supervisor := supervisorName(cfg)

	names := make([]string, 0, len(cfg.Tasks))
	for name := range cfg.Tasks {
		if name == supervisor {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	if supervisor != "" {
		names = append([]string{supervisor}, names...)
	}

	configs := make([]task.Config, 0, len(names))
	for _, name := range names {
		t := cfg.Tasks[name]
		configs = append(configs, task.Config{
			Name:        name,
			Priority:    uint8(t.Priority),
			StartAtBoot: t.Start,
		})
	}
	return configs
}

// simulator bundles the host-simulated kernel and supervisor built from
// a single app-descriptor, plus the task-name index humility's CLI
// subcommands resolve against.
type simulator struct {
	kernel     *syscall.Kernel
	table      *task.Table
	supervisor *supervisor.Supervisor
	indexOf    map[string]domain.TaskIndex
}

// newSimulator builds a simulator from a loaded packager config. It does
// not execute any task's code (there is none on the host); it exists to
// exercise the scheduler's candidate selection, the supervisor's fault
// handling, and the KIPC debugger surface against a real task table
// shape.
func newSimulator(cfg *packager.Config, log *logrus.Entry) *simulator {
	configs := buildTaskConfigs(cfg)
	table := task.NewTable(configs)

	indexOf := make(map[string]domain.TaskIndex, len(configs))
	for _, d := range table.All() {
		indexOf[d.Name] = d.Index
	}

	var supervisorMask domain.Notification = 1
	kernel := syscall.New(table, supervisorMask, log)

	supervisorIndex, hasSupervisor := indexOf[supervisorName(cfg)]
	var sup *supervisor.Supervisor
	if hasSupervisor {
		sup = supervisor.New(supervisor.Config{
			Kipc:      kernel.Kipc(supervisorIndex),
			Sys:       kernel.Handle(supervisorIndex),
			Log:       log,
			NumTasks:  table.Len(),
			FaultMask: supervisorMask,
		})
	}

	return &simulator{kernel: kernel, table: table, supervisor: sup, indexOf: indexOf}
}

// setDisposition translates the debugger control plane's bool hold
// flag into the supervisor's Disposition enum, matching
// ipcgrpc.NewServer's setDisposition hook signature. It errors if this
// simulation has no supervisor task wired (no "jefe" entry).
func (s *simulator) setDisposition(index domain.TaskIndex, hold bool) error {
	if s.supervisor == nil {
		return fmt.Errorf("humility: simulation has no supervisor task")
	}
	d := supervisor.DispositionRestart
	if hold {
		d = supervisor.DispositionHold
	}
	return s.supervisor.SetDisposition(index, d)
}

// supervisorName picks out the task the descriptor marks as the
// supervisor. The packager schema has no explicit "this is jefe" field
// beyond the [supervisor] table's notification mask, so by convention
// (matching original_source/app/*/app.toml layouts) it is the task
// named "jefe"; callers with a different name should rely on
// simulator.indexOf directly instead of the supervisor field.
func supervisorName(cfg *packager.Config) string {
	if _, ok := cfg.Tasks["jefe"]; ok {
		return "jefe"
	}
	return ""
}

// tickResult is what one simulated timer tick produced, for both the
// CLI's human-readable dump and its tests.
type tickResult struct {
	Now         domain.Ticks
	TimedOut    []domain.TaskIndex
	RunnableLen int
}

// runTicks advances the simulated kernel by n ticks of the given
// duration each, returning a result per tick.
func runTicks(k *syscall.Kernel, step domain.Ticks, n int) []tickResult {
	results := make([]tickResult, 0, n)
	for i := 0; i < n; i++ {
		timedOut := k.Tick(step)
		results = append(results, tickResult{
			Now:         k.Now(),
			TimedOut:    timedOut,
			RunnableLen: len(k.Candidates()),
		})
	}
	return results
}

// extractBuildTags reads every caboose record out of a packaged image's
// trailing caboose blob (spec §4.B-adjacent build metadata), the way
// humility's real-world counterpart reports a RoT image's board/version
// tags without re-deriving them from the packager's own writer.
func extractBuildTags(cabooseBytes []byte) (map[string]string, error) {
	reader := caboose.NewReader(cabooseBytes)
	records, err := reader.All()
	if err != nil {
		return nil, fmt.Errorf("humility: reading caboose: %w", err)
	}
	tags := make(map[string]string, len(records))
	for _, rec := range records {
		tags[rec.Tag.String()] = string(rec.Value)
	}
	return tags, nil
}
