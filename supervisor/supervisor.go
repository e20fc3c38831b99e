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

// Package supervisor implements the system supervisor (spec §4.E,
// grounded on task/jefe/src/main.rs): the one task trusted to restart
// its peers. It watches for faults via the kernel's fault-notification
// mask, applies a per-task restart-or-hold disposition, enforces a
// minimum run time before a restarted task is allowed to run again, and
// exposes reset-reason and dump-area state to external tooling.
//
// Per jefe's own doc comment, the supervisor never SENDs to an
// untrusted task — a misbehaving peer could block it forever — so this
// package only ever receives requests and drives the kernel's KIPC
// surface, never domain.SyscallIface.Send.
package supervisor

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/oxidecomputer/taskkernel/domain"
)

// Disposition controls whether a faulted task is restarted automatically
// or left faulted for inspection.
type Disposition int

const (
	DispositionRestart Disposition = iota
	DispositionHold
)

// TaskRunState tracks one supervised task's restart bookkeeping.
type TaskRunState int

const (
	TaskRunning TaskRunState = iota
	TaskHoldFault
	TaskInTimeout
)

type taskStatus struct {
	disposition Disposition
	runState    TaskRunState
	restartAt   domain.Ticks
}

// Supervisor is the ServerImpl equivalent: it holds the per-task
// disposition table, the minimum-run-time timer, reset-reason and
// state-change bookkeeping, and the dump-area manager.
type Supervisor struct {
	kipc domain.KipcIface
	sys  domain.SyscallIface
	log  *logrus.Entry

	faultMask domain.Notification
	timerMask domain.Notification

	timerInterval domain.Ticks
	minRunTime    domain.Ticks
	deadline      domain.Ticks
	anyInTimeout  bool

	tasks []taskStatus

	resetReason ResetReason
	state       uint32

	faultMailingList       []domain.TaskID
	stateChangeMailingList []domain.TaskID

	dumps *DumpManager
}

// Config bundles a Supervisor's construction parameters.
type Config struct {
	Kipc          domain.KipcIface
	Sys           domain.SyscallIface
	Log           *logrus.Entry
	NumTasks      int
	HeldTasks     []domain.TaskIndex
	FaultMask     domain.Notification
	TimerMask     domain.Notification
	TimerInterval domain.Ticks
	MinRunTime    domain.Ticks
	DumpAreaCount int
	DumpAreaSize  uint32

	FaultMailingList       []domain.TaskID
	StateChangeMailingList []domain.TaskID
}

// New builds a Supervisor, applying cfg.HeldTasks as an initial Hold
// disposition (spec's generated.HELD_TASKS equivalent, normally
// produced by a build-time config processor; here it's just a slice).
func New(cfg Config) *Supervisor {
	tasks := make([]taskStatus, cfg.NumTasks)
	for _, idx := range cfg.HeldTasks {
		if int(idx) < len(tasks) {
			tasks[idx].disposition = DispositionHold
		}
	}
	log := cfg.Log
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Supervisor{
		kipc:                   cfg.Kipc,
		sys:                    cfg.Sys,
		log:                    log,
		faultMask:              cfg.FaultMask,
		timerMask:              cfg.TimerMask,
		timerInterval:          cfg.TimerInterval,
		minRunTime:             cfg.MinRunTime,
		tasks:                  tasks,
		resetReason:            ResetUnknown,
		faultMailingList:       cfg.FaultMailingList,
		stateChangeMailingList: cfg.StateChangeMailingList,
		dumps:                  NewDumpManager(cfg.DumpAreaCount, cfg.DumpAreaSize),
	}
}

// NotificationMask is the set of notification bits this supervisor
// waits on in its RECV loop.
func (s *Supervisor) NotificationMask() domain.Notification {
	return s.faultMask | s.timerMask
}

// HandleNotification processes one RECV wakeup, mirroring
// idol_runtime::NotificationHandler::handle_notification: it services
// timeouts first, then newly-faulted tasks, then re-arms the timer.
func (s *Supervisor) HandleNotification(bits domain.Notification, now domain.Ticks) {
	if bits&s.timerMask != 0 {
		if now >= s.deadline {
			s.deadline = now.Add(s.timerInterval)
		}
		if s.anyInTimeout {
			s.anyInTimeout = false
			for idx := range s.tasks {
				st := &s.tasks[idx]
				if st.runState != TaskInTimeout {
					continue
				}
				if st.restartAt <= now {
					if _, err := s.kipc.RestartTask(domain.TaskIndex(idx), true); err != nil {
						s.log.WithError(err).WithField("task", idx).Warn("supervisor: restart failed")
					}
					st.runState = TaskRunning
				} else {
					s.anyInTimeout = true
					if st.restartAt < s.deadline {
						s.deadline = st.restartAt
					}
				}
			}
		}
	}

	if bits&s.faultMask != 0 {
		s.handleFaults(now)
	}

	s.sys.SetTimer(true, s.deadline, s.timerMask)
}

func (s *Supervisor) handleFaults(now domain.Ticks) {
	anyFaulted := false
	for idx := 1; idx < len(s.tasks); idx++ {
		st := &s.tasks[idx]
		if st.runState != TaskRunning {
			continue
		}
		state, _, err := s.kipc.ReadTaskStatus(domain.TaskIndex(idx))
		if err != nil || state != domain.StateFaulted {
			continue
		}
		anyFaulted = true

		if _, derr := s.dumps.DumpTask(idx); derr != nil {
			s.log.WithError(derr).WithField("task", idx).Debug("supervisor: dump unavailable")
		}

		if st.disposition == DispositionRestart {
			restartAt := now.Add(s.minRunTime)
			st.runState = TaskInTimeout
			st.restartAt = restartAt
			s.anyInTimeout = true
			if restartAt < s.deadline {
				s.deadline = restartAt
			}
		} else {
			st.runState = TaskHoldFault
		}
	}

	if anyFaulted {
		s.notifyTasks(s.faultMailingList, s.faultMask)
	}
}

func (s *Supervisor) notifyTasks(mailingList []domain.TaskID, mask domain.Notification) {
	for _, id := range mailingList {
		fresh, dead := s.sys.RefreshTaskID(id)
		if dead {
			continue
		}
		if err := s.sys.Post(fresh, mask); err != nil {
			s.log.WithError(err).WithField("peer", fresh).Warn("supervisor: post failed")
		}
	}
}

// --- Idol-equivalent request handlers ---

// RequestReset implements request_reset by issuing the Reset KIPC and
// returning its error; under the host simulation the kernel only logs
// the request, so the call returns.
func (s *Supervisor) RequestReset() error {
	return s.kipc.Reset()
}

// GetResetReason implements get_reset_reason.
func (s *Supervisor) GetResetReason() ResetReason { return s.resetReason }

// SetResetReason implements set_reset_reason.
func (s *Supervisor) SetResetReason(reason ResetReason) { s.resetReason = reason }

// GetState implements get_state.
func (s *Supervisor) GetState() uint32 { return s.state }

// SetState implements set_state: a changed value broadcasts to the
// state-change mailing list.
func (s *Supervisor) SetState(state uint32) {
	if s.state != state {
		s.state = state
		s.notifyTasks(s.stateChangeMailingList, 0)
	}
}

// RestartMeRaw implements restart_me_raw: a task asking to be restarted
// immediately, bypassing the fault/timeout path.
func (s *Supervisor) RestartMeRaw(callerIndex domain.TaskIndex) error {
	_, err := s.kipc.RestartTask(callerIndex, true)
	return err
}

// SetDisposition installs a restart policy for a supervised task,
// exposed to external tooling (Humility) rather than over IPC.
func (s *Supervisor) SetDisposition(index domain.TaskIndex, d Disposition) error {
	if int(index) >= len(s.tasks) {
		return fmt.Errorf("supervisor: no task %d", index)
	}
	s.tasks[index].disposition = d
	return nil
}

// GetDumpArea, ClaimDumpArea, ReinitializeDumpAreas, DumpTask, and
// ReinitializeDumpFrom implement the "dump" feature's Idol operations.
func (s *Supervisor) GetDumpArea(index uint8) (DumpArea, error) { return s.dumps.GetDumpArea(index) }
func (s *Supervisor) ClaimDumpArea() (DumpArea, error)          { return s.dumps.ClaimDumpArea() }
func (s *Supervisor) ReinitializeDumpAreas()                    { s.dumps.ReinitializeDumpAreas() }
func (s *Supervisor) ReinitializeDumpFrom(index uint8) error    { return s.dumps.ReinitializeDumpFrom(index) }

func (s *Supervisor) DumpTask(taskIndex domain.TaskIndex) (uint8, error) {
	if taskIndex == 0 {
		return 0, fmt.Errorf("supervisor: cannot dump the supervisor")
	}
	if int(taskIndex) >= len(s.tasks) {
		return 0, fmt.Errorf("supervisor: no task %d", taskIndex)
	}
	return s.dumps.DumpTask(int(taskIndex))
}
