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

package supervisor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oxidecomputer/taskkernel/domain"
)

// fakeKipc is a minimal domain.KipcIface recording which tasks were
// restarted and reporting a fault state for tasks named in `faulted`.
type fakeKipc struct {
	domain.KipcIface
	faulted   map[domain.TaskIndex]bool
	restarted []domain.TaskIndex
}

func (f *fakeKipc) ReadTaskStatus(index domain.TaskIndex) (domain.TaskState, domain.FaultInfo, error) {
	if f.faulted[index] {
		return domain.StateFaulted, domain.FaultInfo{}, nil
	}
	return domain.StateRunnable, domain.FaultInfo{}, nil
}

func (f *fakeKipc) RestartTask(index domain.TaskIndex, startAtBoot bool) (domain.Generation, error) {
	f.restarted = append(f.restarted, index)
	f.faulted[index] = false
	return 1, nil
}

func (f *fakeKipc) Reset() error { return nil }

// fakeSys is a minimal domain.SyscallIface recording SetTimer/Post calls.
type fakeSys struct {
	domain.SyscallIface
	timerDeadline domain.Ticks
	posts         []domain.TaskID
}

func (f *fakeSys) SetTimer(enabled bool, deadline domain.Ticks, notify domain.Notification) error {
	f.timerDeadline = deadline
	return nil
}

func (f *fakeSys) RefreshTaskID(id domain.TaskID) (domain.TaskID, bool) { return id, false }

func (f *fakeSys) Post(peer domain.TaskID, mask domain.Notification) error {
	f.posts = append(f.posts, peer)
	return nil
}

func newTestSupervisor(faulted map[domain.TaskIndex]bool) (*Supervisor, *fakeKipc, *fakeSys) {
	kipc := &fakeKipc{faulted: faulted}
	sys := &fakeSys{}
	s := New(Config{
		Kipc:          kipc,
		Sys:           sys,
		NumTasks:      4,
		FaultMask:     1,
		TimerMask:     2,
		TimerInterval: 100,
		MinRunTime:    50,
		DumpAreaCount: 2,
		DumpAreaSize:  64,
		FaultMailingList: []domain.TaskID{
			domain.NewTaskID(3, 0),
		},
	})
	return s, kipc, sys
}

func TestFaultedTaskEntersTimeoutThenRestarts(t *testing.T) {
	faulted := map[domain.TaskIndex]bool{2: true}
	s, kipc, sys := newTestSupervisor(faulted)

	s.HandleNotification(1, 0)
	assert.Empty(t, kipc.restarted, "should not restart immediately; must wait out min run time")
	assert.Equal(t, TaskInTimeout, s.tasks[2].runState)
	assert.Len(t, sys.posts, 1)

	s.HandleNotification(2, 60)
	assert.Equal(t, []domain.TaskIndex{2}, kipc.restarted)
	assert.Equal(t, TaskRunning, s.tasks[2].runState)
}

func TestHeldTaskDoesNotAutoRestart(t *testing.T) {
	faulted := map[domain.TaskIndex]bool{2: true}
	kipc := &fakeKipc{faulted: faulted}
	sys := &fakeSys{}
	s := New(Config{
		Kipc:          kipc,
		Sys:           sys,
		NumTasks:      4,
		HeldTasks:     []domain.TaskIndex{2},
		FaultMask:     1,
		TimerMask:     2,
		TimerInterval: 100,
		MinRunTime:    50,
	})

	s.HandleNotification(1, 0)
	assert.Equal(t, TaskHoldFault, s.tasks[2].runState)
	assert.Empty(t, kipc.restarted)
}

func TestSetStateNotifiesOnlyOnChange(t *testing.T) {
	s, _, sys := newTestSupervisor(nil)
	s.notifyTasks(nil, 0) // no-op sanity

	s.stateChangeMailingList = []domain.TaskID{domain.NewTaskID(1, 0)}
	s.SetState(5)
	assert.Len(t, sys.posts, 1)

	s.SetState(5)
	assert.Len(t, sys.posts, 1, "unchanged state should not renotify")
}

func TestDumpTaskRejectsSupervisorAndUnknownIndex(t *testing.T) {
	s, _, _ := newTestSupervisor(nil)
	_, err := s.DumpTask(0)
	assert.Error(t, err)
	_, err = s.DumpTask(99)
	assert.Error(t, err)
}

func TestDumpAreaClaimAndLookup(t *testing.T) {
	s, _, _ := newTestSupervisor(nil)
	idx, err := s.DumpTask(2)
	require.NoError(t, err)

	area, err := s.GetDumpArea(idx)
	require.NoError(t, err)
	assert.True(t, area.Claimed)
	assert.Equal(t, 2, area.OwnerIdx)

	s.ReinitializeDumpAreas()
	area, err = s.GetDumpArea(idx)
	require.NoError(t, err)
	assert.False(t, area.Claimed)
}

func TestRestartMeRaw(t *testing.T) {
	s, kipc, _ := newTestSupervisor(nil)
	require.NoError(t, s.RestartMeRaw(3))
	assert.Equal(t, []domain.TaskIndex{3}, kipc.restarted)
}

func TestDecodeResetFlags(t *testing.T) {
	table := map[uint32]ResetReason{
		0x1: ResetPowerOn,
		0x2: ResetPin,
	}
	assert.Equal(t, ResetPowerOn, DecodeResetFlags(0x1, table))
	assert.Equal(t, ResetOther, DecodeResetFlags(0x99, table))
	assert.Equal(t, ResetUnknown, DecodeResetFlags(0, table))
}
