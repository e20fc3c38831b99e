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

package syscall

import (
	"fmt"

	"github.com/oxidecomputer/taskkernel/domain"
)

// SupervisorIndex is the fixed task index the kernel treats as the sole
// caller allowed to invoke restart/fault KIPCs (spec §4.D "KIPC": "Only
// the supervisor may invoke restart/fault; enforcement is by task-index
// check in the kernel").
const SupervisorIndex domain.TaskIndex = 0

// kipcHandle implements domain.KipcIface, bound to a caller index so the
// kernel can enforce the supervisor-only restriction.
type kipcHandle struct {
	k      *Kernel
	caller domain.TaskIndex
}

// Kipc returns the privileged KIPC surface for the task at index.
// RestartTask, FaultTask, ReadImageID, Reset and the two dump-region
// methods fail with an error (or ok=false) if index != SupervisorIndex;
// ReadTaskStatus and ReadCaboosePos are open to every caller.
func (k *Kernel) Kipc(index domain.TaskIndex) domain.KipcIface {
	return &kipcHandle{k: k, caller: index}
}

func (kh *kipcHandle) requireSupervisor() error {
	if kh.caller != SupervisorIndex {
		return fmt.Errorf("kipc: caller %d is not the supervisor", kh.caller)
	}
	return nil
}

func (kh *kipcHandle) ReadTaskStatus(index domain.TaskIndex) (domain.TaskState, domain.FaultInfo, error) {
	d := kh.k.descriptor(index)
	if d == nil {
		return 0, domain.FaultInfo{}, fmt.Errorf("no such task %d", index)
	}
	kh.k.mu.Lock()
	defer kh.k.mu.Unlock()
	var fi domain.FaultInfo
	if d.Fault != nil {
		fi = *d.Fault
	}
	return d.State, fi, nil
}

// RestartTask implements spec §4.D "KIPC" RestartTask and §8 testable
// property 5: it bumps the task's generation, clears its fault, and
// resolves every outstanding sender blocked on that task with a
// dead-peer response code.
func (kh *kipcHandle) RestartTask(index domain.TaskIndex, startAtBoot bool) (domain.Generation, error) {
	if err := kh.requireSupervisor(); err != nil {
		return 0, err
	}
	d := kh.k.descriptor(index)
	if d == nil {
		return 0, fmt.Errorf("no such task %d", index)
	}

	kh.k.mu.Lock()
	d.StartAtBoot = startAtBoot
	d.Restart()
	newGen := d.Generation
	kh.k.mu.Unlock()

	t := kh.k.tcb(index)
	t.mu.Lock()
	pending := t.queue
	t.queue = nil
	processing := t.processing
	t.processing = make(map[domain.TaskID]*envelope)
	t.recvOpen = false
	t.cond.Broadcast()
	t.mu.Unlock()

	for _, env := range pending {
		env.reply <- replyResult{code: domain.DeadResponseCode(newGen)}
	}
	for _, env := range processing {
		env.reply <- replyResult{code: domain.DeadResponseCode(newGen)}
	}

	return newGen, nil
}

// FaultTask implements spec §4.D "KIPC" FaultTask.
func (kh *kipcHandle) FaultTask(index domain.TaskIndex, reason domain.ReplyFaultReason) error {
	if err := kh.requireSupervisor(); err != nil {
		return err
	}
	kh.k.faultCaller(index, domain.FaultInfo{
		Source:  domain.FaultLogical,
		Logical: domain.LogicalFromServer,
		Reason:  reason,
	})
	return nil
}

func (kh *kipcHandle) ReadImageID() (uint64, error) {
	if err := kh.requireSupervisor(); err != nil {
		return 0, err
	}
	kh.k.mu.Lock()
	defer kh.k.mu.Unlock()
	return kh.k.imageID, nil
}

// Reset implements spec §4.D "KIPC" Reset. The host simulation has no
// hardware to reset, so it records the request as a log event rather
// than tearing down the process.
func (kh *kipcHandle) Reset() error {
	if err := kh.requireSupervisor(); err != nil {
		return err
	}
	kh.k.log.Info("kipc: reset requested")
	return nil
}

func (kh *kipcHandle) ReadCaboosePos() (uint32, uint32, bool) {
	kh.k.mu.Lock()
	defer kh.k.mu.Unlock()
	if kh.k.cabooseBytes == nil {
		return 0, 0, false
	}
	return kh.k.cabooseBase, kh.k.cabooseLen, true
}

func (kh *kipcHandle) GetTaskDumpRegion(index domain.TaskIndex) (int, bool) {
	if err := kh.requireSupervisor(); err != nil {
		return 0, false
	}
	kh.k.mu.Lock()
	defer kh.k.mu.Unlock()
	area := int(index)
	if area < 0 || area >= len(kh.k.dumpAreas) {
		return 0, false
	}
	return area, true
}

func (kh *kipcHandle) ReadTaskDumpRegion(area int, offset uint32, buf []byte) (int, error) {
	if err := kh.requireSupervisor(); err != nil {
		return 0, err
	}
	kh.k.mu.Lock()
	defer kh.k.mu.Unlock()
	if area < 0 || area >= len(kh.k.dumpAreas) {
		return 0, fmt.Errorf("no dump region %d", area)
	}
	data := kh.k.dumpAreas[area]
	if uint64(offset) >= uint64(len(data)) {
		return 0, nil
	}
	return copy(buf, data[offset:]), nil
}

// faultCaller marks the task at index faulted and, unless it is itself
// the supervisor, posts the supervisor's fault-notification mask (spec
// §4.D "Faults" step iv).
func (k *Kernel) faultCaller(index domain.TaskIndex, info domain.FaultInfo) {
	d := k.descriptor(index)
	if d == nil {
		return
	}
	k.mu.Lock()
	d.MarkFaulted(info)
	k.mu.Unlock()

	if index == SupervisorIndex {
		return
	}
	sup := k.tcb(SupervisorIndex)
	if sup == nil {
		return
	}
	sup.mu.Lock()
	sup.notif |= k.supervisorMask
	sup.cond.Broadcast()
	sup.mu.Unlock()
}
