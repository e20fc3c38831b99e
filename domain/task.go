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

package domain

import "fmt"

// TaskIndex identifies a task's fixed slot in the kernel's task table.
// Indices are never reused for a different logical task; a restarted task
// keeps its index and gets a new Generation.
type TaskIndex uint16

// Generation is a 6-bit counter stamped into a TaskID that increments on
// every restart of the task occupying a given index, wrapping modulo 64.
type Generation uint8

const (
	// TaskIndexBits is the width of the index field packed into a TaskID.
	TaskIndexBits = 10
	// GenerationBits is the width of the generation field packed into a TaskID.
	GenerationBits = 6

	taskIndexMask  = uint16(1<<TaskIndexBits) - 1
	generationMask = uint8(1<<GenerationBits) - 1

	// KernelIndex is the reserved index of the virtual kernel task, the
	// addressee of all KIPC messages.
	KernelIndex TaskIndex = TaskIndex(taskIndexMask)
)

// TaskID is a task's packed 16-bit handle: low 10 bits are the index, high
// 6 bits are the generation. See spec §3 "Task".
type TaskID uint16

// NewTaskID packs an index and generation into a TaskID.
func NewTaskID(index TaskIndex, gen Generation) TaskID {
	return TaskID((uint16(uint8(gen)&generationMask) << TaskIndexBits) | (uint16(index) & taskIndexMask))
}

// Index returns the task-table index encoded in id.
func (id TaskID) Index() TaskIndex {
	return TaskIndex(uint16(id) & taskIndexMask)
}

// Generation returns the generation encoded in id.
func (id TaskID) Generation() Generation {
	return Generation(uint16(id) >> TaskIndexBits & uint16(generationMask))
}

func (id TaskID) String() string {
	return fmt.Sprintf("TaskID(index=%d, gen=%d)", id.Index(), id.Generation())
}

// NextGeneration returns g incremented by one, wrapping modulo 64.
func (g Generation) NextGeneration() Generation {
	return Generation((uint8(g) + 1) & generationMask)
}

// DeadCodeMask is the fixed high-24-bits pattern that, OR'd with a new
// generation in the low 8 bits, forms a dead-peer IPC response code (see
// spec §3 "Dead-response code").
const DeadCodeMask uint32 = 0xFFFFFF00

// DeadResponseCode builds the 32-bit response code a SEND caller receives
// when its peer has been restarted since the call began.
func DeadResponseCode(newGen Generation) uint32 {
	return DeadCodeMask | uint32(newGen)
}

// IsDeadResponseCode reports whether code carries the dead-peer pattern,
// and if so returns the new generation encoded in its low byte.
func IsDeadResponseCode(code uint32) (gen Generation, dead bool) {
	if code&DeadCodeMask != DeadCodeMask {
		return 0, false
	}
	return Generation(code & 0xFF), true
}

// TaskState is the scheduling state of a task. Exactly one of these holds
// for any task at any time (spec §3 "Task" invariants).
type TaskState int

const (
	// StateStopped means the task never ran (start-at-boot flag unset) or
	// was held by the supervisor after a fault.
	StateStopped TaskState = iota
	// StateRunnable means the task is eligible for scheduling.
	StateRunnable
	// StateInSend means the task is blocked in SEND awaiting REPLY.
	StateInSend
	// StateInReply means the task delivered a message synchronously and is
	// waiting for the kernel to resume the callee far enough to reply.
	StateInReply
	// StateInRecv means the task is blocked in RECV.
	StateInRecv
	// StateFaulted means the task trapped; its prior state is retained for
	// forensic purposes in Task.PreFaultState.
	StateFaulted
)

func (s TaskState) String() string {
	switch s {
	case StateStopped:
		return "Stopped"
	case StateRunnable:
		return "Runnable"
	case StateInSend:
		return "InSend"
	case StateInReply:
		return "InReply"
	case StateInRecv:
		return "InRecv"
	case StateFaulted:
		return "Faulted"
	default:
		return "Unknown"
	}
}

// RecvSource narrows an open RECV to a specific sender. A nil RecvSource
// means an open receive, which is the only form that may accept
// notifications from the kernel (spec §3 "Task").
type RecvSource struct {
	Peer TaskID
	Open bool
}
