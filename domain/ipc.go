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

import "time"

// Notification is a bitmask OR'd into a task's pending-notifications
// word (spec §3, §5 "Ordering guarantees").
type Notification uint32

// Ticks is the kernel's monotonic tick counter, as read by GET_TIMER.
type Ticks uint64

// Add returns t advanced by d ticks.
func (t Ticks) Add(d Ticks) Ticks { return t + d }

// RecvResult is what RECV returns: either a peer message or a
// notification pseudo-message from the kernel (spec §4.D "SEND/RECV/REPLY
// semantics").
type RecvResult struct {
	FromKernel    bool
	Sender        TaskID
	Notifications Notification
	Op            OpCode
	Args          []byte
	Leases        []LeaseIface
}

// SyscallIface is the trap boundary a task uses to reach the kernel. On
// real hardware this is an SVC instruction; the host simulation and unit
// tests implement it as a direct Go method call, matching the pattern
// the teacher uses for interfaces whose one production implementation is
// swapped for a fake in tests (domain.ProcessServiceIface, IOServiceIface).
type SyscallIface interface {
	// Send transfers a message and its leases to peer and blocks until
	// REPLY, REPLY_FAULT, or the peer dies mid-call. respBuf receives
	// the reply payload; its capacity is the declared response capacity
	// whose violation by the server is itself a REPLY_FAULT.
	Send(peer TaskID, op OpCode, args []byte, leases []LeaseBacking, respBuf []byte) (code uint32, n int, err error)

	// Recv blocks until a message matching mask arrives or a
	// notification intersecting mask is pending.
	Recv(mask Notification) (RecvResult, error)

	// Reply unblocks a sender that is in InSend addressed to us.
	Reply(sender TaskID, code uint32, data []byte) error

	// ReplyFault unblocks a sender by faulting it with reason instead of
	// replying successfully.
	ReplyFault(sender TaskID, reason ReplyFaultReason) error

	// SetTimer arms or disarms (enabled=false) a per-task deadline.
	SetTimer(enabled bool, deadline Ticks, notify Notification) error

	// GetTimer returns the current tick and the caller's armed deadline.
	GetTimer() (now Ticks, deadline Ticks, enabled bool)

	// BorrowRead copies len(dst) bytes from a lease held by sender into dst.
	BorrowRead(sender TaskID, leaseIndex int, offset uint32, dst []byte) (int, error)

	// BorrowWrite copies src into a lease held by sender.
	BorrowWrite(sender TaskID, leaseIndex int, offset uint32, src []byte) (int, error)

	// BorrowInfo reports a lease's attributes and length.
	BorrowInfo(sender TaskID, leaseIndex int) (Lease, error)

	// IRQControl enables or disables the interrupts in mask that the
	// calling task owns.
	IRQControl(mask uint32, enable bool) error

	// Panic marks the calling task faulted with LogicalPanic.
	Panic(msg string)

	// RefreshTaskID rewrites id to the current generation of its index,
	// or reports dead=true if the index has since been restarted and the
	// id's generation is stale.
	RefreshTaskID(id TaskID) (fresh TaskID, dead bool)

	// Post ORs mask into peer's pending-notifications word.
	Post(peer TaskID, mask Notification) error
}

// KipcOp enumerates the closed set of kernel-implemented messages (spec
// §4.D "KIPC").
type KipcOp int

const (
	KipcReadTaskStatus KipcOp = iota
	KipcRestartTask
	KipcFaultTask
	KipcReadImageID
	KipcReset
	KipcReadCaboosePos
	KipcGetTaskDumpRegion
	KipcReadTaskDumpRegion
)

// KipcIface is the supervisor's privileged view of the kernel, used only
// by the supervisor task (enforcement is by task-index check in the
// kernel, spec §4.D "KIPC").
type KipcIface interface {
	ReadTaskStatus(index TaskIndex) (TaskState, FaultInfo, error)
	RestartTask(index TaskIndex, startAtBoot bool) (Generation, error)
	FaultTask(index TaskIndex, reason ReplyFaultReason) error
	ReadImageID() (uint64, error)
	Reset() error
	ReadCaboosePos() (base, length uint32, ok bool)
	GetTaskDumpRegion(index TaskIndex) (area int, ok bool)
	ReadTaskDumpRegion(area int, offset uint32, buf []byte) (int, error)
}

// WallClock abstracts time.Now for components that need to log
// human-readable timestamps alongside monotonic Ticks (event records,
// ring-buffer traces under host simulation).
type WallClock interface {
	Now() time.Time
}
