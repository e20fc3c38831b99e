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

// Package syscall implements the kernel's SEND/RECV/REPLY syscall layer
// (spec §4.C/D) as a host simulation: each task is a goroutine, and the
// kernel's synchronous-rendezvous semantics are implemented with
// sync.Cond rather than an SVC trap, since there is no real MPU boundary
// to cross in a Go process. kernel/mem provides the region-validity
// predicate leases are checked against; kernel/task owns the descriptor
// table this package drives.
package syscall

import (
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/oxidecomputer/taskkernel/domain"
	"github.com/oxidecomputer/taskkernel/kernel/caboose"
	"github.com/oxidecomputer/taskkernel/kernel/mem"
	"github.com/oxidecomputer/taskkernel/kernel/sched"
	"github.com/oxidecomputer/taskkernel/kernel/task"
)

// envelope is an in-flight SEND, queued at the recipient until RECV pops
// it and, eventually, REPLY or REPLY_FAULT resolves it.
type envelope struct {
	from      domain.TaskID
	fromRegions []domain.Region
	op        domain.OpCode
	args      []byte
	leases    []domain.LeaseBacking
	delivered bool
	reply     chan replyResult
}

type replyResult struct {
	code  uint32
	data  []byte
	fault *domain.ReplyFaultReason
}

type tcb struct {
	mu   sync.Mutex
	cond *sync.Cond

	recvOpen bool
	recvMask domain.Notification
	notif    domain.Notification
	queue    []*envelope

	// processing maps a sender's current TaskID to the envelope this
	// task is actively handling, so Reply/ReplyFault/Borrow* can find it.
	processing map[domain.TaskID]*envelope

	// outstanding lists every envelope this task has sent that has not
	// yet been replied to, so a restart of the peer (or of this task)
	// can resolve them with a dead-peer code.
	outstanding []*envelope

	timerDeadline domain.Ticks
	timerMask     domain.Notification
	timerEnabled  bool
}

func newTCB() *tcb {
	t := &tcb{processing: make(map[domain.TaskID]*envelope)}
	t.cond = sync.NewCond(&t.mu)
	return t
}

// Kernel is the host-simulation microkernel: a task table plus the
// per-task synchronization state SEND/RECV/REPLY act on.
type Kernel struct {
	mu    sync.Mutex // guards now and the table's fault-notification routing
	table *task.Table
	tcbs  []*tcb
	now   domain.Ticks

	supervisorMask domain.Notification
	log            *logrus.Entry

	imageID      uint64
	cabooseBase  uint32
	cabooseLen   uint32
	cabooseBytes []byte

	dumpAreas [][]byte
}

// New builds a Kernel from a task table. supervisorIndex's notification
// mask (spec §4.D "Faults", step iv) is posted to whenever any task
// (other than the supervisor itself) faults.
func New(table *task.Table, supervisorFaultMask domain.Notification, log *logrus.Entry) *Kernel {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	k := &Kernel{table: table, supervisorMask: supervisorFaultMask, log: log}
	k.tcbs = make([]*tcb, table.Len())
	for i := range k.tcbs {
		k.tcbs[i] = newTCB()
	}
	return k
}

// SetImage records the identity and caboose of the running image, so
// the supervisor's ReadImageID/ReadCaboosePos KIPCs (spec §4.D "KIPC")
// have something real to report. cabooseBytes is the caboose region's
// TLV payload (see kernel/image.FindCaboose), base/length its position
// within the packaged image as reported to callers.
func (k *Kernel) SetImage(imageID uint64, cabooseBase, cabooseLen uint32, cabooseBytes []byte) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.imageID = imageID
	k.cabooseBase = cabooseBase
	k.cabooseLen = cabooseLen
	k.cabooseBytes = cabooseBytes
}

// CabooseReader returns a reader over the recorded caboose bytes, or nil
// if none was set.
func (k *Kernel) CabooseReader() *caboose.Reader {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.cabooseBytes == nil {
		return nil
	}
	return caboose.NewReader(k.cabooseBytes)
}

// SetDumpAreas installs the supervisor-managed dump-area backing store
// dump regions are read from (spec §4.D "KIPC" GetTaskDumpRegion /
// ReadTaskDumpRegion). area indices are positions into areas.
func (k *Kernel) SetDumpAreas(areas [][]byte) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.dumpAreas = areas
}

// Handle returns the domain.SyscallIface a task at index uses to reach
// the kernel.
func (k *Kernel) Handle(index domain.TaskIndex) domain.SyscallIface {
	return &taskHandle{k: k, index: index}
}

func (k *Kernel) descriptor(index domain.TaskIndex) *task.Descriptor {
	return k.table.Get(index)
}

func (k *Kernel) tcb(index domain.TaskIndex) *tcb {
	if int(index) < 0 || int(index) >= len(k.tcbs) {
		return nil
	}
	return k.tcbs[index]
}

// Candidates returns the scheduler view of every task, for callers
// driving the fixed-priority loop externally (spec §4.C "Scheduling").
func (k *Kernel) Candidates() []sched.Candidate {
	k.mu.Lock()
	defer k.mu.Unlock()
	all := k.table.All()
	out := make([]sched.Candidate, len(all))
	for i, d := range all {
		out[i] = sched.Candidate{Index: d.Index, Priority: d.Priority, State: d.State}
	}
	return out
}

// Tick advances the kernel's monotonic clock and returns the set of
// task indices whose armed timer has expired, posting their chosen
// notification bit to each (spec §4.D syscall 3, §5 "Cancellation and
// timeouts"). Expiration posts the bit; it does not by itself unblock
// the task — an open RECV will observe it on its next check.
func (k *Kernel) Tick(advance domain.Ticks) []domain.TaskIndex {
	k.mu.Lock()
	k.now = k.now.Add(advance)
	now := k.now
	k.mu.Unlock()

	var fired []domain.TaskIndex
	for i, t := range k.tcbs {
		t.mu.Lock()
		if t.timerEnabled && now >= t.timerDeadline {
			t.timerEnabled = false
			t.notif |= t.timerMask
			t.cond.Broadcast()
			fired = append(fired, domain.TaskIndex(i))
		}
		t.mu.Unlock()
	}
	return fired
}

// Now returns the kernel's current monotonic tick.
func (k *Kernel) Now() domain.Ticks {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.now
}

// validateLeases checks every lease in leases against sender's region
// table with the predicate its attributes imply (spec §4.D "Lease
// access").
func validateLeases(senderRegions []domain.Region, leases []domain.LeaseBacking) error {
	for _, l := range leases {
		pred := domain.IsReadable
		if l.Attr&domain.LeaseWrite != 0 {
			pred = domain.IsWritable
		}
		s := mem.Slice{Base: l.Base, End: l.Base + l.Len}
		if !mem.CanAccess(s, senderRegions, pred) {
			return domain.LeaseErrBadOffset
		}
	}
	return nil
}
