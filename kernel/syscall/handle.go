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

// taskHandle is the domain.SyscallIface bound to one task index.
type taskHandle struct {
	k     *Kernel
	index domain.TaskIndex
}

func (h *taskHandle) self() (*tcb, domain.TaskID) {
	d := h.k.descriptor(h.index)
	return h.k.tcb(h.index), d.ID()
}

// Send implements spec §4.D "SEND". It blocks until REPLY, REPLY_FAULT,
// or the peer dies.
func (h *taskHandle) Send(peer domain.TaskID, op domain.OpCode, args []byte, leases []domain.LeaseBacking, respBuf []byte) (uint32, int, error) {
	selfTCB, selfID := h.self()
	selfDesc := h.k.descriptor(h.index)

	if err := validateLeases(selfDesc.Regions, leases); err != nil {
		return 0, 0, err
	}

	peerTCB := h.k.tcb(peer.Index())
	peerDesc := h.k.descriptor(peer.Index())
	if peerTCB == nil || peerDesc == nil || peerDesc.Generation != peer.Generation() {
		gen := domain.Generation(0)
		if peerDesc != nil {
			gen = peerDesc.Generation
		}
		return domain.DeadResponseCode(gen), 0, nil
	}

	env := &envelope{
		from:        selfID,
		fromRegions: selfDesc.Regions,
		op:          op,
		args:        args,
		leases:      leases,
		reply:       make(chan replyResult, 1),
	}

	selfTCB.mu.Lock()
	selfTCB.outstanding = append(selfTCB.outstanding, env)
	selfTCB.mu.Unlock()

	peerTCB.mu.Lock()
	peerTCB.queue = append(peerTCB.queue, env)
	peerTCB.cond.Broadcast()
	peerTCB.mu.Unlock()

	res := <-env.reply

	selfTCB.mu.Lock()
	selfTCB.outstanding = removeEnvelope(selfTCB.outstanding, env)
	selfTCB.mu.Unlock()

	if res.fault != nil {
		h.k.faultCaller(h.index, domain.FaultInfo{
			Source:  domain.FaultLogical,
			Logical: domain.LogicalFromServer,
			Reason:  *res.fault,
		})
		return 0, 0, fmt.Errorf("reply fault: %s", *res.fault)
	}

	n := copy(respBuf, res.data)
	return res.code, n, nil
}

// Recv implements spec §4.D "RECV".
func (h *taskHandle) Recv(mask domain.Notification) (domain.RecvResult, error) {
	t, _ := h.self()

	t.mu.Lock()
	defer t.mu.Unlock()

	for {
		if t.notif&mask != 0 {
			bits := t.notif & mask
			t.notif &^= bits
			return domain.RecvResult{FromKernel: true, Notifications: bits}, nil
		}
		if len(t.queue) > 0 {
			env := t.queue[0]
			t.queue = t.queue[1:]
			env.delivered = true
			t.processing[env.from] = env
			return domain.RecvResult{
				Sender: env.from,
				Op:     env.op,
				Args:   env.args,
				Leases: leaseAccessors(h.k, env),
			}, nil
		}
		t.recvOpen = true
		t.recvMask = mask
		t.cond.Wait()
	}
}

// Reply implements spec §4.D "REPLY".
func (h *taskHandle) Reply(sender domain.TaskID, code uint32, data []byte) error {
	t, _ := h.self()
	t.mu.Lock()
	env, ok := t.processing[sender]
	if ok {
		delete(t.processing, sender)
	}
	t.mu.Unlock()
	if !ok {
		return fmt.Errorf("reply: no in-flight request from %s", sender)
	}
	env.reply <- replyResult{code: code, data: data}
	return nil
}

// ReplyFault implements spec §4.D syscall 12 "REPLY_FAULT".
func (h *taskHandle) ReplyFault(sender domain.TaskID, reason domain.ReplyFaultReason) error {
	t, _ := h.self()
	t.mu.Lock()
	env, ok := t.processing[sender]
	if ok {
		delete(t.processing, sender)
	}
	t.mu.Unlock()
	if !ok {
		return fmt.Errorf("reply_fault: no in-flight request from %s", sender)
	}
	r := reason
	env.reply <- replyResult{fault: &r}
	return nil
}

// SetTimer implements spec §4.D syscall 3.
func (h *taskHandle) SetTimer(enabled bool, deadline domain.Ticks, notify domain.Notification) error {
	t, _ := h.self()
	t.mu.Lock()
	defer t.mu.Unlock()
	t.timerEnabled = enabled
	t.timerDeadline = deadline
	t.timerMask = notify
	return nil
}

// GetTimer implements spec §4.D syscall 9.
func (h *taskHandle) GetTimer() (domain.Ticks, domain.Ticks, bool) {
	t, _ := h.self()
	t.mu.Lock()
	defer t.mu.Unlock()
	return h.k.Now(), t.timerDeadline, t.timerEnabled
}

// BorrowRead implements spec §4.D syscall 4.
func (h *taskHandle) BorrowRead(sender domain.TaskID, leaseIndex int, offset uint32, dst []byte) (int, error) {
	t, _ := h.self()
	t.mu.Lock()
	env, ok := t.processing[sender]
	t.mu.Unlock()
	if !ok {
		return 0, domain.LeaseErrWentAway
	}
	if leaseIndex < 0 || leaseIndex >= len(env.leases) {
		return 0, domain.LeaseErrBadIndex
	}
	l := env.leases[leaseIndex]
	if l.Attr&domain.LeaseRead == 0 {
		return 0, domain.LeaseErrReadOnly
	}
	if uint64(offset)+uint64(len(dst)) > uint64(l.Len) {
		return 0, domain.LeaseErrBadOffset
	}
	n := copy(dst, l.Data[offset:])
	return n, nil
}

// BorrowWrite implements spec §4.D syscall 5.
func (h *taskHandle) BorrowWrite(sender domain.TaskID, leaseIndex int, offset uint32, src []byte) (int, error) {
	t, _ := h.self()
	t.mu.Lock()
	env, ok := t.processing[sender]
	t.mu.Unlock()
	if !ok {
		return 0, domain.LeaseErrWentAway
	}
	if leaseIndex < 0 || leaseIndex >= len(env.leases) {
		return 0, domain.LeaseErrBadIndex
	}
	l := env.leases[leaseIndex]
	if l.Attr&domain.LeaseWrite == 0 {
		return 0, domain.LeaseErrReadOnly
	}
	if uint64(offset)+uint64(len(src)) > uint64(l.Len) {
		return 0, domain.LeaseErrBadOffset
	}
	n := copy(l.Data[offset:], src)
	return n, nil
}

// BorrowInfo implements spec §4.D syscall 6.
func (h *taskHandle) BorrowInfo(sender domain.TaskID, leaseIndex int) (domain.Lease, error) {
	t, _ := h.self()
	t.mu.Lock()
	env, ok := t.processing[sender]
	t.mu.Unlock()
	if !ok {
		return domain.Lease{}, domain.LeaseErrWentAway
	}
	if leaseIndex < 0 || leaseIndex >= len(env.leases) {
		return domain.Lease{}, domain.LeaseErrBadIndex
	}
	return env.leases[leaseIndex].Lease, nil
}

// IRQControl implements spec §4.D syscall 7. The host simulation has no
// NVIC; the call records nothing and always succeeds.
func (h *taskHandle) IRQControl(mask uint32, enable bool) error {
	return nil
}

// Panic implements spec §4.D syscall 8.
func (h *taskHandle) Panic(msg string) {
	h.k.faultCaller(h.index, domain.FaultInfo{Source: domain.FaultLogical, Logical: domain.LogicalPanic})
}

// RefreshTaskID implements spec §4.D syscall 10.
func (h *taskHandle) RefreshTaskID(id domain.TaskID) (domain.TaskID, bool) {
	fresh, current := h.k.table.Resolve(id)
	return fresh, !current
}

// Post implements spec §4.D syscall 11.
func (h *taskHandle) Post(peer domain.TaskID, mask domain.Notification) error {
	t := h.k.tcb(peer.Index())
	if t == nil {
		return fmt.Errorf("post: no such task %s", peer)
	}
	t.mu.Lock()
	t.notif |= mask
	t.cond.Broadcast()
	t.mu.Unlock()
	return nil
}

func removeEnvelope(envs []*envelope, target *envelope) []*envelope {
	out := envs[:0]
	for _, e := range envs {
		if e != target {
			out = append(out, e)
		}
	}
	return out
}
