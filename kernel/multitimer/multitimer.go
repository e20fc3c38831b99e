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

// Package multitimer lets a task multiplex its single kernel timer
// (domain.SyscallIface.SetTimer/GetTimer) into several independent
// logical timers keyed by an enum-like comparable type (spec §12
// supplement, grounded on lib/multitimer).
package multitimer

import "github.com/oxidecomputer/taskkernel/domain"

// RepeatKind selects how a fired, repeating timer computes its next
// deadline.
type RepeatKind int

const (
	// AfterWake schedules the next firing `period` ticks after the time
	// the firing was actually observed.
	AfterWake RepeatKind = iota
	// AfterDeadline schedules the next firing `period` ticks after the
	// missed deadline, regardless of when it was observed.
	AfterDeadline
)

// Repeat describes a timer's auto-repeat behavior.
type Repeat struct {
	Kind   RepeatKind
	Period domain.Ticks
}

type timerState struct {
	deadline  domain.Ticks
	repeat    *Repeat
	active    bool
	fired     bool
}

// Multitimer multiplexes a single underlying kernel timer across the
// keys of E, which is typically a small enum-like int type.
type Multitimer[E comparable] struct {
	sys              domain.SyscallIface
	notificationBit  uint
	currentDeadline  domain.Ticks
	currentSet       bool
	timers           map[E]*timerState
}

// New creates a Multitimer that will arm the kernel timer with
// notification bit notificationBit.
func New[E comparable](sys domain.SyscallIface, notificationBit uint) *Multitimer[E] {
	return &Multitimer[E]{
		sys:             sys,
		notificationBit: notificationBit,
		timers:          make(map[E]*timerState),
	}
}

func (m *Multitimer[E]) state(which E) *timerState {
	s, ok := m.timers[which]
	if !ok {
		s = &timerState{}
		m.timers[which] = s
	}
	return s
}

func (m *Multitimer[E]) setSystemTimer(deadline domain.Ticks, set bool) {
	var mask domain.Notification
	if set {
		mask = 1 << m.notificationBit
	}
	m.sys.SetTimer(set, deadline, mask)
	m.currentDeadline = deadline
	m.currentSet = set
}

// SetTimer arms or replaces the logical timer which, firing at deadline
// and optionally repeating. Preserves an unobserved fired flag across
// the reset, matching the Rust original's behavior.
func (m *Multitimer[E]) SetTimer(which E, deadline domain.Ticks, repeat *Repeat) {
	s := m.state(which)
	fired := s.fired
	*s = timerState{deadline: deadline, repeat: repeat, active: true, fired: fired}

	if !m.currentSet || deadline < m.currentDeadline {
		m.setSystemTimer(deadline, true)
	}
}

// GetTimer reports the current deadline and repeat setting for which,
// if armed.
func (m *Multitimer[E]) GetTimer(which E) (domain.Ticks, *Repeat, bool) {
	s, ok := m.timers[which]
	if !ok || !s.active {
		return 0, nil, false
	}
	return s.deadline, s.repeat, true
}

// ClearTimer disarms which, re-evaluating the underlying kernel timer if
// it was responsible for the system deadline. Returns whether it had
// been armed.
func (m *Multitimer[E]) ClearTimer(which E) bool {
	s, ok := m.timers[which]
	if !ok || !s.active {
		return false
	}
	wasDeadline := s.deadline
	s.active = false

	if m.currentSet && m.currentDeadline == wasDeadline {
		earliest, found := m.earliestActiveDeadline()
		m.setSystemTimer(earliest, found)
	}
	return true
}

func (m *Multitimer[E]) earliestActiveDeadline() (domain.Ticks, bool) {
	var earliest domain.Ticks
	found := false
	for _, s := range m.timers {
		if !s.active {
			continue
		}
		if !found || s.deadline < earliest {
			earliest = s.deadline
			found = true
		}
	}
	return earliest, found
}

// HandleNotification processes a notification mask that may indicate
// this multitimer's bit fired, advancing any elapsed timers and
// re-arming repeaters.
func (m *Multitimer[E]) HandleNotification(notif domain.Notification) {
	if notif&(1<<m.notificationBit) == 0 {
		return
	}
	now, _, _ := m.sys.GetTimer()

	var newEarliest domain.Ticks
	haveEarliest := false

	for _, s := range m.timers {
		if !s.active {
			continue
		}
		if s.deadline <= now {
			if s.repeat != nil {
				switch s.repeat.Kind {
				case AfterWake:
					s.deadline = now.Add(s.repeat.Period)
				case AfterDeadline:
					s.deadline = s.deadline.Add(s.repeat.Period)
				}
			} else {
				s.active = false
			}
			s.fired = true
		}
		if s.active {
			if !haveEarliest || s.deadline < newEarliest {
				newEarliest = s.deadline
				haveEarliest = true
			}
		}
	}

	m.setSystemTimer(newEarliest, haveEarliest)
}

// PollNow forces an unconditional check of every timer's state, as if
// this multitimer's notification bit had just fired.
func (m *Multitimer[E]) PollNow() {
	m.HandleNotification(1 << m.notificationBit)
}

// Fired returns, and clears, the set of logical timers that have fired
// since the last call.
func (m *Multitimer[E]) Fired() []E {
	var out []E
	for k, s := range m.timers {
		if s.fired {
			s.fired = false
			out = append(out, k)
		}
	}
	return out
}
