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

// Package sched implements the kernel's scheduling policy (spec §4.C):
// fixed-priority, strictly preemptive, ties broken by lower task index.
// The policy itself is pure and allocation-free; kernel/syscall owns the
// actual task table and drives it.
package sched

import "github.com/oxidecomputer/taskkernel/domain"

// Candidate is the minimal view of a task the scheduler needs to pick
// the next one to run.
type Candidate struct {
	Index    domain.TaskIndex
	Priority uint8
	State    domain.TaskState
}

// Next returns the index of the highest-priority runnable candidate,
// breaking ties by lower index, or (0, false) if none are runnable.
// Numerically lower Priority values run first, matching the teacher's
// convention of priority 0 being the most privileged (the supervisor).
func Next(candidates []Candidate) (domain.TaskIndex, bool) {
	best := -1
	for i, c := range candidates {
		if c.State != domain.StateRunnable {
			continue
		}
		if best == -1 {
			best = i
			continue
		}
		bc := candidates[best]
		if c.Priority < bc.Priority || (c.Priority == bc.Priority && c.Index < bc.Index) {
			best = i
		}
	}
	if best == -1 {
		return 0, false
	}
	return candidates[best].Index, true
}
