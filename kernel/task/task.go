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

// Package task holds the kernel's task descriptors: the data model of
// spec §3/§4.C, independent of the scheduler and syscall dispatch that
// act on it.
package task

import "github.com/oxidecomputer/taskkernel/domain"

// Config is the static, image-derived description of a task (spec §6
// "Task record"): its region table, priority, entry point, and whether
// it starts at boot.
type Config struct {
	Name        string
	Priority    uint8
	Regions     []domain.Region
	EntryPoint  uint32
	StackTop    uint32
	StartAtBoot bool
}

// Descriptor is a task's live kernel-visible state: everything
// ReadTaskStatus (spec §4.D "KIPC") can report.
type Descriptor struct {
	Config

	Index      domain.TaskIndex
	Generation domain.Generation
	State      domain.TaskState

	// PreFaultState is the scheduling state the task held the instant it
	// faulted, retained for forensic purposes (spec §3 "Task").
	PreFaultState domain.TaskState
	Fault         *domain.FaultInfo
}

// NewDescriptor builds the initial Descriptor for a task occupying index
// at generation 0, in StateRunnable if cfg.StartAtBoot is set and
// StateStopped otherwise (see StateFor).
func NewDescriptor(index domain.TaskIndex, cfg Config) *Descriptor {
	return &Descriptor{
		Config: cfg,
		Index:  index,
		State:  StateFor(cfg.StartAtBoot),
	}
}

// StateFor returns the initial scheduling state a freshly (re)started
// task should have before the kernel has run it at all.
func StateFor(startAtBoot bool) domain.TaskState {
	if startAtBoot {
		return domain.StateRunnable
	}
	return domain.StateStopped
}

// ID returns the task's current TaskID.
func (d *Descriptor) ID() domain.TaskID {
	return domain.NewTaskID(d.Index, d.Generation)
}

// Restart reinitializes d for a fresh run: bumps the generation, clears
// fault state, and resets scheduling state, per spec §8 testable
// property 5 ("Restarting T increments its generation by 1 modulo 64").
func (d *Descriptor) Restart() {
	d.Generation = d.Generation.NextGeneration()
	d.Fault = nil
	d.PreFaultState = domain.StateStopped
	d.State = StateFor(d.StartAtBoot)
}

// MarkFaulted records a fault and transitions d to StateFaulted,
// preserving its previous scheduling state (spec §4.D "Faults").
func (d *Descriptor) MarkFaulted(info domain.FaultInfo) {
	if d.State == domain.StateFaulted {
		// Already faulted; a fault during fault handling keeps the
		// original forensic state rather than overwriting it.
		d.Fault = &info
		return
	}
	d.PreFaultState = d.State
	d.Fault = &info
	d.State = domain.StateFaulted
}

// Table is the kernel's fixed-size array of task descriptors, indexed by
// domain.TaskIndex. The kernel is the sole owner; every other reference
// to a task is by index, never by pointer (spec §9 "Cyclic references").
type Table struct {
	descriptors []*Descriptor
}

// NewTable builds a Table with one Descriptor per entry in cfgs, indexed
// in order starting at 0.
func NewTable(cfgs []Config) *Table {
	t := &Table{descriptors: make([]*Descriptor, len(cfgs))}
	for i, cfg := range cfgs {
		t.descriptors[i] = NewDescriptor(domain.TaskIndex(i), cfg)
	}
	return t
}

// Len returns the number of task slots.
func (t *Table) Len() int { return len(t.descriptors) }

// Get returns the descriptor at index, or nil if index is out of range.
func (t *Table) Get(index domain.TaskIndex) *Descriptor {
	if int(index) < 0 || int(index) >= len(t.descriptors) {
		return nil
	}
	return t.descriptors[index]
}

// Resolve validates id against the current generation of its index,
// returning (id, true) if id is current, or a refreshed id and false if
// id's generation is stale (the task has since restarted).
func (t *Table) Resolve(id domain.TaskID) (fresh domain.TaskID, current bool) {
	d := t.Get(id.Index())
	if d == nil {
		return id, false
	}
	fresh = d.ID()
	return fresh, d.Generation == id.Generation()
}

// All returns every descriptor in index order.
func (t *Table) All() []*Descriptor {
	return t.descriptors
}
