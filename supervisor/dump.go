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

import "fmt"

// DumpArea describes one entry of the supervisor's dump-area linked
// list (task/jefe/src/main.rs's `dump` feature): a fixed-capacity slot
// a faulted task's state can be captured into, claimed in index order.
type DumpArea struct {
	Index    uint8
	Capacity uint32
	Claimed  bool
	OwnerIdx int // supervised task index that owns this capture, -1 if free
}

// DumpManager owns the dump-area list and the last-lookup cache that
// accelerates sequential GetDumpArea scans (the Rust original's
// last_dump_area field, there to avoid walking the whole linked list
// for every call from a debugger doing a sequential read).
type DumpManager struct {
	areas         []DumpArea
	lastDumpArea  *DumpArea
}

// NewDumpManager builds count empty areas, each with the given byte
// capacity.
func NewDumpManager(count int, capacity uint32) *DumpManager {
	areas := make([]DumpArea, count)
	for i := range areas {
		areas[i] = DumpArea{Index: uint8(i), Capacity: capacity, OwnerIdx: -1}
	}
	return &DumpManager{areas: areas}
}

// GetDumpArea looks up area by index, using the last-lookup cache when
// index is at or after the previously returned area (the common case
// for a debugger walking the list in order).
func (m *DumpManager) GetDumpArea(index uint8) (DumpArea, error) {
	start := 0
	if m.lastDumpArea != nil && index >= m.lastDumpArea.Index {
		start = int(m.lastDumpArea.Index)
	}
	for i := start; i < len(m.areas); i++ {
		if m.areas[i].Index == index {
			m.lastDumpArea = &m.areas[i]
			return m.areas[i], nil
		}
	}
	return DumpArea{}, fmt.Errorf("supervisor: no dump area %d", index)
}

// ClaimDumpArea returns the first unclaimed area, marking it claimed.
func (m *DumpManager) ClaimDumpArea() (DumpArea, error) {
	for i := range m.areas {
		if !m.areas[i].Claimed {
			m.areas[i].Claimed = true
			return m.areas[i], nil
		}
	}
	return DumpArea{}, fmt.Errorf("supervisor: no free dump area")
}

// ReinitializeDumpAreas releases every area, discarding captured state.
func (m *DumpManager) ReinitializeDumpAreas() {
	for i := range m.areas {
		m.areas[i].Claimed = false
		m.areas[i].OwnerIdx = -1
	}
	m.lastDumpArea = nil
}

// ReinitializeDumpFrom releases every area from index onward.
func (m *DumpManager) ReinitializeDumpFrom(index uint8) error {
	if int(index) >= len(m.areas) {
		return fmt.Errorf("supervisor: no dump area %d", index)
	}
	for i := int(index); i < len(m.areas); i++ {
		m.areas[i].Claimed = false
		m.areas[i].OwnerIdx = -1
	}
	m.lastDumpArea = nil
	return nil
}

// DumpTask claims the next free area on behalf of taskIndex, recording
// ownership. The supervisor has no syscall to copy a peer task's raw
// memory (spec's syscall surface doesn't expose one), so what's
// captured here is bookkeeping — area ownership and ordering — rather
// than byte contents; ReadTaskDumpRegion serves whatever bytes the
// kernel was separately given via Kernel.SetDumpAreas.
func (m *DumpManager) DumpTask(taskIndex int) (uint8, error) {
	area, err := m.ClaimDumpArea()
	if err != nil {
		return 0, err
	}
	m.areas[area.Index].OwnerIdx = taskIndex
	return area.Index, nil
}
