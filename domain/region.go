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

// Permission is a bitmask of the access rights a memory region grants.
// See spec §3 "Memory region": {read, write, execute, device, dma} at
// minimum.
type Permission uint8

const (
	PermRead Permission = 1 << iota
	PermWrite
	PermExecute
	PermDevice
	PermDMA
)

// Has reports whether p grants every bit set in want.
func (p Permission) Has(want Permission) bool {
	return p&want == want
}

func (p Permission) String() string {
	s := ""
	if p.Has(PermRead) {
		s += "r"
	} else {
		s += "-"
	}
	if p.Has(PermWrite) {
		s += "w"
	} else {
		s += "-"
	}
	if p.Has(PermExecute) {
		s += "x"
	} else {
		s += "-"
	}
	if p.Has(PermDevice) {
		s += "d"
	} else {
		s += "-"
	}
	if p.Has(PermDMA) {
		s += "a"
	} else {
		s += "-"
	}
	return s
}

// Region is a single entry of a task's memory region table: a contiguous
// address range and the permissions granted over it (spec §3 "Memory
// region").
type Region struct {
	Base  uint32
	Len   uint32
	Perm  Permission
}

// End returns the exclusive end address of the region.
func (r Region) End() uint32 {
	return r.Base + r.Len
}

// Predicate reports whether a region satisfies whatever access a caller
// is attempting (read-only, read-write, device-mapped, and so on). The
// region checker in kernel/mem is predicate-agnostic; predicates are
// supplied by callers such as the syscall layer's lease-borrow checks.
type Predicate func(Region) bool

// IsReadable is a Predicate requiring PermRead.
func IsReadable(r Region) bool { return r.Perm.Has(PermRead) }

// IsWritable is a Predicate requiring PermWrite.
func IsWritable(r Region) bool { return r.Perm.Has(PermWrite) }

// IsReadWrite is a Predicate requiring both PermRead and PermWrite.
func IsReadWrite(r Region) bool { return r.Perm.Has(PermRead | PermWrite) }
