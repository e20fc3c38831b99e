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

// Package mem implements the kernel's memory region checker (spec §4.A).
package mem

import (
	"sort"

	"github.com/oxidecomputer/taskkernel/domain"
)

// Slice is a half-open address range [Base, End).
type Slice struct {
	Base uint32
	End  uint32
}

// Empty reports whether the slice confers no authority. Empty slices
// always pass CanAccess unconditionally: task code must be free to pass
// them as arguments without owning any memory at all.
func (s Slice) Empty() bool { return s.Base == s.End }

// CanAccess reports whether every byte of s lies within a chain of
// contiguous regions drawn from regions, each satisfying pred. regions
// must be sorted by Base and non-overlapping, the invariant the kernel
// maintains on every task's region table (spec §3 "Memory region").
//
// The routine is allocation-free and touches only indices: a binary
// search locates the region containing s.Base, then a forward walk
// requires each subsequent region's Base to equal the previous region's
// End (no holes) and to satisfy pred, until the accumulated span covers
// s.End. Any predicate failure, gap, or table exhaustion returns false.
func CanAccess(s Slice, regions []domain.Region, pred domain.Predicate) bool {
	if s.Empty() {
		return true
	}
	if s.Base > s.End {
		return false
	}

	idx := sort.Search(len(regions), func(i int) bool {
		return regions[i].End() > s.Base
	})
	if idx == len(regions) || regions[idx].Base > s.Base {
		return false
	}

	cursor := regions[idx].Base
	for i := idx; i < len(regions); i++ {
		r := regions[i]
		if r.Base != cursor {
			return false
		}
		if !pred(r) {
			return false
		}
		cursor = r.End()
		if cursor >= s.End {
			return true
		}
	}
	return false
}
