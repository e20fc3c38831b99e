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

package packager

import "fmt"

// Range is a half-open [Start, End) memory range.
type Range struct {
	Start uint32
	End   uint32
}

// Size is the number of bytes the range spans.
func (r Range) Size() uint32 { return r.End - r.Start }

// Allocate carves out power-of-two-aligned, power-of-two-sized
// sub-ranges from free (one named output memory pool per key) to
// satisfy needs (named size requests), mutating free in place to
// reflect what remains. It is a direct port of
// original_source/packager/src/main.rs's allocate function.
func Allocate(free map[string]*Range, needs map[string]uint32) (map[string]Range, error) {
	taken := make(map[string]Range, len(needs))
	for name, need := range needs {
		need = nextPowerOfTwo(need)
		needMask := need - 1

		r, ok := free[name]
		if !ok {
			return nil, fmt.Errorf("packager: unknown output memory %q", name)
		}

		base := (r.Start + needMask) &^ needMask
		if base >= r.End || need > r.End-base {
			return nil, fmt.Errorf("packager: out of %s: can't allocate %d more after base %#x", name, need, base)
		}
		end := base + need
		taken[name] = Range{Start: base, End: end}
		r.Start = end
	}
	return taken, nil
}

func nextPowerOfTwo(n uint32) uint32 {
	if n == 0 {
		return 1
	}
	if n&(n-1) == 0 {
		return n
	}
	p := uint32(1)
	for p < n {
		p <<= 1
	}
	return p
}
