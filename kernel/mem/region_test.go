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

package mem

import (
	"testing"

	"github.com/oxidecomputer/taskkernel/domain"
	"github.com/stretchr/testify/assert"
)

// good and bad stand in for the good/bad label the fixture regions carry
// in the original test suite; the label is folded into Permission so the
// predicate can stay a domain.Predicate.
const (
	good domain.Permission = domain.PermRead | domain.PermWrite
	bad  domain.Permission = domain.PermDevice
)

const (
	goodRegion0Idx = 0
	goodRegion1Idx = 1
	badRegion0Idx  = 2
	badRegion1Idx  = 3
	goodRegion2Idx = 4
	badRegion2Idx  = 5
)

// fakeRegionTable mirrors the Rust suite's make_fake_region_table: two
// adjacent good ranges low in the address space with nothing mapped
// around them, then an alternating good/bad run higher up.
func fakeRegionTable() []domain.Region {
	return []domain.Region{
		{Base: 0x0099_0000, Len: 0x0001_0000, Perm: good},
		{Base: 0x009A_0000, Len: 0x0001_0000, Perm: good},
		{Base: 0x1234_5678, Len: 0x0001_0000, Perm: bad},
		{Base: 0x1235_5678, Len: 0x0001_0000, Perm: bad},
		{Base: 0x1236_5678, Len: 0x0001_0000, Perm: good},
		{Base: 0x1237_5678, Len: 0x0001_0000, Perm: bad},
		{Base: 0x1238_5678, Len: 0x0001_0000, Perm: good},
	}
}

func acceptAnyRegion(domain.Region) bool { return true }
func acceptOnlyGood(r domain.Region) bool { return r.Perm == good }

func TestCanAccessSingleGoodRegion(t *testing.T) {
	table := fakeRegionTable()
	for _, i := range []int{goodRegion0Idx, goodRegion1Idx} {
		s := Slice{Base: table[i].Base + 10, End: table[i].Base + 10 + (table[i].Len - 20)}
		assert.True(t, CanAccess(s, table, acceptOnlyGood), "should be able to access good region %d but cannot", i)
	}
}

func TestCannotAccessSingleBadRegion(t *testing.T) {
	table := fakeRegionTable()
	for _, i := range []int{badRegion0Idx, badRegion1Idx, badRegion2Idx} {
		s := Slice{Base: table[i].Base + 10, End: table[i].Base + 10 + (table[i].Len - 20)}
		assert.False(t, CanAccess(s, table, acceptOnlyGood), "should NOT be able to access bad region %d but can", i)
	}
}

func TestCannotAccessUncontainedMemory(t *testing.T) {
	var last uint32
	table := fakeRegionTable()
	for _, r := range table {
		if last != r.Base {
			s := Slice{Base: last, End: r.Base}
			assert.False(t, CanAccess(s, table, acceptAnyRegion),
				"should NOT be able to access range 0x%x - 0x%x but can", last, r.Base)
		}
		last = r.End()
	}
}

func TestCanAccessOverlappingAdjacentGoodRegions(t *testing.T) {
	table := fakeRegionTable()
	base := table[goodRegion0Idx].Base + 10
	end := table[goodRegion1Idx].End() - 10
	assert.True(t, CanAccess(Slice{Base: base, End: end}, table, acceptOnlyGood),
		"should be able to access slice that spans adjacent ranges, cannot")
}

func TestCannotAccessOverlappingAdjacentBadRegions(t *testing.T) {
	table := fakeRegionTable()
	base := table[badRegion0Idx].Base + 10
	end := table[badRegion1Idx].End() - 10
	assert.False(t, CanAccess(Slice{Base: base, End: end}, table, acceptOnlyGood),
		"should NOT be able to access slice that spans adjacent bad ranges, but can")
}

func TestCannotAccessContiguousRegionsWithBadRegionInterleaved(t *testing.T) {
	table := fakeRegionTable()
	base := table[goodRegion2Idx].Base + 10
	end := table[6].End() - 10 // goodRegion3Idx
	assert.False(t, CanAccess(Slice{Base: base, End: end}, table, acceptOnlyGood),
		"should NOT be able to access slice that starts and ends in good ranges but passes through bad one, but can")
}

func TestCannotAccessSliceSpanningOverUncontainedMemory(t *testing.T) {
	// Custom region table, separated by 64 KiB of uncontained memory, so
	// as not to spuriously overlap TestCannotAccessUncontainedMemory.
	table := []domain.Region{
		{Base: 0x1238_5678, Len: 0x0001_0000, Perm: good},
		{Base: 0x123A_5678, Len: 0x0001_0000, Perm: good},
	}
	base := table[0].Base + 10
	end := table[1].End() - 10
	assert.False(t, CanAccess(Slice{Base: base, End: end}, table, acceptOnlyGood),
		"should NOT be able to access slice that starts and ends in good ranges but passes through uncontained memory, but can")
}

func TestEmptySliceAlwaysPasses(t *testing.T) {
	table := fakeRegionTable()
	assert.True(t, CanAccess(Slice{Base: 0xDEAD_BEEF, End: 0xDEAD_BEEF}, table, acceptAnyRegion))
	assert.True(t, CanAccess(Slice{}, nil, acceptAnyRegion))
}

func TestCanAccessScenarioB(t *testing.T) {
	// spec.md §8 scenario B.
	regions := []domain.Region{
		{Base: 0x2000_0000, Len: 0x1000, Perm: domain.PermRead | domain.PermWrite},
		{Base: 0x2000_1000, Len: 0x1000, Perm: domain.PermRead | domain.PermWrite},
	}
	s := Slice{Base: 0x2000_0F00, End: 0x2000_1100}
	assert.True(t, CanAccess(s, regions, domain.IsReadWrite))

	regions[1].Perm = domain.PermRead
	assert.False(t, CanAccess(s, regions, domain.IsReadWrite))
}
