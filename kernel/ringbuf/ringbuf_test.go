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

package ringbuf

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInsertCoalescesRepeatedEntries(t *testing.T) {
	rb := New[int](4)

	rb.Insert(10, 42)
	rb.Insert(10, 42)
	rb.Insert(10, 42)

	last, ok := rb.Last()
	require.True(t, ok)
	assert.Equal(t, uint16(10), last.Line)
	assert.Equal(t, 42, last.Payload)
	assert.Equal(t, uint32(3), last.Count)
}

func TestInsertDifferingPayloadStartsFreshEntry(t *testing.T) {
	rb := New[int](4)

	rb.Insert(10, 42)
	rb.Insert(10, 42)
	rb.Insert(11, 42) // different line
	rb.Insert(11, 43) // different payload

	last, ok := rb.Last()
	require.True(t, ok)
	assert.Equal(t, uint32(1), last.Count)
	assert.Equal(t, 43, last.Payload)

	snap := rb.Snapshot()
	assert.Equal(t, uint32(2), snap[0].Count)
}

func TestInsertWrapsWithoutModulo(t *testing.T) {
	rb := New[int](2)

	rb.Insert(1, 1)
	rb.Insert(2, 2)
	rb.Insert(3, 3) // wraps back to slot 0, overwriting line 1's entry

	snap := rb.Snapshot()
	assert.Equal(t, uint16(3), snap[0].Line)
	assert.Equal(t, uint16(2), snap[0].Generation)
}

func TestInsertGenerationIncrementsOnReuse(t *testing.T) {
	rb := New[int](1)

	rb.Insert(1, 1)
	first := rb.buffer[0].Generation

	rb.Insert(2, 2) // same slot, different line forces a fresh entry
	second := rb.buffer[0].Generation

	assert.Equal(t, first+1, second)
}

func TestCountsTrackPerVariant(t *testing.T) {
	type event int
	const (
		eventA event = iota
		eventB
	)
	c := NewCounters([]event{eventA, eventB})

	c.Count(eventA)
	c.Count(eventA)
	c.Count(eventB)

	snap := c.Snapshot()
	assert.Equal(t, uint32(2), snap[eventA])
	assert.Equal(t, uint32(1), snap[eventB])
}
