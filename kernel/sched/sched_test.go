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

package sched

import (
	"testing"

	"github.com/oxidecomputer/taskkernel/domain"
	"github.com/stretchr/testify/assert"
)

func TestNextPicksHighestPriority(t *testing.T) {
	cands := []Candidate{
		{Index: 0, Priority: 3, State: domain.StateRunnable},
		{Index: 1, Priority: 1, State: domain.StateRunnable},
		{Index: 2, Priority: 2, State: domain.StateRunnable},
	}
	idx, ok := Next(cands)
	assert.True(t, ok)
	assert.Equal(t, domain.TaskIndex(1), idx)
}

func TestNextBreaksTiesByLowerIndex(t *testing.T) {
	cands := []Candidate{
		{Index: 5, Priority: 1, State: domain.StateRunnable},
		{Index: 2, Priority: 1, State: domain.StateRunnable},
	}
	idx, ok := Next(cands)
	assert.True(t, ok)
	assert.Equal(t, domain.TaskIndex(2), idx)
}

func TestNextSkipsNonRunnable(t *testing.T) {
	cands := []Candidate{
		{Index: 0, Priority: 0, State: domain.StateInRecv},
		{Index: 1, Priority: 5, State: domain.StateRunnable},
	}
	idx, ok := Next(cands)
	assert.True(t, ok)
	assert.Equal(t, domain.TaskIndex(1), idx)
}

func TestNextReturnsFalseWhenNoneRunnable(t *testing.T) {
	cands := []Candidate{
		{Index: 0, Priority: 0, State: domain.StateFaulted},
		{Index: 1, Priority: 1, State: domain.StateInRecv},
	}
	_, ok := Next(cands)
	assert.False(t, ok)
}
