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

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// TestTaskIDPacking covers spec §8 concrete scenario A.
func TestTaskIDPacking(t *testing.T) {
	id := NewTaskID(3, 5)
	assert.Equal(t, TaskID(0x1403), id)
	assert.Equal(t, TaskIndex(3), id.Index())
	assert.Equal(t, Generation(5), id.Generation())

	restarted := NewTaskID(3, 6)
	assert.Equal(t, TaskID(0x1803), restarted)

	code := DeadResponseCode(6)
	assert.Equal(t, uint32(0xFFFFFF06), code)

	gen, dead := IsDeadResponseCode(code)
	assert.True(t, dead)
	assert.Equal(t, Generation(6), gen)
}

func TestGenerationWrapsModulo64(t *testing.T) {
	g := Generation(63)
	assert.Equal(t, Generation(0), g.NextGeneration())
}

func TestIsDeadResponseCodeRejectsLiveCodes(t *testing.T) {
	_, dead := IsDeadResponseCode(0)
	assert.False(t, dead)
}
