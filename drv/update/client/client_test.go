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

package client

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oxidecomputer/taskkernel/domain"
)

type fakeDevice struct {
	revision  uint32
	serial    string
	err       error
	powerGood bool
	pgErr     error
}

func (d *fakeDevice) ReadRevision() (uint32, string, error) { return d.revision, d.serial, d.err }
func (d *fakeDevice) ReadPowerGood() (bool, error)          { return d.powerGood, d.pgErr }

func TestPollSuccessKeepsInitialBackoff(t *testing.T) {
	dev := &fakeDevice{revision: 3, serial: "SN1"}
	c := New(dev)
	replaced, err := c.Poll()
	require.NoError(t, err)
	assert.False(t, replaced)
	assert.Equal(t, InitialBackoff, c.NextInterval())
	assert.Equal(t, uint32(3), c.LastRevision())
}

func TestPollFailureDoublesBackoffAndCaps(t *testing.T) {
	dev := &fakeDevice{err: errors.New("bus error")}
	c := New(dev)

	_, err := c.Poll()
	require.Error(t, err)
	assert.Equal(t, domain.Ticks(150_000), c.NextInterval())

	for i := 0; i < 30; i++ {
		_, _ = c.Poll()
	}
	assert.Equal(t, MaxBackoff, c.NextInterval())
}

func TestSerialChangeDetectedAsReplacementAndResetsBackoff(t *testing.T) {
	dev := &fakeDevice{serial: "SN1"}
	c := New(dev)
	_, err := c.Poll()
	require.NoError(t, err)

	dev.err = errors.New("transient")
	_, _ = c.Poll()
	assert.Greater(t, c.NextInterval(), InitialBackoff)

	dev.err = nil
	dev.serial = "SN2"
	replaced, err := c.Poll()
	require.NoError(t, err)
	assert.True(t, replaced)
	assert.Equal(t, InitialBackoff, c.NextInterval())
}

func TestFirstPollIsNeverAReplacement(t *testing.T) {
	dev := &fakeDevice{serial: "SN1"}
	c := New(dev)
	replaced, err := c.Poll()
	require.NoError(t, err)
	assert.False(t, replaced)
}

func TestAwaitPowerGoodSucceedsEventually(t *testing.T) {
	dev := &fakeDevice{powerGood: true}
	c := New(dev)
	ok, err := c.AwaitPowerGood(5)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestAwaitPowerGoodExhaustsAttempts(t *testing.T) {
	dev := &fakeDevice{powerGood: false}
	c := New(dev)
	ok, err := c.AwaitPowerGood(3)
	assert.False(t, ok)
	assert.NoError(t, err)
}
