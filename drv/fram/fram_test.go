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

package fram

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTransport struct {
	mfr       byte
	pid       uint16
	mem       []byte
	weHistory []bool
}

func newFakeTransport(chip ChipType) *fakeTransport {
	return &fakeTransport{mfr: FujitsuManufacturerID, pid: chip.ProductID, mem: make([]byte, chip.Size)}
}

func (t *fakeTransport) ReadID() (byte, uint16, error) { return t.mfr, t.pid, nil }

func (t *fakeTransport) ReadAt(addr uint32, buf []byte) error {
	copy(buf, t.mem[addr:int(addr)+len(buf)])
	return nil
}

func (t *fakeTransport) WriteAt(addr uint32, data []byte) error {
	copy(t.mem[addr:], data)
	return nil
}

func (t *fakeTransport) SetWriteEnable(enabled bool) error {
	t.weHistory = append(t.weHistory, enabled)
	return nil
}

func TestNewVerifiesIdentityAndClearsLatch(t *testing.T) {
	tr := newFakeTransport(MB85RS256TY)
	f, err := New(tr, MB85RS256TY)
	require.NoError(t, err)
	assert.Equal(t, uint32(32768), f.Size())
	assert.Equal(t, uint32(32767), f.MaxAddr())
	assert.Equal(t, 2, f.AddrBytes())
	require.Len(t, tr.weHistory, 1)
	assert.False(t, tr.weHistory[0])
}

func TestNewRejectsWrongManufacturer(t *testing.T) {
	tr := newFakeTransport(MB85RS256TY)
	tr.mfr = 0x01
	_, err := New(tr, MB85RS256TY)
	assert.Error(t, err)
}

func TestNewRejectsWrongProductID(t *testing.T) {
	tr := newFakeTransport(MB85RS256TY)
	tr.pid = 0xFFFF
	_, err := New(tr, MB85RS256TY)
	assert.Error(t, err)
}

// TestScenarioD is spec.md §8 scenario D: SIZE==32768, MAX_ADDR==32767,
// and a write at (32000, 1000 bytes) panics since it would wrap past
// MAX_ADDR.
func TestScenarioD(t *testing.T) {
	tr := newFakeTransport(MB85RS256TY)
	f, err := New(tr, MB85RS256TY)
	require.NoError(t, err)

	h, err := f.WriteEnable()
	require.NoError(t, err)
	defer h.Close()

	assert.Panics(t, func() {
		_ = h.Write(32000, make([]byte, 1000))
	})
}

func TestWriteWithinBoundsSucceeds(t *testing.T) {
	tr := newFakeTransport(MB85RS256TY)
	f, err := New(tr, MB85RS256TY)
	require.NoError(t, err)

	h, err := f.WriteEnable()
	require.NoError(t, err)
	require.NoError(t, h.Write(0, []byte{1, 2, 3}))
	require.NoError(t, h.Close())

	buf := make([]byte, 3)
	require.NoError(t, f.Read(0, buf))
	assert.Equal(t, []byte{1, 2, 3}, buf)
}

func TestCloseClearsLatchEvenAfterFailedWrite(t *testing.T) {
	tr := newFakeTransport(MB85RS256TY)
	f, err := New(tr, MB85RS256TY)
	require.NoError(t, err)

	h, err := f.WriteEnable()
	require.NoError(t, err)

	func() {
		defer func() { recover() }()
		defer h.Close()
		_ = h.Write(40000, []byte{1}) // out of bounds, panics
	}()

	assert.False(t, tr.weHistory[len(tr.weHistory)-1])

	// A second WriteEnable must now succeed since the handle was
	// released.
	_, err = f.WriteEnable()
	require.NoError(t, err)
}

func TestOnlyOneWriteHandleAtATime(t *testing.T) {
	tr := newFakeTransport(MB85RS256TY)
	f, err := New(tr, MB85RS256TY)
	require.NoError(t, err)

	h1, err := f.WriteEnable()
	require.NoError(t, err)
	defer h1.Close()

	_, err = f.WriteEnable()
	assert.Error(t, err)
}

func TestLargeChipSelectsThreeByteAddressing(t *testing.T) {
	big := ChipType{Name: "MB85RS4MT", Size: 512 * 1024, ProductID: 0x2758}
	tr := newFakeTransport(big)
	f, err := New(tr, big)
	require.NoError(t, err)
	assert.Equal(t, 3, f.AddrBytes())
}

func TestReadOutOfBoundsPanics(t *testing.T) {
	tr := newFakeTransport(MB85RS256TY)
	f, err := New(tr, MB85RS256TY)
	require.NoError(t, err)

	assert.Panics(t, func() {
		_ = f.Read(32767, make([]byte, 2))
	})
}
