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

package update

import (
	"errors"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeFlash backs its staging image with an afero in-memory filesystem
// rather than a bare byte slice, so erases and block writes land on a
// real file-like image the way a staged update would on a flash part
// the host simulation stands in for.
type fakeFlash struct {
	fs         afero.Fs
	image      afero.File
	sectorSize uint32
	erased     []uint32
	written    map[uint32][]byte
	eraseErr   error
}

func newFakeFlash() *fakeFlash {
	return newFakeFlashWithCapacity(0x100_0000, 0x10000)
}

func newFakeFlashWithCapacity(capacity, sectorSize uint32) *fakeFlash {
	fs := afero.NewMemMapFs()
	image, err := afero.TempFile(fs, "/", "flash-*.img")
	if err != nil {
		panic(err)
	}
	if err := image.Truncate(int64(capacity)); err != nil {
		panic(err)
	}
	return &fakeFlash{
		fs:         fs,
		image:      image,
		sectorSize: sectorSize,
		written:    make(map[uint32][]byte),
	}
}

func (f *fakeFlash) EraseSector(sector uint32) error {
	if f.eraseErr != nil {
		return f.eraseErr
	}
	blank := make([]byte, f.sectorSize)
	for i := range blank {
		blank[i] = 0xFF
	}
	if _, err := f.image.WriteAt(blank, int64(sector)*int64(f.sectorSize)); err != nil {
		return err
	}
	f.erased = append(f.erased, sector)
	return nil
}

func (f *fakeFlash) WriteBlock(offset uint32, data []byte) error {
	if _, err := f.image.WriteAt(data, int64(offset)); err != nil {
		return err
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	f.written[offset] = cp
	return nil
}

// readBack returns the n bytes staged at offset in the in-memory flash
// image, confirming WriteBlock and EraseSector landed on the afero
// file and not just the bookkeeping map above.
func (f *fakeFlash) readBack(offset uint32, n int) []byte {
	buf := make([]byte, n)
	if _, err := f.image.ReadAt(buf, int64(offset)); err != nil {
		panic(err)
	}
	return buf
}

// TestScenarioC is spec.md §8 scenario C: prepare with slot=1,
// total_size=0x40000, device capacity=0x100_0000, sector size=0x10000
// computes sectors_to_erase = 1..256 (i.e. sectors 1 through 255),
// preserving sector 0.
func TestScenarioC(t *testing.T) {
	flash := newFakeFlash()
	u := New(flash, Config{Capacity: 0x100_0000, SectorSize: 0x10000, BlockSize: 4096})

	id, err := u.Prepare(1, 0x40000)
	require.NoError(t, err)
	assert.Equal(t, uint32(1), id)

	sectors := u.SectorsToErase()
	require.Len(t, sectors, 255)
	assert.Equal(t, uint32(1), sectors[0])
	assert.Equal(t, uint32(255), sectors[len(sectors)-1])
	assert.NotContains(t, sectors, uint32(0))
}

func TestPrepareRejectedWhileInProgress(t *testing.T) {
	flash := newFakeFlash()
	u := New(flash, Config{Capacity: 0x10000 * 4, SectorSize: 0x10000, BlockSize: 16})
	_, err := u.Prepare(0, 0x10000)
	require.NoError(t, err)

	_, err = u.Prepare(0, 0x10000)
	assert.ErrorIs(t, err, ErrInProgress)
}

func TestPrepareRejectsOversizedImage(t *testing.T) {
	flash := newFakeFlash()
	u := New(flash, Config{Capacity: 0x10000, SectorSize: 0x10000, BlockSize: 16})
	_, err := u.Prepare(0, 0x20000)
	assert.ErrorIs(t, err, ErrTotalSizeExceedsCapacity)
}

func stepAllPreparation(t *testing.T, u *Updater) {
	t.Helper()
	for {
		done, err := u.StepPreparation()
		require.NoError(t, err)
		if done {
			break
		}
	}
}

func TestFullIngestionToComplete(t *testing.T) {
	flash := newFakeFlash()
	u := New(flash, Config{Capacity: 0x10000 * 4, SectorSize: 0x10000, BlockSize: 8})
	id, err := u.Prepare(0, 20)
	require.NoError(t, err)

	stepAllPreparation(t, u)
	assert.Equal(t, PhaseAcceptingData, u.Phase())
	assert.Len(t, flash.erased, 3) // sectors 1,2,3 of a 4-sector device

	require.NoError(t, u.Ingest(id, 0x10000, make([]byte, 8)))
	require.NoError(t, u.Ingest(id, 0x10008, make([]byte, 8)))
	require.NoError(t, u.Ingest(id, 0x10010, make([]byte, 4)))

	assert.Equal(t, PhaseComplete, u.Phase())
	assert.Len(t, flash.written, 3) // two full 8-byte blocks, one final 4-byte flush
}

// TestIngestedBytesLandOnTheStagedImage confirms WriteBlock's data
// actually reaches the afero-backed flash image at the written offset,
// not just the test's own bookkeeping map.
func TestIngestedBytesLandOnTheStagedImage(t *testing.T) {
	flash := newFakeFlashWithCapacity(0x10000*4, 0x10000)
	u := New(flash, Config{Capacity: 0x10000 * 4, SectorSize: 0x10000, BlockSize: 8})
	id, err := u.Prepare(0, 8)
	require.NoError(t, err)
	stepAllPreparation(t, u)

	payload := []byte{0xDE, 0xAD, 0xBE, 0xEF, 0x01, 0x02, 0x03, 0x04}
	require.NoError(t, u.Ingest(id, 0x10000, payload))
	assert.Equal(t, PhaseComplete, u.Phase())
	assert.Equal(t, payload, flash.readBack(0x10000, len(payload)))
}

func TestIngestRejectsMismatchedIDAndOffset(t *testing.T) {
	flash := newFakeFlash()
	u := New(flash, Config{Capacity: 0x10000 * 2, SectorSize: 0x10000, BlockSize: 8})
	id, err := u.Prepare(0, 16)
	require.NoError(t, err)
	stepAllPreparation(t, u)

	err = u.Ingest(id+1, 0x10000, make([]byte, 4))
	assert.ErrorIs(t, err, ErrMismatchedID)

	err = u.Ingest(id, 0x10004, make([]byte, 4))
	assert.ErrorIs(t, err, ErrMismatchedOffset)
}

func TestIngestDetectsSector0Write(t *testing.T) {
	flash := newFakeFlash()
	u := New(flash, Config{Capacity: 0x10000 * 2, SectorSize: 0x10000, BlockSize: 8})
	id, err := u.Prepare(0, 0x10000)
	require.NoError(t, err)
	stepAllPreparation(t, u)

	// The first expected chunk starts at offset 0, inside sector 0.
	// A well-formed update never targets that span; if one does and
	// carries non-blank bytes, ingestion must reject it.
	data := []byte{0x01, 0xFF, 0xFF}
	err = u.Ingest(id, 0, data)
	require.ErrorIs(t, err, ErrSector0Reserved)
	assert.Equal(t, PhaseFailed, u.Phase())
}

func TestIngestRejectedOutsideAcceptingData(t *testing.T) {
	flash := newFakeFlash()
	u := New(flash, Config{Capacity: 0x10000, SectorSize: 0x10000, BlockSize: 8})
	err := u.Ingest(1, 0, []byte{1})
	assert.ErrorIs(t, err, ErrNotAcceptingData)
}

func TestAbortRejectedAfterComplete(t *testing.T) {
	flash := newFakeFlash()
	u := New(flash, Config{Capacity: 0x10000 * 2, SectorSize: 0x10000, BlockSize: 8})
	id, err := u.Prepare(0, 4)
	require.NoError(t, err)
	stepAllPreparation(t, u)
	require.NoError(t, u.Ingest(id, 0x10000, make([]byte, 4)))
	require.Equal(t, PhaseComplete, u.Phase())

	err = u.Abort(id)
	assert.ErrorIs(t, err, ErrAlreadyComplete)
}

func TestAbortRequiresMatchingID(t *testing.T) {
	flash := newFakeFlash()
	u := New(flash, Config{Capacity: 0x10000 * 2, SectorSize: 0x10000, BlockSize: 8})
	id, err := u.Prepare(0, 0x10000)
	require.NoError(t, err)

	err = u.Abort(id + 1)
	assert.ErrorIs(t, err, ErrMismatchedID)

	require.NoError(t, u.Abort(id))
	assert.Equal(t, PhaseAborted, u.Phase())
}

func TestStepPreparationFailurePropagates(t *testing.T) {
	flash := newFakeFlash()
	flash.eraseErr = errors.New("flash timeout")
	u := New(flash, Config{Capacity: 0x10000 * 2, SectorSize: 0x10000, BlockSize: 8})
	_, err := u.Prepare(0, 1)
	require.NoError(t, err)

	done, err := u.StepPreparation()
	assert.True(t, done)
	require.Error(t, err)
	assert.Equal(t, PhaseFailed, u.Phase())
}
