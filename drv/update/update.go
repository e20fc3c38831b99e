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

// Package update implements the chunked image-ingestion state machine
// described in spec §4.K: None -> ErasingSectors -> AcceptingData ->
// Complete, with Abort/Failed escape hatches, sector-0 reservation for
// platform-persistent metadata, and one-sector-per-step erase so no
// single syscall's latency is unbounded.
package update

import (
	"errors"
	"fmt"
)

// Phase is the ingestion-state-machine state (spec §4.K diagram).
type Phase int

const (
	PhaseNone Phase = iota
	PhaseErasingSectors
	PhaseAcceptingData
	PhaseComplete
	PhaseAborted
	PhaseFailed
)

func (p Phase) String() string {
	switch p {
	case PhaseNone:
		return "None"
	case PhaseErasingSectors:
		return "ErasingSectors"
	case PhaseAcceptingData:
		return "AcceptingData"
	case PhaseComplete:
		return "Complete"
	case PhaseAborted:
		return "Aborted"
	case PhaseFailed:
		return "Failed"
	default:
		return "Unknown"
	}
}

var (
	ErrInProgress               = errors.New("update: prepare rejected, update already in progress")
	ErrTotalSizeExceedsCapacity = errors.New("update: total size exceeds device capacity")
	ErrNotAcceptingData         = errors.New("update: not accepting data in current phase")
	ErrMismatchedID             = errors.New("update: chunk id does not match in-progress update")
	ErrMismatchedOffset         = errors.New("update: chunk offset does not match expected next offset")
	ErrSector0Reserved          = errors.New("update: write targets reserved sector 0")
	ErrAlreadyComplete          = errors.New("update: cannot abort a completed update")
	ErrNotPreparing             = errors.New("update: not in ErasingSectors phase")
)

// FlashDevice is the erase/program interface a Updater drives.
type FlashDevice interface {
	EraseSector(sectorIndex uint32) error
	WriteBlock(offset uint32, data []byte) error
}

// Config describes the target device's geometry and the staging block
// size used to batch writes.
type Config struct {
	Capacity   uint32
	SectorSize uint32
	BlockSize  int
}

// Updater drives one device's ingestion state machine. The zero value
// is not usable; construct with New.
type Updater struct {
	flash FlashDevice
	cfg   Config

	phase Phase

	id        uint32
	slot      uint8
	totalSize uint32

	sectorsToErase []uint32
	nextEraseIdx   int

	expectedOffset uint32
	flushOffset    uint32
	staging        []byte
}

// New builds an Updater targeting flash, using cfg's geometry.
func New(flash FlashDevice, cfg Config) *Updater {
	return &Updater{flash: flash, cfg: cfg, phase: PhaseNone}
}

// Phase returns the current state.
func (u *Updater) Phase() Phase { return u.phase }

// Prepare starts a new update into slot, rejecting if one is already in
// ErasingSectors or AcceptingData (spec §4.K "Prepare rejects..."). It
// computes the sectors to erase over the device's full geometry,
// preserving sector 0, and returns the update id chunks must present to
// Ingest/Abort.
func (u *Updater) Prepare(slot uint8, totalSize uint32) (uint32, error) {
	if u.phase == PhaseErasingSectors || u.phase == PhaseAcceptingData {
		return 0, ErrInProgress
	}
	if totalSize > u.cfg.Capacity {
		return 0, ErrTotalSizeExceedsCapacity
	}

	sectorCount := u.cfg.Capacity / u.cfg.SectorSize
	u.sectorsToErase = make([]uint32, 0, sectorCount)
	for s := uint32(1); s < sectorCount; s++ {
		u.sectorsToErase = append(u.sectorsToErase, s)
	}
	u.nextEraseIdx = 0

	u.id++
	u.slot = slot
	u.totalSize = totalSize
	u.expectedOffset = 0
	u.flushOffset = 0
	u.staging = u.staging[:0]
	u.phase = PhaseErasingSectors

	return u.id, nil
}

// IsPreparing reports whether erase is still in progress.
func (u *Updater) IsPreparing() bool { return u.phase == PhaseErasingSectors }

// StepPreparation erases the next pending sector and reports whether
// preparation is now complete, letting the server interleave erase
// progress with other work (spec §4.K).
func (u *Updater) StepPreparation() (done bool, err error) {
	if u.phase != PhaseErasingSectors {
		return true, nil
	}
	if u.nextEraseIdx >= len(u.sectorsToErase) {
		u.phase = PhaseAcceptingData
		return true, nil
	}
	sector := u.sectorsToErase[u.nextEraseIdx]
	if err := u.flash.EraseSector(sector); err != nil {
		u.phase = PhaseFailed
		return true, fmt.Errorf("update: erase sector %d: %w", sector, err)
	}
	u.nextEraseIdx++
	if u.nextEraseIdx >= len(u.sectorsToErase) {
		u.phase = PhaseAcceptingData
		return true, nil
	}
	return false, nil
}

// SectorsToErase returns the sectors Prepare computed need erasing.
func (u *Updater) SectorsToErase() []uint32 { return u.sectorsToErase }

// Ingest appends one chunk of the image. id and offset must match the
// in-progress update and its expected next offset; the staging block
// is flushed to flash once full or once the final chunk arrives.
func (u *Updater) Ingest(id uint32, offset uint32, data []byte) error {
	if u.phase != PhaseAcceptingData {
		return ErrNotAcceptingData
	}
	if id != u.id {
		return ErrMismatchedID
	}
	if offset != u.expectedOffset {
		return ErrMismatchedOffset
	}
	if writesReservedSector(offset, data, u.cfg.SectorSize) {
		u.phase = PhaseFailed
		return ErrSector0Reserved
	}

	u.staging = append(u.staging, data...)
	u.expectedOffset += uint32(len(data))

	final := u.expectedOffset >= u.totalSize
	full := u.cfg.BlockSize > 0 && len(u.staging) >= u.cfg.BlockSize
	if full || final {
		if err := u.flush(); err != nil {
			u.phase = PhaseFailed
			return err
		}
	}
	if final {
		u.phase = PhaseComplete
	}
	return nil
}

func (u *Updater) flush() error {
	if len(u.staging) == 0 {
		return nil
	}
	if err := u.flash.WriteBlock(u.flushOffset, u.staging); err != nil {
		return fmt.Errorf("update: write block at %d: %w", u.flushOffset, err)
	}
	u.flushOffset += uint32(len(u.staging))
	u.staging = u.staging[:0]
	return nil
}

// writesReservedSector reports whether [offset, offset+len(data)) overlaps
// sector 0 and carries any non-0xFF byte there (spec §4.K).
func writesReservedSector(offset uint32, data []byte, sectorSize uint32) bool {
	if offset >= sectorSize {
		return false
	}
	end := offset + uint32(len(data))
	overlap := end
	if overlap > sectorSize {
		overlap = sectorSize
	}
	for i := offset; i < overlap; i++ {
		if data[i-offset] != 0xFF {
			return true
		}
	}
	return false
}

// Abort cancels an in-progress update. It is rejected once the update
// has reached Complete (spec §4.K "Abort ... is rejected in Complete").
func (u *Updater) Abort(id uint32) error {
	if u.phase == PhaseComplete {
		return ErrAlreadyComplete
	}
	if id != u.id {
		return ErrMismatchedID
	}
	u.phase = PhaseAborted
	return nil
}
