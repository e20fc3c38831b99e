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

// Package fram implements the driver pattern for the Fujitsu MB85RS
// family of SPI FRAM chips (spec §4.J): manufacturer/product-id
// verification on construction, a scope-bound write-enable handle that
// the driver limits to one live instance at a time (checked at run
// time), and
// chip-size-selected address width.
package fram

import (
	"fmt"
	"sync"
)

// FujitsuManufacturerID is the expected RDID manufacturer byte (spec
// §4.J: "0x04 = Fujitsu").
const FujitsuManufacturerID = 0x04

// ChipType describes one member of the MB85RS family: its total byte
// capacity and the product-id value RDID should report for that
// capacity.
type ChipType struct {
	Name      string
	Size      uint32
	ProductID uint16
}

// MB85RS256TY is the 256 Kibit (32 KiB) family member used in spec.md
// scenario D.
var MB85RS256TY = ChipType{Name: "MB85RS256TY", Size: 32768, ProductID: 0x2503}

// Transport is the SPI-like byte interface a Fram drives.
type Transport interface {
	ReadID() (manufacturer byte, productID uint16, err error)
	ReadAt(addr uint32, buf []byte) error
	WriteAt(addr uint32, data []byte) error
	SetWriteEnable(enabled bool) error
}

// Fram is a driver instance bound to one chip. Construct with New,
// which verifies the chip identity and clears any stale write-enable
// latch.
type Fram struct {
	transport Transport
	chip      ChipType
	maxAddr   uint32
	addrBytes int

	mu   sync.Mutex
	held bool
}

// New verifies transport is talking to the expected chip type and
// returns a ready Fram. Per spec §4.J it unconditionally clears the
// write-enable latch first, recovering from a mid-write restart that
// left it set.
func New(transport Transport, chip ChipType) (*Fram, error) {
	mfr, pid, err := transport.ReadID()
	if err != nil {
		return nil, fmt.Errorf("fram: read id: %w", err)
	}
	if mfr != FujitsuManufacturerID {
		return nil, fmt.Errorf("fram: unexpected manufacturer id 0x%02x", mfr)
	}
	if pid != chip.ProductID {
		return nil, fmt.Errorf("fram: product id 0x%04x does not match %s (want 0x%04x)", pid, chip.Name, chip.ProductID)
	}
	if err := transport.SetWriteEnable(false); err != nil {
		return nil, fmt.Errorf("fram: clear write-enable latch: %w", err)
	}

	addrBytes := 3
	if chip.Size <= 64*1024 {
		addrBytes = 2
	}

	return &Fram{
		transport: transport,
		chip:      chip,
		maxAddr:   chip.Size - 1,
		addrBytes: addrBytes,
	}, nil
}

// Size is the chip's total byte capacity.
func (f *Fram) Size() uint32 { return f.chip.Size }

// MaxAddr is the highest valid byte address (spec §4.J "Bounds").
func (f *Fram) MaxAddr() uint32 { return f.maxAddr }

// AddrBytes is the address width selected from the chip's capacity:
// 2 bytes for chips up to 64 KiB, 3 bytes above that.
func (f *Fram) AddrBytes() int { return f.addrBytes }

func (f *Fram) checkBounds(addr uint32, n int) {
	if n == 0 {
		return
	}
	last := addr + uint32(n) - 1
	if addr > f.maxAddr || last > f.maxAddr {
		panic(fmt.Sprintf("fram: access [%d, %d] exceeds MAX_ADDR %d", addr, last, f.maxAddr))
	}
}

// Read reads len(buf) bytes starting at addr. Reading requires no
// write-enable latch on FRAM hardware, so it is available directly on
// Fram rather than only through a WriteHandle. An out-of-bounds access
// is a programmer error and panics (spec §4.J "Bounds"), the same way
// the original halts the task.
func (f *Fram) Read(addr uint32, buf []byte) error {
	f.checkBounds(addr, len(buf))
	return f.transport.ReadAt(addr, buf)
}

// WriteHandle is the scope-bound handle WriteEnable returns. Only one
// may exist per Fram at a time; Close releases it and clears the
// write-enable latch unconditionally, even after a failed write.
type WriteHandle struct {
	fram   *Fram
	closed bool
}

// WriteEnable sets the write-enable latch and returns a handle scoped
// to this call. Callers must Close the handle (typically via defer)
// when done; attempting a second WriteEnable while one is outstanding
// fails, since the Fram tracks whether a *WriteHandle is still held.
func (f *Fram) WriteEnable() (*WriteHandle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.held {
		return nil, fmt.Errorf("fram: write handle already held")
	}
	if err := f.transport.SetWriteEnable(true); err != nil {
		return nil, err
	}
	f.held = true
	return &WriteHandle{fram: f}, nil
}

// Write writes data starting at addr, relying on the chip's
// auto-increment behavior within one chip-select assertion to stream
// the whole payload after a single opcode+address prefix.
func (h *WriteHandle) Write(addr uint32, data []byte) error {
	h.fram.checkBounds(addr, len(data))
	return h.fram.transport.WriteAt(addr, data)
}

// Read is the handle-scoped equivalent of Fram.Read, exposed per spec
// §4.J ("the handle exposes write, read, and read_id").
func (h *WriteHandle) Read(addr uint32, buf []byte) error {
	return h.fram.Read(addr, buf)
}

// ReadID re-reads the chip's manufacturer/product id through the held
// handle.
func (h *WriteHandle) ReadID() (byte, uint16, error) {
	return h.fram.transport.ReadID()
}

// Close clears the write-enable latch and releases the handle. It is
// safe to call multiple times and must be called on every exit path
// (including error paths) to recover the latch.
func (h *WriteHandle) Close() error {
	h.fram.mu.Lock()
	defer h.fram.mu.Unlock()
	if h.closed {
		return nil
	}
	h.closed = true
	h.fram.held = false
	return h.fram.transport.SetWriteEnable(false)
}
