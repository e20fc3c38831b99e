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

// Package image decodes the kernel's App Descriptor, per-task ImageHeader,
// and optional Caboose trailer (spec §6 "External interfaces").
package image

import (
	"encoding/binary"
	"fmt"

	"github.com/oxidecomputer/taskkernel/domain"
)

// DescriptorMagic identifies an App Descriptor (spec §6 table).
const DescriptorMagic uint32 = 0x1DEFA7A1

// HeaderMagic identifies a per-task ImageHeader (spec §6 "Image header").
const HeaderMagic uint32 = 0x64CED6CA

// CabooseMagic identifies an optional trailer (spec §6 "Caboose").
const CabooseMagic uint32 = 0xCAB0005E

const (
	descriptorFixedLen = 32 // bytes 0..32: magic, 3 counts, mask, padding
	taskRecordLen      = 24
	regionRecordLen    = 16
	irqRecordLen       = 12

	maxRegionsPerTask = 8
)

// TaskRecord is one entry of the App Descriptor's task table (spec §6
// "Task record"): up to 8 region indices packed four-per-u32, an entry
// point, an initial stack pointer, a priority, and flags.
type TaskRecord struct {
	RegionIndices [maxRegionsPerTask]uint8
	EntryPoint    uint32
	StackPointer  uint32
	Priority      uint8
	StartAtBoot   bool
}

// RegionRecord is one entry of the App Descriptor's region table.
type RegionRecord struct {
	Base uint32
	Len  uint32
	Perm domain.Permission
}

// IRQRecord is one entry of the App Descriptor's interrupt table.
type IRQRecord struct {
	IRQ            uint32
	OwnerTaskIndex uint32
	NotifyMask     uint32
}

// Descriptor is the fully decoded App Descriptor.
type Descriptor struct {
	TaskCount                  uint32
	RegionCount                uint32
	IRQCount                   uint32
	SupervisorNotificationMask uint32

	Tasks      []TaskRecord
	Regions    []RegionRecord
	Interrupts []IRQRecord
}

// Offsets reports the byte offset of each record table within the
// descriptor, matching spec §8 concrete scenario E.
func Offsets(taskCount, regionCount uint32) (taskOff, regionOff, irqOff int) {
	taskOff = descriptorFixedLen
	regionOff = taskOff + int(taskCount)*taskRecordLen
	irqOff = regionOff + int(regionCount)*regionRecordLen
	return
}

// Parse decodes a little-endian App Descriptor from buf.
func Parse(buf []byte) (*Descriptor, error) {
	if len(buf) < descriptorFixedLen {
		return nil, fmt.Errorf("image: descriptor too short: %d bytes", len(buf))
	}
	magic := binary.LittleEndian.Uint32(buf[0:4])
	if magic != DescriptorMagic {
		return nil, fmt.Errorf("image: bad descriptor magic 0x%08x", magic)
	}

	d := &Descriptor{
		TaskCount:                  binary.LittleEndian.Uint32(buf[4:8]),
		RegionCount:                binary.LittleEndian.Uint32(buf[8:12]),
		IRQCount:                   binary.LittleEndian.Uint32(buf[12:16]),
		SupervisorNotificationMask: binary.LittleEndian.Uint32(buf[16:20]),
	}

	taskOff, regionOff, irqOff := Offsets(d.TaskCount, d.RegionCount)
	end := irqOff + int(d.IRQCount)*irqRecordLen
	if len(buf) < end {
		return nil, fmt.Errorf("image: descriptor truncated: need %d bytes, have %d", end, len(buf))
	}

	d.Tasks = make([]TaskRecord, d.TaskCount)
	for i := range d.Tasks {
		off := taskOff + i*taskRecordLen
		packed0 := binary.LittleEndian.Uint32(buf[off : off+4])
		packed1 := binary.LittleEndian.Uint32(buf[off+4 : off+8])
		var rec TaskRecord
		for j := 0; j < 4; j++ {
			rec.RegionIndices[j] = byte(packed0 >> (8 * j))
			rec.RegionIndices[j+4] = byte(packed1 >> (8 * j))
		}
		rec.EntryPoint = binary.LittleEndian.Uint32(buf[off+8 : off+12])
		rec.StackPointer = binary.LittleEndian.Uint32(buf[off+12 : off+16])
		rec.Priority = buf[off+16]
		flags := buf[off+17]
		rec.StartAtBoot = flags&0x1 != 0
		d.Tasks[i] = rec
	}

	d.Regions = make([]RegionRecord, d.RegionCount)
	for i := range d.Regions {
		off := regionOff + i*regionRecordLen
		d.Regions[i] = RegionRecord{
			Base: binary.LittleEndian.Uint32(buf[off : off+4]),
			Len:  binary.LittleEndian.Uint32(buf[off+4 : off+8]),
			Perm: domain.Permission(binary.LittleEndian.Uint32(buf[off+8 : off+12])),
		}
	}

	d.Interrupts = make([]IRQRecord, d.IRQCount)
	for i := range d.Interrupts {
		off := irqOff + i*irqRecordLen
		d.Interrupts[i] = IRQRecord{
			IRQ:            binary.LittleEndian.Uint32(buf[off : off+4]),
			OwnerTaskIndex: binary.LittleEndian.Uint32(buf[off+4 : off+8]),
			NotifyMask:     binary.LittleEndian.Uint32(buf[off+8 : off+12]),
		}
	}

	return d, nil
}

// Header is a per-task ImageHeader (spec §6 "Image header"): it follows
// directly after the task's vector table (stack, entry point, and an
// image-type word whose only accepted value is 4, "signed XIP plain").
type Header struct {
	Magic         uint32
	TotalImageLen uint32
	Version       uint32
	Epoch         uint32
}

const signedXIPPlain = 4

// ParseVectorTableAndHeader decodes a task image's leading vector table
// (stack, entry, image type) and the Header immediately following it.
func ParseVectorTableAndHeader(buf []byte) (stack, entry uint32, hdr Header, err error) {
	if len(buf) < 12+4+4+16+4+4 {
		err = fmt.Errorf("image: task image too short")
		return
	}
	stack = binary.LittleEndian.Uint32(buf[0:4])
	entry = binary.LittleEndian.Uint32(buf[4:8])
	imageType := binary.LittleEndian.Uint32(buf[8:12])
	if imageType != signedXIPPlain {
		err = fmt.Errorf("image: unsupported image type %d", imageType)
		return
	}

	hoff := 12
	magic := binary.LittleEndian.Uint32(buf[hoff : hoff+4])
	if magic != HeaderMagic {
		err = fmt.Errorf("image: bad header magic 0x%08x", magic)
		return
	}
	hdr.Magic = magic
	hdr.TotalImageLen = binary.LittleEndian.Uint32(buf[hoff+4 : hoff+8])
	// hoff+8 .. hoff+24 is the 16-byte padding field.
	hdr.Version = binary.LittleEndian.Uint32(buf[hoff+24 : hoff+28])
	hdr.Epoch = binary.LittleEndian.Uint32(buf[hoff+28 : hoff+32])
	return
}

// FindCaboose scans the tail of a packaged image for the Caboose magic,
// returning its base offset within buf and its length (the bytes between
// the magic and the end of buf, matching the simple trailer layout the
// kernel exposes over KIPC ReadCaboosePos).
func FindCaboose(buf []byte) (base, length uint32, ok bool) {
	if len(buf) < 4 {
		return 0, 0, false
	}
	for i := 0; i+4 <= len(buf); i++ {
		if binary.LittleEndian.Uint32(buf[i:i+4]) == CabooseMagic {
			return uint32(i), uint32(len(buf) - i), true
		}
	}
	return 0, 0, false
}
