// Package nic assembles and parses the 416-byte (padded to 512) NIC physical
// sector format: gap bytes, address and data field framing, and the 343-byte
// GCR nibble payload a Disk II drive actually streams to the host.
package nic

import (
	"errors"

	"github.com/retrofloppy/diskii/gcr"
)

// BlockLen is the SD-card block size a NIC physical sector is padded to.
// The meaningful NIC content only occupies the first 416 bytes; the
// remaining 96 bytes are always zero.
const BlockLen = 512

// Logical layout offsets, see SPEC_FULL.md §4.5.
const (
	offGap1       = 0x00
	lenGap1       = 0x16 - 0x00
	offSyncHeader = 0x16
	offAddrProlog = 0x22
	offAddrField  = 0x25
	lenAddrField  = 8
	offAddrEpilog = 0x2D
	offGap2       = 0x30
	lenGap2       = 0x35 - 0x30
	offDataProlog = 0x35
	offPayload    = 0x38
	offDataEpilog = 0x18F
	offTrailerGap = 0x192
	lenTrailerGap = 0x1A0 - 0x192
	offPad        = 0x1A0
	lenPad        = BlockLen - 0x1A0
)

var syncHeader = [12]byte{0x03, 0xFC, 0xFF, 0x3F, 0xCF, 0xF3, 0xFC, 0xFF, 0x3F, 0xCF, 0xF3, 0xFC}

var (
	addrPrologue = [3]byte{0xD5, 0xAA, 0x96}
	addrEpilogue = [3]byte{0xDE, 0xAA, 0xEB}
	dataPrologue = [3]byte{0xD5, 0xAA, 0xAD}
	dataEpilogue = [3]byte{0xDE, 0xAA, 0xEB}
)

// ErrShortBlock is returned when a byte slice passed to Parse is not a full
// 512-byte SD block.
var ErrShortBlock = errors.New("nic: block is not 512 bytes")

// ErrBadFraming is returned when a parsed block's sync marks don't match the
// expected prologue/epilogue sequences.
var ErrBadFraming = errors.New("nic: address or data field framing mismatch")

// Encode4and4 splits a byte into the two-byte "4-and-4" encoding used for
// address-field fields: the odd bits (shifted down) ORed with 0xAA, then the
// even bits ORed with 0xAA.
func Encode4and4(v byte) (odd, even byte) {
	return (v >> 1) | 0xAA, v | 0xAA
}

// Decode4and4 inverts Encode4and4.
func Decode4and4(odd, even byte) byte {
	return ((odd << 1) | 0x01) & even
}

// Address identifies a physical sector's address field.
type Address struct {
	Volume byte
	Track  byte
	Sector byte
}

func (a Address) checksum() byte {
	return a.Volume ^ a.Track ^ a.Sector
}

// Assemble builds a full 512-byte SD block containing one NIC physical
// sector: gaps, address field, data field, and the GCR-encoded payload.
func Assemble(addr Address, sector *[256]byte) [BlockLen]byte {
	payload := gcr.Encode(sector)
	return AssembleRaw(addr, &payload)
}

// AssembleRaw builds a full 512-byte SD block from an already GCR-encoded
// 343-byte payload, skipping the encode step. Used by the write-back path,
// which reframes nibbles the host already wrote rather than re-encoding a
// logical sector.
func AssembleRaw(addr Address, payload *[gcr.PayloadLen]byte) [BlockLen]byte {
	var blk [BlockLen]byte

	for i := 0; i < lenGap1; i++ {
		blk[offGap1+i] = 0xFF
	}
	copy(blk[offSyncHeader:], syncHeader[:])
	copy(blk[offAddrProlog:], addrPrologue[:])

	fields := [4]byte{addr.Volume, addr.Track, addr.Sector, addr.checksum()}
	for i, v := range fields {
		odd, even := Encode4and4(v)
		blk[offAddrField+2*i] = odd
		blk[offAddrField+2*i+1] = even
	}
	copy(blk[offAddrEpilog:], addrEpilogue[:])

	for i := 0; i < lenGap2; i++ {
		blk[offGap2+i] = 0xFF
	}
	copy(blk[offDataProlog:], dataPrologue[:])

	copy(blk[offPayload:], payload[:])

	copy(blk[offDataEpilog:], dataEpilogue[:])

	for i := 0; i < lenTrailerGap; i++ {
		blk[offTrailerGap+i] = 0xFF
	}
	// blk[offPad:] is already zero, matching the spec's fixed 96-byte pad.

	return blk
}

// Parse recovers the Address and decoded 256-byte sector from a raw
// 512-byte SD block previously produced by Assemble.
func Parse(blk []byte) (Address, [256]byte, error) {
	var sector [256]byte
	if len(blk) != BlockLen {
		return Address{}, sector, ErrShortBlock
	}
	if !equalAt(blk, offAddrProlog, addrPrologue[:]) || !equalAt(blk, offAddrEpilog, addrEpilogue[:]) {
		return Address{}, sector, ErrBadFraming
	}
	if !equalAt(blk, offDataProlog, dataPrologue[:]) || !equalAt(blk, offDataEpilog, dataEpilogue[:]) {
		return Address{}, sector, ErrBadFraming
	}

	var fields [4]byte
	for i := range fields {
		odd := blk[offAddrField+2*i]
		even := blk[offAddrField+2*i+1]
		fields[i] = Decode4and4(odd, even)
	}
	addr := Address{Volume: fields[0], Track: fields[1], Sector: fields[2]}
	if fields[3] != addr.checksum() {
		return addr, sector, ErrBadFraming
	}

	var payload [gcr.PayloadLen]byte
	copy(payload[:], blk[offPayload:offPayload+gcr.PayloadLen])
	sector, err := gcr.Decode(&payload)
	if err != nil {
		return addr, sector, err
	}
	return addr, sector, nil
}

func equalAt(blk []byte, off int, want []byte) bool {
	for i, b := range want {
		if blk[off+i] != b {
			return false
		}
	}
	return true
}
