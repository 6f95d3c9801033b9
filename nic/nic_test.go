package nic

import (
	"testing"

	"github.com/retrofloppy/diskii/gcr"
	"github.com/stretchr/testify/require"
)

func TestEncode4and4(t *testing.T) {
	cases := []struct {
		v          byte
		odd, even  byte
	}{
		{0xFE, 0xFF, 0xFE},
		{0x11, 0xAA, 0xBB},
		{0x0D, 0xAE, 0xAF},
		{0xE2, 0xFB, 0xEA},
	}
	for _, c := range cases {
		odd, even := Encode4and4(c.v)
		require.Equalf(t, c.odd, odd, "odd byte for %#x", c.v)
		require.Equalf(t, c.even, even, "even byte for %#x", c.v)
		require.Equalf(t, c.v, Decode4and4(odd, even), "round trip for %#x", c.v)
	}
}

func TestAssembleAddressField(t *testing.T) {
	addr := Address{Volume: 0xFE, Track: 0x11, Sector: 0x0D}
	var sector [256]byte
	blk := Assemble(addr, &sector)

	require.Equal(t, addrPrologue[:], blk[offAddrProlog:offAddrProlog+3])
	got := blk[offAddrField : offAddrField+lenAddrField]
	want := []byte{0xFF, 0xFE, 0xAA, 0xBB, 0xAE, 0xAF, 0xFB, 0xEA}
	require.Equal(t, want, got)
	require.Equal(t, addrEpilogue[:], blk[offAddrEpilog:offAddrEpilog+3])
}

func TestAssembleParseRoundTrip(t *testing.T) {
	addr := Address{Volume: 0xFE, Track: 0x22, Sector: 0x0F}
	var sector [256]byte
	for i := range sector {
		sector[i] = byte(i * 7)
	}
	blk := Assemble(addr, &sector)
	require.Len(t, blk, BlockLen)

	gotAddr, gotSector, err := Parse(blk[:])
	require.NoError(t, err)
	require.Equal(t, addr, gotAddr)
	require.Equal(t, sector, gotSector)
}

func TestAssemblePadding(t *testing.T) {
	var sector [256]byte
	blk := Assemble(Address{}, &sector)
	for i := offPad; i < BlockLen; i++ {
		require.Zerof(t, blk[i], "pad byte %d", i)
	}
}

func TestParseShortBlock(t *testing.T) {
	_, _, err := Parse(make([]byte, 100))
	require.ErrorIs(t, err, ErrShortBlock)
}

func TestParseBadFraming(t *testing.T) {
	var sector [256]byte
	blk := Assemble(Address{Volume: 1, Track: 2, Sector: 3}, &sector)
	blk[offAddrProlog] = 0x00
	_, _, err := Parse(blk[:])
	require.ErrorIs(t, err, ErrBadFraming)
}

func TestParsePropagatesGCRError(t *testing.T) {
	var sector [256]byte
	blk := Assemble(Address{Volume: 1, Track: 2, Sector: 3}, &sector)
	blk[offPayload] = 0x00 // never a valid disk nibble
	_, _, err := Parse(blk[:])
	require.ErrorIs(t, err, gcr.ErrInvalidNibble)
}
