// Package gcr implements the Apple II 6-and-2 Group Code Recording nibble
// codec used to translate between 256-byte logical sectors and the 343-byte
// on-disk nibble stream a Disk II drive actually reads and writes.
package gcr

import "errors"

// PayloadLen is the number of GCR nibbles a single 256-byte logical sector
// encodes to: 86 secondary bytes, 256 primary bytes and one checksum byte.
const PayloadLen = 343

// ErrInvalidNibble is returned by Decode when a nibble does not appear in
// the disk-byte table. HostIO's capture path never decodes what the host
// writes (it reframes the raw nibbles), so the host's own DOS-level
// checksum is the real backstop there.
var ErrInvalidNibble = errors.New("gcr: invalid disk nibble")

// ErrChecksum is returned by Decode when the trailing checksum nibble does
// not close the running XOR chain to zero.
var ErrChecksum = errors.New("gcr: checksum mismatch")

// Encode converts a 256-byte logical sector into its 343-byte GCR nibble
// representation.
func Encode(src *[256]byte) [PayloadLen]byte {
	var out [PayloadLen]byte
	var prev byte
	n := 0

	for i := 0; i < 86; i++ {
		x := flip1[src[i]&3] | flip2[src[i+86]&3]
		if i <= 83 {
			x |= flip3[src[i+172]&3]
		}
		out[n] = diskByte[x^prev]
		n++
		prev = x
	}

	for i := 0; i < 256; i++ {
		v := src[i] >> 2
		out[n] = diskByte[v^prev]
		n++
		prev = v
	}

	out[n] = diskByte[prev]
	return out
}

// Decode converts a 343-byte GCR nibble stream back into its 256-byte
// logical sector, verifying the trailing checksum nibble along the way.
func Decode(nibbles *[PayloadLen]byte) (dst [256]byte, err error) {
	var secondary [86]byte
	var prev byte

	for i := 0; i < 86; i++ {
		e, ok := decodeNibble(nibbles[i])
		if !ok {
			return dst, ErrInvalidNibble
		}
		x := e ^ prev
		secondary[i] = x
		prev = x
	}

	for i := 0; i < 256; i++ {
		e, ok := decodeNibble(nibbles[86+i])
		if !ok {
			return dst, ErrInvalidNibble
		}
		v := e ^ prev
		dst[i] |= v << 2
		prev = v
	}

	chk, ok := decodeNibble(nibbles[342])
	if !ok {
		return dst, ErrInvalidNibble
	}
	if chk^prev != 0 {
		return dst, ErrChecksum
	}

	for i := 0; i < 86; i++ {
		x := secondary[i]
		dst[i] |= flip1[x&3]
		dst[i+86] |= flip1[(x>>2)&3]
		if i <= 83 {
			dst[i+172] |= flip1[(x>>4)&3]
		}
	}
	return dst, nil
}

// decodeNibble looks up the 6-bit value a disk byte encodes. The zero entry
// of fromDiskByte is ambiguous between "decodes to 0" and "never encoded",
// so it is disambiguated against diskByte[0] directly.
func decodeNibble(b byte) (value byte, ok bool) {
	v := fromDiskByte[b]
	if v == 0 && b != diskByte[0] {
		return 0, false
	}
	return v, true
}
