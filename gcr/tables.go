package gcr

// diskByte is the 64-entry "6-and-2" translate table: each of the 64 possible
// 6-bit values maps to an 8-bit disk byte with the high bit always set and no
// two consecutive zero bits, which is what lets the drive's analog read
// circuitry find bit-cell boundaries without a separate clock track.
var diskByte = [64]byte{
	0x96, 0x97, 0x9a, 0x9b, 0x9d, 0x9e, 0x9f, 0xa6,
	0xa7, 0xab, 0xac, 0xad, 0xae, 0xaf, 0xb2, 0xb3,
	0xb4, 0xb5, 0xb6, 0xb7, 0xb9, 0xba, 0xbb, 0xbc,
	0xbd, 0xbe, 0xbf, 0xcb, 0xcd, 0xce, 0xcf, 0xd3,
	0xd6, 0xd7, 0xd9, 0xda, 0xdb, 0xdc, 0xdd, 0xde,
	0xdf, 0xe5, 0xe6, 0xe7, 0xe9, 0xea, 0xeb, 0xec,
	0xed, 0xee, 0xef, 0xf2, 0xf3, 0xf4, 0xf5, 0xf6,
	0xf7, 0xf9, 0xfa, 0xfb, 0xfc, 0xfd, 0xfe, 0xff,
}

// fromDiskByte is the inverse of diskByte: fromDiskByte[b] recovers the
// 6-bit value encoded by b, or 0 if b never appears in diskByte.
var fromDiskByte [256]byte

// flip1, flip2 and flip3 interleave the low two bits of three source bytes
// spaced 86 and 172 bytes apart into a single 6-bit value, per the Apple
// DOS 3.3/ProDOS 6-and-2 encoder.
var (
	flip1 = [4]byte{0x00, 0x02, 0x01, 0x03}
	flip2 = [4]byte{0x00, 0x08, 0x04, 0x0c}
	flip3 = [4]byte{0x00, 0x20, 0x10, 0x30}
)

func init() {
	for i, b := range diskByte {
		fromDiskByte[b] = byte(i)
	}
}
