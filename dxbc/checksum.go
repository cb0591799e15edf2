package dxbc

import "encoding/binary"

// The container digest is MD5 with nonstandard finalization: the bit count
// is folded into the last block directly instead of the usual 8-byte
// length trailer, with (bits>>2)|1 in the final dword. crypto/md5 cannot
// express this, so the block function is implemented here.

type digestState [4]uint32

func newDigestState() digestState {
	return digestState{0x67452301, 0xefcdab89, 0x98badcfe, 0x10325476}
}

var digestK = [64]uint32{
	0xd76aa478, 0xe8c7b756, 0x242070db, 0xc1bdceee,
	0xf57c0faf, 0x4787c62a, 0xa8304613, 0xfd469501,
	0x698098d8, 0x8b44f7af, 0xffff5bb1, 0x895cd7be,
	0x6b901122, 0xfd987193, 0xa679438e, 0x49b40821,
	0xf61e2562, 0xc040b340, 0x265e5a51, 0xe9b6c7aa,
	0xd62f105d, 0x02441453, 0xd8a1e681, 0xe7d3fbc8,
	0x21e1cde6, 0xc33707d6, 0xf4d50d87, 0x455a14ed,
	0xa9e3e905, 0xfcefa3f8, 0x676f02d9, 0x8d2a4c8a,
	0xfffa3942, 0x8771f681, 0x6d9d6122, 0xfde5380c,
	0xa4beea44, 0x4bdecfa9, 0xf6bb4b60, 0xbebfbc70,
	0x289b7ec6, 0xeaa127fa, 0xd4ef3085, 0x04881d05,
	0xd9d4d039, 0xe6db99e5, 0x1fa27cf8, 0xc4ac5665,
	0xf4292244, 0x432aff97, 0xab9423a7, 0xfc93a039,
	0x655b59c3, 0x8f0ccc92, 0xffeff47d, 0x85845dd1,
	0x6fa87e4f, 0xfe2ce6e0, 0xa3014314, 0x4e0811a1,
	0xf7537e82, 0xbd3af235, 0x2ad7d2bb, 0xeb86d391,
}

var digestShift = [64]uint32{
	7, 12, 17, 22, 7, 12, 17, 22, 7, 12, 17, 22, 7, 12, 17, 22,
	5, 9, 14, 20, 5, 9, 14, 20, 5, 9, 14, 20, 5, 9, 14, 20,
	4, 11, 16, 23, 4, 11, 16, 23, 4, 11, 16, 23, 4, 11, 16, 23,
	6, 10, 15, 21, 6, 10, 15, 21, 6, 10, 15, 21, 6, 10, 15, 21,
}

func (s *digestState) transform(block []byte) {
	var m [16]uint32
	for i := range m {
		m[i] = binary.LittleEndian.Uint32(block[i*4:])
	}

	a, b, c, d := s[0], s[1], s[2], s[3]
	for i := 0; i < 64; i++ {
		var f uint32
		var g int
		switch {
		case i < 16:
			f = (b & c) | (^b & d)
			g = i
		case i < 32:
			f = (d & b) | (^d & c)
			g = (5*i + 1) % 16
		case i < 48:
			f = b ^ c ^ d
			g = (3*i + 5) % 16
		default:
			f = c ^ (b | ^d)
			g = (7 * i) % 16
		}
		tmp := d
		d = c
		c = b
		sum := a + f + digestK[i] + m[g]
		sh := digestShift[i]
		b += (sum << sh) | (sum >> (32 - sh))
		a = tmp
	}

	s[0] += a
	s[1] += b
	s[2] += c
	s[3] += d
}

// Checksum computes the container digest over data, which must be the
// container bytes starting after the magic and digest fields.
func Checksum(data []byte) [16]byte {
	st := newDigestState()

	full := len(data) &^ 63
	for off := 0; off < full; off += 64 {
		st.transform(data[off : off+64])
	}

	tail := data[full:]
	bits := uint32(len(data) * 8)

	var block [64]byte
	if len(tail) >= 56 {
		copy(block[:], tail)
		block[len(tail)] = 0x80
		st.transform(block[:])

		block = [64]byte{}
		binary.LittleEndian.PutUint32(block[0:], bits)
		binary.LittleEndian.PutUint32(block[60:], (bits>>2)|1)
		st.transform(block[:])
	} else {
		binary.LittleEndian.PutUint32(block[0:], bits)
		copy(block[4:], tail)
		block[4+len(tail)] = 0x80
		binary.LittleEndian.PutUint32(block[60:], (bits>>2)|1)
		st.transform(block[:])
	}

	var out [16]byte
	for i, v := range st {
		binary.LittleEndian.PutUint32(out[i*4:], v)
	}
	return out
}
