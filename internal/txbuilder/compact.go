package txbuilder

import "fmt"

// appendCompactU16 appends a compact-u16 (shortvec) length prefix. Values
// are encoded 7 bits at a time, low bits first, with the high bit of each
// byte marking continuation.
func appendCompactU16(buf []byte, v int) []byte {
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v == 0 {
			return append(buf, b)
		}
		buf = append(buf, b|0x80)
	}
}

// decodeCompactU16 reads a compact-u16 value, returning it and the number
// of bytes consumed.
func decodeCompactU16(data []byte) (int, int, error) {
	v := 0
	for i := 0; i < 3; i++ {
		if i >= len(data) {
			return 0, 0, fmt.Errorf("truncated compact-u16")
		}
		b := data[i]
		v |= int(b&0x7f) << (7 * i)
		if b&0x80 == 0 {
			return v, i + 1, nil
		}
	}
	return 0, 0, fmt.Errorf("compact-u16 too long")
}
