package binutil

import "math"

// S7 memory is big-endian (ABCD) for every multi-byte type.

func ParseUint16BigEndian(buf []byte) uint16 {
	return uint16(buf[0])<<8 + uint16(buf[1])
}

// ABCD
func ParseUint32BigEndian(buf []byte) uint32 {
	return uint32(buf[0])<<24 +
		uint32(buf[1])<<16 +
		uint32(buf[2])<<8 +
		uint32(buf[3])
}

func ParseInt16BigEndian(buf []byte) int16 {
	return int16(ParseUint16BigEndian(buf))
}

func ParseFloat32BigEndian(buf []byte) float32 {
	return math.Float32frombits(ParseUint32BigEndian(buf))
}

// WriteUint16 编码
func WriteUint16(buf []byte, value uint16) {
	buf[0] = byte(value >> 8)
	buf[1] = byte(value)
}

// WriteUint32 编码
func WriteUint32(buf []byte, value uint32) {
	buf[0] = byte(value >> 24)
	buf[1] = byte(value >> 16)
	buf[2] = byte(value >> 8)
	buf[3] = byte(value)
}

// WriteFloat32 编码
func WriteFloat32(buf []byte, value float32) {
	WriteUint32(buf, math.Float32bits(value))
}

// TestBit reports whether bit (0 = LSB) of b is set.
func TestBit(b byte, bit uint8) bool {
	return b&(1<<(bit&0x07)) != 0
}

// SetBit returns b with bit (0 = LSB) set to value.
func SetBit(b byte, bit uint8, value bool) byte {
	mask := byte(1 << (bit & 0x07))
	if value {
		return b | mask
	}
	return b &^ mask
}

// Dup 复制
func Dup(buf []byte) []byte {
	b := make([]byte, len(buf))
	copy(b, buf)
	return b
}
