package common

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
)

// EncodeUint64 encodes a uint64 value into a byte slice in LittleEndian order
func EncodeUint64(num uint64) []byte {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, num)
	return buf
}

// EncodeWidth returns the low width bytes of value, little endian.
func EncodeWidth(value uint64, width int) []byte {
	if width > 8 {
		width = 8
	}
	return EncodeUint64(value)[:width]
}

// DecodeWidth zero-extends up to 8 little endian bytes.
func DecodeWidth(data []byte) uint64 {
	var buf [8]byte
	copy(buf[:], data)
	return binary.LittleEndian.Uint64(buf[:])
}

// MaskWidth truncates value to width bytes. Widths of 8 or more leave it intact.
func MaskWidth(value uint64, width int) uint64 {
	if width <= 0 {
		return 0
	}
	if width >= 8 {
		return value
	}
	return value & (1<<(8*uint(width)) - 1)
}

// FormatProgramID renders a program id the way content directories are named.
func FormatProgramID(programID uint64) string {
	return fmt.Sprintf("%016x", programID)
}

// ParseProgramID accepts an optional 0x prefix.
func ParseProgramID(s string) (uint64, error) {
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	v, err := strconv.ParseUint(s, 16, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid program id %q: %w", s, err)
	}
	return v, nil
}

// FormatBuildID renders the first 8 bytes of a module build id in upper hex,
// the file stem used for cheat files.
func FormatBuildID(buildID []byte) string {
	n := len(buildID)
	if n > 8 {
		n = 8
	}
	return strings.ToUpper(hex.EncodeToString(buildID[:n]))
}

// ParseHexWord parses exactly 8 hex digits.
func ParseHexWord(s string) (uint32, bool) {
	if len(s) != 8 {
		return 0, false
	}
	v, err := strconv.ParseUint(s, 16, 32)
	if err != nil {
		return 0, false
	}
	return uint32(v), true
}

// Str0x formats a byte slice as 0x-prefixed hex.
func Str0x(b []byte) string {
	return "0x" + hex.EncodeToString(b)
}
