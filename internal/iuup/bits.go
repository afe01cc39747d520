package iuup

import (
	"errors"
	"fmt"
)

// ErrBoundsViolation reports a read past the end of the frame.
var ErrBoundsViolation = errors.New("iuup: bounds violation")

// ExtractBits copies bitCount bits starting at bit bitOff of buf[byteOff].
// The result spans ceil((bitOff+bitCount)/8) bytes with the field
// left-aligned and all bits after it cleared.
func ExtractBits(buf []byte, byteOff, bitOff, bitCount int) ([]byte, error) {
	if bitOff < 0 || bitOff > 7 || bitCount < 0 || byteOff < 0 {
		return nil, fmt.Errorf("%w: byte %d bit %d count %d", ErrBoundsViolation, byteOff, bitOff, bitCount)
	}
	span := (bitOff + bitCount + 7) / 8
	if byteOff+span > len(buf) {
		return nil, fmt.Errorf("%w: %d bits at byte %d bit %d exceed %d bytes",
			ErrBoundsViolation, bitCount, byteOff, bitOff, len(buf))
	}
	src := buf[byteOff : byteOff+span]
	out := make([]byte, span)
	for i := range out {
		out[i] = src[i] << uint(bitOff)
		if bitOff > 0 && i+1 < span {
			out[i] |= src[i+1] >> uint(8-bitOff)
		}
	}
	full := bitCount / 8
	if rem := bitCount % 8; rem != 0 {
		out[full] &= 0xFF << uint(8-rem)
		full++
	}
	for i := full; i < span; i++ {
		out[i] = 0
	}
	return out, nil
}

func need(buf []byte, off, n int) error {
	if off < 0 || n < 0 || off+n > len(buf) {
		return fmt.Errorf("%w: need %d bytes at offset %d, have %d", ErrBoundsViolation, n, off, len(buf))
	}
	return nil
}
