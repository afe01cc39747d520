package iuup

// Locate returns the first offset in buf where a frame plausibly starts.
// Data frames without CRC pass on the header CRC alone, so random bytes
// occasionally match there. The scan is linear in len(buf).
func Locate(buf []byte) (int, bool) {
	l := locator{buf: buf}
	for off := 0; len(buf)-off > 3; off++ {
		if l.plausible(off) {
			return off, true
		}
	}
	return 0, false
}

func plausibleFrame(b []byte) bool {
	l := locator{buf: b}
	return l.plausible(0)
}

// locator checks candidate frame starts within one buffer. Payload CRCs of
// every candidate share the buffer's tail, so the remainder of each suffix
// is computed once, on the first candidate that needs it.
type locator struct {
	buf    []byte
	suffix []uint16
}

func (l *locator) plausible(off int) bool {
	b := l.buf[off:]
	if HeaderCRC6([2]byte{b[0], b[1]}) != b[2]>>2 {
		return false
	}
	switch PDUType(b[0] >> 4) {
	case PDUDataWithCRC:
		return len(b) >= 7 && l.payloadCRC(off) == 0
	case PDUDataNoCRC:
		return len(b) >= 5
	case PDUControl:
		return len(b) >= 5 && ProcedureID(b[1]&procedureMask) <= ProcErrorEvent
	default:
		return false
	}
}

// payloadCRC equals PayloadCRC10(buf[off:], 2, len(buf)-off-4): the payload
// buf[off+4:] times x^16 plus the stored CRC times x^6, modulo the generator.
func (l *locator) payloadCRC(off int) uint16 {
	if l.suffix == nil {
		l.suffix = crc10Suffixes(l.buf)
	}
	stored := (uint16(l.buf[off+2])<<8 | uint16(l.buf[off+3])) & payloadCRCMask
	return gfMulMod(l.suffix[off+4], x16Mod) ^ gfMulMod(stored, 1<<6)
}

// x^16 mod the CRC-10 generator.
var x16Mod = gfMulMod(1<<8, 1<<8)

// crc10Suffixes returns r with r[i] = crc10Update(0, buf[i:]) for every i,
// built right to left: r[i] = buf[i]*x^(8*(len-1-i)) + r[i+1].
func crc10Suffixes(buf []byte) []uint16 {
	r := make([]uint16, len(buf)+1)
	pow := uint16(1)
	for i := len(buf) - 1; i >= 0; i-- {
		r[i] = gfMulMod(uint16(buf[i]), pow) ^ r[i+1]
		pow = gfMulMod(pow, 1<<8)
	}
	return r
}

// gfMulMod multiplies two polynomials of degree below 10 modulo the CRC-10
// generator.
func gfMulMod(a, b uint16) uint16 {
	var r uint16
	for i := 9; i >= 0; i-- {
		r <<= 1
		if r&0x400 != 0 {
			r ^= crc10Poly
		}
		if b&(1<<uint(i)) != 0 {
			r ^= a
		}
	}
	return r
}
