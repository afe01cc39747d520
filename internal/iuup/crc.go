package iuup

// Generator polynomials. The CRC-6 value omits the x^6 term.
const (
	crc6Poly  = 0x2F
	crc10Poly = 0x633
)

var crc10Table = func() (t [256]uint16) {
	for i := range t {
		acc := uint16(i) << 2
		for j := 0; j < 8; j++ {
			acc <<= 1
			if acc&0x400 != 0 {
				acc ^= crc10Poly
			}
		}
		t[i] = acc
	}
	return t
}()

// HeaderCRC6 computes the header CRC over the first two frame octets.
func HeaderCRC6(b [2]byte) uint8 {
	var crc uint8
	for _, octet := range b {
		for i := 7; i >= 0; i-- {
			bit := (octet>>uint(i))&1 ^ (crc>>5)&1
			crc = (crc << 1) & 0x3F
			if bit != 0 {
				crc ^= crc6Poly
			}
		}
	}
	return crc
}

func crc10Update(crc uint16, data []byte) uint16 {
	for _, b := range data {
		crc = ((crc << 8) & 0x3FF) ^ crc10Table[(crc>>2)&0xFF] ^ uint16(b)
	}
	return crc
}

// PayloadCRC10 runs the payload check over frame[offset+2 : offset+2+length]
// and folds in the 10-bit CRC stored at frame[offset:offset+2]. A zero result
// means the payload is intact. The caller guarantees the range is in bounds.
func PayloadCRC10(frame []byte, offset, length int) uint16 {
	crc := crc10Update(0, frame[offset+2:offset+2+length])
	stored := (uint16(frame[offset])<<8 | uint16(frame[offset+1])) & payloadCRCMask
	return crc10Update(crc, []byte{byte(stored >> 2), byte(stored<<6) & 0xFF})
}

// ComputePayloadCRC10 returns the CRC value an encoder stores for payload.
func ComputePayloadCRC10(payload []byte) uint16 {
	r := crc10Update(0, payload)
	for i := 0; i < 10; i++ {
		r <<= 1
		if r&0x400 != 0 {
			r ^= crc10Poly
		}
	}
	return r & payloadCRCMask
}
