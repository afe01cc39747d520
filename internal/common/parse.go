package common

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ParseHex decodes a hex frame. Whitespace, colons, dashes and a leading 0x
// are ignored.
func ParseHex(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	s = strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\t', '\r', '\n', ':', '-':
			return -1
		}
		return r
	}, s)
	if s == "" {
		return nil, errors.New("empty frame")
	}
	return hex.DecodeString(s)
}

// ParsePorts reads a comma separated UDP port list. Empty entries are skipped.
func ParsePorts(s string) ([]uint16, error) {
	var out []uint16
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		v, err := strconv.ParseUint(part, 10, 16)
		if err != nil {
			return nil, fmt.Errorf("port %q: %w", part, err)
		}
		out = append(out, uint16(v))
	}
	return out, nil
}
