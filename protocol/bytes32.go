package protocol

import (
	"encoding/hex"
	"errors"
	"strings"
)

var errInvalidHex32 = errors.New("invalid 32-byte hex value")

func parseHex32(s string) ([32]byte, error) {
	var out [32]byte
	s = strings.TrimPrefix(strings.TrimSpace(s), "0x")
	if len(s) != 64 {
		return out, errInvalidHex32
	}

	b, err := hex.DecodeString(s)
	if err != nil || len(b) != 32 {
		return out, errInvalidHex32
	}

	copy(out[:], b)
	return out, nil
}

func hex32(b [32]byte) string {
	return hex.EncodeToString(b[:])
}

// ProgramHash is the server's digest of the program binary. The client
// treats it as an opaque correlation token and echoes it back on execute.
type ProgramHash [32]byte

func ParseProgramHash(s string) (ProgramHash, error) {
	b, err := parseHex32(s)
	return ProgramHash(b), err
}

func (h ProgramHash) Hex() string { return hex32([32]byte(h)) }

func (h ProgramHash) IsZero() bool { return h == ProgramHash{} }

func (h ProgramHash) MarshalText() ([]byte, error) { return []byte(h.Hex()), nil }

func (h *ProgramHash) UnmarshalText(b []byte) error {
	if len(b) == 0 {
		*h = ProgramHash{}
		return nil
	}
	v, err := ParseProgramHash(string(b))
	if err != nil {
		return err
	}
	*h = v
	return nil
}
