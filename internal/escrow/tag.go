package escrow

import (
	"encoding/hex"
	"errors"
	"strings"
)

// ErrInvalidTag is returned for ids and memos that are not 32 hex bytes.
var ErrInvalidTag = errors.New("escrow: tag must be 32 bytes of hex")

// Tag is a 32-byte opaque value used for escrow ids and memos. It encodes as
// 64 lowercase hex characters.
type Tag [32]byte

// ParseTag decodes a 64-character hex string, with or without 0x prefix.
func ParseTag(s string) (Tag, error) {
	var t Tag
	raw, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(s), "0x"))
	if err != nil || len(raw) != len(t) {
		return t, ErrInvalidTag
	}
	copy(t[:], raw)
	return t, nil
}

// MustParseTag is ParseTag for tests and constants.
func MustParseTag(s string) Tag {
	t, err := ParseTag(s)
	if err != nil {
		panic(err)
	}
	return t
}

func (t Tag) String() string {
	return hex.EncodeToString(t[:])
}

// IsZero reports whether every byte is zero.
func (t Tag) IsZero() bool {
	return t == Tag{}
}

func (t Tag) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

func (t *Tag) UnmarshalText(b []byte) error {
	parsed, err := ParseTag(string(b))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}
