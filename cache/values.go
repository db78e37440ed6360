package cache

import (
	"encoding/hex"
	"fmt"
)

// ObjectID is a 12-byte document identifier.
type ObjectID [12]byte

// ObjectIDFromHex parses a 24 character hex string.
func ObjectIDFromHex(s string) (ObjectID, error) {
	var id ObjectID
	if len(s) != 24 {
		return id, fmt.Errorf("object id %q: want 24 hex characters, got %d", s, len(s))
	}
	if _, err := hex.Decode(id[:], []byte(s)); err != nil {
		return id, fmt.Errorf("object id %q: %w", s, err)
	}
	return id, nil
}

// Hex returns the lowercase hex form.
func (id ObjectID) Hex() string {
	return hex.EncodeToString(id[:])
}

func (id ObjectID) String() string {
	return "ObjectID(" + id.Hex() + ")"
}

// Regex is a regular expression value with its store-specific option flags.
type Regex struct {
	Pattern string
	Options string
}

// Binary is an opaque byte payload.
type Binary []byte
