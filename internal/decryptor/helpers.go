package decryptor

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Key is a content key, optionally bound to a key ID.
type Key struct {
	KID    uuid.UUID
	HasKID bool
	Value  []byte
}

// ParseKey parses a key given as 32 hex characters ("KEY") or as a key ID
// and key separated by a colon ("KID:KEY"). The KID may use the
// hyphenated UUID form.
func ParseKey(s string) (Key, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Key{}, fmt.Errorf("%w: empty", ErrInvalidKey)
	}

	kidPart, keyPart, hasKID := strings.Cut(s, ":")
	if !hasKID {
		keyPart = kidPart
	}

	value, err := hex.DecodeString(keyPart)
	if err != nil {
		return Key{}, fmt.Errorf("%w: KEY is not hex: %v", ErrInvalidKey, err)
	}
	if len(value) != 16 {
		return Key{}, fmt.Errorf("%w: KEY must be 16 bytes, got %d", ErrInvalidKey, len(value))
	}

	k := Key{Value: value}
	if hasKID {
		kid, err := uuid.Parse(kidPart)
		if err != nil {
			return Key{}, fmt.Errorf("%w: KID: %v", ErrInvalidKey, err)
		}
		k.KID = kid
		k.HasKID = true
	}
	return k, nil
}

// ValidateKey checks that key is in a format accepted by ParseKey.
func ValidateKey(key string) error {
	_, err := ParseKey(key)
	return err
}

// String returns the key ID, never the key itself.
func (k Key) String() string {
	if !k.HasKID {
		return "key without KID"
	}
	return "key for KID " + k.KID.String()
}

// matches reports whether k may decrypt content protected under kid.
func (k Key) matches(kid [16]byte) bool {
	return !k.HasKID || k.KID == uuid.UUID(kid)
}
