package decryptor

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/mohaanymo/cencdec/internal/test"
)

func TestParseKey(t *testing.T) {
	for _, ca := range []struct {
		name   string
		in     string
		hasKID bool
	}{
		{"key only", test.KeyHex, false},
		{"kid and key", test.KIDHex + ":" + test.KeyHex, true},
		{"hyphenated kid", "a7e61c37-3e21-9d0b-8f5e-4a0a2c1f5d66:" + test.KeyHex, true},
		{"surrounding space", "  " + test.KIDHex + ":" + test.KeyHex + "\n", true},
	} {
		t.Run(ca.name, func(t *testing.T) {
			k, err := ParseKey(ca.in)
			require.NoError(t, err)
			require.Equal(t, test.Key, k.Value)
			require.Equal(t, ca.hasKID, k.HasKID)
			if ca.hasKID {
				require.Equal(t, uuid.UUID(test.KID), k.KID)
			}
		})
	}
}

func TestParseKeyErrors(t *testing.T) {
	for _, ca := range []struct {
		name string
		in   string
	}{
		{"empty", ""},
		{"not hex", "zz" + test.KeyHex[2:]},
		{"short key", test.KeyHex[:30]},
		{"long key", test.KeyHex + "00"},
		{"bad kid", "1234:" + test.KeyHex},
		{"extra part", test.KIDHex + ":" + test.KeyHex + ":" + test.KeyHex},
		{"empty key", test.KIDHex + ":"},
	} {
		t.Run(ca.name, func(t *testing.T) {
			_, err := ParseKey(ca.in)
			require.ErrorIs(t, err, ErrInvalidKey)
			require.ErrorIs(t, ValidateKey(ca.in), ErrInvalidKey)
		})
	}
}

func TestKeyMatches(t *testing.T) {
	k, err := ParseKey(test.KeyHex)
	require.NoError(t, err)
	require.True(t, k.matches(test.KID))
	require.True(t, k.matches([16]byte{}))
	require.Equal(t, "key without KID", k.String())

	k, err = ParseKey(test.KIDHex + ":" + test.KeyHex)
	require.NoError(t, err)
	require.True(t, k.matches(test.KID))
	require.False(t, k.matches([16]byte{1}))
	require.Equal(t, "key for KID a7e61c37-3e21-9d0b-8f5e-4a0a2c1f5d66", k.String())
}
