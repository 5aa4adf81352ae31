package decryptor

import (
	"crypto/aes"
	"crypto/cipher"
	"fmt"

	"github.com/mohaanymo/cencdec/internal/box"
)

// Cipher decrypts samples protected with the 'cenc' scheme (AES-128-CTR).
// It holds no per-sample state and is safe for concurrent use.
type Cipher struct {
	block cipher.Block
}

// NewCipher creates a Cipher for a 16-byte content key.
func NewCipher(key []byte) (*Cipher, error) {
	if len(key) != 16 {
		return nil, fmt.Errorf("%w: key must be 16 bytes, got %d", ErrInvalidKey, len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return &Cipher{block: block}, nil
}

// DecryptSample decrypts one sample in place and returns the number of
// protected bytes it decrypted.
//
// The counter block is the IV zero-padded to 16 bytes. Without subsamples
// the whole sample is protected. With subsamples, each pair leaves Clear
// bytes untouched and decrypts the next Protected bytes; the keystream
// continues across pairs and the pairs must cover the sample exactly.
func (c *Cipher) DecryptSample(sample, iv []byte, subsamples []box.Subsample) (int, error) {
	if len(iv) == 0 || len(iv) > aes.BlockSize {
		return 0, fmt.Errorf("%w: %d bytes", ErrInvalidIV, len(iv))
	}
	var counter [aes.BlockSize]byte
	copy(counter[:], iv)
	stream := cipher.NewCTR(c.block, counter[:])

	if len(subsamples) == 0 {
		stream.XORKeyStream(sample, sample)
		return len(sample), nil
	}

	var total uint64
	for _, ss := range subsamples {
		total += uint64(ss.Clear) + uint64(ss.Protected)
	}
	if total != uint64(len(sample)) {
		return 0, fmt.Errorf("%w: subsamples cover %d bytes, sample has %d", ErrStructure, total, len(sample))
	}

	pos, protected := 0, 0
	for _, ss := range subsamples {
		pos += int(ss.Clear)
		span := sample[pos : pos+int(ss.Protected)]
		stream.XORKeyStream(span, span)
		pos += len(span)
		protected += len(span)
	}
	return protected, nil
}
