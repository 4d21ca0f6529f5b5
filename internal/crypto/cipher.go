package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"fmt"

	"filelocker/internal/encoding"
	apperrors "filelocker/internal/errors"
)

// Direction selects whether a StreamCipher encrypts or decrypts.
type Direction int

const (
	Encrypt Direction = iota
	Decrypt
)

func (d Direction) String() string {
	switch d {
	case Encrypt:
		return "encrypt"
	case Decrypt:
		return "decrypt"
	default:
		return fmt.Sprintf("Direction(%d)", int(d))
	}
}

// StreamCipher is an AES-256-CBC transform with PKCS#7 padding, bound to a
// key, an IV and a direction at construction.
//
// CRITICAL: ciphertext = AES-256-CBC(key, iv, PKCS7(plaintext)). Changing
// mode, padding or key layout breaks every existing container.
type StreamCipher struct {
	direction Direction
	block     cipher.Block
	iv        []byte
	key       *KeyMaterial // nil for pack views; the parent owns the key
}

// NewStreamCipher derives key material from password and salt and returns
// a cipher for the given direction.
func NewStreamCipher(password, salt []byte, iterations, keyBits int, dir Direction) (*StreamCipher, error) {
	km, err := DeriveKeyMaterial(password, salt, iterations, keyBits)
	if err != nil {
		return nil, err
	}
	c, err := NewStreamCipherFromKey(km, dir)
	if err != nil {
		km.Close()
		return nil, err
	}
	return c, nil
}

// NewStreamCipherFromKey builds a cipher over already derived key material.
// The cipher takes ownership of km; Close zeroes it.
func NewStreamCipherFromKey(km *KeyMaterial, dir Direction) (*StreamCipher, error) {
	if dir != Encrypt && dir != Decrypt {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrDirection, dir)
	}
	if km == nil || len(km.Key) != KeySize || len(km.IV) != IVSize {
		return nil, fmt.Errorf("%w: key material must be %d+%d bytes", apperrors.ErrKeyDerivation, KeySize, IVSize)
	}
	block, err := aes.NewCipher(km.Key)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", apperrors.ErrKeyDerivation, err)
	}
	return &StreamCipher{
		direction: dir,
		block:     block,
		iv:        km.IV,
		key:       km,
	}, nil
}

// Direction reports the direction the cipher was built for.
func (c *StreamCipher) Direction() Direction {
	return c.direction
}

// IV returns a copy of the IV this cipher chains from.
func (c *StreamCipher) IV() []byte {
	return append([]byte(nil), c.iv...)
}

// ForPack returns a view of c that uses the IV for pack index. The view
// shares the key schedule with c and must not outlive it.
func (c *StreamCipher) ForPack(index int) *StreamCipher {
	return &StreamCipher{
		direction: c.direction,
		block:     c.block,
		iv:        PackIV(c.iv, index),
	}
}

// thumbnailIndex maps to the largest uint64 in PackIV, which no pack reaches.
const thumbnailIndex = -1

// ForThumbnail returns the view of c used for the container thumbnail.
func (c *StreamCipher) ForThumbnail() *StreamCipher {
	return c.ForPack(thumbnailIndex)
}

// Encrypt pads and encrypts a whole buffer.
func (c *StreamCipher) Encrypt(plaintext []byte) ([]byte, error) {
	if c.direction != Encrypt {
		return nil, fmt.Errorf("%w: Encrypt on a %v cipher", apperrors.ErrDirection, c.direction)
	}
	out := make([]byte, len(plaintext), encoding.PaddedLen(int64(len(plaintext)), encoding.BlockSize))
	copy(out, plaintext)
	out = encoding.Pad(out, encoding.BlockSize)
	cipher.NewCBCEncrypter(c.block, c.iv).CryptBlocks(out, out)
	return out, nil
}

// Decrypt decrypts a whole buffer and strips its padding. A wrong key
// almost always surfaces as invalid padding, reported as ErrCipher.
func (c *StreamCipher) Decrypt(ciphertext []byte) ([]byte, error) {
	if c.direction != Decrypt {
		return nil, fmt.Errorf("%w: Decrypt on a %v cipher", apperrors.ErrDirection, c.direction)
	}
	if len(ciphertext) == 0 || len(ciphertext)%encoding.BlockSize != 0 {
		return nil, fmt.Errorf("%w: ciphertext length %d is not a positive multiple of %d",
			apperrors.ErrCipher, len(ciphertext), encoding.BlockSize)
	}
	out := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(c.block, c.iv).CryptBlocks(out, ciphertext)
	plain, err := encoding.Unpad(out, encoding.BlockSize)
	if err != nil {
		return nil, err
	}
	return plain, nil
}

// Close zeroes the key material when c owns it.
func (c *StreamCipher) Close() {
	if c == nil {
		return
	}
	c.key.Close()
	c.key = nil
}
