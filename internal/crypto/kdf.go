// Package crypto provides key derivation and the AES-256-CBC stream cipher
// used for container payloads.
// Changes here directly affect the ability to open existing containers.
package crypto

import (
	"crypto/sha1"
	"crypto/sha256"
	"encoding/binary"
	"fmt"

	apperrors "filelocker/internal/errors"

	"golang.org/x/crypto/pbkdf2"
)

// Derivation parameters
const (
	KeySize = 32 // AES-256 key
	IVSize  = 16 // CBC IV

	// MinKeyBits is the smallest derived length that covers key and IV.
	MinKeyBits = (KeySize + IVSize) * 8

	DefaultIterations = 2048
	DefaultKeyBits    = 384
)

// KeyMaterial is the AES key and IV derived from a password.
type KeyMaterial struct {
	Key []byte
	IV  []byte
}

// DeriveKeyMaterial runs PBKDF2-HMAC-SHA1 over password and salt and splits
// the result into a 32-byte key followed by a 16-byte IV. keyBits is the
// total number of bits requested from PBKDF2.
//
// Identical inputs always produce identical material; the salt supplies uniqueness.
func DeriveKeyMaterial(password, salt []byte, iterations, keyBits int) (*KeyMaterial, error) {
	switch {
	case len(password) == 0:
		return nil, fmt.Errorf("%w: empty password", apperrors.ErrKeyDerivation)
	case iterations <= 0:
		return nil, fmt.Errorf("%w: iterations must be positive, got %d", apperrors.ErrKeyDerivation, iterations)
	case keyBits%8 != 0 || keyBits < MinKeyBits:
		return nil, fmt.Errorf("%w: key length must be a multiple of 8 and at least %d bits, got %d",
			apperrors.ErrKeyDerivation, MinKeyBits, keyBits)
	}

	derived := pbkdf2.Key(password, salt, iterations, keyBits/8, sha1.New)

	km := &KeyMaterial{
		Key: make([]byte, KeySize),
		IV:  make([]byte, IVSize),
	}
	copy(km.Key, derived[:KeySize])
	copy(km.IV, derived[KeySize:KeySize+IVSize])
	SecureZero(derived)

	return km, nil
}

// Close zeroes the key and IV.
func (km *KeyMaterial) Close() {
	if km == nil {
		return
	}
	SecureZeroMultiple(km.Key, km.IV)
	km.Key = nil
	km.IV = nil
}

// PackIV derives the IV for pack index from the base IV, so packs of a
// chunked container are encrypted independently of one another.
//
// Format: SHA-256(iv || uint64 big-endian index)[:16]. Must not change.
func PackIV(iv []byte, index int) []byte {
	var idx [8]byte
	binary.BigEndian.PutUint64(idx[:], uint64(index))

	h := sha256.New()
	h.Write(iv)
	h.Write(idx[:])
	return h.Sum(nil)[:IVSize]
}
