// Package encoding provides PKCS#7 padding for the AES-CBC container payload.
package encoding

import (
	"bytes"
	"fmt"

	apperrors "filelocker/internal/errors"
)

// BlockSize is the AES block size; every padded payload is a multiple of it.
const BlockSize = 16

// Pad applies PKCS#7 padding so data fills whole blocks of blockSize.
//
// N bytes of value N are appended. When data is already aligned a full
// block of padding is added, so Unpad is always unambiguous.
//
// Example: 10-byte data → 16 bytes (6 bytes of value 0x06 appended)
func Pad(data []byte, blockSize int) []byte {
	padLen := blockSize - len(data)%blockSize
	padding := bytes.Repeat([]byte{byte(padLen)}, padLen)
	return append(data, padding...)
}

// PaddedLen returns the length of n bytes after PKCS#7 padding.
func PaddedLen(n int64, blockSize int) int64 {
	return (n/int64(blockSize) + 1) * int64(blockSize)
}

// Unpad strips PKCS#7 padding. Every padding byte is checked; a mismatch
// is reported as ErrCipher because, without a MAC, bad padding is the only
// signal of a wrong key.
func Unpad(data []byte, blockSize int) ([]byte, error) {
	n := len(data)
	if n == 0 || n%blockSize != 0 {
		return nil, fmt.Errorf("%w: padded length %d", apperrors.ErrCipher, n)
	}

	padLen := int(data[n-1])
	if padLen == 0 || padLen > blockSize {
		return nil, fmt.Errorf("%w: padding size %d", apperrors.ErrCipher, padLen)
	}

	for _, b := range data[n-padLen:] {
		if int(b) != padLen {
			return nil, fmt.Errorf("%w: invalid padding", apperrors.ErrCipher)
		}
	}

	return data[:n-padLen], nil
}
