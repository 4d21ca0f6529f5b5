package crypto

import (
	"crypto/subtle"
)

// SecureZero overwrites a byte slice with zeros so derived keys do not
// linger in memory after an operation. subtle.ConstantTimeCopy keeps the
// compiler from eliding the write. It cannot reach copies the runtime made.
func SecureZero(b []byte) {
	if len(b) == 0 {
		return
	}
	zeros := make([]byte, len(b))
	subtle.ConstantTimeCopy(1, b, zeros)
}

// SecureZeroMultiple zeros multiple byte slices in a single call.
func SecureZeroMultiple(slices ...[]byte) {
	for _, s := range slices {
		SecureZero(s)
	}
}
