// Package util provides size constants, progress/speed formatting and
// pooled I/O buffers shared by the cipher, archiver and scheduler.
//
// All utilities are stateless and thread-safe.
package util

// Size constants for byte calculations
const (
	KiB = 1 << 10 // 1024
	MiB = 1 << 20 // 1,048,576
	GiB = 1 << 30 // 1,073,741,824
	TiB = 1 << 40 // 1,099,511,627,776
)

// StreamBufferSize is the read size used by stream-mode ciphering.
// It is a multiple of the AES block size.
const StreamBufferSize = 64 * KiB
