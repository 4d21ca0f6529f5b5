package encoding

import (
	"testing"
)

// BenchmarkPad measures PKCS#7 padding of a typical final stream block.
func BenchmarkPad(b *testing.B) {
	data := make([]byte, 10, 16)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = Pad(data[:10], BlockSize)
	}
}

// BenchmarkUnpad measures PKCS#7 unpadding of a 64 KiB stream buffer.
func BenchmarkUnpad(b *testing.B) {
	data := Pad(make([]byte, 64*1024-1), BlockSize)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = Unpad(data, BlockSize)
	}
}
