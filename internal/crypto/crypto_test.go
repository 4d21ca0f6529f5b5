package crypto

import (
	"bytes"
	"encoding/hex"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	apperrors "filelocker/internal/errors"
)

var testSalt = []byte("filelocker-test-salt")

func newTestCipher(t *testing.T, password string, dir Direction) *StreamCipher {
	t.Helper()
	c, err := NewStreamCipher([]byte(password), testSalt, DefaultIterations, DefaultKeyBits, dir)
	if err != nil {
		t.Fatalf("NewStreamCipher(%v) failed: %v", dir, err)
	}
	t.Cleanup(c.Close)
	return c
}

func TestDeriveKeyMaterialVectors(t *testing.T) {
	// First 20 bytes match the RFC 6070 PBKDF2-HMAC-SHA1 vectors.
	tests := []struct {
		iterations int
		want       string
	}{
		{1, "0c60c80f961f0e71f3a9b524af6012062fe037a6"},
		{2, "ea6c014dc72d6f8ccd1ed92ace1d41f0d8de8957"},
	}

	for _, tt := range tests {
		km, err := DeriveKeyMaterial([]byte("password"), []byte("salt"), tt.iterations, DefaultKeyBits)
		if err != nil {
			t.Fatalf("DeriveKeyMaterial(c=%d) failed: %v", tt.iterations, err)
		}
		if got := hex.EncodeToString(km.Key[:20]); got != tt.want {
			t.Errorf("c=%d: key prefix = %s; want %s", tt.iterations, got, tt.want)
		}
		if len(km.Key) != KeySize || len(km.IV) != IVSize {
			t.Errorf("c=%d: sizes = %d/%d; want %d/%d", tt.iterations, len(km.Key), len(km.IV), KeySize, IVSize)
		}
	}
}

func TestDeriveKeyMaterialDeterministic(t *testing.T) {
	a, err := DeriveKeyMaterial([]byte("pw"), testSalt, DefaultIterations, DefaultKeyBits)
	if err != nil {
		t.Fatal(err)
	}
	b, err := DeriveKeyMaterial([]byte("pw"), testSalt, DefaultIterations, DefaultKeyBits)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(a.Key, b.Key) || !bytes.Equal(a.IV, b.IV) {
		t.Error("same inputs should produce the same key material")
	}

	c, err := DeriveKeyMaterial([]byte("pw2"), testSalt, DefaultIterations, DefaultKeyBits)
	if err != nil {
		t.Fatal(err)
	}
	if bytes.Equal(a.Key, c.Key) {
		t.Error("different passwords should produce different keys")
	}
}

func TestDeriveKeyMaterialInvalid(t *testing.T) {
	tests := []struct {
		name       string
		password   string
		iterations int
		keyBits    int
	}{
		{"empty password", "", DefaultIterations, DefaultKeyBits},
		{"zero iterations", "pw", 0, DefaultKeyBits},
		{"negative iterations", "pw", -5, DefaultKeyBits},
		{"too short", "pw", DefaultIterations, 256},
		{"not byte aligned", "pw", DefaultIterations, 390},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DeriveKeyMaterial([]byte(tt.password), testSalt, tt.iterations, tt.keyBits)
			if !errors.Is(err, apperrors.ErrKeyDerivation) {
				t.Errorf("err = %v; want ErrKeyDerivation", err)
			}
		})
	}
}

func TestBufferRoundTrip(t *testing.T) {
	enc := newTestCipher(t, "correct horse", Encrypt)
	dec := newTestCipher(t, "correct horse", Decrypt)

	sizes := []int{0, 1, 15, 16, 17, 1000, 65536}
	for _, size := range sizes {
		plain := bytes.Repeat([]byte{0xA5}, size)

		ct, err := enc.Encrypt(plain)
		if err != nil {
			t.Fatalf("size %d: Encrypt failed: %v", size, err)
		}
		if want := (size/16 + 1) * 16; len(ct) != want {
			t.Errorf("size %d: ciphertext length = %d; want %d", size, len(ct), want)
		}

		got, err := dec.Decrypt(ct)
		if err != nil {
			t.Fatalf("size %d: Decrypt failed: %v", size, err)
		}
		if !bytes.Equal(got, plain) {
			t.Errorf("size %d: round trip mismatch", size)
		}
	}
}

func TestEncryptDoesNotModifyInput(t *testing.T) {
	enc := newTestCipher(t, "pw", Encrypt)

	backing := make([]byte, 5, 64)
	copy(backing, "hello")
	if _, err := enc.Encrypt(backing); err != nil {
		t.Fatal(err)
	}
	if string(backing) != "hello" {
		t.Errorf("input modified: %q", backing)
	}
}

// wrongCiphers returns decrypt ciphers for several wrong passwords. A wrong
// key still yields valid-looking padding roughly once in 256 tries, so
// tests require at least one ErrCipher rather than all of them.
func wrongCiphers(t *testing.T) []*StreamCipher {
	t.Helper()
	var out []*StreamCipher
	for i := 0; i < 8; i++ {
		out = append(out, newTestCipher(t, "wrong-"+string(rune('a'+i)), Decrypt))
	}
	return out
}

func TestDecryptWrongPassword(t *testing.T) {
	enc := newTestCipher(t, "right", Encrypt)
	plain := []byte("some secret contents")

	ct, err := enc.Encrypt(plain)
	if err != nil {
		t.Fatal(err)
	}

	failures := 0
	for _, dec := range wrongCiphers(t) {
		got, err := dec.Decrypt(ct)
		switch {
		case err == nil && bytes.Equal(got, plain):
			t.Fatal("wrong password recovered the plaintext")
		case err != nil && !errors.Is(err, apperrors.ErrCipher):
			t.Fatalf("err = %v; want ErrCipher", err)
		case err != nil:
			failures++
		}
	}
	if failures == 0 {
		t.Error("no wrong password was rejected with ErrCipher")
	}
}

func TestDecryptMalformed(t *testing.T) {
	dec := newTestCipher(t, "pw", Decrypt)

	for _, ct := range [][]byte{nil, make([]byte, 15), make([]byte, 33)} {
		if _, err := dec.Decrypt(ct); !errors.Is(err, apperrors.ErrCipher) {
			t.Errorf("len %d: err = %v; want ErrCipher", len(ct), err)
		}
	}
}

func TestDirectionMismatch(t *testing.T) {
	enc := newTestCipher(t, "pw", Encrypt)
	dec := newTestCipher(t, "pw", Decrypt)

	if _, err := enc.Decrypt(make([]byte, 16)); !errors.Is(err, apperrors.ErrDirection) {
		t.Errorf("Decrypt on encrypt cipher: err = %v", err)
	}
	if _, err := dec.Encrypt([]byte("x")); !errors.Is(err, apperrors.ErrDirection) {
		t.Errorf("Encrypt on decrypt cipher: err = %v", err)
	}

	var buf bytes.Buffer
	err := dec.EncryptStream(strings.NewReader("x"), &buf, 1, nil, nil)
	var ce *apperrors.CryptographyError
	if !errors.As(err, &ce) || !errors.Is(err, apperrors.ErrDirection) {
		t.Errorf("EncryptStream on decrypt cipher: err = %v", err)
	}
}

func TestStreamMatchesBuffer(t *testing.T) {
	enc := newTestCipher(t, "pw", Encrypt)

	// Spans several pooled buffers and ends unaligned.
	plain := make([]byte, 3*65536+100)
	for i := range plain {
		plain[i] = byte(i * 7)
	}

	want, err := enc.Encrypt(plain)
	if err != nil {
		t.Fatal(err)
	}

	var got bytes.Buffer
	if err := enc.EncryptStream(bytes.NewReader(plain), &got, int64(len(plain)), nil, nil); err != nil {
		t.Fatalf("EncryptStream failed: %v", err)
	}
	if !bytes.Equal(got.Bytes(), want) {
		t.Error("stream ciphertext differs from buffer ciphertext")
	}
}

func TestStreamRoundTrip(t *testing.T) {
	enc := newTestCipher(t, "pw", Encrypt)
	dec := newTestCipher(t, "pw", Decrypt)

	sizes := []int{0, 16, 65535, 65536, 65537, 2 * 65536}
	for _, size := range sizes {
		plain := bytes.Repeat([]byte("abcdefg"), size/7+1)[:size]

		var ct bytes.Buffer
		if err := enc.EncryptStream(bytes.NewReader(plain), &ct, int64(size), nil, nil); err != nil {
			t.Fatalf("size %d: EncryptStream failed: %v", size, err)
		}

		var out bytes.Buffer
		if err := dec.DecryptStream(bytes.NewReader(ct.Bytes()), &out, int64(ct.Len()), nil, nil); err != nil {
			t.Fatalf("size %d: DecryptStream failed: %v", size, err)
		}
		if !bytes.Equal(out.Bytes(), plain) {
			t.Errorf("size %d: round trip mismatch", size)
		}
	}
}

func TestStreamProgress(t *testing.T) {
	enc := newTestCipher(t, "pw", Encrypt)

	plain := make([]byte, 200000)
	var reports []float64
	progress := func(f float64) { reports = append(reports, f) }

	if err := enc.EncryptStream(bytes.NewReader(plain), io.Discard, int64(len(plain)), progress, nil); err != nil {
		t.Fatal(err)
	}

	// 200000 bytes is three full 64 KiB buffers and one partial read.
	if len(reports) != 4 {
		t.Fatalf("got %d progress reports; want 4", len(reports))
	}
	for i := 1; i < len(reports); i++ {
		if reports[i] < reports[i-1] {
			t.Errorf("progress went backwards: %v", reports)
		}
	}
	if reports[len(reports)-1] != 1 {
		t.Errorf("final progress = %v; want 1", reports[len(reports)-1])
	}
}

func TestDecryptStreamWrongPasswordCallsOnError(t *testing.T) {
	enc := newTestCipher(t, "right", Encrypt)

	var ct bytes.Buffer
	if err := enc.EncryptStream(strings.NewReader("payload"), &ct, 7, nil, nil); err != nil {
		t.Fatal(err)
	}

	for _, dec := range wrongCiphers(t) {
		var reported error
		err := dec.DecryptStream(bytes.NewReader(ct.Bytes()), io.Discard, 16, nil, func(e error) { reported = e })
		if err == nil {
			continue
		}

		var ce *apperrors.CryptographyError
		if !errors.As(err, &ce) {
			t.Fatalf("err = %v; want CryptographyError", err)
		}
		if ce.Op != "decrypt" {
			t.Errorf("Op = %q; want decrypt", ce.Op)
		}
		if !errors.Is(err, apperrors.ErrCipher) {
			t.Errorf("err should wrap ErrCipher: %v", err)
		}
		if reported == nil || !errors.Is(reported, apperrors.ErrCipher) {
			t.Errorf("onError received %v", reported)
		}
		return
	}
	t.Error("no wrong password was rejected")
}

func TestFileRoundTrip(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "plain.bin")
	ct := filepath.Join(dir, "plain.bin.enc")
	out := filepath.Join(dir, "plain.out")

	plain := bytes.Repeat([]byte("0123456789"), 20000)
	if err := os.WriteFile(in, plain, 0o644); err != nil {
		t.Fatal(err)
	}

	enc := newTestCipher(t, "pw", Encrypt)
	dec := newTestCipher(t, "pw", Decrypt)

	if err := enc.EncryptFile(in, ct, nil, nil); err != nil {
		t.Fatalf("EncryptFile failed: %v", err)
	}
	info, err := os.Stat(ct)
	if err != nil {
		t.Fatal(err)
	}
	if info.Size() != int64((len(plain)/16+1)*16) {
		t.Errorf("ciphertext size = %d", info.Size())
	}

	if err := dec.DecryptFile(ct, out, nil, nil); err != nil {
		t.Fatalf("DecryptFile failed: %v", err)
	}
	got, err := os.ReadFile(out)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, plain) {
		t.Error("file round trip mismatch")
	}
}

func TestEncryptFileMissingInput(t *testing.T) {
	dir := t.TempDir()
	enc := newTestCipher(t, "pw", Encrypt)

	called := false
	err := enc.EncryptFile(filepath.Join(dir, "nope"), filepath.Join(dir, "out"), nil, func(error) { called = true })
	if err == nil {
		t.Fatal("expected error for missing input")
	}
	if !called {
		t.Error("onError was not called")
	}
	if !apperrors.IsNotFound(err) {
		t.Errorf("err = %v; want not-found", err)
	}
}

func TestForPack(t *testing.T) {
	enc := newTestCipher(t, "pw", Encrypt)
	dec := newTestCipher(t, "pw", Decrypt)

	plain := []byte("same plaintext in every pack")

	ct0, err := enc.ForPack(0).Encrypt(plain)
	if err != nil {
		t.Fatal(err)
	}
	ct1, err := enc.ForPack(1).Encrypt(plain)
	if err != nil {
		t.Fatal(err)
	}
	if bytes.Equal(ct0, ct1) {
		t.Error("packs with different indexes should have different ciphertext")
	}

	again, _ := enc.ForPack(1).Encrypt(plain)
	if !bytes.Equal(ct1, again) {
		t.Error("pack IV should be deterministic")
	}

	got, err := dec.ForPack(1).Decrypt(ct1)
	if err != nil {
		t.Fatalf("pack decrypt failed: %v", err)
	}
	if !bytes.Equal(got, plain) {
		t.Error("pack round trip mismatch")
	}

	// A wrong IV only corrupts the first block, so padding still verifies.
	wrong, err := dec.ForPack(0).Decrypt(ct1)
	if err != nil {
		t.Fatalf("decrypt with another pack's IV: %v", err)
	}
	if bytes.Equal(wrong, plain) {
		t.Error("decrypting with another pack's IV should not recover plaintext")
	}
}

func TestForThumbnail(t *testing.T) {
	enc := newTestCipher(t, "pw", Encrypt)
	dec := newTestCipher(t, "pw", Decrypt)

	thumb := bytes.Repeat([]byte{0xd8}, 100)
	ct, err := enc.ForThumbnail().Encrypt(thumb)
	if err != nil {
		t.Fatal(err)
	}

	main, _ := enc.Encrypt(thumb)
	if bytes.Equal(ct[:16], main[:16]) {
		t.Error("thumbnail should not share the payload IV")
	}

	got, err := dec.ForThumbnail().Decrypt(ct)
	if err != nil {
		t.Fatalf("thumbnail decrypt failed: %v", err)
	}
	if !bytes.Equal(got, thumb) {
		t.Error("thumbnail round trip mismatch")
	}
}

func TestPackIV(t *testing.T) {
	iv := bytes.Repeat([]byte{1}, IVSize)

	a := PackIV(iv, 0)
	b := PackIV(iv, 1)
	if len(a) != IVSize || len(b) != IVSize {
		t.Fatalf("lengths = %d, %d", len(a), len(b))
	}
	if bytes.Equal(a, b) || bytes.Equal(a, iv) {
		t.Error("pack IVs should differ from each other and from the base IV")
	}
	if !bytes.Equal(a, PackIV(iv, 0)) {
		t.Error("PackIV should be deterministic")
	}
}

func TestCloseZeroesKey(t *testing.T) {
	km, err := DeriveKeyMaterial([]byte("pw"), testSalt, 1, DefaultKeyBits)
	if err != nil {
		t.Fatal(err)
	}
	key := km.Key
	c, err := NewStreamCipherFromKey(km, Encrypt)
	if err != nil {
		t.Fatal(err)
	}

	c.Close()
	c.Close()

	if !bytes.Equal(key, make([]byte, KeySize)) {
		t.Error("key should be zeroed after Close")
	}
}

func TestNewStreamCipherFromKeyInvalid(t *testing.T) {
	if _, err := NewStreamCipherFromKey(nil, Encrypt); !errors.Is(err, apperrors.ErrKeyDerivation) {
		t.Errorf("nil key: err = %v", err)
	}
	km := &KeyMaterial{Key: make([]byte, KeySize), IV: make([]byte, IVSize)}
	if _, err := NewStreamCipherFromKey(km, Direction(9)); !errors.Is(err, apperrors.ErrDirection) {
		t.Errorf("bad direction: err = %v", err)
	}
}
