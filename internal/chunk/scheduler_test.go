package chunk

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"filelocker/internal/crypto"
	"filelocker/internal/encoding"
	apperrors "filelocker/internal/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeSource(t *testing.T, dir string, size int) (string, []byte) {
	t.Helper()
	data := make([]byte, size)
	rand.New(rand.NewSource(int64(size))).Read(data)
	path := filepath.Join(dir, "source.bin")
	require.NoError(t, os.WriteFile(path, data, 0o600))
	return path, data
}

func copyTransform(_ context.Context, _ Pack, r io.Reader, w io.Writer) error {
	_, err := io.Copy(w, r)
	return err
}

func cipherTransform(c *crypto.StreamCipher) TransformFunc {
	return func(_ context.Context, p Pack, r io.Reader, w io.Writer) error {
		return c.ForPack(p.Index).Transform(r, w, p.Length, nil)
	}
}

func newCipher(t *testing.T, password string, dir crypto.Direction) *crypto.StreamCipher {
	t.Helper()
	c, err := crypto.NewStreamCipher([]byte(password), []byte("chunk-salt"), 16, crypto.DefaultKeyBits, dir)
	require.NoError(t, err)
	t.Cleanup(c.Close)
	return c
}

func dirEntries(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func TestRunEachPackExactlyOnce(t *testing.T) {
	tmp := t.TempDir()
	src, data := writeSource(t, tmp, 100003)

	var mu sync.Mutex
	seen := map[int]int{}

	s := &Scheduler{
		Workers: 16,
		Transform: func(ctx context.Context, p Pack, r io.Reader, w io.Writer) error {
			mu.Lock()
			seen[p.Index]++
			mu.Unlock()
			return copyTransform(ctx, p, r, w)
		},
	}

	res, err := s.Run(context.Background(), Job{Source: src, Total: int64(len(data)), PackSize: 100, OutputDir: filepath.Join(tmp, "parts")})
	require.NoError(t, err)

	require.Len(t, seen, 1001)
	for idx, n := range seen {
		assert.Equal(t, 1, n, "pack %d processed %d times", idx, n)
	}

	out := filepath.Join(tmp, "out.bin")
	require.NoError(t, res.Assemble(context.Background(), out, nil))
	got, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.True(t, bytes.Equal(data, got), "reassembled output differs from source")
	assert.Empty(t, dirEntries(t, filepath.Join(tmp, "parts")))
}

func TestRunScenarioEncryptDecrypt(t *testing.T) {
	const (
		total    = 1000000
		packSize = 65536
	)
	tmp := t.TempDir()
	src, data := writeSource(t, tmp, total)

	enc := &Scheduler{Workers: 4, Transform: cipherTransform(newCipher(t, "correct", crypto.Encrypt))}
	res, err := enc.Run(context.Background(), Job{Source: src, Total: total, PackSize: packSize, OutputDir: filepath.Join(tmp, "enc")})
	require.NoError(t, err)

	packs := res.Packs()
	require.Len(t, packs, 16)
	assert.Equal(t, int64(16960), packs[15].Length)

	container := filepath.Join(tmp, "container.bin")
	require.NoError(t, res.Assemble(context.Background(), container, nil))

	info, err := os.Stat(container)
	require.NoError(t, err)
	wantSize := 15*encoding.PaddedLen(packSize, encoding.BlockSize) + encoding.PaddedLen(16960, encoding.BlockSize)
	require.Equal(t, wantSize, info.Size())

	decPackSize := encoding.PaddedLen(packSize, encoding.BlockSize)

	// Correct password
	dec := &Scheduler{Workers: 4, Transform: cipherTransform(newCipher(t, "correct", crypto.Decrypt))}
	res, err = dec.Run(context.Background(), Job{Source: container, Total: info.Size(), PackSize: decPackSize, OutputDir: filepath.Join(tmp, "dec")})
	require.NoError(t, err)

	recovered := filepath.Join(tmp, "recovered.bin")
	require.NoError(t, res.Assemble(context.Background(), recovered, nil))
	got, err := os.ReadFile(recovered)
	require.NoError(t, err)
	assert.True(t, bytes.Equal(data, got), "decrypted output differs from source")

	// Wrong password: the run fails and leaves no parts behind.
	bad := &Scheduler{Workers: 4, Transform: cipherTransform(newCipher(t, "incorrect", crypto.Decrypt))}
	badDir := filepath.Join(tmp, "bad")
	res, err = bad.Run(context.Background(), Job{Source: container, Total: info.Size(), PackSize: decPackSize, OutputDir: badDir})
	require.Error(t, err)
	assert.Nil(t, res)
	assert.True(t, errors.Is(err, apperrors.ErrIncompletePacks))
	assert.True(t, errors.Is(err, apperrors.ErrCipher))
	assert.Empty(t, dirEntries(t, badDir))
}

func TestRunIdempotent(t *testing.T) {
	tmp := t.TempDir()
	src, data := writeSource(t, tmp, 300000)
	c := newCipher(t, "pw", crypto.Encrypt)

	var outputs [][]byte
	for i := 0; i < 2; i++ {
		s := &Scheduler{Workers: 3, Transform: cipherTransform(c)}
		res, err := s.Run(context.Background(), Job{Source: src, Total: int64(len(data)), PackSize: 40000, OutputDir: filepath.Join(tmp, fmt.Sprintf("run%d", i))})
		require.NoError(t, err)

		out := filepath.Join(tmp, fmt.Sprintf("out%d", i))
		require.NoError(t, res.Assemble(context.Background(), out, nil))
		b, err := os.ReadFile(out)
		require.NoError(t, err)
		outputs = append(outputs, b)
	}
	assert.True(t, bytes.Equal(outputs[0], outputs[1]), "two runs produced different output")
}

func TestRunPackFailureAbortsOnlyThatPack(t *testing.T) {
	tmp := t.TempDir()
	src, data := writeSource(t, tmp, 1000)
	partsDir := filepath.Join(tmp, "parts")

	var mu sync.Mutex
	processed := 0
	boom := errors.New("boom")

	s := &Scheduler{
		Workers: 2,
		Transform: func(ctx context.Context, p Pack, r io.Reader, w io.Writer) error {
			mu.Lock()
			processed++
			mu.Unlock()
			if p.Index == 3 {
				return boom
			}
			return copyTransform(ctx, p, r, w)
		},
	}

	res, err := s.Run(context.Background(), Job{Source: src, Total: int64(len(data)), PackSize: 100, OutputDir: partsDir})
	require.Error(t, err)
	assert.Nil(t, res)

	var ipe *apperrors.IncompletePacksError
	require.True(t, errors.As(err, &ipe))
	assert.Equal(t, []int{3}, ipe.Missing)
	assert.True(t, errors.Is(err, boom))

	var pe *apperrors.PackError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, 3, pe.Index)

	assert.Equal(t, 10, processed, "other packs should still run")
	assert.Empty(t, dirEntries(t, partsDir))
}

func TestRunCancelled(t *testing.T) {
	tmp := t.TempDir()
	src, data := writeSource(t, tmp, 1000)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	s := &Scheduler{Workers: 2, Transform: copyTransform}
	_, err := s.Run(ctx, Job{Source: src, Total: int64(len(data)), PackSize: 100, OutputDir: filepath.Join(tmp, "parts")})
	assert.True(t, apperrors.IsCancelled(err))
}

func TestRunProgress(t *testing.T) {
	tmp := t.TempDir()
	src, data := writeSource(t, tmp, 1000)

	var mu sync.Mutex
	var last int64
	s := &Scheduler{
		Workers:   1,
		Transform: copyTransform,
		Progress: func(done, total int64) {
			mu.Lock()
			defer mu.Unlock()
			assert.Equal(t, int64(1000), total)
			assert.GreaterOrEqual(t, done, last)
			last = done
		},
	}
	res, err := s.Run(context.Background(), Job{Source: src, Total: int64(len(data)), PackSize: 300, OutputDir: filepath.Join(tmp, "parts")})
	require.NoError(t, err)
	res.Cleanup()
	assert.Equal(t, int64(1000), last)
}

func TestRunEmptySource(t *testing.T) {
	tmp := t.TempDir()
	src, _ := writeSource(t, tmp, 0)

	s := &Scheduler{Transform: copyTransform}
	res, err := s.Run(context.Background(), Job{Source: src, Total: 0, PackSize: 64, OutputDir: filepath.Join(tmp, "parts")})
	require.NoError(t, err)
	assert.Empty(t, res.Parts())

	out := filepath.Join(tmp, "out")
	require.NoError(t, res.Assemble(context.Background(), out, nil))
	info, err := os.Stat(out)
	require.NoError(t, err)
	assert.Zero(t, info.Size())
}

func TestRunRequiresTransform(t *testing.T) {
	_, err := (&Scheduler{}).Run(context.Background(), Job{PackSize: 1})
	var ve *apperrors.ValidationError
	assert.True(t, errors.As(err, &ve))
}
