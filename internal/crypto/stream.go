package crypto

import (
	"crypto/cipher"
	"errors"
	"fmt"
	"io"
	"os"

	"filelocker/internal/encoding"
	apperrors "filelocker/internal/errors"
	"filelocker/internal/util"
)

// ProgressFunc receives the completed fraction (0.0-1.0) of a stream
// operation after every buffer.
type ProgressFunc func(fraction float64)

// ErrorFunc is called with the underlying failure before a stream operation
// returns its CryptographyError.
type ErrorFunc func(err error)

// Transform runs the stream operation matching c's direction. total is the
// expected input size and only drives progress reporting.
func (c *StreamCipher) Transform(r io.Reader, w io.Writer, total int64, progress ProgressFunc) error {
	if c.direction == Encrypt {
		return c.EncryptStream(r, w, total, progress, nil)
	}
	return c.DecryptStream(r, w, total, progress, nil)
}

// EncryptStream reads plaintext from r in pooled buffers and writes the
// padded CBC ciphertext to w.
func (c *StreamCipher) EncryptStream(r io.Reader, w io.Writer, total int64, progress ProgressFunc, onError ErrorFunc) error {
	if c.direction != Encrypt {
		return c.fail(Encrypt, "", fmt.Errorf("%w: encrypt on a %v cipher", apperrors.ErrDirection, c.direction), onError)
	}
	if err := c.encryptStream(r, w, total, progress); err != nil {
		return c.fail(Encrypt, "", err, onError)
	}
	return nil
}

// DecryptStream reads CBC ciphertext from r and writes the unpadded
// plaintext to w. The final block is held back until EOF so that padding
// can be verified; everything before it is written as it is decrypted.
func (c *StreamCipher) DecryptStream(r io.Reader, w io.Writer, total int64, progress ProgressFunc, onError ErrorFunc) error {
	if c.direction != Decrypt {
		return c.fail(Decrypt, "", fmt.Errorf("%w: decrypt on a %v cipher", apperrors.ErrDirection, c.direction), onError)
	}
	if err := c.decryptStream(r, w, total, progress); err != nil {
		return c.fail(Decrypt, "", err, onError)
	}
	return nil
}

// EncryptFile encrypts inputPath into outputPath, truncating any existing output.
func (c *StreamCipher) EncryptFile(inputPath, outputPath string, progress ProgressFunc, onError ErrorFunc) error {
	if c.direction != Encrypt {
		return c.fail(Encrypt, inputPath, fmt.Errorf("%w: encrypt on a %v cipher", apperrors.ErrDirection, c.direction), onError)
	}
	if err := c.transformFile(inputPath, outputPath, progress, c.encryptStream); err != nil {
		return c.fail(Encrypt, inputPath, err, onError)
	}
	return nil
}

// DecryptFile decrypts inputPath into outputPath, truncating any existing output.
func (c *StreamCipher) DecryptFile(inputPath, outputPath string, progress ProgressFunc, onError ErrorFunc) error {
	if c.direction != Decrypt {
		return c.fail(Decrypt, inputPath, fmt.Errorf("%w: decrypt on a %v cipher", apperrors.ErrDirection, c.direction), onError)
	}
	if err := c.transformFile(inputPath, outputPath, progress, c.decryptStream); err != nil {
		return c.fail(Decrypt, inputPath, err, onError)
	}
	return nil
}

func (c *StreamCipher) fail(dir Direction, path string, err error, onError ErrorFunc) error {
	if onError != nil {
		onError(err)
	}
	return apperrors.NewCryptographyError(dir.String(), path, err)
}

type streamFunc func(r io.Reader, w io.Writer, total int64, progress ProgressFunc) error

func (c *StreamCipher) transformFile(inputPath, outputPath string, progress ProgressFunc, run streamFunc) (retErr error) {
	fin, err := os.Open(inputPath)
	if err != nil {
		return apperrors.NewFileError("open", inputPath, err)
	}
	defer fin.Close()

	stat, err := fin.Stat()
	if err != nil {
		return apperrors.NewFileError("stat", inputPath, err)
	}

	fout, err := os.Create(outputPath)
	if err != nil {
		return apperrors.NewFileError("create", outputPath, err)
	}
	defer func() {
		if cerr := fout.Close(); cerr != nil && retErr == nil {
			retErr = apperrors.NewFileError("close", outputPath, cerr)
		}
	}()

	return run(fin, fout, stat.Size(), progress)
}

func (c *StreamCipher) encryptStream(r io.Reader, w io.Writer, total int64, progress ProgressFunc) error {
	mode := cipher.NewCBCEncrypter(c.block, c.iv)

	buf := util.StreamPool.Get()
	defer util.StreamPool.Put(buf)

	var done int64
	for {
		n, err := io.ReadFull(r, buf)
		switch {
		case err == nil:
			// Full aligned buffer; more input may follow.
			mode.CryptBlocks(buf, buf)
			if _, werr := w.Write(buf); werr != nil {
				return werr
			}
		case errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF):
			final := encoding.Pad(buf[:n], encoding.BlockSize)
			mode.CryptBlocks(final, final)
			if _, werr := w.Write(final); werr != nil {
				return werr
			}
			done += int64(n)
			report(progress, done, total)
			return nil
		default:
			return err
		}

		done += int64(n)
		report(progress, done, total)
	}
}

func (c *StreamCipher) decryptStream(r io.Reader, w io.Writer, total int64, progress ProgressFunc) error {
	mode := cipher.NewCBCDecrypter(c.block, c.iv)

	buf := util.StreamPool.Get()
	defer util.StreamPool.Put(buf)

	held := make([]byte, encoding.BlockSize)
	haveHeld := false

	var done int64
	for {
		n, err := io.ReadFull(r, buf)
		if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
			return err
		}

		if n > 0 {
			if n%encoding.BlockSize != 0 {
				return fmt.Errorf("%w: ciphertext is not a multiple of %d bytes", apperrors.ErrCipher, encoding.BlockSize)
			}
			chunk := buf[:n]
			mode.CryptBlocks(chunk, chunk)

			if haveHeld {
				if _, werr := w.Write(held); werr != nil {
					return werr
				}
			}
			if _, werr := w.Write(chunk[:n-encoding.BlockSize]); werr != nil {
				return werr
			}
			copy(held, chunk[n-encoding.BlockSize:])
			haveHeld = true

			done += int64(n)
			report(progress, done, total)
		}

		if err != nil {
			break
		}
	}

	if !haveHeld {
		return fmt.Errorf("%w: empty ciphertext", apperrors.ErrCipher)
	}
	plain, err := encoding.Unpad(held, encoding.BlockSize)
	if err != nil {
		return err
	}
	_, err = w.Write(plain)
	return err
}

func report(progress ProgressFunc, done, total int64) {
	if progress != nil {
		progress(util.Fraction(done, total))
	}
}
