package trailer

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"

	apperrors "filelocker/internal/errors"
)

// Load reads the trailer of the file at path. The second result is false
// when the file is missing or is not a valid container; Load never reports
// why. Use Inspect for a diagnostic error.
func Load(path string) (*Trailer, bool) {
	t, err := InspectFile(path)
	if err != nil {
		return nil, false
	}
	return t, true
}

// LoadReader is Load over an io.ReaderAt holding size bytes.
func LoadReader(r io.ReaderAt, size int64) (*Trailer, bool) {
	t, err := Inspect(r, size)
	if err != nil {
		return nil, false
	}
	return t, true
}

// InspectFile is Inspect over the file at path.
func InspectFile(path string) (*Trailer, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, apperrors.NewFileError("open", path, err)
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil {
		return nil, apperrors.NewFileError("stat", path, err)
	}
	if stat.IsDir() {
		return nil, apperrors.NewTrailerError("signature", fmt.Errorf("%s is a directory", path))
	}
	return Inspect(f, stat.Size())
}

// Inspect parses the trailer backward from the end of r: signature, length,
// metadata, then thumbnail. Every failure is a *errors.TrailerError that
// matches errors.ErrNotContainer.
func Inspect(r io.ReaderAt, size int64) (*Trailer, error) {
	sigLen := int64(len(Signature))

	// Signature
	if size < sigLen+LengthSize {
		return nil, apperrors.NewTrailerError("length", fmt.Errorf("file too short (%d bytes)", size))
	}
	sig := make([]byte, sigLen)
	if _, err := r.ReadAt(sig, size-sigLen); err != nil {
		return nil, apperrors.NewTrailerError("signature", err)
	}
	if !bytes.Equal(sig, []byte(Signature)) {
		return nil, apperrors.NewTrailerError("signature", nil)
	}

	// Metadata length
	lenPos := size - sigLen - LengthSize
	lenBuf := make([]byte, LengthSize)
	if _, err := r.ReadAt(lenBuf, lenPos); err != nil {
		return nil, apperrors.NewTrailerError("length", err)
	}
	metaLen := int64(binary.LittleEndian.Uint32(lenBuf))
	if metaLen <= 0 || metaLen > MaxMetadataLen || metaLen > lenPos {
		return nil, apperrors.NewTrailerError("length", fmt.Errorf("metadata length %d out of range", metaLen))
	}

	// Metadata
	metaPos := lenPos - metaLen
	metaBuf := make([]byte, metaLen)
	if _, err := r.ReadAt(metaBuf, metaPos); err != nil {
		return nil, apperrors.NewTrailerError("metadata", err)
	}
	m, err := decodeMetadata(metaBuf)
	if err != nil {
		return nil, apperrors.NewTrailerError("metadata", err)
	}

	t := &Trailer{Metadata: *m, metadataLen: int(metaLen)}

	// Thumbnail
	if thumbLen := int64(m.ThumbnailSize); thumbLen > 0 {
		if thumbLen > metaPos {
			return nil, apperrors.NewTrailerError("thumbnail", fmt.Errorf("thumbnail size %d exceeds available %d bytes", thumbLen, metaPos))
		}
		t.Thumbnail = make([]byte, thumbLen)
		if _, err := r.ReadAt(t.Thumbnail, metaPos-thumbLen); err != nil {
			return nil, apperrors.NewTrailerError("thumbnail", err)
		}
	}

	return t, nil
}
