package trailer

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"

	apperrors "filelocker/internal/errors"
)

// Write encodes m and thumbnail as a trailer and writes it to w in a single
// call. Version, Platform and ThumbnailSize are filled in on m.
func Write(w io.Writer, m *Metadata, thumbnail []byte) (*Trailer, error) {
	if m == nil {
		return nil, apperrors.NewValidationError("metadata", "must not be nil")
	}
	if m.Version == 0 {
		m.Version = CurrentVersion
	}
	if m.Platform == "" {
		m.Platform = Platform
	}
	m.ThumbnailSize = len(thumbnail)

	meta, err := encodeMetadata(m)
	if err != nil {
		return nil, err
	}
	if len(meta) > MaxMetadataLen {
		return nil, apperrors.NewValidationError("metadata", fmt.Sprintf("encoded length %d exceeds %d", len(meta), MaxMetadataLen))
	}

	buf := make([]byte, 0, len(thumbnail)+len(meta)+LengthSize+len(Signature))
	buf = append(buf, thumbnail...)
	buf = append(buf, meta...)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(meta)))
	buf = append(buf, Signature...)

	if _, err := w.Write(buf); err != nil {
		return nil, fmt.Errorf("write trailer: %w", err)
	}

	t := &Trailer{
		Metadata:    *m,
		metadataLen: len(meta),
	}
	if len(thumbnail) > 0 {
		t.Thumbnail = append([]byte(nil), thumbnail...)
	}
	return t, nil
}

// Append opens path in append mode and writes the trailer after its
// current contents.
func Append(path string, m *Metadata, thumbnail []byte) (_ *Trailer, retErr error) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0)
	if err != nil {
		return nil, apperrors.NewFileError("open", path, err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && retErr == nil {
			retErr = apperrors.NewFileError("close", path, cerr)
		}
	}()

	t, err := Write(f, m, thumbnail)
	if err != nil {
		return nil, err
	}
	if err := f.Sync(); err != nil {
		return nil, apperrors.NewFileError("sync", path, err)
	}
	return t, nil
}
