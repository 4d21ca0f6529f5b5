package trailer

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// wireMetadata is the metadata object as found on disk. FileType and Extras
// drifted between writers (enum name or int; JSON string or object), so they
// are kept raw and resolved by migrate.
type wireMetadata struct {
	Version       int
	Platform      string
	IsFile        bool
	FileType      json.RawMessage
	OriginalName  string
	ThumbnailSize int
	Extras        json.RawMessage
	PackSize      int64 `json:",omitempty"`
}

// outMetadata is the canonical form written by this implementation.
type outMetadata struct {
	Version       int
	Platform      string
	IsFile        bool
	FileType      int
	OriginalName  string
	ThumbnailSize int
	Extras        string
	PackSize      int64 `json:",omitempty"`
}

func encodeMetadata(m *Metadata) ([]byte, error) {
	extras, err := json.Marshal(m.Extras)
	if err != nil {
		return nil, fmt.Errorf("encode extras: %w", err)
	}
	out := outMetadata{
		Version:       m.Version,
		Platform:      m.Platform,
		IsFile:        m.IsFile,
		FileType:      int(m.FileType),
		OriginalName:  m.OriginalName,
		ThumbnailSize: m.ThumbnailSize,
		Extras:        string(extras),
	}
	if m.Version >= 2 {
		out.PackSize = m.PackSize
	}
	data, err := json.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("encode metadata: %w", err)
	}
	return data, nil
}

func decodeMetadata(data []byte) (*Metadata, error) {
	var w wireMetadata
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("decode metadata: %w", err)
	}
	return migrate(&w)
}

// migrate converts any known on-disk revision into the current Metadata.
func migrate(w *wireMetadata) (*Metadata, error) {
	m := &Metadata{
		Version:       w.Version,
		Platform:      w.Platform,
		IsFile:        w.IsFile,
		OriginalName:  w.OriginalName,
		ThumbnailSize: w.ThumbnailSize,
	}
	if m.Version == 0 {
		m.Version = 1
	}
	if m.ThumbnailSize < 0 {
		return nil, fmt.Errorf("negative thumbnail size %d", m.ThumbnailSize)
	}

	ft, err := migrateFileType(w.FileType)
	if err != nil {
		return nil, err
	}
	m.FileType = ft

	extras, err := migrateExtras(w.Extras)
	if err != nil {
		return nil, err
	}
	m.Extras = extras

	// Version 1 had no chunked mode.
	if m.Version >= 2 {
		if w.PackSize < 0 {
			return nil, fmt.Errorf("negative pack size %d", w.PackSize)
		}
		m.PackSize = w.PackSize
	}
	return m, nil
}

// migrateFileType accepts an int, a numeric string or an enum name.
// Out-of-range values become Unknown.
func migrateFileType(raw json.RawMessage) (FileType, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return Unknown, nil
	}

	if raw[0] == '"' {
		var name string
		if err := json.Unmarshal(raw, &name); err != nil {
			return Unknown, fmt.Errorf("decode file type: %w", err)
		}
		if ft, ok := ParseFileType(name); ok {
			return ft, nil
		}
		if n, err := strconv.Atoi(name); err == nil {
			return clampFileType(n), nil
		}
		return Unknown, nil
	}

	var n int
	if err := json.Unmarshal(raw, &n); err != nil {
		return Unknown, fmt.Errorf("decode file type: %w", err)
	}
	return clampFileType(n), nil
}

func clampFileType(n int) FileType {
	if ft := FileType(n); ft.Valid() {
		return ft
	}
	return Unknown
}

// migrateExtras accepts the extras as a JSON string holding an object, or
// as the object itself.
func migrateExtras(raw json.RawMessage) (Extras, error) {
	var extras Extras

	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return extras, nil
	}

	if raw[0] == '"' {
		var inner string
		if err := json.Unmarshal(raw, &inner); err != nil {
			return extras, fmt.Errorf("decode extras: %w", err)
		}
		if inner == "" {
			return extras, nil
		}
		raw = []byte(inner)
	}

	if err := json.Unmarshal(raw, &extras); err != nil {
		return extras, fmt.Errorf("decode extras: %w", err)
	}
	return extras, nil
}
