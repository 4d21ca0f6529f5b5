// Package trailer reads and writes the metadata block appended to every
// container. Changes here directly affect the ability to list and open
// existing containers.
//
// Layout, in file order:
//
//	[ciphertext][thumbnail][metadata JSON][uint32 LE JSON length][signature]
//
// The block is always parsed backward from end of file, so the ciphertext
// length never needs to be known in advance.
package trailer

import (
	"path/filepath"
	"strings"
	"time"
)

// Format constants
const (
	// Signature marks a file as a container. It is the last thing in the file.
	Signature = "FILELOCKER_SIGN"

	// CurrentVersion is written by Append. Version 2 added PackSize.
	CurrentVersion = 2

	// Platform tags containers written by this implementation.
	Platform = "go"

	LengthSize     = 4       // uint32 little-endian metadata length
	MaxMetadataLen = 1 << 20 // sanity bound for the declared JSON length
)

// FileType classifies the original item.
type FileType int

const (
	Unknown FileType = iota
	Image
	Video
	Audio
	Compressed
	Document
	Directory
)

var fileTypeNames = [...]string{
	Unknown:    "Unknown",
	Image:      "Image",
	Video:      "Video",
	Audio:      "Audio",
	Compressed: "Compressed",
	Document:   "Document",
	Directory:  "Directory",
}

func (t FileType) String() string {
	if t < 0 || int(t) >= len(fileTypeNames) {
		return "Unknown"
	}
	return fileTypeNames[t]
}

// Valid reports whether t is one of the defined file types.
func (t FileType) Valid() bool {
	return t >= Unknown && t <= Directory
}

// ParseFileType maps a type name (case-insensitive) to its FileType.
func ParseFileType(name string) (FileType, bool) {
	for i, n := range fileTypeNames {
		if strings.EqualFold(n, name) {
			return FileType(i), true
		}
	}
	return Unknown, false
}

// Dimension is the pixel size of an image item.
type Dimension struct {
	Width  int `json:"w"`
	Height int `json:"h"`
}

// Extras carries the secondary attributes of the original item. On disk it
// is stored as a JSON string inside the metadata object.
type Extras struct {
	Dimension            *Dimension `json:"Dimension,omitempty"`
	Size                 int64      `json:"Size"`
	CreationTime         int64      `json:"CreationTime"`  // epoch ms
	LastWriteTime        int64      `json:"LastWriteTime"` // epoch ms
	IsThumbnailEncrypted bool       `json:"IsThumbnailEncrypted"`
}

// Metadata describes the original item of a container.
type Metadata struct {
	Version       int
	Platform      string
	IsFile        bool
	FileType      FileType
	OriginalName  string // full original path
	ThumbnailSize int
	Extras        Extras

	// PackSize is the plaintext pack size of a chunked container, or 0 for
	// a single CBC stream. Only present from version 2.
	PackSize int64
}

// BaseName returns the last element of the original path.
func (m *Metadata) BaseName() string {
	return filepath.Base(m.OriginalName)
}

// Ext returns the extension of the original path, including the dot.
func (m *Metadata) Ext() string {
	return filepath.Ext(m.OriginalName)
}

// Chunked reports whether the payload was written as independent packs.
func (m *Metadata) Chunked() bool {
	return m.PackSize > 0
}

// Trailer is a parsed or freshly written trailer.
type Trailer struct {
	Metadata  Metadata
	Thumbnail []byte

	metadataLen int
}

// Size returns the total number of trailing bytes the trailer occupies.
func (t *Trailer) Size() int64 {
	return int64(len(t.Thumbnail)) + int64(t.metadataLen) + LengthSize + int64(len(Signature))
}

// PayloadSize returns the ciphertext length of a container of fileSize bytes.
func (t *Trailer) PayloadSize(fileSize int64) int64 {
	return fileSize - t.Size()
}

// Millis converts t to epoch milliseconds.
func Millis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

// FromMillis converts epoch milliseconds to a time.Time.
func FromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}
