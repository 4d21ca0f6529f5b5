// Package thumbnail classifies items by content type and renders the small
// JPEG preview stored in a container's trailer.
package thumbnail

import (
	"path/filepath"
	"strings"

	"filelocker/internal/trailer"

	"github.com/gabriel-vasile/mimetype"
)

var extTypes = map[string]trailer.FileType{
	// Images
	".jpg": trailer.Image, ".jpeg": trailer.Image, ".png": trailer.Image, ".gif": trailer.Image,
	".bmp": trailer.Image, ".webp": trailer.Image, ".heic": trailer.Image, ".tif": trailer.Image,
	".tiff": trailer.Image, ".svg": trailer.Image,

	// Video
	".mp4": trailer.Video, ".mkv": trailer.Video, ".mov": trailer.Video, ".avi": trailer.Video,
	".webm": trailer.Video, ".3gp": trailer.Video, ".m4v": trailer.Video,

	// Audio
	".mp3": trailer.Audio, ".wav": trailer.Audio, ".flac": trailer.Audio, ".ogg": trailer.Audio,
	".m4a": trailer.Audio, ".aac": trailer.Audio, ".opus": trailer.Audio,

	// Archives
	".zip": trailer.Compressed, ".rar": trailer.Compressed, ".7z": trailer.Compressed,
	".tar": trailer.Compressed, ".gz": trailer.Compressed, ".xz": trailer.Compressed,
	".bz2": trailer.Compressed, ".zst": trailer.Compressed,

	// Documents
	".pdf": trailer.Document, ".doc": trailer.Document, ".docx": trailer.Document,
	".xls": trailer.Document, ".xlsx": trailer.Document, ".ppt": trailer.Document,
	".pptx": trailer.Document, ".odt": trailer.Document, ".txt": trailer.Document,
	".md": trailer.Document, ".rtf": trailer.Document, ".csv": trailer.Document,
	".epub": trailer.Document,
}

var archiveMIMEs = []string{
	"application/zip",
	"application/gzip",
	"application/x-7z-compressed",
	"application/x-rar-compressed",
	"application/x-tar",
	"application/x-xz",
	"application/x-bzip2",
	"application/zstd",
}

var documentMIMEs = []string{
	"application/pdf",
	"application/msword",
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	"application/vnd.ms-excel",
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
	"application/vnd.ms-powerpoint",
	"application/vnd.openxmlformats-officedocument.presentationml.presentation",
	"application/vnd.oasis.opendocument.text",
	"application/epub+zip",
	"text/rtf",
	"text/plain",
	"text/csv",
}

// FromExtension classifies a name by its extension alone.
func FromExtension(name string) trailer.FileType {
	if ft, ok := extTypes[strings.ToLower(filepath.Ext(name))]; ok {
		return ft
	}
	return trailer.Unknown
}

// Classify returns the FileType of the item at path. Directories are always
// Directory; files are classified by extension first and by sniffing their
// content when the extension is unknown.
func Classify(path string, isDir bool) trailer.FileType {
	if isDir {
		return trailer.Directory
	}
	if ft := FromExtension(path); ft != trailer.Unknown {
		return ft
	}

	mtype, err := mimetype.DetectFile(path)
	if err != nil {
		return trailer.Unknown
	}
	return FromMIME(mtype)
}

// FromMIME maps a detected MIME type to a FileType, walking up its parents
// so that e.g. a docx (a zip) is a Document rather than Compressed.
func FromMIME(m *mimetype.MIME) trailer.FileType {
	for ; m != nil; m = m.Parent() {
		s := m.String()
		switch {
		case strings.HasPrefix(s, "image/"):
			return trailer.Image
		case strings.HasPrefix(s, "video/"):
			return trailer.Video
		case strings.HasPrefix(s, "audio/"):
			return trailer.Audio
		case isAny(m, documentMIMEs):
			return trailer.Document
		case isAny(m, archiveMIMEs):
			return trailer.Compressed
		}
	}
	return trailer.Unknown
}

func isAny(m *mimetype.MIME, types []string) bool {
	for _, t := range types {
		if m.Is(t) {
			return true
		}
	}
	return false
}
