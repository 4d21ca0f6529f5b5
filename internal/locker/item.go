package locker

import (
	"path/filepath"
	"sync"

	"filelocker/internal/trailer"
)

// ContainerExt is the extension of containers in the base directory.
const ContainerExt = ".locked"

// ItemType tells whether an item is plain or a container, and of what.
type ItemType int

const (
	Normal ItemType = iota
	EncodedFile
	EncodedFolder
)

func (t ItemType) String() string {
	switch t {
	case Normal:
		return "normal"
	case EncodedFile:
		return "encoded-file"
	case EncodedFolder:
		return "encoded-folder"
	default:
		return "unknown"
	}
}

// Status is the processing state of an item.
//
//	Ready -> ProcessInQueue -> Processing -> Processed | ProcessFailed
type Status int

const (
	Ready Status = iota
	ProcessInQueue
	Processing
	Processed
	ProcessFailed
)

func (s Status) String() string {
	switch s {
	case Ready:
		return "ready"
	case ProcessInQueue:
		return "in queue"
	case Processing:
		return "processing"
	case Processed:
		return "processed"
	case ProcessFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Item is a file or folder the manager encodes or decodes. Its fields
// belong to the manager while an operation runs; only Status and Err may
// be read concurrently.
type Item struct {
	ID            string // container UUID, empty for plain items
	InputInfo     string // path the next operation reads
	EncryptedInfo string // container path
	OriginalInfo  string // path of the plain item before encoding
	Trailer       *trailer.Trailer
	Corrupted     bool // container whose trailer failed to load
	Type          ItemType

	mu     sync.RWMutex
	status Status
	err    error
}

// NewItem returns a plain item for path.
func NewItem(path string) *Item {
	return &Item{InputInfo: path, OriginalInfo: path, Type: Normal}
}

// Status returns the current processing state.
func (it *Item) Status() Status {
	it.mu.RLock()
	defer it.mu.RUnlock()
	return it.status
}

// Err returns the error of the last failed operation, if any.
func (it *Item) Err() error {
	it.mu.RLock()
	defer it.mu.RUnlock()
	return it.err
}

func (it *Item) setStatus(s Status, err error) {
	it.mu.Lock()
	it.status = s
	it.err = err
	it.mu.Unlock()
}

// Encoded reports whether the item is a container.
func (it *Item) Encoded() bool {
	return it.Type == EncodedFile || it.Type == EncodedFolder
}

// Name returns the display name: the original base name for containers
// with a trailer, the input base name otherwise.
func (it *Item) Name() string {
	if it.Trailer != nil {
		return it.Trailer.Metadata.BaseName()
	}
	return filepath.Base(it.InputInfo)
}

func typeFor(m *trailer.Metadata) ItemType {
	if m.IsFile {
		return EncodedFile
	}
	return EncodedFolder
}
