package locker

import (
	"fmt"
	"os"
	"time"

	"filelocker/internal/crypto"
	"filelocker/internal/fileops"
	"filelocker/internal/log"
	"filelocker/internal/trailer"
	"filelocker/internal/util"
)

// ProgressReporter receives status and progress while an operation runs.
// Implementations must be safe for concurrent use: chunked runs report
// from worker goroutines.
type ProgressReporter interface {
	SetStatus(text string)                     // e.g. "Encrypting..."
	SetProgress(fraction float32, info string) // 0.0-1.0 plus info text
}

// ExportType selects where DecodeOne writes the recovered item.
type ExportType int

const (
	ExportOriginal  ExportType = iota // the path recorded in the trailer
	ExportRecovered                   // Config.RecoveredDir()
)

// Args are the per-call options of EncodeOne and DecodeOne.
type Args struct {
	Password          string
	KeepOriginal      bool // keep the source (encode) or the container (decode)
	OverwriteExisting bool // replace an existing output instead of picking a free name
	ExportType        ExportType
	Parallel          bool // force chunked mode on encode

	Reporter ProgressReporter // may be nil
}

// operation holds the mutable state of one EncodeOne or DecodeOne call.
// It is created at the start of the call and passed through every phase.
type operation struct {
	item *Item
	args Args
	log  log.Logger

	workDir string // scratch directory inside BaseDir, removed on exit

	// Encode: the plaintext fed to the cipher (the input, or its archive).
	// Decode: the container.
	source   string
	size     int64 // bytes of source to transform
	content  int64 // file size, or the summed file sizes of a folder
	original string
	info     os.FileInfo
	isDir    bool
	fileType trailer.FileType

	cipher   *crypto.StreamCipher
	packSize int64 // plaintext pack size, 0 for a single stream

	payload   string // ciphertext (encode) or plaintext (decode) in workDir
	thumbnail []byte
	dimension *trailer.Dimension
	trailer   *trailer.Trailer
	output    string

	start time.Time
}

func (op *operation) setStatus(text string) {
	if op.args.Reporter != nil {
		op.args.Reporter.SetStatus(text)
	}
}

func (op *operation) updateProgress(fraction float32, info string) {
	if op.args.Reporter != nil {
		op.args.Reporter.SetProgress(fraction, info)
	}
}

// streamProgress adapts a cipher progress callback to the reporter,
// adding speed and ETA. verb is "Encrypting" or "Decrypting".
func (op *operation) streamProgress(verb string) crypto.ProgressFunc {
	if op.args.Reporter == nil {
		return nil
	}
	start := time.Now()
	return func(fraction float64) {
		done := int64(fraction * float64(op.size))
		progress, speed, eta := util.Statify(done, op.size, start)
		op.updateProgress(progress, fmt.Sprintf("%.2f%%", progress*100))
		op.setStatus(fmt.Sprintf("%s at %.2f MiB/s (ETA: %s)", verb, speed, eta))
	}
}

// packProgress is streamProgress for chunked runs.
func (op *operation) packProgress(verb string) func(done, total int64) {
	if op.args.Reporter == nil {
		return nil
	}
	start := time.Now()
	return func(done, total int64) {
		progress, speed, eta := util.Statify(done, total, start)
		op.updateProgress(progress, fmt.Sprintf("%.2f%%", progress*100))
		op.setStatus(fmt.Sprintf("%s at %.2f MiB/s (ETA: %s)", verb, speed, eta))
	}
}

// archiveOptions forwards archiver progress to the reporter.
func (op *operation) archiveOptions() fileops.ArchiveOptions {
	if op.args.Reporter == nil {
		return fileops.ArchiveOptions{}
	}
	return fileops.ArchiveOptions{
		Progress: op.updateProgress,
		Status:   op.setStatus,
	}
}

// logError is the cipher error callback.
func (op *operation) logError(err error) {
	op.log.Error("Stream transform failed", log.Err(err))
}

// Close zeroes the key material and removes the scratch directory.
// It is safe to call on a partially initialized operation.
func (op *operation) Close() {
	if op == nil {
		return
	}
	if op.cipher != nil {
		op.cipher.Close()
		op.cipher = nil
	}
	if op.workDir != "" {
		if err := os.RemoveAll(op.workDir); err != nil {
			op.log.Warn("Failed to remove scratch directory", log.String("dir", op.workDir), log.Err(err))
		}
		op.workDir = ""
	}
}
