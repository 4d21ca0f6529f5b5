// Package fileops implements the file-level plumbing around the cipher:
// directory archives, extraction and pack reassembly.
package fileops

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	apperrors "filelocker/internal/errors"
	"filelocker/internal/log"
	"filelocker/internal/util"
)

// ProgressFunc is called during file operations to report progress.
// Parameters: progress (0.0-1.0 completion fraction), info (human-readable status).
type ProgressFunc func(progress float32, info string)

// StatusFunc is called to report status messages (e.g., "Archiving at 12.00 MiB/s").
type StatusFunc func(status string)

// ArchiveOptions configures CreateFromDirectory and ExtractToDirectory.
type ArchiveOptions struct {
	Progress ProgressFunc
	Status   StatusFunc
}

type archiveEntry struct {
	path string
	rel  string
	info fs.FileInfo
}

// CreateFromDirectory packs the tree under sourceDir into a store-only zip
// at destArchivePath. The payload is encrypted right after, so entries are
// never compressed. Directory entries are written too so empty directories
// survive the round trip. Symlinks and other special files are skipped.
//
// It returns the summed size of the archived files. On error or
// cancellation the partial archive is removed.
func CreateFromDirectory(ctx context.Context, sourceDir, destArchivePath string, opts ArchiveOptions) (_ int64, retErr error) {
	stat, err := os.Stat(sourceDir)
	if err != nil {
		return 0, apperrors.NewFileError("stat", sourceDir, err)
	}
	if !stat.IsDir() {
		return 0, fmt.Errorf("%w: %s is not a directory", apperrors.ErrArchive, sourceDir)
	}

	entries, totalSize, err := collectEntries(sourceDir)
	if err != nil {
		return 0, err
	}

	file, err := os.Create(destArchivePath)
	if err != nil {
		return 0, apperrors.NewFileError("create", destArchivePath, err)
	}
	writer := zip.NewWriter(file)

	defer func() {
		if retErr != nil {
			_ = writer.Close()
			_ = file.Close()
			_ = os.Remove(destArchivePath)
		}
	}()

	log.Debug("Archiving directory",
		log.String("source", sourceDir),
		log.Int("entries", len(entries)),
		log.Int64("bytes", totalSize))

	buf := util.StreamPool.Get()
	defer util.StreamPool.Put(buf)

	var done int64
	startTime := time.Now()

	for i, e := range entries {
		if err := ctx.Err(); err != nil {
			return 0, fmt.Errorf("%w: %w", apperrors.ErrCancelled, err)
		}

		header, err := zip.FileInfoHeader(e.info)
		if err != nil {
			return 0, fmt.Errorf("create header for %s: %w", e.path, err)
		}
		header.Name = e.rel
		header.Method = zip.Store
		if e.info.IsDir() {
			header.Name += "/"
		}

		entry, err := writer.CreateHeader(header)
		if err != nil {
			return 0, fmt.Errorf("create entry for %s: %w", e.path, err)
		}
		if e.info.IsDir() {
			continue
		}

		n, err := copyFileInto(entry, e.path, buf)
		if err != nil {
			return 0, err
		}
		done += n

		if opts.Progress != nil {
			progress, speed, eta := util.Statify(done, totalSize, startTime)
			opts.Progress(progress, fmt.Sprintf("%d/%d", i+1, len(entries)))
			if opts.Status != nil {
				opts.Status(fmt.Sprintf("Archiving at %.2f MiB/s (ETA: %s)", speed, eta))
			}
		}
	}

	if err := writer.Close(); err != nil {
		return 0, fmt.Errorf("close zip writer: %w", err)
	}
	if err := file.Close(); err != nil {
		return 0, apperrors.NewFileError("close", destArchivePath, err)
	}
	return totalSize, nil
}

// collectEntries walks root in lexical order and returns every regular
// file and directory below it, with slash-separated relative names.
func collectEntries(root string) ([]archiveEntry, int64, error) {
	var entries []archiveEntry
	var total int64

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path == root {
			return nil
		}
		if !d.IsDir() && !d.Type().IsRegular() {
			log.Debug("Skipping special file", log.String("path", path))
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}

		entries = append(entries, archiveEntry{path: path, rel: filepath.ToSlash(rel), info: info})
		if info.Mode().IsRegular() {
			total += info.Size()
		}
		return nil
	})
	if err != nil {
		return nil, 0, fmt.Errorf("walk %s: %w", root, err)
	}
	return entries, total, nil
}

func copyFileInto(w io.Writer, path string, buf []byte) (int64, error) {
	fin, err := os.Open(path)
	if err != nil {
		return 0, apperrors.NewFileError("open", path, err)
	}
	defer fin.Close()

	n, err := io.CopyBuffer(w, fin, buf)
	if err != nil {
		return n, fmt.Errorf("copy %s into archive: %w", path, err)
	}
	return n, nil
}
