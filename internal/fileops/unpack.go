package fileops

import (
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	apperrors "filelocker/internal/errors"
	"filelocker/internal/log"
	"filelocker/internal/util"
)

// ExtractToDirectory unpacks the zip at archivePath below destDir, creating
// destDir if needed. Entries with absolute or escaping names are rejected
// before anything is written. When overwrite is false, an existing target
// file fails the whole extraction with ErrFileExists, also before anything
// is written.
func ExtractToDirectory(ctx context.Context, archivePath, destDir string, overwrite bool, opts ArchiveOptions) (retErr error) {
	reader, err := zip.OpenReader(archivePath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return apperrors.NewFileError("open", archivePath, err)
		}
		return fmt.Errorf("%w: open %s: %w", apperrors.ErrArchive, archivePath, err)
	}
	defer func() {
		if err := reader.Close(); err != nil && retErr == nil {
			retErr = fmt.Errorf("close zip reader: %w", err)
		}
	}()

	// First pass: validate names and collisions, total the size.
	var totalSize int64
	for _, f := range reader.File {
		if !validEntryName(f.Name) {
			return fmt.Errorf("%w: potentially malicious zip item path %q", apperrors.ErrArchive, f.Name)
		}
		if f.FileInfo().IsDir() {
			continue
		}
		totalSize += int64(f.UncompressedSize64)

		if !overwrite {
			outPath := filepath.Join(destDir, filepath.FromSlash(f.Name))
			if _, err := os.Lstat(outPath); err == nil {
				return fmt.Errorf("%w: %s", apperrors.ErrFileExists, outPath)
			}
		}
	}

	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return apperrors.NewFileError("mkdir", destDir, err)
	}

	log.Debug("Extracting archive",
		log.String("archive", archivePath),
		log.String("dest", destDir),
		log.Int("entries", len(reader.File)))

	buf := util.StreamPool.Get()
	defer util.StreamPool.Put(buf)

	var done int64
	startTime := time.Now()
	var dirs []*zip.File

	for i, f := range reader.File {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%w: %w", apperrors.ErrCancelled, err)
		}

		outPath := filepath.Join(destDir, filepath.FromSlash(f.Name))
		if err := removeSymlink(outPath); err != nil {
			return err
		}

		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(outPath, 0o755); err != nil {
				return apperrors.NewFileError("mkdir", outPath, err)
			}
			dirs = append(dirs, f)
			continue
		}

		if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
			return apperrors.NewFileError("mkdir", filepath.Dir(outPath), err)
		}

		n, err := extractFile(f, outPath, buf)
		if err != nil {
			return err
		}
		done += n

		if opts.Progress != nil {
			progress, speed, eta := util.Statify(done, totalSize, startTime)
			opts.Progress(progress, fmt.Sprintf("%d/%d", i+1, len(reader.File)))
			if opts.Status != nil {
				opts.Status(fmt.Sprintf("Unpacking at %.2f MiB/s (ETA: %s)", speed, eta))
			}
		}
	}

	// Directory times last, since writing children updates them.
	for _, d := range dirs {
		outPath := filepath.Join(destDir, filepath.FromSlash(d.Name))
		_ = os.Chtimes(outPath, d.Modified, d.Modified)
	}

	return nil
}

// removeSymlink deletes a symlink at path so that writing the entry
// replaces the link instead of following it.
func removeSymlink(path string) error {
	info, err := os.Lstat(path)
	if err != nil || info.Mode()&fs.ModeSymlink == 0 {
		return nil
	}
	if err := os.Remove(path); err != nil {
		return apperrors.NewFileError("remove", path, err)
	}
	return nil
}

// validEntryName accepts only relative, slash-separated names that stay
// below the extraction root.
func validEntryName(name string) bool {
	if name == "" || strings.Contains(name, `\`) {
		return false
	}
	return filepath.IsLocal(filepath.FromSlash(name))
}

func extractFile(f *zip.File, outPath string, buf []byte) (_ int64, retErr error) {
	src, err := f.Open()
	if err != nil {
		return 0, fmt.Errorf("%w: open %s in archive: %w", apperrors.ErrArchive, f.Name, err)
	}
	defer src.Close()

	perm := f.Mode().Perm()
	if perm == 0 {
		perm = 0o644
	}
	dst, err := os.OpenFile(outPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, perm)
	if err != nil {
		return 0, apperrors.NewFileError("create", outPath, err)
	}
	defer func() {
		if cerr := dst.Close(); cerr != nil && retErr == nil {
			retErr = apperrors.NewFileError("close", outPath, cerr)
		}
		if retErr != nil {
			_ = os.Remove(outPath)
		}
	}()

	n, err := io.CopyBuffer(dst, src, buf)
	if err != nil {
		if errors.Is(err, zip.ErrChecksum) || errors.Is(err, zip.ErrFormat) {
			return n, fmt.Errorf("%w: read %s: %w", apperrors.ErrArchive, f.Name, err)
		}
		return n, fmt.Errorf("write %s: %w", outPath, err)
	}

	if !f.Modified.IsZero() {
		_ = os.Chtimes(outPath, f.Modified, f.Modified)
	}
	return n, nil
}
