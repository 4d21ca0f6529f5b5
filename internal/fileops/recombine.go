package fileops

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	apperrors "filelocker/internal/errors"
	"filelocker/internal/util"
)

// ConcatOptions configures part reassembly.
type ConcatOptions struct {
	Parts      []string // Part files, already in output order
	OutputPath string   // Created or truncated
	Progress   ProgressFunc
	Status     StatusFunc
}

// Concat writes the parts one after another into OutputPath. The output is
// removed if any part cannot be copied.
func Concat(ctx context.Context, opts ConcatOptions) (retErr error) {
	var totalSize int64
	for _, p := range opts.Parts {
		stat, err := os.Stat(p)
		if err != nil {
			return apperrors.NewFileError("stat", p, err)
		}
		totalSize += stat.Size()
	}

	fout, err := os.Create(opts.OutputPath)
	if err != nil {
		return apperrors.NewFileError("create", opts.OutputPath, err)
	}
	defer func() {
		if cerr := fout.Close(); cerr != nil && retErr == nil {
			retErr = apperrors.NewFileError("close", opts.OutputPath, cerr)
		}
		if retErr != nil {
			_ = os.Remove(opts.OutputPath)
		}
	}()

	buf := util.StreamPool.Get()
	defer util.StreamPool.Put(buf)

	var totalDone int64
	startTime := time.Now()

	for i, p := range opts.Parts {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%w: %w", apperrors.ErrCancelled, err)
		}

		n, err := appendPart(fout, p, buf)
		if err != nil {
			return fmt.Errorf("part %d: %w", i, err)
		}
		totalDone += n

		if opts.Progress != nil {
			progress, speed, eta := util.Statify(totalDone, totalSize, startTime)
			opts.Progress(progress, fmt.Sprintf("%d/%d", i+1, len(opts.Parts)))
			if opts.Status != nil {
				opts.Status(fmt.Sprintf("Reassembling at %.2f MiB/s (ETA: %s)", speed, eta))
			}
		}
	}

	// Sync to ensure all data is flushed to disk before caller reads the file
	if err := fout.Sync(); err != nil {
		return apperrors.NewFileError("sync", opts.OutputPath, err)
	}
	return nil
}

func appendPart(w io.Writer, path string, buf []byte) (int64, error) {
	fin, err := os.Open(path)
	if err != nil {
		return 0, apperrors.NewFileError("open", path, err)
	}
	defer fin.Close()

	n, err := io.CopyBuffer(w, fin, buf)
	if err != nil {
		return n, fmt.Errorf("copy %s: %w", path, err)
	}
	return n, nil
}
