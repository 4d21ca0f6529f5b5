package chunk

import (
	"cmp"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"sync"

	apperrors "filelocker/internal/errors"
	"filelocker/internal/fileops"
	"filelocker/internal/log"

	"golang.org/x/sync/errgroup"
)

// TransformFunc reads exactly p.Length bytes of source from r and writes
// the transformed pack to w.
type TransformFunc func(ctx context.Context, p Pack, r io.Reader, w io.Writer) error

// ProgressFunc receives the number of source bytes in completed packs.
type ProgressFunc func(done, total int64)

// Scheduler runs a TransformFunc over every pack of a source file.
type Scheduler struct {
	Workers   int // <= 0 means runtime.NumCPU()
	Transform TransformFunc
	Progress  ProgressFunc
}

// Job describes one scheduling run.
type Job struct {
	Source    string // file the packs are read from
	Total     int64  // bytes of Source to cover, starting at offset 0
	PackSize  int64
	OutputDir string // receives pack-<index>.part files; created if missing
}

// run holds the state shared by the workers of one Run. mu guards packs
// and done; nothing else is shared.
type run struct {
	mu     sync.Mutex
	packs  []Pack
	done   int64
	causes []error
}

// claim marks the first unclaimed, uncompleted pack as claimed and returns it.
func (r *run) claim() (Pack, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i := range r.packs {
		p := &r.packs[i]
		if !p.Completed && !p.Claimed {
			p.Claimed = true
			return *p, true
		}
	}
	return Pack{}, false
}

func (r *run) complete(index int) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.packs[index].Completed = true
	r.done += r.packs[index].Length
	return r.done
}

func (r *run) fail(index int, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.causes = append(r.causes, &apperrors.PackError{Index: index, Err: err})
}

// Run builds the packs for job and processes each of them exactly once on
// a pool of workers. Each worker opens its own handle on the source for
// every pack, so there is no shared read cursor.
//
// A failing pack does not stop the others. After all workers return, any
// pack that did not complete fails the run with an *errors.IncompletePacksError,
// and every part written so far is removed.
func (s *Scheduler) Run(ctx context.Context, job Job) (*Result, error) {
	if s.Transform == nil {
		return nil, apperrors.NewValidationError("transform", "must not be nil")
	}

	packs, err := BuildPacks(job.Total, job.PackSize)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(job.OutputDir, 0o700); err != nil {
		return nil, apperrors.NewFileError("mkdir", job.OutputDir, err)
	}

	workers := s.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	workers = max(1, min(workers, len(packs)))

	r := &run{packs: packs}
	res := &Result{dir: job.OutputDir, packs: packs}

	log.Debug("Starting pack run",
		log.String("source", job.Source),
		log.Int("packs", len(packs)),
		log.Int("workers", workers),
		log.Int64("packSize", job.PackSize))

	var g errgroup.Group
	for range workers {
		g.Go(func() error {
			return s.work(ctx, r, job)
		})
	}
	if err := g.Wait(); err != nil {
		res.Cleanup()
		return nil, fmt.Errorf("%w: %w", apperrors.ErrCancelled, err)
	}

	var missing []int
	for _, p := range r.packs {
		if !p.Completed {
			missing = append(missing, p.Index)
		}
	}
	if len(missing) > 0 {
		res.Cleanup()
		log.Error("Pack run incomplete",
			log.String("source", job.Source),
			log.Int("missing", len(missing)))
		return nil, &apperrors.IncompletePacksError{Missing: missing, Causes: r.causes}
	}

	return res, nil
}

// work claims packs until none are left. Only cancellation is returned;
// pack failures are recorded on r.
func (s *Scheduler) work(ctx context.Context, r *run, job Job) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		p, ok := r.claim()
		if !ok {
			return nil
		}

		if err := s.process(ctx, job, p); err != nil {
			log.Warn("Pack failed", log.Int("index", p.Index), log.Err(err))
			r.fail(p.Index, err)
			continue
		}

		done := r.complete(p.Index)
		if s.Progress != nil {
			s.Progress(done, job.Total)
		}
	}
}

func (s *Scheduler) process(ctx context.Context, job Job, p Pack) (retErr error) {
	src, err := os.Open(job.Source)
	if err != nil {
		return apperrors.NewFileError("open", job.Source, err)
	}
	defer src.Close()

	outPath := partPath(job.OutputDir, p.Index)
	out, err := os.OpenFile(outPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return apperrors.NewFileError("create", outPath, err)
	}
	defer func() {
		if cerr := out.Close(); cerr != nil && retErr == nil {
			retErr = apperrors.NewFileError("close", outPath, cerr)
		}
		if retErr != nil {
			_ = os.Remove(outPath)
		}
	}()

	return s.Transform(ctx, p, io.NewSectionReader(src, p.Offset, p.Length), out)
}

func partPath(dir string, index int) string {
	return filepath.Join(dir, fmt.Sprintf("pack-%d.part", index))
}

// Result is a completed run whose parts are waiting to be reassembled.
type Result struct {
	dir   string
	packs []Pack
}

// Packs returns a copy of the completed packs.
func (r *Result) Packs() []Pack {
	return slices.Clone(r.packs)
}

// Parts returns the part files in ascending offset order.
func (r *Result) Parts() []string {
	ordered := slices.Clone(r.packs)
	slices.SortFunc(ordered, func(a, b Pack) int {
		return cmp.Compare(a.Offset, b.Offset)
	})

	parts := make([]string, len(ordered))
	for i, p := range ordered {
		parts[i] = partPath(r.dir, p.Index)
	}
	return parts
}

// Assemble concatenates the parts in offset order into dest, then removes
// them. Parts are removed on failure too.
func (r *Result) Assemble(ctx context.Context, dest string, progress fileops.ProgressFunc) error {
	defer r.Cleanup()

	return fileops.Concat(ctx, fileops.ConcatOptions{
		Parts:      r.Parts(),
		OutputPath: dest,
		Progress:   progress,
	})
}

// Cleanup removes every part file of the run. It is safe to call twice.
func (r *Result) Cleanup() {
	for _, p := range r.packs {
		_ = os.Remove(partPath(r.dir, p.Index))
	}
}
