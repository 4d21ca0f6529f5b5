package locker

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"filelocker/internal/chunk"
	"filelocker/internal/crypto"
	apperrors "filelocker/internal/errors"
	"filelocker/internal/fileops"
	"filelocker/internal/log"
	"filelocker/internal/registry"
	"filelocker/internal/thumbnail"
	"filelocker/internal/trailer"

	"github.com/google/uuid"
)

type phase func(ctx context.Context, op *operation) error

// runPhases runs each phase in order, checking for cancellation before
// every one. The first error stops the run.
func runPhases(ctx context.Context, op *operation, phases ...phase) error {
	for _, p := range phases {
		if err := cancelled(ctx); err != nil {
			return err
		}
		if err := p(ctx, op); err != nil {
			return err
		}
	}
	return nil
}

func (m *Manager) encode(ctx context.Context, item *Item, args Args) error {
	if err := encodeValidate(item, args); err != nil {
		return err
	}

	op, err := m.newOperation(item, args, "encode")
	if err != nil {
		return err
	}
	defer op.Close() // Zeroes the key, removes scratch files
	op.start = time.Now()

	if err := runPhases(ctx, op,
		m.encodeInspect,
		m.encodePrepare,
		m.deriveKey(crypto.Encrypt),
		m.encodePayload,
		m.encodeThumbnail,
		m.encodeTrailer,
		m.encodePublish,
	); err != nil {
		return err
	}

	m.encodeFinish(ctx, op)
	return nil
}

func encodeValidate(item *Item, args Args) error {
	if item.Encoded() {
		return apperrors.NewValidationError("item", "already encoded")
	}
	if args.Password == "" {
		return apperrors.NewValidationError("password", "must not be empty")
	}
	return nil
}

// encodeInspect stats the input and classifies it.
func (m *Manager) encodeInspect(_ context.Context, op *operation) error {
	path, err := filepath.Abs(op.item.InputInfo)
	if err != nil {
		return apperrors.NewFileError("stat", op.item.InputInfo, err)
	}

	info, err := os.Stat(path)
	if err != nil {
		return apperrors.NewFileError("stat", path, err)
	}
	if !info.IsDir() && !info.Mode().IsRegular() {
		return apperrors.NewValidationError("input", "not a regular file or folder")
	}
	if info.IsDir() && m.holdsBaseDir(path) {
		return apperrors.NewValidationError("input", "folder contains the base directory")
	}

	op.original = path
	op.source = path
	op.info = info
	op.isDir = info.IsDir()
	op.size = info.Size()
	op.content = info.Size()
	op.fileType = thumbnail.Classify(path, op.isDir)
	return nil
}

// holdsBaseDir reports whether dir is the base directory or one of its
// ancestors. Removing such a folder after locking would delete the
// container with it.
func (m *Manager) holdsBaseDir(dir string) bool {
	base, err := filepath.Abs(m.cfg.BaseDir)
	if err != nil {
		return true
	}
	if resolved, err := filepath.EvalSymlinks(base); err == nil {
		base = resolved
	}
	if resolved, err := filepath.EvalSymlinks(dir); err == nil {
		dir = resolved
	}

	rel, err := filepath.Rel(dir, base)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// encodePrepare archives folders and picks the payload mode.
func (m *Manager) encodePrepare(ctx context.Context, op *operation) error {
	if op.isDir {
		op.setStatus("Archiving folder...")
		archive := filepath.Join(op.workDir, "payload.zip")
		content, err := fileops.CreateFromDirectory(ctx, op.source, archive, op.archiveOptions())
		if err != nil {
			return err
		}
		info, err := os.Stat(archive)
		if err != nil {
			return apperrors.NewFileError("stat", archive, err)
		}
		op.source = archive
		op.size = info.Size()
		op.content = content
	}

	if op.args.Parallel || (m.cfg.ParallelThreshold > 0 && op.size >= m.cfg.ParallelThreshold) {
		op.packSize = m.cfg.PackSize
	}
	op.log.Debug("Payload prepared",
		log.Int64("size", op.size),
		log.Int64("pack_size", op.packSize),
		log.Bool("folder", op.isDir))
	return nil
}

func (m *Manager) deriveKey(dir crypto.Direction) phase {
	return func(_ context.Context, op *operation) error {
		op.setStatus("Deriving key...")
		c, err := m.newCipher(op.args.Password, dir)
		if err != nil {
			return err
		}
		op.cipher = c
		return nil
	}
}

func (m *Manager) encodePayload(ctx context.Context, op *operation) error {
	op.payload = filepath.Join(op.workDir, "payload.enc")

	if op.packSize > 0 {
		return m.runPacks(ctx, op, "Encrypting", op.packSize)
	}

	op.setStatus("Encrypting...")
	return op.cipher.EncryptFile(op.source, op.payload, op.streamProgress("Encrypting"), op.logError)
}

// runPacks transforms op.source in packs of packSize bytes and assembles
// the parts into op.payload.
func (m *Manager) runPacks(ctx context.Context, op *operation, verb string, packSize int64) error {
	op.setStatus(verb + "...")

	s := &chunk.Scheduler{
		Workers:   m.cfg.Workers,
		Transform: packTransform(op.cipher),
		Progress:  op.packProgress(verb),
	}
	res, err := s.Run(ctx, chunk.Job{
		Source:    op.source,
		Total:     op.size,
		PackSize:  packSize,
		OutputDir: filepath.Join(op.workDir, "packs"),
	})
	if err != nil {
		return err
	}

	op.setStatus("Assembling packs...")
	return res.Assemble(ctx, op.payload, nil)
}

// packTransform runs c over one pack with that pack's IV.
func packTransform(c *crypto.StreamCipher) chunk.TransformFunc {
	return func(_ context.Context, p chunk.Pack, r io.Reader, w io.Writer) error {
		return c.ForPack(p.Index).Transform(r, w, p.Length, nil)
	}
}

// encodeThumbnail renders and encrypts a preview for images. A preview
// that cannot be rendered is skipped. The image dimensions are recorded
// either way when the header decodes.
func (m *Manager) encodeThumbnail(_ context.Context, op *operation) error {
	if op.isDir || op.fileType != trailer.Image {
		return nil
	}
	if !m.cfg.Thumbnails {
		op.dimension = imageDimensions(op)
		return nil
	}

	op.setStatus("Generating thumbnail...")
	res, err := thumbnail.Generate(op.original, m.cfg.ThumbnailSize)
	if err != nil {
		op.log.Warn("Skipping thumbnail", log.Err(err))
		op.dimension = imageDimensions(op)
		return nil
	}

	ct, err := op.cipher.ForThumbnail().Encrypt(res.JPEG)
	if err != nil {
		return err
	}
	op.thumbnail = ct
	op.dimension = &res.Dimension
	return nil
}

func imageDimensions(op *operation) *trailer.Dimension {
	dim, err := thumbnail.Dimensions(op.original)
	if err != nil {
		op.log.Debug("Image dimensions unavailable", log.Err(err))
		return nil
	}
	return &dim
}

func (m *Manager) encodeTrailer(_ context.Context, op *operation) error {
	op.setStatus("Writing trailer...")

	// There is no portable birth time; the modification time stands in.
	modified := trailer.Millis(op.info.ModTime())
	meta := &trailer.Metadata{
		IsFile:       !op.isDir,
		FileType:     op.fileType,
		OriginalName: op.original,
		Extras: trailer.Extras{
			Dimension:            op.dimension,
			Size:                 op.content,
			CreationTime:         modified,
			LastWriteTime:        modified,
			IsThumbnailEncrypted: len(op.thumbnail) > 0,
		},
		PackSize: op.packSize,
	}

	tr, err := trailer.Append(op.payload, meta, op.thumbnail)
	if err != nil {
		return err
	}
	op.trailer = tr
	return nil
}

// encodePublish moves the finished container into the base directory and
// points the item at it.
func (m *Manager) encodePublish(_ context.Context, op *operation) error {
	id := uuid.NewString()
	dest := filepath.Join(m.cfg.BaseDir, id+ContainerExt)
	if err := os.Rename(op.payload, dest); err != nil {
		return apperrors.NewFileError("rename", dest, err)
	}
	op.output = dest

	item := op.item
	item.ID = id
	item.OriginalInfo = op.trailer.Metadata.OriginalName
	item.InputInfo = dest
	item.EncryptedInfo = dest
	item.Trailer = op.trailer
	item.Corrupted = false
	item.Type = typeFor(&op.trailer.Metadata)
	return nil
}

// encodeFinish runs the steps after publishing. The container exists at
// this point, so failures are logged rather than returned.
func (m *Manager) encodeFinish(ctx context.Context, op *operation) {
	item := op.item
	meta := op.trailer.Metadata

	if m.registry != nil {
		err := m.registry.Put(ctx, registry.Entry{
			ID:           item.ID,
			Path:         item.EncryptedInfo,
			OriginalName: meta.OriginalName,
			FileType:     meta.FileType,
			CreatedAt:    time.Now(),
		})
		if err != nil {
			op.log.Warn("Failed to record item", log.String("id", item.ID), log.Err(err))
		}
	}

	if !op.args.KeepOriginal {
		op.setStatus("Removing original...")
		if err := os.RemoveAll(meta.OriginalName); err != nil {
			op.log.Warn("Failed to remove original", log.String("path", meta.OriginalName), log.Err(err))
		}
	}

	op.setStatus("Completed")
	op.updateProgress(1, "100.00%")
	op.log.Info("Item locked",
		log.String("container", item.EncryptedInfo),
		log.String("type", meta.FileType.String()),
		log.Int64("size", meta.Extras.Size),
		log.Bool("chunked", meta.Chunked()),
		log.Duration("took", time.Since(op.start)))
}
