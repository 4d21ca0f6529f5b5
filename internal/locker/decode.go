package locker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"filelocker/internal/crypto"
	"filelocker/internal/encoding"
	apperrors "filelocker/internal/errors"
	"filelocker/internal/fileops"
	"filelocker/internal/log"
	"filelocker/internal/trailer"
	"filelocker/internal/util"
)

// maxFreeNameAttempts bounds the "name (n).ext" search.
const maxFreeNameAttempts = 10000

func (m *Manager) decode(ctx context.Context, item *Item, args Args) error {
	if args.Password == "" {
		return apperrors.NewValidationError("password", "must not be empty")
	}

	op, err := m.newOperation(item, args, "decode")
	if err != nil {
		return err
	}
	defer op.Close()
	op.start = time.Now()

	if err := runPhases(ctx, op,
		m.decodeInspect,
		m.deriveKey(crypto.Decrypt),
		m.decodePayload,
		m.decodeTarget,
		m.decodeRestore,
	); err != nil {
		return err
	}

	m.decodeFinish(ctx, op)
	return nil
}

// decodeInspect locates the container and its ciphertext. An item opened
// without a trailer gets one loaded here, or is flagged Corrupted.
func (m *Manager) decodeInspect(_ context.Context, op *operation) error {
	item := op.item
	path := item.EncryptedInfo
	if path == "" {
		path = item.InputInfo
	}

	info, err := os.Stat(path)
	if err != nil {
		return apperrors.NewFileError("stat", path, err)
	}

	if item.Trailer == nil {
		tr, err := trailer.InspectFile(path)
		if err != nil {
			item.Corrupted = true
			return err
		}
		item.Trailer = tr
		item.EncryptedInfo = path
		item.Type = typeFor(&tr.Metadata)
		if item.ID == "" {
			item.ID = containerID(path)
		}
	}

	tr := item.Trailer
	payload := tr.PayloadSize(info.Size())
	if payload < 0 {
		item.Corrupted = true
		return apperrors.NewTrailerError("length", fmt.Errorf("trailer of %d bytes in a %d byte file", tr.Size(), info.Size()))
	}

	op.trailer = tr
	op.source = path
	op.info = info
	op.size = payload
	op.isDir = !tr.Metadata.IsFile
	if tr.Metadata.Chunked() {
		// Every pack is padded on its own.
		op.packSize = encoding.PaddedLen(tr.Metadata.PackSize, encoding.BlockSize)
	}
	return nil
}

func (m *Manager) decodePayload(ctx context.Context, op *operation) error {
	op.payload = filepath.Join(op.workDir, "payload.dec")

	if op.packSize > 0 {
		return m.runPacks(ctx, op, "Decrypting", op.packSize)
	}

	op.setStatus("Decrypting...")
	return decryptSection(op)
}

// decryptSection decrypts the first op.size bytes of the container in one
// stream.
func decryptSection(op *operation) (retErr error) {
	in, err := os.Open(op.source)
	if err != nil {
		return apperrors.NewFileError("open", op.source, err)
	}
	defer in.Close()

	out, err := os.Create(op.payload)
	if err != nil {
		return apperrors.NewFileError("create", op.payload, err)
	}
	defer func() {
		if err := out.Close(); err != nil && retErr == nil {
			retErr = apperrors.NewFileError("close", op.payload, err)
		}
	}()

	section := io.NewSectionReader(in, 0, op.size)
	return op.cipher.DecryptStream(section, out, op.size, op.streamProgress("Decrypting"), op.logError)
}

// decodeTarget picks where the recovered item goes.
func (m *Manager) decodeTarget(_ context.Context, op *operation) error {
	meta := &op.trailer.Metadata

	dir := m.cfg.RecoveredDir()
	if op.args.ExportType == ExportOriginal && meta.OriginalName != "" {
		dir = filepath.Dir(meta.OriginalName)
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return apperrors.NewFileError("mkdir", dir, err)
	}

	name := meta.BaseName()
	switch name {
	case "", ".", "..", string(filepath.Separator):
		name = "recovered-" + op.item.ID
	}

	target := filepath.Join(dir, name)
	if !op.args.OverwriteExisting {
		free, err := freeName(target, op.isDir)
		if err != nil {
			return err
		}
		target = free
	}
	op.output = target
	return nil
}

// decodeRestore moves the plaintext into place, extracting folders.
func (m *Manager) decodeRestore(ctx context.Context, op *operation) error {
	meta := &op.trailer.Metadata

	if op.isDir {
		op.setStatus("Extracting folder...")
		err := fileops.ExtractToDirectory(ctx, op.payload, op.output, op.args.OverwriteExisting, op.archiveOptions())
		if err != nil {
			if !op.args.OverwriteExisting {
				// The target was a fresh name, nothing of the user's is lost.
				_ = os.RemoveAll(op.output)
			}
			return err
		}
		return nil
	}

	op.setStatus("Restoring file...")
	if err := moveFile(op.payload, op.output); err != nil {
		return err
	}
	if meta.Extras.LastWriteTime != 0 {
		mod := trailer.FromMillis(meta.Extras.LastWriteTime)
		if err := os.Chtimes(op.output, mod, mod); err != nil {
			op.log.Debug("Failed to restore modification time", log.Err(err))
		}
	}
	return nil
}

// decodeFinish removes the container and turns the item back into a plain
// one. Failures here are logged: the recovered item is already in place.
func (m *Manager) decodeFinish(ctx context.Context, op *operation) {
	item := op.item
	container := op.source

	if !op.args.KeepOriginal {
		op.setStatus("Removing container...")
		if err := os.Remove(container); err != nil {
			op.log.Warn("Failed to remove container", log.String("path", container), log.Err(err))
		} else {
			m.forget(ctx, item.ID)
			item.EncryptedInfo = ""
			item.ID = ""
		}
	}

	item.InputInfo = op.output
	item.OriginalInfo = op.output
	item.Trailer = nil
	item.Corrupted = false
	item.Type = Normal

	op.setStatus("Completed")
	op.updateProgress(1, "100.00%")
	op.log.Info("Item unlocked",
		log.String("container", container),
		log.String("output", op.output),
		log.Duration("took", time.Since(op.start)))
}

// moveFile renames src to dst, falling back to a copy when they are on
// different filesystems. The copy goes through a temporary file next to
// dst so that dst never holds a partial file.
func moveFile(src, dst string) (retErr error) {
	if err := os.Rename(src, dst); err == nil {
		return nil
	}

	in, err := os.Open(src)
	if err != nil {
		return apperrors.NewFileError("open", src, err)
	}
	defer in.Close()

	tmp, err := os.CreateTemp(filepath.Dir(dst), "."+filepath.Base(dst)+".*")
	if err != nil {
		return apperrors.NewFileError("create", dst, err)
	}
	defer func() {
		if retErr != nil {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
		}
	}()

	buf := util.StreamPool.Get()
	defer util.StreamPool.Put(buf)

	if _, err := io.CopyBuffer(tmp, in, buf); err != nil {
		return apperrors.NewFileError("write", tmp.Name(), err)
	}
	if err := tmp.Sync(); err != nil {
		return apperrors.NewFileError("sync", tmp.Name(), err)
	}
	if err := tmp.Close(); err != nil {
		return apperrors.NewFileError("close", tmp.Name(), err)
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		return apperrors.NewFileError("rename", dst, err)
	}
	return nil
}

// freeName returns path if nothing exists there, otherwise the first free
// "name (n).ext" next to it. Folders have no extension.
func freeName(path string, isDir bool) (string, error) {
	if _, err := os.Lstat(path); errors.Is(err, fs.ErrNotExist) {
		return path, nil
	} else if err != nil {
		return "", apperrors.NewFileError("stat", path, err)
	}

	dir, base := filepath.Split(path)
	ext := ""
	if !isDir {
		ext = filepath.Ext(base)
	}
	stem := strings.TrimSuffix(base, ext)
	if stem == "" {
		// ".bashrc" is a name, not an extension.
		stem, ext = base, ""
	}

	for i := 1; i <= maxFreeNameAttempts; i++ {
		candidate := filepath.Join(dir, fmt.Sprintf("%s (%d)%s", stem, i, ext))
		if _, err := os.Lstat(candidate); errors.Is(err, fs.ErrNotExist) {
			return candidate, nil
		} else if err != nil {
			return "", apperrors.NewFileError("stat", candidate, err)
		}
	}
	return "", apperrors.NewFileError("create", path, apperrors.ErrFileExists)
}
