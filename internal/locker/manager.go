// Package locker manages the lifecycle of locked items: it turns files and
// folders into containers in the base directory and back.
//
// Encoding pipeline:
//  1. Validate: stat the input, classify it
//  2. Prepare: scratch directory, archive folders into a store-only zip
//  3. Derive key: PBKDF2 key and IV from password and configured salt
//  4. Encrypt payload: one CBC stream, or independent packs in parallel
//  5. Thumbnail: optional encrypted JPEG preview for images
//  6. Trailer: append metadata, thumbnail, length and signature
//  7. Publish: rename into <BaseDir>/<uuid>.locked, record in the registry
//
// Decoding reverses it: the ciphertext is everything before the trailer,
// decrypted into the scratch directory, then renamed or extracted into the
// recovered location.
//
// A wrong password is only detected when the final padding fails to
// verify. The format carries no MAC.
package locker

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"filelocker/internal/config"
	"filelocker/internal/crypto"
	apperrors "filelocker/internal/errors"
	"filelocker/internal/log"
	"filelocker/internal/registry"
	"filelocker/internal/trailer"
)

// workPattern names scratch directories inside the base directory. They
// share its filesystem so that publishing is a rename.
const workPattern = ".work-*"

// Registry records containers by ID. *registry.Store implements it.
type Registry interface {
	Put(ctx context.Context, e registry.Entry) error
	Get(ctx context.Context, id string) (*registry.Entry, error)
	Delete(ctx context.Context, id string) error
	All(ctx context.Context) ([]registry.Entry, error)
}

// Option configures a Manager.
type Option func(*Manager)

// WithRegistry records encoded items in r and forgets decoded ones.
func WithRegistry(r Registry) Option {
	return func(m *Manager) { m.registry = r }
}

// WithLogger sets the logger. The package-level logger is used otherwise.
func WithLogger(l log.Logger) Option {
	return func(m *Manager) { m.log = l }
}

// WithConcurrency limits how many async operations run at once.
// Queued items wait in ProcessInQueue. Default 1.
func WithConcurrency(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.concurrency = n
		}
	}
}

// Manager encodes and decodes items. It is safe for concurrent use as long
// as no item is passed to two operations at once.
type Manager struct {
	cfg         config.Config
	registry    Registry
	log         log.Logger
	concurrency int
	slots       chan struct{}
}

// New validates cfg, creates the base directory and returns a Manager.
func New(cfg config.Config, opts ...Option) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	m := &Manager{
		cfg:         cfg,
		log:         log.GetLogger(),
		concurrency: 1,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.slots = make(chan struct{}, m.concurrency)

	if err := os.MkdirAll(cfg.BaseDir, 0o700); err != nil {
		return nil, apperrors.NewFileError("mkdir", cfg.BaseDir, err)
	}
	return m, nil
}

// Config returns the configuration the manager was created with.
func (m *Manager) Config() config.Config {
	return m.cfg
}

// Open returns the item for path. Files that carry a valid trailer become
// encoded items; files with the container extension whose trailer does not
// load are flagged Corrupted; anything else is a plain item.
func (m *Manager) Open(path string) *Item {
	if tr, ok := trailer.Load(path); ok {
		return &Item{
			ID:            containerID(path),
			InputInfo:     path,
			EncryptedInfo: path,
			OriginalInfo:  tr.Metadata.OriginalName,
			Trailer:       tr,
			Type:          typeFor(&tr.Metadata),
		}
	}

	if strings.EqualFold(filepath.Ext(path), ContainerExt) {
		if info, err := os.Stat(path); err == nil && info.Mode().IsRegular() {
			m.log.Warn("Container trailer did not load", log.String("path", path))
			return &Item{
				ID:            containerID(path),
				InputInfo:     path,
				EncryptedInfo: path,
				Corrupted:     true,
				Type:          EncodedFile,
			}
		}
	}

	return NewItem(path)
}

// List opens every container in the base directory. With a registry,
// recorded items come first in the order they were locked, entries whose
// container is gone are dropped from the registry, and containers the
// registry does not know follow sorted by file name. Without one, or when
// the registry cannot be read, the directory scan alone is returned.
func (m *Manager) List(ctx context.Context) ([]*Item, error) {
	scanned, err := m.scan()
	if err != nil || m.registry == nil {
		return scanned, err
	}

	entries, err := m.registry.All(ctx)
	if err != nil {
		m.log.Warn("Failed to read registry, listing base directory", log.Err(err))
		return scanned, nil
	}

	byPath := make(map[string]*Item, len(scanned))
	for _, it := range scanned {
		byPath[it.EncryptedInfo] = it
	}

	items := make([]*Item, 0, len(scanned))
	for _, e := range entries {
		it, ok := byPath[e.Path]
		if !ok {
			m.log.Debug("Dropping registry entry without container", log.String("id", e.ID), log.String("path", e.Path))
			m.forget(ctx, e.ID)
			continue
		}
		items = append(items, it)
		delete(byPath, e.Path)
	}
	for _, it := range scanned {
		if _, ok := byPath[it.EncryptedInfo]; ok {
			items = append(items, it)
		}
	}
	return items, nil
}

// scan opens every container file in the base directory, sorted by name.
func (m *Manager) scan() ([]*Item, error) {
	entries, err := os.ReadDir(m.cfg.BaseDir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, apperrors.NewFileError("read", m.cfg.BaseDir, err)
	}

	var items []*Item
	for _, e := range entries {
		if !e.Type().IsRegular() || !strings.HasSuffix(e.Name(), ContainerExt) {
			continue
		}
		items = append(items, m.Open(filepath.Join(m.cfg.BaseDir, e.Name())))
	}
	sort.Slice(items, func(i, j int) bool {
		return items[i].EncryptedInfo < items[j].EncryptedInfo
	})
	return items, nil
}

// Record returns the registry entry for id, or nil when no registry is
// configured or it has no such entry.
func (m *Manager) Record(ctx context.Context, id string) (*registry.Entry, error) {
	if m.registry == nil {
		return nil, nil
	}
	e, err := m.registry.Get(ctx, id)
	if errors.Is(err, apperrors.ErrFileNotFound) {
		return nil, nil
	}
	return e, err
}

// Thumbnail returns the item's preview as JPEG bytes, decrypting it with
// password when it was stored encrypted. It returns nil, nil when the
// container has no thumbnail.
func (m *Manager) Thumbnail(item *Item, password string) ([]byte, error) {
	if item.Trailer == nil {
		return nil, apperrors.NewTrailerError("thumbnail", nil)
	}
	thumb := item.Trailer.Thumbnail
	if len(thumb) == 0 {
		return nil, nil
	}
	if !item.Trailer.Metadata.Extras.IsThumbnailEncrypted {
		return append([]byte(nil), thumb...), nil
	}

	c, err := m.newCipher(password, crypto.Decrypt)
	if err != nil {
		return nil, err
	}
	defer c.Close()

	plain, err := c.ForThumbnail().Decrypt(thumb)
	if err != nil {
		return nil, fmt.Errorf("decrypt thumbnail: %w", err)
	}
	return plain, nil
}

// UserMessage maps an operation error to the text shown to the user.
func UserMessage(err error) string {
	return apperrors.UserMessage(err)
}

// EncodeOne locks item with args.Password. It blocks until the container
// is published or the operation fails.
func (m *Manager) EncodeOne(ctx context.Context, item *Item, args Args) error {
	return m.process(item, nil, func() error {
		return m.encode(ctx, item, args)
	})
}

// DecodeOne unlocks the container item with args.Password.
func (m *Manager) DecodeOne(ctx context.Context, item *Item, args Args) error {
	return m.process(item, nil, func() error {
		return m.decode(ctx, item, args)
	})
}

// process drives the status of item around fn.
func (m *Manager) process(item *Item, notify func(*Item, Status), fn func() error) error {
	m.transition(item, Processing, nil, notify)

	if err := fn(); err != nil {
		m.log.Error("Item failed",
			log.String("item", item.InputInfo),
			log.String("reason", UserMessage(err)),
			log.Err(err))
		m.transition(item, ProcessFailed, err, notify)
		return err
	}

	m.transition(item, Processed, nil, notify)
	return nil
}

func (m *Manager) transition(item *Item, s Status, err error, notify func(*Item, Status)) {
	item.setStatus(s, err)
	if notify != nil {
		notify(item, s)
	}
}

func (m *Manager) newCipher(password string, dir crypto.Direction) (*crypto.StreamCipher, error) {
	return crypto.NewStreamCipher([]byte(password), []byte(m.cfg.Salt), m.cfg.Iterations, m.cfg.KeyBits, dir)
}

// newOperation creates the per-call state and its scratch directory.
func (m *Manager) newOperation(item *Item, args Args, kind string) (*operation, error) {
	op := &operation{
		item: item,
		args: args,
		log:  m.log.WithFields(log.String("op", kind), log.String("item", item.InputInfo)),
	}

	dir, err := os.MkdirTemp(m.cfg.BaseDir, workPattern)
	if err != nil {
		return nil, apperrors.NewFileError("create", m.cfg.BaseDir, err)
	}
	op.workDir = dir
	return op, nil
}

func (m *Manager) forget(ctx context.Context, id string) {
	if m.registry == nil || id == "" {
		return
	}
	if err := m.registry.Delete(ctx, id); err != nil {
		m.log.Warn("Failed to remove item from registry", log.String("id", id), log.Err(err))
	}
}

func containerID(path string) string {
	return strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
}

// cancelled converts a context error into ErrCancelled.
func cancelled(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", apperrors.ErrCancelled, err)
	}
	return nil
}
