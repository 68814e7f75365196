// Package corpus stores lost-item reports: metadata rows in the database and
// image bytes on disk.
package corpus

import (
	"context"
	"errors"
	"io/fs"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/example/lostfound/internal/engine"
	"github.com/example/lostfound/internal/logging"
	"github.com/example/lostfound/internal/preprocess"
	"github.com/example/lostfound/internal/repository"
)

// ErrUnsupportedExtension is returned for uploads whose file name is not an allowed image type.
var ErrUnsupportedExtension = errors.New("unsupported image extension")

// AllowedExtensions lists the accepted upload file extensions.
var AllowedExtensions = []string{".jpg", ".jpeg", ".png", ".gif", ".bmp", ".webp"}

// PhotoRepository is the metadata persistence the store needs.
type PhotoRepository interface {
	Create(ctx context.Context, photo *repository.PhotoLost) error
	ListAll(ctx context.Context) ([]repository.PhotoLost, error)
	ListRecent(ctx context.Context, phone string) ([]repository.PhotoLost, error)
	DeleteReturning(ctx context.Context, id uint) (*repository.PhotoLost, error)
}

// Blobs is the image byte storage the store needs.
type Blobs interface {
	Save(ext string, data []byte) (string, error)
	Read(rel string) ([]byte, error)
	Remove(rel string) error
}

// Store implements engine.CorpusProvider.
type Store struct {
	photos   PhotoRepository
	blobs    Blobs
	logger   *zap.Logger
	validate *preprocess.Options
	cache    engine.DescriptorCache
}

// StoreOption customises a Store.
type StoreOption func(*Store)

// WithUploadValidation rejects uploads whose header does not decode under opts.
func WithUploadValidation(opts preprocess.Options) StoreOption {
	return func(s *Store) {
		s.validate = &opts
	}
}

// WithDescriptorCache drops an entry's cached descriptors whenever the entry
// is deleted through the store, including bulk clears.
func WithDescriptorCache(cache engine.DescriptorCache) StoreOption {
	return func(s *Store) {
		s.cache = cache
	}
}

// NewStore wires metadata and blob storage together.
func NewStore(photos PhotoRepository, blobs Blobs, logger *zap.Logger, opts ...StoreOption) *Store {
	s := &Store{photos: photos, blobs: blobs, logger: logger.Named("corpus")}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// List implements engine.CorpusProvider.
func (s *Store) List(ctx context.Context) ([]engine.Entry, error) {
	photos, err := s.photos.ListAll(ctx)
	if err != nil {
		return nil, err
	}
	return toEntries(photos), nil
}

// Read implements engine.CorpusProvider.
func (s *Store) Read(ctx context.Context, relPath string) ([]byte, error) {
	data, err := s.blobs.Read(relPath)
	if errors.Is(err, fs.ErrNotExist) || errors.Is(err, ErrInvalidPath) {
		return nil, engine.ErrNotFound
	}
	return data, err
}

// Claim implements engine.CorpusProvider. The metadata delete decides the
// race; the image file is removed afterwards by the winner only.
func (s *Store) Claim(ctx context.Context, id uint) (engine.Entry, error) {
	photo, err := s.photos.DeleteReturning(ctx, id)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return engine.Entry{}, engine.ErrAlreadyClaimed
	}
	if err != nil {
		return engine.Entry{}, logging.NewOperationError("corpus.claim", "", err)
	}
	entry := toEntry(*photo)
	if s.cache != nil {
		s.cache.Invalidate(ctx, entry)
	}
	if err := s.blobs.Remove(photo.Image); err != nil {
		s.logger.Warn("failed to remove claimed image", zap.Uint("entry_id", photo.ID), zap.String("path", photo.Image), zap.Error(err))
	}
	return entry, nil
}

// Upload stores a new report owned by phone.
func (s *Store) Upload(ctx context.Context, phone, filename string, data []byte) (engine.Entry, error) {
	ext, err := Extension(filename)
	if err != nil {
		return engine.Entry{}, err
	}
	if s.validate != nil {
		if _, err := preprocess.Sniff(data, *s.validate); err != nil {
			return engine.Entry{}, err
		}
	}
	rel, err := s.blobs.Save(ext, data)
	if err != nil {
		return engine.Entry{}, logging.NewOperationError("corpus.save_image", "", err)
	}

	photo := &repository.PhotoLost{Image: rel, Phone: phone}
	if err := s.photos.Create(ctx, photo); err != nil {
		if rmErr := s.blobs.Remove(rel); rmErr != nil {
			s.logger.Warn("failed to remove orphaned image", zap.String("path", rel), zap.Error(rmErr))
		}
		return engine.Entry{}, err
	}
	return toEntry(*photo), nil
}

// Recent lists reports newest first; an empty phone lists everyone's.
func (s *Store) Recent(ctx context.Context, phone string) ([]engine.Entry, error) {
	photos, err := s.photos.ListRecent(ctx, phone)
	if err != nil {
		return nil, err
	}
	return toEntries(photos), nil
}

// Clear claims every report and returns how many were removed.
func (s *Store) Clear(ctx context.Context) (int, error) {
	entries, err := s.List(ctx)
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, e := range entries {
		if _, err := s.Claim(ctx, e.ID); err != nil {
			if errors.Is(err, engine.ErrAlreadyClaimed) {
				continue
			}
			return removed, err
		}
		removed++
	}
	return removed, nil
}

// Extension returns the lower-cased extension of filename if it is allowed.
func Extension(filename string) (string, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	for _, allowed := range AllowedExtensions {
		if ext == allowed {
			return ext, nil
		}
	}
	return "", ErrUnsupportedExtension
}

func toEntry(p repository.PhotoLost) engine.Entry {
	return engine.Entry{ID: p.ID, Path: p.Image, Phone: p.Phone, CreatedAt: p.CreatedAt}
}

func toEntries(photos []repository.PhotoLost) []engine.Entry {
	entries := make([]engine.Entry, 0, len(photos))
	for _, p := range photos {
		entries = append(entries, toEntry(p))
	}
	return entries
}
