package repository

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// PhotoLost is a stored lost-item report.
type PhotoLost struct {
	ID        uint      `gorm:"primaryKey"`
	Image     string    `gorm:"column:image;size:255;uniqueIndex"`
	Phone     string    `gorm:"column:phone;size:32;index"`
	CreatedAt time.Time `gorm:"column:created_at;index"`
}

// TableName overrides the default table name.
func (PhotoLost) TableName() string {
	return "photo_lost"
}

// PhotoRepository persists lost-item reports.
type PhotoRepository struct {
	db *gorm.DB
	retryPolicy
}

// NewPhotoRepository creates a new repository instance.
func NewPhotoRepository(db *gorm.DB, logger *zap.Logger) *PhotoRepository {
	return &PhotoRepository{db: db, retryPolicy: defaultRetryPolicy(logger.Named("photo_repository"))}
}

// AutoMigrate ensures the schema is available.
func (r *PhotoRepository) AutoMigrate(ctx context.Context) error {
	return r.db.WithContext(ctx).AutoMigrate(&PhotoLost{})
}

// Create inserts a report.
func (r *PhotoRepository) Create(ctx context.Context, photo *PhotoLost) error {
	if photo.CreatedAt.IsZero() {
		photo.CreatedAt = time.Now().UTC()
	}
	return r.executeWithRetry(ctx, "repository.photo.create", photo.Image, func() error {
		return r.db.WithContext(ctx).Create(photo).Error
	})
}

// ListAll returns every report ordered by id, the scan order of the matcher.
func (r *PhotoRepository) ListAll(ctx context.Context) ([]PhotoLost, error) {
	var photos []PhotoLost
	err := r.executeWithRetry(ctx, "repository.photo.list_all", "", func() error {
		photos = nil
		return r.db.WithContext(ctx).Order("id ASC").Find(&photos).Error
	})
	return photos, err
}

// ListRecent returns reports newest first, restricted to phone when it is not empty.
func (r *PhotoRepository) ListRecent(ctx context.Context, phone string) ([]PhotoLost, error) {
	var photos []PhotoLost
	err := r.executeWithRetry(ctx, "repository.photo.list_recent", phone, func() error {
		photos = nil
		q := r.db.WithContext(ctx).Order("created_at DESC").Order("id DESC")
		if phone != "" {
			q = q.Where("phone = ?", phone)
		}
		return q.Find(&photos).Error
	})
	return photos, err
}

// DeleteReturning removes the report with id in a single DELETE ... RETURNING
// statement and returns the removed row. It returns gorm.ErrRecordNotFound when
// no row was deleted, which is how a lost claim race surfaces. The statement
// is issued once; any other failure goes straight back to the caller.
func (r *PhotoRepository) DeleteReturning(ctx context.Context, id uint) (*PhotoLost, error) {
	var photo PhotoLost
	res := r.db.WithContext(ctx).
		Clauses(clause.Returning{}).
		Where("id = ?", id).
		Delete(&photo)
	if res.Error != nil {
		return nil, fmt.Errorf("delete photo %d: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, gorm.ErrRecordNotFound
	}
	return &photo, nil
}
