package repository

import (
	"context"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ComparisonLog records the outcome of a single compare request.
type ComparisonLog struct {
	ID             uint    `gorm:"primaryKey"`
	RequestID      string  `gorm:"column:request_id;uniqueIndex;size:64"`
	Phone          string  `gorm:"column:phone;size:32;index"`
	Outcome        string  `gorm:"column:outcome;size:32"`
	Matched        bool    `gorm:"column:matched"`
	Score          float64 `gorm:"column:score"`
	MatchedEntryID *uint   `gorm:"column:matched_entry_id"`
	MatchedImage   string  `gorm:"column:matched_image;size:255"`
	MatchedPhone   string  `gorm:"column:matched_phone;size:32"`
	// MatchedReportedAt is when the claimed report was originally uploaded.
	MatchedReportedAt *time.Time `gorm:"column:matched_reported_at"`
	QueryKeypoints    int        `gorm:"column:query_keypoints"`
	Scanned           int        `gorm:"column:scanned"`
	Skipped           int        `gorm:"column:skipped"`
	LatencyMs         int64      `gorm:"column:latency_ms"`
	CreatedAt         time.Time  `gorm:"column:created_at"`
}

// TableName overrides the default table name.
func (ComparisonLog) TableName() string {
	return "comparison_logs"
}

// MetricsAggregation holds raw aggregates over ComparisonLog rows.
type MetricsAggregation struct {
	TotalCount       int64   `gorm:"column:total_count"`
	MatchedCount     int64   `gorm:"column:matched_count"`
	AverageScore     float64 `gorm:"column:average_score"`
	AverageLatencyMs float64 `gorm:"column:average_latency_ms"`
}

// ComparisonRepository persists compare request logs.
type ComparisonRepository struct {
	db *gorm.DB
	retryPolicy
}

// NewComparisonRepository creates a new repository instance.
func NewComparisonRepository(db *gorm.DB, logger *zap.Logger) *ComparisonRepository {
	return &ComparisonRepository{db: db, retryPolicy: defaultRetryPolicy(logger.Named("comparison_repository"))}
}

// AutoMigrate ensures the schema is available.
func (r *ComparisonRepository) AutoMigrate(ctx context.Context) error {
	return r.db.WithContext(ctx).AutoMigrate(&ComparisonLog{})
}

// SaveLog persists a compare log entry.
func (r *ComparisonRepository) SaveLog(ctx context.Context, log *ComparisonLog) error {
	return r.executeWithRetry(ctx, "repository.comparison.save", log.RequestID, func() error {
		return r.db.WithContext(ctx).Create(log).Error
	})
}

// FindByRequestIDAndPhone retrieves a log owned by phone.
func (r *ComparisonRepository) FindByRequestIDAndPhone(ctx context.Context, requestID, phone string) (*ComparisonLog, error) {
	var log ComparisonLog
	err := r.executeWithRetry(ctx, "repository.comparison.find", requestID, func() error {
		return r.db.WithContext(ctx).First(&log, "request_id = ? AND phone = ?", requestID, phone).Error
	})
	if err != nil {
		return nil, err
	}
	return &log, nil
}

// AggregateMetrics summarises every stored compare log.
func (r *ComparisonRepository) AggregateMetrics(ctx context.Context) (*MetricsAggregation, error) {
	var agg MetricsAggregation
	err := r.executeWithRetry(ctx, "repository.comparison.aggregate", "", func() error {
		return r.db.WithContext(ctx).
			Model(&ComparisonLog{}).
			Select("COUNT(*) AS total_count, " +
				"COALESCE(SUM(CASE WHEN matched THEN 1 ELSE 0 END), 0) AS matched_count, " +
				"COALESCE(AVG(score), 0) AS average_score, " +
				"COALESCE(AVG(latency_ms), 0) AS average_latency_ms").
			Scan(&agg).Error
	})
	if err != nil {
		return nil, err
	}
	return &agg, nil
}
