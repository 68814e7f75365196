package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/example/lostfound/internal/engine"
	"github.com/example/lostfound/internal/logging"
	"github.com/example/lostfound/internal/preprocess"
	"github.com/example/lostfound/internal/repository"
)

// Corpus is the report storage used by the use case.
type Corpus interface {
	Upload(ctx context.Context, phone, filename string, data []byte) (engine.Entry, error)
	Recent(ctx context.Context, phone string) ([]engine.Entry, error)
}

// Matcher runs a query photo against the corpus and claims the winner.
type Matcher interface {
	Match(ctx context.Context, data []byte) (*engine.Result, error)
}

// ComparisonRepository defines the persistence operations needed for compare logs.
type ComparisonRepository interface {
	SaveLog(ctx context.Context, log *repository.ComparisonLog) error
	FindByRequestIDAndPhone(ctx context.Context, requestID, phone string) (*repository.ComparisonLog, error)
	AggregateMetrics(ctx context.Context) (*repository.MetricsAggregation, error)
}

// LostFoundUseCase encapsulates the report and compare flows.
type LostFoundUseCase struct {
	corpus         Corpus
	matcher        Matcher
	repo           ComparisonRepository
	cache          Cache
	logger         *zap.Logger
	resultTTL      time.Duration
	retryAttempts  int
	initialBackoff time.Duration
	maxBackoff     time.Duration
}

type cachedComparison struct {
	RequestID      string     `json:"request_id"`
	Phone          string     `json:"phone"`
	Outcome        string     `json:"outcome"`
	Matched        bool       `json:"matched"`
	Score          float64    `json:"score"`
	MatchedEntryID *uint      `json:"matched_entry_id,omitempty"`
	MatchedImage   string     `json:"matched_image,omitempty"`
	MatchedPhone   string     `json:"matched_phone,omitempty"`
	ReportedAt     *time.Time `json:"matched_reported_at,omitempty"`
	QueryKeypoints int        `json:"query_keypoints"`
	Scanned        int        `json:"scanned"`
	Skipped        int        `json:"skipped"`
	LatencyMs      int64      `json:"latency_ms"`
	CreatedAt      time.Time  `json:"created_at"`
}

// NewLostFoundUseCase constructs a new use case instance.
func NewLostFoundUseCase(corpus Corpus, matcher Matcher, repo ComparisonRepository, cache Cache, logger *zap.Logger) *LostFoundUseCase {
	return &LostFoundUseCase{
		corpus:         corpus,
		matcher:        matcher,
		repo:           repo,
		cache:          cache,
		logger:         logger.Named("lostfound_usecase"),
		resultTTL:      5 * time.Minute,
		retryAttempts:  3,
		initialBackoff: 50 * time.Millisecond,
		maxBackoff:     time.Second,
	}
}

// Upload stores a lost-item report owned by phone.
func (uc *LostFoundUseCase) Upload(ctx context.Context, phone, filename string, data []byte) (engine.Entry, error) {
	entry, err := uc.corpus.Upload(ctx, phone, filename, data)
	if err != nil {
		logging.WithOperation(uc.logger, "usecase.upload", phone).Warn("upload rejected", zap.Error(err))
		return engine.Entry{}, err
	}
	logging.WithOperation(uc.logger, "usecase.upload", phone).Info("report stored", zap.Uint("entry_id", entry.ID))
	return entry, nil
}

// Compare matches a found-item photo against the stored reports. Input errors
// are returned unwrapped. Once the engine has answered, the comparison is
// returned even if persisting or caching it fails.
func (uc *LostFoundUseCase) Compare(ctx context.Context, phone string, data []byte) (*repository.ComparisonLog, error) {
	requestID := uuid.NewString()
	opLogger := logging.WithOperation(uc.logger, "usecase.compare", requestID)
	started := time.Now()

	result, err := uc.matcher.Match(ctx, data)
	if err != nil {
		if IsInputError(err) {
			opLogger.Info("query rejected", zap.Error(err))
			return nil, err
		}
		wrapped := logging.NewOperationError("usecase.compare", requestID, err)
		opLogger.Error("comparison failed", zap.String("failed_operation", logging.OperationOf(err)), zap.Error(wrapped))
		return nil, wrapped
	}

	log := &repository.ComparisonLog{
		RequestID:      requestID,
		Phone:          phone,
		Outcome:        result.Outcome.String(),
		Matched:        result.Outcome == engine.OutcomeMatched,
		Score:          result.Score,
		QueryKeypoints: result.QueryKeypoints,
		Scanned:        result.Scanned,
		Skipped:        result.Skipped,
		LatencyMs:      time.Since(started).Milliseconds(),
		CreatedAt:      time.Now().UTC(),
	}
	if log.Matched && result.Entry != nil {
		id := result.Entry.ID
		log.MatchedEntryID = &id
		log.MatchedImage = result.Entry.Path
		log.MatchedPhone = result.Entry.Phone
		reported := result.Entry.CreatedAt
		log.MatchedReportedAt = &reported
	}
	opLogger.Info("comparison finished",
		zap.String("outcome", log.Outcome),
		zap.Float64("score", log.Score),
		zap.Int64("latency_ms", log.LatencyMs),
	)

	if err := uc.repo.SaveLog(ctx, log); err != nil {
		opLogger.Error("failed to persist comparison log", zap.Error(logging.NewOperationError("usecase.save_log", requestID, err)))
		return log, nil
	}

	serialized, err := json.Marshal(toCached(log))
	if err != nil {
		opLogger.Warn("failed to serialize comparison result", zap.Error(err))
		return log, nil
	}
	if err := uc.withRedisRetry(ctx, requestID, "cache.set.result", func() error {
		return uc.cache.Set(ctx, resultKey(requestID), string(serialized), uc.resultTTL)
	}); err != nil {
		opLogger.Warn("failed to cache comparison result", zap.Error(err))
	}
	return log, nil
}

// GetResult retrieves a comparison owned by phone, from cache or persistence.
func (uc *LostFoundUseCase) GetResult(ctx context.Context, phone, requestID string) (*repository.ComparisonLog, error) {
	opLogger := logging.WithOperation(uc.logger, "usecase.get_result", requestID)
	if cached, err := uc.withRedisGet(ctx, requestID, "cache.get.result", resultKey(requestID)); err == nil {
		var payload cachedComparison
		if err := json.Unmarshal([]byte(cached), &payload); err != nil {
			opLogger.Warn("failed to decode cached result", zap.Error(err))
		} else if payload.Phone == phone {
			return fromCached(payload), nil
		}
	} else if !errors.Is(err, redis.Nil) {
		opLogger.Warn("failed to read cache", zap.Error(err))
	}

	return uc.repo.FindByRequestIDAndPhone(ctx, requestID, phone)
}

// ListItems returns every report, newest first.
func (uc *LostFoundUseCase) ListItems(ctx context.Context) ([]engine.Entry, error) {
	return uc.corpus.Recent(ctx, "")
}

// ListMyItems returns the reports owned by phone, newest first.
func (uc *LostFoundUseCase) ListMyItems(ctx context.Context, phone string) ([]engine.Entry, error) {
	return uc.corpus.Recent(ctx, phone)
}

// IsInputError reports whether err was caused by the uploaded bytes rather than the service.
func IsInputError(err error) bool {
	return errors.Is(err, preprocess.ErrEmptyInput) ||
		errors.Is(err, preprocess.ErrUnsupportedFormat) ||
		errors.Is(err, preprocess.ErrDecodeFailure)
}

func resultKey(requestID string) string {
	return fmt.Sprintf("comparison:%s", requestID)
}

func toCached(log *repository.ComparisonLog) cachedComparison {
	return cachedComparison{
		RequestID:      log.RequestID,
		Phone:          log.Phone,
		Outcome:        log.Outcome,
		Matched:        log.Matched,
		Score:          log.Score,
		MatchedEntryID: log.MatchedEntryID,
		MatchedImage:   log.MatchedImage,
		MatchedPhone:   log.MatchedPhone,
		ReportedAt:     log.MatchedReportedAt,
		QueryKeypoints: log.QueryKeypoints,
		Scanned:        log.Scanned,
		Skipped:        log.Skipped,
		LatencyMs:      log.LatencyMs,
		CreatedAt:      log.CreatedAt,
	}
}

func fromCached(p cachedComparison) *repository.ComparisonLog {
	return &repository.ComparisonLog{
		RequestID:         p.RequestID,
		Phone:             p.Phone,
		Outcome:           p.Outcome,
		Matched:           p.Matched,
		Score:             p.Score,
		MatchedEntryID:    p.MatchedEntryID,
		MatchedImage:      p.MatchedImage,
		MatchedPhone:      p.MatchedPhone,
		MatchedReportedAt: p.ReportedAt,
		QueryKeypoints:    p.QueryKeypoints,
		Scanned:           p.Scanned,
		Skipped:           p.Skipped,
		LatencyMs:         p.LatencyMs,
		CreatedAt:         p.CreatedAt,
	}
}
