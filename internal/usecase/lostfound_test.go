package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/example/lostfound/internal/engine"
	"github.com/example/lostfound/internal/logging"
	"github.com/example/lostfound/internal/preprocess"
	"github.com/example/lostfound/internal/repository"
)

type stubRepository struct {
	savedLogs []*repository.ComparisonLog
	saveErr   error
	findLog   *repository.ComparisonLog
	findErr   error
	findCalls int
	agg       *repository.MetricsAggregation
}

func (s *stubRepository) SaveLog(ctx context.Context, log *repository.ComparisonLog) error {
	s.savedLogs = append(s.savedLogs, log)
	return s.saveErr
}

func (s *stubRepository) FindByRequestIDAndPhone(ctx context.Context, requestID, phone string) (*repository.ComparisonLog, error) {
	s.findCalls++
	if s.findErr != nil {
		return nil, s.findErr
	}
	if s.findLog != nil {
		return s.findLog, nil
	}
	return nil, errors.New("not found")
}

func (s *stubRepository) AggregateMetrics(ctx context.Context) (*repository.MetricsAggregation, error) {
	if s.agg == nil {
		return &repository.MetricsAggregation{}, nil
	}
	return s.agg, nil
}

type stubCache struct {
	setErrs   []error
	getErrs   []error
	getValues []string
	setKeys   []string
	setValues []string
	getKeys   []string
}

func (s *stubCache) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	s.setKeys = append(s.setKeys, key)
	if v, ok := value.(string); ok {
		s.setValues = append(s.setValues, v)
	}
	if len(s.setErrs) == 0 {
		return nil
	}
	err := s.setErrs[0]
	s.setErrs = s.setErrs[1:]
	return err
}

func (s *stubCache) Get(ctx context.Context, key string) (string, error) {
	s.getKeys = append(s.getKeys, key)
	var value string
	if len(s.getValues) > 0 {
		value = s.getValues[0]
		s.getValues = s.getValues[1:]
	}
	var err error
	if len(s.getErrs) > 0 {
		err = s.getErrs[0]
		s.getErrs = s.getErrs[1:]
	}
	return value, err
}

type stubMatcher struct {
	result *engine.Result
	err    error
	calls  int
}

func (s *stubMatcher) Match(ctx context.Context, data []byte) (*engine.Result, error) {
	s.calls++
	return s.result, s.err
}

type stubCorpus struct {
	entries   []engine.Entry
	uploadErr error
	phones    []string
}

func (s *stubCorpus) Upload(ctx context.Context, phone, filename string, data []byte) (engine.Entry, error) {
	if s.uploadErr != nil {
		return engine.Entry{}, s.uploadErr
	}
	entry := engine.Entry{ID: uint(len(s.entries) + 1), Path: "photo_lost/" + filename, Phone: phone}
	s.entries = append(s.entries, entry)
	return entry, nil
}

func (s *stubCorpus) Recent(ctx context.Context, phone string) ([]engine.Entry, error) {
	s.phones = append(s.phones, phone)
	return s.entries, nil
}

type transientRedisError struct{}

func (transientRedisError) Error() string { return "redis transient" }
func (transientRedisError) Timeout() bool { return true }

func matchedResult() *engine.Result {
	return &engine.Result{
		Outcome:        engine.OutcomeMatched,
		Entry:          &engine.Entry{ID: 4, Path: "photo_lost/a.jpg", Phone: "0811"},
		Score:          0.42,
		QueryKeypoints: 120,
		Scanned:        3,
	}
}

func TestCompareRecordsMatchedEntry(t *testing.T) {
	repo := &stubRepository{}
	cache := &stubCache{}
	uc := NewLostFoundUseCase(&stubCorpus{}, &stubMatcher{result: matchedResult()}, repo, cache, zap.NewNop())

	log, err := uc.Compare(context.Background(), "0899", []byte("image"))
	if err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}
	if !log.Matched || log.Outcome != "matched" {
		t.Fatalf("expected matched log, got %+v", log)
	}
	if log.MatchedEntryID == nil || *log.MatchedEntryID != 4 || log.MatchedPhone != "0811" {
		t.Fatalf("expected matched entry details, got %+v", log)
	}
	if len(repo.savedLogs) != 1 || repo.savedLogs[0] != log {
		t.Fatalf("expected log to be saved once, got %d", len(repo.savedLogs))
	}
	if len(cache.setKeys) != 1 || cache.setKeys[0] != "comparison:"+log.RequestID {
		t.Fatalf("unexpected cache keys: %v", cache.setKeys)
	}
}

func TestCompareAlreadyClaimedIsNotMatched(t *testing.T) {
	result := matchedResult()
	result.Outcome = engine.OutcomeAlreadyClaimed
	uc := NewLostFoundUseCase(&stubCorpus{}, &stubMatcher{result: result}, &stubRepository{}, &stubCache{}, zap.NewNop())

	log, err := uc.Compare(context.Background(), "0899", []byte("image"))
	if err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}
	if log.Matched || log.Outcome != "already_claimed" || log.MatchedEntryID != nil {
		t.Fatalf("expected unmatched log, got %+v", log)
	}
}

func TestCompareReturnsInputErrorsUnwrapped(t *testing.T) {
	repo := &stubRepository{}
	uc := NewLostFoundUseCase(&stubCorpus{}, &stubMatcher{err: preprocess.ErrUnsupportedFormat}, repo, &stubCache{}, zap.NewNop())

	_, err := uc.Compare(context.Background(), "0899", []byte("image"))
	if !errors.Is(err, preprocess.ErrUnsupportedFormat) || !IsInputError(err) {
		t.Fatalf("expected input error, got %v", err)
	}
	var opErr *logging.OperationError
	if errors.As(err, &opErr) {
		t.Fatalf("expected unwrapped error, got %v", err)
	}
	if len(repo.savedLogs) != 0 {
		t.Fatal("expected nothing to be logged for rejected input")
	}
}

func TestCompareWrapsInfrastructureErrors(t *testing.T) {
	uc := NewLostFoundUseCase(&stubCorpus{}, &stubMatcher{err: errors.New("db gone")}, &stubRepository{}, &stubCache{}, zap.NewNop())

	_, err := uc.Compare(context.Background(), "0899", []byte("image"))
	var opErr *logging.OperationError
	if !errors.As(err, &opErr) || opErr.Operation != "usecase.compare" {
		t.Fatalf("expected OperationError, got %v", err)
	}
	if IsInputError(err) {
		t.Fatal("infrastructure error must not look like an input error")
	}
}

func TestCompareLogsFailedOperation(t *testing.T) {
	core, logs := observer.New(zapcore.ErrorLevel)
	claimErr := logging.NewOperationError("engine.claim", "4", errors.New("connection reset"))
	uc := NewLostFoundUseCase(&stubCorpus{}, &stubMatcher{err: claimErr}, &stubRepository{}, &stubCache{}, zap.New(core))

	if _, err := uc.Compare(context.Background(), "0899", []byte("image")); err == nil {
		t.Fatal("expected error")
	}
	entries := logs.FilterMessage("comparison failed").All()
	if len(entries) != 1 {
		t.Fatalf("expected one error log, got %d", len(entries))
	}
	if got := entries[0].ContextMap()["failed_operation"]; got != "engine.claim" {
		t.Fatalf("expected failed_operation engine.claim, got %v", got)
	}
}

func TestCompareSurvivesPersistenceAndCacheFailures(t *testing.T) {
	repo := &stubRepository{saveErr: errors.New("insert failed")}
	uc := NewLostFoundUseCase(&stubCorpus{}, &stubMatcher{result: matchedResult()}, repo, &stubCache{}, zap.NewNop())
	if log, err := uc.Compare(context.Background(), "0899", []byte("image")); err != nil || !log.Matched {
		t.Fatalf("expected result despite save failure, got %+v, %v", log, err)
	}

	cache := &stubCache{setErrs: []error{errors.New("boom")}}
	uc = NewLostFoundUseCase(&stubCorpus{}, &stubMatcher{result: matchedResult()}, &stubRepository{}, cache, zap.NewNop())
	if log, err := uc.Compare(context.Background(), "0899", []byte("image")); err != nil || !log.Matched {
		t.Fatalf("expected result despite cache failure, got %+v, %v", log, err)
	}
}

func TestCompareRetriesTransientCacheErrors(t *testing.T) {
	cache := &stubCache{setErrs: []error{transientRedisError{}}}
	uc := NewLostFoundUseCase(&stubCorpus{}, &stubMatcher{result: &engine.Result{}}, &stubRepository{}, cache, zap.NewNop())

	if _, err := uc.Compare(context.Background(), "0899", []byte("image")); err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}
	if len(cache.setKeys) != 2 || cache.setKeys[0] != cache.setKeys[1] {
		t.Fatalf("expected one retry against the same key, got %v", cache.setKeys)
	}
}

func TestGetResultPrefersCacheForOwner(t *testing.T) {
	payload, _ := json.Marshal(cachedComparison{RequestID: "req", Phone: "0899", Outcome: "no_match", Score: 0.05})
	cache := &stubCache{getValues: []string{string(payload)}}
	repo := &stubRepository{}
	uc := NewLostFoundUseCase(&stubCorpus{}, &stubMatcher{}, repo, cache, zap.NewNop())

	log, err := uc.GetResult(context.Background(), "0899", "req")
	if err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}
	if log.Outcome != "no_match" || log.Score != 0.05 {
		t.Fatalf("unexpected log: %+v", log)
	}
	if repo.findCalls != 0 {
		t.Fatalf("expected cache hit to skip repository, got %d calls", repo.findCalls)
	}
}

func TestGetResultIgnoresCachedResultOfAnotherOwner(t *testing.T) {
	payload, _ := json.Marshal(cachedComparison{RequestID: "req", Phone: "someone-else"})
	cache := &stubCache{getValues: []string{string(payload)}}
	repo := &stubRepository{findErr: errors.New("record not found")}
	uc := NewLostFoundUseCase(&stubCorpus{}, &stubMatcher{}, repo, cache, zap.NewNop())

	if _, err := uc.GetResult(context.Background(), "0899", "req"); err == nil {
		t.Fatal("expected lookup to be owner-scoped")
	}
	if repo.findCalls != 1 {
		t.Fatalf("expected repository lookup, got %d", repo.findCalls)
	}
}

func TestGetResultFallsBackToRepositoryWhenCacheMiss(t *testing.T) {
	cache := &stubCache{getErrs: []error{redis.Nil}}
	expected := &repository.ComparisonLog{RequestID: "req", Phone: "0899", Outcome: "matched"}
	repo := &stubRepository{findLog: expected}
	uc := NewLostFoundUseCase(&stubCorpus{}, &stubMatcher{}, repo, cache, zap.NewNop())

	log, err := uc.GetResult(context.Background(), "0899", "req")
	if err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}
	if log != expected {
		t.Fatalf("expected %+v, got %+v", expected, log)
	}
	if !strings.HasPrefix(cache.getKeys[0], "comparison:") {
		t.Fatalf("unexpected cache key %s", cache.getKeys[0])
	}
}

func TestListingDelegatesToCorpus(t *testing.T) {
	corpus := &stubCorpus{}
	uc := NewLostFoundUseCase(corpus, &stubMatcher{}, &stubRepository{}, &stubCache{}, zap.NewNop())
	ctx := context.Background()

	if _, err := uc.Upload(ctx, "0811", "a.png", []byte("png")); err != nil {
		t.Fatalf("upload failed: %v", err)
	}
	if items, _ := uc.ListItems(ctx); len(items) != 1 {
		t.Fatalf("expected 1 item, got %d", len(items))
	}
	if _, err := uc.ListMyItems(ctx, "0811"); err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if len(corpus.phones) != 2 || corpus.phones[0] != "" || corpus.phones[1] != "0811" {
		t.Fatalf("unexpected phone filters: %v", corpus.phones)
	}
}

func TestGetMetricsSummaryComputesMatchRate(t *testing.T) {
	repo := &stubRepository{agg: &repository.MetricsAggregation{TotalCount: 4, MatchedCount: 1, AverageScore: 0.2}}
	uc := NewLostFoundUseCase(&stubCorpus{}, &stubMatcher{}, repo, &stubCache{}, zap.NewNop())

	summary, err := uc.GetMetricsSummary(context.Background())
	if err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}
	if summary.MatchRate != 0.25 || summary.TotalComparisons != 4 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
}
