// Package engine decides whether a query photo matches a stored lost-item
// report and, on a match, consumes that report.
package engine

import (
	"context"
	"errors"
	"fmt"
	"runtime"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/example/lostfound/internal/features"
	"github.com/example/lostfound/internal/logging"
	"github.com/example/lostfound/internal/matching"
	"github.com/example/lostfound/internal/preprocess"
)

const (
	// DefaultThreshold is the similarity a candidate must strictly exceed to match.
	DefaultThreshold = 0.1
	// DefaultMaxDimension caps the longest side of canonical images.
	DefaultMaxDimension = 600
)

// Config holds the fixed pipeline parameters.
type Config struct {
	MaxDimension    int
	MaxSourcePixels int
	AllowedFormats  []string
	Ratio           float64
	// Threshold is used as given when it lies in [0, 1); zero accepts any
	// positive score. Values outside that range fall back to DefaultThreshold.
	Threshold float64
	// Workers bounds how many candidates are described concurrently within one scan.
	Workers int
}

// FeatureExtractor describes canonical images.
type FeatureExtractor interface {
	Extract(img *preprocess.Canonical) features.DescriptorSet
	ExtractFamily(img *preprocess.Canonical, family features.Family) features.DescriptorSet
}

// Engine runs match requests against a CorpusProvider. It keeps no state
// between requests apart from the optional descriptor cache.
type Engine struct {
	corpus    CorpusProvider
	extractor FeatureExtractor
	matcher   matching.Matcher
	cache     DescriptorCache
	cfg       Config
	logger    *zap.Logger
}

// Option customises an Engine.
type Option func(*Engine)

// WithDescriptorCache enables candidate descriptor caching.
func WithDescriptorCache(cache DescriptorCache) Option {
	return func(e *Engine) {
		if cache != nil {
			e.cache = cache
		}
	}
}

// New constructs an engine. Zero caps, ratio, worker count and format list
// take their defaults; see Config.Threshold for the threshold rule.
func New(corpus CorpusProvider, extractor FeatureExtractor, cfg Config, logger *zap.Logger, opts ...Option) *Engine {
	if cfg.MaxDimension <= 0 {
		cfg.MaxDimension = DefaultMaxDimension
	}
	if cfg.Workers <= 0 {
		cfg.Workers = runtime.GOMAXPROCS(0)
	}
	if cfg.Threshold < 0 || cfg.Threshold >= 1 {
		cfg.Threshold = DefaultThreshold
	}
	if len(cfg.AllowedFormats) == 0 {
		cfg.AllowedFormats = preprocess.DefaultFormats
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Engine{
		corpus:    corpus,
		extractor: extractor,
		matcher:   matching.NewMatcher(cfg.Ratio),
		cache:     noCache{},
		cfg:       cfg,
		logger:    logger.Named("engine"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Describe canonicalises the query bytes and extracts their descriptors.
// Only input errors are returned; a featureless image yields an empty set.
func (e *Engine) Describe(data []byte) (features.DescriptorSet, error) {
	img, err := preprocess.Decode(data, e.preprocessOptions())
	if err != nil {
		return features.DescriptorSet{}, err
	}
	return e.extractor.Extract(img), nil
}

// Match scans the corpus for the query and claims the winning entry.
// Input errors wrap preprocess.ErrEmptyInput, ErrUnsupportedFormat or
// ErrDecodeFailure and are returned before any scan happens.
func (e *Engine) Match(ctx context.Context, data []byte) (*Result, error) {
	query, err := e.Describe(data)
	if err != nil {
		return nil, err
	}
	result := e.Scan(ctx, query)
	if result.Outcome != OutcomeMatched {
		return result, nil
	}
	return e.Claim(ctx, result)
}

// Scan compares the query against every corpus entry and applies the
// threshold. It never claims; a passing result has OutcomeMatched and an Entry.
func (e *Engine) Scan(ctx context.Context, query features.DescriptorSet) *Result {
	result := &Result{Outcome: OutcomeNoMatch, Family: query.Family, QueryKeypoints: query.Len()}
	if query.Empty() {
		e.logger.Debug("query has no features")
		return result
	}

	entries, err := e.corpus.List(ctx)
	if err != nil {
		e.logger.Warn("corpus listing failed, treating as empty", zap.Error(err))
		return result
	}

	scores := make([]candidateScore, len(entries))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.Workers)
	for i := range entries {
		i := i
		g.Go(func() error {
			scores[i] = e.scoreCandidate(gctx, query, entries[i])
			return nil
		})
	}
	_ = g.Wait()

	best := -1
	for i, s := range scores {
		if s.skipped {
			result.Skipped++
			e.logger.Debug("candidate skipped", zap.Uint("entry_id", s.entry.ID), zap.String("path", s.entry.Path), zap.String("reason", s.reason))
			continue
		}
		result.Scanned++
		if s.score > result.Score {
			result.Score = s.score
			best = i
		}
	}

	if best >= 0 && result.Score > e.cfg.Threshold {
		entry := scores[best].entry
		result.Outcome = OutcomeMatched
		result.Entry = &entry
	}

	e.logger.Info("corpus scan finished",
		zap.Int("scanned", result.Scanned),
		zap.Int("skipped", result.Skipped),
		zap.Float64("best_score", result.Score),
		zap.Float64("threshold", e.cfg.Threshold),
		zap.Stringer("family", result.Family),
		zap.Stringer("outcome", result.Outcome),
	)
	return result
}

// Claim consumes the entry of a passing scan result. Losing a claim race
// yields OutcomeAlreadyClaimed; any other store failure is returned as an error.
func (e *Engine) Claim(ctx context.Context, result *Result) (*Result, error) {
	if result == nil || result.Outcome != OutcomeMatched || result.Entry == nil {
		return result, nil
	}
	claimed, err := e.corpus.Claim(ctx, result.Entry.ID)
	switch {
	case errors.Is(err, ErrAlreadyClaimed):
		e.logger.Info("best candidate claimed concurrently", zap.Uint("entry_id", result.Entry.ID))
		result.Outcome = OutcomeAlreadyClaimed
		return result, nil
	case err != nil:
		return nil, logging.NewOperationError("engine.claim", fmt.Sprint(result.Entry.ID), err)
	}
	e.cache.Invalidate(ctx, claimed)
	result.Entry = &claimed
	return result, nil
}

func (e *Engine) scoreCandidate(ctx context.Context, query features.DescriptorSet, entry Entry) candidateScore {
	cs := candidateScore{entry: entry}

	set, ok := e.cache.Get(ctx, entry, query.Family)
	if !ok || !set.Valid() {
		data, err := e.corpus.Read(ctx, entry.Path)
		if err != nil {
			cs.skipped, cs.reason = true, "read: "+err.Error()
			return cs
		}
		img, err := preprocess.Decode(data, e.preprocessOptions())
		if err != nil {
			cs.skipped, cs.reason = true, "decode: "+err.Error()
			return cs
		}
		set = e.extractor.ExtractFamily(img, query.Family)
		if set.Empty() {
			cs.skipped, cs.reason = true, "no features"
			return cs
		}
		e.cache.Put(ctx, entry, set)
	}

	good := e.matcher.GoodMatches(query, set)
	cs.score = matching.Similarity(good, query.Len(), set.Len())
	return cs
}

func (e *Engine) preprocessOptions() preprocess.Options {
	return preprocess.Options{
		MaxDimension:    e.cfg.MaxDimension,
		MaxSourcePixels: e.cfg.MaxSourcePixels,
		AllowedFormats:  e.cfg.AllowedFormats,
	}
}
