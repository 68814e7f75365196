package usecase

import "context"

// MetricsSummary represents aggregated compare insights.
type MetricsSummary struct {
	TotalComparisons int64   `json:"total_comparisons"`
	MatchedCount     int64   `json:"matched_count"`
	MatchRate        float64 `json:"match_rate"`
	AverageScore     float64 `json:"average_score"`
	AverageLatencyMs float64 `json:"average_latency_ms"`
}

// GetMetricsSummary aggregates compare metrics from persisted logs.
func (uc *LostFoundUseCase) GetMetricsSummary(ctx context.Context) (*MetricsSummary, error) {
	aggregation, err := uc.repo.AggregateMetrics(ctx)
	if err != nil {
		return nil, err
	}

	summary := &MetricsSummary{
		TotalComparisons: aggregation.TotalCount,
		MatchedCount:     aggregation.MatchedCount,
		AverageScore:     aggregation.AverageScore,
		AverageLatencyMs: aggregation.AverageLatencyMs,
	}

	if aggregation.TotalCount > 0 {
		summary.MatchRate = float64(aggregation.MatchedCount) / float64(aggregation.TotalCount)
	}

	return summary, nil
}
