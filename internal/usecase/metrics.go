package usecase

import (
	"context"

	"github.com/example/faceshape/internal/repository"
)

// MetricsSummary represents aggregated prediction insights.
type MetricsSummary struct {
	TotalRequests              int64                   `json:"total_requests"`
	SuccessfulRequests         int64                   `json:"successful_requests"`
	SuccessRate                float64                 `json:"success_rate"`
	AverageConfidence          float64                 `json:"average_confidence"`
	AverageProcessingLatencyMs float64                 `json:"average_processing_latency_ms"`
	LabelDistribution          []repository.LabelCount `json:"label_distribution"`
}

// GetMetricsSummary aggregates prediction metrics from persisted logs.
func (uc *PredictionUseCase) GetMetricsSummary(ctx context.Context) (*MetricsSummary, error) {
	aggregation, err := uc.repo.AggregateMetrics(ctx)
	if err != nil {
		return nil, err
	}
	labels, err := uc.repo.LabelDistribution(ctx)
	if err != nil {
		return nil, err
	}
	if labels == nil {
		labels = []repository.LabelCount{}
	}

	summary := &MetricsSummary{
		TotalRequests:              aggregation.TotalCount,
		SuccessfulRequests:         aggregation.SuccessCount,
		AverageConfidence:          aggregation.AverageConfidence,
		AverageProcessingLatencyMs: aggregation.AverageLatencyMs,
		LabelDistribution:          labels,
	}

	if aggregation.TotalCount > 0 {
		summary.SuccessRate = float64(aggregation.SuccessCount) / float64(aggregation.TotalCount)
	}

	return summary, nil
}
