package repository

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// OutcomeSuccess marks a prediction that produced a label. Failed predictions store the
// pipeline error kind instead.
const OutcomeSuccess = "success"

// ErrNotFound is returned when no prediction matches the request ID.
var ErrNotFound = errors.New("prediction not found")

// PredictionLog is one persisted prediction. The image itself is never stored.
type PredictionLog struct {
	ID         uint      `gorm:"primaryKey" json:"-"`
	RequestID  string    `gorm:"column:request_id;uniqueIndex;size:64" json:"request_id"`
	UserID     string    `gorm:"column:user_id;size:64;index" json:"user_id,omitempty"`
	Label      string    `gorm:"column:label;size:32" json:"label,omitempty"`
	Confidence *float64  `gorm:"column:confidence" json:"confidence"`
	Outcome    string    `gorm:"column:outcome;size:32;index" json:"outcome"`
	LatencyMs  int64     `gorm:"column:latency_ms" json:"latency_ms"`
	SHA1Hash   string    `gorm:"column:sha1_hash;size:40;index" json:"sha1_hash"`
	CreatedAt  time.Time `gorm:"column:created_at" json:"created_at"`
}

// TableName overrides the default table name.
func (PredictionLog) TableName() string {
	return "prediction_logs"
}

// MetricsAggregation holds totals computed over the prediction log.
type MetricsAggregation struct {
	TotalCount        int64
	SuccessCount      int64
	AverageConfidence float64
	AverageLatencyMs  float64
}

// LabelCount is the number of successful predictions per label.
type LabelCount struct {
	Label string `json:"label"`
	Count int64  `json:"count"`
}

// PredictionRepository provides persistence APIs for prediction logs.
type PredictionRepository struct {
	db             *gorm.DB
	logger         *zap.Logger
	retryAttempts  int
	initialBackoff time.Duration
	maxBackoff     time.Duration
}

// NewPredictionRepository creates a new repository instance.
func NewPredictionRepository(db *gorm.DB, logger *zap.Logger) *PredictionRepository {
	return &PredictionRepository{
		db:             db,
		logger:         logger.Named("prediction_repository"),
		retryAttempts:  3,
		initialBackoff: 50 * time.Millisecond,
		maxBackoff:     time.Second,
	}
}

// AutoMigrate ensures the schema is available.
func (r *PredictionRepository) AutoMigrate(ctx context.Context) error {
	return r.executeWithRetry(ctx, "repository.auto_migrate", "", func() error {
		return r.db.WithContext(ctx).AutoMigrate(&PredictionLog{})
	})
}

// SaveLog persists a prediction log entry.
func (r *PredictionRepository) SaveLog(ctx context.Context, log *PredictionLog) error {
	return r.executeWithRetry(ctx, "repository.save_log", log.RequestID, func() error {
		return r.db.WithContext(ctx).Create(log).Error
	})
}

// FindByRequestIDAndUser retrieves the prediction recorded for a request and owner. Anonymous
// predictions are owned by the empty user ID.
func (r *PredictionRepository) FindByRequestIDAndUser(ctx context.Context, requestID, userID string) (*PredictionLog, error) {
	var log PredictionLog
	err := r.executeWithRetry(ctx, "repository.find_by_request_id", requestID, func() error {
		err := r.db.WithContext(ctx).First(&log, "request_id = ? AND user_id = ?", requestID, userID).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNotFound
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return &log, nil
}

// AggregateMetrics computes totals, success count and averages over all predictions.
func (r *PredictionRepository) AggregateMetrics(ctx context.Context) (*MetricsAggregation, error) {
	var row struct {
		Total         int64
		Success       int64
		AvgConfidence *float64
		AvgLatency    *float64
	}
	err := r.executeWithRetry(ctx, "repository.aggregate_metrics", "", func() error {
		return r.db.WithContext(ctx).
			Model(&PredictionLog{}).
			Select(`COUNT(*) AS total,
				COALESCE(SUM(CASE WHEN outcome = ? THEN 1 ELSE 0 END), 0) AS success,
				AVG(confidence) AS avg_confidence,
				AVG(latency_ms) AS avg_latency`, OutcomeSuccess).
			Scan(&row).Error
	})
	if err != nil {
		return nil, err
	}

	agg := &MetricsAggregation{TotalCount: row.Total, SuccessCount: row.Success}
	if row.AvgConfidence != nil {
		agg.AverageConfidence = *row.AvgConfidence
	}
	if row.AvgLatency != nil {
		agg.AverageLatencyMs = *row.AvgLatency
	}
	return agg, nil
}

// LabelDistribution counts successful predictions per label, most frequent first.
func (r *PredictionRepository) LabelDistribution(ctx context.Context) ([]LabelCount, error) {
	var rows []LabelCount
	err := r.executeWithRetry(ctx, "repository.label_distribution", "", func() error {
		return r.db.WithContext(ctx).
			Model(&PredictionLog{}).
			Select("label, COUNT(*) AS count").
			Where("outcome = ?", OutcomeSuccess).
			Group("label").
			Order("count DESC, label").
			Scan(&rows).Error
	})
	if err != nil {
		return nil, err
	}
	return rows, nil
}
