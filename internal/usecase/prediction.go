package usecase

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/example/faceshape/internal/logging"
	"github.com/example/faceshape/internal/pipeline"
	"github.com/example/faceshape/internal/repository"
)

const (
	resultTTL = 10 * time.Minute
	imageTTL  = time.Hour
)

// PredictionRepository defines the persistence operations needed by the use case.
type PredictionRepository interface {
	SaveLog(ctx context.Context, log *repository.PredictionLog) error
	FindByRequestIDAndUser(ctx context.Context, requestID, userID string) (*repository.PredictionLog, error)
	AggregateMetrics(ctx context.Context) (*repository.MetricsAggregation, error)
	LabelDistribution(ctx context.Context) ([]repository.LabelCount, error)
}

// Predictor runs the inference pipeline. *pipeline.Pipeline satisfies it.
type Predictor interface {
	Run(ctx context.Context, requestID string, upload *pipeline.Upload) (*pipeline.Result, error)
}

// PredictionUseCase wraps the pipeline with request IDs, caching and the prediction log.
type PredictionUseCase struct {
	repo           PredictionRepository
	cache          Cache
	predictor      Predictor
	logger         *zap.Logger
	retryAttempts  int
	initialBackoff time.Duration
	maxBackoff     time.Duration
}

// NewPredictionUseCase constructs a new use case instance.
func NewPredictionUseCase(repo PredictionRepository, cache Cache, predictor Predictor, logger *zap.Logger) *PredictionUseCase {
	return &PredictionUseCase{
		repo:           repo,
		cache:          cache,
		predictor:      predictor,
		logger:         logger.Named("prediction_usecase"),
		retryAttempts:  3,
		initialBackoff: 50 * time.Millisecond,
		maxBackoff:     time.Second,
	}
}

// Predict assigns a request ID and returns the face-shape prediction for upload. Pipeline
// failures are returned unchanged so callers can map their kind.
func (uc *PredictionUseCase) Predict(ctx context.Context, userID string, upload *pipeline.Upload) (string, *pipeline.Result, error) {
	requestID := uuid.NewString()
	opLogger := logging.WithOperation(uc.logger, "usecase.predict", requestID)
	start := time.Now()

	var hashHex string
	if upload != nil && len(upload.Data) > 0 {
		hash := sha1.Sum(upload.Data)
		hashHex = hex.EncodeToString(hash[:])
	}

	result, fromCache := uc.lookupImage(ctx, requestID, hashHex)
	if !fromCache {
		var err error
		result, err = uc.predictor.Run(ctx, requestID, upload)
		if err != nil {
			uc.recordFailure(ctx, requestID, userID, hashHex, time.Since(start), err)
			return requestID, nil, err
		}
	}

	log := &repository.PredictionLog{
		RequestID:  requestID,
		UserID:     userID,
		Label:      result.Label,
		Confidence: result.Confidence,
		Outcome:    repository.OutcomeSuccess,
		LatencyMs:  time.Since(start).Milliseconds(),
		SHA1Hash:   hashHex,
		CreatedAt:  time.Now().UTC(),
	}
	if err := uc.repo.SaveLog(ctx, log); err != nil {
		wrapped := logging.NewOperationError("usecase.save_log", requestID, err)
		opLogger.Error("failed to persist prediction log", zap.Error(wrapped))
		return "", nil, wrapped
	}

	if serialized, err := json.Marshal(log); err != nil {
		opLogger.Error("failed to serialize prediction log", zap.Error(err))
	} else if err := uc.withRedisRetry(ctx, requestID, "cache.set.result", func() error {
		return uc.cache.Set(ctx, resultKey(requestID), string(serialized), resultTTL)
	}); err != nil {
		opLogger.Warn("failed to cache prediction result", zap.Error(err))
	}

	if !fromCache && hashHex != "" {
		if serialized, err := json.Marshal(result); err == nil {
			if err := uc.withRedisRetry(ctx, requestID, "cache.set.image", func() error {
				return uc.cache.Set(ctx, imageKey(hashHex), string(serialized), imageTTL)
			}); err != nil {
				opLogger.Warn("failed to cache image prediction", zap.Error(err))
			}
		}
	}

	opLogger.Info("prediction completed",
		zap.String("label", result.Label),
		zap.Bool("cached", fromCache),
		zap.Int64("latency_ms", log.LatencyMs),
	)
	return requestID, result, nil
}

// lookupImage returns a previous result for identical image bytes. Cache problems only
// cost a recomputation.
func (uc *PredictionUseCase) lookupImage(ctx context.Context, requestID, hashHex string) (*pipeline.Result, bool) {
	if hashHex == "" {
		return nil, false
	}
	cached, err := uc.cache.Get(ctx, imageKey(hashHex))
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			logging.WithOperation(uc.logger, "cache.get.image", requestID).Warn("failed to read cache", zap.Error(err))
		}
		return nil, false
	}
	var result pipeline.Result
	if err := json.Unmarshal([]byte(cached), &result); err != nil || result.Label == "" {
		logging.WithOperation(uc.logger, "cache.get.image", requestID).Warn("ignoring malformed cached prediction", zap.Error(err))
		return nil, false
	}
	return &result, true
}

// recordFailure logs client-fault failures to the prediction log. Server faults are only
// logged, since they say nothing about the submitted image.
func (uc *PredictionUseCase) recordFailure(ctx context.Context, requestID, userID, hashHex string, latency time.Duration, cause error) {
	opLogger := logging.WithOperation(uc.logger, "usecase.predict", requestID)
	kind := pipeline.KindOf(cause)
	if kind.Fault() == pipeline.FaultServer {
		opLogger.Error("prediction failed", zap.Error(cause), zap.String("kind", string(kind)))
		return
	}
	opLogger.Info("prediction rejected", zap.Error(cause), zap.String("kind", string(kind)))

	log := &repository.PredictionLog{
		RequestID: requestID,
		UserID:    userID,
		Outcome:   string(kind),
		LatencyMs: latency.Milliseconds(),
		SHA1Hash:  hashHex,
		CreatedAt: time.Now().UTC(),
	}
	if err := uc.repo.SaveLog(ctx, log); err != nil {
		opLogger.Error("failed to persist rejected prediction", zap.Error(logging.NewOperationError("usecase.save_log", requestID, err)))
	}
}

// GetResult retrieves a cached prediction or loads it from persistence. Only the user who
// made the prediction can read it; anyone else gets repository.ErrNotFound.
func (uc *PredictionUseCase) GetResult(ctx context.Context, userID, requestID string) (*repository.PredictionLog, error) {
	if cached, err := uc.withRedisGet(ctx, requestID, "cache.get.result", resultKey(requestID)); err == nil {
		var log repository.PredictionLog
		if err := json.Unmarshal([]byte(cached), &log); err != nil {
			logging.WithOperation(uc.logger, "usecase.get_result", requestID).Warn("failed to decode cached result", zap.Error(err))
		} else if log.UserID != userID {
			return nil, repository.ErrNotFound
		} else {
			return &log, nil
		}
	} else if !errors.Is(err, redis.Nil) {
		logging.WithOperation(uc.logger, "usecase.get_result", requestID).Warn("failed to read cache", zap.Error(err))
	}

	return uc.repo.FindByRequestIDAndUser(ctx, requestID, userID)
}

func (uc *PredictionUseCase) withRedisRetry(ctx context.Context, requestID, operation string, fn func() error) error {
	if uc.retryAttempts <= 1 {
		return logging.NewOperationError(operation, requestID, fn())
	}

	backoff := uc.initialBackoff
	opLogger := logging.WithOperation(uc.logger, operation, requestID)
	var err error
	for attempt := 0; attempt < uc.retryAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return logging.NewOperationError(operation, requestID, ctx.Err())
			case <-time.After(backoff):
			}
			if next := backoff * 2; next <= uc.maxBackoff {
				backoff = next
			}
		}

		err = fn()
		if err == nil {
			if attempt > 0 {
				opLogger.Info("redis operation succeeded after retry", zap.Int("attempt", attempt+1))
			}
			return nil
		}

		if !isTransientError(err) || attempt == uc.retryAttempts-1 {
			if !errors.Is(err, redis.Nil) {
				opLogger.Error("redis operation failed", zap.Error(err), zap.Int("attempt", attempt+1))
			}
			return logging.NewOperationError(operation, requestID, err)
		}

		opLogger.Warn("transient redis error", zap.Error(err), zap.Int("attempt", attempt+1))
	}
	return logging.NewOperationError(operation, requestID, err)
}

func (uc *PredictionUseCase) withRedisGet(ctx context.Context, requestID, operation, cacheKey string) (string, error) {
	var result string
	err := uc.withRedisRetry(ctx, requestID, operation, func() error {
		value, err := uc.cache.Get(ctx, cacheKey)
		if err != nil {
			return err
		}
		result = value
		return nil
	})
	if err != nil {
		return "", err
	}
	return result, nil
}

func isTransientError(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	var temporary interface{ Temporary() bool }
	if errors.As(err, &temporary) && temporary.Temporary() {
		return true
	}

	return false
}
