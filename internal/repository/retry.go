package repository

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/example/lostfound/internal/logging"
)

// retryPolicy re-runs idempotent statements that failed with a transient error.
type retryPolicy struct {
	logger         *zap.Logger
	retryAttempts  int
	initialBackoff time.Duration
	maxBackoff     time.Duration
}

func defaultRetryPolicy(logger *zap.Logger) retryPolicy {
	if logger == nil {
		logger = zap.NewNop()
	}
	return retryPolicy{
		logger:         logger,
		retryAttempts:  3,
		initialBackoff: 50 * time.Millisecond,
		maxBackoff:     time.Second,
	}
}

func (p retryPolicy) executeWithRetry(ctx context.Context, operation, requestID string, fn func() error) error {
	attempts := p.retryAttempts
	if attempts < 1 {
		attempts = 1
	}
	opLogger := logging.WithOperation(p.logger, operation, requestID)

	backoff := p.initialBackoff
	var err error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return logging.NewOperationError(operation, requestID, ctx.Err())
			case <-time.After(backoff):
			}
			if next := backoff * 2; next <= p.maxBackoff {
				backoff = next
			}
		}

		if err = fn(); err == nil {
			if attempt > 0 {
				opLogger.Info("database operation succeeded after retry", zap.Int("attempt", attempt+1))
			}
			return nil
		}
		if !isTransientError(err) {
			return logging.NewOperationError(operation, requestID, err)
		}
		opLogger.Warn("transient database error", zap.Error(err), zap.Int("attempt", attempt+1))
	}
	opLogger.Error("database operation failed", zap.Error(err), zap.Int("attempts", attempts))
	return logging.NewOperationError(operation, requestID, err)
}

func isTransientError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var timeout interface{ Timeout() bool }
	if errors.As(err, &timeout) && timeout.Timeout() {
		return true
	}
	var temporary interface{ Temporary() bool }
	return errors.As(err, &temporary) && temporary.Temporary()
}
