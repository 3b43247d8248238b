package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go-storefront/internal/metrics"
)

// TokenJanitor deletes refresh tokens that have been revoked or expired for
// longer than the retention window. Active tokens are never touched.
type TokenJanitor struct {
	tokens    TokenStore
	retention time.Duration
	metrics   metrics.Recorder
	now       func() time.Time
}

func NewTokenJanitor(tokens TokenStore, retention time.Duration, recorder metrics.Recorder) *TokenJanitor {
	if recorder == nil {
		recorder = metrics.Nop{}
	}
	return &TokenJanitor{tokens: tokens, retention: retention, metrics: recorder, now: utcNow}
}

func (j *TokenJanitor) PurgeOnce(ctx context.Context) (int64, error) {
	cutoff := j.now().Add(-j.retention)
	purged, err := j.tokens.PurgeInactive(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge refresh tokens: %w", err)
	}

	j.metrics.RecordTokensPurged(purged)
	if purged > 0 {
		slog.Info("purged refresh tokens", "count", purged, "cutoff", cutoff)
	}
	return purged, nil
}

// Start runs PurgeOnce every interval until ctx is done. A zero interval
// disables the loop.
func (j *TokenJanitor) Start(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := j.PurgeOnce(ctx); err != nil {
					slog.Error("token purge failed", "error", err)
				}
			}
		}
	}()
}
