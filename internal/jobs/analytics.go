package jobs

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/recoverly-app/recoveryservice/internal/domain"
	"github.com/recoverly-app/recoveryservice/internal/log"
	"github.com/recoverly-app/recoveryservice/internal/metrics"
	"github.com/recoverly-app/recoveryservice/internal/repo"
)

// NewAnalyticsJob builds the job body that refreshes the daily recovery
// funnel gauges from the failure store.
func NewAnalyticsJob(failures repo.FailureRepository) JobFunc {
	return func(ctx context.Context) (Result, error) {
		since := time.Now().Add(-24 * time.Hour)
		var result Result

		open, err := failures.CountOpen(ctx)
		if err != nil {
			return result, err
		}
		resolved, err := failures.CountByStatusSince(ctx, domain.FailureStatusResolved, since)
		if err != nil {
			return result, err
		}
		abandoned, err := failures.CountByStatusSince(ctx, domain.FailureStatusAbandoned, since)
		if err != nil {
			return result, err
		}

		metrics.FunnelOpenFailures.Set(float64(open))
		metrics.FunnelResolvedToday.Set(float64(resolved))
		metrics.FunnelAbandonedToday.Set(float64(abandoned))

		result.Processed = 3
		result.Successful = 3
		log.Info(ctx, "Refreshed recovery funnel metrics",
			zap.Int64("open_failures", open),
			zap.Int64("resolved_today", resolved),
			zap.Int64("abandoned_today", abandoned))
		return result, nil
	}
}
