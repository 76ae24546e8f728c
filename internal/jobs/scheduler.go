package jobs

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/recoverly-app/recoveryservice/internal/config"
	"github.com/recoverly-app/recoveryservice/internal/domain"
	"github.com/recoverly-app/recoveryservice/internal/log"
)

// Scheduler drives the runner's registered jobs on their configured
// intervals using an in-process cron.
type Scheduler struct {
	cron   *cron.Cron
	runner *Runner
	logger *zap.Logger
}

// NewScheduler wires the four periodic jobs onto a cron instance. Jobs
// must be registered on the runner before Start.
func NewScheduler(runner *Runner, cfg config.JobsConfig, logger *zap.Logger) (*Scheduler, error) {
	s := &Scheduler{
		cron:   cron.New(),
		runner: runner,
		logger: logger,
	}

	schedule := []struct {
		jobType  domain.JobType
		interval string
	}{
		{domain.JobPaymentRetry, fmt.Sprintf("@every %s", cfg.PaymentRetryInterval)},
		{domain.JobDunningCampaigns, fmt.Sprintf("@every %s", cfg.DunningInterval)},
		{domain.JobGracePeriodMonitoring, fmt.Sprintf("@every %s", cfg.GracePeriodInterval)},
		{domain.JobAnalyticsGeneration, fmt.Sprintf("@every %s", cfg.AnalyticsInterval)},
	}
	for _, entry := range schedule {
		jobType := entry.jobType
		_, err := s.cron.AddFunc(entry.interval, func() {
			ctx := log.WithJobType(context.Background(), string(jobType))
			if _, err := runner.TriggerJob(ctx, jobType); err != nil {
				logger.Error("Scheduled job trigger failed",
					zap.Error(err),
					zap.String("job_type", string(jobType)))
			}
		})
		if err != nil {
			return nil, fmt.Errorf("failed to schedule %s: %w", jobType, err)
		}
	}

	return s, nil
}

// Start begins periodic execution. It returns immediately; jobs run on
// the cron's goroutine.
func (s *Scheduler) Start() {
	s.logger.Info("Starting job scheduler")
	s.cron.Start()
}

// Stop halts scheduling and waits for in-flight cron invocations.
func (s *Scheduler) Stop() {
	s.logger.Info("Stopping job scheduler")
	<-s.cron.Stop().Done()
}
