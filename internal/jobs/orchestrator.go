package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/recoverly-app/recoveryservice/internal/domain"
	"github.com/recoverly-app/recoveryservice/internal/log"
	"github.com/recoverly-app/recoveryservice/internal/metrics"
	"github.com/recoverly-app/recoveryservice/internal/repo"
	"github.com/recoverly-app/recoveryservice/internal/tracing"
)

const (
	// DefaultJobTimeout bounds one job invocation's wall-clock time.
	DefaultJobTimeout = 5 * time.Minute

	// DefaultMaxConcurrentJobs caps how many job types run at once.
	DefaultMaxConcurrentJobs = 5
)

// Result is what a job body reports back to the orchestrator.
type Result struct {
	Processed  int
	Successful int
	Failed     int
}

// JobFunc is one registered job body. It must honor ctx cancellation.
type JobFunc func(ctx context.Context) (Result, error)

// JobStatus is the introspection view of one registered job.
type JobStatus struct {
	JobType domain.JobType `json:"job_type"`
	Running bool           `json:"running"`
	LastRun *domain.JobRun `json:"last_run,omitempty"`
}

// SystemHealth summarizes the orchestrator for operators.
type SystemHealth struct {
	Status        string               `json:"status"`
	ActiveJobs    int                  `json:"active_jobs"`
	LastSuccesses map[string]time.Time `json:"last_successes"`
	RunsToday     int64                `json:"runs_today"`
	FailuresToday int64                `json:"failures_today"`
}

// Runner owns the active-job set and drives registered job bodies with
// overlap prevention, a concurrency cap and a hard timeout. One Runner
// exists per process; nothing here coordinates across processes.
type Runner struct {
	runs          repo.JobRunRepository
	timeout       time.Duration
	maxConcurrent int

	mu     sync.Mutex
	jobs   map[domain.JobType]JobFunc
	active map[domain.JobType]struct{}
}

// NewRunner creates a job runner.
func NewRunner(runs repo.JobRunRepository, timeout time.Duration, maxConcurrent int) *Runner {
	if timeout <= 0 {
		timeout = DefaultJobTimeout
	}
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultMaxConcurrentJobs
	}
	return &Runner{
		runs:          runs,
		timeout:       timeout,
		maxConcurrent: maxConcurrent,
		jobs:          make(map[domain.JobType]JobFunc),
		active:        make(map[domain.JobType]struct{}),
	}
}

// Register binds a job body to a job type, replacing any previous one.
func (r *Runner) Register(jobType domain.JobType, fn JobFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs[jobType] = fn
}

// TriggerJob runs one job invocation to completion. Overlapping
// invocations of the same job type and invocations past the concurrency
// cap are skipped with zero counts and no audit row. A job body error or
// timeout produces a failed JobRun, never an error return.
func (r *Runner) TriggerJob(ctx context.Context, jobType domain.JobType) (*domain.JobRun, error) {
	if !domain.ValidJobType(jobType) {
		return nil, status.Errorf(codes.InvalidArgument, "unknown job type %q", jobType)
	}

	r.mu.Lock()
	fn, ok := r.jobs[jobType]
	if !ok {
		r.mu.Unlock()
		return nil, status.Errorf(codes.FailedPrecondition, "job type %q is not registered", jobType)
	}
	if _, running := r.active[jobType]; running {
		r.mu.Unlock()
		return r.skip(ctx, jobType, "job already running"), nil
	}
	if len(r.active) >= r.maxConcurrent {
		r.mu.Unlock()
		return r.skip(ctx, jobType, "max concurrent jobs reached"), nil
	}
	r.active[jobType] = struct{}{}
	r.mu.Unlock()
	metrics.JobsActive.Inc()

	// The marker release must survive panics and timeouts.
	defer func() {
		r.mu.Lock()
		delete(r.active, jobType)
		r.mu.Unlock()
		metrics.JobsActive.Dec()
	}()

	ctx = log.WithJobType(ctx, string(jobType))
	ctx, span := tracing.StartSpan(ctx, fmt.Sprintf("job.%s", jobType))
	defer span.End()

	start := time.Now()
	jobCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	type outcome struct {
		result Result
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				done <- outcome{err: fmt.Errorf("job panicked: %v", rec)}
			}
		}()
		result, err := fn(jobCtx)
		done <- outcome{result: result, err: err}
	}()

	var (
		result Result
		jobErr error
	)
	select {
	case o := <-done:
		result = o.result
		jobErr = o.err
	case <-jobCtx.Done():
		jobErr = fmt.Errorf("job timed out after %s", r.timeout)
	}

	end := time.Now()
	run := &domain.JobRun{
		ID:         uuid.New(),
		JobType:    jobType,
		StartTime:  start,
		EndTime:    end,
		Duration:   end.Sub(start),
		Success:    jobErr == nil,
		Processed:  result.Processed,
		Successful: result.Successful,
		Failed:     result.Failed,
	}
	runStatus := "success"
	if jobErr != nil {
		run.Error = jobErr.Error()
		runStatus = "failure"
	}

	if err := r.runs.Insert(ctx, run); err != nil {
		log.Error(ctx, "Failed to record job run",
			zap.Error(err),
			zap.String("job_type", string(jobType)))
		metrics.RecordError("job_run_insert", "jobs")
	}
	metrics.RecordJobRun(string(jobType), runStatus, run.Duration)

	if jobErr != nil {
		log.Error(ctx, "Job run failed",
			zap.Error(jobErr),
			zap.Duration("duration", run.Duration))
	} else {
		log.Info(ctx, "Job run completed",
			zap.Duration("duration", run.Duration),
			zap.Int("processed", run.Processed),
			zap.Int("successful", run.Successful),
			zap.Int("failed", run.Failed))
	}
	return run, nil
}

// skip synthesizes an unpersisted zero-count run for a rejected trigger.
func (r *Runner) skip(ctx context.Context, jobType domain.JobType, reason string) *domain.JobRun {
	now := time.Now()
	log.Info(ctx, "Skipped job invocation",
		zap.String("job_type", string(jobType)),
		zap.String("reason", reason))
	metrics.RecordJobRun(string(jobType), "skipped", 0)
	return &domain.JobRun{
		ID:        uuid.New(),
		JobType:   jobType,
		StartTime: now,
		EndTime:   now,
		Error:     "skipped: " + reason,
	}
}

// GetStatus returns the running flag and most recent run per registered
// job type.
func (r *Runner) GetStatus(ctx context.Context) ([]JobStatus, error) {
	r.mu.Lock()
	types := make([]domain.JobType, 0, len(r.jobs))
	for t := range r.jobs {
		types = append(types, t)
	}
	activeSet := make(map[domain.JobType]struct{}, len(r.active))
	for t := range r.active {
		activeSet[t] = struct{}{}
	}
	r.mu.Unlock()

	statuses := make([]JobStatus, 0, len(types))
	for _, t := range types {
		st := JobStatus{JobType: t}
		_, st.Running = activeSet[t]
		recent, err := r.runs.ListRecent(ctx, t, 1)
		if err != nil {
			return nil, status.Errorf(codes.Internal, "failed to read job history: %v", err)
		}
		if len(recent) > 0 {
			st.LastRun = recent[0]
		}
		statuses = append(statuses, st)
	}
	return statuses, nil
}

// GetHistory returns recent runs, optionally filtered by job type.
func (r *Runner) GetHistory(ctx context.Context, jobType domain.JobType, limit int) ([]*domain.JobRun, error) {
	if jobType != "" && !domain.ValidJobType(jobType) {
		return nil, status.Errorf(codes.InvalidArgument, "unknown job type %q", jobType)
	}
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	runs, err := r.runs.ListRecent(ctx, jobType, limit)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "failed to read job history: %v", err)
	}
	return runs, nil
}

// GetSystemHealth summarizes scheduler state and today's run counts.
func (r *Runner) GetSystemHealth(ctx context.Context) (*SystemHealth, error) {
	r.mu.Lock()
	types := make([]domain.JobType, 0, len(r.jobs))
	for t := range r.jobs {
		types = append(types, t)
	}
	activeCount := len(r.active)
	r.mu.Unlock()

	health := &SystemHealth{
		Status:        "running",
		ActiveJobs:    activeCount,
		LastSuccesses: make(map[string]time.Time, len(types)),
	}
	for _, t := range types {
		last, err := r.runs.LastSuccess(ctx, t)
		if err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				continue
			}
			return nil, status.Errorf(codes.Internal, "failed to read job history: %v", err)
		}
		health.LastSuccesses[string(t)] = last.EndTime
	}

	since := time.Now().Add(-24 * time.Hour)
	succeeded, err := r.runs.CountSince(ctx, since, true)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "failed to count job runs: %v", err)
	}
	failed, err := r.runs.CountSince(ctx, since, false)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "failed to count job runs: %v", err)
	}
	health.RunsToday = succeeded + failed
	health.FailuresToday = failed
	return health, nil
}
