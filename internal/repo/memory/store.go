// Package memory provides in-memory repository implementations used by
// tests and local development. They mirror the postgres semantics,
// including latest-row-wins reads for account states.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/recoverly-app/recoveryservice/internal/domain"
	"github.com/recoverly-app/recoveryservice/internal/repo"
)

// Store holds all in-memory repositories behind one mutex.
type Store struct {
	mu        sync.RWMutex
	failures  map[uuid.UUID]*domain.PaymentFailure
	campaigns map[uuid.UUID]*domain.DunningCampaign
	comms     []*domain.DunningCommunication
	states    []*domain.AccountState
	runs      []*domain.JobRun
}

// NewStore creates an empty in-memory store.
func NewStore() *Store {
	return &Store{
		failures:  make(map[uuid.UUID]*domain.PaymentFailure),
		campaigns: make(map[uuid.UUID]*domain.DunningCampaign),
	}
}

func (s *Store) Failures() repo.FailureRepository             { return &failureRepo{s} }
func (s *Store) Campaigns() repo.CampaignRepository           { return &campaignRepo{s} }
func (s *Store) Communications() repo.CommunicationRepository { return &communicationRepo{s} }
func (s *Store) AccountStates() repo.AccountStateRepository   { return &accountStateRepo{s} }
func (s *Store) JobRuns() repo.JobRunRepository               { return &jobRunRepo{s} }

type failureRepo struct{ s *Store }

func copyFailure(f *domain.PaymentFailure) *domain.PaymentFailure {
	out := *f
	return &out
}

func (r *failureRepo) Insert(ctx context.Context, failure *domain.PaymentFailure) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.failures[failure.ID] = copyFailure(failure)
	return nil
}

func (r *failureRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.PaymentFailure, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	f, ok := r.s.failures[id]
	if !ok {
		return nil, repo.ErrNotFound
	}
	return copyFailure(f), nil
}

func (r *failureRepo) FindOpenByPaymentIntent(ctx context.Context, customerID, paymentIntentID string) (*domain.PaymentFailure, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var latest *domain.PaymentFailure
	for _, f := range r.s.failures {
		if f.CustomerID != customerID || f.PaymentIntentID == nil || *f.PaymentIntentID != paymentIntentID {
			continue
		}
		if f.Status.IsTerminal() {
			continue
		}
		if latest == nil || f.CreatedAt.After(latest.CreatedAt) {
			latest = f
		}
	}
	if latest == nil {
		return nil, repo.ErrNotFound
	}
	return copyFailure(latest), nil
}

func (r *failureRepo) Update(ctx context.Context, failure *domain.PaymentFailure) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.failures[failure.ID]; !ok {
		return repo.ErrNotFound
	}
	r.s.failures[failure.ID] = copyFailure(failure)
	return nil
}

func (r *failureRepo) ListDueRetries(ctx context.Context, now time.Time, limit int) ([]*domain.PaymentFailure, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var due []*domain.PaymentFailure
	for _, f := range r.s.failures {
		if f.Status == domain.FailureStatusPending && f.NextRetryAt != nil && !f.NextRetryAt.After(now) {
			due = append(due, copyFailure(f))
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].CreatedAt.Before(due[j].CreatedAt) })
	if len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

func (r *failureRepo) CountByStatusSince(ctx context.Context, status domain.FailureStatus, since time.Time) (int64, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var count int64
	for _, f := range r.s.failures {
		if f.Status == status && !f.UpdatedAt.Before(since) {
			count++
		}
	}
	return count, nil
}

func (r *failureRepo) CountOpen(ctx context.Context) (int64, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var count int64
	for _, f := range r.s.failures {
		if f.Status == domain.FailureStatusPending || f.Status == domain.FailureStatusRetrying {
			count++
		}
	}
	return count, nil
}

type campaignRepo struct{ s *Store }

func copyCampaign(c *domain.DunningCampaign) *domain.DunningCampaign {
	out := *c
	out.Channels = append([]domain.Channel(nil), c.Channels...)
	if c.Personalization != nil {
		out.Personalization = make(map[string]string, len(c.Personalization))
		for k, v := range c.Personalization {
			out.Personalization[k] = v
		}
	}
	return &out
}

func (r *campaignRepo) Insert(ctx context.Context, campaign *domain.DunningCampaign) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.campaigns[campaign.ID] = copyCampaign(campaign)
	return nil
}

func (r *campaignRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.DunningCampaign, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	c, ok := r.s.campaigns[id]
	if !ok {
		return nil, repo.ErrNotFound
	}
	return copyCampaign(c), nil
}

func (r *campaignRepo) FindActiveByFailure(ctx context.Context, paymentFailureID uuid.UUID) (*domain.DunningCampaign, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var latest *domain.DunningCampaign
	for _, c := range r.s.campaigns {
		if c.PaymentFailureID != paymentFailureID || c.Status.IsTerminal() {
			continue
		}
		if latest == nil || c.CreatedAt.After(latest.CreatedAt) {
			latest = c
		}
	}
	if latest == nil {
		return nil, repo.ErrNotFound
	}
	return copyCampaign(latest), nil
}

func (r *campaignRepo) Update(ctx context.Context, campaign *domain.DunningCampaign) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.campaigns[campaign.ID]; !ok {
		return repo.ErrNotFound
	}
	r.s.campaigns[campaign.ID] = copyCampaign(campaign)
	return nil
}

func (r *campaignRepo) ListDueCommunications(ctx context.Context, now time.Time, limit int) ([]*domain.DunningCampaign, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var due []*domain.DunningCampaign
	for _, c := range r.s.campaigns {
		if c.Status == domain.CampaignStatusActive && c.CurrentStepStatus == domain.StepStatusPending &&
			c.NextCommunicationAt != nil && !c.NextCommunicationAt.After(now) {
			due = append(due, copyCampaign(c))
		}
	}
	sort.Slice(due, func(i, j int) bool {
		return due[i].NextCommunicationAt.Before(*due[j].NextCommunicationAt)
	})
	if len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

type communicationRepo struct{ s *Store }

func (r *communicationRepo) Insert(ctx context.Context, comm *domain.DunningCommunication) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := *comm
	r.s.comms = append(r.s.comms, &out)
	return nil
}

func (r *communicationRepo) ListByCampaign(ctx context.Context, campaignID uuid.UUID) ([]*domain.DunningCommunication, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var out []*domain.DunningCommunication
	for _, c := range r.s.comms {
		if c.CampaignID == campaignID {
			copied := *c
			out = append(out, &copied)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

type accountStateRepo struct{ s *Store }

func copyState(st *domain.AccountState) *domain.AccountState {
	out := *st
	out.FeatureRestrictions = append([]string(nil), st.FeatureRestrictions...)
	out.TriggeredActions = append([]string(nil), st.TriggeredActions...)
	return &out
}

func (r *accountStateRepo) Insert(ctx context.Context, state *domain.AccountState) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.states = append(r.s.states, copyState(state))
	return nil
}

func (r *accountStateRepo) GetCurrent(ctx context.Context, customerID string) (*domain.AccountState, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var latest *domain.AccountState
	for _, st := range r.s.states {
		if st.CustomerID != customerID {
			continue
		}
		if latest == nil || !st.CreatedAt.Before(latest.CreatedAt) {
			latest = st
		}
	}
	if latest == nil {
		return nil, repo.ErrNotFound
	}
	return copyState(latest), nil
}

func (r *accountStateRepo) ListExpiredGracePeriods(ctx context.Context, now time.Time, limit int) ([]*domain.AccountState, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	latestByCustomer := make(map[string]*domain.AccountState)
	for _, st := range r.s.states {
		cur, ok := latestByCustomer[st.CustomerID]
		if !ok || !st.CreatedAt.Before(cur.CreatedAt) {
			latestByCustomer[st.CustomerID] = st
		}
	}
	var expired []*domain.AccountState
	for _, st := range latestByCustomer {
		if st.State == domain.StateGracePeriod && st.GracePeriodEnd != nil && !st.GracePeriodEnd.After(now) {
			expired = append(expired, copyState(st))
		}
	}
	sort.Slice(expired, func(i, j int) bool { return expired[i].CreatedAt.Before(expired[j].CreatedAt) })
	if len(expired) > limit {
		expired = expired[:limit]
	}
	return expired, nil
}

type jobRunRepo struct{ s *Store }

func (r *jobRunRepo) Insert(ctx context.Context, run *domain.JobRun) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := *run
	r.s.runs = append(r.s.runs, &out)
	return nil
}

func (r *jobRunRepo) ListRecent(ctx context.Context, jobType domain.JobType, limit int) ([]*domain.JobRun, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var out []*domain.JobRun
	for _, run := range r.s.runs {
		if jobType != "" && run.JobType != jobType {
			continue
		}
		copied := *run
		out = append(out, &copied)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.After(out[j].StartTime) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *jobRunRepo) LastSuccess(ctx context.Context, jobType domain.JobType) (*domain.JobRun, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var latest *domain.JobRun
	for _, run := range r.s.runs {
		if run.JobType != jobType || !run.Success {
			continue
		}
		if latest == nil || run.StartTime.After(latest.StartTime) {
			latest = run
		}
	}
	if latest == nil {
		return nil, repo.ErrNotFound
	}
	copied := *latest
	return &copied, nil
}

func (r *jobRunRepo) CountSince(ctx context.Context, since time.Time, success bool) (int64, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var count int64
	for _, run := range r.s.runs {
		if run.Success == success && !run.StartTime.Before(since) {
			count++
		}
	}
	return count, nil
}
