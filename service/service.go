// Package service is the transition entry point: it validates edges
// against the status machine, commits them through the ledger's
// compare-and-swap, and fires the reward/dispatch cascades. Cascades
// run after the commit, are idempotent, and never roll it back.
package service

import (
	"context"
	"time"

	"ecotrack/dispatch"
	"ecotrack/models"
	"ecotrack/reward"
	"ecotrack/status"

	"github.com/apex/log"
	"github.com/golang/geo/s2"
	"github.com/google/uuid"
)

// Store is the ledger surface the orchestrator uses directly. The
// reward and dispatch engines hold their own narrower slices.
type Store interface {
	CreateReport(ctx context.Context, r *models.Report) error
	GetReport(ctx context.Context, id string) (*models.Report, error)
	CompareAndSwapStatus(ctx context.Context, id string, expectedVersion int64, newStatus string) error
	ListReportsByOwner(ctx context.Context, ownerID string) ([]models.Report, error)

	UpsertProfile(ctx context.Context, req *models.UpdateProfileRequest) error
	GetProfile(ctx context.Context, id string) (*models.Profile, error)
	DeleteProfile(ctx context.Context, id string) error
	TouchDayStreak(ctx context.Context, profileID string, now time.Time) error

	RegisterAgent(ctx context.Context, a *models.PickupAgent) error
	SetAgentActive(ctx context.Context, id string, active bool) error
	ListTasksByAgent(ctx context.Context, agentID string) ([]models.CollectionTask, error)
}

// Service orchestrates the report lifecycle.
type Service struct {
	store      Store
	rewards    *reward.Engine
	dispatcher *dispatch.Engine
}

// New creates the orchestrator.
func New(store Store, rewards *reward.Engine, dispatcher *dispatch.Engine) *Service {
	return &Service{store: store, rewards: rewards, dispatcher: dispatcher}
}

// SubmitReport stores a new citizen report in its initial status.
func (s *Service) SubmitReport(ctx context.Context, req *models.SubmitReportRequest) (*models.SubmitReportResponse, error) {
	if _, err := s.store.GetProfile(ctx, req.OwnerID); err != nil {
		return nil, err
	}

	category := req.Category
	if req.Kind == models.KindWaste && category == "" {
		category = models.CategoryDryWaste
	}
	if req.Kind == models.KindDirtyArea {
		category = ""
	}

	r := &models.Report{
		ID:         uuid.New().String(),
		Kind:       req.Kind,
		OwnerID:    req.OwnerID,
		Category:   category,
		AICategory: req.AICategory,
		Status:     status.InitialStatus(req.Kind),
		MassKg:     req.MassKg,
		Latitude:   req.Latitude,
		Longitude:  req.Longitude,
		S2Cell:     uint64(s2.CellIDFromLatLng(s2.LatLngFromDegrees(req.Latitude, req.Longitude))),
		ImageRef:   req.ImageRef,
		Note:       req.Note,
	}
	if err := s.store.CreateReport(ctx, r); err != nil {
		return nil, err
	}

	if err := s.store.TouchDayStreak(ctx, req.OwnerID, time.Now()); err != nil {
		log.Errorf("Day streak update failed for profile %s: %v", req.OwnerID, err)
	}

	return &models.SubmitReportResponse{ReportID: r.ID, Status: r.Status}, nil
}

// RequestTransition moves a report along one edge of its status graph
// on behalf of an explicit actor. The sequence is: read → validate →
// pre-flight dispatch selection (actionable edges only, so a missing
// agent fails before anything is written) → compare-and-swap commit →
// cascades.
func (s *Service) RequestTransition(ctx context.Context, reportID, target string, actor models.Actor) (*models.TransitionResponse, error) {
	r, err := s.store.GetReport(ctx, reportID)
	if err != nil {
		return nil, err
	}

	edge, err := status.Validate(r.Kind, r.Status, target, actor.Role)
	if err != nil {
		return nil, err
	}

	if edge.RequiresTask && actor.Role == models.RoleAgent {
		owns, err := s.dispatcher.OwnsActiveTask(ctx, r.ID, actor.ID)
		if err != nil {
			return nil, err
		}
		if !owns {
			return nil, models.ErrForbidden
		}
	}

	// Pick the agent before committing so ErrNoAgentAvailable leaves
	// the report in its pre-actionable status for a later retry.
	var agent *models.PickupAgent
	if edge.Actionable {
		if agent, err = s.dispatcher.SelectAgent(ctx); err != nil {
			return nil, err
		}
	}

	if err := s.store.CompareAndSwapStatus(ctx, r.ID, r.Version, target); err != nil {
		return nil, err
	}
	log.Infof("Report %s moved %s -> %s by %s/%s", r.ID, r.Status, target, actor.Role, actor.ID)
	r.Status = target
	r.Version++

	// Cascades. Each one is idempotent; a retried request replays them
	// harmlessly, and none of them may fail the committed transition.
	if edge.Actionable && agent != nil {
		if _, err := s.dispatcher.Assign(ctx, r, agent); err != nil {
			// The report queues in its actionable state until the next
			// dispatch sweep re-assigns it.
			log.Errorf("Task assignment failed for report %s: %v", r.ID, err)
		}
	}
	if edge.TriggersReward {
		s.rewards.Grant(ctx, r)
	}
	if status.Terminal(r.Kind, target) {
		if err := s.dispatcher.CancelActive(ctx, r.ID); err != nil {
			log.Errorf("Task cancellation failed for report %s: %v", r.ID, err)
		}
	}

	return &models.TransitionResponse{
		ReportID: r.ID,
		Status:   target,
		Rewarded: edge.TriggersReward,
	}, nil
}

// SystemTransition is the cascade entry point the dispatch engine uses
// to auto-promote a parent report. It runs the same validation path as
// a client request, so a report an admin already advanced or rejected
// makes the promotion fail cleanly.
func (s *Service) SystemTransition(ctx context.Context, reportID, target string) error {
	_, err := s.RequestTransition(ctx, reportID, target, models.Actor{ID: "system", Role: models.RoleSystem})
	return err
}

// AgentUpdateTask handles an agent's own task progress updates.
func (s *Service) AgentUpdateTask(ctx context.Context, taskID string, target models.TaskStatus, agentID string) (*models.CollectionTask, error) {
	switch target {
	case models.TaskInProgress:
		return s.dispatcher.Start(ctx, taskID, agentID)
	case models.TaskCompleted:
		return s.dispatcher.Complete(ctx, taskID, agentID, s)
	default:
		return nil, models.ErrInvalidTransition
	}
}

// DispatchSweep retries task assignment for reports sitting in their
// actionable state without an active task, e.g. after an earlier
// assignment failure or an agent roster change.
func (s *Service) DispatchSweep(ctx context.Context, reportID string) error {
	r, err := s.store.GetReport(ctx, reportID)
	if err != nil {
		return err
	}
	actionableFrom, _ := status.NextStep(r.Kind)
	if r.Status != actionableFrom {
		return models.ErrInvalidTransition
	}
	agent, err := s.dispatcher.SelectAgent(ctx)
	if err != nil {
		return err
	}
	_, err = s.dispatcher.Assign(ctx, r, agent)
	return err
}

// RewardSweep re-drives the profile side of rewards that applied on
// the report but never settled on the profile. The triggering
// transition is terminal by then and cannot be replayed, so this sweep
// is the at-least-once path for lost grants.
func (s *Service) RewardSweep(ctx context.Context) (int, error) {
	return s.rewards.Sweep(ctx)
}

// ---- Pass-through operations ----

// UpsertProfile creates or updates citizen metadata.
func (s *Service) UpsertProfile(ctx context.Context, req *models.UpdateProfileRequest) error {
	return s.store.UpsertProfile(ctx, req)
}

// GetProfile fetches a citizen profile.
func (s *Service) GetProfile(ctx context.Context, id string) (*models.Profile, error) {
	return s.store.GetProfile(ctx, id)
}

// DeleteProfile removes a citizen and their reports. Admin only.
func (s *Service) DeleteProfile(ctx context.Context, id string, actor models.Actor) error {
	if actor.Role != models.RoleAdmin {
		return models.ErrForbidden
	}
	return s.store.DeleteProfile(ctx, id)
}

// GetReport fetches one report.
func (s *Service) GetReport(ctx context.Context, id string) (*models.Report, error) {
	return s.store.GetReport(ctx, id)
}

// ListReportsByOwner returns a citizen's reports.
func (s *Service) ListReportsByOwner(ctx context.Context, ownerID string) ([]models.Report, error) {
	return s.store.ListReportsByOwner(ctx, ownerID)
}

// RegisterAgent enrolls a field worker. Admin only.
func (s *Service) RegisterAgent(ctx context.Context, req *models.RegisterAgentRequest, actor models.Actor) (*models.PickupAgent, error) {
	if actor.Role != models.RoleAdmin {
		return nil, models.ErrForbidden
	}
	a := &models.PickupAgent{
		ID:             uuid.New().String(),
		Name:           req.Name,
		Phone:          req.Phone,
		CredentialHash: req.CredentialHash,
		Active:         true,
	}
	if err := s.store.RegisterAgent(ctx, a); err != nil {
		return nil, err
	}
	return a, nil
}

// SetAgentActive flips an agent's roster flag. Admin only.
func (s *Service) SetAgentActive(ctx context.Context, id string, active bool, actor models.Actor) error {
	if actor.Role != models.RoleAdmin {
		return models.ErrForbidden
	}
	return s.store.SetAgentActive(ctx, id, active)
}

// ListTasksByAgent returns an agent's task queue.
func (s *Service) ListTasksByAgent(ctx context.Context, agentID string) ([]models.CollectionTask, error) {
	return s.store.ListTasksByAgent(ctx, agentID)
}
