// Package dispatch assigns collection tasks to pickup agents and keeps
// tasks consistent with their parent reports when admins intervene.
package dispatch

import (
	"context"
	"errors"
	"time"

	"ecotrack/models"
	"ecotrack/status"

	"github.com/apex/log"
	"github.com/google/uuid"
)

// Points an agent earns per completed collection.
const completionPoints = 10

// Store is the slice of the ledger the engine needs.
type Store interface {
	PickAgent(ctx context.Context) (*models.PickupAgent, error)
	CreateTask(ctx context.Context, t *models.CollectionTask) error
	GetTask(ctx context.Context, id string) (*models.CollectionTask, error)
	GetActiveTaskByReport(ctx context.Context, reportID string) (*models.CollectionTask, error)
	UpdateTaskStatus(ctx context.Context, taskID string, from, to models.TaskStatus) error
	BumpAgentCompletion(ctx context.Context, agentID string, points int) error
}

// Notifier receives fire-and-forget assignment events.
type Notifier interface {
	TaskAssigned(taskID, reportID, agentID string)
}

// Promoter advances a parent report one status step on behalf of the
// engine. It is the service's transition entry point, re-validated
// against fresh state, so a lost race surfaces as ErrConflict here.
type Promoter interface {
	SystemTransition(ctx context.Context, reportID, target string) error
}

// Engine owns task lifecycle and report/task cascades.
type Engine struct {
	store    Store
	notifier Notifier
}

// NewEngine creates a dispatch engine. notifier may be nil.
func NewEngine(store Store, notifier Notifier) *Engine {
	return &Engine{store: store, notifier: notifier}
}

// SelectAgent picks the least-recently-assigned active agent. Callers
// run this before committing an actionable transition so that
// ErrNoAgentAvailable leaves the report in its pre-actionable status.
func (e *Engine) SelectAgent(ctx context.Context) (*models.PickupAgent, error) {
	return e.store.PickAgent(ctx)
}

// Assign creates the collection task binding report and agent. The
// active-task unique index absorbs a replayed assignment: a second
// active task for the same report fails, which Assign reports as
// already-assigned rather than an error.
func (e *Engine) Assign(ctx context.Context, r *models.Report, agent *models.PickupAgent) (*models.CollectionTask, error) {
	if existing, err := e.store.GetActiveTaskByReport(ctx, r.ID); err == nil {
		log.Infof("Report %s already has active task %s, skipping assignment", r.ID, existing.ID)
		return existing, nil
	} else if !errors.Is(err, models.ErrNotFound) {
		return nil, err
	}

	task := &models.CollectionTask{
		ID:         uuid.New().String(),
		AgentID:    agent.ID,
		ReportID:   r.ID,
		ReportKind: r.Kind,
		Status:     models.TaskAssigned,
		AssignedAt: time.Now(),
	}
	if err := e.store.CreateTask(ctx, task); err != nil {
		return nil, err
	}

	log.Infof("Assigned task %s for report %s to agent %s", task.ID, r.ID, agent.ID)
	if e.notifier != nil {
		e.notifier.TaskAssigned(task.ID, r.ID, agent.ID)
	}
	return task, nil
}

// Start is the agent's assigned→in_progress self-service update.
func (e *Engine) Start(ctx context.Context, taskID, agentID string) (*models.CollectionTask, error) {
	task, err := e.ownedTask(ctx, taskID, agentID)
	if err != nil {
		return nil, err
	}
	if task.Status != models.TaskAssigned {
		return nil, models.ErrInvalidTransition
	}
	if err := e.store.UpdateTaskStatus(ctx, taskID, models.TaskAssigned, models.TaskInProgress); err != nil {
		return nil, err
	}
	task.Status = models.TaskInProgress
	return task, nil
}

// Complete is the agent's in_progress→completed update. On success the
// engine bumps the agent's counters and auto-promotes the parent
// report one step toward its reward edge (waste: collected, dirty
// area: waiting). The promotion runs under the usual optimistic check;
// if an admin force-advanced the report first, the promotion loses
// cleanly and the task stays completed.
func (e *Engine) Complete(ctx context.Context, taskID, agentID string, promoter Promoter) (*models.CollectionTask, error) {
	task, err := e.ownedTask(ctx, taskID, agentID)
	if err != nil {
		return nil, err
	}
	if task.Status != models.TaskInProgress {
		return nil, models.ErrInvalidTransition
	}
	if err := e.store.UpdateTaskStatus(ctx, taskID, models.TaskInProgress, models.TaskCompleted); err != nil {
		return nil, err
	}
	task.Status = models.TaskCompleted

	if err := e.store.BumpAgentCompletion(ctx, agentID, completionPoints); err != nil {
		log.Errorf("Failed to bump completion counters for agent %s: %v", agentID, err)
	}

	_, target := status.NextStep(task.ReportKind)
	if err := promoter.SystemTransition(ctx, task.ReportID, target); err != nil {
		// Best effort: the task completion stands either way.
		log.Warnf("Auto-promotion of report %s to %s did not apply: %v", task.ReportID, target, err)
	}
	return task, nil
}

// CancelActive cancels the active task of a report, if any. Called
// when an admin force-advances or rejects a report so no orphaned
// assignment survives. It never touches the report status and never
// triggers rewards.
func (e *Engine) CancelActive(ctx context.Context, reportID string) error {
	task, err := e.store.GetActiveTaskByReport(ctx, reportID)
	if errors.Is(err, models.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if err := e.store.UpdateTaskStatus(ctx, task.ID, task.Status, models.TaskCancelled); err != nil {
		if errors.Is(err, models.ErrConflict) {
			// The agent advanced the task in parallel; re-read and
			// cancel whatever is still active.
			return e.CancelActive(ctx, reportID)
		}
		return err
	}
	log.Infof("Cancelled task %s for report %s", task.ID, reportID)
	return nil
}

// OwnsActiveTask reports whether the agent holds the active task on
// the report. Agent-initiated report transitions require this.
func (e *Engine) OwnsActiveTask(ctx context.Context, reportID, agentID string) (bool, error) {
	task, err := e.store.GetActiveTaskByReport(ctx, reportID)
	if errors.Is(err, models.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return task.AgentID == agentID, nil
}

func (e *Engine) ownedTask(ctx context.Context, taskID, agentID string) (*models.CollectionTask, error) {
	task, err := e.store.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if task.AgentID != agentID {
		return nil, models.ErrForbidden
	}
	return task, nil
}
