package service

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"ecotrack/dispatch"
	"ecotrack/models"
	"ecotrack/reward"
	"ecotrack/status"

	"github.com/shopspring/decimal"
)

// memStore is an in-memory ledger with the same optimistic-concurrency
// semantics as the MySQL store. beforeCAS, when set, runs once right
// before the next compare-and-swap; tests use it to interleave a
// competing write.
type memStore struct {
	mu        sync.Mutex
	profiles  map[string]*models.Profile
	reports   map[string]*models.Report
	agents    map[string]*models.PickupAgent
	tasks     map[string]*models.CollectionTask
	grants    map[string]bool
	beforeCAS func()
	grantErr  error
}

func newMemStore() *memStore {
	return &memStore{
		profiles: map[string]*models.Profile{},
		reports:  map[string]*models.Report{},
		agents:   map[string]*models.PickupAgent{},
		tasks:    map[string]*models.CollectionTask{},
		grants:   map[string]bool{},
	}
}

func (m *memStore) CreateReport(_ context.Context, r *models.Report) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	clone := *r
	clone.CreatedAt = time.Now()
	m.reports[r.ID] = &clone
	return nil
}

func (m *memStore) GetReport(_ context.Context, id string) (*models.Report, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.reports[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	clone := *r
	return &clone, nil
}

func (m *memStore) CompareAndSwapStatus(_ context.Context, id string, expectedVersion int64, newStatus string) error {
	if hook := m.takeHook(); hook != nil {
		hook()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.reports[id]
	if !ok {
		return models.ErrNotFound
	}
	if r.Version != expectedVersion {
		return models.ErrConflict
	}
	r.Status = newStatus
	r.Version++
	return nil
}

func (m *memStore) takeHook() func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	hook := m.beforeCAS
	m.beforeCAS = nil
	return hook
}

func (m *memStore) ListReportsByOwner(_ context.Context, ownerID string) ([]models.Report, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []models.Report{}
	for _, r := range m.reports {
		if r.OwnerID == ownerID {
			out = append(out, *r)
		}
	}
	return out, nil
}

func (m *memStore) UpsertProfile(_ context.Context, req *models.UpdateProfileRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.profiles[req.ID]; ok {
		p.Name, p.Avatar = req.Name, req.Avatar
		return nil
	}
	m.profiles[req.ID] = &models.Profile{
		ID: req.ID, Name: req.Name, Avatar: req.Avatar,
		Level: 1, CreatedAt: time.Now(),
	}
	return nil
}

func (m *memStore) GetProfile(_ context.Context, id string) (*models.Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.profiles[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	clone := *p
	return &clone, nil
}

func (m *memStore) DeleteProfile(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.profiles[id]; !ok {
		return models.ErrNotFound
	}
	delete(m.profiles, id)
	for rid, r := range m.reports {
		if r.OwnerID == id {
			delete(m.reports, rid)
			delete(m.grants, rid)
		}
	}
	return nil
}

func (m *memStore) TouchDayStreak(_ context.Context, profileID string, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.profiles[profileID]
	if !ok {
		return models.ErrNotFound
	}
	switch {
	case p.LastReportAt == nil:
		p.DayStreak = 1
	case sameDay(*p.LastReportAt, now):
	case sameDay(*p.LastReportAt, now.AddDate(0, 0, -1)):
		p.DayStreak++
	default:
		p.DayStreak = 1
	}
	t := now
	p.LastReportAt = &t
	return nil
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

func (m *memStore) RegisterAgent(_ context.Context, a *models.PickupAgent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	clone := *a
	m.agents[a.ID] = &clone
	return nil
}

func (m *memStore) SetAgentActive(_ context.Context, id string, active bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.agents[id]
	if !ok {
		return models.ErrNotFound
	}
	a.Active = active
	return nil
}

func (m *memStore) ListTasksByAgent(_ context.Context, agentID string) ([]models.CollectionTask, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []models.CollectionTask{}
	for _, t := range m.tasks {
		if t.AgentID == agentID {
			out = append(out, *t)
		}
	}
	return out, nil
}

func (m *memStore) ApplyRewardOnce(_ context.Context, reportID string, coins int) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.reports[reportID]
	if !ok {
		return false, models.ErrNotFound
	}
	if r.CoinsEarned != 0 {
		return false, nil
	}
	r.CoinsEarned = coins
	return true, nil
}

func (m *memStore) GrantProfileReward(_ context.Context, reportID, profileID string, coins int, mass decimal.Decimal) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.grantErr != nil {
		return false, m.grantErr
	}
	if m.grants[reportID] {
		return false, nil
	}
	p, ok := m.profiles[profileID]
	if !ok {
		return false, models.ErrNotFound
	}
	m.grants[reportID] = true
	p.EcoCoins += coins
	p.TotalMassKg = p.TotalMassKg.Add(mass)
	p.TotalReports++
	if lvl := models.LevelFor(p.TotalReports); lvl > p.Level {
		p.Level = lvl
	}
	return true, nil
}

func (m *memStore) ListUnsettledRewards(_ context.Context) ([]models.Report, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []models.Report{}
	for _, r := range m.reports {
		if r.CoinsEarned > 0 && !m.grants[r.ID] {
			out = append(out, *r)
		}
	}
	return out, nil
}

func (m *memStore) PickAgent(_ context.Context) (*models.PickupAgent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	candidates := []*models.PickupAgent{}
	for _, a := range m.agents {
		if a.Active {
			candidates = append(candidates, a)
		}
	}
	if len(candidates) == 0 {
		return nil, models.ErrNoAgentAvailable
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].LastAssignedAt.Equal(candidates[j].LastAssignedAt) {
			return candidates[i].ID < candidates[j].ID
		}
		return candidates[i].LastAssignedAt.Before(candidates[j].LastAssignedAt)
	})
	clone := *candidates[0]
	return &clone, nil
}

func (m *memStore) CreateTask(_ context.Context, t *models.CollectionTask) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.tasks {
		if existing.ReportID == t.ReportID && existing.Status.Active() {
			return errors.New("duplicate active task for report")
		}
	}
	clone := *t
	m.tasks[t.ID] = &clone
	if a, ok := m.agents[t.AgentID]; ok {
		a.LastAssignedAt = time.Now()
	}
	return nil
}

func (m *memStore) GetTask(_ context.Context, id string) (*models.CollectionTask, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	clone := *t
	return &clone, nil
}

func (m *memStore) GetActiveTaskByReport(_ context.Context, reportID string) (*models.CollectionTask, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.tasks {
		if t.ReportID == reportID && t.Status.Active() {
			clone := *t
			return &clone, nil
		}
	}
	return nil, models.ErrNotFound
}

func (m *memStore) UpdateTaskStatus(_ context.Context, taskID string, from, to models.TaskStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[taskID]
	if !ok {
		return models.ErrNotFound
	}
	if t.Status != from {
		return models.ErrConflict
	}
	t.Status = to
	return nil
}

func (m *memStore) BumpAgentCompletion(_ context.Context, agentID string, points int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.agents[agentID]
	if !ok {
		return models.ErrNotFound
	}
	a.CompletedCount++
	a.Points += points
	return nil
}

// activeTaskCount is a test-side invariant check.
func (m *memStore) activeTaskCount(reportID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, t := range m.tasks {
		if t.ReportID == reportID && t.Status.Active() {
			n++
		}
	}
	return n
}

var (
	admin   = models.Actor{ID: "admin-1", Role: models.RoleAdmin}
	citizen = models.Actor{ID: "p1", Role: models.RoleCitizen}
)

func newTestService(store *memStore) (*Service, *reward.Engine, *dispatch.Engine) {
	rewards := reward.NewEngine(store, nil, 2)
	dispatcher := dispatch.NewEngine(store, nil)
	return New(store, rewards, dispatcher), rewards, dispatcher
}

func seedCitizen(t *testing.T, svc *Service, id string) {
	t.Helper()
	if err := svc.UpsertProfile(context.Background(), &models.UpdateProfileRequest{ID: id, Name: id}); err != nil {
		t.Fatalf("Failed to seed profile %s: %v", id, err)
	}
}

func seedAgent(t *testing.T, svc *Service, name string) *models.PickupAgent {
	t.Helper()
	agent, err := svc.RegisterAgent(context.Background(), &models.RegisterAgentRequest{
		Name: name, Phone: "+" + name, CredentialHash: "hash",
	}, admin)
	if err != nil {
		t.Fatalf("Failed to seed agent %s: %v", name, err)
	}
	return agent
}

func submitWaste(t *testing.T, svc *Service, owner string, category models.WasteCategory) string {
	t.Helper()
	resp, err := svc.SubmitReport(context.Background(), &models.SubmitReportRequest{
		Kind: models.KindWaste, OwnerID: owner, Category: category,
		MassKg: decimal.NewFromFloat(0.8), Latitude: 12.97, Longitude: 77.59,
	})
	if err != nil {
		t.Fatalf("Failed to submit waste report: %v", err)
	}
	if resp.Status != status.WastePending {
		t.Fatalf("New report status = %s, want pending", resp.Status)
	}
	return resp.ReportID
}

func submitDirtyArea(t *testing.T, svc *Service, owner string) string {
	t.Helper()
	resp, err := svc.SubmitReport(context.Background(), &models.SubmitReportRequest{
		Kind: models.KindDirtyArea, OwnerID: owner,
		Latitude: 12.97, Longitude: 77.59,
	})
	if err != nil {
		t.Fatalf("Failed to submit dirty-area report: %v", err)
	}
	return resp.ReportID
}

// Scenario: e-waste report travels the full task pipeline and pays out
// exactly 20 coins, once.
func TestWasteLifecycleWithTask(t *testing.T) {
	store := newMemStore()
	svc, rewards, _ := newTestService(store)
	ctx := context.Background()

	seedCitizen(t, svc, "p1")
	agent := seedAgent(t, svc, "agent1")
	reportID := submitWaste(t, svc, "p1", models.CategoryEWaste)

	// Admin starts collection; dispatch binds the task.
	resp, err := svc.RequestTransition(ctx, reportID, status.WasteInProgress, admin)
	if err != nil {
		t.Fatalf("pending->in_progress failed: %v", err)
	}
	if resp.Rewarded {
		t.Error("pending->in_progress must not reward")
	}
	task, err := store.GetActiveTaskByReport(ctx, reportID)
	if err != nil {
		t.Fatalf("Expected an active task after dispatch: %v", err)
	}
	if task.AgentID != agent.ID {
		t.Errorf("Task agent = %s, want %s", task.AgentID, agent.ID)
	}

	// Agent works the task; completion auto-promotes to collected.
	if _, err := svc.AgentUpdateTask(ctx, task.ID, models.TaskInProgress, agent.ID); err != nil {
		t.Fatalf("Task start failed: %v", err)
	}
	if _, err := svc.AgentUpdateTask(ctx, task.ID, models.TaskCompleted, agent.ID); err != nil {
		t.Fatalf("Task completion failed: %v", err)
	}
	r, _ := svc.GetReport(ctx, reportID)
	if r.Status != status.WasteCollected {
		t.Fatalf("Report status after task completion = %s, want collected", r.Status)
	}

	// Admin signs off; the reward edge fires.
	resp, err = svc.RequestTransition(ctx, reportID, status.WasteCompleted, admin)
	if err != nil {
		t.Fatalf("collected->completed failed: %v", err)
	}
	if !resp.Rewarded {
		t.Error("collected->completed must reward")
	}

	profile, _ := svc.GetProfile(ctx, "p1")
	if profile.EcoCoins != 20 {
		t.Errorf("eco_coins = %d, want 20", profile.EcoCoins)
	}
	if profile.TotalReports != 1 {
		t.Errorf("total_reports = %d, want 1", profile.TotalReports)
	}

	// Duplicate event delivery replays the cascade; nothing moves.
	r, _ = svc.GetReport(ctx, reportID)
	rewards.Grant(ctx, r)
	profile, _ = svc.GetProfile(ctx, "p1")
	if profile.EcoCoins != 20 || profile.TotalReports != 1 {
		t.Errorf("Replay changed profile: coins=%d reports=%d", profile.EcoCoins, profile.TotalReports)
	}
	r, _ = svc.GetReport(ctx, reportID)
	if r.CoinsEarned != 20 {
		t.Errorf("coins_earned = %d after replay, want 20", r.CoinsEarned)
	}
}

// Scenario: two racing writes against the same observed version yield
// one winner and one ErrConflict.
func TestConcurrentTransitionSingleWinner(t *testing.T) {
	store := newMemStore()
	svc, _, _ := newTestService(store)
	ctx := context.Background()

	seedCitizen(t, svc, "p1")
	agent := seedAgent(t, svc, "agent1")
	reportID := submitWaste(t, svc, "p1", models.CategoryDryWaste)

	if _, err := svc.RequestTransition(ctx, reportID, status.WasteInProgress, admin); err != nil {
		t.Fatalf("pending->in_progress failed: %v", err)
	}

	// Interleave: a competing collect commits between this request's
	// read and its compare-and-swap.
	agentActor := models.Actor{ID: agent.ID, Role: models.RoleAgent}
	var competitorErr error
	store.beforeCAS = func() {
		_, competitorErr = svc.RequestTransition(ctx, reportID, status.WasteCollected, agentActor)
	}

	_, err := svc.RequestTransition(ctx, reportID, status.WasteCollected, agentActor)
	if competitorErr != nil {
		t.Fatalf("Competing transition failed: %v", competitorErr)
	}
	if !errors.Is(err, models.ErrConflict) {
		t.Fatalf("Loser error = %v, want ErrConflict", err)
	}

	// The loser re-reads and re-validates against fresh state.
	if _, err := svc.RequestTransition(ctx, reportID, status.WasteCollected, agentActor); !errors.Is(err, models.ErrInvalidTransition) {
		t.Errorf("Retry against settled state = %v, want ErrInvalidTransition", err)
	}

	r, _ := svc.GetReport(ctx, reportID)
	if r.Status != status.WasteCollected {
		t.Errorf("Report status = %s, want collected", r.Status)
	}
}

// Scenario: rejecting a dirty-area report with an open task cancels
// the task and never pays out.
func TestRejectCancelsTask(t *testing.T) {
	store := newMemStore()
	svc, _, _ := newTestService(store)
	ctx := context.Background()

	seedCitizen(t, svc, "p1")
	seedAgent(t, svc, "agent1")
	reportID := submitDirtyArea(t, svc, "p1")

	if _, err := svc.RequestTransition(ctx, reportID, status.DirtyReported, admin); err != nil {
		t.Fatalf("pending->reported failed: %v", err)
	}
	if _, err := svc.RequestTransition(ctx, reportID, status.DirtyInProgress, admin); err != nil {
		t.Fatalf("reported->in_progress failed: %v", err)
	}
	task, err := store.GetActiveTaskByReport(ctx, reportID)
	if err != nil {
		t.Fatalf("Expected an active task: %v", err)
	}

	if _, err := svc.RequestTransition(ctx, reportID, status.DirtyRejected, admin); err != nil {
		t.Fatalf("Rejection failed: %v", err)
	}

	settled, _ := store.GetTask(ctx, task.ID)
	if settled.Status != models.TaskCancelled {
		t.Errorf("Task status = %s, want cancelled", settled.Status)
	}
	profile, _ := svc.GetProfile(ctx, "p1")
	if profile.EcoCoins != 0 {
		t.Errorf("eco_coins = %d after rejection, want 0", profile.EcoCoins)
	}
	r, _ := svc.GetReport(ctx, reportID)
	if r.CoinsEarned != 0 {
		t.Errorf("coins_earned = %d after rejection, want 0", r.CoinsEarned)
	}
}

// Scenario: no active agents means the actionable transition fails
// fast and the report keeps queuing in its pre-actionable status.
func TestDispatchWithEmptyRoster(t *testing.T) {
	store := newMemStore()
	svc, _, _ := newTestService(store)
	ctx := context.Background()

	seedCitizen(t, svc, "p1")
	reportID := submitWaste(t, svc, "p1", models.CategoryReusable)

	_, err := svc.RequestTransition(ctx, reportID, status.WasteInProgress, admin)
	if !errors.Is(err, models.ErrNoAgentAvailable) {
		t.Fatalf("Expected ErrNoAgentAvailable, got %v", err)
	}

	r, _ := svc.GetReport(ctx, reportID)
	if r.Status != status.WastePending {
		t.Errorf("Report status = %s, want pending (unchanged)", r.Status)
	}
	if store.activeTaskCount(reportID) != 0 {
		t.Error("No task may exist after failed dispatch")
	}

	// An agent comes online; the same transition now goes through.
	seedAgent(t, svc, "agent1")
	if _, err := svc.RequestTransition(ctx, reportID, status.WasteInProgress, admin); err != nil {
		t.Fatalf("Retry after agent heartbeat failed: %v", err)
	}
	if store.activeTaskCount(reportID) != 1 {
		t.Errorf("Active tasks = %d, want 1", store.activeTaskCount(reportID))
	}
}

// The task pipeline and the system-promoted path converge on the same
// terminal status and the same single payout.
func TestTaskPathMatchesDirectPath(t *testing.T) {
	store := newMemStore()
	svc, _, _ := newTestService(store)
	ctx := context.Background()

	seedCitizen(t, svc, "p1")
	agent := seedAgent(t, svc, "agent1")

	// Path 1: full agent pipeline.
	viaTask := submitWaste(t, svc, "p1", models.CategoryDryWaste)
	svc.RequestTransition(ctx, viaTask, status.WasteInProgress, admin)
	task, _ := store.GetActiveTaskByReport(ctx, viaTask)
	svc.AgentUpdateTask(ctx, task.ID, models.TaskInProgress, agent.ID)
	svc.AgentUpdateTask(ctx, task.ID, models.TaskCompleted, agent.ID)
	if _, err := svc.RequestTransition(ctx, viaTask, status.WasteCompleted, admin); err != nil {
		t.Fatalf("Task path completion failed: %v", err)
	}

	// Path 2: system promotion with the task still open; the terminal
	// admin completion cancels it.
	direct := submitWaste(t, svc, "p1", models.CategoryDryWaste)
	svc.RequestTransition(ctx, direct, status.WasteInProgress, admin)
	if err := svc.SystemTransition(ctx, direct, status.WasteCollected); err != nil {
		t.Fatalf("System promotion failed: %v", err)
	}
	if _, err := svc.RequestTransition(ctx, direct, status.WasteCompleted, admin); err != nil {
		t.Fatalf("Direct path completion failed: %v", err)
	}

	r1, _ := svc.GetReport(ctx, viaTask)
	r2, _ := svc.GetReport(ctx, direct)
	if r1.Status != r2.Status || r1.Status != status.WasteCompleted {
		t.Errorf("Terminal statuses diverge: %s vs %s", r1.Status, r2.Status)
	}
	if r1.CoinsEarned != r2.CoinsEarned {
		t.Errorf("Payouts diverge: %d vs %d", r1.CoinsEarned, r2.CoinsEarned)
	}
	if store.activeTaskCount(direct) != 0 {
		t.Error("Direct path left an orphaned active task")
	}

	profile, _ := svc.GetProfile(ctx, "p1")
	if profile.EcoCoins != 30 {
		t.Errorf("eco_coins = %d, want 30 (two dry-waste payouts)", profile.EcoCoins)
	}
}

// A profile-side outage that outlives the grant's retries must not
// lose the citizen's credit: the transition is terminal and cannot be
// replayed, so the reward sweep is what settles it.
func TestRewardSweepRecoversLostGrant(t *testing.T) {
	store := newMemStore()
	svc, _, _ := newTestService(store)
	ctx := context.Background()

	seedCitizen(t, svc, "p1")
	seedAgent(t, svc, "agent1")
	reportID := submitWaste(t, svc, "p1", models.CategoryEWaste)

	if _, err := svc.RequestTransition(ctx, reportID, status.WasteInProgress, admin); err != nil {
		t.Fatalf("pending->in_progress failed: %v", err)
	}
	if err := svc.SystemTransition(ctx, reportID, status.WasteCollected); err != nil {
		t.Fatalf("Promotion failed: %v", err)
	}

	// The profile store is down for the whole completion, outlasting
	// the in-process retries.
	store.grantErr = errors.New("profile store outage")
	if _, err := svc.RequestTransition(ctx, reportID, status.WasteCompleted, admin); err != nil {
		t.Fatalf("collected->completed failed: %v", err)
	}

	r, _ := svc.GetReport(ctx, reportID)
	if r.CoinsEarned != 20 {
		t.Fatalf("coins_earned = %d, want 20", r.CoinsEarned)
	}
	profile, _ := svc.GetProfile(ctx, "p1")
	if profile.EcoCoins != 0 || profile.TotalReports != 0 {
		t.Fatalf("Profile credited during outage: coins=%d reports=%d", profile.EcoCoins, profile.TotalReports)
	}

	// The transition itself cannot be replayed once terminal.
	if _, err := svc.RequestTransition(ctx, reportID, status.WasteCompleted, admin); !errors.Is(err, models.ErrInvalidTransition) {
		t.Fatalf("Terminal replay = %v, want ErrInvalidTransition", err)
	}

	// Outage over: the sweep settles the credit.
	store.grantErr = nil
	swept, err := svc.RewardSweep(ctx)
	if err != nil {
		t.Fatalf("RewardSweep failed: %v", err)
	}
	if swept != 1 {
		t.Errorf("RewardSweep re-drove %d reports, want 1", swept)
	}
	profile, _ = svc.GetProfile(ctx, "p1")
	if profile.EcoCoins != 20 {
		t.Errorf("eco_coins = %d after sweep, want 20", profile.EcoCoins)
	}
	if profile.TotalReports != 1 {
		t.Errorf("total_reports = %d after sweep, want 1", profile.TotalReports)
	}

	// And it stays settled: another sweep finds nothing.
	if swept, err = svc.RewardSweep(ctx); err != nil || swept != 0 {
		t.Errorf("Second sweep = (%d, %v), want (0, nil)", swept, err)
	}
}

// Level is a non-decreasing function of settled total_reports.
func TestLevelProgression(t *testing.T) {
	store := newMemStore()
	svc, _, _ := newTestService(store)
	ctx := context.Background()

	seedCitizen(t, svc, "p1")
	seedAgent(t, svc, "agent1")

	prevLevel := 1
	for i := 0; i < 12; i++ {
		reportID := submitWaste(t, svc, "p1", models.CategoryDryWaste)
		if _, err := svc.RequestTransition(ctx, reportID, status.WasteInProgress, admin); err != nil {
			t.Fatalf("Dispatch %d failed: %v", i, err)
		}
		if err := svc.SystemTransition(ctx, reportID, status.WasteCollected); err != nil {
			t.Fatalf("Promotion %d failed: %v", i, err)
		}
		if _, err := svc.RequestTransition(ctx, reportID, status.WasteCompleted, admin); err != nil {
			t.Fatalf("Completion %d failed: %v", i, err)
		}

		profile, _ := svc.GetProfile(ctx, "p1")
		if profile.Level < prevLevel {
			t.Fatalf("Level decreased from %d to %d", prevLevel, profile.Level)
		}
		if want := models.LevelFor(profile.TotalReports); profile.Level != want {
			t.Errorf("After %d reports level = %d, want %d", profile.TotalReports, profile.Level, want)
		}
		prevLevel = profile.Level
	}

	profile, _ := svc.GetProfile(ctx, "p1")
	if profile.TotalReports != 12 || profile.Level != 2 {
		t.Errorf("Final state reports=%d level=%d, want 12/2", profile.TotalReports, profile.Level)
	}
}

func TestAgentNeedsOwnActiveTask(t *testing.T) {
	store := newMemStore()
	svc, _, _ := newTestService(store)
	ctx := context.Background()

	seedCitizen(t, svc, "p1")
	seedAgent(t, svc, "agent1")
	other := seedAgent(t, svc, "agent2")
	reportID := submitWaste(t, svc, "p1", models.CategoryDryWaste)

	svc.RequestTransition(ctx, reportID, status.WasteInProgress, admin)

	// The task went to agent1; agent2 may not collect the report.
	otherActor := models.Actor{ID: other.ID, Role: models.RoleAgent}
	if _, err := svc.RequestTransition(ctx, reportID, status.WasteCollected, otherActor); !errors.Is(err, models.ErrForbidden) {
		t.Errorf("Foreign agent collect = %v, want ErrForbidden", err)
	}
}

func TestSubmitValidation(t *testing.T) {
	store := newMemStore()
	svc, _, _ := newTestService(store)
	ctx := context.Background()

	// Unknown owner.
	_, err := svc.SubmitReport(ctx, &models.SubmitReportRequest{
		Kind: models.KindWaste, OwnerID: "ghost",
	})
	if !errors.Is(err, models.ErrNotFound) {
		t.Errorf("Submit for unknown owner = %v, want ErrNotFound", err)
	}

	// Unknown report id on transition.
	seedCitizen(t, svc, "p1")
	if _, err := svc.RequestTransition(ctx, "ghost", status.WasteInProgress, admin); !errors.Is(err, models.ErrNotFound) {
		t.Errorf("Transition on unknown report = %v, want ErrNotFound", err)
	}
}

func TestDayStreak(t *testing.T) {
	store := newMemStore()
	svc, _, _ := newTestService(store)
	ctx := context.Background()

	seedCitizen(t, svc, "p1")
	submitWaste(t, svc, "p1", models.CategoryDryWaste)

	profile, _ := svc.GetProfile(ctx, "p1")
	if profile.DayStreak != 1 {
		t.Errorf("day_streak = %d after first report, want 1", profile.DayStreak)
	}

	// Second report the same day leaves the streak alone.
	submitWaste(t, svc, "p1", models.CategoryDryWaste)
	profile, _ = svc.GetProfile(ctx, "p1")
	if profile.DayStreak != 1 {
		t.Errorf("day_streak = %d after same-day report, want 1", profile.DayStreak)
	}

	// A report dated yesterday followed by one today extends it.
	yesterday := time.Now().AddDate(0, 0, -1)
	store.mu.Lock()
	store.profiles["p1"].LastReportAt = &yesterday
	store.mu.Unlock()
	submitWaste(t, svc, "p1", models.CategoryDryWaste)
	profile, _ = svc.GetProfile(ctx, "p1")
	if profile.DayStreak != 2 {
		t.Errorf("day_streak = %d after consecutive days, want 2", profile.DayStreak)
	}
}

func TestDeleteProfileCascades(t *testing.T) {
	store := newMemStore()
	svc, _, _ := newTestService(store)
	ctx := context.Background()

	seedCitizen(t, svc, "p1")
	reportID := submitWaste(t, svc, "p1", models.CategoryDryWaste)

	if err := svc.DeleteProfile(ctx, "p1", citizen); !errors.Is(err, models.ErrForbidden) {
		t.Errorf("Citizen delete = %v, want ErrForbidden", err)
	}
	if err := svc.DeleteProfile(ctx, "p1", admin); err != nil {
		t.Fatalf("Admin delete failed: %v", err)
	}
	if _, err := svc.GetReport(ctx, reportID); !errors.Is(err, models.ErrNotFound) {
		t.Errorf("Owned report survived deletion: %v", err)
	}
}
