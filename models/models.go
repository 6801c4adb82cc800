package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// ActorRole identifies which of the three client populations (plus the
// service itself) is asking for a transition.
type ActorRole string

const (
	RoleCitizen ActorRole = "citizen"
	RoleAdmin   ActorRole = "admin"
	RoleAgent   ActorRole = "agent"
	// RoleSystem is used for cascades the service runs on its own
	// behalf (task auto-promotion, dispatch). It never arrives over
	// the wire.
	RoleSystem ActorRole = "system"
)

// Actor is the explicit identity+role pair passed into every core
// call. There is no ambient session state.
type Actor struct {
	ID   string    `json:"id"`
	Role ActorRole `json:"role"`
}

// ReportKind tags the two report variants. The status vocabularies are
// deliberately separate enums, see status package.
type ReportKind string

const (
	KindWaste     ReportKind = "waste"
	KindDirtyArea ReportKind = "dirty_area"
)

// WasteCategory is the citizen-declared category of a waste report.
type WasteCategory string

const (
	CategoryDryWaste  WasteCategory = "dry_waste"
	CategoryEWaste    WasteCategory = "e_waste"
	CategoryReusable  WasteCategory = "reusable"
	CategoryHazardous WasteCategory = "hazardous"
)

// Profile is one citizen account. Coin and level fields are mutated
// only by the reward engine.
type Profile struct {
	ID           string          `json:"id"`
	Name         string          `json:"name"`
	Avatar       string          `json:"avatar"`
	EcoCoins     int             `json:"eco_coins"`
	TotalMassKg  decimal.Decimal `json:"total_mass_kg"`
	DayStreak    int             `json:"day_streak"`
	Level        int             `json:"level"`
	TotalReports int             `json:"total_reports"`
	LastReportAt *time.Time      `json:"last_report_at,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// Report is the stored form of both report kinds. Kind decides which
// status graph applies; Category and AICategory are only meaningful
// for waste reports.
type Report struct {
	ID          string        `json:"id"`
	Kind        ReportKind    `json:"kind"`
	OwnerID     string        `json:"owner_id"`
	Category    WasteCategory `json:"category,omitempty"`
	AICategory  string        `json:"ai_category,omitempty"` // advisory only
	Status      string        `json:"status"`
	Version     int64         `json:"version"`
	CoinsEarned int           `json:"coins_earned"`
	MassKg      decimal.Decimal `json:"mass_kg"`
	Latitude    float64       `json:"latitude"`
	Longitude   float64       `json:"longitude"`
	S2Cell      uint64        `json:"s2_cell"`
	ImageRef    string        `json:"image_ref,omitempty"`
	Note        string        `json:"note,omitempty"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
}

// PickupAgent is a field worker. Distinct identity space from Profile,
// keyed by phone number for login.
type PickupAgent struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	Phone          string    `json:"phone"`
	CredentialHash string    `json:"-"`
	Active         bool      `json:"active"`
	CompletedCount int       `json:"completed_count"`
	Points         int       `json:"points"`
	LastAssignedAt time.Time `json:"last_assigned_at"`
	CreatedAt      time.Time `json:"created_at"`
}

// TaskStatus is the collection task lifecycle.
type TaskStatus string

const (
	TaskAssigned   TaskStatus = "assigned"
	TaskInProgress TaskStatus = "in_progress"
	TaskCompleted  TaskStatus = "completed"
	TaskCancelled  TaskStatus = "cancelled"
)

// Active reports whether the task still binds its report to an agent.
func (s TaskStatus) Active() bool {
	return s == TaskAssigned || s == TaskInProgress
}

// CollectionTask binds one actionable report to one agent. At most one
// active task exists per report at any time.
type CollectionTask struct {
	ID          string     `json:"id"`
	AgentID     string     `json:"agent_id"`
	ReportID    string     `json:"report_id"`
	ReportKind  ReportKind `json:"report_kind"`
	Status      TaskStatus `json:"status"`
	AssignedAt  time.Time  `json:"assigned_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// SubmitReportRequest is the inbound payload for both report kinds.
// The image is already uploaded upstream; only the object reference
// arrives here.
type SubmitReportRequest struct {
	Kind       ReportKind    `json:"kind" binding:"required,oneof=waste dirty_area"`
	OwnerID    string        `json:"owner_id" binding:"required"`
	Category   WasteCategory `json:"category,omitempty"`
	AICategory string        `json:"ai_category,omitempty"`
	MassKg     decimal.Decimal `json:"mass_kg,omitempty"`
	Latitude   float64       `json:"latitude"`
	Longitude  float64       `json:"longitude"`
	ImageRef   string        `json:"image_ref,omitempty"`
	Note       string        `json:"note,omitempty"`
}

// SubmitReportResponse returns the generated report id.
type SubmitReportResponse struct {
	ReportID string `json:"report_id"`
	Status   string `json:"status"`
}

// TransitionRequest asks for one status edge on a report.
type TransitionRequest struct {
	TargetStatus string `json:"target_status" binding:"required"`
	Note         string `json:"note,omitempty"`
}

// TransitionResponse reports the committed status.
type TransitionResponse struct {
	ReportID string `json:"report_id"`
	Status   string `json:"status"`
	Rewarded bool   `json:"rewarded"`
}

// TaskUpdateRequest is an agent's own progress update on a task.
type TaskUpdateRequest struct {
	TargetStatus TaskStatus `json:"target_status" binding:"required,oneof=in_progress completed"`
}

// UpdateProfileRequest creates or updates citizen profile metadata.
type UpdateProfileRequest struct {
	ID     string `json:"id" binding:"required"`
	Name   string `json:"name"`
	Avatar string `json:"avatar"`
}

// RegisterAgentRequest enrolls a field worker.
type RegisterAgentRequest struct {
	Name           string `json:"name" binding:"required"`
	Phone          string `json:"phone" binding:"required"`
	CredentialHash string `json:"credential_hash" binding:"required"`
}

// LeaderboardEntry is one row of the ranked projection.
type LeaderboardEntry struct {
	Rank         int    `json:"rank"`
	ProfileID    string `json:"profile_id"`
	Name         string `json:"name"`
	Avatar       string `json:"avatar"`
	EcoCoins     int    `json:"eco_coins"`
	Level        int    `json:"level"`
	TotalReports int    `json:"total_reports"`
	IsYou        bool   `json:"is_you,omitempty"`
}

// LeaderboardResponse is the cached ranked snapshot plus its age.
type LeaderboardResponse struct {
	Entries     []LeaderboardEntry `json:"entries"`
	RefreshedAt time.Time          `json:"refreshed_at"`
}

// LevelFor computes the citizen level from the cumulative report
// count. Levels start at 1 and gain one step per ten reports.
func LevelFor(totalReports int) int {
	return totalReports/10 + 1
}
