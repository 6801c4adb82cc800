// Package status encodes the legal transition graphs for the two
// report kinds. Everything here is pure: no storage, no clocks.
package status

import (
	"ecotrack/models"
)

// Waste report statuses.
const (
	WastePending    = "pending"
	WasteInProgress = "in_progress"
	WasteCollected  = "collected"
	WasteCompleted  = "completed"
	WasteRejected   = "rejected"
)

// Dirty-area report statuses. The extra reported/waiting steps model
// the moderation-then-dispatch-then-verify pipeline.
const (
	DirtyPending    = "pending"
	DirtyReported   = "reported"
	DirtyInProgress = "in_progress"
	DirtyWaiting    = "waiting"
	DirtyCleaned    = "cleaned"
	DirtyCompleted  = "completed"
	DirtyRejected   = "rejected"
)

// Edge describes one legal transition and what it triggers.
type Edge struct {
	From string
	To   string

	// Roles allowed to request this edge.
	Roles []models.ActorRole

	// TriggersReward marks the unique reward-granting edge of the
	// kind. It fires once per report; replays are absorbed by the
	// store's apply-once write.
	TriggersReward bool

	// Actionable marks the edge that makes field collection
	// meaningful; dispatch creates a task when it commits.
	Actionable bool

	// RequiresTask marks edges an agent may only take while owning an
	// active collection task on the report.
	RequiresTask bool
}

// InitialStatus returns the status a freshly submitted report starts in.
func InitialStatus(kind models.ReportKind) string {
	return WastePending // both graphs start at "pending"
}

// Terminal reports whether the status has no outgoing edges.
func Terminal(kind models.ReportKind, status string) bool {
	switch kind {
	case models.KindWaste:
		return status == WasteCompleted || status == WasteRejected
	case models.KindDirtyArea:
		return status == DirtyCompleted || status == DirtyRejected
	}
	return true
}

var wasteEdges = []Edge{
	{From: WastePending, To: WasteInProgress,
		Roles: []models.ActorRole{models.RoleAdmin, models.RoleSystem}, Actionable: true},
	{From: WasteInProgress, To: WasteCollected,
		Roles: []models.ActorRole{models.RoleAgent, models.RoleSystem}, RequiresTask: true},
	{From: WasteCollected, To: WasteCompleted,
		Roles: []models.ActorRole{models.RoleAdmin, models.RoleSystem}, TriggersReward: true},
	{From: WastePending, To: WasteRejected, Roles: []models.ActorRole{models.RoleAdmin}},
	{From: WasteInProgress, To: WasteRejected, Roles: []models.ActorRole{models.RoleAdmin}},
	{From: WasteCollected, To: WasteRejected, Roles: []models.ActorRole{models.RoleAdmin}},
}

var dirtyAreaEdges = []Edge{
	{From: DirtyPending, To: DirtyReported, Roles: []models.ActorRole{models.RoleAdmin}},
	{From: DirtyReported, To: DirtyInProgress,
		Roles: []models.ActorRole{models.RoleAdmin, models.RoleSystem}, Actionable: true},
	{From: DirtyInProgress, To: DirtyWaiting,
		Roles: []models.ActorRole{models.RoleAgent, models.RoleSystem}, RequiresTask: true},
	{From: DirtyWaiting, To: DirtyCleaned, Roles: []models.ActorRole{models.RoleAdmin}},
	{From: DirtyCleaned, To: DirtyCompleted,
		Roles: []models.ActorRole{models.RoleAdmin, models.RoleSystem}, TriggersReward: true},
	{From: DirtyPending, To: DirtyRejected, Roles: []models.ActorRole{models.RoleAdmin}},
	{From: DirtyReported, To: DirtyRejected, Roles: []models.ActorRole{models.RoleAdmin}},
	{From: DirtyInProgress, To: DirtyRejected, Roles: []models.ActorRole{models.RoleAdmin}},
	{From: DirtyWaiting, To: DirtyRejected, Roles: []models.ActorRole{models.RoleAdmin}},
	{From: DirtyCleaned, To: DirtyRejected, Roles: []models.ActorRole{models.RoleAdmin}},
}

func edgesFor(kind models.ReportKind) []Edge {
	if kind == models.KindDirtyArea {
		return dirtyAreaEdges
	}
	return wasteEdges
}

// NextStep returns the one-step auto-promotion target used when a
// collection task completes: the edge out of the report's actionable
// state toward its reward edge.
func NextStep(kind models.ReportKind) (from, to string) {
	if kind == models.KindDirtyArea {
		return DirtyInProgress, DirtyWaiting
	}
	return WasteInProgress, WasteCollected
}

// Validate checks that (from, to) is a declared edge of the kind's
// graph and that the role may take it. It returns the edge so callers
// can react to its flags.
func Validate(kind models.ReportKind, from, to string, role models.ActorRole) (Edge, error) {
	edges := edgesFor(kind)
	var found *Edge
	for i := range edges {
		if edges[i].From == from && edges[i].To == to {
			found = &edges[i]
			break
		}
	}
	if found == nil {
		return Edge{}, models.ErrInvalidTransition
	}
	for _, r := range found.Roles {
		if r == role {
			return *found, nil
		}
	}
	return Edge{}, models.ErrForbidden
}

// Known reports whether status is a member of the kind's vocabulary.
func Known(kind models.ReportKind, s string) bool {
	if Terminal(kind, s) || s == WastePending {
		return true
	}
	for _, e := range edgesFor(kind) {
		if e.From == s || e.To == s {
			return true
		}
	}
	return false
}
