package rabbitmq

import (
	"time"

	"github.com/apex/log"
)

// Routing keys for lifecycle events.
const (
	RoutingKeyRewardGranted = "reward.granted"
	RoutingKeyTaskAssigned  = "task.assigned"
)

// Notifier publishes fire-and-forget lifecycle events. A failed
// publish is a downstream outage: it is logged and swallowed, never
// surfaced to the transition that produced the event.
type Notifier struct {
	publisher *Publisher
}

// NewNotifier wraps a publisher.
func NewNotifier(publisher *Publisher) *Notifier {
	return &Notifier{publisher: publisher}
}

// RewardGrantedEvent is the payload for reward.granted.
type RewardGrantedEvent struct {
	ReportID  string    `json:"report_id"`
	ProfileID string    `json:"profile_id"`
	Coins     int       `json:"coins"`
	GrantedAt time.Time `json:"granted_at"`
}

// TaskAssignedEvent is the payload for task.assigned.
type TaskAssignedEvent struct {
	TaskID     string    `json:"task_id"`
	ReportID   string    `json:"report_id"`
	AgentID    string    `json:"agent_id"`
	AssignedAt time.Time `json:"assigned_at"`
}

// RewardGranted publishes a reward event.
func (n *Notifier) RewardGranted(reportID, profileID string, coins int) {
	event := RewardGrantedEvent{
		ReportID:  reportID,
		ProfileID: profileID,
		Coins:     coins,
		GrantedAt: time.Now(),
	}
	if err := n.publisher.Publish(RoutingKeyRewardGranted, event); err != nil {
		log.Warnf("Downstream unavailable, dropping reward notification for report %s: %v", reportID, err)
	}
}

// TaskAssigned publishes an assignment event.
func (n *Notifier) TaskAssigned(taskID, reportID, agentID string) {
	event := TaskAssignedEvent{
		TaskID:     taskID,
		ReportID:   reportID,
		AgentID:    agentID,
		AssignedAt: time.Now(),
	}
	if err := n.publisher.Publish(RoutingKeyTaskAssigned, event); err != nil {
		log.Warnf("Downstream unavailable, dropping assignment notification for task %s: %v", taskID, err)
	}
}
