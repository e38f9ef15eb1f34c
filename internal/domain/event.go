package domain

import (
	"encoding/json"
	"time"
)

// EventID is a unique identifier for an event.
type EventID string

// String returns the string representation of the EventID.
func (id EventID) String() string {
	return string(id)
}

// EventKind identifies what an event reports.
type EventKind string

const (
	EventJobStateChanged       EventKind = "job.state_changed"
	EventProgressUpdated       EventKind = "job.progress"
	EventAuthStateChanged      EventKind = "auth.state_changed"
	EventGroupAggregateChanged EventKind = "group.aggregate_changed"
	EventGroupCompleted        EventKind = "group.completed"
	EventExpansionCompleted    EventKind = "expansion.completed"
	EventSystemFatal           EventKind = "system.fatal"
	EventSystemWarning         EventKind = "system.warning"
)

// EventSeverity represents the severity level of an event.
type EventSeverity string

const (
	EventSeverityInfo    EventSeverity = "info"
	EventSeverityWarning EventSeverity = "warning"
	EventSeverityError   EventSeverity = "error"
	EventSeveritySuccess EventSeverity = "success"
)

// Event is what the presentation layer receives.
type Event struct {
	ID        EventID         `json:"id"`
	Kind      EventKind       `json:"kind"`
	Timestamp time.Time       `json:"timestamp"`
	Severity  EventSeverity   `json:"severity"`
	Message   string          `json:"message,omitempty"`
	JobID     JobID           `json:"job_id,omitempty"`
	GroupID   GroupID         `json:"group_id,omitempty"`
	Job       *Job            `json:"job,omitempty"`
	Progress  *ProgressEvent  `json:"progress,omitempty"`
	Group     *Group          `json:"group,omitempty"`
	Auth      *AuthStatus     `json:"auth,omitempty"`
	Metadata  json.RawMessage `json:"metadata,omitempty"`
}

// Droppable reports whether the event may be coalesced away under
// backpressure. Only non-terminal progress samples qualify.
func (e Event) Droppable() bool {
	return e.Kind == EventProgressUpdated && (e.Progress == nil || !e.Progress.IsTerminal())
}

// EventMetadata is a helper type for building event metadata.
type EventMetadata map[string]interface{}

// ToJSON converts metadata to JSON for storage.
func (m EventMetadata) ToJSON() json.RawMessage {
	if m == nil {
		return nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil
	}
	return data
}

// EventFilter specifies criteria for querying events.
type EventFilter struct {
	Kind      *EventKind     `json:"kind,omitempty"`
	Severity  *EventSeverity `json:"severity,omitempty"`
	JobID     JobID          `json:"job_id,omitempty"`
	GroupID   GroupID        `json:"group_id,omitempty"`
	StartTime *time.Time     `json:"start_time,omitempty"`
	EndTime   *time.Time     `json:"end_time,omitempty"`
}

// EventQuery represents a query for events with pagination.
type EventQuery struct {
	Filter EventFilter `json:"filter"`
	Limit  int         `json:"limit"`
	Offset int         `json:"offset"`
}

// EventQueryResult contains the result of an event query.
type EventQueryResult struct {
	Events  []Event `json:"events"`
	Total   int     `json:"total"`
	HasMore bool    `json:"has_more"`
}

// EventPublisher is implemented by the event bus.
type EventPublisher interface {
	Publish(event Event)
}
