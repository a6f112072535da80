// Package audit provides audit logging for reconciler and generator
// actions: the operator-triggered provision-state changes (Deploy,
// Undeploy, Rebuild) and every configuration publication are recorded here
// for later review (spec §9 "Operational stance"). BMC and Inventory writes
// made by the reconciler sweeps are not recorded. Grounded on the teacher's pkg/audit, generalized from
// CLI-command change events to reconcile/generate-level events.
package audit

import (
	"fmt"
	"time"
)

// Event represents one auditable action taken by the core.
type Event struct {
	ID        string            `json:"id"`
	Timestamp time.Time         `json:"timestamp"`
	Actor     string            `json:"actor"` // "reconciler" | "generator" | operator name
	Device    string            `json:"device"`
	Operation string            `json:"operation"` // "node.create", "node.update", "provision_state.set", "config.publish", ...
	Changes   map[string]string `json:"changes,omitempty"`
	Success   bool              `json:"success"`
	Error     string            `json:"error,omitempty"`
	DryRun    bool              `json:"dry_run"`
	Duration  time.Duration     `json:"duration"`
}

// EventType categorizes audit events.
type EventType string

const (
	EventTypeCreate  EventType = "create"
	EventTypeUpdate  EventType = "update"
	EventTypeDelete  EventType = "delete"
	EventTypeLock    EventType = "lock"
	EventTypeUnlock  EventType = "unlock"
	EventTypePublish EventType = "publish"
)

// Severity indicates the importance of an audit event.
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// Filter defines criteria for querying audit events.
type Filter struct {
	Device      string
	Actor       string
	Operation   string
	StartTime   time.Time
	EndTime     time.Time
	SuccessOnly bool
	FailureOnly bool
	Limit       int
	Offset      int
}

// NewEvent creates a new audit event.
func NewEvent(actor, device, operation string) *Event {
	return &Event{
		ID:        generateID(),
		Timestamp: time.Now(),
		Actor:     actor,
		Device:    device,
		Operation: operation,
	}
}

// WithChanges attaches a flattened field -> new-value diff.
func (e *Event) WithChanges(changes map[string]string) *Event {
	e.Changes = changes
	return e
}

// WithSuccess marks the event as successful.
func (e *Event) WithSuccess() *Event {
	e.Success = true
	return e
}

// WithError marks the event as failed.
func (e *Event) WithError(err error) *Event {
	e.Success = false
	if err != nil {
		e.Error = err.Error()
	}
	return e
}

// WithDuration sets the operation duration.
func (e *Event) WithDuration(d time.Duration) *Event {
	e.Duration = d
	return e
}

// WithDryRun marks whether this event was a preview only.
func (e *Event) WithDryRun(dryRun bool) *Event {
	e.DryRun = dryRun
	return e
}

func generateID() string {
	return fmt.Sprintf("%d", time.Now().UnixNano())
}
