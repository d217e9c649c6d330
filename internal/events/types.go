package events

import "time"

// EventType represents different types of events in the system
type EventType string

const (
	EventTypeTaskStarted  EventType = "task.started"
	EventTypeStateChanged EventType = "task.state_changed"
	EventTypeAction       EventType = "task.action"
	EventTypeRecovery     EventType = "task.recovery"
	EventTypeTaskFinished EventType = "task.finished"
	EventTypeTaskFailed   EventType = "task.failed"
)

// TaskEventTypes lists every event a task run publishes.
var TaskEventTypes = []EventType{
	EventTypeTaskStarted,
	EventTypeStateChanged,
	EventTypeAction,
	EventTypeRecovery,
	EventTypeTaskFinished,
	EventTypeTaskFailed,
}

// Event represents a system event with metadata
type Event struct {
	Type      EventType              // Type of event
	Source    string                 // Task that emitted the event
	Timestamp time.Time              // When the event occurred
	Data      map[string]interface{} // Event-specific data
}

// EventHandler is a function that processes an event
type EventHandler func(Event)

// SubscriptionID uniquely identifies a subscription
type SubscriptionID int64

// EventBus defines the interface for event pub/sub
type EventBus interface {
	// Subscribe registers a handler for a specific event type
	Subscribe(eventType EventType, handler EventHandler) SubscriptionID

	// Unsubscribe removes a subscription by ID
	Unsubscribe(id SubscriptionID)

	// Publish queues an event for its subscribers, blocking while the
	// queue is full
	Publish(event Event)

	// Stop stops the event bus and drains remaining events
	Stop()
}

// Helper functions to create common events

// NewTaskStartedEvent creates a task started event
func NewTaskStartedEvent(at time.Time, task, state string) Event {
	return Event{
		Type:      EventTypeTaskStarted,
		Source:    task,
		Timestamp: at,
		Data: map[string]interface{}{
			"state": state,
		},
	}
}

// NewStateChangedEvent creates a state transition event
func NewStateChangedEvent(at time.Time, task, from, to, template string, rounds int) Event {
	return Event{
		Type:      EventTypeStateChanged,
		Source:    task,
		Timestamp: at,
		Data: map[string]interface{}{
			"from":     from,
			"to":       to,
			"template": template,
			"rounds":   rounds,
		},
	}
}

// NewActionEvent creates an event for one issued input or wait. template is
// empty for recovery actions.
func NewActionEvent(at time.Time, task, state, template, action string, cycle int) Event {
	data := map[string]interface{}{
		"state":  state,
		"action": action,
		"cycle":  cycle,
	}
	if template != "" {
		data["template"] = template
	}
	return Event{
		Type:      EventTypeAction,
		Source:    task,
		Timestamp: at,
		Data:      data,
	}
}

// NewRecoveryEvent creates an event for a recovery attempt
func NewRecoveryEvent(at time.Time, task, state string, attempt, unmatched int) Event {
	return Event{
		Type:      EventTypeRecovery,
		Source:    task,
		Timestamp: at,
		Data: map[string]interface{}{
			"state":     state,
			"attempt":   attempt,
			"unmatched": unmatched,
		},
	}
}

// NewTaskFinishedEvent creates a task finished event
func NewTaskFinishedEvent(at time.Time, task, state, reason string, cycles, rounds int) Event {
	return Event{
		Type:      EventTypeTaskFinished,
		Source:    task,
		Timestamp: at,
		Data: map[string]interface{}{
			"state":  state,
			"reason": reason,
			"cycles": cycles,
			"rounds": rounds,
		},
	}
}

// NewTaskFailedEvent creates a task failed event
func NewTaskFailedEvent(at time.Time, task, state string, err error) Event {
	return Event{
		Type:      EventTypeTaskFailed,
		Source:    task,
		Timestamp: at,
		Data: map[string]interface{}{
			"state": state,
			"error": err.Error(),
		},
	}
}
