package logging

import (
	"os"

	"jordanella.com/yys-helper/internal/events"
)

// EventLogger subscribes to event bus and writes every task event to its own
// timestamped file, one line per event.
type EventLogger struct {
	logger          *Logger
	eventBus        events.EventBus
	subscriptionIDs []events.SubscriptionID
	logFile         *os.File
}

// NewEventLogger creates log/events_<timestamp>.log under logDir and starts
// recording.
func NewEventLogger(eventBus events.EventBus, logDir string) (*EventLogger, error) {
	logFile, err := OpenLogFile(logDir, "events")
	if err != nil {
		return nil, err
	}

	el := &EventLogger{
		logger:   NewLogger("events").SetMinLevel(LogLevelDebug).SetOutput(logFile, &TextFormatter{}),
		eventBus: eventBus,
		logFile:  logFile,
	}
	el.subscribeToEvents()

	return el, nil
}

// Path is the file being written.
func (el *EventLogger) Path() string {
	return el.logFile.Name()
}

func (el *EventLogger) subscribeToEvents() {
	for _, eventType := range events.TaskEventTypes {
		el.subscriptionIDs = append(el.subscriptionIDs, el.eventBus.Subscribe(eventType, el.handleEvent))
	}
}

// handleEvent handles incoming events and logs them
func (el *EventLogger) handleEvent(event events.Event) {
	context := map[string]interface{}{
		"task": event.Source,
	}
	for k, v := range event.Data {
		context[k] = v
	}

	entry := &LogEntry{
		Timestamp: event.Timestamp,
		Level:     LogLevelInfo,
		Component: el.logger.Component(),
		Message:   string(event.Type),
		Context:   context,
	}
	if event.Type == events.EventTypeTaskFailed {
		entry.Level = LogLevelError
	}
	el.logger.write(entry)
}

// Close unsubscribes and closes the log file. Stop the bus first so queued
// events are written.
func (el *EventLogger) Close() error {
	for _, id := range el.subscriptionIDs {
		el.eventBus.Unsubscribe(id)
	}
	el.subscriptionIDs = nil
	if el.logFile != nil {
		err := el.logFile.Close()
		el.logFile = nil
		return err
	}
	return nil
}
