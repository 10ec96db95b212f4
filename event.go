package symphra

import (
	"context"
	"time"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/google/uuid"
)

// Event type names published by the manager. The exact strings are part of
// the external contract; downstream subscribers depend on them.
const (
	EventTypeModuleLoaded       = "module.loaded"
	EventTypeModuleInstalled    = "module.installed"
	EventTypeModuleStarted      = "module.started"
	EventTypeModuleStopped      = "module.stopped"
	EventTypeModuleUninstalled  = "module.uninstalled"
	EventTypeModuleUnloaded     = "module.unloaded"
	EventTypeModuleStateChanged = "module.state_changed"
	EventTypeModuleReloaded     = "module.reloaded"
	EventTypeModuleError        = "module.error"
)

// Event is the record broadcast on the event bus for every observable
// occurrence in the core: state transitions, reloads, and handler or hook
// failures.
type Event struct {
	// ID is a unique, time-ordered identifier for this event.
	ID string `json:"id"`

	// Type is the dot-delimited event type, e.g. "module.started".
	Type string `json:"type"`

	// ModuleName names the module the event concerns. It is empty for
	// events that do not relate to a single module, such as handler
	// failures on non-module events.
	ModuleName string `json:"moduleName,omitempty"`

	// Payload carries event-specific data.
	Payload map[string]any `json:"payload,omitempty"`

	// Timestamp is when the event was published.
	Timestamp time.Time `json:"timestamp"`
}

// NewEvent creates an event with a fresh ID and the current time.
func NewEvent(eventType, moduleName string, payload map[string]any) Event {
	return Event{
		ID:         newEventID(),
		Type:       eventType,
		ModuleName: moduleName,
		Payload:    payload,
		Timestamp:  time.Now(),
	}
}

// newEventID generates a unique identifier using UUIDv7. UUIDv7 embeds a
// timestamp, which keeps IDs sortable in event stores.
func newEventID() string {
	id, err := uuid.NewV7()
	if err != nil {
		// Fallback to v4 if v7 fails for any reason
		id = uuid.New()
	}
	return id.String()
}

// CloudEvent converts the event to a CloudEvents representation for
// interoperability with external systems. The module name travels as the
// "modulename" extension attribute.
func (e Event) CloudEvent(source string) cloudevents.Event {
	ce := cloudevents.NewEvent()
	ce.SetID(e.ID)
	ce.SetSource(source)
	ce.SetType(e.Type)
	ce.SetTime(e.Timestamp)
	ce.SetSpecVersion(cloudevents.VersionV1)
	if e.ModuleName != "" {
		ce.SetExtension("modulename", e.ModuleName)
	}
	if e.Payload != nil {
		_ = ce.SetData(cloudevents.ApplicationJSON, e.Payload)
	}
	return ce
}

// CloudEventSink receives CloudEvents produced by a CloudEventBridge.
type CloudEventSink func(ctx context.Context, event cloudevents.Event) error

// NewCloudEventBridge returns an event handler that republishes every bus
// event to an external CloudEvents sink. Subscribe it with the pattern of
// interest, typically "*":
//
//	bus.Subscribe("*", symphra.NewCloudEventBridge("symphra/manager", sink))
func NewCloudEventBridge(source string, sink CloudEventSink) EventHandler {
	return func(e Event) error {
		return sink(context.Background(), e.CloudEvent(source))
	}
}
