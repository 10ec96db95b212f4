package symphra

import (
	"context"
	"testing"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewEvent(t *testing.T) {
	event := NewEvent(EventTypeModuleStarted, "db", map[string]any{"k": "v"})

	assert.Equal(t, EventTypeModuleStarted, event.Type)
	assert.Equal(t, "db", event.ModuleName)
	assert.False(t, event.Timestamp.IsZero())

	id, err := uuid.Parse(event.ID)
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, id)

	// IDs are unique per event.
	assert.NotEqual(t, event.ID, NewEvent(EventTypeModuleStarted, "db", nil).ID)
}

func TestEventCloudEventConversion(t *testing.T) {
	event := NewEvent(EventTypeModuleStopped, "db", map[string]any{"reason": "shutdown"})
	ce := event.CloudEvent("symphra/manager")

	require.NoError(t, ce.Validate())
	assert.Equal(t, event.ID, ce.ID())
	assert.Equal(t, EventTypeModuleStopped, ce.Type())
	assert.Equal(t, "symphra/manager", ce.Source())
	assert.Equal(t, cloudevents.VersionV1, ce.SpecVersion())
	assert.Equal(t, "db", ce.Extensions()["modulename"])
	assert.Contains(t, string(ce.Data()), "shutdown")
}

func TestCloudEventBridge(t *testing.T) {
	var received []cloudevents.Event
	bridge := NewCloudEventBridge("symphra/test", func(_ context.Context, ce cloudevents.Event) error {
		received = append(received, ce)
		return nil
	})

	bus := NewEventBus(nil)
	bus.Subscribe("module.*", bridge)
	bus.Publish(NewEvent(EventTypeModuleStarted, "db", nil))

	require.Len(t, received, 1)
	assert.Equal(t, EventTypeModuleStarted, received[0].Type())
	assert.Equal(t, "symphra/test", received[0].Source())
}
