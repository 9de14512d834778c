package telemetry

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roman-kulish/nearfield-scanner/internal/field"
)

func TestPublisher_Topics(t *testing.T) {
	client := NewMockClient()
	p := NewPublisher(client, "run-1", WithPrefix("lab"))

	require.NoError(t, p.PublishPhase("SCAN_0", "orientation 0°"))
	require.NoError(t, p.PublishRow(RowEvent{Orientation: 0, Row: 1, Rows: 5, Mean: field.Present(-55)}))
	require.NoError(t, p.PublishLive(field.Absent()))

	msgs := client.Published()
	require.Len(t, msgs, 3)

	assert.Equal(t, "lab/run-1/phase", msgs[0].Topic)
	assert.True(t, msgs[0].Retain)
	assert.Equal(t, "lab/run-1/row", msgs[1].Topic)
	assert.False(t, msgs[1].Retain)
	assert.Equal(t, "lab/run-1/live", msgs[2].Topic)

	for _, m := range msgs {
		assert.Zero(t, m.QoS)
	}

	var phase PhaseEvent
	require.NoError(t, json.Unmarshal(msgs[0].Payload, &phase))
	assert.Equal(t, "SCAN_0", phase.Phase)

	var row map[string]any
	require.NoError(t, json.Unmarshal(msgs[1].Payload, &row))
	assert.Equal(t, -55.0, row["mean"])
	assert.NotContains(t, row, "latest")

	var live map[string]any
	require.NoError(t, json.Unmarshal(msgs[2].Payload, &live))
	assert.Nil(t, live["power"])
}

func TestPublisher_Disabled(t *testing.T) {
	p := NewPublisher(nil, "run-1")

	assert.False(t, p.Enabled())
	assert.NoError(t, p.PublishPhase("IDLE", ""))
	p.Close()

	var nilPublisher *Publisher
	assert.NoError(t, nilPublisher.PublishLive(field.Present(-40)))
}

func TestPublisher_Errors(t *testing.T) {
	client := NewMockClient()
	p := NewPublisher(client, "run-1")

	client.SetPublishError(errors.New("broker unavailable"))
	assert.Error(t, p.PublishPhase("DONE", ""))

	client.SetConnected(false)
	assert.ErrorIs(t, p.PublishPhase("DONE", ""), ErrNotConnected)
}
