package queue

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwebster45206/dialogue-engine/pkg/intent"
)

func TestNewRequest(t *testing.T) {
	c := &intent.Classification{Action: "ask", Topic: "weather"}
	r := NewRequest("save1", "Nice day?", c)

	assert.NotEmpty(t, r.RequestID)
	assert.False(t, r.EnqueuedAt.IsZero())
	require.NoError(t, r.Validate())

	data, err := r.ToJSON()
	require.NoError(t, err)
	assert.Contains(t, string(data), `"classification":{`)

	back, err := FromJSON(data)
	require.NoError(t, err)
	assert.Equal(t, r.Slot, back.Slot)
	require.NotNil(t, back.Classification)
	assert.Equal(t, "weather", back.Classification.Topic)
}

func TestRequest_OmitsMissingClassification(t *testing.T) {
	data, err := NewRequest("save1", "hi", nil).ToJSON()
	require.NoError(t, err)
	assert.NotContains(t, string(data), "classification")
}

func TestRequest_Validate(t *testing.T) {
	assert.Error(t, (&Request{Slot: "a"}).Validate())
	assert.Error(t, (&Request{RequestID: "x"}).Validate())
	assert.NoError(t, (&Request{RequestID: "x", Slot: "a"}).Validate())
}

func TestFromJSON_Invalid(t *testing.T) {
	_, err := FromJSON([]byte("{"))
	assert.Error(t, err)
}
