package stream

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/docextract/constants"
)

func drain(t *testing.T, e *Emitter) []Event {
	t.Helper()
	var out []Event
	timeout := time.After(2 * time.Second)
	for {
		select {
		case ev, ok := <-e.Events():
			if !ok {
				return out
			}
			out = append(out, ev)
		case <-timeout:
			t.Fatal("stream did not close")
			return out
		}
	}
}

func TestEmitter_OrderedSequence(t *testing.T) {
	e := NewEmitter("run-1", 4, nil)
	require.True(t, e.Emit(constants.EventInit, InitPayload{Total: 1}))
	e.MarkDispatched("f1")
	require.True(t, e.Emit(constants.EventResult, ResultPayload{FileID: "f1", Status: constants.ResultStatusSuccess}))
	require.True(t, e.Emit(constants.EventComplete, CompletePayload{Total: 1, Successful: 1}))

	events := drain(t, e)
	require.Len(t, events, 3)
	for i, ev := range events {
		assert.Equal(t, int64(i+1), ev.Seq)
		assert.Equal(t, "run-1", ev.RunID)
	}
	assert.Equal(t, constants.EventComplete, events[2].Type)
}

func TestEmitter_ResultGuards(t *testing.T) {
	e := NewEmitter("run-1", 4, nil)

	assert.False(t, e.Emit(constants.EventResult, ResultPayload{FileID: "f1"}), "result before dispatch")

	e.MarkDispatched("f1")
	assert.True(t, e.Emit(constants.EventResult, ResultPayload{FileID: "f1"}))
	assert.False(t, e.Emit(constants.EventResult, ResultPayload{FileID: "f1"}), "second result for the same file")

	e.Close()
	assert.False(t, e.Emit(constants.EventProgress, ProgressPayload{}), "emit after close")
	assert.Len(t, drain(t, e), 1)
}

func TestEmitter_DropsPartialsUnderBackpressure(t *testing.T) {
	e := NewEmitter("run-1", 2, nil)
	for i := 0; i < 5; i++ {
		require.True(t, e.Emit(constants.EventProgress, ProgressPayload{Current: i, Total: 5}))
	}
	assert.False(t, e.Emit(constants.EventPartial, PartialPayload{FileID: "f1", Fields: json.RawMessage(`{}`)}))
	assert.Equal(t, int64(1), e.Dropped())

	require.True(t, e.Emit(constants.EventComplete, CompletePayload{}))
	events := drain(t, e)
	require.Len(t, events, 6)
	for _, ev := range events {
		assert.NotEqual(t, constants.EventPartial, ev.Type)
	}
}

func TestEmitter_CancelClosesStream(t *testing.T) {
	e := NewEmitter("run-1", 1, nil)
	for i := 0; i < 10; i++ {
		e.Emit(constants.EventProgress, ProgressPayload{Current: i})
	}
	e.Cancel()

	select {
	case <-e.Done():
	case <-time.After(time.Second):
		t.Fatal("pump did not stop")
	}
	assert.False(t, e.Emit(constants.EventProgress, ProgressPayload{}))
}
