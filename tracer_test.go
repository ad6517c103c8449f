package floodbus

import (
	"bufio"
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestJSONTracer(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trace.json")
	tr, err := NewJSONTracer(path)
	require.NoError(t, err)

	bt := &busTracer{tracer: tr, id: "me"}
	env := &Envelope{MessageID: "me:1", MessageType: testMessageType, ReceiverID: AnyReceiver, TimeToLive: 5}
	bt.PublishMessage(env)
	bt.ForwardMessage("a:1", "a", AnyReceiver, 4)
	bt.DuplicateMessage("a:1")
	bt.DropMessage("a:2", testMessageType, "delivery queue full")
	bt.DeliverMessage(env)
	tr.Close()

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var types []EventType
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		var evt TraceEvent
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &evt))
		require.Equal(t, "me", evt.NodeID)
		require.NotZero(t, evt.Timestamp)
		types = append(types, evt.Type)
	}
	require.Equal(t, []EventType{EventPublish, EventForward, EventDuplicate, EventDrop, EventDeliver}, types)
}

func TestNilTracerIsNoop(t *testing.T) {
	var bt *busTracer
	bt.PublishMessage(&Envelope{})
	bt.ForwardMessage("", "", "", 0)
	bt.DeliverMessage(&Envelope{})
	bt.DuplicateMessage("")
	bt.DropMessage("", "", "")
}
