package floodbus

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func testRegistry() *subscriptions {
	subs := newSubscriptions()
	subs.Add(NewHandler(testMessageType, func(testMessage) {}))
	return subs
}

func TestEncodeEnvelope(t *testing.T) {
	env := &Envelope{
		MessageID:   "someId",
		SenderID:    "me",
		ReceiverID:  "you",
		MessageType: testMessageType,
		TimeToLive:  3,
		Message:     testMessage{Msg: "Hi"},
	}

	data, err := EncodeEnvelope(env, testRegistry().m[testMessageType].Accepts)
	require.NoError(t, err)

	var fields map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &fields))
	require.Len(t, fields, 6)
	require.Equal(t, "someId", fields["messageId"])
	require.Equal(t, "me", fields["senderId"])
	require.Equal(t, "you", fields["receiverId"])
	require.Equal(t, testMessageType, fields["messageType"])
	require.EqualValues(t, 3, fields["timeToLive"])
	require.Equal(t, map[string]interface{}{"msg": "Hi"}, fields["message"])
}

func TestEncodeEnvelopeWrongType(t *testing.T) {
	accepts := testRegistry().m[testMessageType].Accepts

	_, err := EncodeEnvelope(&Envelope{MessageType: testMessageType, Message: struct{ Other int }{1}}, accepts)
	require.True(t, errors.Is(err, ErrPayloadType), "got %v", err)

	// payloads must encode to an object even without a declared type
	_, err = EncodeEnvelope(&Envelope{MessageType: "Text", Message: "plain string"}, nil)
	require.True(t, errors.Is(err, ErrPayloadType), "got %v", err)

	_, err = EncodeEnvelope(&Envelope{MessageType: "Map", Message: map[string]int{"a": 1}}, nil)
	require.NoError(t, err)
}

func TestDecodeEnvelopeAnyFieldOrder(t *testing.T) {
	raw := []byte(`{"message":{"msg":"Hi"},"timeToLive":4,"receiverId":"any","messageType":"TestMessage","senderId":"b","messageId":"a:1"}`)

	env, h, err := DecodeEnvelope(raw, testRegistry())
	require.NoError(t, err)
	require.Equal(t, testMessageType, h.Type())
	require.Equal(t, &Envelope{
		MessageID:   "a:1",
		SenderID:    "b",
		ReceiverID:  AnyReceiver,
		MessageType: testMessageType,
		TimeToLive:  4,
		Message:     testMessage{Msg: "Hi"},
	}, env)
}

func TestDecodeEnvelopeErrors(t *testing.T) {
	full := rawEnvelope(t, "a:1", "a", AnyReceiver, 2, "Hi")

	for _, field := range []string{
		FieldMessageID,
		FieldSenderID,
		FieldReceiverID,
		FieldMessageType,
		FieldTimeToLive,
		FieldMessage,
	} {
		var fields map[string]interface{}
		require.NoError(t, json.Unmarshal(full, &fields))
		delete(fields, field)
		raw, err := json.Marshal(fields)
		require.NoError(t, err)

		_, _, err = DecodeEnvelope(raw, testRegistry())
		require.True(t, errors.Is(err, ErrMissingField), "%s: got %v", field, err)
	}

	_, _, err := DecodeEnvelope(full, newSubscriptions())
	require.True(t, errors.Is(err, ErrUnknownType), "got %v", err)

	_, _, err = DecodeEnvelope([]byte("{"), testRegistry())
	require.Error(t, err)
}

func TestGetField(t *testing.T) {
	raw := rawEnvelope(t, "a:1", "a", AnyReceiver, 2, "Hi")

	require.Equal(t, "a:1", GetField(raw, FieldMessageID))
	require.Equal(t, "2", GetField(raw, FieldTimeToLive))
	require.Equal(t, "", GetField(raw, "missing"))
	require.Equal(t, "", GetField([]byte("garbage"), FieldMessageID))

	ttl, err := GetIntField(raw, FieldTimeToLive)
	require.NoError(t, err)
	require.Equal(t, 2, ttl)

	_, err = GetIntField(raw, FieldSenderID)
	require.True(t, errors.Is(err, ErrInvalidField), "got %v", err)

	_, err = GetIntField(raw, "missing")
	require.True(t, errors.Is(err, ErrMissingField), "got %v", err)
}

func TestTimeToLiveAsText(t *testing.T) {
	raw := []byte(`{"messageId":"a:1","senderId":"a","receiverId":"any","messageType":"TestMessage","timeToLive":"4","message":{"msg":"Hi"}}`)

	ttl, err := GetIntField(raw, FieldTimeToLive)
	require.NoError(t, err)
	require.Equal(t, 4, ttl)

	env, _, err := DecodeEnvelope(raw, testRegistry())
	require.NoError(t, err)
	require.Equal(t, 4, env.TimeToLive)
}

func TestTimeToLiveMustBeIntegral(t *testing.T) {
	for _, ttl := range []string{`2.9`, `"2.9"`, `"x"`, `true`} {
		raw := []byte(`{"messageId":"a:1","senderId":"a","receiverId":"any","messageType":"TestMessage","timeToLive":` + ttl + `,"message":{"msg":"Hi"}}`)

		_, err := GetIntField(raw, FieldTimeToLive)
		require.True(t, errors.Is(err, ErrInvalidField), "%s: got %v", ttl, err)

		_, _, err = DecodeEnvelope(raw, testRegistry())
		require.True(t, errors.Is(err, ErrInvalidField), "%s: got %v", ttl, err)
	}

	require.Equal(t, "2.9", GetField([]byte(`{"timeToLive":2.9}`), FieldTimeToLive))
}

func TestSetField(t *testing.T) {
	raw := rawEnvelope(t, "a:1", "a", AnyReceiver, 2, "Hi")

	out, err := SetField(raw, FieldSenderID, "b")
	require.NoError(t, err)
	require.Equal(t, "b", GetField(out, FieldSenderID))
	require.Equal(t, "a:1", GetField(out, FieldMessageID))

	out, err = SetFields(out, map[string]interface{}{FieldTimeToLive: 1, FieldSenderID: "c"})
	require.NoError(t, err)
	require.Equal(t, "1", GetField(out, FieldTimeToLive))
	require.Equal(t, "c", GetField(out, FieldSenderID))

	// the payload survives untouched
	env, _, err := DecodeEnvelope(out, testRegistry())
	require.NoError(t, err)
	require.Equal(t, testMessage{Msg: "Hi"}, env.Message)

	_, err = SetField(raw, "missing", "x")
	require.True(t, errors.Is(err, ErrMissingField), "got %v", err)

	_, err = SetField([]byte("garbage"), FieldSenderID, "x")
	require.Error(t, err)
}
