package floodbus

import (
	"bytes"
	"errors"
	"strconv"

	jsoniter "github.com/json-iterator/go"
	pkgerrors "github.com/pkg/errors"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Wire field names of the envelope.
const (
	FieldMessageID   = "messageId"
	FieldSenderID    = "senderId"
	FieldReceiverID  = "receiverId"
	FieldMessageType = "messageType"
	FieldTimeToLive  = "timeToLive"
	FieldMessage     = "message"
)

var (
	// ErrPayloadType is returned when a payload does not match the type
	// declared for its message type, or does not encode to a JSON object.
	ErrPayloadType = errors.New("payload does not match message type")

	// ErrMissingField is returned when an envelope lacks a required field.
	ErrMissingField = errors.New("envelope field missing")

	// ErrInvalidField is returned when an envelope field has a value of the
	// wrong kind, such as a fractional time to live.
	ErrInvalidField = errors.New("envelope field invalid")

	// ErrUnknownType is returned when decoding an envelope whose message type
	// has no registered handler.
	ErrUnknownType = errors.New("unknown message type")
)

// Envelope wraps an application payload with the routing metadata that
// travels between nodes.
type Envelope struct {
	MessageID   string
	SenderID    string
	ReceiverID  string
	MessageType string
	TimeToLive  int
	Message     interface{}
}

type wireEnvelope struct {
	MessageID   *string             `json:"messageId"`
	SenderID    *string             `json:"senderId"`
	ReceiverID  *string             `json:"receiverId"`
	MessageType *string             `json:"messageType"`
	TimeToLive  jsoniter.RawMessage `json:"timeToLive"`
	Message     jsoniter.RawMessage `json:"message"`
}

// EncodeEnvelope renders env as wire text. accepts, when non-nil, is the
// payload type check for env.MessageType; the payload must also encode to a
// JSON object.
func EncodeEnvelope(env *Envelope, accepts func(interface{}) bool) ([]byte, error) {
	if accepts != nil && !accepts(env.Message) {
		return nil, pkgerrors.Wrapf(ErrPayloadType, "%T is not a %s", env.Message, env.MessageType)
	}

	msg, err := json.Marshal(env.Message)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "encoding payload")
	}
	if !isObject(msg) {
		return nil, pkgerrors.Wrapf(ErrPayloadType, "%T does not encode to an object", env.Message)
	}

	return json.Marshal(&wireEnvelope{
		MessageID:   &env.MessageID,
		SenderID:    &env.SenderID,
		ReceiverID:  &env.ReceiverID,
		MessageType: &env.MessageType,
		TimeToLive:  jsoniter.RawMessage(strconv.Itoa(env.TimeToLive)),
		Message:     msg,
	})
}

// Registry resolves a message type to the handler able to decode it.
type Registry interface {
	Get(msgType string) (Handler, bool)
}

// DecodeEnvelope parses raw wire text. The payload is decoded by the handler
// registered for the envelope's message type.
func DecodeEnvelope(raw []byte, reg Registry) (*Envelope, Handler, error) {
	var w wireEnvelope
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, nil, pkgerrors.Wrap(err, "parsing envelope")
	}

	switch {
	case w.MessageID == nil:
		return nil, nil, pkgerrors.Wrap(ErrMissingField, FieldMessageID)
	case w.SenderID == nil:
		return nil, nil, pkgerrors.Wrap(ErrMissingField, FieldSenderID)
	case w.ReceiverID == nil:
		return nil, nil, pkgerrors.Wrap(ErrMissingField, FieldReceiverID)
	case w.MessageType == nil:
		return nil, nil, pkgerrors.Wrap(ErrMissingField, FieldMessageType)
	case w.TimeToLive == nil:
		return nil, nil, pkgerrors.Wrap(ErrMissingField, FieldTimeToLive)
	case w.Message == nil:
		return nil, nil, pkgerrors.Wrap(ErrMissingField, FieldMessage)
	}

	ttl, err := intValue(json.Get(w.TimeToLive))
	if err != nil {
		return nil, nil, pkgerrors.Wrap(err, FieldTimeToLive)
	}

	h, ok := reg.Get(*w.MessageType)
	if !ok {
		return nil, nil, pkgerrors.Wrap(ErrUnknownType, *w.MessageType)
	}

	payload, err := h.Decode(w.Message)
	if err != nil {
		return nil, nil, pkgerrors.Wrapf(err, "decoding %s payload", *w.MessageType)
	}

	return &Envelope{
		MessageID:   *w.MessageID,
		SenderID:    *w.SenderID,
		ReceiverID:  *w.ReceiverID,
		MessageType: *w.MessageType,
		TimeToLive:  ttl,
		Message:     payload,
	}, h, nil
}

// GetField returns the value of a top-level field as text without decoding
// the payload. Strings are returned unquoted and numbers as written. It
// returns "" if raw is not an object or the field is absent.
func GetField(raw []byte, name string) string {
	v := json.Get(raw, name)
	if v.LastError() != nil {
		return ""
	}

	switch v.ValueType() {
	case jsoniter.StringValue, jsoniter.NumberValue:
		return v.ToString()
	case jsoniter.BoolValue:
		return strconv.FormatBool(v.ToBool())
	case jsoniter.InvalidValue, jsoniter.NilValue:
		return ""
	default:
		return v.ToString()
	}
}

// GetIntField is GetField for integer fields. The value may be a number or
// a string holding a decimal integer.
func GetIntField(raw []byte, name string) (int, error) {
	v := json.Get(raw, name)
	if v.ValueType() == jsoniter.InvalidValue {
		return 0, pkgerrors.Wrap(ErrMissingField, name)
	}

	n, err := intValue(v)
	if err != nil {
		return 0, pkgerrors.Wrap(err, name)
	}
	return n, nil
}

// intValue accepts an integral number or a string holding one.
func intValue(v jsoniter.Any) (int, error) {
	switch v.ValueType() {
	case jsoniter.NumberValue, jsoniter.StringValue:
	default:
		return 0, ErrInvalidField
	}

	n, err := strconv.Atoi(v.ToString())
	if err != nil {
		return 0, pkgerrors.Wrapf(ErrInvalidField, "%q is not an integer", v.ToString())
	}
	return n, nil
}

// SetField replaces the value of an existing top-level field and returns the
// re-encoded text.
func SetField(raw []byte, name string, value interface{}) ([]byte, error) {
	return SetFields(raw, map[string]interface{}{name: value})
}

// SetFields is SetField for several fields at once. All fields must already
// exist. Only the envelope level is re-encoded; the payload bytes are carried
// through untouched.
func SetFields(raw []byte, values map[string]interface{}) ([]byte, error) {
	var fields map[string]jsoniter.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, pkgerrors.Wrap(err, "parsing envelope")
	}

	for name, value := range values {
		if _, ok := fields[name]; !ok {
			return nil, pkgerrors.Wrap(ErrMissingField, name)
		}

		v, err := json.Marshal(value)
		if err != nil {
			return nil, pkgerrors.Wrapf(err, "encoding field %s", name)
		}
		fields[name] = v
	}

	return json.Marshal(fields)
}

func isObject(b []byte) bool {
	b = bytes.TrimSpace(b)
	return len(b) > 0 && b[0] == '{'
}
