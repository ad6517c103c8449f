package floodbus

import (
	"time"
)

// EventType identifies what happened to a message at this node.
type EventType string

const (
	EventPublish   EventType = "PUBLISH_MESSAGE"
	EventForward   EventType = "FORWARD_MESSAGE"
	EventDeliver   EventType = "DELIVER_MESSAGE"
	EventDuplicate EventType = "DUPLICATE_MESSAGE"
	EventDrop      EventType = "DROP_MESSAGE"
)

// TraceEvent is a single tracing record.
type TraceEvent struct {
	Type        EventType `json:"type"`
	NodeID      string    `json:"nodeId"`
	Timestamp   int64     `json:"timestamp"`
	MessageID   string    `json:"messageId,omitempty"`
	MessageType string    `json:"messageType,omitempty"`
	SenderID    string    `json:"senderId,omitempty"`
	ReceiverID  string    `json:"receiverId,omitempty"`
	TimeToLive  int       `json:"timeToLive,omitempty"`
	Reason      string    `json:"reason,omitempty"`
}

// Generic event tracer interface
type EventTracer interface {
	Trace(evt *TraceEvent)
}

// bus tracer details
type busTracer struct {
	tracer EventTracer
	id     string
}

func (t *busTracer) event(typ EventType) *TraceEvent {
	return &TraceEvent{
		Type:      typ,
		NodeID:    t.id,
		Timestamp: time.Now().UnixNano(),
	}
}

func (t *busTracer) PublishMessage(env *Envelope) {
	if t == nil {
		return
	}

	evt := t.event(EventPublish)
	evt.MessageID = env.MessageID
	evt.MessageType = env.MessageType
	evt.ReceiverID = env.ReceiverID
	evt.TimeToLive = env.TimeToLive

	t.tracer.Trace(evt)
}

func (t *busTracer) ForwardMessage(msgID, from, to string, ttl int) {
	if t == nil {
		return
	}

	evt := t.event(EventForward)
	evt.MessageID = msgID
	evt.SenderID = from
	evt.ReceiverID = to
	evt.TimeToLive = ttl

	t.tracer.Trace(evt)
}

func (t *busTracer) DeliverMessage(env *Envelope) {
	if t == nil {
		return
	}

	evt := t.event(EventDeliver)
	evt.MessageID = env.MessageID
	evt.MessageType = env.MessageType
	evt.SenderID = env.SenderID

	t.tracer.Trace(evt)
}

func (t *busTracer) DuplicateMessage(msgID string) {
	if t == nil {
		return
	}

	evt := t.event(EventDuplicate)
	evt.MessageID = msgID

	t.tracer.Trace(evt)
}

func (t *busTracer) DropMessage(msgID, msgType, reason string) {
	if t == nil {
		return
	}

	evt := t.event(EventDrop)
	evt.MessageID = msgID
	evt.MessageType = msgType
	evt.Reason = reason

	t.tracer.Trace(evt)
}
