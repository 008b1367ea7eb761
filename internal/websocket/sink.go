package websocket

// ProgressSink adapts the hub to the restore executor's event sink
// interface, wrapping every payload in a restore.progress envelope. The
// executor depends on the narrow sink, not on the hub, so tests can
// substitute a recording fake.
type ProgressSink struct {
	hub *Hub
}

// NewProgressSink returns a sink publishing through hub.
func NewProgressSink(hub *Hub) *ProgressSink {
	return &ProgressSink{hub: hub}
}

// Emit publishes payload on topic as a restore.progress message.
// Delivery is best-effort — no acknowledgment, no backlog, no replay.
func (s *ProgressSink) Emit(topic string, payload any) {
	s.hub.Publish(topic, Message{
		Type:    MsgRestoreProgress,
		Topic:   topic,
		Payload: payload,
	})
}
