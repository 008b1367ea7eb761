// Package websocket implements the real-time pub/sub hub that pushes
// restore progress to connected dashboard clients. It uses
// gorilla/websocket under the hood and exposes a topic-based broadcast API
// consumed by the restore executor.
//
// Topic naming convention:
//
//	restore:<job_name>  — progress events for restores of a specific job
//	restore:*           — progress events for all jobs
package websocket

// MessageType identifies the kind of event carried by a Message.
type MessageType string

const (
	// MsgRestoreProgress is sent when a restore transitions state
	// (running → success | error) or reports an intermediate step such as
	// a remote download.
	MsgRestoreProgress MessageType = "restore.progress"

	// MsgPing is sent by the hub periodically to keep the connection alive
	// and let the client detect stale connections.
	MsgPing MessageType = "ping"
)

// Message is the envelope for every WebSocket frame sent to clients.
type Message struct {
	// Type identifies the kind of event so the client can route it.
	Type MessageType `json:"type"`

	// Topic is the pub/sub channel this message was published on.
	Topic string `json:"topic"`

	// Payload carries the event-specific data. For restore.progress it is
	// a restore.ProgressEvent:
	//
	//	{"job_name":"demo_app","status":"running","message":"Restoring demo_app..."}
	Payload any `json:"payload"`
}
