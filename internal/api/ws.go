package api

import (
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/great-horn/backup/internal/websocket"
)

// WSHandler handles the WebSocket upgrade endpoint GET /api/v1/ws.
// Topic subscription is declared at connection time via the `topics` query
// parameter; clients that name no topics receive every restore progress
// event via the restore:* topic.
//
// Example connection URL:
//
//	ws://host/api/v1/ws?topics=restore:demo_app,restore:demo_media
type WSHandler struct {
	hub    *websocket.Hub
	logger *zap.Logger
}

// NewWSHandler creates a new WSHandler.
func NewWSHandler(hub *websocket.Hub, logger *zap.Logger) *WSHandler {
	return &WSHandler{
		hub:    hub,
		logger: logger.Named("ws_handler"),
	}
}

// ServeWS handles GET /api/v1/ws. It upgrades the connection and starts
// the client pumps; the handler blocks until the connection closes, which
// is expected for WebSocket handlers.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	topics := resolveTopics(r)

	client, err := websocket.NewClient(h.hub, w, r, topics, h.logger)
	if err != nil {
		// The upgrader has already written the error response.
		h.logger.Warn("ws: upgrade failed", zap.Error(err))
		return
	}

	h.logger.Info("ws: client connected",
		zap.String("remote_addr", r.RemoteAddr),
		zap.Strings("topics", topics),
	)

	client.Run()

	h.logger.Info("ws: client disconnected", zap.String("remote_addr", r.RemoteAddr))
}

// resolveTopics builds the topic list from the `topics` query parameter
// (comma-separated). Duplicates are dropped; with no explicit topics the
// client subscribes to the firehose.
func resolveTopics(r *http.Request) []string {
	seen := make(map[string]struct{})
	var topics []string

	if raw := r.URL.Query().Get("topics"); raw != "" {
		for _, t := range strings.Split(raw, ",") {
			t = strings.TrimSpace(t)
			if t == "" {
				continue
			}
			if _, dup := seen[t]; !dup {
				seen[t] = struct{}{}
				topics = append(topics, t)
			}
		}
	}

	if len(topics) == 0 {
		topics = []string{websocket.TopicAll}
	}
	return topics
}
