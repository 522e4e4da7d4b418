package eventbus

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/coder/websocket"
)

// debugWriteTimeout bounds a single WebSocket write, mirroring the teacher's
// ConnectionManager.writeTimeout.
const debugWriteTimeout = 5 * time.Second

// ServeDebugWS adapts the teacher's pkg/events/manager.go ConnectionManager
// into a secondary, unauthenticated transport for the Event Bus: a thin
// read-nothing, write-everything loop over Bus.StreamFrom, kept alongside
// the spec-mandated SSE endpoint the way the teacher offers both WS and
// REST surfaces for the same event data. Not part of the Controller API
// contract in spec.md §6 — operators use it to tail a run without an SSE
// client.
func ServeDebugWS(ctx context.Context, bus *Bus, conn *websocket.Conn, crID string, lastSeenID int64) {
	defer conn.Close(websocket.StatusNormalClosure, "")

	stream, err := bus.StreamFrom(ctx, crID, lastSeenID)
	if err != nil {
		slog.Error("debug WS stream failed to start", "cr_id", crID, "error", err)
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-stream:
			if !ok {
				return
			}
			payload, err := json.Marshal(evt)
			if err != nil {
				slog.Warn("failed to marshal event for debug WS", "cr_id", crID, "error", err)
				continue
			}
			writeCtx, cancel := context.WithTimeout(ctx, debugWriteTimeout)
			err = conn.Write(writeCtx, websocket.MessageText, payload)
			cancel()
			if err != nil {
				slog.Warn("debug WS write failed, closing", "cr_id", crID, "error", err)
				return
			}
		}
	}
}
