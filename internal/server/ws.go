package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// The default CheckOrigin only accepts handshakes whose Origin matches the
// request host, which keeps the transcript feed off other sites.
var upgrader = websocket.Upgrader{}

func registerWSRoute(mux *http.ServeMux, hub *Hub, controls Controls, logger *slog.Logger) {
	mux.HandleFunc("GET /ws", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Warn("ws upgrade error", slog.String("error", err.Error()))
			return
		}
		defer func() { _ = conn.Close() }()

		connectionEvent := ConnectionEvent{
			Event:     newEvent("connection", time.Now().UTC()),
			Connected: true,
		}
		if err := writeJSONMessage(conn, connectionEvent); err != nil {
			return
		}

		// Subscribe before reading the snapshot so no later change is missed.
		ch := hub.Subscribe()
		defer hub.Unsubscribe(ch)

		if err := writeJSONMessage(conn, newSnapshotEvent(controls.Snapshot())); err != nil {
			return
		}

		closed := make(chan struct{})
		go func() {
			defer close(closed)
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()

		for {
			select {
			case msg, ok := <-ch:
				if !ok {
					return
				}
				if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
					return
				}
			case <-closed:
				return
			case <-r.Context().Done():
				return
			}
		}
	})
}

func writeJSONMessage(conn *websocket.Conn, event any) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, payload)
}
