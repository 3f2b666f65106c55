// Package websocket streams ledger events over WebSocket connections.
package websocket

import (
	"net/http"
	"time"

	"learnledger/core"
	"learnledger/realtime"

	gorillaws "github.com/gorilla/websocket"
)

const (
	writeTimeout     = 5 * time.Second
	subscriberBuffer = 256
)

// Handler upgrades the request and streams hub events as JSON text frames.
// A "user" query parameter narrows the stream to that learner's events;
// without it the client receives the firehose.
func Handler(hub *realtime.Hub) http.Handler {
	upgrader := gorillaws.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		user := core.UserID(r.URL.Query().Get("user"))
		id, events := hub.SubscribeUser(user, subscriberBuffer)
		defer hub.Unsubscribe(id)

		// the read loop only exists to notice the client going away
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
			case ev, ok := <-events:
				if !ok {
					return
				}
				_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
				if err := conn.WriteJSON(ev); err != nil {
					return
				}
			case <-closed:
				return
			}
		}
	})
}
