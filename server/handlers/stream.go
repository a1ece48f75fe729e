package handlers

import (
	"net/http"
	"time"

	"github.com/google/uuid"

	"bambuwatch/common/ws"
)

const (
	streamPingInterval = 25 * time.Second
	streamReadTimeout  = 60 * time.Second
	streamWriteTimeout = 10 * time.Second
	streamBuffer       = 16
)

// handleStatusStream upgrades to a websocket and forwards hub broadcasts
// (printer_status, feed_state) until the client goes away. The newest
// snapshot, if any, is sent first. A hub shutdown sends a going-away close.
func (api *RelayAPI) handleStatusStream(w http.ResponseWriter, r *http.Request) {
	conn, err := ws.UpgradeHTTP(w, r, api.origins)
	if err != nil {
		api.log.Warn("Status stream upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	id := uuid.NewString()
	ch := make(chan ws.Message, streamBuffer)
	if !api.hub.Register(id, ch) {
		conn.Close()
		return
	}
	api.log.Debug("Status stream connected", "id", id, "remote", conn.RemoteAddr())

	if api.feed != nil {
		if snap, ok := api.feed.Latest(); ok {
			if msg, err := ws.NewMessage(ws.MessageTypePrinterStatus, snap.Status); err == nil {
				if err := conn.WriteMessage(&msg, streamWriteTimeout); err != nil {
					api.hub.Unregister(id)
					conn.Close()
					return
				}
			}
		}
	}

	// Single writer: hub messages and pings share this goroutine.
	readerDone := make(chan struct{})
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		ticker := time.NewTicker(streamPingInterval)
		defer ticker.Stop()
		for {
			select {
			case msg, ok := <-ch:
				if !ok {
					select {
					case <-readerDone:
					default:
						api.closeStream(conn, id)
					}
					return
				}
				if err := conn.WriteMessage(&msg, streamWriteTimeout); err != nil {
					api.log.Debug("Status stream write failed", "id", id, "error", err)
					conn.Close()
					return
				}
			case <-ticker.C:
				if err := conn.WritePing(streamWriteTimeout); err != nil {
					api.log.Debug("Status stream ping failed, closing", "id", id, "error", err)
					conn.Close()
					return
				}
			}
		}
	}()

	conn.SetReadDeadline(time.Now().Add(streamReadTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(streamReadTimeout))
		return nil
	})

	// Clients send nothing meaningful; reading drives pong and close handling.
	for {
		if _, err := conn.ReadMessage(); err != nil {
			if ws.IsUnexpectedCloseError(err, ws.CloseGoingAway, ws.CloseNormalClosure) {
				api.log.Debug("Status stream closed unexpectedly", "id", id, "error", err)
			}
			break
		}
	}
	close(readerDone)

	api.hub.Unregister(id)
	conn.Close()
	<-writerDone
	api.log.Debug("Status stream disconnected", "id", id)
}

// closeStream tells a live client the relay is going away. The socket is
// dropped after streamWriteTimeout if the client never answers.
func (api *RelayAPI) closeStream(conn *ws.Conn, id string) {
	if err := conn.WriteClose(ws.CloseGoingAway, "relay shutting down", streamWriteTimeout); err != nil {
		api.log.Debug("Status stream close frame failed", "id", id, "error", err)
		conn.Close()
		return
	}
	time.AfterFunc(streamWriteTimeout, func() { conn.Close() })
}
