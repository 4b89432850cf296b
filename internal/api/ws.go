package api

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/kalambet/ollamaup/internal/panel"
)

const wsWriteTimeout = 10 * time.Second

// The handshake is already guarded by the bearer token.
var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	ReadBufferSize:  4 << 10,
	WriteBufferSize: 16 << 10,
}

// wsPoster serializes writes; gorilla connections allow one concurrent writer.
type wsPoster struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (p *wsPoster) Post(msg panel.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return p.conn.WriteJSON(msg)
}

type wsError struct {
	Command string `json:"command"`
	Message string `json:"message"`
}

func handleWebSocket(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			slog.Error("failed to upgrade the websocket", "error", err)
			return
		}
		defer conn.Close()

		session := uuid.New().String()
		logger := slog.With("session", session)
		logger.Info("panel client connected")

		// Ends the poller and any setup started over this connection.
		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		out := &wsPoster{conn: conn}
		go panel.NewPoller(deps.Panel, out, deps.PollInterval).Run(ctx)

		for {
			var in panel.Inbound
			if err := conn.ReadJSON(&in); err != nil {
				logger.Info("panel client disconnected", "error", err)
				return
			}
			if err := deps.Panel.Handle(ctx, in, out); err != nil {
				logger.Warn("panel command failed", "command", in.Command, "error", err)
				if err := out.Post(panel.Message{Command: panel.MsgError, Data: wsError{Command: in.Command, Message: err.Error()}}); err != nil {
					return
				}
			}
		}
	}
}
