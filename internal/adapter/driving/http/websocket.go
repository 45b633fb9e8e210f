package http

import (
	"net/http"
	"sync"
	"time"

	"github.com/Wyydra/yacall/internal/core/domain"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const noticeWriteWait = 5 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// TODO: restrict to the configured UI origin once the UI is served separately.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// WSClient is a UI connection receiving call notices.
type WSClient struct {
	id   string
	conn *websocket.Conn

	mu sync.Mutex
}

func (c *WSClient) ID() string {
	return c.id
}

func (c *WSClient) SendNotice(n domain.Notice) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(noticeWriteWait))
	return c.conn.WriteJSON(n)
}

func (c *WSClient) Close() error {
	return c.conn.Close()
}

// ServeWS upgrades the connection, sends the current snapshot and then
// streams notices until the UI disconnects.
func (h *Handler) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("Error while upgrading ws")
		return
	}

	client := &WSClient{
		id:   uuid.NewString(),
		conn: conn,
	}

	l := log.With().Str("client_id", client.id).Logger()
	l.Info().Msg("New UI client connected")

	if sess, err := h.Calls.Snapshot(r.Context()); err == nil {
		if err := client.SendNotice(domain.Notice{Type: domain.NoticeState, CallID: sess.CallID, Session: sess}); err != nil {
			l.Error().Err(err).Msg("Error sending initial snapshot")
			conn.Close()
			return
		}
	}

	h.Notices.Join(client)

	defer func() {
		l.Info().Msg("UI client disconnected")
		h.Notices.Leave(client)
		conn.Close()
	}()

	// The UI only listens; reads detect the close.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				l.Error().Err(err).Msg("Unexpected close error")
			}
			return
		}
	}
}
