package realtime

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	defaultPing    = 30 * time.Second
	maxInboundSize = 512
)

// Upgrade turns an authenticated request into a merchant socket and blocks
// until it closes.
func (h *Hub) Upgrade(w http.ResponseWriter, r *http.Request, merchantID uuid.UUID, opts SocketOptions) error {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     originChecker(opts.AllowedOrigins),
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}

	c := newClient(merchantID)
	h.register(c)
	ctx := h.logg.WithMerchantID(r.Context(), merchantID.String())
	h.logg.Info(ctx, "realtime.connected")
	defer func() {
		h.unregister(c)
		_ = conn.Close()
		h.logg.Info(ctx, "realtime.disconnected")
	}()

	go h.readLoop(conn, c)

	c.send <- Notification{Type: NotificationConnected, MerchantID: merchantID, Message: "notifications enabled", SentAt: time.Now().UTC()}
	return h.writeLoop(ctx, conn, c, opts.pingInterval())
}

// SocketOptions configures a merchant socket.
type SocketOptions struct {
	AllowedOrigins []string
	PingInterval   time.Duration
}

func (o SocketOptions) pingInterval() time.Duration {
	if o.PingInterval <= 0 {
		return defaultPing
	}
	return o.PingInterval
}

// readLoop drains client frames so pongs and close frames are processed.
func (h *Hub) readLoop(conn *websocket.Conn, c *client) {
	defer c.close()
	conn.SetReadLimit(maxInboundSize)
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writeLoop(ctx context.Context, conn *websocket.Conn, c *client, ping time.Duration) error {
	ticker := time.NewTicker(ping)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-c.done:
			return nil
		case n := <-c.send:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(n); err != nil {
				return err
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return err
			}
		}
	}
}

// originChecker allows same-origin requests plus the configured origins. An
// empty list allows any origin.
func originChecker(allowed []string) func(*http.Request) bool {
	if len(allowed) == 0 {
		return func(*http.Request) bool { return true }
	}
	set := make(map[string]struct{}, len(allowed))
	for _, origin := range allowed {
		set[strings.TrimRight(strings.TrimSpace(origin), "/")] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := set[strings.TrimRight(origin, "/")]
		return ok
	}
}
