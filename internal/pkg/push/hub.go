// internal/pkg/push/hub.go
package push

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"fulfillment/internal/pkg/logger"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
	sendBuffer     = 256
)

var (
	ErrUserOffline = errors.New("user has no active push connection")
	ErrSendBuffer  = errors.New("push send buffer is full")
)

// Hub 维护所有活跃的 WebSocket 连接，按 UserID 分组。
// 同一个用户可以同时打开多个连接（多个标签页）。
type Hub struct {
	clients    map[string]map[*Client]struct{}
	register   chan *Client
	unregister chan *Client
	done       chan struct{} // Run 退出后关闭
	lock       sync.RWMutex
	upgrader   websocket.Upgrader
}

func NewHub() *Hub {
	return &Hub{
		clients:    make(map[string]map[*Client]struct{}),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool { // 简化处理，允许所有跨域
				return true
			},
		},
	}
}

// Run 处理注册/注销，直到 ctx 结束。
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case client := <-h.register:
			h.lock.Lock()
			if h.clients[client.userID] == nil {
				h.clients[client.userID] = make(map[*Client]struct{})
			}
			h.clients[client.userID][client] = struct{}{}
			h.lock.Unlock()
			logger.Ctx(ctx).Debug().Str("user", client.userID).Msg("push client registered")
		case client := <-h.unregister:
			h.remove(client)
			logger.Ctx(ctx).Debug().Str("user", client.userID).Msg("push client unregistered")
		case <-ctx.Done():
			h.lock.Lock()
			for userID, set := range h.clients {
				for c := range set {
					close(c.send)
				}
				delete(h.clients, userID)
			}
			h.lock.Unlock()
			return
		}
	}
}

func (h *Hub) remove(client *Client) {
	h.lock.Lock()
	defer h.lock.Unlock()
	set, ok := h.clients[client.userID]
	if !ok {
		return
	}
	if _, ok := set[client]; ok {
		delete(set, client)
		close(client.send)
	}
	if len(set) == 0 {
		delete(h.clients, client.userID)
	}
}

// IsOnline 判断用户当前是否有连接。
func (h *Hub) IsOnline(userID string) bool {
	h.lock.RLock()
	defer h.lock.RUnlock()
	return len(h.clients[userID]) > 0
}

// SendToUser 把消息投递到用户的所有连接，不阻塞调用方。
func (h *Hub) SendToUser(userID string, payload []byte) error {
	h.lock.RLock()
	defer h.lock.RUnlock()

	set := h.clients[userID]
	if len(set) == 0 {
		return ErrUserOffline
	}
	var err error
	for c := range set {
		select {
		case c.send <- payload:
		default:
			err = ErrSendBuffer
		}
	}
	return err
}

// ServeWs 把 HTTP 请求升级为 WebSocket，并注册到 Hub。
func (h *Hub) ServeWs(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("userId")
	if userID == "" {
		http.Error(w, "userId is required", http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Ctx(r.Context()).Error().Err(err).Msg("websocket upgrade failed")
		return
	}

	client := &Client{hub: h, conn: conn, send: make(chan []byte, sendBuffer), userID: userID}
	select {
	case h.register <- client:
	case <-h.done:
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}

// Client 是一个 WebSocket 连接的代表
type Client struct {
	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte
	userID string
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Hub 关闭了这个 channel
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump 只处理心跳，客户端不会发送业务消息。
func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
