package monitoring

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// MessageType 消息类型
type MessageType string

const (
	EpochProgress MessageType = "epoch"
	RunComplete   MessageType = "run_complete"
	RunFailed     MessageType = "run_failed"
)

// Message WebSocket消息
type Message struct {
	Type      MessageType     `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
	ID        string          `json:"id"`
}

// EpochMessage 训练轮次进度
type EpochMessage struct {
	Epoch int     `json:"epoch"`
	Error float64 `json:"error"`
}

// RunMessage 训练完成或失败通知
type RunMessage struct {
	RunID      int64   `json:"run_id,omitempty"`
	Epochs     int     `json:"epochs"`
	FinalError float64 `json:"final_error"`
	Accuracy   float64 `json:"accuracy"`
	ModelPath  string  `json:"model_path,omitempty"`
	Error      string  `json:"error,omitempty"`
}

// ClientMessage 客户端消息，例如 {"type":"subscribe","topic":"epoch"}
type ClientMessage struct {
	Type  string `json:"type"`
	Topic string `json:"topic"`
}

// Stats 连接统计
type Stats struct {
	ConnectedClients int64     `json:"connected_clients"`
	MessagesSent     int64     `json:"messages_sent"`
	MessagesDropped  int64     `json:"messages_dropped"`
	StartTime        time.Time `json:"start_time"`
}

type client struct {
	conn     *websocket.Conn
	send     chan []byte
	clientID string

	mu            sync.RWMutex
	subscriptions map[MessageType]bool
}

// wants reports whether the client receives t. A client with no
// subscriptions receives every type.
func (c *client) wants(t MessageType) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.subscriptions) == 0 || c.subscriptions[t]
}

type envelope struct {
	kind    MessageType
	payload []byte
}

// Hub 训练进度推送中心
// Clients whose send buffer is full are disconnected so training never waits
// on them.
type Hub struct {
	clients    map[*client]bool
	broadcast  chan envelope
	register   chan *client
	unregister chan *client
	done       chan struct{}
	upgrader   websocket.Upgrader
	logger     *zap.Logger

	mu      sync.RWMutex
	started time.Time
	sent    atomic.Int64
	dropped atomic.Int64
	nextID  atomic.Int64
}

// NewHub 创建推送中心
func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		clients:    make(map[*client]bool),
		broadcast:  make(chan envelope, 256),
		register:   make(chan *client),
		unregister: make(chan *client),
		done:       make(chan struct{}),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		logger:  logger,
		started: time.Now(),
	}
}

// Run 运行推送中心，直到ctx被取消
func (h *Hub) Run(ctx context.Context) {
	defer func() {
		close(h.done)
		h.logger.Info("websocket hub stopped")
	}()

	for {
		select {
		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			total := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("client connected", zap.String("client", c.clientID), zap.Int("total", total))

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			total := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("client disconnected", zap.String("client", c.clientID), zap.Int("total", total))

		case msg := <-h.broadcast:
			h.mu.Lock()
			for c := range h.clients {
				if !c.wants(msg.kind) {
					continue
				}
				select {
				case c.send <- msg.payload:
					h.sent.Add(1)
				default:
					close(c.send)
					delete(h.clients, c)
					h.logger.Warn("dropping slow client", zap.String("client", c.clientID))
				}
			}
			h.mu.Unlock()

		case <-ctx.Done():
			h.mu.Lock()
			for c := range h.clients {
				close(c.send)
				delete(h.clients, c)
			}
			h.mu.Unlock()
			return
		}
	}
}

// HandleWebSocket 处理WebSocket连接
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	c := &client{
		conn:          conn,
		send:          make(chan []byte, 256),
		clientID:      fmt.Sprintf("client_%d", h.nextID.Add(1)),
		subscriptions: make(map[MessageType]bool),
	}

	select {
	case h.register <- c:
	case <-h.done:
		conn.Close()
		return
	}

	go c.writePump(h.logger)
	go c.readPump(h)
}

// Publish 发布消息
// The message is dropped when the broadcast queue is full.
func (h *Hub) Publish(kind MessageType, data any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("encode %s message: %w", kind, err)
	}
	payload, err := json.Marshal(Message{
		Type:      kind,
		Timestamp: time.Now(),
		Data:      raw,
		ID:        fmt.Sprintf("msg_%d", time.Now().UnixNano()),
	})
	if err != nil {
		return err
	}

	select {
	case h.broadcast <- envelope{kind: kind, payload: payload}:
	default:
		h.dropped.Add(1)
		h.logger.Debug("broadcast queue full, dropping message", zap.String("type", string(kind)))
	}
	return nil
}

// Stats 获取统计快照
func (h *Hub) Stats() Stats {
	h.mu.RLock()
	connected := len(h.clients)
	h.mu.RUnlock()
	return Stats{
		ConnectedClients: int64(connected),
		MessagesSent:     h.sent.Load(),
		MessagesDropped:  h.dropped.Load(),
		StartTime:        h.started,
	}
}

func (c *client) writePump(logger *zap.Logger) {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(30 * time.Second))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				logger.Debug("websocket write failed", zap.String("client", c.clientID), zap.Error(err))
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(30 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *client) readPump(h *Hub) {
	defer func() {
		select {
		case h.unregister <- c:
		case <-h.done:
		}
		c.conn.Close()
	}()

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.Warn("websocket read failed", zap.String("client", c.clientID), zap.Error(err))
			}
			return
		}

		var msg ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			h.logger.Debug("bad client message", zap.String("client", c.clientID), zap.Error(err))
			continue
		}
		c.handle(msg)
	}
}

func (c *client) handle(msg ClientMessage) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch msg.Type {
	case "subscribe":
		c.subscriptions[MessageType(msg.Topic)] = true
	case "unsubscribe":
		delete(c.subscriptions, MessageType(msg.Topic))
	}
}
