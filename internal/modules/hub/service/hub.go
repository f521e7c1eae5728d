package service

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"options_bot/internal/models"
	"options_bot/pkg/logger"
	"options_bot/pkg/sched"
)

const writeWait = 10 * time.Second

type Config struct {
	QueueSize         int
	HeartbeatInterval time.Duration
}

func DefaultConfig() Config {
	return Config{QueueSize: 64, HeartbeatInterval: 30 * time.Second}
}

// Hub раздаёт события движка всем подключённым websocket-клиентам.
// У каждого клиента своя очередь; кто не успевает читать, отключается.
type Hub struct {
	cfg      Config
	sch      *sched.Scheduler
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[string]*client
	greeter func() models.Event
}

type client struct {
	id   string
	conn *websocket.Conn
	send chan []byte
	once sync.Once
}

type heartbeat struct {
	Type string    `json:"type"`
	Time time.Time `json:"time"`
}

func New(sch *sched.Scheduler, cfg Config) *Hub {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultConfig().QueueSize
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = DefaultConfig().HeartbeatInterval
	}
	return &Hub{
		cfg: cfg,
		sch: sch,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
		clients: make(map[string]*client),
	}
}

// SetGreeter: событие, которое получает каждый новый клиент сразу после подключения.
func (h *Hub) SetGreeter(fn func() models.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.greeter = fn
}

func (h *Hub) Publish(ev models.Event) {
	data, err := sonic.Marshal(ev)
	if err != nil {
		logger.Error("[HUB] marshal %s: %v", ev.Type, err)
		return
	}
	h.broadcast(data)
}

func (h *Hub) broadcast(data []byte) {
	var slow []*client

	h.mu.RLock()
	for _, c := range h.clients {
		select {
		case c.send <- data:
		default:
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range slow {
		logger.Warn("[HUB] client %s is too slow, dropping", c.id)
		h.remove(c)
	}
}

// ServeHTTP поднимает websocket и держит его до отключения клиента.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn("[HUB] upgrade: %v", err)
		return
	}

	c := &client{
		id:   uuid.NewString(),
		conn: conn,
		send: make(chan []byte, h.cfg.QueueSize),
	}

	h.mu.RLock()
	greeter := h.greeter
	h.mu.RUnlock()
	if greeter != nil {
		if data, err := sonic.Marshal(greeter()); err == nil {
			c.send <- data
		}
	}

	h.mu.Lock()
	h.clients[c.id] = c
	total := len(h.clients)
	h.mu.Unlock()
	logger.Info("[HUB] client %s connected, total %d", c.id, total)

	go h.writePump(c)
	h.readPump(c)
}

// readPump только ловит закрытие: входящие сообщения не нужны.
func (h *Hub) readPump(c *client) {
	defer h.remove(c)
	c.conn.SetReadLimit(4096)
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writePump(c *client) {
	defer h.remove(c)
	for msg := range c.send {
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
}

func (h *Hub) remove(c *client) {
	c.once.Do(func() {
		h.mu.Lock()
		delete(h.clients, c.id)
		total := len(h.clients)
		h.mu.Unlock()

		close(c.send)
		_ = c.conn.Close()
		logger.Info("[HUB] client %s disconnected, total %d", c.id, total)
	})
}

// Run шлёт heartbeat всем клиентам, пока жив ctx.
func (h *Hub) Run(ctx context.Context) {
	h.sch.Every(ctx, h.cfg.HeartbeatInterval, func(context.Context) {
		data, err := sonic.Marshal(heartbeat{Type: "heartbeat", Time: h.sch.Now()})
		if err != nil {
			return
		}
		h.broadcast(data)
	})
}

func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) Close() {
	h.mu.RLock()
	all := make([]*client, 0, len(h.clients))
	for _, c := range h.clients {
		all = append(all, c)
	}
	h.mu.RUnlock()

	for _, c := range all {
		h.remove(c)
	}
}
