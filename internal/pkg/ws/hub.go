package ws

import (
	"encoding/json"
	"log"
	"sync"

	"github.com/gorilla/websocket"
)

// Hub 按任务聚合 websocket 连接，向订阅同一个 job 的所有客户端推送
// 进度与日志。一个 job 可以有多个连接（多标签页、重连等场景）。
type Hub struct {
	clients map[string]map[*Client]struct{} // key: job public ID
	mu      sync.RWMutex
}

type Client struct {
	JobPublicID string
	Conn        *websocket.Conn
	mu          sync.Mutex // 写锁，防止并发写入
}

type Message struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

func NewHub() *Hub {
	return &Hub{
		clients: make(map[string]map[*Client]struct{}),
	}
}

func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.clients[client.JobPublicID] == nil {
		h.clients[client.JobPublicID] = make(map[*Client]struct{})
	}
	h.clients[client.JobPublicID][client] = struct{}{}
}

func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if conns, ok := h.clients[client.JobPublicID]; ok {
		delete(conns, client)
		if len(conns) == 0 {
			delete(h.clients, client.JobPublicID)
		}
	}
}

// SendToJob 向订阅指定任务的所有连接发送消息
func (h *Hub) SendToJob(jobPublicID string, msg *Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	h.mu.RLock()
	conns, ok := h.clients[jobPublicID]
	if !ok {
		h.mu.RUnlock()
		return nil
	}
	// 复制一份引用，避免长时间持锁
	clients := make([]*Client, 0, len(conns))
	for c := range conns {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		c.mu.Lock()
		err := c.Conn.WriteMessage(websocket.TextMessage, data)
		c.mu.Unlock()
		if err != nil {
			log.Printf("SendToJob write error for job %s: %v", jobPublicID, err)
		}
	}
	return nil
}

// HasSubscribers 是否有客户端在关注该任务
func (h *Hub) HasSubscribers(jobPublicID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	conns, ok := h.clients[jobPublicID]
	return ok && len(conns) > 0
}

// ConnectionCount 当前连接总数
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	total := 0
	for _, conns := range h.clients {
		total += len(conns)
	}
	return total
}
