package ws

import (
	"encoding/json"
	"log"
	"sync"

	"github.com/gorilla/websocket"
)

// Hub 按仓库分组的 websocket 连接，用于推送分析进度
type Hub struct {
	// 同一仓库可以被多个连接订阅（多标签页、多个用户）
	clients map[int64]map[*Client]struct{}
	mu      sync.RWMutex
}

type Client struct {
	RepositoryID int64
	UserID       int64
	Conn         *websocket.Conn
	mu           sync.Mutex // 写锁，防止并发写入
}

type Message struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

func NewHub() *Hub {
	return &Hub{
		clients: make(map[int64]map[*Client]struct{}),
	}
}

func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.clients[client.RepositoryID] == nil {
		h.clients[client.RepositoryID] = make(map[*Client]struct{})
	}
	h.clients[client.RepositoryID][client] = struct{}{}

	log.Printf("User %d subscribed to repository %d, repo_conns: %d, total: %d",
		client.UserID, client.RepositoryID, len(h.clients[client.RepositoryID]), h.countLocked())
}

func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if conns, ok := h.clients[client.RepositoryID]; ok {
		delete(conns, client)
		if len(conns) == 0 {
			delete(h.clients, client.RepositoryID)
		}
	}
	log.Printf("User %d unsubscribed from repository %d", client.UserID, client.RepositoryID)
}

// SendToRepository 向订阅指定仓库的所有连接发送消息
func (h *Hub) SendToRepository(repositoryID int64, msg *Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	h.mu.RLock()
	conns, ok := h.clients[repositoryID]
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
			log.Printf("SendToRepository write error for repository %d: %v", repositoryID, err)
		}
	}
	return nil
}

// HasSubscribers 检查仓库是否有订阅者
func (h *Hub) HasSubscribers(repositoryID int64) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	conns, ok := h.clients[repositoryID]
	return ok && len(conns) > 0
}

// ConnectionCount 获取在线连接数
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.countLocked()
}

func (h *Hub) countLocked() int {
	total := 0
	for _, conns := range h.clients {
		total += len(conns)
	}
	return total
}
