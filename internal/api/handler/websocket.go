package handler

import (
	"context"
	"log"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/qs3c/anal_graph_server/internal/api/middleware"
	"github.com/qs3c/anal_graph_server/internal/pkg/pubsub"
	"github.com/qs3c/anal_graph_server/internal/pkg/ws"
)

// WebSocketHandler 订阅仓库分析进度
type WebSocketHandler struct {
	hub       *ws.Hub
	jwtSecret string
	upgrader  websocket.Upgrader
}

func NewWebSocketHandler(hub *ws.Hub, jwtSecret string, allowedOrigins []string) *WebSocketHandler {
	allowed := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		allowed[o] = true
	}

	return &WebSocketHandler{
		hub:       hub,
		jwtSecret: jwtSecret,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return origin == "" || allowed["*"] || allowed[origin]
			},
		},
	}
}

// Handle WebSocket 连接处理
// GET /api/v1/ws?token=xxx&repository_id=1
func (h *WebSocketHandler) Handle(c *gin.Context) {
	userID, err := middleware.UserIDFromToken(c, h.jwtSecret)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}

	repositoryID, err := strconv.ParseInt(c.Query("repository_id"), 10, 64)
	if err != nil || repositoryID <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid repository_id"})
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("Failed to upgrade connection: %v", err)
		return
	}

	client := &ws.Client{
		RepositoryID: repositoryID,
		UserID:       userID,
		Conn:         conn,
	}
	h.hub.Register(client)

	// 只读不处理，用于感知断开
	go func() {
		defer func() {
			h.hub.Unregister(client)
			conn.Close()
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

// ForwardProgress 把 Redis 上收到的进度转发给订阅了该仓库的连接
func (h *WebSocketHandler) ForwardProgress(msg *pubsub.ProgressMessage) {
	if !h.hub.HasSubscribers(msg.RepositoryID) {
		return
	}
	if err := h.hub.SendToRepository(msg.RepositoryID, &ws.Message{Type: msg.Type, Data: msg}); err != nil {
		log.Printf("WebSocket: forward progress for job %d failed: %v", msg.JobID, err)
	}
}

// PublishProgress 单进程部署时直接作为任务进度的发布者
func (h *WebSocketHandler) PublishProgress(_ context.Context, msg *pubsub.ProgressMessage) error {
	h.ForwardProgress(msg)
	return nil
}
