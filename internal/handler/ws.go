package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"parley/internal/model"
	"parley/internal/pkg/apperr"
	"parley/internal/pkg/ctxutil"
	"parley/internal/pkg/ratelimit"
)

const (
	wsWriteWait      = 10 * time.Second
	wsPongWait       = 60 * time.Second
	wsPingPeriod     = 54 * time.Second
	wsMaxMessageSize = 64 * 1024
)

// WSHandler WebSocket 双工对话处理器
// 一条连接上顺序承载多轮交换，每帧独立校验和限流
type WSHandler struct {
	svc       Exchanger
	expensive *ratelimit.Registry
	upgrader  websocket.Upgrader
}

// NewWSHandler 创建 WebSocket 处理器
func NewWSHandler(svc Exchanger, expensive *ratelimit.Registry) *WSHandler {
	return &WSHandler{
		svc:       svc,
		expensive: expensive,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// Serve 建立 WebSocket 连接并处理入站帧
// @Summary      双工对话连接
// @Description  建立 WebSocket 连接，一条连接顺序处理多轮交换
// @Tags         对话
// @Security     BearerAuth
// @Router       /api/v1/chat/ws [get]
func (h *WSHandler) Serve(c *gin.Context) {
	userID, ok := ctxutil.GetUserID(c.Request.Context())
	if !ok {
		writeError(c, apperr.Authentication("Authentication required"))
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	logger := log.With().Str("user_id", userID).Logger()
	logger.Info().Msg("websocket connected")

	session := &wsSession{
		conn:      conn,
		userID:    userID,
		svc:       h.svc,
		expensive: h.expensive,
	}
	session.run(c)

	logger.Info().Msg("websocket disconnected")
}

// wsSession 单条连接的会话状态
type wsSession struct {
	conn      *websocket.Conn
	userID    string
	svc       Exchanger
	expensive *ratelimit.Registry
}

func (s *wsSession) run(c *gin.Context) {
	defer s.conn.Close()

	s.conn.SetReadLimit(wsMaxMessageSize)
	s.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	// 心跳保活，连接关闭时随 ReadMessage 出错退出
	stopPing := make(chan struct{})
	defer close(stopPing)
	go s.pingLoop(stopPing)

	// 入站帧按到达顺序逐个处理，同一连接内的交换天然串行
	for {
		var req model.ChatRequest
		if err := s.conn.ReadJSON(&req); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn().Err(err).Str("user_id", s.userID).Msg("websocket read failed")
			}
			return
		}
		s.conn.SetReadDeadline(time.Now().Add(wsPongWait))

		if !s.expensive.Allow("user:" + s.userID) {
			s.writeFrame(&model.WSFrame{
				Type:       "error",
				Message:    "Rate limit exceeded, please slow down",
				RetryAfter: retrySeconds(s.expensive.RetryAfter()),
			})
			continue
		}

		resp, err := s.svc.Exchange(c.Request.Context(), s.userID, &req, nil)
		if err != nil {
			e := apperr.AsError(err)
			frame := &model.WSFrame{Type: "error", Message: e.Message}
			if e.RetryAfter > 0 {
				frame.RetryAfter = retrySeconds(e.RetryAfter)
			}
			if !s.writeFrame(frame) {
				return
			}
			continue
		}

		if !s.writeFrame(&model.WSFrame{Type: "message", Data: resp}) {
			return
		}
	}
}

func (s *wsSession) pingLoop(stop <-chan struct{}) {
	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				return
			}
		case <-stop:
			return
		}
	}
}

func (s *wsSession) writeFrame(frame *model.WSFrame) bool {
	s.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	if err := s.conn.WriteJSON(frame); err != nil {
		log.Warn().Err(err).Str("user_id", s.userID).Msg("websocket write failed")
		return false
	}
	return true
}

func retrySeconds(d time.Duration) int {
	seconds := int(d.Seconds())
	if seconds < 1 {
		seconds = 1
	}
	return seconds
}
