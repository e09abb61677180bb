package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"parley/internal/model"
	"parley/internal/pkg/apperr"
	"parley/internal/pkg/ctxutil"
	"parley/internal/service"
)

// Exchanger 交换协调器
type Exchanger interface {
	Exchange(ctx context.Context, userID string, req *model.ChatRequest, sink service.Sink) (*model.ChatResponse, error)
}

// ChatHandler 对话处理器
type ChatHandler struct {
	svc Exchanger
}

// NewChatHandler 创建对话处理器
func NewChatHandler(svc Exchanger) *ChatHandler {
	return &ChatHandler{svc: svc}
}

// Chat 同步对话接口
// @Summary      发送消息
// @Description  发送一条消息，阻塞到生成完成后返回完整回复
// @Tags         对话
// @Accept       json
// @Produce      json
// @Param        request  body      model.ChatRequest  true  "对话请求"
// @Success      200      {object}  model.ChatResponse
// @Failure      400      {object}  model.ErrorResponse
// @Failure      404      {object}  model.ErrorResponse
// @Failure      429      {object}  model.ErrorResponse
// @Failure      502      {object}  model.ErrorResponse
// @Security     BearerAuth
// @Router       /api/v1/chat [post]
func (h *ChatHandler) Chat(c *gin.Context) {
	userID, ok := ctxutil.GetUserID(c.Request.Context())
	if !ok {
		writeError(c, apperr.Authentication("Authentication required"))
		return
	}

	var req model.ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, model.ErrorResponse{
			Code:    40001,
			Message: "Invalid request body",
			Detail:  err.Error(),
		})
		return
	}

	resp, err := h.svc.Exchange(c.Request.Context(), userID, &req, nil)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// Stream 流式对话接口 (SSE)
// @Summary      流式发送消息
// @Description  发送一条消息，增量回复以 SSE 事件推送
// @Tags         对话
// @Accept       json
// @Produce      text/event-stream
// @Param        request  body      model.ChatRequest  true  "对话请求"
// @Success      200      {object}  model.StreamEvent
// @Failure      400      {object}  model.ErrorResponse
// @Security     BearerAuth
// @Router       /api/v1/chat/stream [post]
func (h *ChatHandler) Stream(c *gin.Context) {
	userID, ok := ctxutil.GetUserID(c.Request.Context())
	if !ok {
		writeError(c, apperr.Authentication("Authentication required"))
		return
	}

	var req model.ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, model.ErrorResponse{
			Code:    40001,
			Message: "Invalid request body",
			Detail:  err.Error(),
		})
		return
	}

	// 设置 SSE headers
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	sink := newSSESink(c)

	resp, err := h.svc.Exchange(c.Request.Context(), userID, &req, sink)
	if err != nil {
		e := apperr.AsError(err)
		sink.writeEvent(&model.StreamEvent{Type: "error", Message: e.Message})
		return
	}

	sink.writeEvent(&model.StreamEvent{Type: "done", ConversationID: resp.ConversationID})
}

// sseSink 把增量片段写成 SSE 事件
type sseSink struct {
	writer  gin.ResponseWriter
	flusher http.Flusher
}

func newSSESink(c *gin.Context) *sseSink {
	flusher, _ := c.Writer.(http.Flusher)
	return &sseSink{writer: c.Writer, flusher: flusher}
}

// Chunk 推送一个增量片段
func (s *sseSink) Chunk(content string, index int) error {
	return s.writeEvent(&model.StreamEvent{Type: "chunk", Content: content, Index: index})
}

func (s *sseSink) writeEvent(event *model.StreamEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(s.writer, "data: %s\n\n", data); err != nil {
		return err
	}
	if s.flusher != nil {
		s.flusher.Flush()
	}
	return nil
}
