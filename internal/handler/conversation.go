package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"parley/internal/model"
	"parley/internal/pkg/apperr"
	"parley/internal/pkg/ctxutil"
)

const (
	defaultListLimit       = 20
	maxListLimit           = 100
	defaultTranscriptLimit = 50
	maxTranscriptLimit     = 200
)

// ConversationManager 对话管理服务
type ConversationManager interface {
	List(ctx context.Context, userID string, limit, offset int64) ([]*model.Conversation, error)
	Get(ctx context.Context, id, userID string) (*model.Conversation, error)
	Archive(ctx context.Context, id, userID string) error
	Delete(ctx context.Context, id, userID string) error
	Clear(ctx context.Context, id, userID string) error
	Transcript(ctx context.Context, id, userID string, limit int) ([]model.Message, error)
}

// ConversationHandler 对话管理处理器
type ConversationHandler struct {
	svc ConversationManager
}

// NewConversationHandler 创建对话管理处理器
func NewConversationHandler(svc ConversationManager) *ConversationHandler {
	return &ConversationHandler{svc: svc}
}

// List 获取对话列表
// @Summary      对话列表
// @Description  当前用户的对话列表，按更新时间倒序
// @Tags         对话管理
// @Produce      json
// @Param        limit   query  int  false  "数量上限"
// @Param        offset  query  int  false  "偏移量"
// @Success      200  {object}  map[string]interface{}
// @Security     BearerAuth
// @Router       /api/v1/conversations [get]
func (h *ConversationHandler) List(c *gin.Context) {
	userID, ok := ctxutil.GetUserID(c.Request.Context())
	if !ok {
		writeError(c, apperr.Authentication("Authentication required"))
		return
	}

	limit := queryInt(c, "limit", defaultListLimit, maxListLimit)
	offset := queryInt(c, "offset", 0, 1<<20)

	convs, err := h.svc.List(c.Request.Context(), userID, int64(limit), int64(offset))
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"conversations": convs,
		"total":         len(convs),
	})
}

// Get 获取对话详情
// @Summary      对话详情
// @Tags         对话管理
// @Produce      json
// @Param        id  path  string  true  "对话 ID"
// @Success      200  {object}  model.Conversation
// @Failure      404  {object}  model.ErrorResponse
// @Security     BearerAuth
// @Router       /api/v1/conversations/{id} [get]
func (h *ConversationHandler) Get(c *gin.Context) {
	userID, ok := ctxutil.GetUserID(c.Request.Context())
	if !ok {
		writeError(c, apperr.Authentication("Authentication required"))
		return
	}

	conv, err := h.svc.Get(c.Request.Context(), c.Param("id"), userID)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, conv)
}

// Archive 归档对话
// @Summary      归档对话
// @Tags         对话管理
// @Produce      json
// @Param        id  path  string  true  "对话 ID"
// @Success      200  {object}  map[string]interface{}
// @Failure      404  {object}  model.ErrorResponse
// @Security     BearerAuth
// @Router       /api/v1/conversations/{id}/archive [post]
func (h *ConversationHandler) Archive(c *gin.Context) {
	userID, ok := ctxutil.GetUserID(c.Request.Context())
	if !ok {
		writeError(c, apperr.Authentication("Authentication required"))
		return
	}

	if err := h.svc.Archive(c.Request.Context(), c.Param("id"), userID); err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Conversation archived"})
}

// Delete 删除对话
// @Summary      删除对话
// @Description  删除对话及其全部消息
// @Tags         对话管理
// @Produce      json
// @Param        id  path  string  true  "对话 ID"
// @Success      200  {object}  map[string]interface{}
// @Failure      404  {object}  model.ErrorResponse
// @Security     BearerAuth
// @Router       /api/v1/conversations/{id} [delete]
func (h *ConversationHandler) Delete(c *gin.Context) {
	userID, ok := ctxutil.GetUserID(c.Request.Context())
	if !ok {
		writeError(c, apperr.Authentication("Authentication required"))
		return
	}

	if err := h.svc.Delete(c.Request.Context(), c.Param("id"), userID); err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Conversation deleted"})
}

// Clear 清空对话上下文
// @Summary      清空上下文
// @Description  清空生成上下文，消息记录保留
// @Tags         对话管理
// @Produce      json
// @Param        id  path  string  true  "对话 ID"
// @Success      200  {object}  map[string]interface{}
// @Failure      404  {object}  model.ErrorResponse
// @Security     BearerAuth
// @Router       /api/v1/conversations/{id}/clear [post]
func (h *ConversationHandler) Clear(c *gin.Context) {
	userID, ok := ctxutil.GetUserID(c.Request.Context())
	if !ok {
		writeError(c, apperr.Authentication("Authentication required"))
		return
	}

	if err := h.svc.Clear(c.Request.Context(), c.Param("id"), userID); err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Context cleared"})
}

// Messages 获取对话消息记录
// @Summary      消息记录
// @Description  对话最近的消息，按时间正序
// @Tags         对话管理
// @Produce      json
// @Param        id     path   string  true   "对话 ID"
// @Param        limit  query  int     false  "数量上限"
// @Success      200  {object}  map[string]interface{}
// @Failure      404  {object}  model.ErrorResponse
// @Security     BearerAuth
// @Router       /api/v1/conversations/{id}/messages [get]
func (h *ConversationHandler) Messages(c *gin.Context) {
	userID, ok := ctxutil.GetUserID(c.Request.Context())
	if !ok {
		writeError(c, apperr.Authentication("Authentication required"))
		return
	}

	limit := queryInt(c, "limit", defaultTranscriptLimit, maxTranscriptLimit)

	msgs, err := h.svc.Transcript(c.Request.Context(), c.Param("id"), userID, limit)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"messages": msgs,
		"total":    len(msgs),
	})
}

// queryInt 解析 query 中的整数参数并限定范围
func queryInt(c *gin.Context, key string, def, max int) int {
	raw := c.Query(key)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return def
	}
	if n > max {
		return max
	}
	return n
}
