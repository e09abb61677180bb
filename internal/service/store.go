package service

import (
	"context"
	"time"

	"parley/internal/ai"
	"parley/internal/model"
)

// Store 持久化协作方
// 由 repository.Store 实现；测试中用内存实现替换
type Store interface {
	// LoadConversation 加载对话并校验归属，不存在或越权返回 NotFound
	LoadConversation(ctx context.Context, id, ownerID string) (*model.Conversation, error)
	// CreateConversation 创建对话，回填 ID
	CreateConversation(ctx context.Context, conv *model.Conversation) error
	// AppendMessage 追加消息，回填 ID
	AppendMessage(ctx context.Context, msg *model.Message) error
	// LoadRecentMessages 加载最近 limit 条消息，按时间正序
	LoadRecentMessages(ctx context.Context, conversationID string, limit int) ([]model.Message, error)
	// UpdateConversationSummary 更新对话统计字段
	UpdateConversationSummary(ctx context.Context, id, lastMessage string, lastMessageAt time.Time, messageDelta, durationDelta int) error
	// RecordUsage 写入用量记录
	RecordUsage(ctx context.Context, rec *model.UsageRecord) error
}

// Generator AI 生成协作方
// 由 ai.Client 实现
type Generator interface {
	// Provider 返回 provider 名称（用于用量记录）
	Provider() string
	// Chat 同步生成
	Chat(ctx context.Context, req *ai.ChatRequest) (*ai.ChatResponse, error)
	// ChatStream 流式生成，两个通道在结束时都会关闭
	ChatStream(ctx context.Context, req *ai.ChatRequest) (<-chan *model.ChatChunk, <-chan error)
}

// Sink 增量送达接收端
// 推流适配器用它把片段写给客户端；返回错误表示客户端已不可达，
// 之后协调器停止送达但不会中断生成
type Sink interface {
	Chunk(content string, index int) error
}
