package repository

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/mongo"

	"parley/internal/model"
	"parley/internal/pkg/apperr"
)

// Store 聚合三个仓库，实现 service.Store 接口
// 错误语义在这里统一：文档缺失映射为 NotFound，其余映射为 Internal
type Store struct {
	Conversations *ConversationRepo
	Messages      *MessageRepo
	Usage         *UsageRepo
}

// NewStore 创建存储聚合
func NewStore(db *mongo.Database) *Store {
	return &Store{
		Conversations: NewConversationRepo(db),
		Messages:      NewMessageRepo(db),
		Usage:         NewUsageRepo(db),
	}
}

// LoadConversation 加载对话并校验归属
func (s *Store) LoadConversation(ctx context.Context, id, ownerID string) (*model.Conversation, error) {
	conv, err := s.Conversations.FindByIDForUser(ctx, id, ownerID)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, apperr.NotFound("Conversation not found")
		}
		return nil, apperr.Internal(err)
	}
	return conv, nil
}

// CreateConversation 创建对话
func (s *Store) CreateConversation(ctx context.Context, conv *model.Conversation) error {
	if err := s.Conversations.Create(ctx, conv); err != nil {
		return apperr.Internal(err)
	}
	return nil
}

// AppendMessage 追加消息
func (s *Store) AppendMessage(ctx context.Context, msg *model.Message) error {
	if err := s.Messages.Append(ctx, msg); err != nil {
		return apperr.Internal(err)
	}
	return nil
}

// LoadRecentMessages 加载对话最近 limit 条消息，按时间正序
func (s *Store) LoadRecentMessages(ctx context.Context, conversationID string, limit int) ([]model.Message, error) {
	msgs, err := s.Messages.ListRecent(ctx, conversationID, limit)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, apperr.NotFound("Conversation not found")
		}
		return nil, apperr.Internal(err)
	}
	return msgs, nil
}

// UpdateConversationSummary 更新对话统计字段
func (s *Store) UpdateConversationSummary(ctx context.Context, id, lastMessage string, lastMessageAt time.Time, messageDelta, durationDelta int) error {
	if err := s.Conversations.UpdateSummary(ctx, id, lastMessage, lastMessageAt, messageDelta, durationDelta); err != nil {
		return apperr.Internal(err)
	}
	return nil
}

// RecordUsage 写入用量记录
func (s *Store) RecordUsage(ctx context.Context, rec *model.UsageRecord) error {
	if err := s.Usage.Record(ctx, rec); err != nil {
		return apperr.Internal(err)
	}
	return nil
}
