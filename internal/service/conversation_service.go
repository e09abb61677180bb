package service

import (
	"context"
	"errors"

	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/mongo"

	"parley/internal/model"
	"parley/internal/pkg/apperr"
	"parley/internal/pkg/cache"
	"parley/internal/repository"
)

// ConversationService 对话管理服务
// 列表/详情/归档/删除/清空上下文，详情走 Redis 缓存
type ConversationService struct {
	convRepo *repository.ConversationRepo
	msgRepo  *repository.MessageRepo
	cache    *cache.RedisCache
}

// NewConversationService 创建对话管理服务
func NewConversationService(convRepo *repository.ConversationRepo, msgRepo *repository.MessageRepo, redisCache *cache.RedisCache) *ConversationService {
	return &ConversationService{
		convRepo: convRepo,
		msgRepo:  msgRepo,
		cache:    redisCache,
	}
}

// List 用户对话列表，按更新时间倒序
func (s *ConversationService) List(ctx context.Context, userID string, limit, offset int64) ([]*model.Conversation, error) {
	convs, err := s.convRepo.ListByUserID(ctx, userID, limit, offset)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	return convs, nil
}

// Get 对话详情，优先读缓存
func (s *ConversationService) Get(ctx context.Context, id, userID string) (*model.Conversation, error) {
	key := cache.ConversationCacheKey(id)

	if s.cache != nil {
		var cached model.Conversation
		if err := s.cache.Get(ctx, key, &cached); err == nil && cached.UserID == userID {
			return &cached, nil
		}
	}

	conv, err := s.convRepo.FindByIDForUser(ctx, id, userID)
	if err != nil {
		return nil, mapConvError(err)
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, key, conv, cache.ConversationCacheTTL); err != nil {
			log.Warn().Err(err).Str("conversation_id", id).Msg("failed to cache conversation")
		}
	}
	return conv, nil
}

// Archive 归档对话
func (s *ConversationService) Archive(ctx context.Context, id, userID string) error {
	if err := s.convRepo.SetStatus(ctx, id, userID, model.ConversationArchived); err != nil {
		return mapConvError(err)
	}
	s.invalidate(ctx, id)
	return nil
}

// Delete 删除对话及其全部消息
func (s *ConversationService) Delete(ctx context.Context, id, userID string) error {
	if err := s.convRepo.Delete(ctx, id, userID); err != nil {
		return mapConvError(err)
	}
	if err := s.msgRepo.DeleteByConversation(ctx, id); err != nil {
		log.Warn().Err(err).Str("conversation_id", id).Msg("failed to delete conversation messages")
	}
	s.invalidate(ctx, id)
	return nil
}

// Clear 清空上下文
// 追加一条 system 通知，之后的生成不再携带此前的轮次，消息记录保留
func (s *ConversationService) Clear(ctx context.Context, id, userID string) error {
	conv, err := s.convRepo.FindByIDForUser(ctx, id, userID)
	if err != nil {
		return mapConvError(err)
	}

	notice := &model.Message{
		ConversationID: conv.ID,
		UserID:         userID,
		Role:           model.RoleSystem,
		Content:        "Context cleared",
		ContentType:    model.ContentText,
		Status:         model.StatusSent,
	}
	if err := s.msgRepo.Append(ctx, notice); err != nil {
		return apperr.Internal(err)
	}
	s.invalidate(ctx, id)
	return nil
}

// Transcript 对话消息记录，按时间正序
func (s *ConversationService) Transcript(ctx context.Context, id, userID string, limit int) ([]model.Message, error) {
	if _, err := s.convRepo.FindByIDForUser(ctx, id, userID); err != nil {
		return nil, mapConvError(err)
	}

	msgs, err := s.msgRepo.ListRecent(ctx, id, limit)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	return msgs, nil
}

func (s *ConversationService) invalidate(ctx context.Context, id string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Delete(ctx, cache.ConversationCacheKey(id)); err != nil {
		log.Warn().Err(err).Str("conversation_id", id).Msg("failed to invalidate conversation cache")
	}
}

func mapConvError(err error) error {
	if errors.Is(err, mongo.ErrNoDocuments) {
		return apperr.NotFound("Conversation not found")
	}
	return apperr.Internal(err)
}
