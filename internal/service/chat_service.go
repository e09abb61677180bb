package service

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"parley/internal/ai"
	"parley/internal/config"
	"parley/internal/model"
	"parley/internal/pkg/apperr"
)

const titleMaxRunes = 30

// ChatService 对话服务 - 业务逻辑层
// 职责: 编排一轮完整的交换（用户发言 -> 生成 -> 助手回复落库）
// 同一对话内的交换串行，不同对话并发互不影响
type ChatService struct {
	cfg     *config.Config
	store   Store
	gen     Generator
	builder *ContextWindowBuilder
	locks   convLocker
}

// NewChatService 创建对话服务
func NewChatService(cfg *config.Config, store Store, gen Generator) *ChatService {
	return &ChatService{
		cfg:     cfg,
		store:   store,
		gen:     gen,
		builder: NewContextWindowBuilder(store),
	}
}

// Exchange 处理一轮交换
// sink 为 nil 时阻塞到生成完成；非 nil 时增量片段经 sink 推送。
// 交换一旦被接受，客户端断开不会中止生成，完整回复照常落库；
// 生成受 ai.generate_timeout 硬超时约束
func (s *ChatService) Exchange(ctx context.Context, userID string, req *model.ChatRequest, sink Sink) (*model.ChatResponse, error) {
	message := strings.TrimSpace(req.Message)
	if message == "" {
		return nil, apperr.Validation("message is required")
	}
	if utf8.RuneCountInString(message) > s.cfg.Chat.MaxMessageLength {
		return nil, apperr.Validation("message exceeds maximum length")
	}

	// 校验通过后写入与生成不再跟随客户端取消
	dctx := context.WithoutCancel(ctx)

	conv, err := s.resolveConversation(ctx, dctx, userID, req, message)
	if err != nil {
		return nil, err
	}
	conversationID := conv.ID.Hex()

	logger := log.With().
		Str("conversation_id", conversationID).
		Str("user_id", userID).
		Logger()

	mu := s.locks.lock(conversationID)
	defer mu.Unlock()

	// 1. 用户发言落库
	userMsg := &model.Message{
		ConversationID: conv.ID,
		UserID:         userID,
		Role:           model.RoleUser,
		Content:        message,
		ContentType:    contentType(req),
		AudioURL:       req.AudioURL,
		AudioDuration:  req.AudioDuration,
		Status:         model.StatusSent,
	}
	if err := s.store.AppendMessage(dctx, userMsg); err != nil {
		logger.Error().Err(err).Msg("failed to save user message")
		return nil, err
	}

	// 2. 构建上下文窗口（含刚落库的用户发言）
	turns, err := s.builder.Build(dctx, conversationID, s.cfg.Chat.ContextWindow)
	if err != nil {
		return nil, err
	}

	opts := s.mergeOptions(conv, req.Options)
	aiReq := &ai.ChatRequest{Turns: turns, Options: opts}

	// 3. 生成
	genCtx, cancel := context.WithTimeout(dctx, s.cfg.AI.GenerateTimeout)
	defer cancel()

	var reply string
	var usage *model.TokenUsage
	if sink == nil {
		resp, err := s.gen.Chat(genCtx, aiReq)
		if err != nil {
			logger.Error().Err(err).Msg("AI chat failed")
			return nil, err
		}
		reply = resp.Content
		usage = resp.Usage
	} else {
		reply, usage, err = s.streamExchange(ctx, genCtx, aiReq, sink, logger)
		if err != nil {
			logger.Error().Err(err).Msg("AI stream failed")
			return nil, err
		}
	}

	if strings.TrimSpace(reply) == "" {
		return nil, apperr.Provider("AI returned an empty reply", nil)
	}

	// 4. 助手回复落库（失败时用户发言保留，重发即可恢复）
	assistantMsg := &model.Message{
		ConversationID: conv.ID,
		UserID:         userID,
		Role:           model.RoleAssistant,
		Content:        reply,
		ContentType:    model.ContentText,
		Status:         model.StatusSent,
		Model:          opts.Model,
	}
	if usage != nil {
		assistantMsg.TokensUsed = usage.TotalTokens
	}
	if err := s.store.AppendMessage(dctx, assistantMsg); err != nil {
		logger.Error().Err(err).Msg("failed to save assistant message")
		return nil, err
	}

	// 5. 统计字段尽力更新，失败不影响本轮结果
	if err := s.store.UpdateConversationSummary(dctx, conversationID,
		truncateRunes(reply, 100), time.Now(), 2, req.AudioDuration); err != nil {
		logger.Warn().Err(err).Msg("failed to update conversation summary")
	}

	rec := &model.UsageRecord{
		UserID:    userID,
		Service:   s.gen.Provider(),
		Operation: "chat",
		Model:     opts.Model,
	}
	if usage != nil {
		rec.TokensUsed = usage.TotalTokens
	}
	if err := s.store.RecordUsage(dctx, rec); err != nil {
		logger.Warn().Err(err).Msg("failed to record usage")
	}

	if usage != nil {
		logger.Info().
			Int("prompt_tokens", usage.PromptTokens).
			Int("completion_tokens", usage.CompletionTokens).
			Msg("exchange completed")
	} else {
		logger.Info().Msg("exchange completed")
	}

	return &model.ChatResponse{
		Reply:          reply,
		ConversationID: conversationID,
		Model:          opts.Model,
		Usage:          usage,
	}, nil
}

// streamExchange 消费流式生成并向 sink 推送增量
// sink 推送失败或请求方断开只停止推送，流继续读完以便完整落库
func (s *ChatService) streamExchange(ctx, genCtx context.Context, req *ai.ChatRequest, sink Sink, logger zerolog.Logger) (string, *model.TokenUsage, error) {
	chunks, errs := s.gen.ChatStream(genCtx, req)

	var b strings.Builder
	var usage *model.TokenUsage
	delivering := true
	index := 0

	for chunk := range chunks {
		if chunk.Done {
			usage = chunk.Usage
			continue
		}
		b.WriteString(chunk.Content)

		if delivering && ctx.Err() == nil {
			if err := sink.Chunk(chunk.Content, index); err != nil {
				logger.Warn().Err(err).Msg("delivery sink failed, generation continues")
				delivering = false
			}
		}
		index++
	}

	if err := <-errs; err != nil {
		return "", nil, err
	}
	return b.String(), usage, nil
}

// resolveConversation 加载已有对话或新建对话
func (s *ChatService) resolveConversation(ctx, dctx context.Context, userID string, req *model.ChatRequest, message string) (*model.Conversation, error) {
	if req.ConversationID != "" {
		return s.store.LoadConversation(ctx, req.ConversationID, userID)
	}

	title := truncateRunes(message, titleMaxRunes)
	if title == "" {
		title = s.cfg.Chat.DefaultTitle
	}

	conv := &model.Conversation{
		UserID:      userID,
		Title:       title,
		Status:      model.ConversationActive,
		Model:       s.cfg.AI.Model,
		Temperature: s.cfg.AI.Options.Temperature,
	}
	if err := s.store.CreateConversation(dctx, conv); err != nil {
		return nil, err
	}
	return conv, nil
}

// mergeOptions 合并对话级参数与单次请求覆写
func (s *ChatService) mergeOptions(conv *model.Conversation, override *model.ChatOptions) *ai.ChatOptions {
	opts := &ai.ChatOptions{
		Model:       conv.Model,
		Temperature: conv.Temperature,
		MaxTokens:   s.cfg.AI.Options.MaxTokens,
	}
	if opts.Model == "" {
		opts.Model = s.cfg.AI.Model
	}
	if opts.Temperature == 0 {
		opts.Temperature = s.cfg.AI.Options.Temperature
	}

	if override != nil {
		if override.Model != "" {
			opts.Model = override.Model
		}
		if override.Temperature > 0 {
			opts.Temperature = override.Temperature
		}
		if override.MaxTokens > 0 {
			opts.MaxTokens = override.MaxTokens
		}
	}
	return opts
}

func contentType(req *model.ChatRequest) string {
	if req.AudioURL != "" {
		return model.ContentAudio
	}
	return model.ContentText
}

// truncateRunes 按字符数截断
func truncateRunes(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}
