package service

import (
	"context"

	"parley/internal/ai"
	"parley/internal/model"
)

// ContextWindowBuilder 上下文窗口构建器
// 只读投影，无副作用，不同对话可并发调用
type ContextWindowBuilder struct {
	store Store
}

// NewContextWindowBuilder 创建上下文窗口构建器
func NewContextWindowBuilder(store Store) *ContextWindowBuilder {
	return &ContextWindowBuilder{store: store}
}

// Build 构建发给模型的有界上下文
// 取最近 maxTurns 条消息（正序），只保留 user/assistant 角色，
// system 通知保留在会话记录中但不进入生成上下文。
// 返回的列表永远不以 assistant 结尾
func (b *ContextWindowBuilder) Build(ctx context.Context, conversationID string, maxTurns int) ([]ai.Turn, error) {
	msgs, err := b.store.LoadRecentMessages(ctx, conversationID, maxTurns)
	if err != nil {
		return nil, err
	}

	turns := toTurns(msgs)

	// 窗口边界切断了一个 user/assistant 配对时，向前多取一条补齐
	if len(turns) > 0 && turns[0].Role == model.RoleAssistant && len(msgs) == maxTurns {
		extended, err := b.store.LoadRecentMessages(ctx, conversationID, maxTurns+1)
		if err != nil {
			return nil, err
		}
		turns = toTurns(extended)
	}

	// 不允许以 assistant 结尾
	for len(turns) > 0 && turns[len(turns)-1].Role == model.RoleAssistant {
		turns = turns[:len(turns)-1]
	}

	return turns, nil
}

// toTurns 过滤出进入生成上下文的角色
// 遇到 system 通知（如清空上下文）时丢弃之前的轮次
func toTurns(msgs []model.Message) []ai.Turn {
	turns := make([]ai.Turn, 0, len(msgs))
	for _, m := range msgs {
		if m.Role == model.RoleSystem {
			turns = turns[:0]
			continue
		}
		if m.Role != model.RoleUser && m.Role != model.RoleAssistant {
			continue
		}
		turns = append(turns, ai.Turn{Role: m.Role, Content: m.Content})
	}
	return turns
}
