package ai

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"parley/internal/ai/component"
	"parley/internal/config"
	appmodel "parley/internal/model"
)

// ChatChain 对话链
// 职责: 将对话上下文转换为模型消息并调用 ChatModel
type ChatChain struct {
	cfg       *config.AIConfig
	chatModel model.BaseChatModel
}

// NewChatChain 创建对话链
func NewChatChain(ctx context.Context, cfg *config.AIConfig) (*ChatChain, error) {
	chatModel, err := component.NewChatModel(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create chat model: %w", err)
	}

	return &ChatChain{
		cfg:       cfg,
		chatModel: chatModel,
	}, nil
}

// Run 同步执行对话
func (c *ChatChain) Run(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	messages := buildMessages(req.Turns)

	resp, err := c.chatModel.Generate(ctx, messages, buildOptions(req.Options)...)
	if err != nil {
		return nil, err
	}

	return &ChatResponse{
		Content: resp.Content,
		Usage:   extractUsage(resp),
	}, nil
}

// Stream 流式执行对话
// 返回模型的增量消息流，调用方负责 Close
func (c *ChatChain) Stream(ctx context.Context, req *ChatRequest) (*schema.StreamReader[*schema.Message], error) {
	messages := buildMessages(req.Turns)
	return c.chatModel.Stream(ctx, messages, buildOptions(req.Options)...)
}

// buildMessages 将角色/内容对转换为 eino 消息
func buildMessages(turns []Turn) []*schema.Message {
	messages := make([]*schema.Message, 0, len(turns))
	for _, t := range turns {
		switch t.Role {
		case appmodel.RoleSystem:
			messages = append(messages, schema.SystemMessage(t.Content))
		case appmodel.RoleAssistant:
			messages = append(messages, schema.AssistantMessage(t.Content, nil))
		default:
			messages = append(messages, schema.UserMessage(t.Content))
		}
	}
	return messages
}

// buildOptions 按对话覆写模型参数
func buildOptions(opts *ChatOptions) []model.Option {
	if opts == nil {
		return nil
	}

	var options []model.Option
	if opts.Model != "" {
		options = append(options, model.WithModel(opts.Model))
	}
	if opts.Temperature > 0 {
		options = append(options, model.WithTemperature(float32(opts.Temperature)))
	}
	if opts.MaxTokens > 0 {
		options = append(options, model.WithMaxTokens(opts.MaxTokens))
	}
	return options
}

// extractUsage 提取 token 使用量
func extractUsage(msg *schema.Message) *appmodel.TokenUsage {
	if msg == nil || msg.ResponseMeta == nil || msg.ResponseMeta.Usage == nil {
		return nil
	}
	u := msg.ResponseMeta.Usage
	return &appmodel.TokenUsage{
		PromptTokens:     u.PromptTokens,
		CompletionTokens: u.CompletionTokens,
		TotalTokens:      u.TotalTokens,
	}
}
