package ai

import (
	"context"
	"errors"
	"io"

	"github.com/rs/zerolog/log"

	"parley/internal/config"
	appmodel "parley/internal/model"
	"parley/internal/pkg/apperr"
)

// Client AI 能力层客户端
// 职责: 封装生成能力，统一错误语义
type Client struct {
	cfg       *config.AIConfig
	chatChain *ChatChain
}

// NewClient 创建 AI 客户端
func NewClient(ctx context.Context, cfg *config.AIConfig) (*Client, error) {
	if cfg.APIKey == "" {
		log.Warn().Msg("AI API key not configured, provider calls will fail")
	}

	chatChain, err := NewChatChain(ctx, cfg)
	if err != nil {
		return nil, err
	}

	return &Client{
		cfg:       cfg,
		chatChain: chatChain,
	}, nil
}

// Turn 上下文中的一轮发言
type Turn struct {
	Role    string
	Content string
}

// ChatRequest AI 对话请求
// Turns 为完整上下文（含最新的用户发言），按时间正序
type ChatRequest struct {
	Turns   []Turn
	Options *ChatOptions
}

// ChatResponse AI 对话响应
type ChatResponse struct {
	Content string
	Usage   *appmodel.TokenUsage
}

// ChatOptions 按对话覆写的模型参数
type ChatOptions struct {
	Model       string
	Temperature float64
	MaxTokens   int
}

// Provider 配置的 provider 名称
func (c *Client) Provider() string {
	if c.cfg.Provider == "" {
		return "openai"
	}
	return c.cfg.Provider
}

// Chat 同步对话
func (c *Client) Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	resp, err := c.chatChain.Run(ctx, req)
	if err != nil {
		return nil, mapProviderError(err)
	}
	return resp, nil
}

// ChatStream 流式对话
// 增量内容经 chunks 送出，结束时发送 Done 片段；失败经 errs 送出，两个通道都会关闭
func (c *Client) ChatStream(ctx context.Context, req *ChatRequest) (<-chan *appmodel.ChatChunk, <-chan error) {
	chunks := make(chan *appmodel.ChatChunk, 16)
	errs := make(chan error, 1)

	go func() {
		defer close(chunks)
		defer close(errs)

		reader, err := c.chatChain.Stream(ctx, req)
		if err != nil {
			errs <- mapProviderError(err)
			return
		}
		defer reader.Close()

		var usage *appmodel.TokenUsage
		for {
			msg, err := reader.Recv()
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				errs <- mapProviderError(err)
				return
			}

			// usage 通常随最后一个增量返回
			if u := extractUsage(msg); u != nil {
				usage = u
			}

			if msg.Content == "" {
				continue
			}
			select {
			case chunks <- &appmodel.ChatChunk{Content: msg.Content}:
			case <-ctx.Done():
				errs <- mapProviderError(ctx.Err())
				return
			}
		}

		chunks <- &appmodel.ChatChunk{Done: true, Usage: usage}
	}()

	return chunks, errs
}

// Close 关闭客户端
func (c *Client) Close() error {
	return nil
}

// mapProviderError 将底层错误统一为 Provider 错误
func mapProviderError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return apperr.Provider("AI generation timed out", err)
	}
	return apperr.Provider("AI service temporarily unavailable", err)
}
