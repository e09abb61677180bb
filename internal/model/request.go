package model

// ChatRequest 对话请求
// HTTP 同步接口、SSE 流式接口与 WebSocket 入站帧共用同一形状
type ChatRequest struct {
	Message        string       `json:"message" binding:"required"`
	ConversationID string       `json:"conversation_id,omitempty"`
	AudioURL       string       `json:"audio_url,omitempty"`      // 语音消息的音频引用
	AudioDuration  int          `json:"audio_duration,omitempty"` // 秒
	Options        *ChatOptions `json:"options,omitempty"`
}

// ChatOptions 对话选项
type ChatOptions struct {
	Model       string  `json:"model,omitempty"`
	Temperature float64 `json:"temperature,omitempty"`
	MaxTokens   int     `json:"max_tokens,omitempty"`
}
