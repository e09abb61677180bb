package model

// ChatResponse 对话响应
type ChatResponse struct {
	Reply          string      `json:"reply"`
	ConversationID string      `json:"conversation_id"`
	Model          string      `json:"model,omitempty"`
	Usage          *TokenUsage `json:"usage,omitempty"`
}

// ErrorResponse 错误响应
type ErrorResponse struct {
	Code       int    `json:"code"`
	Message    string `json:"message"`
	Detail     string `json:"detail,omitempty"`
	RetryAfter int    `json:"retry_after,omitempty"` // 秒，仅限流/可重试错误携带
}

// TokenUsage Token 使用统计
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ChatChunk 流式对话片段
type ChatChunk struct {
	Content string      `json:"content,omitempty"`
	Done    bool        `json:"done,omitempty"`
	Usage   *TokenUsage `json:"usage,omitempty"`
}

// StreamEvent SSE 事件载荷
// chunk: {type:"chunk", content, index}
// done:  {type:"done", conversation_id}
// error: {type:"error", message}
type StreamEvent struct {
	Type           string `json:"type"`
	Content        string `json:"content,omitempty"`
	Index          int    `json:"index,omitempty"`
	ConversationID string `json:"conversation_id,omitempty"`
	Message        string `json:"message,omitempty"`
}

// WSFrame WebSocket 出站帧
// message: {type:"message", data:<ChatResponse>}
// error:   {type:"error", message}
type WSFrame struct {
	Type       string        `json:"type"`
	Data       *ChatResponse `json:"data,omitempty"`
	Message    string        `json:"message,omitempty"`
	RetryAfter int           `json:"retry_after,omitempty"`
}
