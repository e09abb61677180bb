package model

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// 对话状态
const (
	ConversationActive   = "active"
	ConversationArchived = "archived"
)

// 消息角色
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// 消息内容类型
const (
	ContentText  = "text"
	ContentAudio = "audio"
)

// 消息投递状态
const (
	StatusSending = "sending"
	StatusSent    = "sent"
	StatusFailed  = "failed"
)

// Conversation 对话实体
// 每次完成一轮交换后由 ChatService 更新统计字段，
// 同一对话的并发交换被串行化，不会出现并发更新
type Conversation struct {
	ID            primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	UserID        string             `bson:"user_id" json:"user_id"`
	Title         string             `bson:"title" json:"title"`
	Status        string             `bson:"status" json:"status"` // active, archived
	MessageCount  int                `bson:"message_count" json:"message_count"`
	Duration      int                `bson:"duration" json:"duration"` // 累计语音时长（秒）
	LastMessage   string             `bson:"last_message,omitempty" json:"last_message,omitempty"`
	LastMessageAt *time.Time         `bson:"last_message_at,omitempty" json:"last_message_at,omitempty"`
	Model         string             `bson:"model" json:"model"`
	Temperature   float64            `bson:"temperature" json:"temperature"`
	CreatedAt     time.Time          `bson:"created_at" json:"created_at"`
	UpdatedAt     time.Time          `bson:"updated_at" json:"updated_at"`
}

// Message 消息实体（append-only）
// 只有 usage 元数据回填和失败标记会修改已写入的消息
type Message struct {
	ID             primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	ConversationID primitive.ObjectID `bson:"conversation_id" json:"conversation_id"`
	UserID         string             `bson:"user_id" json:"user_id"`
	Role           string             `bson:"role" json:"role"`                 // user, assistant, system
	Content        string             `bson:"content" json:"content"`
	ContentType    string             `bson:"content_type" json:"content_type"` // text, audio
	AudioURL       string             `bson:"audio_url,omitempty" json:"audio_url,omitempty"`
	AudioDuration  int                `bson:"audio_duration,omitempty" json:"audio_duration,omitempty"` // 秒
	Status         string             `bson:"status" json:"status"`             // sending, sent, failed
	Model          string             `bson:"model,omitempty" json:"model,omitempty"`
	TokensUsed     int                `bson:"tokens_used,omitempty" json:"tokens_used,omitempty"`
	Cost           float64            `bson:"cost,omitempty" json:"cost,omitempty"`
	CreatedAt      time.Time          `bson:"created_at" json:"created_at"`
}

// UsageRecord 用量记录（write-once）
// 每次成功的 AI 调用后写入，用于配额和账单统计，引擎本身不读取
type UsageRecord struct {
	ID         primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	UserID     string             `bson:"user_id" json:"user_id"`
	Service    string             `bson:"service" json:"service"`     // openai, azure, ark
	Operation  string             `bson:"operation" json:"operation"` // chat, asr, tts
	Model      string             `bson:"model,omitempty" json:"model,omitempty"`
	TokensUsed int                `bson:"tokens_used,omitempty" json:"tokens_used,omitempty"`
	Characters int                `bson:"characters,omitempty" json:"characters,omitempty"`
	Seconds    int                `bson:"seconds,omitempty" json:"seconds,omitempty"`
	Requests   int                `bson:"requests" json:"requests"`
	Date       time.Time          `bson:"date" json:"date"` // 按天归档
	CreatedAt  time.Time          `bson:"created_at" json:"created_at"`
}
