package repository

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"parley/internal/model"
)

// MessageRepo 消息仓库
// 消息是 append-only 的，仓库不提供更新接口
type MessageRepo struct {
	collection *mongo.Collection
}

// NewMessageRepo 创建消息仓库
func NewMessageRepo(db *mongo.Database) *MessageRepo {
	return &MessageRepo{
		collection: db.Collection("messages"),
	}
}

// Append 追加消息
func (r *MessageRepo) Append(ctx context.Context, msg *model.Message) error {
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}

	result, err := r.collection.InsertOne(ctx, msg)
	if err != nil {
		return err
	}

	if oid, ok := result.InsertedID.(primitive.ObjectID); ok {
		msg.ID = oid
	}
	return nil
}

// ListRecent 查询对话最近的 limit 条消息，按时间正序返回
func (r *MessageRepo) ListRecent(ctx context.Context, conversationID string, limit int) ([]model.Message, error) {
	objectID, err := primitive.ObjectIDFromHex(conversationID)
	if err != nil {
		return nil, mongo.ErrNoDocuments
	}

	// 倒序取最近 N 条再翻转，避免全量扫描
	opts := options.Find().
		SetSort(bson.D{bson.E{Key: "created_at", Value: -1}}).
		SetLimit(int64(limit))

	cursor, err := r.collection.Find(ctx, bson.M{"conversation_id": objectID}, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var msgs []model.Message
	if err := cursor.All(ctx, &msgs); err != nil {
		return nil, err
	}

	// 翻转为正序（旧 -> 新）
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}

	return msgs, nil
}

// DeleteByConversation 删除对话下的全部消息
func (r *MessageRepo) DeleteByConversation(ctx context.Context, conversationID string) error {
	objectID, err := primitive.ObjectIDFromHex(conversationID)
	if err != nil {
		return mongo.ErrNoDocuments
	}

	_, err = r.collection.DeleteMany(ctx, bson.M{"conversation_id": objectID})
	return err
}
