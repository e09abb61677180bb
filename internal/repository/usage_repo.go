package repository

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"

	"parley/internal/model"
)

// UsageRepo 用量记录仓库（write-once）
type UsageRepo struct {
	collection *mongo.Collection
}

// NewUsageRepo 创建用量记录仓库
func NewUsageRepo(db *mongo.Database) *UsageRepo {
	return &UsageRepo{
		collection: db.Collection("usage_records"),
	}
}

// Record 写入一条用量记录
func (r *UsageRepo) Record(ctx context.Context, rec *model.UsageRecord) error {
	now := time.Now()
	rec.CreatedAt = now
	if rec.Date.IsZero() {
		rec.Date = now.Truncate(24 * time.Hour)
	}
	if rec.Requests == 0 {
		rec.Requests = 1
	}

	result, err := r.collection.InsertOne(ctx, rec)
	if err != nil {
		return err
	}

	if oid, ok := result.InsertedID.(primitive.ObjectID); ok {
		rec.ID = oid
	}
	return nil
}
