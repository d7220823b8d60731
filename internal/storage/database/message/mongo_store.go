package message

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

const collectionName = "messages"

// mongoDoc messages 集合的文件格式
type mongoDoc struct {
	ID          bson.ObjectID `bson:"_id"`
	ChannelID   string        `bson:"channel_id"`
	AuthorID    string        `bson:"author_id"`
	AuthorName  string        `bson:"author_name,omitempty"`
	AuthorImage string        `bson:"author_image,omitempty"`
	Content     string        `bson:"content"`
	ClientID    string        `bson:"client_id,omitempty"`
	CreatedAt   time.Time     `bson:"created_at"`
	UpdatedAt   time.Time     `bson:"updated_at"`
}

func (d *mongoDoc) record() *Record {
	return &Record{
		ID:          d.ID.Hex(),
		ChannelID:   d.ChannelID,
		AuthorID:    d.AuthorID,
		AuthorName:  d.AuthorName,
		AuthorImage: d.AuthorImage,
		Content:     d.Content,
		ClientID:    d.ClientID,
		CreatedAt:   d.CreatedAt.UTC(),
		UpdatedAt:   d.UpdatedAt.UTC(),
	}
}

// MongoStore MongoDB 訊息存儲實作.
type MongoStore struct {
	client     *mongo.Client
	collection *mongo.Collection
}

// NewMongoStore 創建 MongoDB 訊息存儲.
func NewMongoStore(client *mongo.Client, db *mongo.Database) *MongoStore {
	return &MongoStore{
		client:     client,
		collection: db.Collection(collectionName),
	}
}

// EnsureIndexes 創建查詢與去重所需的索引.
func (s *MongoStore) EnsureIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		// 頻道 + 建立時間：列表與輪詢
		{
			Keys:    bson.D{{Key: "channel_id", Value: 1}, {Key: "created_at", Value: 1}},
			Options: options.Index().SetName("channel_time_idx"),
		},
		// 頻道 + ClientID：重送去重，只對有 client_id 的文件生效
		{
			Keys: bson.D{{Key: "channel_id", Value: 1}, {Key: "client_id", Value: 1}},
			Options: options.Index().
				SetName("channel_client_idx").
				SetUnique(true).
				SetPartialFilterExpression(bson.M{"client_id": bson.M{"$type": "string"}}),
		},
		// 作者 + 建立時間
		{
			Keys:    bson.D{{Key: "author_id", Value: 1}, {Key: "created_at", Value: -1}},
			Options: options.Index().SetName("author_time_idx"),
		},
	}

	if _, err := s.collection.Indexes().CreateMany(ctx, indexes); err != nil {
		return fmt.Errorf("創建訊息索引失敗: %w", err)
	}
	return nil
}

// Create 創建訊息，依 (channel_id, client_id) 去重.
func (s *MongoStore) Create(ctx context.Context, rec *Record) (*Record, bool, error) {
	if rec.ClientID != "" {
		existing, err := s.findByClientID(ctx, rec.ChannelID, rec.ClientID)
		if err == nil {
			return existing, false, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return nil, false, err
		}
	}

	now := time.Now().UTC()
	doc := &mongoDoc{
		ID:          bson.NewObjectID(),
		ChannelID:   rec.ChannelID,
		AuthorID:    rec.AuthorID,
		AuthorName:  rec.AuthorName,
		AuthorImage: rec.AuthorImage,
		Content:     rec.Content,
		ClientID:    rec.ClientID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if _, err := s.collection.InsertOne(ctx, doc); err != nil {
		// 併發重送：唯一索引衝突時回傳先寫入的那筆
		if mongo.IsDuplicateKeyError(err) && rec.ClientID != "" {
			existing, findErr := s.findByClientID(ctx, rec.ChannelID, rec.ClientID)
			if findErr != nil {
				return nil, false, findErr
			}
			return existing, false, nil
		}
		return nil, false, fmt.Errorf("寫入訊息失敗: %w", err)
	}
	return doc.record(), true, nil
}

func (s *MongoStore) findByClientID(ctx context.Context, channelID, clientID string) (*Record, error) {
	return s.findOne(ctx, bson.M{"channel_id": channelID, "client_id": clientID})
}

func (s *MongoStore) findOne(ctx context.Context, filter bson.M) (*Record, error) {
	var doc mongoDoc
	if err := s.collection.FindOne(ctx, filter).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("查詢訊息失敗: %w", err)
	}
	return doc.record(), nil
}

// GetByID 根據 ID 獲取訊息.
func (s *MongoStore) GetByID(ctx context.Context, id string) (*Record, error) {
	objectID, err := bson.ObjectIDFromHex(id)
	if err != nil {
		return nil, ErrNotFound
	}
	return s.findOne(ctx, bson.M{"_id": objectID})
}

// ListByChannel 列出頻道訊息（升冪）.
func (s *MongoStore) ListByChannel(ctx context.Context, q ListQuery) ([]*Record, error) {
	limit := clampLimit(q.Limit)

	filter := bson.M{"channel_id": q.ChannelID}
	order := -1
	if !q.Since.IsZero() {
		filter["created_at"] = bson.M{"$gte": q.Since.UTC()}
		order = 1
	}

	opts := options.Find().
		SetLimit(int64(limit)).
		SetSort(bson.D{{Key: "created_at", Value: order}, {Key: "_id", Value: order}})

	cursor, err := s.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("查詢頻道訊息失敗: %w", err)
	}
	defer cursor.Close(ctx)

	var recs []*Record
	for cursor.Next(ctx) {
		var doc mongoDoc
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("解析訊息失敗: %w", err)
		}
		recs = append(recs, doc.record())
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("讀取訊息游標失敗: %w", err)
	}

	if order < 0 {
		reverse(recs)
	}
	return recs, nil
}

// UpdateContent 更新訊息內容並回傳更新後的紀錄.
func (s *MongoStore) UpdateContent(ctx context.Context, id, content string) (*Record, error) {
	objectID, err := bson.ObjectIDFromHex(id)
	if err != nil {
		return nil, ErrNotFound
	}

	update := bson.M{"$set": bson.M{"content": content, "updated_at": time.Now().UTC()}}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var doc mongoDoc
	if err := s.collection.FindOneAndUpdate(ctx, bson.M{"_id": objectID}, update, opts).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("更新訊息失敗: %w", err)
	}
	return doc.record(), nil
}

// Delete 刪除訊息.
func (s *MongoStore) Delete(ctx context.Context, id string) (*Record, error) {
	objectID, err := bson.ObjectIDFromHex(id)
	if err != nil {
		return nil, ErrNotFound
	}

	var doc mongoDoc
	if err := s.collection.FindOneAndDelete(ctx, bson.M{"_id": objectID}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("刪除訊息失敗: %w", err)
	}
	return doc.record(), nil
}

// Ping 檢查 MongoDB 連線.
func (s *MongoStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, nil)
}

// Close 斷開 MongoDB 連線.
func (s *MongoStore) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}
