package msgsync

import (
	"context"
	"errors"

	"PPSeq/data/database"
	"PPSeq/module/chat/model"
	"PPSeq/tools/errs"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

type streamMessageTable struct{}

func (streamMessageTable) GetTableName() string { return "stream_message" }

type MongoMessageStore struct {
	db database.DBProvider
}

func NewMongoMessageStore(db database.DBProvider) *MongoMessageStore {
	return &MongoMessageStore{db: db}
}

func (m *MongoMessageStore) coll() *mongo.Collection {
	return database.Collection(m.db.DB(), streamMessageTable{})
}

// EnsureIndexes (stream, seq) 唯一，重复投递靠它去重
func (m *MongoMessageStore) EnsureIndexes(ctx context.Context) error {
	_, err := m.coll().Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "stream", Value: 1}, {Key: "seq", Value: 1}},
			Options: options.Index().SetUnique(true).SetName("uniq_stream_seq"),
		},
		{
			Keys:    bson.D{{Key: "stream", Value: 1}, {Key: "server_msg_id", Value: 1}},
			Options: options.Index().SetName("idx_stream_msgid"),
		},
	})
	if err != nil {
		return errs.WrapMsg(err, "create stream_message indexes")
	}
	return nil
}

func (m *MongoMessageStore) Save(ctx context.Context, msgs ...*model.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	docs := make([]any, 0, len(msgs))
	for _, msg := range msgs {
		docs = append(docs, msg)
	}
	_, err := m.coll().InsertMany(ctx, docs, options.InsertMany().SetOrdered(false))
	if err != nil && !onlyDuplicates(err) {
		return errs.WrapMsg(err, "save stream messages", "count", len(msgs))
	}
	return nil
}

// 无序批量插入时，全部失败项都是 11000 才算成功
func onlyDuplicates(err error) bool {
	var bwe mongo.BulkWriteException
	if errors.As(err, &bwe) {
		if bwe.WriteConcernError != nil {
			return false
		}
		for _, we := range bwe.WriteErrors {
			if we.Code != 11000 {
				return false
			}
		}
		return true
	}
	return mongo.IsDuplicateKeyError(err)
}

func (m *MongoMessageStore) MaxSeq(ctx context.Context, stream string) (int64, error) {
	var doc struct {
		Seq int64 `bson:"seq"`
	}
	err := m.coll().FindOne(ctx, bson.M{"stream": stream},
		options.FindOne().SetSort(bson.D{{Key: "seq", Value: -1}}).SetProjection(bson.M{"seq": 1}),
	).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return 0, nil
	}
	if err != nil {
		return 0, errs.WrapMsg(err, "max seq", "stream", stream)
	}
	return doc.Seq, nil
}

func (m *MongoMessageStore) Range(ctx context.Context, stream string, from, to int64, limit int) ([]*model.Message, error) {
	if limit <= 0 {
		return nil, nil
	}
	seqCond := bson.M{"$gte": from}
	if to > 0 {
		seqCond["$lte"] = to
	}
	cur, err := m.coll().Find(ctx, bson.M{"stream": stream, "seq": seqCond},
		options.Find().SetSort(bson.D{{Key: "seq", Value: 1}}).SetLimit(int64(limit)),
	)
	if err != nil {
		return nil, errs.WrapMsg(err, "range", "stream", stream, "from", from, "to", to)
	}
	var out []*model.Message
	if err := cur.All(ctx, &out); err != nil {
		return nil, errs.WrapMsg(err, "decode range", "stream", stream)
	}
	return out, nil
}

func (m *MongoMessageStore) MarkDelivered(ctx context.Context, stream string, msgIDs []string) (int64, error) {
	if len(msgIDs) == 0 {
		return 0, nil
	}
	res, err := m.coll().UpdateMany(ctx,
		bson.M{"stream": stream, "server_msg_id": bson.M{"$in": msgIDs}, "delivered": false},
		bson.M{"$set": bson.M{"delivered": true}},
	)
	if err != nil {
		return 0, errs.WrapMsg(err, "mark delivered", "stream", stream)
	}
	return res.ModifiedCount, nil
}

func (m *MongoMessageStore) Ping(ctx context.Context) error {
	return m.db.DB().Client().Ping(ctx, readpref.Primary())
}
