package seq

import (
	"context"
	"errors"

	"PPSeq/data/database"
	"PPSeq/module/chat/model"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

const (
	sectionFieldMaxSeq  = "max_seq"
	sectionFieldStep    = "step"
	sectionFieldVersion = "version"
)

type MongoSectionStore struct {
	db database.DBProvider
}

func NewMongoSectionStore(db database.DBProvider) *MongoSectionStore {
	return &MongoSectionStore{db: db}
}

func (m *MongoSectionStore) coll() *mongo.Collection {
	return database.Collection(m.db.DB(), model.Section{})
}

// Upsert max_seq = max(max_seq, incoming)
func (m *MongoSectionStore) Upsert(ctx context.Context, s model.Section) error {
	_, err := m.coll().UpdateOne(ctx,
		bson.M{"_id": s.SectionKey},
		bson.M{
			"$max": bson.M{sectionFieldMaxSeq: s.MaxSeq},
			"$set": bson.M{sectionFieldStep: s.Step},
			"$inc": bson.M{sectionFieldVersion: int32(1)},
		},
		options.Update().SetUpsert(true),
	)
	return err
}

func (m *MongoSectionStore) Load(ctx context.Context, sectionKey string) (model.Section, bool, error) {
	var s model.Section
	err := m.coll().FindOne(ctx, bson.M{"_id": sectionKey}).Decode(&s)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return model.Section{}, false, nil
	}
	if err != nil {
		return model.Section{}, false, err
	}
	return s, true, nil
}

func (m *MongoSectionStore) Count(ctx context.Context) (int64, error) {
	return m.coll().EstimatedDocumentCount(ctx)
}

func (m *MongoSectionStore) Ping(ctx context.Context) error {
	return m.db.DB().Client().Ping(ctx, readpref.Primary())
}
