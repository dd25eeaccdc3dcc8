package database

import "go.mongodb.org/mongo-driver/mongo"

// Table 持久化模型声明自己的表/集合名
type Table interface {
	GetTableName() string
}

// Collection 按模型取集合
func Collection(db *mongo.Database, t Table) *mongo.Collection {
	return db.Collection(t.GetTableName())
}

// DBProvider 每次操作取当前库，实现方可在重连后切换连接
type DBProvider interface {
	DB() *mongo.Database
}

type staticDB struct{ db *mongo.Database }

func (s staticDB) DB() *mongo.Database { return s.db }

// StaticDB 固定库，不随重连切换
func StaticDB(db *mongo.Database) DBProvider { return staticDB{db: db} }
