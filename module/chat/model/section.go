package model

// Section 每个分片一行的持久水位。MaxSeq 只升不降，仅由持久化写入方修改
type Section struct {
	SectionKey string `bson:"_id" json:"sectionKey"`   // u_1 / g_17 / c_99
	MaxSeq     int64  `bson:"max_seq" json:"maxSeq"`  // 已持久的最大可发号（高水位）
	Step       int32  `bson:"step" json:"step"`       // 每次续段预分配的号数
	Version    int32  `bson:"version" json:"version"` // 每次写入 +1
}

func (Section) GetTableName() string {
	return "section"
}
