package model

import (
	"strconv"
	"strings"
)

// 会话类型
const (
	ConvTypePrivate int32 = 1 // 单聊：写扩散，进双方收件箱
	ConvTypeGroup   int32 = 2 // 群聊：读扩散，按群流存一份
)

const (
	StreamUserPrefix  = "u:"
	StreamGroupPrefix = "g:"

	BizUserPrefix  = "user_"
	BizGroupPrefix = "group_"
)

// Message 一条已分配序号的消息。Stream + Seq 唯一
type Message struct {
	ServerMsgID    string `json:"serverMsgId" bson:"server_msg_id"`       // 雪花ID
	ClientSeq      string `json:"clientSeq" bson:"client_seq"`            // 发送端本地关联ID
	ConversationID string `json:"conversationId" bson:"conversation_id"`  // p2p:lo_hi / group:<gid>
	ConvType       int32  `json:"conversationType" bson:"conversation_type"`
	Stream         string `json:"stream" bson:"stream"` // u:<uid> / g:<gid>
	Seq            int64  `json:"seq" bson:"seq"`       // 流内序号
	From           string `json:"from" bson:"from"`
	To             string `json:"to" bson:"to"` // 单聊对端 / 群ID
	Content        string `json:"content" bson:"content"`
	SendTime       int64  `json:"sendTime" bson:"send_time"` // Unix ms
	Delivered      bool   `json:"-" bson:"delivered"`        // 收到 BatchAck 后置位
}

// Envelope 发往 broker 的投递单元：一条消息 + 它要落到的各个流上的序号
type Envelope struct {
	Message Message          `json:"message"`
	Seqs    map[string]int64 `json:"seqs"` // stream -> seq
}

func (e *Envelope) Streams() []string {
	out := make([]string, 0, len(e.Seqs))
	for s := range e.Seqs {
		out = append(out, s)
	}
	return out
}

// ForStream 拷贝一份落在指定流上的消息
func (e *Envelope) ForStream(stream string) *Message {
	m := e.Message
	m.Stream = stream
	m.Seq = e.Seqs[stream]
	return &m
}

func UserStream(uid string) string  { return StreamUserPrefix + uid }
func GroupStream(gid string) string { return StreamGroupPrefix + gid }
func UserBizKey(uid string) string  { return BizUserPrefix + uid }
func GroupBizKey(gid string) string { return BizGroupPrefix + gid }

func IsGroupStream(stream string) bool { return strings.HasPrefix(stream, StreamGroupPrefix) }

// GroupOf g:<gid> -> gid
func GroupOf(stream string) string { return strings.TrimPrefix(stream, StreamGroupPrefix) }

// P2PConversationID 单聊的统一会话ID：p2p:min_max
func P2PConversationID(a, b string) string {
	lo, hi := a, b
	if lessID(hi, lo) {
		lo, hi = hi, lo
	}
	return "p2p:" + lo + "_" + hi
}

func GroupConversationID(gid string) string { return "group:" + gid }

// 数字 ID 按数值比较，否则按字典序
func lessID(a, b string) bool {
	ai, errA := strconv.ParseInt(a, 10, 64)
	bi, errB := strconv.ParseInt(b, 10, 64)
	if errA == nil && errB == nil {
		return ai < bi
	}
	return a < b
}
