package model

const (
	DefaultPullLimit = 200
	MaxPullLimit     = 500
)

// SendRequest 客户端发送
type SendRequest struct {
	From      string `json:"from"`
	To        string `json:"to"`
	ConvType  int32  `json:"conversationType"`
	ClientSeq string `json:"clientSeq"`
	Content   string `json:"content"`
}

// SendAck 单条发送确认，按 ClientSeq 关联回待确认消息
type SendAck struct {
	ClientSeq       string `json:"clientSeq"`
	ServerMsgID     string `json:"serverMsgId"`
	ConversationSeq int64  `json:"conversationSeq"`
	ConversationID  string `json:"conversationId"`
	ConvType        int32  `json:"conversationType"`
	Stream          string `json:"stream"` // 序号所属流，单聊为发送方收件箱
}

type SyncCheckReq struct {
	UserID      string `json:"userId"`
	LastSyncSeq int64  `json:"lastSyncSeq"`
}

type SyncCheckResp struct {
	SyncNeeded bool  `json:"syncNeeded"`
	TargetSeq  int64 `json:"targetSeq"`
}

type PullReq struct {
	UserID  string `json:"userId"`
	FromSeq int64  `json:"fromSeq"`
	Limit   int    `json:"limit"`
}

type PullResp struct {
	Messages []*Message `json:"messages"`
	HasMore  bool       `json:"hasMore"`
	NextSeq  int64      `json:"nextSeq"`
}

// RangeReq 补洞：闭区间 [FromSeq, ToSeq]
type RangeReq struct {
	UserID  string `json:"userId"`
	Stream  string `json:"stream"`
	FromSeq int64  `json:"fromSeq"`
	ToSeq   int64  `json:"toSeq"`
}

type RangeResp struct {
	Messages []*Message `json:"messages"`
	FromSeq  int64      `json:"fromSeq"`
	ToSeq    int64      `json:"toSeq"`
}

type ConvSyncCheckReq struct {
	UserID         string `json:"userId"`
	ConversationID string `json:"conversationId"` // group:<gid>
	LastSeq        int64  `json:"lastSeq"`
}

type BatchAckReq struct {
	UserID string   `json:"userId"`
	Stream string   `json:"stream,omitempty"` // 为空时为 u:<userId>
	MsgIDs []string `json:"msgIds"`
}

// AckEvent BatchAck 经 AckBus 异步落到存储
type AckEvent struct {
	UserID string   `json:"userId"`
	Stream string   `json:"stream"`
	MsgIDs []string `json:"msgIds"`
}
