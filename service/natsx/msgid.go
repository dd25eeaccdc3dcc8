package natsx

import (
	"github.com/google/uuid"
)

const HeaderMsgID = "Nats-Msg-Id"

// WithMsgID 复制 hdr 并写入 Nats-Msg-Id，msgID 为空则生成。
// 同一事件重试时复用返回的 header，消费端幂等中间件才能去重
func WithMsgID(hdr map[string]string, msgID string) map[string]string {
	out := make(map[string]string, len(hdr)+1)
	for k, v := range hdr {
		out[k] = v
	}
	if msgID == "" {
		msgID = uuid.NewString()
	}
	out[HeaderMsgID] = msgID
	return out
}
