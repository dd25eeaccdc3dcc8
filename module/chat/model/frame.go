package model

import (
	"encoding/json"

	"PPSeq/tools/errs"
)

// websocket 帧类型
const (
	FrameSend = "send" // C->S 发送
	FrameAck  = "ack"  // S->C 发送确认
	FrameMsg  = "msg"  // S->C 推送
	FramePing = "ping"
	FramePong = "pong"
	FrameErr  = "error"
)

type Frame struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

func NewFrame(typ string, v any) (*Frame, error) {
	f := &Frame{Type: typ}
	if v == nil {
		return f, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, errs.WrapMsg(err, "marshal frame", "type", typ)
	}
	f.Data = b
	return f, nil
}

func ParseFrame(b []byte) (*Frame, error) {
	var f Frame
	if err := json.Unmarshal(b, &f); err != nil {
		return nil, errs.ErrArgs.WrapMsg("bad frame", "err", err)
	}
	if f.Type == "" {
		return nil, errs.ErrArgs.WrapMsg("frame type missing")
	}
	return &f, nil
}

// Decode 把 Data 解到 v
func (f *Frame) Decode(v any) error {
	if len(f.Data) == 0 {
		return errs.ErrArgs.WrapMsg("frame data empty", "type", f.Type)
	}
	if err := json.Unmarshal(f.Data, v); err != nil {
		return errs.ErrArgs.WrapMsg("bad frame data", "type", f.Type, "err", err)
	}
	return nil
}

// ErrorFrame error 帧的 data；ClientSeq 非空时对应某次 send
type ErrorFrame struct {
	ClientSeq string `json:"clientSeq,omitempty"`
	Code      int    `json:"code"`
	Msg       string `json:"msg"`
}

// PushEnvelope 跨节点推送单元
type PushEnvelope struct {
	UserID  string   `json:"userId"`
	Message *Message `json:"message"`
}
