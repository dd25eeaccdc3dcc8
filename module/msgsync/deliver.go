package msgsync

import (
	"context"
	"encoding/json"
	"strings"

	"PPSeq/logger"
	"PPSeq/module/chat/model"
	"PPSeq/service/kafka"
	"PPSeq/tools/errs"

	"go.uber.org/zap"
)

// Pusher 在线推送；用户不在线返回 false，由客户端上线后拉取
type Pusher interface {
	Push(ctx context.Context, userID string, msg *model.Message) bool
}

// Deliverer broker 消费端：先落库，再推在线接收方。同会话同分区，顺序由分区保证
type Deliverer struct {
	store   MessageStore
	push    Pusher
	members MemberResolver
	metrics *Metrics
	log     *zap.Logger
}

func NewDeliverer(store MessageStore, push Pusher, members MemberResolver, m *Metrics) *Deliverer {
	if m == nil {
		m = NewMetrics(nil)
	}
	return &Deliverer{store: store, push: push, members: members, metrics: m, log: logger.Named("msg.deliver")}
}

// Handle 落库失败返回错误，broker 侧重试；推送失败不影响位点
func (d *Deliverer) Handle(ctx context.Context, env *model.Envelope) error {
	if env == nil || len(env.Seqs) == 0 {
		return errs.ErrArgs.WrapMsg("empty envelope")
	}
	msgs := make([]*model.Message, 0, len(env.Seqs))
	for _, s := range env.Streams() {
		msgs = append(msgs, env.ForStream(s))
	}
	if err := d.store.Save(ctx, msgs...); err != nil {
		return err
	}
	d.metrics.Stored.Add(float64(len(msgs)))

	if d.push == nil {
		return nil
	}
	for _, m := range msgs {
		for _, uid := range d.receivers(ctx, m) {
			if d.push.Push(ctx, uid, m) {
				d.metrics.Pushed.WithLabelValues("online").Inc()
			} else {
				d.metrics.Pushed.WithLabelValues("offline").Inc()
			}
		}
	}
	return nil
}

// 用户流推给流主人（发送方自己的流用于多端同步）；群流推给除发送方外的成员
func (d *Deliverer) receivers(ctx context.Context, m *model.Message) []string {
	if !model.IsGroupStream(m.Stream) {
		return []string{strings.TrimPrefix(m.Stream, model.StreamUserPrefix)}
	}
	if d.members == nil {
		return nil
	}
	gid := model.GroupOf(m.Stream)
	ms, err := d.members.Members(ctx, gid)
	if err != nil {
		// 消息已落库，成员拉取会补上
		d.log.Warn("resolve group members failed", zap.String("group", gid), zap.Error(err))
		return nil
	}
	out := make([]string, 0, len(ms))
	for _, u := range ms {
		if u != m.From {
			out = append(out, u)
		}
	}
	return out
}

// HandleKafka 挂到 kafka.Dispatcher；坏消息跳过，不阻塞分区
func (d *Deliverer) HandleKafka(ctx context.Context, topic string, key, value []byte) error {
	var env model.Envelope
	if err := json.Unmarshal(value, &env); err != nil {
		d.log.Error("bad envelope, skipped", zap.String("topic", topic), zap.ByteString("key", key), zap.Error(err))
		return kafka.ErrSkip
	}
	return d.Handle(ctx, &env)
}
