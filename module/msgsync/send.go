package msgsync

import (
	"context"
	"encoding/json"
	"strings"

	"PPSeq/logger"
	"PPSeq/module/chat/model"
	"PPSeq/service/kafka"
	"PPSeq/tools/errs"
	"PPSeq/tools/ids"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// SeqAllocator 发号，*seq.Allocator 实现
type SeqAllocator interface {
	Allocate(ctx context.Context, key string) (int64, error)
}

// Publisher 把信封交给投递链路；key 为会话ID，同会话同分区
type Publisher interface {
	Publish(ctx context.Context, key string, env *model.Envelope) error
}

type KafkaPublisher struct {
	p *kafka.Producer
}

func NewKafkaPublisher(p *kafka.Producer) *KafkaPublisher { return &KafkaPublisher{p: p} }

func (k *KafkaPublisher) Publish(ctx context.Context, key string, env *model.Envelope) error {
	b, err := json.Marshal(env)
	if err != nil {
		return errs.WrapMsg(err, "marshal envelope", "key", key)
	}
	_, _, _, err = k.p.Send(ctx, key, b)
	return err
}

// DirectPublisher 不经 broker，同步交给本地 Deliverer（单进程部署）
type DirectPublisher struct {
	d *Deliverer
}

func NewDirectPublisher(d *Deliverer) *DirectPublisher { return &DirectPublisher{d: d} }

func (p *DirectPublisher) Publish(ctx context.Context, _ string, env *model.Envelope) error {
	return p.d.Handle(ctx, env)
}

type SendService struct {
	alloc    SeqAllocator
	ids      *ids.Generator
	pub      Publisher
	members  MemberResolver // 为空时不校验群成员
	acks     AckCache
	inflight singleflight.Group // 同一 (from, clientSeq) 并发重发只走一次
	clock    clockwork.Clock
	metrics  *Metrics
	log      *zap.Logger
}

type SendOptions struct {
	Members MemberResolver
	Acks    AckCache // 为空时用进程内缓存
	Clock   clockwork.Clock
	Metrics *Metrics
}

func NewSendService(alloc SeqAllocator, gen *ids.Generator, pub Publisher, opts SendOptions) *SendService {
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Metrics == nil {
		opts.Metrics = NewMetrics(nil)
	}
	if opts.Acks == nil {
		opts.Acks = NewMemAckCache(0, 0)
	}
	return &SendService{
		alloc:   alloc,
		ids:     gen,
		pub:     pub,
		members: opts.Members,
		acks:    opts.Acks,
		clock:   opts.Clock,
		metrics: opts.Metrics,
		log:     logger.Named("msg.send"),
	}
}

// Send 分配序号并投递到 broker，broker 确认后才返回 ack。
// 单聊：收件方与发送方收件箱各分配一个序号，ack 带发送方的；群聊：群流一个序号。
// 同一 (from, clientSeq) 重发返回首次的 ack，不重新发号也不重复投递
func (s *SendService) Send(ctx context.Context, req model.SendRequest) (model.SendAck, error) {
	if err := validateSend(req); err != nil {
		return model.SendAck{}, err
	}
	v, err, _ := s.inflight.Do(dedupKey(req.From, req.ClientSeq), func() (any, error) {
		prev, ok, err := s.acks.Get(ctx, req.From, req.ClientSeq)
		if err != nil {
			s.log.Warn("ack cache get failed", zap.String("from", req.From), zap.Error(err))
		} else if ok {
			s.metrics.Resent.Inc()
			return prev, nil
		}
		ack, err := s.send(ctx, req)
		if err != nil {
			return model.SendAck{}, err
		}
		// 缓存失败只影响重发去重，消息已投递，ack 照常返回
		if kept, err := s.acks.Put(ctx, req.From, ack); err != nil {
			s.log.Warn("ack cache put failed", zap.String("from", req.From), zap.Error(err))
		} else {
			ack = kept
		}
		return ack, nil
	})
	if err != nil {
		return model.SendAck{}, err
	}
	return v.(model.SendAck), nil
}

func (s *SendService) send(ctx context.Context, req model.SendRequest) (model.SendAck, error) {
	env := &model.Envelope{
		Message: model.Message{
			ServerMsgID: s.ids.NextString(),
			ClientSeq:   req.ClientSeq,
			ConvType:    req.ConvType,
			From:        req.From,
			To:          req.To,
			Content:     req.Content,
			SendTime:    s.clock.Now().UnixMilli(),
		},
		Seqs: make(map[string]int64, 2),
	}

	var ackStream string
	switch req.ConvType {
	case model.ConvTypePrivate:
		env.Message.ConversationID = model.P2PConversationID(req.From, req.To)
		recv, err := s.alloc.Allocate(ctx, model.UserBizKey(req.To))
		if err != nil {
			return model.SendAck{}, err
		}
		env.Seqs[model.UserStream(req.To)] = recv
		ackStream = model.UserStream(req.From)
		if req.From != req.To {
			own, err := s.alloc.Allocate(ctx, model.UserBizKey(req.From))
			if err != nil {
				return model.SendAck{}, err
			}
			env.Seqs[ackStream] = own
		}
	case model.ConvTypeGroup:
		if s.members != nil {
			ok, err := s.members.IsMember(ctx, req.To, req.From)
			if err != nil {
				return model.SendAck{}, err
			}
			if !ok {
				return model.SendAck{}, errs.ErrNoPermission.WrapMsg("not a group member", "group", req.To, "user", req.From)
			}
		}
		env.Message.ConversationID = model.GroupConversationID(req.To)
		gs, err := s.alloc.Allocate(ctx, model.GroupBizKey(req.To))
		if err != nil {
			return model.SendAck{}, err
		}
		ackStream = model.GroupStream(req.To)
		env.Seqs[ackStream] = gs
	}

	if err := s.pub.Publish(ctx, env.Message.ConversationID, env); err != nil {
		s.log.Error("publish envelope failed",
			zap.String("conv", env.Message.ConversationID), zap.String("msgId", env.Message.ServerMsgID), zap.Error(err))
		return model.SendAck{}, errs.WrapMsg(err, "publish message", "conv", env.Message.ConversationID)
	}
	s.metrics.Sent.WithLabelValues(convTypeLabel(req.ConvType)).Inc()
	s.log.Debug("message accepted", zap.String("msgId", env.Message.ServerMsgID), zap.Any("seqs", env.Seqs))

	return model.SendAck{
		ClientSeq:       req.ClientSeq,
		ServerMsgID:     env.Message.ServerMsgID,
		ConversationSeq: env.Seqs[ackStream],
		ConversationID:  env.Message.ConversationID,
		ConvType:        req.ConvType,
		Stream:          ackStream,
	}, nil
}

func validateSend(req model.SendRequest) error {
	if strings.TrimSpace(req.From) == "" || strings.TrimSpace(req.To) == "" {
		return errs.ErrArgs.WrapMsg("from and to are required")
	}
	if req.ClientSeq == "" {
		return errs.ErrArgs.WrapMsg("clientSeq is required", "from", req.From)
	}
	if req.ConvType != model.ConvTypePrivate && req.ConvType != model.ConvTypeGroup {
		return errs.ErrArgs.WrapMsg("unknown conversation type", "type", req.ConvType)
	}
	return nil
}

func convTypeLabel(t int32) string {
	if t == model.ConvTypeGroup {
		return "group"
	}
	return "private"
}
