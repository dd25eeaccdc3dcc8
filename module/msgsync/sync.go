package msgsync

import (
	"context"
	"strings"

	"PPSeq/logger"
	"PPSeq/module/chat/model"
	"PPSeq/tools/errs"

	"go.uber.org/zap"
)

type SyncOptions struct {
	DefaultLimit int
	MaxLimit     int
	Members      MemberResolver // 为空时不校验群流读权限
	Metrics      *Metrics
}

// SyncService 离线同步与补洞的服务端
type SyncService struct {
	store   MessageStore
	bus     AckBus
	opts    SyncOptions
	metrics *Metrics
	log     *zap.Logger
}

func NewSyncService(store MessageStore, bus AckBus, opts SyncOptions) *SyncService {
	if opts.MaxLimit <= 0 || opts.MaxLimit > model.MaxPullLimit {
		opts.MaxLimit = model.MaxPullLimit
	}
	if opts.DefaultLimit <= 0 || opts.DefaultLimit > opts.MaxLimit {
		opts.DefaultLimit = min(model.DefaultPullLimit, opts.MaxLimit)
	}
	if opts.Metrics == nil {
		opts.Metrics = NewMetrics(nil)
	}
	return &SyncService{store: store, bus: bus, opts: opts, metrics: opts.Metrics, log: logger.Named("sync")}
}

func (s *SyncService) Store() MessageStore { return s.store }

func (s *SyncService) normLimit(n int) int {
	if n <= 0 {
		return s.opts.DefaultLimit
	}
	return min(n, s.opts.MaxLimit)
}

// SyncCheck 对比客户端全局游标与收件箱高水位
func (s *SyncService) SyncCheck(ctx context.Context, req model.SyncCheckReq) (model.SyncCheckResp, error) {
	if req.UserID == "" {
		return model.SyncCheckResp{}, errs.ErrArgs.WrapMsg("userId empty")
	}
	target, err := s.store.MaxSeq(ctx, model.UserStream(req.UserID))
	if err != nil {
		return model.SyncCheckResp{}, err
	}
	return model.SyncCheckResp{SyncNeeded: target > req.LastSyncSeq, TargetSeq: target}, nil
}

// PullMessages 从 fromSeq（含）起拉收件箱，多取一条判断 hasMore
func (s *SyncService) PullMessages(ctx context.Context, req model.PullReq) (model.PullResp, error) {
	if req.UserID == "" {
		return model.PullResp{}, errs.ErrArgs.WrapMsg("userId empty")
	}
	from := max(req.FromSeq, 1)
	limit := s.normLimit(req.Limit)
	msgs, err := s.store.Range(ctx, model.UserStream(req.UserID), from, 0, limit+1)
	if err != nil {
		return model.PullResp{}, err
	}
	resp := model.PullResp{Messages: msgs, NextSeq: from}
	if len(msgs) > limit {
		resp.Messages = msgs[:limit]
		resp.HasMore = true
	}
	if n := len(resp.Messages); n > 0 {
		resp.NextSeq = resp.Messages[n-1].Seq + 1
	}
	if resp.Messages == nil {
		resp.Messages = []*model.Message{}
	}
	s.metrics.Pulled.Add(float64(len(resp.Messages)))
	return resp, nil
}

// PullRange 补洞拉取 [from, to]；跨度超过 MaxLimit 时截断，ToSeq 为实际覆盖的右端
func (s *SyncService) PullRange(ctx context.Context, req model.RangeReq) (model.RangeResp, error) {
	if req.FromSeq <= 0 || req.ToSeq < req.FromSeq {
		return model.RangeResp{}, errs.ErrArgs.WrapMsg("bad range", "from", req.FromSeq, "to", req.ToSeq)
	}
	stream := req.Stream
	if stream == "" {
		stream = model.UserStream(req.UserID)
	}
	if err := s.authorize(ctx, req.UserID, stream); err != nil {
		return model.RangeResp{}, err
	}
	to := req.ToSeq
	if span := to - req.FromSeq + 1; span > int64(s.opts.MaxLimit) {
		to = req.FromSeq + int64(s.opts.MaxLimit) - 1
	}
	msgs, err := s.store.Range(ctx, stream, req.FromSeq, to, s.opts.MaxLimit)
	if err != nil {
		return model.RangeResp{}, err
	}
	if msgs == nil {
		msgs = []*model.Message{}
	}
	s.metrics.Pulled.Add(float64(len(msgs)))
	return model.RangeResp{Messages: msgs, FromSeq: req.FromSeq, ToSeq: to}, nil
}

// ConversationSyncCheck 群会话维度的高水位对比
func (s *SyncService) ConversationSyncCheck(ctx context.Context, req model.ConvSyncCheckReq) (model.SyncCheckResp, error) {
	gid, ok := strings.CutPrefix(req.ConversationID, "group:")
	if !ok || gid == "" {
		return model.SyncCheckResp{}, errs.ErrArgs.WrapMsg("not a group conversation", "conv", req.ConversationID)
	}
	stream := model.GroupStream(gid)
	if err := s.authorize(ctx, req.UserID, stream); err != nil {
		return model.SyncCheckResp{}, err
	}
	target, err := s.store.MaxSeq(ctx, stream)
	if err != nil {
		return model.SyncCheckResp{}, err
	}
	return model.SyncCheckResp{SyncNeeded: target > req.LastSeq, TargetSeq: target}, nil
}

// BatchAck 只投递到 AckBus，不等落库
func (s *SyncService) BatchAck(ctx context.Context, req model.BatchAckReq) error {
	if req.UserID == "" {
		return errs.ErrArgs.WrapMsg("userId empty")
	}
	if len(req.MsgIDs) == 0 {
		return nil
	}
	stream := req.Stream
	if stream == "" {
		stream = model.UserStream(req.UserID)
	}
	if err := s.authorize(ctx, req.UserID, stream); err != nil {
		return err
	}
	return s.bus.Publish(ctx, model.AckEvent{UserID: req.UserID, Stream: stream, MsgIDs: req.MsgIDs})
}

// ApplyAck AckBus 消费端回调
func (s *SyncService) ApplyAck(ctx context.Context, ev model.AckEvent) error {
	n, err := s.store.MarkDelivered(ctx, ev.Stream, ev.MsgIDs)
	if err != nil {
		s.log.Warn("mark delivered failed", zap.String("stream", ev.Stream), zap.Int("ids", len(ev.MsgIDs)), zap.Error(err))
		return err
	}
	s.metrics.AckedMsgs.Add(float64(n))
	s.log.Debug("batch ack applied", zap.String("user", ev.UserID), zap.String("stream", ev.Stream), zap.Int64("marked", n))
	return nil
}

// 只能读自己的收件箱或所在群的群流
func (s *SyncService) authorize(ctx context.Context, userID, stream string) error {
	if userID == "" {
		return errs.ErrArgs.WrapMsg("userId empty")
	}
	if stream == model.UserStream(userID) {
		return nil
	}
	if !model.IsGroupStream(stream) {
		return errs.ErrNoPermission.WrapMsg("stream not owned", "user", userID, "stream", stream)
	}
	if s.opts.Members == nil {
		return nil
	}
	ok, err := s.opts.Members.IsMember(ctx, model.GroupOf(stream), userID)
	if err != nil {
		return err
	}
	if !ok {
		return errs.ErrNoPermission.WrapMsg("not a group member", "user", userID, "stream", stream)
	}
	return nil
}
