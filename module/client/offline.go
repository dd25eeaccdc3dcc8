package client

import (
	"context"
	"errors"
	"fmt"
	"time"

	"PPSeq/logger"
	"PPSeq/module/chat/model"
	"PPSeq/tools/errs"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

type OfflineSyncOptions struct {
	BatchSize int // 默认 200，上限 model.MaxPullLimit
	Retry     RetryOptions
	Metrics   *Metrics
}

// SyncReport 一次同步的进度
type SyncReport struct {
	Batches  int
	Messages int
	Cursor   int64
}

// PartialSyncError 某批重试耗尽，已完成批次的游标保留，可再次调用续上
type PartialSyncError struct {
	Batches  int
	Messages int
	Cursor   int64
	Err      error
}

func (e *PartialSyncError) Error() string {
	return fmt.Sprintf("sync partial: batches=%d messages=%d cursor=%d: %v", e.Batches, e.Messages, e.Cursor, e.Err)
}

func (e *PartialSyncError) Unwrap() error { return e.Err }

// Is errors.Is(err, errs.ErrSyncPartial) 命中
func (e *PartialSyncError) Is(target error) bool {
	var ce *errs.CodeError
	return errors.As(target, &ce) && ce.Code == errs.SyncPartial
}

// OfflineSync 重连后的批量追赶
type OfflineSync struct {
	user    string
	api     SyncAPI
	rec     *Reconciler
	cursors CursorStore
	opts    OfflineSyncOptions
	log     *zap.Logger
}

func NewOfflineSync(user string, api SyncAPI, rec *Reconciler, cursors CursorStore, opts OfflineSyncOptions) *OfflineSync {
	if opts.BatchSize <= 0 {
		opts.BatchSize = model.DefaultPullLimit
	}
	if opts.BatchSize > model.MaxPullLimit {
		opts.BatchSize = model.MaxPullLimit
	}
	opts.Retry.norm()
	if opts.Metrics == nil {
		opts.Metrics = NewMetrics(nil)
	}
	return &OfflineSync{
		user:    user,
		api:     api,
		rec:     rec,
		cursors: cursors,
		opts:    opts,
		log:     logger.Named("client.offline").With(zap.String("user", user)),
	}
}

// retry 单批带退避重试，参数/权限错误不重试
func (s *OfflineSync) retry(ctx context.Context, what string, op func(ctx context.Context) error) error {
	attempt := func() error {
		actx, cancel := context.WithTimeout(ctx, s.opts.Retry.AttemptTimeout)
		defer cancel()
		err := op(actx)
		if err != nil && (errors.Is(err, errs.ErrArgs) || errors.Is(err, errs.ErrNoPermission)) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, next time.Duration) {
		s.log.Info(what+" failed, retrying", zap.Duration("next", next), zap.Error(err))
	}
	return backoff.RetryNotify(attempt, s.opts.Retry.backOff(ctx), notify)
}

// SyncIfNeeded 全局游标与服务端水位不一致时从 cursor+1 分批拉取
func (s *OfflineSync) SyncIfNeeded(ctx context.Context) (SyncReport, error) {
	stream := GlobalStream(s.user)
	cursor, err := s.cursors.Load(ctx, s.user, stream)
	if err != nil {
		return SyncReport{}, errs.WrapMsg(err, "load cursor", "stream", stream)
	}
	rep := SyncReport{Cursor: cursor}

	var check *model.SyncCheckResp
	if err := s.retry(ctx, "sync check", func(ctx context.Context) (err error) {
		check, err = s.api.SyncCheck(ctx, model.SyncCheckReq{UserID: s.user, LastSyncSeq: cursor})
		return err
	}); err != nil {
		return rep, &PartialSyncError{Cursor: cursor, Err: err}
	}
	if !check.SyncNeeded || check.TargetSeq <= cursor {
		return rep, nil
	}
	s.log.Info("offline sync start", zap.Int64("cursor", cursor), zap.Int64("target", check.TargetSeq))

	var ids []string
	for {
		from := rep.Cursor + 1
		var resp *model.PullResp
		err := s.retry(ctx, "pull batch", func(ctx context.Context) (err error) {
			resp, err = s.api.Pull(ctx, model.PullReq{UserID: s.user, FromSeq: from, Limit: s.opts.BatchSize})
			return err
		})
		if err != nil {
			s.opts.Metrics.SyncBatches.WithLabelValues("failed").Inc()
			s.ack(ctx, stream, ids)
			s.log.Warn("offline sync aborted", zap.Int64("cursor", rep.Cursor), zap.Int("batches", rep.Batches), zap.Error(err))
			return rep, &PartialSyncError{Batches: rep.Batches, Messages: rep.Messages, Cursor: rep.Cursor, Err: err}
		}
		s.opts.Metrics.SyncBatches.WithLabelValues("ok").Inc()

		to := resp.NextSeq - 1
		if to < from {
			break
		}
		if err := s.commit(ctx, stream, from, to, resp.Messages, &rep); err != nil {
			s.ack(ctx, stream, ids)
			return rep, &PartialSyncError{Batches: rep.Batches, Messages: rep.Messages, Cursor: rep.Cursor, Err: err}
		}
		for _, m := range resp.Messages {
			ids = append(ids, m.ServerMsgID)
		}
		if !resp.HasMore {
			break
		}
	}
	s.ack(ctx, stream, ids)
	s.log.Info("offline sync done", zap.Int64("cursor", rep.Cursor), zap.Int("batches", rep.Batches), zap.Int("messages", rep.Messages))
	return rep, nil
}

// SyncConversation 群流的会话级追赶：conv check + 区间拉取
func (s *OfflineSync) SyncConversation(ctx context.Context, gid string) (SyncReport, error) {
	stream := model.GroupStream(gid)
	cursor, err := s.cursors.Load(ctx, s.user, stream)
	if err != nil {
		return SyncReport{}, errs.WrapMsg(err, "load cursor", "stream", stream)
	}
	rep := SyncReport{Cursor: cursor}

	var check *model.SyncCheckResp
	if err := s.retry(ctx, "conv sync check", func(ctx context.Context) (err error) {
		check, err = s.api.ConvSyncCheck(ctx, model.ConvSyncCheckReq{
			UserID: s.user, ConversationID: model.GroupConversationID(gid), LastSeq: cursor,
		})
		return err
	}); err != nil {
		return rep, &PartialSyncError{Cursor: cursor, Err: err}
	}
	if !check.SyncNeeded || check.TargetSeq <= cursor {
		return rep, nil
	}

	var ids []string
	for rep.Cursor < check.TargetSeq {
		from := rep.Cursor + 1
		to := min(from+int64(s.opts.BatchSize)-1, check.TargetSeq)
		var resp *model.RangeResp
		err := s.retry(ctx, "pull conv range", func(ctx context.Context) (err error) {
			resp, err = s.api.PullRange(ctx, model.RangeReq{UserID: s.user, Stream: stream, FromSeq: from, ToSeq: to})
			return err
		})
		if err != nil {
			s.opts.Metrics.SyncBatches.WithLabelValues("failed").Inc()
			s.ack(ctx, stream, ids)
			return rep, &PartialSyncError{Batches: rep.Batches, Messages: rep.Messages, Cursor: rep.Cursor, Err: err}
		}
		s.opts.Metrics.SyncBatches.WithLabelValues("ok").Inc()

		covered := resp.ToSeq
		if covered < from || covered > to {
			covered = to
		}
		if err := s.commit(ctx, stream, from, covered, resp.Messages, &rep); err != nil {
			s.ack(ctx, stream, ids)
			return rep, &PartialSyncError{Batches: rep.Batches, Messages: rep.Messages, Cursor: rep.Cursor, Err: err}
		}
		for _, m := range resp.Messages {
			ids = append(ids, m.ServerMsgID)
		}
	}
	s.ack(ctx, stream, ids)
	return rep, nil
}

// commit 一批权威区间交给 reconciler，游标推到 to
func (s *OfflineSync) commit(ctx context.Context, stream string, from, to int64, msgs []*model.Message, rep *SyncReport) error {
	if s.rec != nil {
		if err := s.rec.Apply(ctx, stream, from, to, msgs); err != nil {
			return err
		}
	}
	cur, err := s.cursors.Raise(ctx, s.user, stream, to)
	if err != nil {
		return errs.WrapMsg(err, "raise cursor", "stream", stream, "seq", to)
	}
	rep.Cursor = cur
	rep.Batches++
	rep.Messages += len(msgs)
	return nil
}

// ack 尾部批量确认，失败只记日志
func (s *OfflineSync) ack(ctx context.Context, stream string, ids []string) {
	for len(ids) > 0 {
		n := min(len(ids), s.opts.BatchSize)
		if err := s.api.BatchAck(ctx, model.BatchAckReq{UserID: s.user, Stream: stream, MsgIDs: ids[:n]}); err != nil {
			s.log.Warn("batch ack failed", zap.String("stream", stream), zap.Int("ids", n), zap.Error(err))
		}
		ids = ids[n:]
	}
}
