package client

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"PPSeq/module/chat/model"
	"PPSeq/tools/errs"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type resendRecorder struct {
	mu    sync.Mutex
	sends []PendingMessage
	err   error
}

func (r *resendRecorder) resend(_ context.Context, p PendingMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sends = append(r.sends, p)
	return r.err
}

func (r *resendRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sends)
}

func TestPending_FailsAfterMaxRetry(t *testing.T) {
	for _, kind := range []string{SchedulerSweep, SchedulerWheel} {
		t.Run(kind, func(t *testing.T) {
			ctx := context.Background()
			clock := clockwork.NewFakeClock()
			rec := &resendRecorder{err: errors.New("link down")}
			var failed []PendingMessage
			tr := NewPendingAckTracker("1", rec.resend, NewMemCursorStore(), PendingOptions{
				AckTimeout: 5 * time.Second,
				MaxRetry:   3,
				Clock:      clock,
				Scheduler:  NewScheduler(kind, 0, clock),
				OnFailed:   func(p PendingMessage) { failed = append(failed, p) },
			})
			require.NoError(t, tr.Track(PendingMessage{ClientSeq: "c1", To: "2", ConvType: model.ConvTypePrivate}))

			for i := 1; i <= 3; i++ {
				clock.Advance(5 * time.Second)
				tr.Tick(ctx)
				assert.Equal(t, i, rec.count())
				p, ok := tr.Get("c1")
				require.True(t, ok)
				assert.Equal(t, StatusSending, p.Status)
				assert.Equal(t, i, p.RetryCount)
				assert.Equal(t, clock.Now(), p.SendTime)
			}
			assert.Empty(t, failed)

			// 第 4 次超时：不再重发，转 FAILED
			clock.Advance(5 * time.Second)
			tr.Tick(ctx)
			assert.Equal(t, 3, rec.count())
			require.Len(t, failed, 1)
			assert.Equal(t, StatusFailed, failed[0].Status)
			assert.Equal(t, 3, failed[0].RetryCount)
			assert.Equal(t, 0, tr.Len())

			// 回调只触发一次
			clock.Advance(time.Minute)
			tr.Tick(ctx)
			tr.Purge()
			assert.Len(t, failed, 1)
		})
	}
}

func TestPending_AckRaisesCursor(t *testing.T) {
	ctx := context.Background()
	clock := clockwork.NewFakeClock()
	cursors := NewMemCursorStore()
	var delivered []PendingMessage
	tr := NewPendingAckTracker("1", nil, cursors, PendingOptions{
		Clock:       clock,
		OnDelivered: func(p PendingMessage) { delivered = append(delivered, p) },
	})
	require.NoError(t, tr.Track(PendingMessage{ClientSeq: "p", To: "2", ConvType: model.ConvTypePrivate}))
	require.NoError(t, tr.Track(PendingMessage{ClientSeq: "g", To: "7", ConvType: model.ConvTypeGroup}))

	assert.True(t, tr.OnAck(ctx, model.SendAck{ClientSeq: "p", ServerMsgID: "m1", ConversationSeq: 40}))
	assert.True(t, tr.OnAck(ctx, model.SendAck{ClientSeq: "g", ServerMsgID: "m2", ConversationSeq: 9}))
	require.Len(t, delivered, 2)
	assert.Equal(t, StatusDelivered, delivered[0].Status)
	assert.Equal(t, "m1", delivered[0].ServerMsgID)

	v, _ := cursors.Load(ctx, "1", "u:1")
	assert.Equal(t, int64(40), v)
	v, _ = cursors.Load(ctx, "1", "g:7")
	assert.Equal(t, int64(9), v)

	// 重复 ack 忽略
	assert.False(t, tr.OnAck(ctx, model.SendAck{ClientSeq: "p", ConversationSeq: 41}))
	v, _ = cursors.Load(ctx, "1", "u:1")
	assert.Equal(t, int64(40), v)

	// 游标已更靠前时不回退
	require.NoError(t, tr.Track(PendingMessage{ClientSeq: "p2", To: "2", ConvType: model.ConvTypePrivate}))
	assert.True(t, tr.OnAck(ctx, model.SendAck{ClientSeq: "p2", ConversationSeq: 12}))
	v, _ = cursors.Load(ctx, "1", "u:1")
	assert.Equal(t, int64(40), v)

	// 已确认的不会再超时
	clock.Advance(time.Hour)
	tr.Tick(ctx)
	assert.Equal(t, 0, tr.Len())
}

func TestPending_Capacity(t *testing.T) {
	tr := NewPendingAckTracker("1", nil, nil, PendingOptions{Capacity: 2, Clock: clockwork.NewFakeClock()})
	require.NoError(t, tr.Track(PendingMessage{ClientSeq: "a"}))
	require.NoError(t, tr.Track(PendingMessage{ClientSeq: "b"}))

	err := tr.Track(PendingMessage{ClientSeq: "c"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errs.ErrPendingFull))

	assert.True(t, errors.Is(tr.Track(PendingMessage{ClientSeq: "a"}), errs.ErrArgs))
	assert.True(t, errors.Is(tr.Track(PendingMessage{}), errs.ErrArgs))

	// 确认后腾出位置
	tr.OnAck(context.Background(), model.SendAck{ClientSeq: "a"})
	require.NoError(t, tr.Track(PendingMessage{ClientSeq: "c"}))
}

func TestPending_TTLPurge(t *testing.T) {
	clock := clockwork.NewFakeClock()
	var failed []string
	tr := NewPendingAckTracker("1", nil, nil, PendingOptions{
		AckTimeout: 48 * time.Hour,
		TTL:        24 * time.Hour,
		Clock:      clock,
		OnFailed:   func(p PendingMessage) { failed = append(failed, p.ClientSeq) },
	})
	require.NoError(t, tr.Track(PendingMessage{ClientSeq: "old"}))
	clock.Advance(12 * time.Hour)
	require.NoError(t, tr.Track(PendingMessage{ClientSeq: "new"}))

	clock.Advance(12 * time.Hour)
	assert.Equal(t, 1, tr.Purge())
	assert.Equal(t, []string{"old"}, failed)
	_, ok := tr.Get("new")
	assert.True(t, ok)
}

func TestPending_RunLoop(t *testing.T) {
	clock := clockwork.NewFakeClock()
	rec := &resendRecorder{}
	tr := NewPendingAckTracker("1", rec.resend, nil, PendingOptions{
		AckTimeout: 2 * time.Second,
		Clock:      clock,
		Scheduler:  NewSweepScheduler(time.Second, clock),
	})
	require.NoError(t, tr.Track(PendingMessage{ClientSeq: "x"}))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		tr.Run(ctx)
		close(done)
	}()
	// tick + purge 两个 ticker
	clock.BlockUntil(2)
	for i := 0; i < 2; i++ {
		clock.Advance(time.Second)
	}
	require.Eventually(t, func() bool { return rec.count() == 1 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	<-done
}

func TestPending_FailFiresOnce(t *testing.T) {
	clock := clockwork.NewFakeClock()
	var failed []PendingMessage
	tr := NewPendingAckTracker("1", nil, nil, PendingOptions{
		Clock:    clock,
		OnFailed: func(p PendingMessage) { failed = append(failed, p) },
	})
	require.NoError(t, tr.Track(PendingMessage{ClientSeq: "c1"}))

	assert.True(t, tr.Fail("c1", "rejected"))
	assert.False(t, tr.Fail("c1", "rejected"))
	assert.False(t, tr.Fail("missing", "rejected"))
	require.Len(t, failed, 1)
	assert.Equal(t, StatusFailed, failed[0].Status)
	assert.Equal(t, 0, tr.Len())

	// 已判失败的不会再被超时处理
	clock.Advance(time.Minute)
	tr.Tick(context.Background())
	assert.Len(t, failed, 1)
}

// 超时转 FAILED 与服务端拒绝同时发生，回调仍只触发一次
func TestPending_FailRacesTimeout(t *testing.T) {
	ctx := context.Background()
	for i := 0; i < 200; i++ {
		clock := clockwork.NewFakeClock()
		var fired atomic.Int32
		tr := NewPendingAckTracker("1", nil, nil, PendingOptions{
			AckTimeout: time.Second,
			MaxRetry:   1,
			Clock:      clock,
			OnFailed:   func(PendingMessage) { fired.Add(1) },
		})
		require.NoError(t, tr.Track(PendingMessage{ClientSeq: "c"}))
		clock.Advance(time.Second)
		tr.Tick(ctx)
		// 已到重试上限，下一次到期即失败
		clock.Advance(time.Second)

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			tr.Tick(ctx)
		}()
		go func() {
			defer wg.Done()
			tr.Fail("c", "rejected")
		}()
		wg.Wait()
		require.Equal(t, int32(1), fired.Load())
		require.Equal(t, 0, tr.Len())
	}
}
