package client

import (
	"context"
	"errors"
	"net/http/httptest"
	"sort"
	"sync"
	"testing"
	"time"

	"PPSeq/middleware"
	"PPSeq/module/chat/model"
	"PPSeq/module/msgsync"
	"PPSeq/tools/errs"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeAPI 内存版服务端，pullFailAfter 控制第几次 Pull 之后开始失败
type fakeAPI struct {
	mu            sync.Mutex
	streams       map[string][]*model.Message
	pulls         int
	pullFailAfter int
	acks          []model.BatchAckReq
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{streams: make(map[string][]*model.Message), pullFailAfter: -1}
}

func (f *fakeAPI) seed(stream string, seqs ...int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range seqs {
		f.streams[stream] = append(f.streams[stream], m(stream, s))
	}
	sort.Slice(f.streams[stream], func(i, j int) bool { return f.streams[stream][i].Seq < f.streams[stream][j].Seq })
}

func (f *fakeAPI) max(stream string) int64 {
	ms := f.streams[stream]
	if len(ms) == 0 {
		return 0
	}
	return ms[len(ms)-1].Seq
}

func (f *fakeAPI) SyncCheck(_ context.Context, req model.SyncCheckReq) (*model.SyncCheckResp, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t := f.max(model.UserStream(req.UserID))
	return &model.SyncCheckResp{SyncNeeded: t > req.LastSyncSeq, TargetSeq: t}, nil
}

func (f *fakeAPI) Pull(_ context.Context, req model.PullReq) (*model.PullResp, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pulls++
	if f.pullFailAfter >= 0 && f.pulls > f.pullFailAfter {
		return nil, errs.ErrStoreUnavailable.WrapMsg("store down")
	}
	var out []*model.Message
	for _, msg := range f.streams[model.UserStream(req.UserID)] {
		if msg.Seq >= req.FromSeq {
			out = append(out, msg)
		}
	}
	resp := &model.PullResp{NextSeq: req.FromSeq}
	if len(out) > req.Limit {
		out = out[:req.Limit]
		resp.HasMore = true
	}
	if len(out) > 0 {
		resp.NextSeq = out[len(out)-1].Seq + 1
	}
	resp.Messages = out
	return resp, nil
}

func (f *fakeAPI) PullRange(_ context.Context, req model.RangeReq) (*model.RangeResp, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*model.Message
	for _, msg := range f.streams[req.Stream] {
		if msg.Seq >= req.FromSeq && msg.Seq <= req.ToSeq {
			out = append(out, msg)
		}
	}
	return &model.RangeResp{Messages: out, FromSeq: req.FromSeq, ToSeq: req.ToSeq}, nil
}

func (f *fakeAPI) ConvSyncCheck(_ context.Context, req model.ConvSyncCheckReq) (*model.SyncCheckResp, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t := f.max(model.GroupStream(req.ConversationID[len("group:"):]))
	return &model.SyncCheckResp{SyncNeeded: t > req.LastSeq, TargetSeq: t}, nil
}

func (f *fakeAPI) BatchAck(_ context.Context, req model.BatchAckReq) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.acks = append(f.acks, req)
	return nil
}

func (f *fakeAPI) Send(context.Context, model.SendRequest) (*model.SendAck, error) {
	return nil, errors.New("not used")
}

func (f *fakeAPI) ackedIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var ids []string
	for _, a := range f.acks {
		ids = append(ids, a.MsgIDs...)
	}
	return ids
}

var fastRetry = RetryOptions{MaxRetries: 3, InitialInterval: time.Millisecond, MaxInterval: 2 * time.Millisecond}

func newTestSync(api SyncAPI, cursors CursorStore, batch int) (*OfflineSync, *sink) {
	s := &sink{}
	rec := NewReconciler("1", cursors, nil, s.deliver, ReconcilerOptions{})
	return NewOfflineSync("1", api, rec, cursors, OfflineSyncOptions{BatchSize: batch, Retry: fastRetry}), s
}

func TestOfflineSync_Batches(t *testing.T) {
	ctx := context.Background()
	api := newFakeAPI()
	api.seed("u:1", 1, 2, 5, 6, 9)
	cursors := NewMemCursorStore()
	syncer, s := newTestSync(api, cursors, 2)

	rep, err := syncer.SyncIfNeeded(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, rep.Batches)
	assert.Equal(t, 5, rep.Messages)
	assert.Equal(t, int64(9), rep.Cursor)
	assert.Equal(t, []int64{1, 2, 5, 6, 9}, s.got())
	assert.Len(t, api.ackedIDs(), 5)

	// 已追平：不再拉取
	pulls := api.pulls
	rep, err = syncer.SyncIfNeeded(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, rep.Batches)
	assert.Equal(t, pulls, api.pulls)
}

func TestOfflineSync_PartialKeepsCursor(t *testing.T) {
	ctx := context.Background()
	api := newFakeAPI()
	api.seed("u:1", 1, 2, 3, 4, 5, 6)
	api.pullFailAfter = 1
	cursors := NewMemCursorStore()
	syncer, s := newTestSync(api, cursors, 2)

	rep, err := syncer.SyncIfNeeded(ctx)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errs.ErrSyncPartial))
	var pe *PartialSyncError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, 1, pe.Batches)
	assert.Equal(t, int64(2), pe.Cursor)
	assert.Equal(t, int64(2), rep.Cursor)
	// 首批 + 重试 3 次
	assert.Equal(t, 1+1+3, api.pulls)

	// 已完成部分照样确认
	assert.Equal(t, []string{"u:1#1", "u:1#2"}, api.ackedIDs())
	cur, _ := cursors.Load(ctx, "1", "u:1")
	assert.Equal(t, int64(2), cur)

	// 恢复后从断点续上
	api.pullFailAfter = -1
	rep, err = syncer.SyncIfNeeded(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(6), rep.Cursor)
	assert.Equal(t, []int64{1, 2, 3, 4, 5, 6}, s.got())
}

func TestOfflineSync_Conversation(t *testing.T) {
	ctx := context.Background()
	api := newFakeAPI()
	api.seed("g:7", 2, 3, 8)
	cursors := NewMemCursorStore()
	syncer, s := newTestSync(api, cursors, 3)

	rep, err := syncer.SyncConversation(ctx, "7")
	require.NoError(t, err)
	assert.Equal(t, int64(8), rep.Cursor)
	assert.Equal(t, 3, rep.Batches)
	assert.Equal(t, []int64{2, 3, 8}, s.got())

	api.mu.Lock()
	assert.Equal(t, "g:7", api.acks[0].Stream)
	api.mu.Unlock()
}

// 走真实 HTTP 接口
func TestOfflineSync_OverHTTP(t *testing.T) {
	gin.SetMode(gin.TestMode)
	ctx := context.Background()
	store := msgsync.NewMemStore()
	bus := msgsync.NewDirectAckBus()
	ss := msgsync.NewSyncService(store, bus, msgsync.SyncOptions{})
	bus.Bind(ss.ApplyAck)
	e := gin.New()
	msgsync.NewHandler(ss, nil).Register(middleware.NewRouter(e, nil))
	ts := httptest.NewServer(e)
	defer ts.Close()

	for _, seq := range []int64{3, 4, 10} {
		require.NoError(t, store.Save(ctx, m("u:1", seq)))
	}

	api := NewHTTPAPI(ts.URL, "", time.Second)
	cursors := NewMemCursorStore()
	syncer, s := newTestSync(api, cursors, 2)
	rep, err := syncer.SyncIfNeeded(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(10), rep.Cursor)
	assert.Equal(t, []int64{3, 4, 10}, s.got())

	// 越权的区间拉取不重试，直接失败
	gf := NewGapFillClient("1", api, fastRetry)
	_, err = gf.PullRange(ctx, "u:2", 1, 5)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errs.ErrGapFillFailed))
}
