package msgsync

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"PPSeq/middleware"
	"PPSeq/middleware/security"
	"PPSeq/module/chat/model"
	"PPSeq/tools/errs"
	"PPSeq/tools/ids"
	tokens "PPSeq/tools/security"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type syncFixture struct {
	engine *gin.Engine
	store  MessageStore
	sync   *SyncService
}

func newSyncFixture(t *testing.T, auth gin.HandlerFunc) *syncFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)
	store := NewMemStore()
	members := NewStaticMembers()
	members.Set("7", "1", "2")
	bus := NewDirectAckBus()
	ss := NewSyncService(store, bus, SyncOptions{DefaultLimit: 2, MaxLimit: 5, Members: members})
	bus.Bind(ss.ApplyAck)
	send := NewSendService(newFakeAlloc(), ids.NewGenerator(1), NewDirectPublisher(NewDeliverer(store, nil, members, nil)), SendOptions{Members: members})

	e := gin.New()
	NewHandler(ss, send).Register(middleware.NewRouter(e, auth))
	return &syncFixture{engine: e, store: store, sync: ss}
}

func doJSON(e http.Handler, path string, body any, hdr ...string) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	_ = json.NewEncoder(&buf).Encode(body)
	req := httptest.NewRequest(http.MethodPost, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(hdr); i += 2 {
		req.Header.Set(hdr[i], hdr[i+1])
	}
	w := httptest.NewRecorder()
	e.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func (f *syncFixture) seed(t *testing.T, stream string, seqs ...int64) {
	for _, s := range seqs {
		require.NoError(t, f.store.Save(context.Background(), msgAt(stream, s)))
	}
}

func TestHandler_CheckAndPull(t *testing.T) {
	f := newSyncFixture(t, nil)
	f.seed(t, "u:1", 1, 2, 4, 5, 9)

	w := doJSON(f.engine, "/sync/check", model.SyncCheckReq{UserID: "1", LastSyncSeq: 2})
	require.Equal(t, http.StatusOK, w.Code)
	chk := decode[model.SyncCheckResp](t, w)
	assert.True(t, chk.SyncNeeded)
	assert.Equal(t, int64(9), chk.TargetSeq)

	chk = decode[model.SyncCheckResp](t, doJSON(f.engine, "/sync/check", model.SyncCheckReq{UserID: "1", LastSyncSeq: 9}))
	assert.False(t, chk.SyncNeeded)

	// limit 缺省为 2
	pull := decode[model.PullResp](t, doJSON(f.engine, "/sync/pull", model.PullReq{UserID: "1", FromSeq: 3}))
	assert.Equal(t, []int64{4, 5}, seqsOf(pull.Messages))
	assert.True(t, pull.HasMore)
	assert.Equal(t, int64(6), pull.NextSeq)

	// 超过上限按 5 截断
	pull = decode[model.PullResp](t, doJSON(f.engine, "/sync/pull", model.PullReq{UserID: "1", FromSeq: 1, Limit: 1000}))
	assert.Equal(t, []int64{1, 2, 4, 5, 9}, seqsOf(pull.Messages))
	assert.False(t, pull.HasMore)
	assert.Equal(t, int64(10), pull.NextSeq)

	pull = decode[model.PullResp](t, doJSON(f.engine, "/sync/pull", model.PullReq{UserID: "1", FromSeq: 10}))
	assert.Empty(t, pull.Messages)
	assert.Equal(t, int64(10), pull.NextSeq)

	w = doJSON(f.engine, "/sync/check", model.SyncCheckReq{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandler_Range(t *testing.T) {
	f := newSyncFixture(t, nil)
	f.seed(t, "g:7", 1, 2, 3, 6, 8)
	f.seed(t, "u:2", 1)

	rr := decode[model.RangeResp](t, doJSON(f.engine, "/sync/range", model.RangeReq{UserID: "1", Stream: "g:7", FromSeq: 2, ToSeq: 4}))
	assert.Equal(t, []int64{2, 3}, seqsOf(rr.Messages))
	assert.Equal(t, int64(4), rr.ToSeq)

	// 跨度超过 MaxLimit：ToSeq 为实际覆盖的右端
	rr = decode[model.RangeResp](t, doJSON(f.engine, "/sync/range", model.RangeReq{UserID: "1", Stream: "g:7", FromSeq: 1, ToSeq: 100}))
	assert.Equal(t, []int64{1, 2, 3}, seqsOf(rr.Messages))
	assert.Equal(t, int64(1), rr.FromSeq)
	assert.Equal(t, int64(5), rr.ToSeq)

	w := doJSON(f.engine, "/sync/range", model.RangeReq{UserID: "1", Stream: "u:2", FromSeq: 1, ToSeq: 1})
	assert.Equal(t, http.StatusForbidden, w.Code)
	w = doJSON(f.engine, "/sync/range", model.RangeReq{UserID: "3", Stream: "g:7", FromSeq: 1, ToSeq: 1})
	assert.Equal(t, http.StatusForbidden, w.Code)
	w = doJSON(f.engine, "/sync/range", model.RangeReq{UserID: "1", Stream: "g:7", FromSeq: 5, ToSeq: 4})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandler_ConvCheck(t *testing.T) {
	f := newSyncFixture(t, nil)
	f.seed(t, "g:7", 1, 2, 3)

	chk := decode[model.SyncCheckResp](t, doJSON(f.engine, "/sync/conv/check", model.ConvSyncCheckReq{UserID: "2", ConversationID: "group:7", LastSeq: 1}))
	assert.True(t, chk.SyncNeeded)
	assert.Equal(t, int64(3), chk.TargetSeq)

	w := doJSON(f.engine, "/sync/conv/check", model.ConvSyncCheckReq{UserID: "2", ConversationID: "p2p:1_2"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandler_AckMarksDelivered(t *testing.T) {
	f := newSyncFixture(t, nil)
	f.seed(t, "u:1", 1, 2)

	w := doJSON(f.engine, "/sync/ack", model.BatchAckReq{UserID: "1", MsgIDs: []string{"u:1#1", "u:1#2"}})
	assert.Equal(t, http.StatusAccepted, w.Code)

	n, err := f.store.MarkDelivered(context.Background(), "u:1", []string{"u:1#1", "u:1#2"})
	require.NoError(t, err)
	assert.Zero(t, n, "already marked through the bus")

	w = doJSON(f.engine, "/sync/ack", model.BatchAckReq{UserID: "1", Stream: "u:2", MsgIDs: []string{"x"}})
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestHandler_SendWithAuth(t *testing.T) {
	opts := security.DefaultOptions([]byte("test-secret"))
	f := newSyncFixture(t, security.Middleware(opts))
	bearer := []string{"Authorization", "Bearer " + mustToken(t, opts, "1")}

	w := doJSON(f.engine, "/msg/send", model.SendRequest{To: "2", ConvType: model.ConvTypePrivate, ClientSeq: "c-1"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	// from 缺省取 token 用户
	w = doJSON(f.engine, "/msg/send", model.SendRequest{To: "2", ConvType: model.ConvTypePrivate, ClientSeq: "c-1", Content: "hi"}, bearer...)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	ack := decode[model.SendAck](t, w)
	assert.Equal(t, "c-1", ack.ClientSeq)
	assert.Equal(t, int64(1), ack.ConversationSeq)
	assert.Equal(t, "p2p:1_2", ack.ConversationID)

	w = doJSON(f.engine, "/msg/send", model.SendRequest{From: "2", To: "1", ConvType: model.ConvTypePrivate, ClientSeq: "c-2"}, bearer...)
	assert.Equal(t, http.StatusForbidden, w.Code)
	ce := decode[errs.CodeError](t, w)
	assert.Equal(t, errs.NoPermission, ce.Code)

	// 接收方可拉到
	pull := decode[model.PullResp](t, doJSON(f.engine, "/sync/pull", model.PullReq{FromSeq: 1},
		"Authorization", "Bearer "+mustToken(t, opts, "2")))
	require.Len(t, pull.Messages, 1)
	assert.Equal(t, "hi", pull.Messages[0].Content)
}

func mustToken(t *testing.T, opts *security.Options, user string) string {
	tok, _, err := tokens.Generate(opts.JWT, user)
	require.NoError(t, err)
	return tok
}
