package client

import (
	"context"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"PPSeq/middleware"
	"PPSeq/module/chat/model"
	"PPSeq/module/gateway"
	"PPSeq/module/msgsync"
	"PPSeq/tools/errs"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixedSender struct {
	mu   sync.Mutex
	reqs []model.SendRequest
}

func (s *fixedSender) Send(_ context.Context, req model.SendRequest) (model.SendAck, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reqs = append(s.reqs, req)
	return model.SendAck{
		ClientSeq:       req.ClientSeq,
		ServerMsgID:     "srv-1",
		ConversationSeq: 20,
		ConversationID:  model.P2PConversationID(req.From, req.To),
		ConvType:        req.ConvType,
		Stream:          model.UserStream(req.From),
	}, nil
}

func TestClient_ConnectSendAndPush(t *testing.T) {
	gin.SetMode(gin.TestMode)
	ctx := context.Background()

	store := msgsync.NewMemStore()
	require.NoError(t, store.Save(ctx, m("u:1", 1), m("u:1", 2)))
	bus := msgsync.NewDirectAckBus()
	ss := msgsync.NewSyncService(store, bus, msgsync.SyncOptions{})
	bus.Bind(ss.ApplyAck)

	sender := &fixedSender{}
	gw := gateway.NewServer("node-a", sender, gateway.Options{AllowAnonymous: true})
	e := gin.New()
	rt := middleware.NewRouter(e, nil)
	msgsync.NewHandler(ss, nil).Register(rt)
	gw.Register(rt)
	ts := httptest.NewServer(e)
	t.Cleanup(func() {
		gw.Close()
		ts.Close()
	})

	s := &sink{}
	var (
		mu        sync.Mutex
		delivered []PendingMessage
	)
	c := New("1", NewHTTPAPI(ts.URL, "", time.Second), Options{
		Server:      ts.URL,
		AnonymousWS: true,
		OnMessage:   s.deliver,
	})
	c.Pending.opts.OnDelivered = func(p PendingMessage) {
		mu.Lock()
		defer mu.Unlock()
		delivered = append(delivered, p)
	}
	defer c.Close()

	rep, err := c.Connect(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), rep.Cursor)
	assert.Equal(t, []int64{1, 2}, s.got())

	cs, err := c.Send(ctx, "2", model.ConvTypePrivate, "hi")
	require.NoError(t, err)
	require.Eventually(t, func() bool { return c.Pending.Len() == 0 }, 3*time.Second, 10*time.Millisecond)
	mu.Lock()
	require.Len(t, delivered, 1)
	assert.Equal(t, cs, delivered[0].ClientSeq)
	assert.Equal(t, int64(20), delivered[0].ConversationSeq)
	mu.Unlock()
	sender.mu.Lock()
	assert.Equal(t, "1", sender.reqs[0].From)
	sender.mu.Unlock()

	cur, _ := c.opts.Cursors.Load(ctx, "1", "u:1")
	assert.Equal(t, int64(20), cur)

	// 推送乱序到达：4 先到触发补拉，按 seq 顺序投递
	require.NoError(t, store.Save(ctx, m("u:1", 3), m("u:1", 4)))
	require.Eventually(t, func() bool { return gw.Registry().Online("1") }, 3*time.Second, 10*time.Millisecond)
	assert.True(t, gw.Push(ctx, "1", m("u:1", 4)))
	assert.True(t, gw.Push(ctx, "1", m("u:1", 3)))
	require.Eventually(t, func() bool { return len(s.got()) == 4 }, 3*time.Second, 10*time.Millisecond)
	assert.Equal(t, []int64{1, 2, 3, 4}, s.got())
}

func TestWSURL(t *testing.T) {
	u, err := WSURL("http://127.0.0.1:8080")
	require.NoError(t, err)
	assert.Equal(t, "ws://127.0.0.1:8080/ws", u)
	u, err = WSURL("https://im.example.com/api/")
	require.NoError(t, err)
	assert.Equal(t, "wss://im.example.com/api/ws", u)
}

func TestClient_ErrorFrameFailsOnce(t *testing.T) {
	var (
		mu     sync.Mutex
		failed []string
	)
	c := New("1", nil, Options{OnFailed: func(p PendingMessage) {
		mu.Lock()
		defer mu.Unlock()
		failed = append(failed, p.ClientSeq)
	}})
	require.NoError(t, c.Pending.Track(PendingMessage{ClientSeq: "bad", To: "2"}))
	require.NoError(t, c.Pending.Track(PendingMessage{ClientSeq: "busy", To: "2"}))

	// 非参数错误交给超时重发
	c.onErrorFrame(model.ErrorFrame{ClientSeq: "busy", Code: errs.ServerInternalError})
	c.onErrorFrame(model.ErrorFrame{ClientSeq: "bad", Code: errs.ArgsError, Msg: "content empty"})
	c.onErrorFrame(model.ErrorFrame{ClientSeq: "bad", Code: errs.ArgsError, Msg: "content empty"})

	mu.Lock()
	assert.Equal(t, []string{"bad"}, failed)
	mu.Unlock()
	_, ok := c.Pending.Get("busy")
	assert.True(t, ok)
	assert.Equal(t, 1, c.Pending.Len())
}
