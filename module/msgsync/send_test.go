package msgsync

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"PPSeq/module/chat/model"
	"PPSeq/service/kafka"
	"PPSeq/tools/errs"
	"PPSeq/tools/ids"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// 每个 key 独立递增，模拟发号服务
type fakeAlloc struct {
	mu   sync.Mutex
	next map[string]int64
	err  error
}

func newFakeAlloc() *fakeAlloc { return &fakeAlloc{next: make(map[string]int64)} }

func (f *fakeAlloc) Allocate(_ context.Context, key string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return 0, f.err
	}
	f.next[key]++
	return f.next[key], nil
}

type capturePub struct {
	mu   sync.Mutex
	keys []string
	envs []*model.Envelope
	err  error
}

func (p *capturePub) Publish(_ context.Context, key string, env *model.Envelope) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.keys = append(p.keys, key)
	p.envs = append(p.envs, env)
	return nil
}

type recordPusher struct {
	mu     sync.Mutex
	online map[string]bool
	got    map[string][]int64 // user -> seqs
}

func newRecordPusher(online ...string) *recordPusher {
	p := &recordPusher{online: make(map[string]bool), got: make(map[string][]int64)}
	for _, u := range online {
		p.online[u] = true
	}
	return p
}

func (p *recordPusher) Push(_ context.Context, user string, msg *model.Message) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.online[user] {
		return false
	}
	p.got[user] = append(p.got[user], msg.Seq)
	return true
}

func TestSend_Private(t *testing.T) {
	ctx := context.Background()
	alloc := newFakeAlloc()
	pub := &capturePub{}
	clock := clockwork.NewFakeClockAt(time.UnixMilli(1_700_000_000_000))
	svc := NewSendService(alloc, ids.NewGenerator(1), pub, SendOptions{Clock: clock})

	// 先让发送方收件箱已有 4 条，两个流的序号互相独立
	for i := 0; i < 4; i++ {
		_, _ = alloc.Allocate(ctx, "user_10")
	}

	ack, err := svc.Send(ctx, model.SendRequest{From: "10", To: "2", ConvType: model.ConvTypePrivate, ClientSeq: "c-1", Content: "hello"})
	require.NoError(t, err)
	assert.Equal(t, "c-1", ack.ClientSeq)
	assert.NotEmpty(t, ack.ServerMsgID)
	assert.Equal(t, int64(5), ack.ConversationSeq)
	assert.Equal(t, "p2p:2_10", ack.ConversationID)
	assert.Equal(t, "u:10", ack.Stream)

	require.Len(t, pub.envs, 1)
	env := pub.envs[0]
	assert.Equal(t, "p2p:2_10", pub.keys[0])
	assert.Equal(t, map[string]int64{"u:2": 1, "u:10": 5}, env.Seqs)
	assert.Equal(t, int64(1_700_000_000_000), env.Message.SendTime)
	assert.Equal(t, ack.ServerMsgID, env.Message.ServerMsgID)

	// 自己发给自己只占一个序号
	ack, err = svc.Send(ctx, model.SendRequest{From: "2", To: "2", ConvType: model.ConvTypePrivate, ClientSeq: "c-2"})
	require.NoError(t, err)
	assert.Equal(t, int64(2), ack.ConversationSeq)
	assert.Len(t, pub.envs[1].Seqs, 1)
}

func TestSend_Group(t *testing.T) {
	ctx := context.Background()
	members := NewStaticMembers()
	members.Set("7", "1", "2", "3")
	pub := &capturePub{}
	svc := NewSendService(newFakeAlloc(), ids.NewGenerator(1), pub, SendOptions{Members: members})

	ack, err := svc.Send(ctx, model.SendRequest{From: "1", To: "7", ConvType: model.ConvTypeGroup, ClientSeq: "c-1"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), ack.ConversationSeq)
	assert.Equal(t, "group:7", ack.ConversationID)
	assert.Equal(t, "g:7", ack.Stream)
	assert.Equal(t, map[string]int64{"g:7": 1}, pub.envs[0].Seqs)

	_, err = svc.Send(ctx, model.SendRequest{From: "9", To: "7", ConvType: model.ConvTypeGroup, ClientSeq: "c-2"})
	assert.ErrorIs(t, err, errs.ErrNoPermission)
	assert.Len(t, pub.envs, 1)
}

func TestSend_Errors(t *testing.T) {
	ctx := context.Background()
	alloc := newFakeAlloc()
	pub := &capturePub{}
	svc := NewSendService(alloc, ids.NewGenerator(1), pub, SendOptions{})

	for _, req := range []model.SendRequest{
		{To: "2", ConvType: model.ConvTypePrivate, ClientSeq: "c"},
		{From: "1", To: "2", ConvType: model.ConvTypePrivate},
		{From: "1", To: "2", ConvType: 9, ClientSeq: "c"},
	} {
		_, err := svc.Send(ctx, req)
		assert.ErrorIs(t, err, errs.ErrArgs)
	}

	alloc.err = errs.ErrStoreUnavailable.WrapMsg("down")
	_, err := svc.Send(ctx, model.SendRequest{From: "1", To: "2", ConvType: model.ConvTypePrivate, ClientSeq: "c"})
	assert.ErrorIs(t, err, errs.ErrAllocFailed)

	alloc.err = nil
	pub.err = errors.New("broker down")
	_, err = svc.Send(ctx, model.SendRequest{From: "1", To: "2", ConvType: model.ConvTypePrivate, ClientSeq: "c"})
	assert.Error(t, err)
	assert.Empty(t, pub.envs)
}

func TestSendDeliver_EndToEnd(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()
	members := NewStaticMembers()
	members.Set("7", "1", "2", "3")
	pusher := newRecordPusher("1", "2")
	d := NewDeliverer(store, pusher, members, nil)
	svc := NewSendService(newFakeAlloc(), ids.NewGenerator(1), NewDirectPublisher(d), SendOptions{Members: members})

	_, err := svc.Send(ctx, model.SendRequest{From: "1", To: "2", ConvType: model.ConvTypePrivate, ClientSeq: "a"})
	require.NoError(t, err)
	_, err = svc.Send(ctx, model.SendRequest{From: "1", To: "7", ConvType: model.ConvTypeGroup, ClientSeq: "b"})
	require.NoError(t, err)

	// 单聊进双方收件箱；群消息只存一份
	for _, stream := range []string{"u:1", "u:2", "g:7"} {
		got, err := store.Range(ctx, stream, 1, 0, 10)
		require.NoError(t, err)
		require.Len(t, got, 1, stream)
		assert.Equal(t, stream, got[0].Stream)
	}
	// 群推送跳过发送方，3 不在线
	assert.Equal(t, []int64{1}, pusher.got["1"])
	assert.Equal(t, []int64{1, 1}, pusher.got["2"])

	// broker 重投同一信封不产生重复
	msgs, _ := store.Range(ctx, "u:2", 1, 0, 10)
	env := &model.Envelope{Message: *msgs[0], Seqs: map[string]int64{"u:2": 1}}
	require.NoError(t, d.Handle(ctx, env))
	msgs, _ = store.Range(ctx, "u:2", 1, 0, 10)
	assert.Len(t, msgs, 1)
}

func TestDeliverer_HandleKafka(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()
	d := NewDeliverer(store, nil, nil, nil)

	err := d.HandleKafka(ctx, "im.msg-00", []byte("k"), []byte("{not json"))
	assert.ErrorIs(t, err, kafka.ErrSkip)

	b, err := json.Marshal(model.Envelope{
		Message: model.Message{ServerMsgID: "m1", From: "1", To: "2"},
		Seqs:    map[string]int64{"u:2": 3},
	})
	require.NoError(t, err)
	require.NoError(t, d.HandleKafka(ctx, "im.msg-00", []byte("p2p:1_2"), b))
	max, err := store.MaxSeq(ctx, "u:2")
	require.NoError(t, err)
	assert.Equal(t, int64(3), max)

	assert.ErrorIs(t, d.Handle(ctx, &model.Envelope{}), errs.ErrArgs)
}
