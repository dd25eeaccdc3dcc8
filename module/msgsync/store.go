package msgsync

import (
	"context"
	"sync/atomic"

	"PPSeq/module/chat/model"

	cmap "github.com/orcaman/concurrent-map"
	"github.com/zhangyunhao116/skipmap"
)

// MessageStore 服务端按流存储，(stream, seq) 唯一
type MessageStore interface {
	// Save 幂等：同一 (stream, seq) 重复写入被忽略（broker 至少一次投递）
	Save(ctx context.Context, msgs ...*model.Message) error
	// MaxSeq 流内已落库的最大序号，空流为 0
	MaxSeq(ctx context.Context, stream string) (int64, error)
	// Range seq ∈ [from, to] 升序，最多 limit 条；to <= 0 表示不设上界
	Range(ctx context.Context, stream string, from, to int64, limit int) ([]*model.Message, error)
	// MarkDelivered 按 serverMsgId 标记已送达，返回命中条数
	MarkDelivered(ctx context.Context, stream string, msgIDs []string) (int64, error)
	Ping(ctx context.Context) error
}

type memStream struct {
	msgs *skipmap.FuncMap[int64, *model.Message]
	max  atomic.Int64
}

func newMemStream() *memStream {
	return &memStream{msgs: skipmap.NewFunc[int64, *model.Message](func(a, b int64) bool { return a < b })}
}

type memStore struct {
	streams cmap.ConcurrentMap // stream -> *memStream
}

// NewMemStore 单进程模式与测试用
func NewMemStore() MessageStore {
	return &memStore{streams: cmap.New()}
}

func (s *memStore) stream(name string, create bool) *memStream {
	if v, ok := s.streams.Get(name); ok {
		return v.(*memStream)
	}
	if !create {
		return nil
	}
	s.streams.SetIfAbsent(name, newMemStream())
	v, _ := s.streams.Get(name)
	return v.(*memStream)
}

func (s *memStore) Save(_ context.Context, msgs ...*model.Message) error {
	for _, m := range msgs {
		st := s.stream(m.Stream, true)
		cp := *m
		if _, loaded := st.msgs.LoadOrStore(m.Seq, &cp); loaded {
			continue
		}
		for {
			cur := st.max.Load()
			if m.Seq <= cur || st.max.CompareAndSwap(cur, m.Seq) {
				break
			}
		}
	}
	return nil
}

func (s *memStore) MaxSeq(_ context.Context, stream string) (int64, error) {
	st := s.stream(stream, false)
	if st == nil {
		return 0, nil
	}
	return st.max.Load(), nil
}

func (s *memStore) Range(_ context.Context, stream string, from, to int64, limit int) ([]*model.Message, error) {
	st := s.stream(stream, false)
	if st == nil || limit <= 0 {
		return nil, nil
	}
	out := make([]*model.Message, 0, min(limit, 64))
	st.msgs.Range(func(seq int64, m *model.Message) bool {
		if seq < from {
			return true
		}
		if to > 0 && seq > to {
			return false
		}
		cp := *m
		out = append(out, &cp)
		return len(out) < limit
	})
	return out, nil
}

func (s *memStore) MarkDelivered(_ context.Context, stream string, msgIDs []string) (int64, error) {
	st := s.stream(stream, false)
	if st == nil || len(msgIDs) == 0 {
		return 0, nil
	}
	want := make(map[string]struct{}, len(msgIDs))
	for _, id := range msgIDs {
		want[id] = struct{}{}
	}
	var n int64
	st.msgs.Range(func(seq int64, m *model.Message) bool {
		if _, ok := want[m.ServerMsgID]; ok && !m.Delivered {
			cp := *m
			cp.Delivered = true
			st.msgs.Store(seq, &cp)
			n++
		}
		return true
	})
	return n, nil
}

func (s *memStore) Ping(context.Context) error { return nil }
