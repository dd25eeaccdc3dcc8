package client

import (
	"PPSeq/module/chat/model"

	"github.com/zhangyunhao116/skipmap"
)

// ReorderBuffer 按 seq 有序的乱序缓冲；同 seq 重复到达保留先到的
type ReorderBuffer struct {
	m *skipmap.FuncMap[int64, *model.Message]
}

func NewReorderBuffer() *ReorderBuffer {
	return &ReorderBuffer{m: skipmap.NewFunc[int64, *model.Message](func(a, b int64) bool { return a < b })}
}

// Put 返回 false 表示该 seq 已在缓冲中
func (b *ReorderBuffer) Put(msg *model.Message) bool {
	_, loaded := b.m.LoadOrStore(msg.Seq, msg)
	return !loaded
}

func (b *ReorderBuffer) Take(seq int64) (*model.Message, bool) {
	return b.m.LoadAndDelete(seq)
}

// Min 缓冲中最小的 seq
func (b *ReorderBuffer) Min() (int64, bool) {
	var (
		min int64
		ok  bool
	)
	b.m.Range(func(k int64, _ *model.Message) bool {
		min, ok = k, true
		return false
	})
	return min, ok
}

func (b *ReorderBuffer) Len() int { return b.m.Len() }
