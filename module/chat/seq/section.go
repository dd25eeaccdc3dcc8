package seq

import (
	"context"
	"sync"

	"PPSeq/module/chat/model"
)

// SectionStore 分片水位的持久化。Upsert 必须按 max(旧, 新) 写 max_seq，不允许回退
type SectionStore interface {
	Upsert(ctx context.Context, s model.Section) error
	// Load 不存在时 ok=false
	Load(ctx context.Context, sectionKey string) (sec model.Section, ok bool, err error)
	Count(ctx context.Context) (int64, error)
	Ping(ctx context.Context) error
}

type memSectionStore struct {
	mu   sync.RWMutex
	rows map[string]model.Section
}

func NewMemSectionStore() SectionStore {
	return &memSectionStore{rows: make(map[string]model.Section)}
}

func (m *memSectionStore) Upsert(_ context.Context, s model.Section) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	old, ok := m.rows[s.SectionKey]
	if !ok {
		s.Version = 1
		m.rows[s.SectionKey] = s
		return nil
	}
	if s.MaxSeq < old.MaxSeq {
		s.MaxSeq = old.MaxSeq
	}
	s.Version = old.Version + 1
	m.rows[s.SectionKey] = s
	return nil
}

func (m *memSectionStore) Load(_ context.Context, sectionKey string) (model.Section, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.rows[sectionKey]
	return s, ok, nil
}

func (m *memSectionStore) Count(context.Context) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return int64(len(m.rows)), nil
}

func (m *memSectionStore) Ping(context.Context) error { return nil }
