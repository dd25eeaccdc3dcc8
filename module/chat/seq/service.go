package seq

import (
	"context"
	"time"

	"PPSeq/tools/errs"
)

const (
	StatusUp       = "UP"
	StatusDown     = "DOWN"
	StatusDegraded = "DEGRADED"

	DefaultMaxBatchKeys  = 100
	DefaultMaxBatchCount = 1000
)

type NextResp struct {
	Seq          int64  `json:"seq"`
	Success      bool   `json:"success"`
	ErrorMessage string `json:"errorMessage,omitempty"`
}

type NextBatchResp struct {
	Results map[string]BatchResult `json:"results"`
}

type HealthResp struct {
	Status      string `json:"status"`
	StoreStatus string `json:"storeStatus"`
	DbStatus    string `json:"dbStatus"`
}

type StatsResp struct {
	TotalGenerated int64   `json:"totalGenerated"`
	TotalErrors    int64   `json:"totalErrors"`
	SuccessRate    float64 `json:"successRate"`
	SectionCount   int64   `json:"sectionCount"`
}

type ServiceOptions struct {
	MaxBatchKeys  int
	MaxBatchCount int
	PingTimeout   time.Duration
}

// Service 发号服务对外接口
type Service struct {
	alloc *Allocator
	cache SegmentCache
	store SectionStore
	opts  ServiceOptions
}

func NewService(alloc *Allocator, cache SegmentCache, store SectionStore, opts ServiceOptions) *Service {
	if opts.MaxBatchKeys <= 0 {
		opts.MaxBatchKeys = DefaultMaxBatchKeys
	}
	if opts.MaxBatchCount <= 0 {
		opts.MaxBatchCount = DefaultMaxBatchCount
	}
	if opts.PingTimeout <= 0 {
		opts.PingTimeout = time.Second
	}
	return &Service{alloc: alloc, cache: cache, store: store, opts: opts}
}

func (s *Service) Allocator() *Allocator { return s.alloc }

// Next 发号失败不返回 error，体现在 Success/ErrorMessage
func (s *Service) Next(ctx context.Context, key string) NextResp {
	v, err := s.alloc.Allocate(ctx, key)
	if err != nil {
		return NextResp{ErrorMessage: err.Error()}
	}
	return NextResp{Seq: v, Success: true}
}

func (s *Service) NextBatch(ctx context.Context, keys []string, count int) (NextBatchResp, error) {
	if len(keys) == 0 {
		return NextBatchResp{}, errs.ErrArgs.WrapMsg("keys empty")
	}
	if len(keys) > s.opts.MaxBatchKeys {
		return NextBatchResp{}, errs.ErrArgs.WrapMsg("too many keys", "keys", len(keys), "max", s.opts.MaxBatchKeys)
	}
	if count <= 0 || count > s.opts.MaxBatchCount {
		return NextBatchResp{}, errs.ErrArgs.WrapMsg("count out of range", "count", count, "max", s.opts.MaxBatchCount)
	}
	return NextBatchResp{Results: s.alloc.AllocateBatch(ctx, keys, count)}, nil
}

// Health 缓存不可用发不了号为 DOWN；只有持久层不可用时仍能段内发号，为 DEGRADED
func (s *Service) Health(ctx context.Context) HealthResp {
	ctx, cancel := context.WithTimeout(ctx, s.opts.PingTimeout)
	defer cancel()

	h := HealthResp{StoreStatus: StatusUp, DbStatus: StatusUp}
	if err := s.cache.Ping(ctx); err != nil {
		h.StoreStatus = StatusDown
	}
	if err := s.store.Ping(ctx); err != nil {
		h.DbStatus = StatusDown
	}
	switch {
	case h.StoreStatus == StatusDown:
		h.Status = StatusDown
	case h.DbStatus == StatusDown:
		h.Status = StatusDegraded
	default:
		h.Status = StatusUp
	}
	return h
}

func (s *Service) Stats(ctx context.Context) StatsResp {
	st := s.alloc.Stats()
	resp := StatsResp{
		TotalGenerated: st.TotalGenerated,
		TotalErrors:    st.TotalErrors,
		SuccessRate:    st.SuccessRate(),
		SectionCount:   -1,
	}
	ctx, cancel := context.WithTimeout(ctx, s.opts.PingTimeout)
	defer cancel()
	if n, err := s.store.Count(ctx); err == nil {
		resp.SectionCount = n
	}
	return resp
}
