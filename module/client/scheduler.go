package client

import (
	"container/list"
	"sort"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

const (
	SchedulerSweep = "sweep"
	SchedulerWheel = "wheel"
)

// TimeoutScheduler 统一的超时调度：调用方按 Interval 周期调用 Advance 取到期 key。
// 同一 key 重复 Schedule 以最后一次为准；Cancel 只是移除，不要求打断正在处理的到期
type TimeoutScheduler interface {
	Schedule(key string, after time.Duration)
	Cancel(key string)
	Advance() []string
	Interval() time.Duration
	Len() int
}

// NewScheduler kind 为 sweep / wheel，未知值按 sweep
func NewScheduler(kind string, interval time.Duration, clock clockwork.Clock) TimeoutScheduler {
	if kind == SchedulerWheel {
		return NewWheelScheduler(interval, 0, clock)
	}
	return NewSweepScheduler(interval, clock)
}

// SweepScheduler 周期全量扫描，量小时足够
type SweepScheduler struct {
	mu        sync.Mutex
	deadlines map[string]time.Time
	interval  time.Duration
	clock     clockwork.Clock
}

func NewSweepScheduler(interval time.Duration, clock clockwork.Clock) *SweepScheduler {
	if interval <= 0 {
		interval = time.Second
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &SweepScheduler{deadlines: make(map[string]time.Time), interval: interval, clock: clock}
}

func (s *SweepScheduler) Schedule(key string, after time.Duration) {
	s.mu.Lock()
	s.deadlines[key] = s.clock.Now().Add(after)
	s.mu.Unlock()
}

func (s *SweepScheduler) Cancel(key string) {
	s.mu.Lock()
	delete(s.deadlines, key)
	s.mu.Unlock()
}

func (s *SweepScheduler) Advance() []string {
	now := s.clock.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for k, d := range s.deadlines {
		if !d.After(now) {
			out = append(out, k)
			delete(s.deadlines, k)
		}
	}
	sort.Strings(out)
	return out
}

func (s *SweepScheduler) Interval() time.Duration { return s.interval }

func (s *SweepScheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.deadlines)
}

type wheelEntry struct {
	key    string
	slot   int
	rounds int // 还要转几圈
}

// WheelScheduler 单层哈希时间轮：slots 个槽，每 tick 前进一格，超过一圈的用 rounds 计数
type WheelScheduler struct {
	mu      sync.Mutex
	tick    time.Duration
	buckets []*list.List
	index   map[string]*list.Element
	cursor  int
	last    time.Time // 最近一次推进到的 tick 边界
	clock   clockwork.Clock
}

func NewWheelScheduler(tick time.Duration, slots int, clock clockwork.Clock) *WheelScheduler {
	if tick <= 0 {
		tick = 100 * time.Millisecond
	}
	if slots <= 0 {
		slots = 512
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	w := &WheelScheduler{
		tick:    tick,
		buckets: make([]*list.List, slots),
		index:   make(map[string]*list.Element),
		last:    clock.Now(),
		clock:   clock,
	}
	for i := range w.buckets {
		w.buckets[i] = list.New()
	}
	return w
}

func (w *WheelScheduler) Schedule(key string, after time.Duration) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.removeLocked(key)
	// 向上取整，至少一格；按 last 对齐，保证不早于 after 到期
	elapsed := w.clock.Now().Sub(w.last)
	ticks := int((after + elapsed + w.tick - 1) / w.tick)
	if ticks < 1 {
		ticks = 1
	}
	n := len(w.buckets)
	e := &wheelEntry{key: key, slot: (w.cursor + ticks) % n, rounds: (ticks - 1) / n}
	w.index[key] = w.buckets[e.slot].PushBack(e)
}

func (w *WheelScheduler) Cancel(key string) {
	w.mu.Lock()
	w.removeLocked(key)
	w.mu.Unlock()
}

func (w *WheelScheduler) removeLocked(key string) {
	if el, ok := w.index[key]; ok {
		w.buckets[el.Value.(*wheelEntry).slot].Remove(el)
		delete(w.index, key)
	}
}

// Advance 按真实流逝的 tick 数逐格推进
func (w *WheelScheduler) Advance() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	steps := int(w.clock.Now().Sub(w.last) / w.tick)
	if steps <= 0 {
		return nil
	}
	w.last = w.last.Add(time.Duration(steps) * w.tick)
	var out []string
	for i := 0; i < steps; i++ {
		w.cursor = (w.cursor + 1) % len(w.buckets)
		b := w.buckets[w.cursor]
		for el := b.Front(); el != nil; {
			next := el.Next()
			e := el.Value.(*wheelEntry)
			if e.rounds > 0 {
				e.rounds--
			} else {
				out = append(out, e.key)
				b.Remove(el)
				delete(w.index, e.key)
			}
			el = next
		}
	}
	return out
}

func (w *WheelScheduler) Interval() time.Duration { return w.tick }

func (w *WheelScheduler) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.index)
}
