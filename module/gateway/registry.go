package gateway

import (
	"sync"

	cmap "github.com/orcaman/concurrent-map"
)

// 一个用户在本节点上的全部连接（多端）
type userConns struct {
	mu    sync.RWMutex
	conns map[string]*Conn // connID -> conn
}

// Registry 本节点在线表：userID -> 连接集合，按 key 分片加锁
type Registry struct {
	users cmap.ConcurrentMap
}

func NewRegistry() *Registry {
	return &Registry{users: cmap.New()}
}

// Add 返回该用户当前在本节点的连接数
func (r *Registry) Add(c *Conn) int {
	var n int
	r.users.Upsert(c.UserID, nil, func(exist bool, old interface{}, _ interface{}) interface{} {
		uc, _ := old.(*userConns)
		if !exist || uc == nil {
			uc = &userConns{conns: make(map[string]*Conn, 1)}
		}
		uc.mu.Lock()
		uc.conns[c.ID] = c
		n = len(uc.conns)
		uc.mu.Unlock()
		return uc
	})
	return n
}

// Remove 返回剩余连接数；最后一条移除时一并删掉用户项
func (r *Registry) Remove(c *Conn) int {
	left := 0
	r.users.RemoveCb(c.UserID, func(_ string, v interface{}, exists bool) bool {
		if !exists {
			return false
		}
		uc := v.(*userConns)
		uc.mu.Lock()
		defer uc.mu.Unlock()
		if cur, ok := uc.conns[c.ID]; ok && cur == c {
			delete(uc.conns, c.ID)
		}
		left = len(uc.conns)
		return left == 0
	})
	return left
}

// Get 快照，调用方可在锁外写
func (r *Registry) Get(userID string) []*Conn {
	v, ok := r.users.Get(userID)
	if !ok {
		return nil
	}
	uc := v.(*userConns)
	uc.mu.RLock()
	defer uc.mu.RUnlock()
	out := make([]*Conn, 0, len(uc.conns))
	for _, c := range uc.conns {
		out = append(out, c)
	}
	return out
}

func (r *Registry) Online(userID string) bool { return len(r.Get(userID)) > 0 }

// Users 在线用户数
func (r *Registry) Users() int { return r.users.Count() }

// All 全部连接快照，关停时用
func (r *Registry) All() []*Conn {
	var out []*Conn
	for _, v := range r.users.Items() {
		uc := v.(*userConns)
		uc.mu.RLock()
		for _, c := range uc.conns {
			out = append(out, c)
		}
		uc.mu.RUnlock()
	}
	return out
}
