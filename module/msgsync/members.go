package msgsync

import (
	"context"
	"sync"

	"PPSeq/tools/errs"

	"github.com/redis/go-redis/v9"
)

// MemberResolver 群成员查询；群组管理不在本服务内，只读
type MemberResolver interface {
	Members(ctx context.Context, groupID string) ([]string, error)
	IsMember(ctx context.Context, groupID, userID string) (bool, error)
}

// StaticMembers 内存表，测试与单机演示用
type StaticMembers struct {
	mu     sync.RWMutex
	groups map[string]map[string]struct{}
}

func NewStaticMembers() *StaticMembers {
	return &StaticMembers{groups: make(map[string]map[string]struct{})}
}

func (s *StaticMembers) Set(groupID string, members ...string) {
	set := make(map[string]struct{}, len(members))
	for _, m := range members {
		set[m] = struct{}{}
	}
	s.mu.Lock()
	s.groups[groupID] = set
	s.mu.Unlock()
}

func (s *StaticMembers) Members(_ context.Context, groupID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.groups[groupID]))
	for m := range s.groups[groupID] {
		out = append(out, m)
	}
	return out, nil
}

func (s *StaticMembers) IsMember(_ context.Context, groupID, userID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.groups[groupID][userID]
	return ok, nil
}

// RedisMembers 群成员 SET：im:group:<gid>:members
type RedisMembers struct {
	rdb redis.UniversalClient
}

func NewRedisMembers(rdb redis.UniversalClient) *RedisMembers { return &RedisMembers{rdb: rdb} }

func groupMembersKey(gid string) string { return "im:group:" + gid + ":members" }

func (r *RedisMembers) Members(ctx context.Context, groupID string) ([]string, error) {
	ms, err := r.rdb.SMembers(ctx, groupMembersKey(groupID)).Result()
	if err != nil {
		return nil, errs.WrapMsg(err, "group members", "group", groupID)
	}
	return ms, nil
}

func (r *RedisMembers) IsMember(ctx context.Context, groupID, userID string) (bool, error) {
	ok, err := r.rdb.SIsMember(ctx, groupMembersKey(groupID), userID).Result()
	if err != nil {
		return false, errs.WrapMsg(err, "group member check", "group", groupID, "user", userID)
	}
	return ok, nil
}

// Join 运维/测试入口
func (r *RedisMembers) Join(ctx context.Context, groupID string, users ...string) error {
	if len(users) == 0 {
		return nil
	}
	args := make([]any, len(users))
	for i, u := range users {
		args[i] = u
	}
	return r.rdb.SAdd(ctx, groupMembersKey(groupID), args...).Err()
}
