package seq

import (
	"hash/crc32"
	"strconv"
	"strings"

	"PPSeq/module/chat/model"
)

const DefaultSections = 1024

const (
	userShardPrefix  = "u_"
	groupShardPrefix = "g_"
	convShardPrefix  = "c_"
)

// SectionRouter 把业务 key 映射到固定数量的分片 key，分摊写竞争
//
//	user_<数字>  -> u_<id mod N>
//	user_<其他>  -> u_<crc32 mod N>
//	group_<gid>  -> g_<crc32 mod N>
//	其他会话 key -> c_<crc32 mod N>
type SectionRouter struct {
	sections int64
}

func NewSectionRouter(sections int) *SectionRouter {
	if sections <= 0 {
		sections = DefaultSections
	}
	return &SectionRouter{sections: int64(sections)}
}

func (r *SectionRouter) Sections() int { return int(r.sections) }

func (r *SectionRouter) Route(businessKey string) string {
	switch {
	case strings.HasPrefix(businessKey, model.BizUserPrefix):
		id := businessKey[len(model.BizUserPrefix):]
		if n, err := strconv.ParseInt(id, 10, 64); err == nil {
			m := n % r.sections
			if m < 0 {
				m = -m
			}
			return userShardPrefix + strconv.FormatInt(m, 10)
		}
		return userShardPrefix + r.hashMod(id)
	case strings.HasPrefix(businessKey, model.BizGroupPrefix):
		return groupShardPrefix + r.hashMod(businessKey)
	default:
		return convShardPrefix + r.hashMod(businessKey)
	}
}

func (r *SectionRouter) hashMod(key string) string {
	h := crc32.ChecksumIEEE([]byte(key))
	return strconv.FormatInt(int64(h)%r.sections, 10)
}
