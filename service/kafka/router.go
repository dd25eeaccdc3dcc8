package kafka

import (
	"fmt"
	"hash/crc32"
)

// GenTopics 生成 N 个大 Topic：im.msg-00, im.msg-01, ...
func GenTopics(pattern string, count int) []string {
	if count <= 0 {
		count = 1
	}
	out := make([]string, 0, count)
	for i := 0; i < count; i++ {
		out = append(out, fmt.Sprintf(pattern, i))
	}
	return out
}

// SelectTopic 同一会话 key 永远命中同一个大 Topic
func SelectTopic(key string, topics []string) string {
	if len(topics) == 0 {
		return ""
	}
	h := crc32.ChecksumIEEE([]byte(key))
	return topics[int(h%uint32(len(topics)))]
}
