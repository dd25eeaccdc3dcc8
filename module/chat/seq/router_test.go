package seq

import (
	"hash/crc32"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSectionRouter_Route(t *testing.T) {
	r := NewSectionRouter(1024)

	assert.Equal(t, "u_5", r.Route("user_5"))
	assert.Equal(t, "u_1", r.Route("user_1025"))
	assert.Equal(t, "u_3", r.Route("user_-3"))

	alice := "u_" + strconv.FormatInt(int64(crc32.ChecksumIEEE([]byte("alice")))%1024, 10)
	assert.Equal(t, alice, r.Route("user_alice"))

	g := "g_" + strconv.FormatInt(int64(crc32.ChecksumIEEE([]byte("group_9")))%1024, 10)
	assert.Equal(t, g, r.Route("group_9"))

	c := "c_" + strconv.FormatInt(int64(crc32.ChecksumIEEE([]byte("p2p:1_2")))%1024, 10)
	assert.Equal(t, c, r.Route("p2p:1_2"))

	// 同 key 稳定
	assert.Equal(t, r.Route("group_abc"), r.Route("group_abc"))
}

func TestSectionRouter_Default(t *testing.T) {
	r := NewSectionRouter(0)
	assert.Equal(t, DefaultSections, r.Sections())
	assert.Equal(t, "u_0", r.Route("user_2048"))
}
