package nacos

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"PPSeq/global/config"

	"github.com/nacos-group/nacos-sdk-go/v2/vo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	mu       sync.Mutex
	content  string
	onChange func(namespace, group, dataId, data string)
	canceled bool
}

func (f *fakeSource) GetConfig(vo.ConfigParam) (string, error) { return f.content, nil }

func (f *fakeSource) ListenConfig(p vo.ConfigParam) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onChange = p.OnChange
	return nil
}

func (f *fakeSource) CancelListenConfig(vo.ConfigParam) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.canceled = true
	return nil
}

func (f *fakeSource) push(data string) {
	f.mu.Lock()
	cb := f.onChange
	f.mu.Unlock()
	cb("public", "DEFAULT_GROUP", "ppseq.yaml", data)
}

func (f *fakeSource) listening() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.onChange != nil
}

func TestWatch_MergesIntoLoader(t *testing.T) {
	l, err := config.Load("")
	require.NoError(t, err)
	changed := make(chan *config.AppConfig, 4)
	l.OnChange(func(c *config.AppConfig) { changed <- c })

	src := &fakeSource{content: "seq:\n  step: 500\n"}
	require.NoError(t, Fetch(src, "ppseq.yaml", "DEFAULT_GROUP", l))
	assert.Equal(t, int32(500), l.Get().Seq.Step)
	<-changed

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Watch(ctx, src, "ppseq.yaml", "DEFAULT_GROUP", l) }()

	require.Eventually(t, src.listening, time.Second, 5*time.Millisecond)

	src.push("client:\n  scheduler: wheel\n")
	select {
	case c := <-changed:
		assert.Equal(t, "wheel", c.Client.Scheduler)
	case <-time.After(time.Second):
		t.Fatal("no change callback")
	}
	assert.Equal(t, int32(500), l.Get().Seq.Step)

	// 坏配置不覆盖
	src.push("seq: [broken")
	assert.Equal(t, "wheel", l.Get().Client.Scheduler)

	cancel()
	require.NoError(t, <-done)
	assert.True(t, src.canceled)
}

type fakeNaming struct {
	regs   []vo.RegisterInstanceParam
	dereg  int
	regErr error
}

func (f *fakeNaming) RegisterInstance(p vo.RegisterInstanceParam) (bool, error) {
	if f.regErr != nil {
		return false, f.regErr
	}
	f.regs = append(f.regs, p)
	return true, nil
}

func (f *fakeNaming) DeregisterInstance(vo.DeregisterInstanceParam) (bool, error) {
	f.dereg++
	return true, nil
}

func TestRegistry_RegisterAndMeta(t *testing.T) {
	n := &fakeNaming{}
	r := NewRegistry(n, "ppseq", "10.0.0.1", 8080)

	// 未注册前改 metadata 不触发注册
	require.NoError(t, r.SetMeta("zone", "a"))
	assert.Empty(t, n.regs)

	require.NoError(t, r.Register("node-1", []string{"seq", "gateway"}))
	require.Len(t, n.regs, 1)
	assert.Equal(t, "node-1", n.regs[0].Metadata["nodeId"])
	assert.Equal(t, "seq,gateway", n.regs[0].Metadata["roles"])
	assert.Equal(t, "a", n.regs[0].Metadata["zone"])
	assert.True(t, n.regs[0].Ephemeral)

	require.NoError(t, r.SetMeta("zone", "b"))
	require.NoError(t, r.SetMeta("zone", "b"))
	assert.Len(t, n.regs, 2)

	require.NoError(t, r.Deregister())
	require.NoError(t, r.Deregister())
	assert.Equal(t, 1, n.dereg)
}

func TestRegistry_RegisterError(t *testing.T) {
	r := NewRegistry(&fakeNaming{regErr: errors.New("down")}, "ppseq", "10.0.0.1", 8080)
	assert.Error(t, r.Register("node-1", nil))
	require.NoError(t, r.Deregister())
}
