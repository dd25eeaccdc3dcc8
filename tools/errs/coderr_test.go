package errs

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWrapMsgKeepsCode(t *testing.T) {
	err := ErrAllocFailed.WrapMsg("script sentinel", "shard", "u_1")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrAllocFailed))
	assert.False(t, errors.Is(err, ErrArgs))

	ce, ok := CodeOf(fmt.Errorf("outer: %w", err))
	require.True(t, ok)
	assert.Equal(t, AllocFailed, ce.Code)
	assert.Equal(t, "script sentinel, shard=u_1", ce.Detail)
	// 原始哨兵不被修改
	assert.Empty(t, ErrAllocFailed.Detail)
}

func TestCodeRelation(t *testing.T) {
	err := ErrStoreUnavailable.Wrap()
	assert.True(t, errors.Is(err, ErrAllocFailed))
	assert.True(t, errors.Is(err, ErrStoreUnavailable))
	assert.False(t, errors.Is(ErrAllocFailed.Wrap(), ErrStoreUnavailable))

	require.Error(t, Relate(ArgsError))
	require.Error(t, Relate(ArgsError, ArgsError))
	// 重复声明不报错
	require.NoError(t, Relate(AllocFailed, StoreUnavailable))
	assert.Equal(t, []int{AllocFailed}, codeParents[StoreUnavailable])
}

func TestWithDetailCopies(t *testing.T) {
	e := ErrInternalServer.WithDetail("a").WithDetail("b")
	assert.Equal(t, "a, b", e.Detail)
	assert.Equal(t, "500 ServerInternalError a, b", e.Error())
	assert.Empty(t, ErrInternalServer.Detail)
}

func TestToStringOddKV(t *testing.T) {
	assert.Equal(t, "m, a=1, b=MISSING", toString("m", []any{"a", 1, "b"}))
	assert.Equal(t, "a=1", toString("", []any{"a", 1}))
}

func TestErrPanic(t *testing.T) {
	assert.Nil(t, ErrPanic(nil))
	err := ErrPanic("boom")
	ce, ok := CodeOf(err)
	require.True(t, ok)
	assert.Equal(t, ServerInternalError, ce.Code)
	assert.Equal(t, "boom", ce.Detail)
}
