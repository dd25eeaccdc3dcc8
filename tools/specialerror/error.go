package specialerror

import (
	"context"
	"errors"
	"sync"

	"PPSeq/tools/errs"
)

var (
	mu       sync.RWMutex
	handlers []func(err error) *errs.CodeError
)

// AddErrHandler 注册把第三方错误翻译成 CodeError 的处理器，按注册顺序匹配
func AddErrHandler(h func(err error) *errs.CodeError) error {
	if h == nil {
		return errs.New("nil handler")
	}
	mu.Lock()
	handlers = append(handlers, h)
	mu.Unlock()
	return nil
}

// ErrCode 找出 err 对应的 CodeError，找不到时归为 ServerInternalError
func ErrCode(err error) *errs.CodeError {
	if err == nil {
		return nil
	}
	if ce, ok := errs.CodeOf(err); ok {
		return ce
	}
	mu.RLock()
	hs := handlers
	mu.RUnlock()
	for _, h := range hs {
		if ce := h(err); ce != nil {
			return ce
		}
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return errs.ErrStoreUnavailable.WithDetail(err.Error())
	}
	return errs.ErrInternalServer.WithDetail(err.Error())
}
