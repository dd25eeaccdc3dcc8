package errs

import (
	"errors"
	"strconv"

	pkgerr "github.com/pkg/errors"
)

// CodeError 业务错误：Code 决定 HTTP 状态与客户端处理方式，Detail 只给人看
type CodeError struct {
	Code   int    `json:"code"`
	Msg    string `json:"msg"`
	Detail string `json:"detail,omitempty"`
}

func NewCodeError(code int, msg string) *CodeError {
	return &CodeError{Code: code, Msg: msg}
}

func (e *CodeError) Error() string {
	s := strconv.Itoa(e.Code) + " " + e.Msg
	if e.Detail != "" {
		s += " " + e.Detail
	}
	return s
}

// withDetail 复制一份再追加 detail，哨兵本身不变
func (e *CodeError) withDetail(detail string) *CodeError {
	c := *e
	switch {
	case detail == "":
	case c.Detail == "":
		c.Detail = detail
	default:
		c.Detail += ", " + detail
	}
	return &c
}

// WithDetail 不带调用栈，用于直接回给客户端的错误
func (e *CodeError) WithDetail(detail string) *CodeError {
	return e.withDetail(detail)
}

// Wrap 带调用栈返回
func (e *CodeError) Wrap() error {
	return pkgerr.WithStack(e.withDetail(""))
}

// WrapMsg msg + kv 追加到 detail，kv 成对出现
func (e *CodeError) WrapMsg(msg string, kv ...any) error {
	return pkgerr.WithStack(e.withDetail(toString(msg, kv)))
}

// Is 同码，或 e 是 target 的子码，errors.Is 走这里
func (e *CodeError) Is(target error) bool {
	var t *CodeError
	if !errors.As(target, &t) {
		return false
	}
	if e == nil || t == nil {
		return e == t
	}
	return e.Code == t.Code || codeParents.is(t.Code, e.Code)
}

// CodeOf 取错误链上的第一个 CodeError
func CodeOf(err error) (*CodeError, bool) {
	var ce *CodeError
	if errors.As(err, &ce) {
		return ce, true
	}
	return nil, false
}

// codeTree child -> parents，子码命中父码的 errors.Is
type codeTree map[int][]int

var codeParents = codeTree{}

// Relate 声明 children 都属于 parent，重复声明无副作用
func Relate(parent int, children ...int) error {
	if len(children) == 0 {
		return New("relate needs at least one child", "parent", parent)
	}
	for _, c := range children {
		if c == parent {
			return New("code cannot be its own parent", "code", c)
		}
		if !codeParents.is(parent, c) {
			codeParents[c] = append(codeParents[c], parent)
		}
	}
	return nil
}

// is 沿父链向上找，层级很浅，直接递归
func (t codeTree) is(parent, child int) bool {
	for _, p := range t[child] {
		if p == parent || t.is(parent, p) {
			return true
		}
	}
	return false
}
