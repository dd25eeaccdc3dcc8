package client

import (
	"context"
	"net/http"
	"time"

	"PPSeq/module/chat/model"
	"PPSeq/tools/errs"

	"github.com/go-resty/resty/v2"
)

// SyncAPI 服务端同步与发送接口
type SyncAPI interface {
	SyncCheck(ctx context.Context, req model.SyncCheckReq) (*model.SyncCheckResp, error)
	Pull(ctx context.Context, req model.PullReq) (*model.PullResp, error)
	PullRange(ctx context.Context, req model.RangeReq) (*model.RangeResp, error)
	ConvSyncCheck(ctx context.Context, req model.ConvSyncCheckReq) (*model.SyncCheckResp, error)
	BatchAck(ctx context.Context, req model.BatchAckReq) error
	Send(ctx context.Context, req model.SendRequest) (*model.SendAck, error)
}

// HTTPAPI resty 实现，成功响应体即数据，失败为 {code,msg,detail}
type HTTPAPI struct {
	rc *resty.Client
}

func NewHTTPAPI(server, token string, timeout time.Duration) *HTTPAPI {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	rc := resty.New().
		SetBaseURL(server).
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json")
	if token != "" {
		rc.SetAuthToken(token)
	}
	return &HTTPAPI{rc: rc}
}

func post[T any](ctx context.Context, rc *resty.Client, path string, body any) (*T, error) {
	out := new(T)
	resp, err := rc.R().
		SetContext(ctx).
		SetBody(body).
		SetResult(out).
		SetError(&errs.CodeError{}).
		Post(path)
	if err != nil {
		return nil, errs.WrapMsg(err, "http post", "path", path)
	}
	if resp.IsError() {
		return nil, respError(resp, path)
	}
	return out, nil
}

func respError(resp *resty.Response, path string) error {
	if ce, ok := resp.Error().(*errs.CodeError); ok && ce.Code != 0 {
		return ce
	}
	base := errs.ErrInternalServer
	if resp.StatusCode() == http.StatusServiceUnavailable {
		base = errs.ErrStoreUnavailable
	}
	return base.WrapMsg("unexpected response", "path", path, "status", resp.StatusCode())
}

func (a *HTTPAPI) SyncCheck(ctx context.Context, req model.SyncCheckReq) (*model.SyncCheckResp, error) {
	return post[model.SyncCheckResp](ctx, a.rc, "/sync/check", req)
}

func (a *HTTPAPI) Pull(ctx context.Context, req model.PullReq) (*model.PullResp, error) {
	return post[model.PullResp](ctx, a.rc, "/sync/pull", req)
}

func (a *HTTPAPI) PullRange(ctx context.Context, req model.RangeReq) (*model.RangeResp, error) {
	return post[model.RangeResp](ctx, a.rc, "/sync/range", req)
}

func (a *HTTPAPI) ConvSyncCheck(ctx context.Context, req model.ConvSyncCheckReq) (*model.SyncCheckResp, error) {
	return post[model.SyncCheckResp](ctx, a.rc, "/sync/conv/check", req)
}

// BatchAck 服务端返回 202，无响应体
func (a *HTTPAPI) BatchAck(ctx context.Context, req model.BatchAckReq) error {
	resp, err := a.rc.R().
		SetContext(ctx).
		SetBody(req).
		SetError(&errs.CodeError{}).
		Post("/sync/ack")
	if err != nil {
		return errs.WrapMsg(err, "http post", "path", "/sync/ack")
	}
	if resp.IsError() {
		return respError(resp, "/sync/ack")
	}
	return nil
}

func (a *HTTPAPI) Send(ctx context.Context, req model.SendRequest) (*model.SendAck, error) {
	return post[model.SendAck](ctx, a.rc, "/msg/send", req)
}
