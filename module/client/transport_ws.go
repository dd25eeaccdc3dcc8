package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"PPSeq/logger"
	"PPSeq/module/chat/model"
	"PPSeq/tools/errs"
	"PPSeq/tools/safe"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// FrameHandlers 读循环收到各类帧后的回调，都在读协程里串行调用
type FrameHandlers struct {
	OnMessage func(msg *model.Message)
	OnAck     func(ack model.SendAck)
	OnError   func(ef model.ErrorFrame)
	OnClose   func(err error)
}

type WSOptions struct {
	PingPeriod time.Duration
	WriteWait  time.Duration
	// 未开鉴权的服务端用 ?userId= 指定身份
	UserID string
}

// WSTransport 网关 ws 连接：写加锁串行，读在独立协程
type WSTransport struct {
	conn *websocket.Conn
	h    FrameHandlers
	opts WSOptions
	log  *zap.Logger

	wmu       sync.Mutex
	closeOnce sync.Once
	done      chan struct{}
}

// WSURL http(s)://host -> ws(s)://host/ws
func WSURL(server string) (string, error) {
	u, err := url.Parse(server)
	if err != nil {
		return "", errs.ErrArgs.WrapMsg("bad server url", "server", server)
	}
	switch u.Scheme {
	case "https", "wss":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/ws"
	return u.String(), nil
}

func DialWS(ctx context.Context, server, token string, h FrameHandlers, opts WSOptions) (*WSTransport, error) {
	if opts.PingPeriod <= 0 {
		opts.PingPeriod = 30 * time.Second
	}
	if opts.WriteWait <= 0 {
		opts.WriteWait = 10 * time.Second
	}
	target, err := WSURL(server)
	if err != nil {
		return nil, err
	}
	if opts.UserID != "" {
		target += "?userId=" + url.QueryEscape(opts.UserID)
	}
	hdr := http.Header{}
	if token != "" {
		hdr.Set("Authorization", "Bearer "+token)
	}
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, target, hdr)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			return nil, errs.ErrTokenExpired.WrapMsg("ws dial rejected", "url", target)
		}
		return nil, errs.WrapMsg(err, "ws dial", "url", target)
	}
	t := &WSTransport{conn: conn, h: h, opts: opts, done: make(chan struct{}), log: logger.Named("client.ws")}
	safe.SafeGo(t.readLoop)
	safe.SafeGo(t.pingLoop)
	return t, nil
}

func (t *WSTransport) write(typ string, v any) error {
	f, err := model.NewFrame(typ, v)
	if err != nil {
		return err
	}
	b, err := json.Marshal(f)
	if err != nil {
		return err
	}
	t.wmu.Lock()
	defer t.wmu.Unlock()
	_ = t.conn.SetWriteDeadline(time.Now().Add(t.opts.WriteWait))
	return t.conn.WriteMessage(websocket.TextMessage, b)
}

func (t *WSTransport) Send(req model.SendRequest) error {
	return t.write(model.FrameSend, req)
}

func (t *WSTransport) readLoop() {
	var cause error
	defer func() {
		t.Close()
		if t.h.OnClose != nil {
			t.h.OnClose(cause)
		}
	}()
	for {
		_, data, err := t.conn.ReadMessage()
		if err != nil {
			cause = err
			return
		}
		f, err := model.ParseFrame(data)
		if err != nil {
			t.log.Debug("bad frame from server", zap.Error(err))
			continue
		}
		t.dispatch(f)
	}
}

func (t *WSTransport) dispatch(f *model.Frame) {
	switch f.Type {
	case model.FrameMsg:
		var m model.Message
		if err := f.Decode(&m); err == nil && t.h.OnMessage != nil {
			t.h.OnMessage(&m)
		}
	case model.FrameAck:
		var ack model.SendAck
		if err := f.Decode(&ack); err == nil && t.h.OnAck != nil {
			t.h.OnAck(ack)
		}
	case model.FrameErr:
		var ef model.ErrorFrame
		if err := f.Decode(&ef); err == nil && t.h.OnError != nil {
			t.h.OnError(ef)
		}
	case model.FramePong:
	default:
		t.log.Debug("ignored frame", zap.String("type", f.Type))
	}
}

// 应用层 ping，配合服务端读超时
func (t *WSTransport) pingLoop() {
	tk := time.NewTicker(t.opts.PingPeriod)
	defer tk.Stop()
	for {
		select {
		case <-t.done:
			return
		case <-tk.C:
			if err := t.write(model.FramePing, nil); err != nil {
				t.log.Debug("ping failed", zap.Error(err))
				return
			}
		}
	}
}

func (t *WSTransport) Done() <-chan struct{} { return t.done }

func (t *WSTransport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		close(t.done)
		t.wmu.Lock()
		_ = t.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		t.wmu.Unlock()
		err = t.conn.Close()
	})
	return err
}
