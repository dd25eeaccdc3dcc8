package gateway

import (
	"encoding/json"
	"errors"
	"net"
	"sync"
	"time"

	"PPSeq/module/chat/model"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var errSendQueueFull = errors.New("gateway: send queue full")

// Conn 一条 ws 连接：读循环在 HandleWS 协程，写全部走 send 队列由 writePump 串行写出
type Conn struct {
	ID     string
	UserID string

	ws   *websocket.Conn
	send chan []byte
	opts *Options
	log  *zap.Logger

	closeOnce sync.Once
	done      chan struct{}
}

func newConn(id, user string, ws *websocket.Conn, opts *Options, log *zap.Logger) *Conn {
	return &Conn{
		ID:     id,
		UserID: user,
		ws:     ws,
		send:   make(chan []byte, opts.SendQueue),
		opts:   opts,
		log:    log.With(zap.String("conn", id), zap.String("user", user)),
		done:   make(chan struct{}),
	}
}

// Enqueue 非阻塞入队；队列满说明对端消费不过来，直接断开让客户端重连后拉取
func (c *Conn) Enqueue(b []byte) error {
	select {
	case <-c.done:
		return net.ErrClosed
	default:
	}
	select {
	case c.send <- b:
		return nil
	default:
		c.log.Warn("send queue full, closing slow connection")
		c.Close()
		return errSendQueueFull
	}
}

func (c *Conn) WriteFrame(typ string, v any) error {
	f, err := model.NewFrame(typ, v)
	if err != nil {
		return err
	}
	b, err := json.Marshal(f)
	if err != nil {
		return err
	}
	return c.Enqueue(b)
}

// Close 只发信号，底层连接由 writePump 发完 close 帧后关闭
func (c *Conn) Close() {
	c.closeOnce.Do(func() { close(c.done) })
}

func (c *Conn) Done() <-chan struct{} { return c.done }

// writePump 串行写 + 定时 ping；任一写失败即关闭连接
func (c *Conn) writePump() {
	ticker := time.NewTicker(c.opts.PingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
		_ = c.ws.Close()
	}()
	for {
		select {
		case <-c.done:
			_ = c.ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
			return
		case b := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(c.opts.WriteWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, b); err != nil {
				c.log.Debug("write failed", zap.Error(err))
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(c.opts.WriteWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.log.Debug("ping failed", zap.Error(err))
				return
			}
		}
	}
}

// 读错误分类，只用于日志
func classifyReadErr(err error) string {
	var ne net.Error
	switch {
	case websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived):
		return "peer closed"
	case errors.As(err, &ne) && ne.Timeout():
		return "read timeout"
	case errors.Is(err, net.ErrClosed):
		return "local closed"
	default:
		return "read error"
	}
}
