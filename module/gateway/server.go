package gateway

import (
	"context"
	"net/http"
	"time"

	"PPSeq/logger"
	"PPSeq/middleware"
	"PPSeq/middleware/security"
	"PPSeq/module/chat/model"
	"PPSeq/tools/apiresp"
	"PPSeq/tools/errs"
	"PPSeq/tools/ids"
	"PPSeq/tools/safe"
	"PPSeq/tools/specialerror"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Sender 处理 send 帧，*msgsync.SendService 实现
type Sender interface {
	Send(ctx context.Context, req model.SendRequest) (model.SendAck, error)
}

// PresenceStore 跨节点在线表，*storage.Presence 实现
type PresenceStore interface {
	Online(ctx context.Context, user, nodeID string) error
	Offline(ctx context.Context, user, nodeID string) (bool, error)
	Lookup(ctx context.Context, user string) (nodeID string, online bool, err error)
	TTL() time.Duration
}

// Relay 把推送转给用户所在节点
type Relay interface {
	Relay(ctx context.Context, nodeID, userID string, msg *model.Message) error
}

type Options struct {
	SendQueue   int
	ReadLimit   int64
	PongWait    time.Duration
	PingPeriod  time.Duration // 必须小于 PongWait
	WriteWait   time.Duration
	SendTimeout time.Duration
	// 未开鉴权时允许 ?userId= 直接指定身份，只用于本地调试
	AllowAnonymous bool

	Registry *Registry
	Presence PresenceStore // 为空表示单节点部署
	Relay    Relay
	IDs      *ids.Generator
}

func (o *Options) norm() {
	if o.SendQueue <= 0 {
		o.SendQueue = 256
	}
	if o.ReadLimit <= 0 {
		o.ReadLimit = 64 << 10
	}
	if o.PongWait <= 0 {
		o.PongWait = 60 * time.Second
	}
	if o.PingPeriod <= 0 || o.PingPeriod >= o.PongWait {
		o.PingPeriod = o.PongWait * 9 / 10
	}
	if o.WriteWait <= 0 {
		o.WriteWait = 10 * time.Second
	}
	if o.SendTimeout <= 0 {
		o.SendTimeout = 5 * time.Second
	}
	if o.Registry == nil {
		o.Registry = NewRegistry()
	}
	if o.IDs == nil {
		o.IDs = ids.NewGenerator(1)
	}
}

// Server ws 网关：维护本节点在线表，处理 send/ping 帧，实现 msgsync.Pusher
type Server struct {
	nodeID   string
	sender   Sender
	opts     Options
	upgrader websocket.Upgrader
	log      *zap.Logger
}

func NewServer(nodeID string, sender Sender, opts Options) *Server {
	opts.norm()
	return &Server{
		nodeID: nodeID,
		sender: sender,
		opts:   opts,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Origin 由 middleware.Origin 统一校验
			CheckOrigin: func(*http.Request) bool { return true },
		},
		log: logger.Named("gateway").With(zap.String("node", nodeID)),
	}
}

func (s *Server) Registry() *Registry { return s.opts.Registry }

func (s *Server) Register(rt *middleware.Router) {
	rt.GET("/ws", s.HandleWS, middleware.RouteOpt{IsAuth: true})
}

// HandleWS 握手后在当前协程跑读循环，写由 writePump 负责
func (s *Server) HandleWS(c *gin.Context) {
	user := security.UserID(c)
	if user == "" && s.opts.AllowAnonymous {
		user = c.Query("userId")
	}
	if user == "" {
		apiresp.Fail(c, errs.ErrTokenExpired.WrapMsg("ws identity missing"))
		return
	}
	ws, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// 握手失败时 upgrader 已写回错误响应
		s.log.Info("upgrade failed", zap.String("user", user), zap.Error(err))
		return
	}

	conn := newConn(s.opts.IDs.NextString(), user, ws, &s.opts, s.log)
	n := s.opts.Registry.Add(conn)
	s.markOnline(user)
	conn.log.Info("ws connected", zap.Int("devices", n))
	safe.SafeGo(conn.writePump)

	s.readLoop(conn)

	conn.Close()
	if left := s.opts.Registry.Remove(conn); left == 0 {
		s.markOffline(user)
	}
	conn.log.Info("ws disconnected")
}

func (s *Server) readLoop(conn *Conn) {
	ws := conn.ws
	ws.SetReadLimit(s.opts.ReadLimit)
	_ = ws.SetReadDeadline(time.Now().Add(s.opts.PongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(s.opts.PongWait))
	})
	for {
		mt, data, err := ws.ReadMessage()
		if err != nil {
			conn.log.Debug(classifyReadErr(err), zap.Error(err))
			return
		}
		if mt != websocket.TextMessage && mt != websocket.BinaryMessage {
			continue
		}
		_ = ws.SetReadDeadline(time.Now().Add(s.opts.PongWait))

		f, err := model.ParseFrame(data)
		if err != nil {
			sample := data
			if len(sample) > 256 {
				sample = sample[:256]
			}
			conn.log.Debug("bad frame", zap.ByteString("sample", sample), zap.Error(err))
			_ = conn.WriteFrame(model.FrameErr, errorFrame("", err))
			continue
		}
		s.dispatch(conn, f)
	}
}

// 同一连接上的 send 串行处理，ack 顺序与发送顺序一致
func (s *Server) dispatch(conn *Conn, f *model.Frame) {
	switch f.Type {
	case model.FrameSend:
		var req model.SendRequest
		if err := f.Decode(&req); err != nil {
			_ = conn.WriteFrame(model.FrameErr, errorFrame("", err))
			return
		}
		req.From = conn.UserID
		ctx, cancel := context.WithTimeout(context.Background(), s.opts.SendTimeout)
		ack, err := s.sender.Send(ctx, req)
		cancel()
		if err != nil {
			conn.log.Warn("send failed", zap.String("clientSeq", req.ClientSeq), zap.Error(err))
			_ = conn.WriteFrame(model.FrameErr, errorFrame(req.ClientSeq, err))
			return
		}
		_ = conn.WriteFrame(model.FrameAck, ack)
	case model.FramePing:
		_ = conn.WriteFrame(model.FramePong, nil)
	default:
		conn.log.Debug("ignored frame", zap.String("type", f.Type))
	}
}

func errorFrame(clientSeq string, err error) model.ErrorFrame {
	ce := specialerror.ErrCode(err)
	return model.ErrorFrame{ClientSeq: clientSeq, Code: ce.Code, Msg: ce.Error()}
}

// Push 先推本节点连接；本节点无连接时按在线表转发到所在节点
func (s *Server) Push(ctx context.Context, userID string, msg *model.Message) bool {
	if s.PushLocal(userID, msg) {
		return true
	}
	if s.opts.Presence == nil || s.opts.Relay == nil {
		return false
	}
	node, online, err := s.opts.Presence.Lookup(ctx, userID)
	if err != nil {
		s.log.Warn("presence lookup failed", zap.String("user", userID), zap.Error(err))
		return false
	}
	if !online || node == s.nodeID {
		return false
	}
	if err := s.opts.Relay.Relay(ctx, node, userID, msg); err != nil {
		s.log.Warn("relay push failed", zap.String("user", userID), zap.String("to", node), zap.Error(err))
		return false
	}
	return true
}

// PushLocal 只推本节点，转发过来的消息走这里，不会再次转发
func (s *Server) PushLocal(userID string, msg *model.Message) bool {
	ok := false
	for _, c := range s.opts.Registry.Get(userID) {
		if c.WriteFrame(model.FrameMsg, msg) == nil {
			ok = true
		}
	}
	return ok
}

func (s *Server) markOnline(user string) {
	if s.opts.Presence == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.opts.Presence.Online(ctx, user, s.nodeID); err != nil {
		s.log.Warn("presence online failed", zap.String("user", user), zap.Error(err))
	}
}

func (s *Server) markOffline(user string) {
	if s.opts.Presence == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := s.opts.Presence.Offline(ctx, user, s.nodeID); err != nil {
		s.log.Warn("presence offline failed", zap.String("user", user), zap.Error(err))
	}
}

// RunPresenceRefresher 按 TTL/3 给本节点所有在线用户续期，ctx 结束退出
func (s *Server) RunPresenceRefresher(ctx context.Context) {
	if s.opts.Presence == nil {
		return
	}
	t := time.NewTicker(max(s.opts.Presence.TTL()/3, time.Second))
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
		seen := make(map[string]struct{})
		for _, c := range s.opts.Registry.All() {
			if _, ok := seen[c.UserID]; ok {
				continue
			}
			seen[c.UserID] = struct{}{}
			s.markOnline(c.UserID)
		}
	}
}

// Close 关停：通知所有连接关闭
func (s *Server) Close() {
	for _, c := range s.opts.Registry.All() {
		c.Close()
	}
}
