package msgsync

import (
	"net/http"

	"PPSeq/middleware"
	"PPSeq/middleware/security"
	"PPSeq/module/chat/model"
	"PPSeq/tools/apiresp"
	"PPSeq/tools/errs"

	"github.com/gin-gonic/gin"
)

// Handler /sync/* 与 /msg/send
type Handler struct {
	sync *SyncService
	send *SendService
}

func NewHandler(sync *SyncService, send *SendService) *Handler {
	return &Handler{sync: sync, send: send}
}

func (h *Handler) Register(rt *middleware.Router) {
	auth := middleware.RouteOpt{IsAuth: true}
	rt.POST("/sync/check", h.SyncCheck, auth)
	rt.POST("/sync/pull", h.Pull, auth)
	rt.POST("/sync/range", h.Range, auth)
	rt.POST("/sync/conv/check", h.ConvCheck, auth)
	rt.POST("/sync/ack", h.Ack, auth)
	if h.send != nil {
		rt.POST("/msg/send", h.Send, auth)
	}
}

// 开启鉴权时，请求里的用户必须与 token 一致；为空则用 token 的
func bindUser(c *gin.Context, user *string) bool {
	tokenUser := security.UserID(c)
	if tokenUser == "" {
		return true
	}
	if *user == "" {
		*user = tokenUser
		return true
	}
	if *user != tokenUser {
		apiresp.Fail(c, errs.ErrNoPermission.WrapMsg("user mismatch", "token", tokenUser, "req", *user))
		return false
	}
	return true
}

func (h *Handler) SyncCheck(c *gin.Context) {
	var req model.SyncCheckReq
	if !apiresp.BindJSON(c, &req) || !bindUser(c, &req.UserID) {
		return
	}
	resp, err := h.sync.SyncCheck(c.Request.Context(), req)
	if err != nil {
		apiresp.Fail(c, err)
		return
	}
	apiresp.Success(c, resp)
}

func (h *Handler) Pull(c *gin.Context) {
	var req model.PullReq
	if !apiresp.BindJSON(c, &req) || !bindUser(c, &req.UserID) {
		return
	}
	resp, err := h.sync.PullMessages(c.Request.Context(), req)
	if err != nil {
		apiresp.Fail(c, err)
		return
	}
	apiresp.Success(c, resp)
}

func (h *Handler) Range(c *gin.Context) {
	var req model.RangeReq
	if !apiresp.BindJSON(c, &req) || !bindUser(c, &req.UserID) {
		return
	}
	resp, err := h.sync.PullRange(c.Request.Context(), req)
	if err != nil {
		apiresp.Fail(c, err)
		return
	}
	apiresp.Success(c, resp)
}

func (h *Handler) ConvCheck(c *gin.Context) {
	var req model.ConvSyncCheckReq
	if !apiresp.BindJSON(c, &req) || !bindUser(c, &req.UserID) {
		return
	}
	resp, err := h.sync.ConversationSyncCheck(c.Request.Context(), req)
	if err != nil {
		apiresp.Fail(c, err)
		return
	}
	apiresp.Success(c, resp)
}

// Ack 202：已受理，不代表已落库
func (h *Handler) Ack(c *gin.Context) {
	var req model.BatchAckReq
	if !apiresp.BindJSON(c, &req) || !bindUser(c, &req.UserID) {
		return
	}
	if err := h.sync.BatchAck(c.Request.Context(), req); err != nil {
		apiresp.Fail(c, err)
		return
	}
	c.Status(http.StatusAccepted)
}

func (h *Handler) Send(c *gin.Context) {
	var req model.SendRequest
	if !apiresp.BindJSON(c, &req) || !bindUser(c, &req.From) {
		return
	}
	ack, err := h.send.Send(c.Request.Context(), req)
	if err != nil {
		apiresp.Fail(c, err)
		return
	}
	apiresp.Success(c, ack)
}
