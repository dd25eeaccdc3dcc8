package seq

import (
	"PPSeq/middleware"
	"PPSeq/tools/apiresp"
	"PPSeq/tools/errs"

	"github.com/gin-gonic/gin"
)

type nextReq struct {
	Key string `json:"key"`
}

type nextBatchReq struct {
	Keys  []string `json:"keys"`
	Count int      `json:"count"`
}

// Handler /sequence 路由
type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) Register(rt *middleware.Router) {
	rt.POST("/sequence/next", h.Next, middleware.RouteOpt{})
	rt.POST("/sequence/next-batch", h.NextBatch, middleware.RouteOpt{})
	rt.GET("/sequence/health", h.Health, middleware.RouteOpt{})
	rt.GET("/sequence/stats", h.Stats, middleware.RouteOpt{})
}

func (h *Handler) Next(c *gin.Context) {
	var req nextReq
	if !apiresp.BindJSON(c, &req) {
		return
	}
	if req.Key == "" {
		apiresp.Fail(c, errs.ErrArgs.WrapMsg("key empty"))
		return
	}
	apiresp.Success(c, h.svc.Next(c.Request.Context(), req.Key))
}

func (h *Handler) NextBatch(c *gin.Context) {
	var req nextBatchReq
	if !apiresp.BindJSON(c, &req) {
		return
	}
	resp, err := h.svc.NextBatch(c.Request.Context(), req.Keys, req.Count)
	if err != nil {
		apiresp.Fail(c, err)
		return
	}
	apiresp.Success(c, resp)
}

func (h *Handler) Health(c *gin.Context) {
	apiresp.Success(c, h.svc.Health(c.Request.Context()))
}

func (h *Handler) Stats(c *gin.Context) {
	apiresp.Success(c, h.svc.Stats(c.Request.Context()))
}
