package apiresp

import (
	"net/http"

	"PPSeq/logger"
	"PPSeq/tools/errs"
	"PPSeq/tools/specialerror"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// httpStatus 错误码到 HTTP 状态码；未列出的一律 500
func httpStatus(code int) int {
	switch code {
	case errs.ArgsError:
		return http.StatusBadRequest
	case errs.TokenExpired:
		return http.StatusUnauthorized
	case errs.NoPermission:
		return http.StatusForbidden
	case errs.RecordNotFound:
		return http.StatusNotFound
	case errs.StoreUnavailable:
		return http.StatusServiceUnavailable
	case errs.PendingFull:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

func Success(c *gin.Context, data any) {
	c.JSON(http.StatusOK, data)
}

// Fail 输出 {code,msg,detail}
func Fail(c *gin.Context, err error) {
	ce := specialerror.ErrCode(err)
	status := httpStatus(ce.Code)
	if status >= http.StatusInternalServerError {
		logger.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
	}
	c.AbortWithStatusJSON(status, ce)
}

// BindJSON 失败时直接写 ArgsError
func BindJSON(c *gin.Context, obj any) bool {
	if err := c.ShouldBindJSON(obj); err != nil {
		Fail(c, errs.ErrArgs.WrapMsg(err.Error()))
		return false
	}
	return true
}
