package middleware

import (
	"net/http"
	"strings"

	"PPSeq/tools/apiresp"
	"PPSeq/tools/errs"

	"github.com/gin-gonic/gin"
)

// Origin ws 握手时校验 Origin；allowed 为空或含 "*" 时放行
func Origin(allowed []string) gin.HandlerFunc {
	set := make(map[string]struct{}, len(allowed))
	allowAll := len(allowed) == 0
	for _, o := range allowed {
		o = strings.TrimSpace(strings.ToLower(o))
		if o == "*" {
			allowAll = true
		}
		set[o] = struct{}{}
	}
	return func(c *gin.Context) {
		if allowAll || c.Request.Method != http.MethodGet || c.Request.URL.Path != "/ws" {
			c.Next()
			return
		}
		origin := strings.ToLower(c.GetHeader("Origin"))
		if origin == "" {
			c.Next()
			return
		}
		if _, ok := set[origin]; !ok {
			apiresp.Fail(c, errs.ErrNoPermission.WrapMsg("origin not allowed", "origin", origin))
			return
		}
		c.Next()
	}
}
