package security

import (
	"strings"

	"PPSeq/tools/apiresp"
	"PPSeq/tools/errs"
	"PPSeq/tools/security"

	"github.com/gin-gonic/gin"
)

// context key，后续模块统一用这俩 key 读取
const (
	PPCtxAuthKey   = "authorization" // string
	PPCtxUserIDKey = "userId"        // string, token 的 sub
)

type Options struct {
	// 读取哪个请求头
	HeaderToken               string // 默认 "token"
	EnableAuthorizationBearer bool   // 默认 true
	EnableQueryToken          bool   // ws 握手用 ?token=
	JWT                       security.Options
}

func DefaultOptions(secret []byte) *Options {
	return &Options{
		HeaderToken:               "token",
		EnableAuthorizationBearer: true,
		EnableQueryToken:          true,
		JWT:                       security.DefaultOptions(secret),
	}
}

// ExtractToken 依次取自定义头、Authorization: Bearer、query token
func ExtractToken(c *gin.Context, opts *Options) string {
	var token string
	if opts.HeaderToken != "" {
		token = strings.TrimSpace(c.GetHeader(opts.HeaderToken))
	}
	if token == "" && opts.EnableAuthorizationBearer {
		if authz := strings.TrimSpace(c.GetHeader("Authorization")); len(authz) > len("bearer ") &&
			strings.EqualFold(authz[:len("bearer ")], "bearer ") {
			token = strings.TrimSpace(authz[len("bearer "):])
		}
	}
	if token == "" && opts.EnableQueryToken {
		token = strings.TrimSpace(c.Query("token"))
	}
	return token
}

func Middleware(opts *Options) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := ExtractToken(c, opts)
		if token == "" {
			apiresp.Fail(c, errs.ErrTokenExpired.WrapMsg("token missing"))
			return
		}
		claims, err := security.Verify(opts.JWT, token)
		if err != nil {
			apiresp.Fail(c, err)
			return
		}
		c.Set(PPCtxAuthKey, token)
		c.Set(PPCtxUserIDKey, claims.UserID())
		c.Next()
	}
}

// UserID 鉴权通过后的当前用户，未鉴权返回空
func UserID(c *gin.Context) string {
	return c.GetString(PPCtxUserIDKey)
}
