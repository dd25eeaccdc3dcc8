package mongoutil

import (
	"context"
	"errors"
	"net/url"
	"strconv"
	"strings"

	"PPSeq/tools/errs"

	"go.mongodb.org/mongo-driver/mongo"
)

const (
	defaultMaxPoolSize = 100
	defaultMaxRetry    = 3

	codeUnauthorized = 13
	codeAuthFailed   = 18
)

// ValidateAndSetDefaults 校验并补默认值；Uri 为空时由 Address 拼出
func (c *Config) ValidateAndSetDefaults() error {
	switch {
	case c.Uri == "" && len(c.Address) == 0:
		return errs.ErrArgs.WrapMsg("mongo uri or address required")
	case c.Database == "":
		return errs.ErrArgs.WrapMsg("mongo database required")
	}
	if c.MaxPoolSize <= 0 {
		c.MaxPoolSize = defaultMaxPoolSize
	}
	if c.MaxRetry <= 0 {
		c.MaxRetry = defaultMaxRetry
	}
	if c.Uri == "" {
		c.Uri = c.buildURI()
	}
	return nil
}

// buildURI authSource 缺省取库名；账号密码做转义
func (c *Config) buildURI() string {
	u := url.URL{Scheme: "mongodb", Host: strings.Join(c.Address, ","), Path: "/" + c.Database}
	if c.Username != "" && c.Password != "" {
		u.User = url.UserPassword(c.Username, c.Password)
	}
	src := c.AuthSource
	if src == "" {
		src = c.Database
	}
	q := url.Values{}
	q.Set("authSource", src)
	q.Set("maxPoolSize", strconv.Itoa(c.MaxPoolSize))
	u.RawQuery = q.Encode()
	return u.String()
}

// shouldRetry 认证类错误重试无意义
func shouldRetry(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	var cmdErr mongo.CommandError
	if errors.As(err, &cmdErr) {
		return cmdErr.Code != codeUnauthorized && cmdErr.Code != codeAuthFailed
	}
	return true
}
