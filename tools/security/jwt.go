package security

import (
	"errors"
	"strings"
	"time"

	"PPSeq/tools/errs"

	jwtlib "github.com/golang-jwt/jwt/v5"
)

const (
	issuer     = "ppseq"
	defaultTTL = 2 * time.Hour
)

// Options 签名参数，Secret 生产环境从 ENV/配置中心注入
type Options struct {
	Secret []byte
	Alg    string // HS256/HS384/HS512，空为 HS256
	TTL    time.Duration
	Leeway time.Duration // 时钟漂移容忍
}

func DefaultOptions(secret []byte) Options {
	return Options{Secret: secret, Alg: "HS256", TTL: defaultTTL, Leeway: 5 * time.Second}
}

// Claims sub 即 userId
type Claims struct {
	jwtlib.RegisteredClaims
}

func (c *Claims) UserID() string { return c.Subject }

// Generate 签发开发/测试用令牌，正式签发不在本服务
func Generate(opts Options, userID string) (string, time.Time, error) {
	if userID == "" {
		return "", time.Time{}, errs.ErrArgs.WrapMsg("userId empty")
	}
	method, err := signingMethod(opts.Alg)
	if err != nil {
		return "", time.Time{}, err
	}
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = defaultTTL
	}
	now := time.Now()
	exp := now.Add(ttl)
	claims := Claims{jwtlib.RegisteredClaims{
		Issuer:    issuer,
		Subject:   userID,
		IssuedAt:  jwtlib.NewNumericDate(now),
		NotBefore: jwtlib.NewNumericDate(now),
		ExpiresAt: jwtlib.NewNumericDate(exp),
	}}
	signed, err := jwtlib.NewWithClaims(method, claims).SignedString(opts.Secret)
	if err != nil {
		return "", time.Time{}, errs.WrapMsg(err, "sign token", "alg", method.Alg())
	}
	return signed, exp, nil
}

// Verify 校验失败一律归为 ErrTokenExpired，客户端据此重新登录
func Verify(opts Options, token string) (*Claims, error) {
	method, err := signingMethod(opts.Alg)
	if err != nil {
		return nil, err
	}
	claims := &Claims{}
	_, err = jwtlib.ParseWithClaims(token, claims, func(*jwtlib.Token) (any, error) {
		return opts.Secret, nil
	},
		jwtlib.WithValidMethods([]string{method.Alg()}),
		jwtlib.WithIssuer(issuer),
		jwtlib.WithLeeway(opts.Leeway),
		jwtlib.WithExpirationRequired(),
	)
	switch {
	case errors.Is(err, jwtlib.ErrTokenExpired):
		return nil, errs.ErrTokenExpired.WrapMsg("token expired")
	case err != nil:
		return nil, errs.ErrTokenExpired.WrapMsg("invalid token", "err", err)
	case claims.Subject == "":
		return nil, errs.ErrTokenExpired.WrapMsg("token subject empty")
	}
	return claims, nil
}

func signingMethod(alg string) (jwtlib.SigningMethod, error) {
	switch strings.ToUpper(strings.TrimSpace(alg)) {
	case "", "HS256":
		return jwtlib.SigningMethodHS256, nil
	case "HS384":
		return jwtlib.SigningMethodHS384, nil
	case "HS512":
		return jwtlib.SigningMethodHS512, nil
	}
	return nil, errs.ErrArgs.WrapMsg("unsupported alg, use HS256/HS384/HS512", "alg", alg)
}
