package security

import (
	"errors"
	"testing"
	"time"

	"PPSeq/tools/errs"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateVerify(t *testing.T) {
	opts := DefaultOptions([]byte("k"))
	tok, exp, err := Generate(opts, "42")
	require.NoError(t, err)
	assert.True(t, exp.After(time.Now()))

	claims, err := Verify(opts, tok)
	require.NoError(t, err)
	assert.Equal(t, "42", claims.UserID())
	assert.Equal(t, issuer, claims.Issuer)

	_, err = Verify(DefaultOptions([]byte("other")), tok)
	assert.True(t, errors.Is(err, errs.ErrTokenExpired))

	_, _, err = Generate(opts, "")
	assert.True(t, errors.Is(err, errs.ErrArgs))
}

func TestVerifyExpired(t *testing.T) {
	opts := DefaultOptions([]byte("k"))
	past := time.Now().Add(-time.Hour)
	tok, err := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, Claims{jwtlib.RegisteredClaims{
		Issuer:    issuer,
		Subject:   "1",
		ExpiresAt: jwtlib.NewNumericDate(past),
	}}).SignedString(opts.Secret)
	require.NoError(t, err)

	_, err = Verify(opts, tok)
	require.Error(t, err)
	ce, ok := errs.CodeOf(err)
	require.True(t, ok)
	assert.Equal(t, "token expired", ce.Detail)
}

func TestVerifyRejectsOtherAlgAndIssuer(t *testing.T) {
	opts := DefaultOptions([]byte("k"))
	tok, _, err := Generate(Options{Secret: opts.Secret, Alg: "HS512"}, "1")
	require.NoError(t, err)
	_, err = Verify(opts, tok)
	assert.True(t, errors.Is(err, errs.ErrTokenExpired))

	foreign, err := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, Claims{jwtlib.RegisteredClaims{
		Issuer:    "someone-else",
		Subject:   "1",
		ExpiresAt: jwtlib.NewNumericDate(time.Now().Add(time.Hour)),
	}}).SignedString(opts.Secret)
	require.NoError(t, err)
	_, err = Verify(opts, foreign)
	assert.Error(t, err)
}

func TestUnsupportedAlg(t *testing.T) {
	_, _, err := Generate(Options{Secret: []byte("k"), Alg: "RS256"}, "1")
	assert.True(t, errors.Is(err, errs.ErrArgs))
}
