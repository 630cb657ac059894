package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidToken = errors.New("auth: invalid token")
	// ErrCredentialService 凭证服务不可达或返回异常
	ErrCredentialService = errors.New("auth: credential service error")
)

const TypeService = "service"

// Identity 已通过校验的终端用户
type Identity struct {
	UserID string `json:"userId"`
	Name   string `json:"name"`
}

type Verifier interface {
	Verify(ctx context.Context, token string) (Identity, error)
}

// JWTVerifier 本地校验 HS256 token，sub 为用户 id
type JWTVerifier struct {
	secret []byte
}

func NewJWTVerifier(secret string) *JWTVerifier {
	return &JWTVerifier{secret: []byte(secret)}
}

func (v *JWTVerifier) parse(token string) (jwt.MapClaims, error) {
	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	return claims, nil
}

func (v *JWTVerifier) Verify(_ context.Context, token string) (Identity, error) {
	claims, err := v.parse(token)
	if err != nil {
		return Identity{}, err
	}
	if typ, _ := claims["typ"].(string); typ == TypeService {
		return Identity{}, fmt.Errorf("%w: service token used as user token", ErrInvalidToken)
	}
	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return Identity{}, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}
	name, _ := claims["name"].(string)
	if name == "" {
		name = sub
	}
	return Identity{UserID: sub, Name: name}, nil
}

// VerifyService 校验服务间调用的 token，要求 typ=service，返回调用方服务 id
func (v *JWTVerifier) VerifyService(token string) (string, error) {
	claims, err := v.parse(token)
	if err != nil {
		return "", err
	}
	if typ, _ := claims["typ"].(string); typ != TypeService {
		return "", fmt.Errorf("%w: not a service token", ErrInvalidToken)
	}
	sub, _ := claims.GetSubject()
	return sub, nil
}

// Issue 签发 token，本地开发和测试用；生产环境由凭证服务签发
func Issue(secret, subject, name, typ string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"sub": subject,
		"iat": now.Unix(),
		"exp": now.Add(ttl).Unix(),
	}
	if name != "" {
		claims["name"] = name
	}
	if typ != "" {
		claims["typ"] = typ
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}
