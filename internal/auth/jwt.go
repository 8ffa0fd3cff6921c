package auth

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"backend/internal/config"
)

// 管理 Token 的角色声明
const roleAdmin = "admin"

var (
	// ErrInvalidAPIKey API Key 不匹配
	ErrInvalidAPIKey = errors.New("API Key 无效")
	// ErrInvalidToken Token 无效或已过期
	ErrInvalidToken = errors.New("Token 无效或已过期")
)

// Claims 管理 Token 声明
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// Manager 管理接口认证
// 运维方用 AdminAPIKey 换取短期 JWT, 再凭 JWT 访问管理端点
type Manager struct {
	secret   []byte
	adminKey string
	tokenTTL time.Duration
	now      func() time.Time
}

// NewManager 创建认证管理器
func NewManager(cfg *config.AuthConfig) (*Manager, error) {
	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("jwt_secret 不能为空")
	}
	ttl := time.Duration(cfg.TokenTTL) * time.Minute
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Manager{
		secret:   []byte(cfg.JWTSecret),
		adminKey: cfg.AdminAPIKey,
		tokenTTL: ttl,
		now:      time.Now,
	}, nil
}

// Exchange 用 API Key 换取管理 Token
func (m *Manager) Exchange(apiKey string) (string, time.Time, error) {
	if m.adminKey == "" ||
		subtle.ConstantTimeCompare([]byte(apiKey), []byte(m.adminKey)) != 1 {
		return "", time.Time{}, ErrInvalidAPIKey
	}

	now := m.now()
	expiresAt := now.Add(m.tokenTTL)
	claims := &Claims{
		Role: roleAdmin,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "modelrouter",
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("签发 Token 失败: %w", err)
	}
	return token, expiresAt, nil
}

// Verify 校验管理 Token
func (m *Manager) Verify(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("意外的签名算法: %v", t.Header["alg"])
		}
		return m.secret, nil
	}, jwt.WithTimeFunc(m.now))
	if err != nil || !token.Valid {
		return nil, ErrInvalidToken
	}
	if claims.Role != roleAdmin {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
