package middleware

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	apperrors "promise-service.io/promise/internal/pkg/errors"
)

var (
	ErrJWTSigningKeyMissing = errors.New("jwt signing key is not configured")
	ErrJWTUserMissing       = errors.New("jwt carries no user id")
)

// JWTClaims identifies the acting user. Tokens minted by the login service
// carry the numeric id in user_id; older ones only in the subject.
type JWTClaims struct {
	UserID      int64    `json:"user_id,omitempty"`
	Username    string   `json:"username,omitempty"`
	Permissions []string `json:"permissions,omitempty"`
	jwt.RegisteredClaims
}

// JWTConfig holds the signing key and any previous keys still accepted for
// verification during a rotation.
type JWTConfig struct {
	SigningKey       []byte
	VerificationKeys [][]byte
	Issuer           string
	ExpiresIn        time.Duration
}

// GenerateToken signs a token for userID. Used by the seed command and tests.
func GenerateToken(cfg JWTConfig, userID int64, username string, permissions []string) (string, time.Time, error) {
	if len(cfg.SigningKey) == 0 {
		return "", time.Time{}, ErrJWTSigningKeyMissing
	}
	now := time.Now()
	expiresAt := now.Add(cfg.ExpiresIn)

	claims := JWTClaims{
		UserID:      userID,
		Username:    username,
		Permissions: permissions,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    cfg.Issuer,
			Subject:   strconv.FormatInt(userID, 10),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			NotBefore: jwt.NewNumericDate(now),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(cfg.SigningKey)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return token, expiresAt, nil
}

func (cfg JWTConfig) keySet() jwt.VerificationKeySet {
	set := jwt.VerificationKeySet{}
	if len(cfg.SigningKey) > 0 {
		set.Keys = append(set.Keys, cfg.SigningKey)
	}
	for _, k := range cfg.VerificationKeys {
		if len(k) > 0 {
			set.Keys = append(set.Keys, k)
		}
	}
	return set
}

// ValidateToken verifies signature, issuer and time claims, and resolves the
// numeric user id.
func (cfg JWTConfig) ValidateToken(tokenString string) (*JWTClaims, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}

	claims := &JWTClaims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(*jwt.Token) (any, error) {
		set := cfg.keySet()
		if len(set.Keys) == 0 {
			return nil, ErrJWTSigningKeyMissing
		}
		return set, nil
	}, opts...)
	if err != nil {
		return nil, err
	}

	if claims.UserID == 0 && claims.Subject != "" {
		id, err := strconv.ParseInt(claims.Subject, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: subject %q is not numeric", ErrJWTUserMissing, claims.Subject)
		}
		claims.UserID = id
	}
	if claims.UserID <= 0 {
		return nil, ErrJWTUserMissing
	}
	return claims, nil
}

// JWTAuth validates the Bearer token and stores the acting user in both the
// gin context and the request context.
func JWTAuth(cfg JWTConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		scheme, token, ok := strings.Cut(header, " ")
		if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"code":    apperrors.CodeTokenInvalid,
				"message": "missing or malformed bearer token",
			})
			return
		}

		claims, err := cfg.ValidateToken(strings.TrimSpace(token))
		if err != nil {
			code, msg := apperrors.CodeTokenInvalid, "invalid token"
			if errors.Is(err, jwt.ErrTokenExpired) {
				code, msg = apperrors.CodeTokenExpired, "token expired"
			}
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"code": code, "message": msg})
			return
		}

		c.Set(string(ctxKeyUserID), claims.UserID)
		c.Set("permissions", claims.Permissions)
		c.Request = c.Request.WithContext(
			SetUserContext(c.Request.Context(), claims.UserID, claims.Username),
		)
		c.Next()
	}
}
