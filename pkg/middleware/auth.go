package middleware

import (
	"errors"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/prohmpiriya/eventhub-booking/pkg/response"
)

const (
	ContextKeyUserID = "user_id"
	ContextKeyRole   = "role"

	RoleAdmin = "admin"
)

var errInvalidToken = errors.New("invalid token")

// JWTConfig holds settings for bearer token validation
type JWTConfig struct {
	Secret string
	Issuer string
}

// JWTAuth validates an HS256 bearer token and stores the subject and role
// in the gin context
func JWTAuth(cfg *JWTConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			response.AbortUnauthorized(c, "missing bearer token")
			return
		}

		userID, role, err := parseToken(strings.TrimPrefix(header, "Bearer "), cfg)
		if err != nil {
			if errors.Is(err, jwt.ErrTokenExpired) {
				response.AbortUnauthorized(c, "token expired")
				return
			}
			response.AbortUnauthorized(c, "invalid token")
			return
		}

		c.Set(ContextKeyUserID, userID)
		c.Set(ContextKeyRole, role)
		c.Next()
	}
}

func parseToken(tokenString string, cfg *JWTConfig) (string, string, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}

	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		return []byte(cfg.Secret), nil
	}, opts...)
	if err != nil {
		return "", "", err
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return "", "", errInvalidToken
	}

	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return "", "", errInvalidToken
	}
	role, _ := claims["role"].(string)

	return sub, role, nil
}

// RequireRole rejects callers whose token does not carry the given role
func RequireRole(role string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.GetString(ContextKeyRole) != role {
			response.AbortForbidden(c, "insufficient role")
			return
		}
		c.Next()
	}
}

// GetUserID returns the authenticated user id
func GetUserID(c *gin.Context) (string, bool) {
	id := c.GetString(ContextKeyUserID)
	return id, id != ""
}

// IsAdmin reports whether the authenticated caller is an admin
func IsAdmin(c *gin.Context) bool {
	return c.GetString(ContextKeyRole) == RoleAdmin
}
