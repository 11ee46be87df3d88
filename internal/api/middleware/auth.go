package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/qs3c/anal_graph_server/internal/pkg/jwt"
	"github.com/qs3c/anal_graph_server/internal/pkg/response"
)

const (
	UserIDKey = "userID"
)

// Auth JWT 认证中间件
func Auth(jwtSecret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			response.AuthError(c, "请提供认证信息")
			c.Abort()
			return
		}

		tokenString, ok := bearerToken(authHeader)
		if !ok {
			response.AuthError(c, "认证格式错误")
			c.Abort()
			return
		}

		claims, err := jwt.ParseToken(tokenString, jwtSecret)
		if err != nil {
			response.AuthError(c, "认证失败或已过期")
			c.Abort()
			return
		}

		c.Set(UserIDKey, claims.UserID)
		c.Next()
	}
}

// UserIDFromToken 校验请求携带的 token。websocket 握手无法设置请求头，允许使用 ?token=
func UserIDFromToken(c *gin.Context, jwtSecret string) (int64, error) {
	tokenString := c.Query("token")
	if tokenString == "" {
		if t, ok := bearerToken(c.GetHeader("Authorization")); ok {
			tokenString = t
		}
	}
	if tokenString == "" {
		return 0, jwt.ErrInvalidToken
	}

	claims, err := jwt.ParseToken(tokenString, jwtSecret)
	if err != nil {
		return 0, err
	}
	return claims.UserID, nil
}

func bearerToken(header string) (string, bool) {
	token := strings.TrimPrefix(header, "Bearer ")
	if token == header || token == "" {
		return "", false
	}
	return token, true
}

// GetUserID 从上下文获取用户 ID
func GetUserID(c *gin.Context) (int64, bool) {
	userID, exists := c.Get(UserIDKey)
	if !exists {
		return 0, false
	}
	id, ok := userID.(int64)
	return id, ok
}
