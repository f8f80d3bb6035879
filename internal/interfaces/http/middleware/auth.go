// Package middleware provides the gin middleware stack: session
// authentication, CORS, request IDs, and path parameter validation.
package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/Eastern-Research-Group/csb-data-system/internal/application/access"
	"github.com/Eastern-Research-Group/csb-data-system/internal/infrastructure/config"
	"github.com/Eastern-Research-Group/csb-data-system/internal/interfaces/http/dto"
)

// Context keys and header names for session authentication
const (
	UserKey       = "session_user"
	AuthHeaderKey = "Authorization"
	BearerPrefix  = "Bearer "
)

// SessionClaims are the claims minted by the identity gateway. Email is
// the portal's user identity; Name and Title feed seeded form data.
type SessionClaims struct {
	jwt.RegisteredClaims
	Email string `json:"mail"`
	Name  string `json:"name,omitempty"`
	Title string `json:"title,omitempty"`
}

// SessionAuth validates the bearer token on every request and stores the
// authenticated user in the gin context. Tokens are minted by the external
// identity gateway; this service only verifies them.
func SessionAuth(cfg config.JWTConfig, logger *zap.Logger) gin.HandlerFunc {
	secret := []byte(cfg.Secret)
	keyFunc := func(token *jwt.Token) (any, error) {
		return secret, nil
	}

	parserOpts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
	}
	if cfg.Issuer != "" {
		parserOpts = append(parserOpts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		parserOpts = append(parserOpts, jwt.WithAudience(cfg.Audience))
	}
	parser := jwt.NewParser(parserOpts...)

	return func(c *gin.Context) {
		authHeader := c.GetHeader(AuthHeaderKey)
		if !strings.HasPrefix(authHeader, BearerPrefix) {
			abortUnauthorized(c, "Missing authorization header")
			return
		}
		tokenString := strings.TrimPrefix(authHeader, BearerPrefix)
		if tokenString == "" {
			abortUnauthorized(c, "Missing token")
			return
		}

		claims := &SessionClaims{}
		token, err := parser.ParseWithClaims(tokenString, claims, keyFunc)
		if err != nil || !token.Valid {
			logger.Warn("Rejected an invalid session token",
				zap.String("client_ip", c.ClientIP()),
				zap.Error(err))
			abortUnauthorized(c, "Invalid or expired session")
			return
		}
		if claims.Email == "" {
			abortUnauthorized(c, "Session carries no user identity")
			return
		}

		c.Set(UserKey, access.User{
			Email: claims.Email,
			Name:  claims.Name,
			Title: claims.Title,
		})
		c.Next()
	}
}

// CurrentUser returns the authenticated user stored by SessionAuth.
func CurrentUser(c *gin.Context) (access.User, bool) {
	value, ok := c.Get(UserKey)
	if !ok {
		return access.User{}, false
	}
	user, ok := value.(access.User)
	return user, ok
}

func abortUnauthorized(c *gin.Context, message string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized,
		dto.NewErrorResponse(dto.ErrCodeUnauthorized, message))
}
