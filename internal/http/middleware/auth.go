// README: Firebase bearer-token auth; scopes the caller's identity and token to the request.
package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"ridesync/internal/infra"
	"ridesync/internal/modules/identity"
	"ridesync/internal/modules/taxi"
	"ridesync/internal/types"
)

const (
	ctxKeyUID  = "caller_uid"
	ctxKeyRole = "caller_role"
	ctxKeyName = "caller_name"
)

// Auth rejects requests without a verifiable Firebase ID token. Browsers cannot set headers
// on a WebSocket upgrade, so the token may also arrive as ?access_token=.
func Auth(verifier infra.TokenVerifier) gin.HandlerFunc {
	return authenticate(verifier, false)
}

// OptionalAuth lets anonymous requests through but still rejects a bad token.
func OptionalAuth(verifier infra.TokenVerifier) gin.HandlerFunc {
	return authenticate(verifier, true)
}

func authenticate(verifier infra.TokenVerifier, optional bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw, present, ok := bearerToken(c)
		if !present && optional {
			c.Next()
			return
		}
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing or malformed authorization header"})
			return
		}
		token, err := verifier.VerifyIDToken(c.Request.Context(), raw)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		role := identity.RoleCustomer
		if v, ok := token.Claims["role"].(string); ok {
			role = identity.ParseRole(v)
		}
		name, _ := token.Claims["name"].(string)
		user := identity.User{ID: types.ID(token.UID), Name: name, Role: role}

		c.Set(ctxKeyUID, token.UID)
		c.Set(ctxKeyRole, string(role))
		c.Set(ctxKeyName, name)
		ctx := identity.WithUser(c.Request.Context(), user)
		ctx = taxi.WithToken(ctx, raw)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// bearerToken reports the token, whether any credential was sent, and whether it was well formed.
func bearerToken(c *gin.Context) (string, bool, bool) {
	header := c.GetHeader("Authorization")
	if header == "" {
		if q := c.Query("access_token"); q != "" {
			return q, true, true
		}
		return "", false, false
	}
	raw, found := strings.CutPrefix(header, "Bearer ")
	if !found || strings.TrimSpace(raw) == "" {
		return "", true, false
	}
	return strings.TrimSpace(raw), true, true
}

// CallerUID returns the Firebase UID set by Auth, or "" for anonymous requests.
func CallerUID(c *gin.Context) string {
	return c.GetString(ctxKeyUID)
}

// CallerRole returns the role claim set by Auth ("driver" or "customer").
func CallerRole(c *gin.Context) string {
	return c.GetString(ctxKeyRole)
}

func CallerName(c *gin.Context) string {
	return c.GetString(ctxKeyName)
}
