package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"hailing/internal/auth"
	"hailing/internal/domain"
)

const actorKey = "actor"

// Authenticate resolves the bearer token into an actor or rejects the request.
// Websocket clients that cannot set headers may pass access_token instead.
func Authenticate(authn auth.Authenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(c.GetHeader("Authorization"))
		if token == "" {
			token = c.Query("access_token")
		}
		if token == "" {
			abortUnauthenticated(c, errors.New("missing bearer token"))
			return
		}

		actor, err := authn.Authenticate(token)
		if err != nil {
			abortUnauthenticated(c, err)
			return
		}
		c.Set(actorKey, actor)
		c.Next()
	}
}

// ActorFrom returns the actor stored by Authenticate.
func ActorFrom(c *gin.Context) (domain.Actor, bool) {
	v, ok := c.Get(actorKey)
	if !ok {
		return domain.Actor{}, false
	}
	actor, ok := v.(domain.Actor)
	return actor, ok
}

func bearerToken(header string) string {
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

func abortUnauthenticated(c *gin.Context, err error) {
	_ = c.Error(err)
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
		"error": gin.H{
			"code":    domain.CodeUnauthenticated,
			"message": "authentication required",
		},
		"request_id": RequestIDFrom(c),
	})
}
