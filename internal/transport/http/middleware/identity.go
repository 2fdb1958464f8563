package middleware

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/arklim/platform-authz/internal/core/domain"
)

// Identity headers set by the authenticating edge in front of the engine.
const (
	UserIDHeader  = "X-User-Id"
	RoleIDsHeader = "X-Role-Ids"
	TokenIDHeader = "X-Token-Id"

	// IdentityKey is the gin context key holding the caller's domain.Identity.
	IdentityKey = "identity"
)

// TokenRevocations reports whether a token id has been revoked.
type TokenRevocations interface {
	IsTokenRevoked(id int64) bool
}

// Identity parses the caller identity headers. Malformed headers are rejected with 400 and a
// revoked token with 401. Requests without headers continue as anonymous.
func Identity(revocations TokenRevocations) gin.HandlerFunc {
	return func(c *gin.Context) {
		var identity domain.Identity

		if raw := strings.TrimSpace(c.GetHeader(UserIDHeader)); raw != "" {
			id, err := strconv.ParseInt(raw, 10, 64)
			if err != nil {
				c.AbortWithStatusJSON(http.StatusBadRequest, newErrorResponse(c, "invalid "+UserIDHeader+" header"))
				return
			}
			identity.UserID = &id
		}

		roleIDs, err := parseIDList(c.GetHeader(RoleIDsHeader))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, newErrorResponse(c, "invalid "+RoleIDsHeader+" header"))
			return
		}
		identity.RoleIDs = roleIDs

		if raw := strings.TrimSpace(c.GetHeader(TokenIDHeader)); raw != "" {
			id, err := strconv.ParseInt(raw, 10, 64)
			if err != nil {
				c.AbortWithStatusJSON(http.StatusBadRequest, newErrorResponse(c, "invalid "+TokenIDHeader+" header"))
				return
			}
			if revocations != nil && revocations.IsTokenRevoked(id) {
				c.AbortWithStatusJSON(http.StatusUnauthorized, newErrorResponse(c, "token revoked"))
				return
			}
			identity.TokenID = &id
		}

		c.Set(IdentityKey, identity)
		c.Next()
	}
}

// GetIdentity returns the identity attached by the Identity middleware.
func GetIdentity(c *gin.Context) (domain.Identity, bool) {
	if value, exists := c.Get(IdentityKey); exists {
		if identity, ok := value.(domain.Identity); ok {
			return identity, true
		}
	}
	return domain.Identity{}, false
}

// parseIDList accepts ids separated by commas or whitespace.
func parseIDList(raw string) ([]int64, error) {
	fields := strings.FieldsFunc(raw, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t'
	})
	if len(fields) == 0 {
		return nil, nil
	}
	ids := make([]int64, 0, len(fields))
	for _, field := range fields {
		id, err := strconv.ParseInt(field, 10, 64)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}
