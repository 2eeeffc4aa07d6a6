package server

import (
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/manyfutures/foresight/internal/orgcontext"
)

const (
	// HeaderOrg carries the pre-validated tenant identity. The upstream
	// gateway authenticates the caller; this service only resolves the org.
	HeaderOrg = "X-Org-ID"

	contextOrgIDKey = "org_id"

	orgCacheTTL = time.Minute
)

// OrgRequired resolves the tenant from the trusted identity header and
// injects it into the request context. Unknown or missing orgs are rejected.
func (s *Server) OrgRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := strings.TrimSpace(c.GetHeader(HeaderOrg))
		if raw == "" {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		orgID, err := snowflake.ParseString(raw)
		if err != nil || orgID == 0 {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		if _, ok := s.orgCache.Get(orgID); !ok {
			if _, err := s.orgSvc.GetByID(c.Request.Context(), orgID); err != nil {
				AbortWithError(c, ErrUnauthorized)
				return
			}
			s.orgCache.Set(orgID, struct{}{}, orgCacheTTL)
		}

		ctx := orgcontext.WithOrgID(c.Request.Context(), int64(orgID))
		c.Request = c.Request.WithContext(ctx)
		c.Set(contextOrgIDKey, orgID.String())
		c.Next()
	}
}

func orgFromContext(c *gin.Context) (snowflake.ID, bool) {
	return orgcontext.OrgIDFromContext(c.Request.Context())
}
