package httpapi

import (
	"database/sql"
	"errors"
	"net/http"
	"strings"

	"esign-platform/internal/auth"
	"esign-platform/internal/document"
	"esign-platform/internal/ledger"
	"esign-platform/internal/lifecycle"
	"esign-platform/internal/reporting"
	"esign-platform/internal/signing"
	"esign-platform/internal/storage"
	"esign-platform/internal/store"
	"esign-platform/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

// Handlers groups HTTP handlers for dependency injection.
// Keep these thin: parse/validate input, call internal services, return JSON.

type Handlers struct {
	Auth      *auth.Manager
	Lifecycle *lifecycle.Service
	Signing   *signing.Service
	Reports   *reporting.Service

	// Health probes. DB is required; Redis may be nil when the limiter is
	// disabled.
	DB      *sql.DB
	Redis   *redis.Client
	Storage storage.Blobs

	MaxFileSize int64
}

// respondError translates service errors into the HTTP taxonomy. Unknown
// errors become opaque 500s; the detail goes to the log, not the client.
func respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound) || errors.Is(err, storage.ErrNotFound):
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "not found"})
	case errors.Is(err, document.ErrForbidden):
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
	case errors.Is(err, document.ErrIllegalTransition) || errors.Is(err, store.ErrConflict):
		c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, document.ErrValidation):
		c.AbortWithStatusJSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
	case errors.Is(err, reporting.ErrInvalidRequest):
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, ledger.ErrIntegrity):
		logger.FromGin(c).Error("audit chain integrity failure", "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "audit trail integrity failure"})
	default:
		logger.FromGin(c).Error("request failed", "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

// ownerFrom builds the owner identity from the verified token claims.
// Aborts with 401 when the middleware did not run.
func ownerFrom(c *gin.Context) (lifecycle.Owner, bool) {
	ctx := c.Request.Context()
	uid, err := auth.UserID(ctx)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "identity required"})
		return lifecycle.Owner{}, false
	}
	email, err := auth.Email(ctx)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "identity required"})
		return lifecycle.Owner{}, false
	}
	return lifecycle.Owner{ID: uid, Email: email, Name: auth.Name(ctx)}, true
}

// actorFrom captures who touched the chain and from where. UserID is set
// for owner routes; signer routes fill SignerID inside the signing service.
func actorFrom(c *gin.Context) ledger.Actor {
	a := ledger.Actor{
		IPAddress: c.ClientIP(),
		UserAgent: c.Request.UserAgent(),
	}
	if uid, err := auth.UserID(c.Request.Context()); err == nil {
		a.UserID = uid
	}
	return a
}

func contentTypeFor(filename string) string {
	if strings.HasSuffix(strings.ToLower(filename), ".pdf") {
		return "application/pdf"
	}
	return "application/octet-stream"
}
