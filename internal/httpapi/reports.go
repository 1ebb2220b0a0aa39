package httpapi

import (
	"net/http"
	"time"

	"esign-platform/internal/reporting"

	"github.com/gin-gonic/gin"
)

const defaultReportWindow = 30 * 24 * time.Hour

// reportRange reads the from/to query params, defaulting to the trailing
// thirty days.
func reportRange(c *gin.Context) (reporting.TimeRange, bool) {
	now := time.Now().UTC()
	r := reporting.TimeRange{From: now.Add(-defaultReportWindow), To: now}

	if raw := c.Query("from"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "from must be RFC3339"})
			return reporting.TimeRange{}, false
		}
		r.From = t
	}
	if raw := c.Query("to"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "to must be RFC3339"})
			return reporting.TimeRange{}, false
		}
		r.To = t
	}
	return r, true
}

func (h Handlers) DocumentsReport(c *gin.Context) {
	owner, ok := ownerFrom(c)
	if !ok {
		return
	}
	rng, ok := reportRange(c)
	if !ok {
		return
	}
	summary, err := h.Reports.DocumentsSummary(c.Request.Context(), reporting.DocumentsSummaryRequest{
		OwnerID: owner.ID,
		Range:   rng,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

func (h Handlers) SignersReport(c *gin.Context) {
	owner, ok := ownerFrom(c)
	if !ok {
		return
	}
	rng, ok := reportRange(c)
	if !ok {
		return
	}
	funnel, err := h.Reports.SignerFunnel(c.Request.Context(), reporting.SignerFunnelRequest{
		OwnerID: owner.ID,
		Range:   rng,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, funnel)
}
