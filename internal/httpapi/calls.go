package httpapi

import (
	"net/http"
	"time"

	"contact-center/internal/calls"
	"contact-center/internal/reporting"

	"github.com/gin-gonic/gin"
)

const defaultReportWindow = 24 * time.Hour

func (h Handlers) ActiveCalls(c *gin.Context) {
	if h.Calls == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "calls not configured"})
		return
	}
	list, err := h.Calls.ListActive(c.Request.Context())
	if err != nil {
		abortError(c, err)
		return
	}
	if list == nil {
		list = []calls.Call{}
	}
	c.JSON(http.StatusOK, gin.H{"calls": list})
}

func (h Handlers) GetCall(c *gin.Context) {
	if h.Calls == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "calls not configured"})
		return
	}
	call, err := h.Calls.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		abortError(c, err)
		return
	}
	c.JSON(http.StatusOK, call)
}

// CallsReport summarizes calls created in [from, to). Both bounds are
// RFC 3339; the window defaults to the last 24 hours.
func (h Handlers) CallsReport(c *gin.Context) {
	if h.Reports == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "reporting not configured"})
		return
	}
	to := h.now().UTC()
	if raw := c.Query("to"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "to must be RFC 3339"})
			return
		}
		to = t
	}
	from := to.Add(-defaultReportWindow)
	if raw := c.Query("from"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "from must be RFC 3339"})
			return
		}
		from = t
	}

	summary, err := h.Reports.CallsSummary(c.Request.Context(), reporting.CallsSummaryRequest{
		Range: reporting.TimeRange{From: from, To: to},
	})
	if err != nil {
		abortError(c, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

func (h Handlers) AgentsReport(c *gin.Context) {
	if h.Reports == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "reporting not configured"})
		return
	}
	summary, err := h.Reports.AgentSummary(c.Request.Context())
	if err != nil {
		abortError(c, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}
