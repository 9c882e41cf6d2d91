package httpapi

import (
	"net/http"

	"contact-center/internal/routing"

	"github.com/gin-gonic/gin"
)

// Route places a call with the best agent or queues it.
func (h Handlers) Route(c *gin.Context) {
	if h.Engine == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "routing not configured"})
		return
	}
	var req routing.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if err := h.Context.Validate(req.CustomerContext); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid customer_context", "detail": err.Error()})
		return
	}
	res, err := h.Engine.Route(c.Request.Context(), req)
	if err != nil {
		abortError(c, err)
		return
	}
	status := http.StatusOK
	if res.Queued {
		status = http.StatusAccepted
	}
	c.JSON(status, res)
}

type queueBucket struct {
	Priority routing.Priority  `json:"priority"`
	Requests []routing.Request `json:"requests"`
}

// QueueSnapshot lists waiting requests by priority, most urgent first.
func (h Handlers) QueueSnapshot(c *gin.Context) {
	if h.Engine == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "routing not configured"})
		return
	}
	snap := h.Engine.Queue().Snapshot()
	priorities := routing.Priorities()
	buckets := make([]queueBucket, 0, len(priorities))
	total := 0
	for _, p := range priorities {
		reqs := snap[p]
		if reqs == nil {
			reqs = []routing.Request{}
		}
		total += len(reqs)
		buckets = append(buckets, queueBucket{Priority: p, Requests: reqs})
	}
	c.JSON(http.StatusOK, gin.H{"total": total, "queues": buckets})
}
