package api

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
)

const (
	defaultWebhookEventsLimit = 100
	minWebhookEventsLimit     = 1
	maxWebhookEventsLimit     = 1000
)

// ingestWebhookHandler verifies and records one provider webhook
// delivery, then reconciles it against any matching lease.
func (s *Server) ingestWebhookHandler(c *gin.Context) {
	provider := c.Param("provider")

	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "cannot read request body"})
		return
	}

	if err := s.ingester.VerifyIfConfigured(provider, body, c.GetHeader("X-Webhook-Signature")); err != nil {
		writeError(c, err)
		return
	}

	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json payload"})
		return
	}

	ctx, cancel := newRequestContext(c, 10*time.Second)
	defer cancel()

	result, err := s.ingester.Ingest(ctx, provider, payload)
	if err != nil {
		writeError(c, err)
		return
	}

	resp := gin.H{
		"ok":          result.OK,
		"provider":    result.Provider,
		"instance_id": result.InstanceID,
		"event_type":  result.EventType,
		"matched":     result.Matched,
	}
	if result.LeaseID != "" {
		resp["lease_id"] = result.LeaseID
	}
	c.JSON(http.StatusOK, resp)
}

// listWebhookEventsHandler returns the most recent raw webhook
// deliveries, newest first.
func (s *Server) listWebhookEventsHandler(c *gin.Context) {
	limit := defaultWebhookEventsLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be an integer"})
			return
		}
		limit = n
	}
	if limit < minWebhookEventsLimit {
		limit = minWebhookEventsLimit
	}
	if limit > maxWebhookEventsLimit {
		limit = maxWebhookEventsLimit
	}

	ctx, cancel := newRequestContext(c, 10*time.Second)
	defer cancel()

	events, err := s.events.ListRecent(ctx, limit)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": events})
}
