package server

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/gigledger/internal/eventbus"
	"github.com/smallbiznis/gigledger/internal/events"
	"github.com/smallbiznis/gigledger/internal/observability/logger"
	"go.uber.org/zap"
)

type handlerOutcome struct {
	Handler  int    `json:"handler"`
	Attempts int    `json:"attempts"`
	Result   any    `json:"result,omitempty"`
	Error    string `json:"error,omitempty"`
}

// PublishEvent accepts a domain action and hands it to the bus. With sync=true
// the handlers run inline and their settled outcomes are returned.
func (s *Server) PublishEvent(c *gin.Context) {
	name := strings.TrimSpace(c.Param("name"))
	raw, err := c.GetRawData()
	if err != nil || len(raw) == 0 {
		AbortWithError(c, invalidRequestError())
		return
	}

	payload, err := events.Decode(name, raw)
	if err != nil {
		if !errors.Is(err, events.ErrUnknownEvent) {
			err = fmt.Errorf("%w: %v", ErrInvalidRequest, err)
		}
		AbortWithError(c, err)
		return
	}

	inline, err := parseOptionalBool(c.Query("sync"))
	if err != nil {
		AbortWithError(c, newValidationError("sync", "invalid_sync", "invalid sync flag"))
		return
	}

	ctx := c.Request.Context()
	eventName := payload.EventName()
	if inline != nil && *inline {
		outcomes := s.bus.Emit(ctx, eventName, payload)
		c.JSON(http.StatusOK, gin.H{
			"event":    eventName,
			"outcomes": toHandlerOutcomes(outcomes),
		})
		return
	}

	if err := s.bus.Publish(ctx, eventName, payload); err != nil {
		AbortWithError(c, err)
		return
	}
	logger.FromContext(ctx).Debug("event.accepted", zap.String("event", eventName))
	c.JSON(http.StatusAccepted, gin.H{"event": eventName, "status": "queued"})
}

func toHandlerOutcomes(in []eventbus.Outcome) []handlerOutcome {
	out := make([]handlerOutcome, 0, len(in))
	for _, o := range in {
		item := handlerOutcome{Handler: o.Handler, Attempts: o.Attempts, Result: o.Value}
		if o.Err != nil {
			item.Error = o.Err.Error()
		}
		out = append(out, item)
	}
	return out
}
