package web

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/deemkeen/lemmings/activitypub"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// handleInbox serves the shared inbox and the per actor inboxes. Routing is
// done by the activity itself, so they all behave the same.
func (s *Server) handleInbox(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.respondInbox(c, http.StatusRequestEntityTooLarge, err)
			return
		}
		s.respondInbox(c, http.StatusBadRequest, err)
		return
	}

	err = s.fed.ReceiveActivity(c.Request.Context(), c.Request, body)
	s.respondInbox(c, activitypub.StatusCode(err), err)
}

func (s *Server) respondInbox(c *gin.Context, status int, err error) {
	if s.metrics != nil {
		s.metrics.Received.WithLabelValues(strconv.Itoa(status)).Inc()
	}
	if err == nil {
		c.Status(status)
		return
	}

	fields := []zap.Field{zap.String("path", c.Request.URL.Path), zap.Int("status", status), zap.Error(err)}
	if status >= http.StatusInternalServerError {
		s.logger.Warn("inbox request failed", fields...)
	} else {
		s.logger.Debug("inbox request refused", fields...)
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
