package server

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/partnerly/internal/click/liveevents"
	shopdomain "github.com/smallbiznis/partnerly/internal/shop/domain"
	"github.com/smallbiznis/partnerly/internal/shopcontext"
)

// StreamLiveClicks replays the recent click buffer for the shop and then
// streams new events over SSE until the client goes away.
func (s *Server) StreamLiveClicks(c *gin.Context) {
	if s.liveClicks == nil {
		AbortWithError(c, ErrServiceUnavailable)
		return
	}

	shopID, ok := shopcontext.ShopIDFromContext(c.Request.Context())
	if !ok || shopID == 0 {
		AbortWithError(c, shopdomain.ErrInvalidShop)
		return
	}

	subscription, backlog, err := s.liveClicks.Subscribe(shopID.String())
	if err != nil {
		AbortWithError(c, ErrServiceUnavailable)
		return
	}
	defer subscription.Close()

	writer := c.Writer
	headers := writer.Header()
	headers.Set("Content-Type", "text/event-stream")
	headers.Set("Cache-Control", "no-cache")
	headers.Set("Connection", "keep-alive")
	headers.Set("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	flusher, ok := writer.(http.Flusher)
	if !ok {
		AbortWithError(c, ErrServiceUnavailable)
		return
	}

	if _, err := io.WriteString(writer, "retry: 2000\n\n"); err != nil {
		return
	}

	for _, event := range backlog {
		if err := writeLiveClickEvent(writer, event); err != nil {
			return
		}
	}
	flusher.Flush()

	ctx := c.Request.Context()
	heartbeat := time.NewTicker(15 * time.Second)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case event := <-subscription.Events():
			if err := writeLiveClickEvent(writer, event); err != nil {
				return
			}
			flusher.Flush()
		case <-heartbeat.C:
			if _, err := io.WriteString(writer, ": heartbeat\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func writeLiveClickEvent(w io.Writer, event liveevents.LiveEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "data: %s\n\n", data)
	return err
}
