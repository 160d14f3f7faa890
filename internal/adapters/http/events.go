package http

import (
	"context"
	"io"
	"time"

	"github.com/gin-contrib/sse"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Dispatch/internal/channel"
)

const keepAlivePeriod = 30 * time.Second

// events streams notifications and channel connectivity to one browser.
func (h *handlers) events(ctx context.Context, c *gin.Context) {
	client := c.GetString("client_token")
	sub := h.d.Hub.Subscribe()
	defer sub.Close()

	states := make(chan channel.State, 4)
	unsubscribe := h.d.Channel.OnStateChange(func(s channel.State) {
		select {
		case states <- s:
		default:
		}
	})
	defer unsubscribe()

	log.Info().Str("module", "adapters.http").Str("client", client).Str("sub", sub.ID()).Msg("event stream opened")
	defer log.Info().Str("module", "adapters.http").Str("client", client).Msg("event stream closed")

	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	c.Render(-1, connectionEvent(h.d.Channel.State()))
	c.Writer.Flush()

	ticker := time.NewTicker(keepAlivePeriod)
	defer ticker.Stop()

	c.Stream(func(io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case <-c.Request.Context().Done():
			return false
		case n, ok := <-sub.C():
			if !ok {
				return false
			}
			c.Render(-1, sse.Event{Event: "notification", Id: n.ID, Data: n})
			return true
		case s := <-states:
			c.Render(-1, connectionEvent(s))
			return true
		case <-ticker.C:
			c.Render(-1, sse.Event{Event: "ping", Data: time.Now().Unix()})
			return true
		}
	})
}

func connectionEvent(s channel.State) sse.Event {
	return sse.Event{
		Event: "connection",
		Data:  gin.H{"state": s.String(), "connected": s == channel.StateOpen},
	}
}
