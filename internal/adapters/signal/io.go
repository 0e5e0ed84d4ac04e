package signalws

import (
	"context"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/lessonlive/meetmesh/internal/signal"
)

const writeWait = 5 * time.Second

func (c *Client) writePump(ctx context.Context) {
	var pings <-chan time.Time
	if c.opts.PingPeriod > 0 {
		ticker := time.NewTicker(c.opts.PingPeriod)
		defer ticker.Stop()
		pings = ticker.C
	}
	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "signal").Msg("writePump ctx done")
			return
		case <-pings:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump ping")
				return
			}
		case data, ok := <-c.send:
			if !ok {
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump set deadline")
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump write error")
				return
			}
		}
	}
}

func (c *Client) readPump() {
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			c.mu.RLock()
			deliberate := c.closed
			c.mu.RUnlock()
			if deliberate {
				return
			}
			log.Error().Err(err).Str("module", "signal").Msg("readPump read error")
			c.close()
			c.reportClosed(err)
			return
		}
		env, err := signal.Decode(data)
		if err != nil {
			log.Error().Err(err).Str("module", "signal").Msg("bad envelope")
			continue
		}
		if c.onMessage != nil {
			c.onMessage(*env)
		}
	}
}
