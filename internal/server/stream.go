package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/coder/websocket"
	"github.com/gin-gonic/gin"

	"github.com/lakegate/lakegate/pkg/hlc"
)

// wsStream adapts a websocket connection to the gateway's stream
// contract.
type wsStream struct {
	conn *websocket.Conn
}

func (w *wsStream) WriteFrame(ctx context.Context, data []byte) error {
	return w.conn.Write(ctx, websocket.MessageText, data)
}

func (w *wsStream) Ping(ctx context.Context) error {
	return w.conn.Ping(ctx)
}

// handleStream upgrades the request and feeds the caller filtered
// deltas from its cursor until either side closes.
func (s *Server) handleStream(c *gin.Context) {
	since := hlc.Timestamp(0)
	if raw := c.Query("since"); raw != "" {
		parsed, err := hlc.Parse(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, errorBody{Error: "since must be a decimal timestamp", Code: "VALIDATION_ERROR", Field: "since"})
			return
		}
		since = parsed
	}
	rules := s.rulesContext(c)

	// Origin enforcement belongs to the fronting proxy, like the rest
	// of request authentication.
	conn, err := websocket.Accept(c.Writer, c.Request, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		s.logger.Debug("server: websocket accept failed", slog.String("error", err.Error()))
		return
	}
	defer conn.CloseNow()

	// CloseRead discards inbound messages and cancels the context when
	// the peer goes away; it also services pongs for the heartbeat.
	ctx := conn.CloseRead(c.Request.Context())

	err = s.cfg.Gateway.Stream(ctx, &wsStream{conn: conn}, since, rules)
	if err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Debug("server: stream closed", slog.String("error", err.Error()))
		conn.Close(websocket.StatusInternalError, "stream failed")
		return
	}

	conn.Close(websocket.StatusNormalClosure, "")
}
