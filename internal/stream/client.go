package stream

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/star/orrery/internal/metrics"
)

const writeTimeout = 30 * time.Second

// client writes SSE frames to one connection.
type client struct {
	w       io.Writer
	flusher http.Flusher
	rc      *http.ResponseController
	logger  *slog.Logger

	messagesSent int64
	bytesSent    int64
}

// sendJSON writes v as a "data:" event.
func (c *client) sendJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("json marshal: %w", err)
	}
	return c.write(fmt.Sprintf("data: %s\n\n", data), true)
}

// sendKeepalive writes an SSE comment so proxies keep the connection open.
func (c *client) sendKeepalive() error {
	return c.write(":\n\n", false)
}

func (c *client) write(frame string, message bool) error {
	// Each write gets a fresh deadline; the server-wide WriteTimeout was cleared.
	if err := c.rc.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		c.logger.Debug("could not set write deadline", "error", err)
	}

	n, err := io.WriteString(c.w, frame)
	if err != nil {
		return fmt.Errorf("write: %w", err)
	}
	c.flusher.Flush()

	c.bytesSent += int64(n)
	metrics.AddStreamBytes(int64(n))
	if message {
		c.messagesSent++
		metrics.IncStreamMessages()
	}
	return nil
}
