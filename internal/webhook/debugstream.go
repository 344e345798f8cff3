package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"
)

const debugPollInterval = 2 * time.Second

type debugMessage struct {
	Type    string `json:"type"`
	Content string `json:"content,omitempty"`
	Error   string `json:"error,omitempty"`
}

// ServeDebugStream upgrades to a WebSocket and periodically pushes the
// named instance's raw output, for operators watching a long-running turn.
// This supplements the webhook/health HTTP surface (not present in the
// original, which has no live-tail concept) and is read-only: it never
// accepts input back into the instance. Grounded on the teacher's
// internal/terminal/websocket.go connection lifecycle (accept, writer
// goroutine, close-on-client-disconnect), trimmed to one direction.
func (d *Dispatcher) ServeDebugStream(w http.ResponseWriter, r *http.Request, instanceName string) {
	inst := d.registry.Get(instanceName)
	if inst == nil {
		http.Error(w, "unknown instance", http.StatusNotFound)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		d.logger.Warn("failed to accept debug stream", "error", err, "instance", instanceName)
		return
	}
	defer func() {
		_ = ws.Close(websocket.StatusNormalClosure, "stream ended")
	}()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	ad, err := d.factory.For(inst)
	if err != nil {
		d.writeDebug(ctx, ws, debugMessage{Type: "error", Error: "adapter unavailable"})
		return
	}

	go d.watchDebugClient(ctx, ws, cancel)

	ticker := time.NewTicker(debugPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			output, err := ad.Peek(ctx)
			if err != nil {
				d.writeDebug(ctx, ws, debugMessage{Type: "error", Error: err.Error()})
				continue
			}
			if output == "" {
				continue
			}
			d.writeDebug(ctx, ws, debugMessage{Type: "output", Content: output})
		}
	}
}

// watchDebugClient drains client frames (pings, or a disconnect) and
// cancels ctx once the client goes away, since this endpoint has nothing
// to read from the client other than its liveness.
func (d *Dispatcher) watchDebugClient(ctx context.Context, ws *websocket.Conn, cancel context.CancelFunc) {
	defer cancel()
	for {
		if _, _, err := ws.Read(ctx); err != nil {
			if ctx.Err() == nil && websocket.CloseStatus(err) == -1 {
				d.logger.Debug("debug stream client read error", "error", err)
			}
			return
		}
	}
}

func (d *Dispatcher) writeDebug(ctx context.Context, ws *websocket.Conn, msg debugMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	if err := ws.Write(ctx, websocket.MessageText, data); err != nil && !errors.Is(err, context.Canceled) {
		d.logger.Debug("debug stream write error", "error", err)
	}
}
