package handlers

import (
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/promptforge/promptforge/internal/progress"
	"github.com/promptforge/promptforge/pkg/models"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// submitWait is how long a subscriber waits for the job to reach the
// backend before giving up.
const submitWait = 60 * time.Second

// wsConn serializes writes; frames and pong replies come from different
// goroutines.
type wsConn struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *wsConn) writeJSON(v interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteJSON(v)
}

func (c *wsConn) writeText(s string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, []byte(s))
}

// WatchGeneration streams transformed progress frames for one job over a
// websocket. A "ping" literal from the client gets a "pong"; idle
// connections receive a keepalive frame every 30 seconds.
func (h *Handlers) WatchGeneration(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")

	raw, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Str("job_id", jobID).Msg("websocket upgrade failed")
		return
	}
	conn := &wsConn{conn: raw}
	defer raw.Close()

	promptID, final, ok := h.awaitSubmission(jobID)
	if !ok {
		conn.writeJSON(progress.Frame{Type: progress.TypeError, Message: "job not found: " + jobID})
		return
	}
	if final != nil {
		// Job already finished; replay its terminal condition and close.
		conn.writeJSON(terminalFrame(*final))
		return
	}

	sub := h.Hub.Subscribe(jobID, promptID)
	defer h.Hub.Unsubscribe(sub)

	// Reader: detect disconnects and answer ping literals.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			_, msg, err := raw.ReadMessage()
			if err != nil {
				return
			}
			if string(msg) == "ping" {
				if err := conn.writeText("pong"); err != nil {
					return
				}
			}
		}
	}()

	keepalive := time.NewTicker(progress.KeepaliveInterval)
	defer keepalive.Stop()

	for {
		select {
		case frame, open := <-sub.Frames():
			if !open {
				return
			}
			if err := conn.writeJSON(frame); err != nil {
				return
			}
		case <-keepalive.C:
			if err := conn.writeJSON(map[string]string{"type": "keepalive"}); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}

// awaitSubmission blocks until the job has a backend prompt id. A terminal
// view is returned instead when the job finished (or failed) before ever
// producing one. ok is false for unknown jobs.
func (h *Handlers) awaitSubmission(jobID string) (promptID string, final *models.JobView, ok bool) {
	deadline := time.Now().Add(submitWait)
	for time.Now().Before(deadline) {
		view, exists := h.Scheduler.Get(jobID)
		if !exists {
			return "", nil, false
		}
		if id, submitted := h.Scheduler.PromptID(jobID); submitted {
			return id, nil, true
		}
		if view.State.Terminal() {
			return "", &view, true
		}
		time.Sleep(100 * time.Millisecond)
	}
	return "", nil, false
}

// terminalFrame summarizes an already-finished job as a single frame.
func terminalFrame(view models.JobView) progress.Frame {
	if view.State == models.JobFailed {
		return progress.Frame{Type: progress.TypeError, Message: view.Error}
	}
	return progress.Frame{Type: progress.TypeExecuting, Message: "Execution complete"}
}
