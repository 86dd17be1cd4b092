package handler

import (
	"context"
	"log/slog"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/use-agent/adscope/models"
	"github.com/use-agent/adscope/scrape"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// The API key middleware already gates the upgrade request.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Client-to-server message types on the control channel.
const (
	msgStartScraping  = "start-scraping"
	msgPauseScraping  = "pause-scraping"
	msgResumeScraping = "resume-scraping"
	msgStopScraping   = "stop-scraping"
)

// clientMessage is one control message from the browser client.
type clientMessage struct {
	Type       string `json:"type"`
	URL        string `json:"url,omitempty"`
	MaxResults int    `json:"maxResults,omitempty"`
}

// wsConn serializes writes; gorilla connections allow one concurrent writer.
type wsConn struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (w *wsConn) send(ev models.JobEvent) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.conn.WriteJSON(ev); err != nil {
		slog.Debug("websocket write failed", "error", err)
	}
}

// GetWS returns the handler for GET /api/v1/ws: the interactive job control
// channel. One connection owns one session; disconnecting stops the
// session's job.
func GetWS(deps *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			slog.Warn("websocket upgrade failed", "error", err)
			return
		}

		sessionID := uuid.NewString()
		w := &wsConn{conn: conn}

		defer func() {
			deps.Registry.Remove(sessionID)
			_ = conn.Close()
		}()

		// Tell the client its session id so it can hit the export endpoint.
		w.send(models.JobEvent{Type: "session", Message: sessionID})

		for {
			var msg clientMessage
			if err := conn.ReadJSON(&msg); err != nil {
				if websocket.IsUnexpectedCloseError(err,
					websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					slog.Debug("websocket closed unexpectedly", "session", sessionID, "error", err)
				}
				return
			}

			switch msg.Type {
			case msgStartScraping:
				handleStart(deps, w, sessionID, msg)
			case msgPauseScraping:
				if job, ok := deps.Registry.Get(sessionID); ok {
					job.Pause()
				}
			case msgResumeScraping:
				if job, ok := deps.Registry.Get(sessionID); ok {
					job.Resume()
				}
			case msgStopScraping:
				if job, ok := deps.Registry.Get(sessionID); ok {
					job.Stop()
				}
			default:
				w.send(models.JobEvent{
					Type:    models.EventError,
					Message: "unknown message type: " + msg.Type,
				})
			}
		}
	}
}

func handleStart(deps *Deps, w *wsConn, sessionID string, msg clientMessage) {
	adapter, _, err := deps.pickAdapter(msg.URL)
	if err != nil {
		w.send(models.JobEvent{Type: models.EventError, Message: asScrapeError(err).Message})
		return
	}

	job := scrape.NewJob(sessionID, msg.URL, adapter, deps.Cfg.Scrape, msg.MaxResults)
	if _, ok := deps.Registry.Put(job); !ok {
		w.send(models.JobEvent{
			Type:    models.EventError,
			Message: "scraping already running for this session",
		})
		return
	}

	// The job outlives the request context; disconnect stops it via the
	// registry cleanup.
	if err := job.Start(context.Background()); err != nil {
		w.send(models.JobEvent{Type: models.EventError, Message: asScrapeError(err).Message})
		return
	}

	go func() {
		for ev := range job.Events() {
			w.send(ev)
		}
	}()
}
