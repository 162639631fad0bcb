// Package progress fans out job-status updates over gorilla/websocket:
// subscribers on GET /admin/import/{job_id}/stream receive every Job
// Store update for that job as it happens, a push channel alongside
// the polling GET /admin/import/{job_id}/status route.
package progress

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/connect-llm/slackcorpus/pkg/slackmodel"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Update is one job-status snapshot pushed to subscribers.
type Update struct {
	JobID           string             `json:"job_id"`
	Status          slackmodel.JobStatus `json:"status"`
	CurrentStage    slackmodel.Stage   `json:"current_stage"`
	Progress        string             `json:"progress"`
	ProgressPercent int                `json:"progress_percent"`
	Error           string             `json:"error,omitempty"`
}

// subscriber is one connected client watching a single job.
type subscriber struct {
	jobID string
	send  chan Update
}

// Hub fans job-status updates out to subscribers grouped by job id.
type Hub struct {
	mu          sync.RWMutex
	subscribers map[string]map[*subscriber]bool
}

// NewHub builds an empty progress Hub.
func NewHub() *Hub {
	return &Hub{subscribers: make(map[string]map[*subscriber]bool)}
}

// Publish pushes an update to every subscriber currently watching
// update.JobID. A subscriber whose channel is full is dropped rather
// than allowed to block the publisher.
func (h *Hub) Publish(update Update) {
	h.mu.RLock()
	subs := h.subscribers[update.JobID]
	targets := make([]*subscriber, 0, len(subs))
	for s := range subs {
		targets = append(targets, s)
	}
	h.mu.RUnlock()

	for _, s := range targets {
		select {
		case s.send <- update:
		default:
			h.unregister(s)
		}
	}
}

func (h *Hub) register(s *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.subscribers[s.jobID] == nil {
		h.subscribers[s.jobID] = make(map[*subscriber]bool)
	}
	h.subscribers[s.jobID][s] = true
}

func (h *Hub) unregister(s *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if set, ok := h.subscribers[s.jobID]; ok {
		if _, present := set[s]; present {
			delete(set, s)
			close(s.send)
		}
		if len(set) == 0 {
			delete(h.subscribers, s.jobID)
		}
	}
}

// ServeWS upgrades the request to a WebSocket and streams every Publish
// call for jobID until the client disconnects.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, jobID string) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("progress: websocket upgrade error: %v", err)
		return
	}

	s := &subscriber{jobID: jobID, send: make(chan Update, 32)}
	h.register(s)

	go s.readPump(conn, h)
	s.writePump(conn)
}

// readPump discards client input but watches for disconnects, ping/pong,
// and close frames.
func (s *subscriber) readPump(conn *websocket.Conn, h *Hub) {
	defer func() {
		h.unregister(s)
		conn.Close()
	}()

	_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (s *subscriber) writePump(conn *websocket.Conn) {
	ticker := time.NewTicker(54 * time.Second)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case update, ok := <-s.send:
			_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			body, err := json.Marshal(update)
			if err != nil {
				log.Printf("progress: marshal update for job %s: %v", update.JobID, err)
				continue
			}
			if err := conn.WriteMessage(websocket.TextMessage, body); err != nil {
				return
			}

		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// FromJob projects a Job Store record into an Update for publishing.
func FromJob(job slackmodel.Job) Update {
	return Update{
		JobID:           job.ID,
		Status:          job.Status,
		CurrentStage:    job.CurrentStage,
		Progress:        job.Progress,
		ProgressPercent: job.ProgressPercent,
		Error:           job.Error,
	}
}
