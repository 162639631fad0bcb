package progress

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/connect-llm/slackcorpus/pkg/slackmodel"
)

func TestFromJobProjectsFields(t *testing.T) {
	job := slackmodel.Job{
		ID:              "job-1",
		Status:          slackmodel.JobTraining,
		CurrentStage:    slackmodel.StageTraining,
		Progress:        "Trained 5 of 10 messages",
		ProgressPercent: 50,
	}
	got := FromJob(job)
	if got.JobID != "job-1" || got.Status != slackmodel.JobTraining || got.ProgressPercent != 50 {
		t.Errorf("unexpected projection: %+v", got)
	}
	if got.Error != "" {
		t.Errorf("expected no error on a healthy job, got %q", got.Error)
	}
}

func newTestServer(t *testing.T, h *Hub, jobID string) (*httptest.Server, string) {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.ServeWS(w, r, jobID)
	}))
	t.Cleanup(srv.Close)
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	return srv, wsURL
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", url, err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestHubDeliversPublishToSubscriberOfThatJob(t *testing.T) {
	h := NewHub()
	_, url := newTestServer(t, h, "job-1")
	conn := dial(t, url)

	waitForSubscriberCount(t, h, "job-1", 1)

	h.Publish(Update{JobID: "job-1", Status: slackmodel.JobTraining, ProgressPercent: 42})

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, body, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read message: %v", err)
	}
	if !strings.Contains(string(body), `"job_id":"job-1"`) || !strings.Contains(string(body), `"progress_percent":42`) {
		t.Errorf("unexpected message body: %s", body)
	}
}

func TestHubIsolatesSubscribersByJob(t *testing.T) {
	h := NewHub()
	_, urlA := newTestServer(t, h, "job-a")
	_, urlB := newTestServer(t, h, "job-b")
	connA := dial(t, urlA)
	connB := dial(t, urlB)

	waitForSubscriberCount(t, h, "job-a", 1)
	waitForSubscriberCount(t, h, "job-b", 1)

	h.Publish(Update{JobID: "job-a", ProgressPercent: 1})

	_ = connA.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := connA.ReadMessage(); err != nil {
		t.Fatalf("expected job-a subscriber to receive its update: %v", err)
	}

	_ = connB.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	if _, _, err := connB.ReadMessage(); err == nil {
		t.Error("expected job-b subscriber to receive nothing from a job-a publish")
	}
}

func TestUnregisterRemovesEmptyJobSet(t *testing.T) {
	h := NewHub()
	_, url := newTestServer(t, h, "job-1")
	conn := dial(t, url)

	waitForSubscriberCount(t, h, "job-1", 1)

	conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		h.mu.RLock()
		_, present := h.subscribers["job-1"]
		h.mu.RUnlock()
		if !present {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Error("expected job-1's subscriber set to be cleaned up after disconnect")
}

func waitForSubscriberCount(t *testing.T, h *Hub, jobID string, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		h.mu.RLock()
		got := len(h.subscribers[jobID])
		h.mu.RUnlock()
		if got == want {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d subscriber(s) on %s", want, jobID)
}
