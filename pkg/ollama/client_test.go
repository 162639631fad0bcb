package ollama

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func newTestServer(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(srv.URL)
}

func TestListModelsDecodesResponse(t *testing.T) {
	c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/tags" {
			t.Errorf("expected /api/tags, got %s", r.URL.Path)
		}
		json.NewEncoder(w).Encode(ListModelsResponse{
			Models: []ModelInfo{{Name: "nomic-embed-text"}, {Name: "llama3"}},
		})
	})

	models, err := c.ListModels(context.Background())
	if err != nil {
		t.Fatalf("ListModels returned error: %v", err)
	}
	if len(models) != 2 {
		t.Fatalf("expected 2 models, got %d", len(models))
	}
	if models[0].Name != "nomic-embed-text" {
		t.Errorf("expected first model 'nomic-embed-text', got %q", models[0].Name)
	}
}

func TestListModelsErrorsOnNonOKStatus(t *testing.T) {
	c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("boom"))
	})

	if _, err := c.ListModels(context.Background()); err == nil {
		t.Fatal("expected error for non-200 response, got nil")
	}
}

func TestHasModelReportsPresenceByName(t *testing.T) {
	c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(ListModelsResponse{
			Models: []ModelInfo{{Name: "nomic-embed-text"}},
		})
	})

	has, err := c.HasModel(context.Background(), "nomic-embed-text")
	if err != nil {
		t.Fatalf("HasModel returned error: %v", err)
	}
	if !has {
		t.Error("expected HasModel to report true for a present model")
	}

	missing, err := c.HasModel(context.Background(), "gpt-nope")
	if err != nil {
		t.Fatalf("HasModel returned error: %v", err)
	}
	if missing {
		t.Error("expected HasModel to report false for a missing model")
	}
}

func TestPingErrorsOnNonOKStatus(t *testing.T) {
	c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	if err := c.Ping(context.Background()); err == nil {
		t.Fatal("expected error for non-200 response, got nil")
	}
}

func TestPingSucceedsOnOKStatus(t *testing.T) {
	c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	if err := c.Ping(context.Background()); err != nil {
		t.Fatalf("Ping returned error: %v", err)
	}
}

func TestPullModelStopsAtSuccessStatus(t *testing.T) {
	c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/pull" {
			t.Errorf("expected /api/pull, got %s", r.URL.Path)
		}
		var req map[string]string
		json.NewDecoder(r.Body).Decode(&req)
		if req["name"] != "nomic-embed-text" {
			t.Errorf("expected model name 'nomic-embed-text', got %q", req["name"])
		}

		enc := json.NewEncoder(w)
		enc.Encode(map[string]string{"status": "pulling manifest"})
		enc.Encode(map[string]string{"status": "success"})
	})

	if err := c.PullModel(context.Background(), "nomic-embed-text"); err != nil {
		t.Fatalf("PullModel returned error: %v", err)
	}
}
