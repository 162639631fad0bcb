package embeddings

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestEmbedRejectsEmptyText(t *testing.T) {
	e := NewEmbedder("http://unused", "nomic-embed-text")
	if _, err := e.Embed(context.Background(), ""); err == nil {
		t.Fatal("expected error for empty text, got nil")
	}
}

func TestEmbedPostsModelAndPrompt(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/embeddings" {
			t.Errorf("expected path /api/embeddings, got %s", r.URL.Path)
		}
		var body struct {
			Model  string `json:"model"`
			Prompt string `json:"prompt"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decode request body: %v", err)
		}
		if body.Model != "nomic-embed-text" || body.Prompt != "hello" {
			t.Errorf("unexpected request body: %+v", body)
		}
		json.NewEncoder(w).Encode(map[string]any{"embedding": []float32{0.1, 0.2, 0.3}})
	}))
	defer srv.Close()

	e := NewEmbedder(srv.URL, "nomic-embed-text")
	vec, err := e.Embed(context.Background(), "hello")
	if err != nil {
		t.Fatalf("Embed returned error: %v", err)
	}
	if len(vec) != 3 {
		t.Errorf("expected vector of length 3, got %d", len(vec))
	}
}

func TestEmbedRejectsEmptyVector(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"embedding": []float32{}})
	}))
	defer srv.Close()

	e := NewEmbedder(srv.URL, "nomic-embed-text")
	if _, err := e.Embed(context.Background(), "hello"); err == nil {
		t.Fatal("expected error for empty embedding vector, got nil")
	}
}

func TestEmbedBatchPreservesOrder(t *testing.T) {
	var seen []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Prompt string `json:"prompt"`
		}
		json.NewDecoder(r.Body).Decode(&body)
		seen = append(seen, body.Prompt)
		json.NewEncoder(w).Encode(map[string]any{"embedding": []float32{float32(len(seen))}})
	}))
	defer srv.Close()

	e := NewEmbedder(srv.URL, "nomic-embed-text")
	vecs, err := e.EmbedBatch(context.Background(), []string{"a", "b", "c"})
	if err != nil {
		t.Fatalf("EmbedBatch returned error: %v", err)
	}
	if len(vecs) != 3 {
		t.Fatalf("expected 3 vectors, got %d", len(vecs))
	}
	for i, want := range []string{"a", "b", "c"} {
		if seen[i] != want {
			t.Errorf("request %d: expected prompt %q, got %q", i, want, seen[i])
		}
	}
}
