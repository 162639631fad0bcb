package chroma

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"testing"
)

func newTestServer(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	u, err := url.Parse(srv.URL)
	if err != nil {
		t.Fatalf("parse test server URL: %v", err)
	}
	host, port, err := net.SplitHostPort(u.Host)
	if err != nil {
		t.Fatalf("split host port: %v", err)
	}
	return NewClient(host, port)
}

func TestEnsureCollectionStoresID(t *testing.T) {
	c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/collections" {
			t.Errorf("expected /api/v1/collections, got %s", r.URL.Path)
		}
		json.NewEncoder(w).Encode(map[string]string{"id": "col-1"})
	})

	if err := c.EnsureCollection(context.Background()); err != nil {
		t.Fatalf("EnsureCollection returned error: %v", err)
	}
	if c.collectionID != "col-1" {
		t.Errorf("expected collectionID 'col-1', got %q", c.collectionID)
	}
}

func TestUpsertRequiresCollection(t *testing.T) {
	c := NewClient("localhost", "8000")
	err := c.Upsert(context.Background(), []Record{{ID: "m1", Embedding: []float32{0.1}}})
	if err == nil {
		t.Fatal("expected error when upserting before EnsureCollection, got nil")
	}
}

func TestUpsertTruncatesSnippet(t *testing.T) {
	longSnippet := strings.Repeat("x", snippetCap+100)
	var captured map[string]any

	c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/upsert") {
			var body map[string]any
			json.NewDecoder(r.Body).Decode(&body)
			metas := body["metadatas"].([]any)
			captured = metas[0].(map[string]any)
			return
		}
		json.NewEncoder(w).Encode(map[string]string{"id": "col-1"})
	})
	if err := c.EnsureCollection(context.Background()); err != nil {
		t.Fatalf("EnsureCollection: %v", err)
	}

	err := c.Upsert(context.Background(), []Record{{
		ID:        "m1",
		Embedding: []float32{0.1, 0.2},
		Metadata:  Metadata{ConversationID: "C01", Snippet: longSnippet},
	}})
	if err != nil {
		t.Fatalf("Upsert returned error: %v", err)
	}

	snippet, _ := captured["snippet"].(string)
	if len(snippet) != snippetCap {
		t.Errorf("expected snippet truncated to %d chars, got %d", snippetCap, len(snippet))
	}
}

func TestQueryConvertsDistanceToSimilarity(t *testing.T) {
	c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/query") {
			json.NewEncoder(w).Encode(map[string]any{
				"ids":       [][]string{{"m1", "m2"}},
				"distances": [][]float64{{0.1, 0.4}},
				"metadatas": [][]map[string]any{{
					{"conversation_id": "C01", "username": "alice", "ts": "t1", "snippet": "hi"},
					{"conversation_id": "C01", "username": "bob", "ts": "t2", "snippet": "yo"},
				}},
			})
			return
		}
		json.NewEncoder(w).Encode(map[string]string{"id": "col-1"})
	})
	if err := c.EnsureCollection(context.Background()); err != nil {
		t.Fatalf("EnsureCollection: %v", err)
	}

	matches, err := c.Query(context.Background(), []float32{0.1, 0.2}, 2)
	if err != nil {
		t.Fatalf("Query returned error: %v", err)
	}
	if len(matches) != 2 {
		t.Fatalf("expected 2 matches, got %d", len(matches))
	}
	if matches[0].Score != 0.9 {
		t.Errorf("expected score 0.9 for distance 0.1, got %v", matches[0].Score)
	}
	if matches[0].Metadata.Username != "alice" {
		t.Errorf("expected username 'alice', got %q", matches[0].Metadata.Username)
	}
}

func TestDeleteNoopsOnEmptyIDs(t *testing.T) {
	c := NewClient("localhost", strconv.Itoa(8000))
	if err := c.Delete(context.Background(), nil); err != nil {
		t.Fatalf("expected nil error for empty id slice, got %v", err)
	}
}
