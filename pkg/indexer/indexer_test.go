package indexer

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/connect-llm/slackcorpus/pkg/chroma"
	"github.com/connect-llm/slackcorpus/pkg/embeddings"
	"github.com/connect-llm/slackcorpus/pkg/slackmodel"
)

func TestPercentOfClampsAndHandlesZeroTotal(t *testing.T) {
	cases := []struct {
		done, total, want int
	}{
		{0, 0, 100},
		{0, 10, 0},
		{5, 10, 50},
		{10, 10, 100},
		{11, 10, 100},
	}
	for _, tc := range cases {
		if got := percentOf(tc.done, tc.total); got != tc.want {
			t.Errorf("percentOf(%d, %d) = %d, want %d", tc.done, tc.total, got, tc.want)
		}
	}
}

func TestMessageIDIsStableForSameIdentity(t *testing.T) {
	ts := time.Date(2023, 6, 22, 15, 56, 54, 0, time.UTC)
	m := slackmodel.Message{ConversationID: "C01", TS: ts, Ordinal: 3}

	a := messageID(m)
	b := messageID(m)
	if a != b {
		t.Fatalf("expected stable id, got %q and %q", a, b)
	}

	other := m
	other.Ordinal = 4
	if messageID(other) == a {
		t.Fatal("expected different ordinal to produce a different id")
	}
}

func TestIsCancelledDetectsSentinel(t *testing.T) {
	if !IsCancelled(errCancelled) {
		t.Fatal("expected errCancelled to be reported as cancelled")
	}
	if IsCancelled(nil) {
		t.Fatal("expected nil error to not be reported as cancelled")
	}
}

// fixedDimEmbedder fakes the Ollama embeddings endpoint, returning a
// vector of dim floats derived from the prompt's length so distinct
// prompts produce distinct (but same-dimension) vectors.
func fixedDimEmbedder(t *testing.T, dim int) *embeddings.Embedder {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Prompt string `json:"prompt"`
		}
		json.NewDecoder(r.Body).Decode(&req)
		vec := make([]float32, dim)
		for i := range vec {
			vec[i] = float32(len(req.Prompt))
		}
		json.NewEncoder(w).Encode(map[string]any{"embedding": vec})
	}))
	t.Cleanup(srv.Close)
	return embeddings.NewEmbedder(srv.URL, "test-model")
}

// fakeChroma fakes just enough of the Chroma REST surface (collection
// create + upsert) to let trainBatch run end to end, capturing every
// upserted embedding's length.
func fakeChroma(t *testing.T) (*chroma.Client, *[][]float32) {
	t.Helper()
	var captured [][]float32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/api/v1/collections":
			json.NewEncoder(w).Encode(map[string]string{"id": "col-1"})
		default:
			var body struct {
				Embeddings [][]float32 `json:"embeddings"`
			}
			json.NewDecoder(r.Body).Decode(&body)
			captured = body.Embeddings
		}
	}))
	t.Cleanup(srv.Close)

	u, err := url.Parse(srv.URL)
	if err != nil {
		t.Fatalf("parse test server URL: %v", err)
	}
	host, port, err := net.SplitHostPort(u.Host)
	if err != nil {
		t.Fatalf("split host port: %v", err)
	}
	c := chroma.NewClient(host, port)
	if err := c.EnsureCollection(context.Background()); err != nil {
		t.Fatalf("EnsureCollection: %v", err)
	}
	return c, &captured
}

func TestTrainBatchWritesAVectorForEveryMessageIncludingBlankText(t *testing.T) {
	embedder := fixedDimEmbedder(t, 4)
	vectors, captured := fakeChroma(t)
	tr := NewTrainer(nil, embedder, vectors, 10)

	batch := []slackmodel.Message{
		{ConversationID: "C01", Text: "hello there"},
		{ConversationID: "C01", Text: ""}, // join message
		{ConversationID: "C01", Text: "goodbye"},
	}

	if err := tr.trainBatch(context.Background(), batch); err != nil {
		t.Fatalf("trainBatch returned error: %v", err)
	}
	if len(*captured) != len(batch) {
		t.Fatalf("expected %d vectors upserted, got %d", len(batch), len(*captured))
	}
	for i, v := range *captured {
		if len(v) != 4 {
			t.Errorf("vector %d: expected dimension 4, got %d", i, len(v))
		}
	}
}

func TestCheckDimensionRejectsChangeMidJob(t *testing.T) {
	tr := &Trainer{}
	if err := tr.checkDimension(768); err != nil {
		t.Fatalf("first checkDimension call: %v", err)
	}
	if err := tr.checkDimension(768); err != nil {
		t.Fatalf("matching checkDimension call: %v", err)
	}
	if err := tr.checkDimension(384); err == nil {
		t.Fatal("expected error for a dimension change mid-job, got nil")
	}
}
