// Package chroma is a hand-rolled REST client against a Chroma vector
// store, following the same *http.Client wrapper shape as pkg/ollama and
// pkg/embeddings: context-aware requests, JSON marshal/unmarshal,
// fmt.Errorf("...: %w") wrapping. No Chroma SDK is used because none is
// available for Go.
package chroma

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

const collectionName = "messages"

// snippetCap bounds the text snippet stored in vector metadata.
const snippetCap = 512

// Client talks to a single Chroma server and manages one collection,
// "messages", in cosine space.
type Client struct {
	httpClient   *http.Client
	baseURL      string
	collectionID string
}

// NewClient builds a client for the Chroma server at host:port. Call
// EnsureCollection before Upsert/Query/Delete.
func NewClient(host, port string) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		baseURL:    fmt.Sprintf("http://%s:%s/api/v1", host, port),
	}
}

// Metadata is the snapshot attached to each vector record.
type Metadata struct {
	ConversationID string `json:"conversation_id"`
	Username       string `json:"username"`
	TS             string `json:"ts"`
	Snippet        string `json:"snippet"`
}

// Record is one upsert unit: a message id, its embedding, and metadata.
type Record struct {
	ID        string
	Embedding []float32
	Metadata  Metadata
}

// Match is one k-NN query result.
type Match struct {
	ID       string
	Score    float64 // cosine similarity, higher is better
	Metadata Metadata
}

type createCollectionRequest struct {
	Name        string         `json:"name"`
	Metadata    map[string]any `json:"metadata"`
	GetOrCreate bool           `json:"get_or_create"`
}

type collectionResponse struct {
	ID string `json:"id"`
}

// EnsureCollection creates the "messages" collection if it does not
// already exist and records its server-assigned id for subsequent calls.
func (c *Client) EnsureCollection(ctx context.Context) error {
	body, err := json.Marshal(createCollectionRequest{
		Name:        collectionName,
		Metadata:    map[string]any{"hnsw:space": "cosine"},
		GetOrCreate: true,
	})
	if err != nil {
		return fmt.Errorf("marshal create-collection request: %w", err)
	}

	var col collectionResponse
	if err := c.doJSON(ctx, http.MethodPost, "/collections", body, &col); err != nil {
		return fmt.Errorf("ensure collection %q: %w", collectionName, err)
	}
	c.collectionID = col.ID
	return nil
}

type upsertRequest struct {
	IDs        []string         `json:"ids"`
	Embeddings [][]float32      `json:"embeddings"`
	Metadatas  []map[string]any `json:"metadatas"`
}

// Upsert writes or overwrites a batch of vector records keyed by message
// id, truncating each snippet to snippetCap bytes.
func (c *Client) Upsert(ctx context.Context, records []Record) error {
	if len(records) == 0 {
		return nil
	}
	if c.collectionID == "" {
		return fmt.Errorf("upsert called before EnsureCollection")
	}

	req := upsertRequest{
		IDs:        make([]string, len(records)),
		Embeddings: make([][]float32, len(records)),
		Metadatas:  make([]map[string]any, len(records)),
	}
	for i, r := range records {
		meta := r.Metadata
		meta.Snippet = truncateSnippet(meta.Snippet)
		req.IDs[i] = r.ID
		req.Embeddings[i] = r.Embedding
		req.Metadatas[i] = map[string]any{
			"conversation_id": meta.ConversationID,
			"username":        meta.Username,
			"ts":              meta.TS,
			"snippet":         meta.Snippet,
		}
	}

	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal upsert request: %w", err)
	}

	path := fmt.Sprintf("/collections/%s/upsert", c.collectionID)
	if err := c.doJSON(ctx, http.MethodPost, path, body, nil); err != nil {
		return fmt.Errorf("upsert %d records: %w", len(records), err)
	}
	return nil
}

type queryRequest struct {
	QueryEmbeddings [][]float32 `json:"query_embeddings"`
	NResults        int         `json:"n_results"`
}

type queryResponse struct {
	IDs       [][]string         `json:"ids"`
	Distances [][]float64        `json:"distances"`
	Metadatas [][]map[string]any `json:"metadatas"`
}

// Query runs a k-NN search against the embedding and returns up to k
// matches ordered by descending cosine similarity.
func (c *Client) Query(ctx context.Context, embedding []float32, k int) ([]Match, error) {
	if c.collectionID == "" {
		return nil, fmt.Errorf("query called before EnsureCollection")
	}

	body, err := json.Marshal(queryRequest{
		QueryEmbeddings: [][]float32{embedding},
		NResults:        k,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal query request: %w", err)
	}

	var resp queryResponse
	path := fmt.Sprintf("/collections/%s/query", c.collectionID)
	if err := c.doJSON(ctx, http.MethodPost, path, body, &resp); err != nil {
		return nil, fmt.Errorf("query top-%d: %w", k, err)
	}
	if len(resp.IDs) == 0 {
		return nil, nil
	}

	ids, distances, metas := resp.IDs[0], resp.Distances[0], resp.Metadatas[0]
	matches := make([]Match, len(ids))
	for i, id := range ids {
		matches[i] = Match{
			ID:       id,
			Score:    1 - distances[i], // Chroma cosine distance -> similarity
			Metadata: metadataFromMap(metas[i]),
		}
	}
	return matches, nil
}

type deleteRequest struct {
	IDs []string `json:"ids"`
}

// Delete removes the given message ids from the collection.
func (c *Client) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 || c.collectionID == "" {
		return nil
	}

	body, err := json.Marshal(deleteRequest{IDs: ids})
	if err != nil {
		return fmt.Errorf("marshal delete request: %w", err)
	}

	path := fmt.Sprintf("/collections/%s/delete", c.collectionID)
	if err := c.doJSON(ctx, http.MethodPost, path, body, nil); err != nil {
		return fmt.Errorf("delete %d ids: %w", len(ids), err)
	}
	return nil
}

// Truncate clears every vector in the collection; used by clear
// operations to preserve the dual-write invariant against the document
// store.
func (c *Client) Truncate(ctx context.Context) error {
	if c.collectionID == "" {
		return nil
	}
	path := fmt.Sprintf("/collections/%s", c.collectionID)
	if err := c.doJSON(ctx, http.MethodDelete, path, nil, nil); err != nil {
		return fmt.Errorf("truncate collection: %w", err)
	}
	return c.EnsureCollection(ctx)
}

// HealthCheck confirms the Chroma server is reachable.
func (c *Client) HealthCheck(ctx context.Context) error {
	return c.doJSON(ctx, http.MethodGet, "/heartbeat", nil, nil)
}

func (c *Client) doJSON(ctx context.Context, method, path string, body []byte, out any) error {
	var reader *bytes.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func truncateSnippet(s string) string {
	if len(s) <= snippetCap {
		return s
	}
	return s[:snippetCap]
}

func metadataFromMap(m map[string]any) Metadata {
	get := func(k string) string {
		if v, ok := m[k].(string); ok {
			return v
		}
		return ""
	}
	return Metadata{
		ConversationID: get("conversation_id"),
		Username:       get("username"),
		TS:             get("ts"),
		Snippet:        get("snippet"),
	}
}
