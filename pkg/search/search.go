// Package search implements the hybrid lexical/vector retrieval engine:
// fused ranking over a MongoDB full-text leg (pkg/docstore) and a Chroma
// k-NN leg (pkg/chroma).
package search

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/connect-llm/slackcorpus/pkg/chroma"
	"github.com/connect-llm/slackcorpus/pkg/docstore"
	"github.com/connect-llm/slackcorpus/pkg/embeddings"
	"github.com/connect-llm/slackcorpus/pkg/slackmodel"
)

// Result is one ranked hit, annotated with which leg(s) contributed.
type Result struct {
	Message       slackmodel.Message
	FusedScore    float64
	LexicalScore  float64
	VectorScore   float64
	KeywordMatch  bool
	SemanticMatch bool
}

// Engine fuses lexical and vector candidates. It is stateless; result
// consistency depends entirely on the indexer's dual-write discipline.
type Engine struct {
	docs     *docstore.Store
	vectors  *chroma.Client
	embedder *embeddings.Embedder
}

// NewEngine builds a search Engine over the given stores.
func NewEngine(docs *docstore.Store, vectors *chroma.Client, embedder *embeddings.Embedder) *Engine {
	return &Engine{docs: docs, vectors: vectors, embedder: embedder}
}

// Search runs the fusion algorithm: top-2K lexical and top-2K vector
// candidates, min-max normalised independently, fused by
// (1-alpha)*s_L + alpha*s_V, tie-broken by ts desc then conversation id,
// truncated to the top limit results.
func (e *Engine) Search(ctx context.Context, query string, alpha float64, limit int) ([]Result, error) {
	if query == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = 10
	}
	if alpha < 0 {
		alpha = 0
	}
	if alpha > 1 {
		alpha = 1
	}

	candidateCap := limit * 2

	lexical, err := e.docs.TextSearch(ctx, query, candidateCap)
	if err != nil {
		return nil, fmt.Errorf("lexical search: %w", err)
	}

	var vectorMatches []chroma.Match
	if alpha > 0 {
		vec, err := e.embedder.Embed(ctx, query)
		if err != nil {
			return nil, fmt.Errorf("embed query: %w", err)
		}
		vectorMatches, err = e.vectors.Query(ctx, vec, candidateCap)
		if err != nil {
			return nil, fmt.Errorf("vector search: %w", err)
		}
	}

	lexByKey := make(map[string]float64, len(lexical))
	messageByKey := make(map[string]slackmodel.Message, len(lexical)+len(vectorMatches))
	for _, lm := range lexical {
		key := candidateKey(lm.Message.ConversationID, lm.Message.TS, lm.Message.Ordinal)
		lexByKey[key] = lm.Score
		messageByKey[key] = lm.Message
	}

	vecByKey := make(map[string]float64, len(vectorMatches))
	for _, vm := range vectorMatches {
		key := vm.ID
		vecByKey[key] = vm.Score
		if _, ok := messageByKey[key]; !ok {
			messageByKey[key] = messageFromVectorMatch(vm)
		}
	}

	lexNorm := minMaxNormalise(lexByKey)
	vecNorm := minMaxNormalise(vecByKey)

	keys := make(map[string]bool, len(messageByKey))
	for k := range lexByKey {
		keys[k] = true
	}
	for k := range vecByKey {
		keys[k] = true
	}

	results := make([]Result, 0, len(keys))
	for key := range keys {
		sL, hasLexical := lexNorm[key]
		sV, hasVector := vecNorm[key]
		fused := (1-alpha)*sL + alpha*sV
		results = append(results, Result{
			Message:       messageByKey[key],
			FusedScore:    fused,
			LexicalScore:  sL,
			VectorScore:   sV,
			KeywordMatch:  hasLexical,
			SemanticMatch: hasVector,
		})
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].FusedScore != results[j].FusedScore {
			return results[i].FusedScore > results[j].FusedScore
		}
		if !results[i].Message.TS.Equal(results[j].Message.TS) {
			return results[i].Message.TS.After(results[j].Message.TS)
		}
		return results[i].Message.ConversationID < results[j].Message.ConversationID
	})

	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// candidateKey matches the document store's (conversation_id, ts, ordinal)
// identity triple, the same identity the indexer keys vector records by
// (see indexer.messageID), so lexical and vector candidates referring to
// the same message collapse onto one Result.
func candidateKey(conversationID string, ts time.Time, ordinal int) string {
	return fmt.Sprintf("%s|%s|%d", conversationID, ts.Format(time.RFC3339Nano), ordinal)
}

// minMaxNormalise scales scores into [0,1] over their own candidate set.
// A single-candidate (or empty) set normalises every present score to 1,
// since there is no spread to measure.
func minMaxNormalise(scores map[string]float64) map[string]float64 {
	if len(scores) == 0 {
		return map[string]float64{}
	}

	min, max := minMax(scores)
	out := make(map[string]float64, len(scores))
	if max == min {
		for k := range scores {
			out[k] = 1
		}
		return out
	}
	for k, v := range scores {
		out[k] = (v - min) / (max - min)
	}
	return out
}

func minMax(scores map[string]float64) (float64, float64) {
	first := true
	var min, max float64
	for _, v := range scores {
		if first {
			min, max = v, v
			first = false
			continue
		}
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
	}
	return min, max
}

func messageFromVectorMatch(m chroma.Match) slackmodel.Message {
	ts, _ := time.Parse(time.RFC3339, m.Metadata.TS)
	return slackmodel.Message{
		ConversationID: m.Metadata.ConversationID,
		User:           m.Metadata.Username,
		TS:             ts,
		Text:           m.Metadata.Snippet,
	}
}
