package search

import (
	"testing"
	"time"

	"github.com/connect-llm/slackcorpus/pkg/chroma"
)

func TestMinMaxNormaliseScalesToUnitRange(t *testing.T) {
	got := minMaxNormalise(map[string]float64{"a": 1, "b": 3, "c": 5})
	if got["a"] != 0 || got["c"] != 1 || got["b"] != 0.5 {
		t.Errorf("unexpected normalisation: %+v", got)
	}
}

func TestMinMaxNormaliseSingleCandidateIsOne(t *testing.T) {
	got := minMaxNormalise(map[string]float64{"only": 42})
	if got["only"] != 1 {
		t.Errorf("expected sole candidate to normalise to 1, got %v", got["only"])
	}
}

func TestMinMaxNormaliseEmptySetIsEmpty(t *testing.T) {
	got := minMaxNormalise(map[string]float64{})
	if len(got) != 0 {
		t.Errorf("expected empty map, got %+v", got)
	}
}

func TestCandidateKeyMatchesIndexerMessageIDFormat(t *testing.T) {
	ts := time.Date(2023, 6, 22, 15, 56, 54, 0, time.UTC)
	got := candidateKey("C01", ts, 3)
	want := "C01|" + ts.Format(time.RFC3339Nano) + "|3"
	if got != want {
		t.Errorf("candidateKey() = %q, want %q", got, want)
	}
}

func TestMessageFromVectorMatchParsesTimestamp(t *testing.T) {
	m := chroma.Match{
		ID:    "C01|x|0",
		Score: 0.9,
		Metadata: chroma.Metadata{
			ConversationID: "C01",
			Username:       "alice",
			TS:             "2023-06-22T15:56:54Z",
			Snippet:        "hello",
		},
	}
	msg := messageFromVectorMatch(m)
	want := time.Date(2023, 6, 22, 15, 56, 54, 0, time.UTC)
	if !msg.TS.Equal(want) {
		t.Errorf("expected ts %v, got %v", want, msg.TS)
	}
	if msg.ConversationID != "C01" || msg.User != "alice" || msg.Text != "hello" {
		t.Errorf("unexpected message: %+v", msg)
	}
}

func TestSearchEmptyQueryReturnsEmptyResultNotError(t *testing.T) {
	e := NewEngine(nil, nil, nil)
	results, err := e.Search(nil, "", 0.5, 10)
	if err != nil {
		t.Fatalf("expected no error for an empty query, got %v", err)
	}
	if results != nil {
		t.Errorf("expected nil results for an empty query, got %+v", results)
	}
}
