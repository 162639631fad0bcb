package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	searchAlpha float64
	searchLimit int
)

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Run a hybrid lexical/vector search against the corpus",
	Args:  cobra.ExactArgs(1),
	RunE:  runSearch,
}

func init() {
	searchCmd.Flags().Float64Var(&searchAlpha, "alpha", 0.5, "hybrid fusion weight, 0 = lexical only, 1 = vector only")
	searchCmd.Flags().IntVar(&searchLimit, "limit", 20, "maximum number of results to return")
}

type searchRequest struct {
	Query       string  `json:"query"`
	HybridAlpha float64 `json:"hybrid_alpha"`
	Limit       int     `json:"limit,omitempty"`
}

type searchResult struct {
	ConversationID string  `json:"conversation_id"`
	Username       string  `json:"username,omitempty"`
	TS             string  `json:"ts"`
	Text           string  `json:"text"`
	FusedScore     float64 `json:"fused_score"`
	LexicalScore   float64 `json:"lexical_score"`
	VectorScore    float64 `json:"vector_score"`
	KeywordMatch   bool    `json:"keyword_match"`
	SemanticMatch  bool    `json:"semantic_match"`
}

type searchResponse struct {
	Results []searchResult `json:"results"`
	Count   int            `json:"count"`
}

func runSearch(_ *cobra.Command, args []string) error {
	req := searchRequest{
		Query:       args[0],
		HybridAlpha: searchAlpha,
		Limit:       searchLimit,
	}

	var resp searchResponse
	if err := doJSON("POST", "/api/v1/search", req, &resp); err != nil {
		return err
	}

	for i, r := range resp.Results {
		fmt.Printf("%2d. [%.4f] (lex=%.4f vec=%.4f) %s %s: %s\n",
			i+1, r.FusedScore, r.LexicalScore, r.VectorScore, r.TS, r.Username, r.Text)
	}
	fmt.Printf("\n%d result(s)\n", resp.Count)
	return nil
}
