package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var clearAll bool

var clearCmd = &cobra.Command{
	Use:   "clear [target...]",
	Short: "Clear targets (messages, embeddings, uploads), or everything with --all",
	RunE:  runClear,
}

func init() {
	clearCmd.Flags().BoolVar(&clearAll, "all", false, "truncate the document store, vector store, and job store entirely")
}

type clearRequest struct {
	Targets []string `json:"targets"`
}

func runClear(_ *cobra.Command, args []string) error {
	if clearAll {
		var out map[string]string
		if err := doJSON("POST", "/admin/clear-all", nil, &out); err != nil {
			return err
		}
		fmt.Println(out["status"])
		return nil
	}

	if len(args) == 0 {
		return fmt.Errorf("specify at least one target (messages, embeddings, uploads) or pass --all")
	}

	var out map[string][]string
	if err := doJSON("POST", "/admin/clear", clearRequest{Targets: args}, &out); err != nil {
		return err
	}
	fmt.Printf("cleared: %v\n", out["cleared"])
	return nil
}
