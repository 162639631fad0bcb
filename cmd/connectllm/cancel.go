package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var cancelCmd = &cobra.Command{
	Use:   "cancel <job_id>",
	Short: "Request cancellation of a running ingestion job",
	Args:  cobra.ExactArgs(1),
	RunE:  runCancel,
}

func runCancel(_ *cobra.Command, args []string) error {
	jobID := args[0]
	var out map[string]string
	if err := doJSON("POST", fmt.Sprintf("/admin/import/%s/cancel", jobID), nil, &out); err != nil {
		return err
	}
	fmt.Printf("job %s: %s\n", out["job_id"], out["status"])
	return nil
}
