package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var restart bool

var startCmd = &cobra.Command{
	Use:   "start <job_id>",
	Short: "Start (or resume) an ingestion job",
	Args:  cobra.ExactArgs(1),
	RunE:  runStart,
}

func init() {
	startCmd.Flags().BoolVar(&restart, "restart", false, "send the request to the restart-import route, which the server handles like start")
}

func runStart(_ *cobra.Command, args []string) error {
	jobID := args[0]
	path := fmt.Sprintf("/admin/import/%s/start", jobID)
	if restart {
		path = fmt.Sprintf("/admin/restart-import/%s", jobID)
	}

	var out map[string]string
	if err := doJSON("POST", path, nil, &out); err != nil {
		return err
	}
	fmt.Printf("job %s: %s\n", out["job_id"], out["status"])
	return nil
}
