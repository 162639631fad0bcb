package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status [job_id]",
	Short: "Show the status of one job, or all jobs if none is given",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runStatus,
}

func runStatus(_ *cobra.Command, args []string) error {
	var raw json.RawMessage
	if len(args) == 1 {
		if err := doJSON("GET", fmt.Sprintf("/admin/import/%s/status", args[0]), nil, &raw); err != nil {
			return err
		}
	} else {
		if err := doJSON("GET", "/admin/import-status", nil, &raw); err != nil {
			return err
		}
	}

	pretty, err := json.MarshalIndent(raw, "", "  ")
	if err != nil {
		return fmt.Errorf("format response: %w", err)
	}
	fmt.Println(string(pretty))
	return nil
}
