package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "print the running supervisor's RuntimeStatus",
	RunE:  runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	status, err := ipcStatus()
	if err != nil {
		fmt.Println("no running instance")
		return nil
	}

	out, err := json.MarshalIndent(status, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}
