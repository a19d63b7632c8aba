package main

import (
	"fmt"
	"os"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/hackstrix/gpd/internal/runtimefile"
)

var reloadCmd = &cobra.Command{
	Use:   "reload",
	Short: "send a reload command to the running supervisor",
	RunE:  runReload,
}

func runReload(cmd *cobra.Command, args []string) error {
	if _, err := ipcPost("/reload"); err == nil {
		fmt.Println("reload acknowledged")
		return nil
	}

	wd, err := os.Getwd()
	if err != nil {
		return err
	}
	pid, err := runtimefile.ReadPid(wd)
	if err != nil {
		return fmt.Errorf("no running instance: %w", err)
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return err
	}
	if err := proc.Signal(syscall.SIGHUP); err != nil {
		return fmt.Errorf("signal failed: %w", err)
	}
	fmt.Println("reload signal sent")
	return nil
}
