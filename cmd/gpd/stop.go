package main

import (
	"fmt"
	"os"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/hackstrix/gpd/internal/runtimefile"
)

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "stop the running supervisor, waiting for a clean exit",
	RunE:  runStop,
}

func runStop(cmd *cobra.Command, args []string) error {
	wd, err := os.Getwd()
	if err != nil {
		return err
	}

	if _, err := ipcPost("/stop"); err == nil {
		fmt.Println("stop acknowledged")
		if err := waitForExit(wd, 30*time.Second); err != nil {
			killByPidFile(wd)
			return fmt.Errorf("timed out waiting for exit, force-killed: %w", err)
		}
		return nil
	}

	pid, err := runtimefile.ReadPid(wd)
	if err != nil {
		return fmt.Errorf("no running instance: %w", err)
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return err
	}
	if err := proc.Signal(syscall.SIGTERM); err != nil {
		return fmt.Errorf("signal failed: %w", err)
	}
	fmt.Println("terminate signal sent, waiting for exit")

	if err := waitForExit(wd, 30*time.Second); err != nil {
		_ = proc.Signal(syscall.SIGKILL)
		return fmt.Errorf("timed out waiting for exit, force-killed: %w", err)
	}
	return nil
}

// killByPidFile best-effort SIGKILLs the process named in the pid file. Used
// on the IPC-stop path, where runStop never held a Process handle of its own
// the way the signal-fallback path does.
func killByPidFile(wd string) {
	pid, err := runtimefile.ReadPid(wd)
	if err != nil {
		return
	}
	if proc, err := os.FindProcess(pid); err == nil {
		_ = proc.Signal(syscall.SIGKILL)
	}
}

// waitForExit polls the pid file's reclaimability until it's gone or dead,
// returning an error if neither happens within timeout.
func waitForExit(wd string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		pid, err := runtimefile.ReadPid(wd)
		if err != nil {
			return nil // pid file removed: clean exit observed
		}
		proc, err := os.FindProcess(pid)
		if err != nil || proc.Signal(syscall.Signal(0)) != nil {
			return nil
		}
		time.Sleep(200 * time.Millisecond)
	}
	return fmt.Errorf("timeout")
}
