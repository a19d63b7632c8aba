package main

import (
	"fmt"
	"os"
	"runtime"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/hackstrix/gpd/internal/controlplane"
	"github.com/hackstrix/gpd/internal/daemonize"
	"github.com/hackstrix/gpd/internal/ipc"
	"github.com/hackstrix/gpd/internal/logging"
	"github.com/hackstrix/gpd/internal/supervisor"
)

var startCmd = &cobra.Command{
	Use:   "start <appFile>",
	Short: "run the supervisor in the foreground, or detached with --daemon",
	Args:  cobra.ExactArgs(1),
	RunE:  runStart,
}

func init() {
	startCmd.Flags().Int("workers", 0, "number of workers (default: GPDD_WORKERS or host CPU count)")
	startCmd.Flags().String("ready-url", "", "URL a new worker must answer before it's considered ready")
	startCmd.Flags().String("health-url", "", "URL periodically probed for liveness")
	startCmd.Flags().Int("health-interval", 0, "liveness probe interval in ms (default: 5000)")
	startCmd.Flags().Int("health-threshold", 0, "consecutive liveness failures before the worker is killed (default: 3)")
	startCmd.Flags().Bool("daemon", false, "detach into the background, logging to gpd.log")
}

func runStart(cmd *cobra.Command, args []string) error {
	appFile := args[0]

	daemon, _ := cmd.Flags().GetBool("daemon")
	if daemon {
		if err := daemonize.Daemonize("gpd.log"); err != nil {
			return fmt.Errorf("daemonize: %w", err)
		}
		// Daemonize exits the parent; unreachable in the child's own re-exec.
	}

	workers, _ := cmd.Flags().GetInt("workers")
	if workers <= 0 {
		workers = envInt("GPDD_WORKERS", 0)
	}
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	readyURL, _ := cmd.Flags().GetString("ready-url")
	if readyURL == "" {
		readyURL = os.Getenv("GPDD_READY_URL")
	}
	healthURL, _ := cmd.Flags().GetString("health-url")
	if healthURL == "" {
		healthURL = os.Getenv("GPDD_HEALTH_URL")
	}
	healthInterval, _ := cmd.Flags().GetInt("health-interval")
	if healthInterval <= 0 {
		healthInterval = envInt("GPDD_HEALTH_INTERVAL", 5000)
	}
	healthThreshold, _ := cmd.Flags().GetInt("health-threshold")
	if healthThreshold <= 0 {
		healthThreshold = envInt("GPDD_HEALTH_THRESHOLD", 3)
	}

	graceTimeout := envInt("GPDD_GRACE_TIMEOUT", 30000)
	readyTimeout := envInt("GPDD_READY_TIMEOUT", 10000)
	ipcPort := envInt("GPDD_IPC_PORT", 0)

	wd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("resolve working directory: %w", err)
	}

	log := logging.Component(logging.New(), "supervisor")

	sup := supervisor.New(appFile, supervisor.Options{
		NumWorkers:      workers,
		ReadyURL:        readyURL,
		HealthURL:       healthURL,
		HealthInterval:  time.Duration(healthInterval) * time.Millisecond,
		HealthThreshold: healthThreshold,
		GraceTimeout:    time.Duration(graceTimeout) * time.Millisecond,
		ReadyTimeout:    time.Duration(readyTimeout) * time.Millisecond,
		WorkingDir:      wd,
		Logger:          &log,
	})

	if err := sup.Start(); err != nil {
		return fmt.Errorf("start: %w", err)
	}

	ipcLog := logging.Component(logging.New(), "ipc")
	ipcSrv := ipc.New(sup, ipcLog)
	if _, err := ipcSrv.Start(wd, ipcPort); err != nil {
		return fmt.Errorf("ipc surface: %w", err)
	}

	cpLog := logging.Component(logging.New(), "control-plane")
	adapter := controlplane.New(sup, cpLog)
	go adapter.Run()

	err = sup.Wait()
	adapter.Stop()
	_ = ipcSrv.Close()
	if err != nil {
		return fmt.Errorf("supervisor exited with error: %w", err)
	}
	return nil
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
