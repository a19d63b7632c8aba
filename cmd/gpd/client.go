package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/hackstrix/gpd/internal/runtimefile"
	"github.com/hackstrix/gpd/internal/supervisor"
)

var ipcClient = &http.Client{Timeout: 3 * time.Second}

// ipcPost posts to the running master's loopback IPC surface and returns
// its JSON command acknowledgement. Returns an error if no instance is
// running or the request fails — callers fall back to signals.
func ipcPost(path string) (map[string]interface{}, error) {
	wd, err := os.Getwd()
	if err != nil {
		return nil, err
	}
	port, err := runtimefile.ReadPortFile(wd)
	if err != nil {
		return nil, fmt.Errorf("no running instance: %w", err)
	}

	url := fmt.Sprintf("http://127.0.0.1:%d%s", port, path)
	resp, err := ipcClient.Post(url, "application/json", nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var body map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return body, fmt.Errorf("ipc returned status %d", resp.StatusCode)
	}
	return body, nil
}

func ipcStatus() (*supervisor.RuntimeStatus, error) {
	wd, err := os.Getwd()
	if err != nil {
		return nil, err
	}
	port, err := runtimefile.ReadPortFile(wd)
	if err != nil {
		return nil, fmt.Errorf("no running instance: %w", err)
	}

	url := fmt.Sprintf("http://127.0.0.1:%d/status", port)
	resp, err := ipcClient.Get(url)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var status supervisor.RuntimeStatus
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return nil, err
	}
	return &status, nil
}
