package metadata

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

const (
	dirName     = "metadata"
	lastRunFile = "last_snapshot.json"
	runningFile = "running.json"
)

// LastRun summarises the most recent snapshot run.
type LastRun struct {
	RunID            string `json:"run_id"`
	StartedAt        string `json:"started_at"`
	FinishedAt       string `json:"finished_at"`
	DurationMs       int64  `json:"duration_ms"`
	Status           string `json:"status"`
	ItemCount        int    `json:"item_count"`
	Archive          string `json:"archive,omitempty"`
	Error            string `json:"error,omitempty"`
	RetentionDeleted int    `json:"retention_deleted"`
}

type ServiceStatus struct {
	Running bool `json:"running"`
}

// ReadLastRun returns nil, nil when no snapshot has run yet.
func ReadLastRun(baseDir string) (*LastRun, error) {
	var run LastRun
	found, err := readJSON(filepath.Join(baseDir, dirName, lastRunFile), &run)
	if err != nil {
		return nil, fmt.Errorf("failed to read last run: %w", err)
	}
	if !found {
		return nil, nil
	}
	return &run, nil
}

func WriteLastRun(baseDir string, run *LastRun) error {
	if err := writeJSON(baseDir, lastRunFile, run); err != nil {
		return fmt.Errorf("failed to write last run: %w", err)
	}
	return nil
}

func ReadServiceStatus(baseDir string) (*ServiceStatus, error) {
	var status ServiceStatus
	if _, err := readJSON(filepath.Join(baseDir, dirName, runningFile), &status); err != nil {
		return nil, fmt.Errorf("failed to read service status: %w", err)
	}
	return &status, nil
}

func WriteServiceStatus(baseDir string, status *ServiceStatus) error {
	if err := writeJSON(baseDir, runningFile, status); err != nil {
		return fmt.Errorf("failed to write service status: %w", err)
	}
	return nil
}

func readJSON(path string, v any) (bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, err
	}
	return true, nil
}

func writeJSON(baseDir, name string, v any) error {
	dir := filepath.Join(baseDir, dirName)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, name), data, 0644)
}
