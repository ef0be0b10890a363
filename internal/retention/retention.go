package retention

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

const dateLayout = "2006-01-02"

// CleanupOldSnapshots removes the YYYY-MM-DD directories under baseDir that are
// older than retentionDays. Other entries are left alone. A non-positive
// retention keeps everything.
func CleanupOldSnapshots(baseDir string, retentionDays int, now time.Time) (int, error) {
	if retentionDays <= 0 {
		return 0, nil
	}

	entries, err := os.ReadDir(baseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to read snapshot directory: %w", err)
	}

	y, m, d := now.Date()
	cutoff := time.Date(y, m, d, 0, 0, 0, 0, time.UTC).AddDate(0, 0, -retentionDays)

	var deleted int
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		day, err := time.Parse(dateLayout, entry.Name())
		if err != nil || !day.Before(cutoff) {
			continue
		}

		dirPath := filepath.Join(baseDir, entry.Name())
		if err := os.RemoveAll(dirPath); err != nil {
			return deleted, fmt.Errorf("failed to delete directory %s: %w", dirPath, err)
		}
		deleted++
	}

	return deleted, nil
}
