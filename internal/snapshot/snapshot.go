package snapshot

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/mxschmitt/pg-catalog/internal/catalog"
	"go.uber.org/zap"
)

const (
	StatusSuccess = "success"
	StatusFailed  = "failed"

	itemsFile = "items.json"
)

// ItemLister is the read side of the item repository.
type ItemLister interface {
	ListAll(ctx context.Context) ([]catalog.Item, error)
}

type Snapshotter struct {
	source ItemLister
	logger *zap.Logger
	now    func() time.Time
}

// New returns a Snapshotter reading from source. A nil clock means time.Now.
func New(source ItemLister, logger *zap.Logger, now func() time.Time) *Snapshotter {
	if now == nil {
		now = time.Now
	}
	return &Snapshotter{
		source: source,
		logger: logger,
		now:    now,
	}
}

type Manifest struct {
	RunID      string `json:"run_id"`
	StartedAt  string `json:"started_at"`
	FinishedAt string `json:"finished_at"`
	DurationMs int64  `json:"duration_ms"`
	Status     string `json:"status"`
	ItemCount  int    `json:"item_count"`
	Files      []File `json:"files"`
	Error      string `json:"error,omitempty"`
}

type File struct {
	Name string `json:"name"`
	Size int64  `json:"size"`
}

// ArchiveName and ManifestName return the file names used for a run.
func ArchiveName(runID string) string  { return fmt.Sprintf("snapshot-%s.tar.gz", runID) }
func ManifestName(runID string) string { return fmt.Sprintf("manifest-%s.json", runID) }

// Create exports every item into outputDir as a gzipped tar holding items.json,
// next to a JSON manifest. A failed export is reported through the manifest
// status; the returned error is reserved for problems writing the manifest.
func (s *Snapshotter) Create(ctx context.Context, outputDir, snapshotDate string) (*Manifest, error) {
	startedAt := s.now()
	runID := fmt.Sprintf("%s-%s", snapshotDate, startedAt.Format("150405"))

	s.logger.Info("Starting snapshot", zap.String("run_id", runID))

	items, err := s.source.ListAll(ctx)
	if err != nil {
		s.logger.Error("Listing items failed", zap.String("run_id", runID), zap.Error(err))
		return s.failedManifest(runID, startedAt, fmt.Errorf("listing items failed: %w", err)), nil
	}

	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	archivePath := filepath.Join(outputDir, ArchiveName(runID))
	if err := writeArchive(archivePath, items, startedAt); err != nil {
		return s.failedManifest(runID, startedAt, fmt.Errorf("archive creation failed: %w", err)), nil
	}

	archiveInfo, err := os.Stat(archivePath)
	if err != nil {
		return s.failedManifest(runID, startedAt, fmt.Errorf("failed to stat archive: %w", err)), nil
	}

	finishedAt := s.now()
	manifest := &Manifest{
		RunID:      runID,
		StartedAt:  startedAt.Format(time.RFC3339),
		FinishedAt: finishedAt.Format(time.RFC3339),
		DurationMs: finishedAt.Sub(startedAt).Milliseconds(),
		Status:     StatusSuccess,
		ItemCount:  len(items),
		Files: []File{{
			Name: filepath.Base(archivePath),
			Size: archiveInfo.Size(),
		}},
	}

	if err := writeManifest(filepath.Join(outputDir, ManifestName(runID)), manifest); err != nil {
		return nil, err
	}

	s.logger.Info("Snapshot completed",
		zap.String("run_id", runID),
		zap.Int("items", len(items)),
		zap.Int64("size_bytes", archiveInfo.Size()))

	return manifest, nil
}

func writeArchive(archivePath string, items []catalog.Item, modTime time.Time) error {
	data, err := json.MarshalIndent(items, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal items: %w", err)
	}

	file, err := os.Create(archivePath)
	if err != nil {
		return fmt.Errorf("failed to create archive file: %w", err)
	}
	defer file.Close()

	gzw := gzip.NewWriter(file)
	tw := tar.NewWriter(gzw)

	header := &tar.Header{
		Name:    itemsFile,
		Mode:    0644,
		Size:    int64(len(data)),
		ModTime: modTime,
	}
	if err := tw.WriteHeader(header); err != nil {
		return fmt.Errorf("failed to write tar header: %w", err)
	}
	if _, err := tw.Write(data); err != nil {
		return fmt.Errorf("failed to write items to archive: %w", err)
	}

	if err := tw.Close(); err != nil {
		return fmt.Errorf("failed to finish tar stream: %w", err)
	}
	if err := gzw.Close(); err != nil {
		return fmt.Errorf("failed to finish gzip stream: %w", err)
	}
	return file.Close()
}

func writeManifest(path string, manifest *Manifest) error {
	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal manifest: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write manifest: %w", err)
	}
	return nil
}

func (s *Snapshotter) failedManifest(runID string, startedAt time.Time, err error) *Manifest {
	finishedAt := s.now()
	return &Manifest{
		RunID:      runID,
		StartedAt:  startedAt.Format(time.RFC3339),
		FinishedAt: finishedAt.Format(time.RFC3339),
		DurationMs: finishedAt.Sub(startedAt).Milliseconds(),
		Status:     StatusFailed,
		Error:      err.Error(),
	}
}
