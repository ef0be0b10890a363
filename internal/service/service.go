package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/mxschmitt/pg-catalog/internal/catalog"
	"github.com/mxschmitt/pg-catalog/internal/config"
	"github.com/mxschmitt/pg-catalog/internal/metadata"
	"github.com/mxschmitt/pg-catalog/internal/retention"
	"github.com/mxschmitt/pg-catalog/internal/snapshot"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// ErrSnapshotRunning is returned when a snapshot is requested while one is in progress.
var ErrSnapshotRunning = errors.New("snapshot is already running")

// Store is the item repository contract.
type Store interface {
	Create(ctx context.Context, item catalog.Item) (catalog.Item, error)
	ListAll(ctx context.Context) ([]catalog.Item, error)
	Search(ctx context.Context, term string) ([]catalog.Item, error)
	GetByID(ctx context.Context, id int) (catalog.Item, bool, error)
	Update(ctx context.Context, id int, upd catalog.ItemUpdate) error
	Delete(ctx context.Context, id int) error
}

type Service struct {
	config      *config.Config
	logger      *zap.Logger
	store       Store
	snapshotter *snapshot.Snapshotter
	baseDir     string
	cron        *cron.Cron
	running     sync.Mutex
	background  sync.WaitGroup
	now         func() time.Time
}

func New(cfg *config.Config, store Store, logger *zap.Logger) (*Service, error) {
	// Ensure snapshot directory exists
	if err := os.MkdirAll(cfg.SnapshotDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create snapshot directory: %w", err)
	}

	s := &Service{
		config:  cfg,
		logger:  logger,
		store:   store,
		baseDir: cfg.SnapshotDir,
		now:     time.Now,
	}
	s.snapshotter = snapshot.New(store, logger, func() time.Time { return s.now() })

	if cfg.SnapshotCron == "" {
		logger.Info("Scheduled snapshots disabled")
		return s, nil
	}
	if err := s.setupScheduler(); err != nil {
		return nil, fmt.Errorf("failed to setup scheduler: %w", err)
	}

	return s, nil
}

func (s *Service) setupScheduler() error {
	cronExpr := s.config.SnapshotCron

	// Drop a leading seconds field (6 fields -> 5 fields)
	parts := strings.Fields(cronExpr)
	if len(parts) == 6 {
		cronExpr = strings.Join(parts[1:], " ")
	}

	loc, err := time.LoadLocation(s.config.TZ)
	if err != nil {
		s.logger.Warn("Invalid timezone, using UTC", zap.String("tz", s.config.TZ), zap.Error(err))
		loc = time.UTC
	}

	c := cron.New(cron.WithLocation(loc))
	_, err = c.AddFunc(cronExpr, func() {
		if _, err := s.RunSnapshot(context.Background()); err != nil {
			s.logger.Error("Scheduled snapshot failed", zap.Error(err))
		}
	})
	if err != nil {
		return fmt.Errorf("invalid cron expression: %w", err)
	}

	c.Start()
	s.cron = c

	s.logger.Info("Scheduled catalog snapshots",
		zap.String("cron", cronExpr),
		zap.String("timezone", loc.String()))

	return nil
}

// AddItem validates and stores a new item.
func (s *Service) AddItem(ctx context.Context, item catalog.Item) (catalog.Item, error) {
	item.ID = 0
	if err := item.Validate(s.now()); err != nil {
		return catalog.Item{}, err
	}

	created, err := s.store.Create(ctx, item)
	if err != nil {
		return catalog.Item{}, err
	}

	s.logger.Info("Item created", zap.Int("id", created.ID), zap.String("title", created.Title))
	return created, nil
}

func (s *Service) ListItems(ctx context.Context) ([]catalog.Item, error) {
	return s.store.ListAll(ctx)
}

func (s *Service) SearchItems(ctx context.Context, term string) ([]catalog.Item, error) {
	return s.store.Search(ctx, term)
}

// GetItem returns catalog.ErrNotFound for an unknown id.
func (s *Service) GetItem(ctx context.Context, id int) (catalog.Item, error) {
	item, found, err := s.store.GetByID(ctx, id)
	if err != nil {
		return catalog.Item{}, err
	}
	if !found {
		return catalog.Item{}, fmt.Errorf("%w: id %d", catalog.ErrNotFound, id)
	}
	return item, nil
}

// UpdateItem applies a partial update to an existing item and returns the stored
// result. Unlike the repository it reports unknown ids.
func (s *Service) UpdateItem(ctx context.Context, id int, upd catalog.ItemUpdate) (catalog.Item, error) {
	if upd.Empty() {
		return catalog.Item{}, catalog.ErrNoFields
	}
	if _, err := s.GetItem(ctx, id); err != nil {
		return catalog.Item{}, err
	}
	if err := s.store.Update(ctx, id, upd); err != nil {
		return catalog.Item{}, err
	}

	s.logger.Info("Item updated", zap.Int("id", id))
	return s.GetItem(ctx, id)
}

// DeleteItem removes an existing item. Unlike the repository it reports unknown ids.
func (s *Service) DeleteItem(ctx context.Context, id int) error {
	if _, err := s.GetItem(ctx, id); err != nil {
		return err
	}
	if err := s.store.Delete(ctx, id); err != nil {
		return err
	}

	s.logger.Info("Item deleted", zap.Int("id", id))
	return nil
}

// RunSnapshot exports the catalog into SnapshotDir/<date>/ and applies retention.
func (s *Service) RunSnapshot(ctx context.Context) (*metadata.LastRun, error) {
	if !s.running.TryLock() {
		return nil, ErrSnapshotRunning
	}
	defer s.running.Unlock()

	return s.runSnapshot(ctx)
}

// StartSnapshot claims the snapshot lock before returning and runs the snapshot
// in the background. It fails with ErrSnapshotRunning while another run holds it.
func (s *Service) StartSnapshot() error {
	if !s.running.TryLock() {
		return ErrSnapshotRunning
	}

	s.background.Add(1)
	go func() {
		defer s.background.Done()
		defer s.running.Unlock()

		if _, err := s.runSnapshot(context.Background()); err != nil {
			s.logger.Error("Background snapshot failed", zap.Error(err))
		}
	}()
	return nil
}

// runSnapshot expects the caller to hold s.running.
func (s *Service) runSnapshot(ctx context.Context) (*metadata.LastRun, error) {
	if err := metadata.WriteServiceStatus(s.baseDir, &metadata.ServiceStatus{Running: true}); err != nil {
		s.logger.Warn("Failed to write service status", zap.Error(err))
	}
	defer func() {
		_ = metadata.WriteServiceStatus(s.baseDir, &metadata.ServiceStatus{Running: false})
	}()

	now := s.now()
	snapshotDate := now.Format("2006-01-02")

	// Write into baseDir/.tmp first so a failed run never leaves partial files behind
	tempBaseDir := filepath.Join(s.baseDir, ".tmp")
	if err := os.MkdirAll(tempBaseDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create temp base directory: %w", err)
	}
	tempDir, err := os.MkdirTemp(tempBaseDir, "snapshot-"+snapshotDate+"-")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp directory: %w", err)
	}
	defer os.RemoveAll(tempDir)

	manifest, err := s.snapshotter.Create(ctx, tempDir, snapshotDate)
	if err != nil {
		return nil, fmt.Errorf("snapshot failed: %w", err)
	}

	run := &metadata.LastRun{
		RunID:      manifest.RunID,
		StartedAt:  manifest.StartedAt,
		FinishedAt: manifest.FinishedAt,
		DurationMs: manifest.DurationMs,
		Status:     manifest.Status,
		ItemCount:  manifest.ItemCount,
		Error:      manifest.Error,
	}

	if manifest.Status == snapshot.StatusSuccess {
		archive, err := s.moveIntoPlace(tempDir, snapshotDate, manifest.RunID)
		if err != nil {
			run.Status = snapshot.StatusFailed
			run.Error = err.Error()
		} else {
			run.Archive = archive
		}
	}

	deleted, err := retention.CleanupOldSnapshots(s.baseDir, s.config.RetentionDays, now)
	if err != nil {
		s.logger.Warn("Retention cleanup failed", zap.Error(err))
	}
	run.RetentionDeleted = deleted

	if err := metadata.WriteLastRun(s.baseDir, run); err != nil {
		s.logger.Warn("Failed to write last run", zap.Error(err))
	}

	s.logger.Info("Snapshot run finished",
		zap.String("run_id", run.RunID),
		zap.String("status", run.Status),
		zap.Int("items", run.ItemCount),
		zap.Int("retention_deleted", deleted))

	return run, nil
}

// moveIntoPlace moves archive and manifest from tempDir into baseDir/<date>/ and
// returns the archive path relative to baseDir.
func (s *Service) moveIntoPlace(tempDir, snapshotDate, runID string) (string, error) {
	dayDir := filepath.Join(s.baseDir, snapshotDate)
	if err := os.MkdirAll(dayDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create snapshot directory: %w", err)
	}

	for _, name := range []string{snapshot.ArchiveName(runID), snapshot.ManifestName(runID)} {
		if err := os.Rename(filepath.Join(tempDir, name), filepath.Join(dayDir, name)); err != nil {
			return "", fmt.Errorf("failed to move %s: %w", name, err)
		}
	}

	return filepath.Join(snapshotDate, snapshot.ArchiveName(runID)), nil
}

func (s *Service) GetLastSnapshot() (*metadata.LastRun, error) {
	return metadata.ReadLastRun(s.baseDir)
}

func (s *Service) GetRunning() (bool, error) {
	status, err := metadata.ReadServiceStatus(s.baseDir)
	if err != nil {
		return false, err
	}
	return status.Running, nil
}

func (s *Service) Shutdown(ctx context.Context) error {
	if s.cron != nil {
		cronCtx := s.cron.Stop()
		select {
		case <-cronCtx.Done():
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	done := make(chan struct{})
	go func() {
		s.background.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
