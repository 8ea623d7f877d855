package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/agentmarket/internal/domain"
)

// ArchiveService drives the monthly ledger export.
type ArchiveService struct {
	archiver domain.Archiver
	logger   *slog.Logger
	now      func() time.Time
}

// NewArchiveService creates an ArchiveService.
func NewArchiveService(archiver domain.Archiver, logger *slog.Logger) *ArchiveService {
	return &ArchiveService{
		archiver: archiver,
		logger:   logger.With(slog.String("component", "archive_service")),
		now:      nowUTC,
	}
}

// ArchivePreviousMonth exports the last complete calendar month.
func (s *ArchiveService) ArchivePreviousMonth(ctx context.Context) (domain.ArchiveResult, error) {
	now := s.now()
	prev := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, -1, 0)
	return s.ArchiveMonth(ctx, prev)
}

// ArchiveMonth exports the calendar month containing month.
func (s *ArchiveService) ArchiveMonth(ctx context.Context, month time.Time) (domain.ArchiveResult, error) {
	res, err := s.archiver.ArchiveMonth(ctx, month)
	if err != nil {
		return res, fmt.Errorf("archive_service: %s: %w", month.Format("2006-01"), err)
	}
	s.logger.InfoContext(ctx, "ledger month archived",
		slog.String("month", res.Month.Format("2006-01")),
		slog.Int64("trades", res.Trades),
		slog.Int64("resolutions", res.Resolutions),
		slog.Int("skipped", len(res.Skipped)),
	)
	return res, nil
}
