package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/alanyoungcy/agentmarket/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubArchiver struct {
	months []time.Time
	err    error
}

func (a *stubArchiver) ArchiveMonth(_ context.Context, month time.Time) (domain.ArchiveResult, error) {
	a.months = append(a.months, month)
	return domain.ArchiveResult{Month: month}, a.err
}

func TestArchivePreviousMonth(t *testing.T) {
	arch := &stubArchiver{}
	svc := NewArchiveService(arch, slog.New(slog.NewTextHandler(io.Discard, nil)))
	svc.now = func() time.Time { return time.Date(2026, 1, 1, 2, 0, 0, 0, time.UTC) }

	res, err := svc.ArchivePreviousMonth(context.Background())
	require.NoError(t, err)
	want := time.Date(2025, 12, 1, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, []time.Time{want}, arch.months)
	assert.Equal(t, want, res.Month)
}

func TestArchiveMonthWrapsErrors(t *testing.T) {
	arch := &stubArchiver{err: errors.New("bucket gone")}
	svc := NewArchiveService(arch, slog.New(slog.NewTextHandler(io.Discard, nil)))

	_, err := svc.ArchiveMonth(context.Background(), time.Date(2026, 2, 10, 0, 0, 0, 0, time.UTC))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "2026-02")
	assert.Contains(t, err.Error(), "bucket gone")
}
