package kbservice

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// SnapshotExporter periodically exports every live session's knowledge bank
// to a fixed directory on a cron schedule. Each session lands under its own
// subdirectory named after the session.
type SnapshotExporter struct {
	service  *Service
	dir      string
	schedule cron.Schedule
	logger   zerolog.Logger

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// NewSnapshotExporter parses expr as a standard five field cron expression
// and returns a stopped exporter.
func NewSnapshotExporter(service *Service, dir, expr string, logger zerolog.Logger) (*SnapshotExporter, error) {
	if dir == "" {
		return nil, fmt.Errorf("snapshot directory is empty")
	}
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	schedule, err := parser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid cron expression: %w", err)
	}
	return &SnapshotExporter{
		service:  service,
		dir:      dir,
		schedule: schedule,
		logger:   logger.With().Str("component", "snapshot-exporter").Logger(),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}, nil
}

// Start launches the export loop in its own goroutine.
func (e *SnapshotExporter) Start() {
	go e.run()
}

// Stop halts the export loop and waits for it to finish.
func (e *SnapshotExporter) Stop() {
	e.stopOnce.Do(func() { close(e.stop) })
	<-e.done
}

func (e *SnapshotExporter) run() {
	defer close(e.done)
	for {
		next := e.schedule.Next(time.Now())
		timer := time.NewTimer(time.Until(next))
		select {
		case <-e.stop:
			timer.Stop()
			return
		case <-timer.C:
			e.ExportAll()
		}
	}
}

// ExportAll exports every live session once. Failures are logged per session
// and never stop the remaining exports.
func (e *SnapshotExporter) ExportAll() {
	for _, handle := range e.service.SessionHandles() {
		req, err := ParseSessionHandle(handle)
		if err != nil {
			e.logger.Error().Err(err).Msg("Skipping session with malformed handle")
			continue
		}
		metaPath, err := e.service.Export(handle, filepath.Join(e.dir, req.Name))
		if err != nil {
			e.logger.Error().Str("session", req.Name).Err(err).Msg("Snapshot export failed")
			continue
		}
		e.logger.Info().Str("session", req.Name).Str("path", metaPath).Msg("Snapshot exported")
	}
}
