// Package app runs the daemon loop: watch for the target process,
// record while it runs, queue a pipeline task when it exits, and give
// the engine and the repair agent their turns. Unexpected errors
// propagate out of Run; the process exits and a supervisor restart
// plus the next repair pass recover whatever was in flight.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/tkhr/chronicle/internal/capture"
	"github.com/tkhr/chronicle/internal/config"
	"github.com/tkhr/chronicle/internal/task"
)

type Detector interface {
	IsRunning() bool
}

type Recorder interface {
	Recording() bool
	Start() (string, error)
	Stop() *capture.Session
}

type Worker interface {
	Work(ctx context.Context) error
}

type Repairer interface {
	Run(ctx context.Context) error
}

type TaskAdder interface {
	Add(t task.Task) (task.Task, error)
}

type App struct {
	cfg      config.LoopConfig
	detector Detector
	recorder Recorder
	store    TaskAdder
	engine   Worker
	repairer Repairer
	logger   *slog.Logger

	now        func() time.Time
	lastRepair time.Time
}

func New(cfg config.LoopConfig, detector Detector, recorder Recorder, store TaskAdder, engine Worker, repairer Repairer, logger *slog.Logger) *App {
	if logger == nil {
		logger = slog.Default()
	}
	return &App{
		cfg:      cfg,
		detector: detector,
		recorder: recorder,
		store:    store,
		engine:   engine,
		repairer: repairer,
		logger:   logger,
		now:      time.Now,
	}
}

// Run blocks until ctx is canceled or an unexpected error occurs. A
// repair pass runs at startup, then every RepairInterval; detection,
// capture edges, and engine work run every CheckInterval.
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("daemon starting", "check_interval", a.cfg.CheckInterval, "repair_interval", a.cfg.RepairInterval)

	if err := a.repairer.Run(ctx); err != nil {
		return fmt.Errorf("startup repair pass: %w", err)
	}
	a.lastRepair = a.now()

	ticker := time.NewTicker(a.cfg.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return a.shutdown()
		case <-ticker.C:
			if err := a.tick(ctx); err != nil {
				return err
			}
		}
	}
}

func (a *App) tick(ctx context.Context) error {
	running := a.detector.IsRunning()

	switch {
	case running && !a.recorder.Recording():
		path, err := a.recorder.Start()
		if err != nil {
			return fmt.Errorf("starting capture: %w", err)
		}
		a.logger.Info("capture started", "segment", path)
	case !running && a.recorder.Recording():
		if err := a.stopAndEnqueue(); err != nil {
			return err
		}
	}

	if err := a.engine.Work(ctx); err != nil {
		return fmt.Errorf("engine pass: %w", err)
	}

	if a.now().Sub(a.lastRepair) >= a.cfg.RepairInterval {
		if err := a.repairer.Run(ctx); err != nil {
			return fmt.Errorf("repair pass: %w", err)
		}
		a.lastRepair = a.now()
	}
	return nil
}

func (a *App) stopAndEnqueue() error {
	sess := a.recorder.Stop()
	if sess == nil {
		a.logger.Info("session ended with no voiced audio, nothing queued")
		return nil
	}

	added, err := a.store.Add(task.Task{
		Type:      task.TypeProcessSession,
		FilePaths: sess.FilePaths,
		StartTime: sess.StartTime.Format("20060102_150405"),
		Date:      sess.Date(),
	})
	if err != nil {
		return fmt.Errorf("queueing session task: %w", err)
	}
	a.logger.Info("session task queued", "task", added.ID, "segments", len(sess.FilePaths), "date", sess.Date())
	return nil
}

// shutdown closes an in-flight session so its recordings are queued
// before the process exits.
func (a *App) shutdown() error {
	if !a.recorder.Recording() {
		return nil
	}
	a.logger.Info("shutting down with active capture, closing session")
	return a.stopAndEnqueue()
}
