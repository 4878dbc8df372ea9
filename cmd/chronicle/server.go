package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/tkhr/chronicle/internal/app"
	"github.com/tkhr/chronicle/internal/artifact"
	"github.com/tkhr/chronicle/internal/capture"
	"github.com/tkhr/chronicle/internal/config"
	"github.com/tkhr/chronicle/internal/detect"
	"github.com/tkhr/chronicle/internal/gemini"
	"github.com/tkhr/chronicle/internal/image"
	"github.com/tkhr/chronicle/internal/pipeline"
	"github.com/tkhr/chronicle/internal/remote"
	"github.com/tkhr/chronicle/internal/repair"
	"github.com/tkhr/chronicle/internal/task"
	"github.com/tkhr/chronicle/internal/trace"
	"github.com/tkhr/chronicle/internal/web"
	"github.com/tkhr/chronicle/internal/whisper"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the chronicle daemon (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runDaemon()
	},
}

// daemon bundles everything the subcommands share, so `repair`, `sync`
// and `process` can reuse the daemon's wiring without its loop.
type daemon struct {
	cfg    config.Config
	layout artifact.Layout
	store  *task.Store
	stages *pipeline.Stages
	index  *remote.Index
	syncer *remote.Client
}

func buildDaemon() (*daemon, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	layout := artifact.NewLayout(cfg.Storage.DataDir)
	if err := layout.EnsureDirs(); err != nil {
		return nil, err
	}
	setupLogging(cfg, layout)

	index, err := remote.OpenIndex(cfg.Storage.DataDir)
	if err != nil {
		return nil, fmt.Errorf("opening sync index: %w", err)
	}

	traceLog := trace.NewLogger(filepath.Join(layout.Logs, "trace.jsonl"))
	return &daemon{
		cfg:    cfg,
		layout: layout,
		store:  task.NewStore(filepath.Join(cfg.Storage.DataDir, "tasks.json")),
		stages: pipeline.NewStages(layout, traceLog, slog.Default()),
		index:  index,
		syncer: remote.NewClient(cfg.Supabase, layout, index),
	}, nil
}

func (d *daemon) Close() error {
	return d.index.Close()
}

func (d *daemon) pipelineDeps() pipeline.Deps {
	whisperClient := whisper.New(d.cfg.Whisper.BaseURL)
	geminiClient := gemini.New(d.cfg.Gemini.APIKey, d.cfg.Gemini.Model, d.cfg.Gemini.NovelModel, d.cfg.Gemini.MaxOutputTokens)
	return pipeline.Deps{
		Transcriber: whisperClient,
		Diarizer:    whisperClient,
		Summarizer:  geminiClient,
		Prompts:     geminiClient,
		Images:      image.New(d.cfg.Image),
		Syncer:      d.syncer,
	}
}

func (d *daemon) engine() *pipeline.Engine {
	return pipeline.NewEngine(d.store, d.stages, d.pipelineDeps(), pipeline.Options{
		StrictPhotoTasks:    d.cfg.Pipeline.StrictPhotoTasks,
		ArchiveAfterProcess: d.cfg.Pipeline.ArchiveAfterProcess,
	}, slog.Default())
}

// repairAgent builds the repair pass with lazily constructed clients,
// so a pass over a clean tree touches none of the model services.
func (d *daemon) repairAgent() *repair.Agent {
	cfg := d.cfg
	clients := repair.Clients{
		Transcriber: func() pipeline.Transcriber { return whisper.New(cfg.Whisper.BaseURL) },
		Diarizer:    func() pipeline.Diarizer { return whisper.New(cfg.Whisper.BaseURL) },
		Summarizer: func() pipeline.Summarizer {
			return gemini.New(cfg.Gemini.APIKey, cfg.Gemini.Model, cfg.Gemini.NovelModel, cfg.Gemini.MaxOutputTokens)
		},
		Novelist: func() pipeline.Novelist {
			return gemini.New(cfg.Gemini.APIKey, cfg.Gemini.Model, cfg.Gemini.NovelModel, cfg.Gemini.MaxOutputTokens)
		},
		Prompts: func() pipeline.PromptExtractor {
			return gemini.New(cfg.Gemini.APIKey, cfg.Gemini.Model, cfg.Gemini.NovelModel, cfg.Gemini.MaxOutputTokens)
		},
		Images: func() pipeline.ImageGenerator { return image.New(cfg.Image) },
	}
	return repair.NewAgent(d.store, d.stages, clients, d.syncer, cfg.Pipeline.MaxAutoRepairs, slog.Default())
}

func runDaemon() error {
	fmt.Fprintf(os.Stderr, "chronicle version %s\n", version)

	d, err := buildDaemon()
	if err != nil {
		return err
	}
	defer d.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	recorder := capture.NewRecorder(d.cfg.Capture, d.layout.Recordings, capture.NewDeviceSource(d.cfg.Capture))
	detector := detect.NewProcessDetector(d.cfg.Detect.ProcessNames)

	handler := web.NewHandler(web.Deps{
		Layout:  d.layout,
		Tasks:   d.store,
		Capture: recorder,
	})

	addr := fmt.Sprintf("127.0.0.1:%d", d.cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: handler,
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("status api listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	loop := app.New(d.cfg.Loop, detector, recorder, d.store, d.engine(), d.repairAgent(), slog.Default())
	runErr := loop.Run(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("status api shutdown", "error", err)
	}
	if runErr != nil {
		return runErr
	}
	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("status api: %w", err)
		}
	default:
	}
	return nil
}

// setupLogging sends slog to stderr and the daemon log file, which the
// repair pass scans for crash signatures.
func setupLogging(cfg config.Config, layout artifact.Layout) {
	level := slog.LevelInfo
	if strings.EqualFold(cfg.Log.Level, "debug") {
		level = slog.LevelDebug
	}

	out := io.Writer(os.Stderr)
	if f, err := os.OpenFile(layout.LogFile(), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644); err == nil {
		out = io.MultiWriter(os.Stderr, f)
	} else {
		fmt.Fprintf(os.Stderr, "warning: opening log file: %v\n", err)
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(out, &slog.HandlerOptions{Level: level})))
}
