package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/tkhr/chronicle/internal/artifact"
	"github.com/tkhr/chronicle/internal/config"
	"github.com/tkhr/chronicle/internal/mcp"
	"github.com/tkhr/chronicle/internal/task"
)

// --- repair ---

var repairCmd = &cobra.Command{
	Use:   "repair",
	Short: "Run one repair pass over the task queue and artifact tree",
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := buildDaemon()
		if err != nil {
			return err
		}
		defer d.Close()

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := d.repairAgent().Run(ctx); err != nil {
			return err
		}

		// The repair pass may have re-queued tasks; drain them now so a
		// manual repair leaves nothing pending.
		if err := d.engine().Work(ctx); err != nil {
			return err
		}
		printSuccess("Repair pass complete")
		return nil
	},
}

// --- process ---

var processCmd = &cobra.Command{
	Use:   "process",
	Short: "Queue recordings for processing and run the pipeline once",
	Long: `Queue recordings for processing and run the pipeline once.

Examples:
  chronicle process --file recordings/20250101_100000.wav
  chronicle process --file a.wav --file b.wav`,
	RunE: func(cmd *cobra.Command, args []string) error {
		files, _ := cmd.Flags().GetStringArray("file")
		if len(files) == 0 {
			return fmt.Errorf("at least one --file is required")
		}
		for _, f := range files {
			if _, err := os.Stat(f); err != nil {
				return fmt.Errorf("recording %s: %w", f, err)
			}
		}

		d, err := buildDaemon()
		if err != nil {
			return err
		}
		defer d.Close()

		abs := make([]string, len(files))
		for i, f := range files {
			p, err := filepath.Abs(f)
			if err != nil {
				return err
			}
			abs[i] = p
		}

		added, err := d.store.Add(task.Task{
			Type:      task.TypeProcessSession,
			FilePaths: abs,
			Date:      artifact.DateOf(abs[0]),
		})
		if err != nil {
			return err
		}
		printStep("Queued task %s (%d recordings)", added.ID, len(abs))

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := d.engine().Work(ctx); err != nil {
			return err
		}

		final, err := taskByID(d.store, added.ID)
		if err != nil {
			return err
		}
		if final.Status != task.StatusCompleted {
			return fmt.Errorf("task %s ended %s: %s", final.ID, final.Status, final.Error)
		}
		printSuccess("Processed %d recordings", len(abs))
		return nil
	},
}

func taskByID(store *task.Store, id string) (task.Task, error) {
	all, err := store.All()
	if err != nil {
		return task.Task{}, err
	}
	for _, t := range all {
		if t.ID == id {
			return t, nil
		}
	}
	return task.Task{}, fmt.Errorf("task %s not found", id)
}

func init() {
	processCmd.Flags().StringArray("file", nil, "recording file to process (repeatable)")
}

// --- sync ---

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Push changed summaries and chapters to the remote store",
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := buildDaemon()
		if err != nil {
			return err
		}
		defer d.Close()

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := d.syncer.Sync(ctx); err != nil {
			return err
		}
		printSuccess("Sync complete")
		return nil
	},
}

// --- status ---

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show daemon and pipeline status",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		client := &http.Client{Timeout: 2 * time.Second}
		url := fmt.Sprintf("http://127.0.0.1:%d/api/status", cfg.Server.Port)
		resp, err := client.Get(url)
		if err != nil {
			printWarning("Daemon not reachable on port %d", cfg.Server.Port)
			return showOfflineStatus(cfg)
		}
		defer resp.Body.Close()

		var status struct {
			Capturing      bool           `json:"capturing"`
			TaskCounts     map[string]int `json:"task_counts"`
			ArtifactCounts map[string]int `json:"artifact_counts"`
			Dates          int            `json:"dates"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
			return fmt.Errorf("decoding status: %w", err)
		}

		printStatus("Daemon", "running")
		printStatus("Capturing", "%t", status.Capturing)
		printStatus("Diary dates", "%d", status.Dates)
		for st, n := range status.TaskCounts {
			printStatus("Tasks "+st, "%d", n)
		}
		for stage, n := range status.ArtifactCounts {
			printStatus("Artifacts "+stage, "%d", n)
		}
		printStatus("Data dir", "%s", cfg.Storage.DataDir)
		return nil
	},
}

// showOfflineStatus reads the queue file directly when no daemon runs.
func showOfflineStatus(cfg config.Config) error {
	store := task.NewStore(filepath.Join(cfg.Storage.DataDir, "tasks.json"))
	tasks, err := store.All()
	if err != nil {
		return err
	}
	counts := map[string]int{}
	for _, t := range tasks {
		counts[t.Status]++
	}

	printStatus("Daemon", "stopped")
	for st, n := range counts {
		printStatus("Tasks "+st, "%d", n)
	}
	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	return nil
}

// --- mcp ---

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve diary tools over the Model Context Protocol on stdio",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		layout := artifact.NewLayout(cfg.Storage.DataDir)
		store := task.NewStore(filepath.Join(cfg.Storage.DataDir, "tasks.json"))

		return mcp.ServeStdio(mcp.NewServer(mcp.Deps{
			Layout: layout,
			Tasks:  store,
		}))
	},
}
