// Package config builds the process-wide configuration value. It is
// constructed once in the CLI entry point and handed to every component;
// nothing in the repository reads settings through a package global.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

type Config struct {
	Loop     LoopConfig
	Detect   DetectConfig
	Capture  CaptureConfig
	Storage  StorageConfig
	Whisper  WhisperConfig
	Gemini   GeminiConfig
	Image    ImageConfig
	Supabase SupabaseConfig
	Pipeline PipelineConfig
	Server   ServerConfig
	Log      LogConfig
}

type LoopConfig struct {
	CheckInterval  time.Duration
	RepairInterval time.Duration
}

type DetectConfig struct {
	ProcessNames []string
}

type CaptureConfig struct {
	SampleRate       int
	Channels         int
	BlockSize        int
	SilenceThreshold float64
	Rotation         time.Duration
}

type StorageConfig struct {
	DataDir string
}

type WhisperConfig struct {
	BaseURL string
}

type GeminiConfig struct {
	APIKey          string
	Model           string
	NovelModel      string
	MaxOutputTokens int
}

type ImageConfig struct {
	BaseURL        string
	Width          int
	Height         int
	Steps          int
	GuidanceScale  float64
	Seed           int
	PromptTemplate string
	NegativePrompt string
}

type SupabaseConfig struct {
	URL            string
	ServiceRoleKey string
	Table          string
}

type PipelineConfig struct {
	StrictPhotoTasks    bool
	ArchiveAfterProcess bool
	MaxAutoRepairs      int
}

type ServerConfig struct {
	Port int
}

type LogConfig struct {
	Level string
}

func defaults() Config {
	return Config{
		Loop: LoopConfig{
			CheckInterval:  5 * time.Second,
			RepairInterval: 30 * time.Minute,
		},
		Detect: DetectConfig{
			ProcessNames: []string{"VRChat"},
		},
		Capture: CaptureConfig{
			SampleRate:       16000,
			Channels:         1,
			BlockSize:        1024,
			SilenceThreshold: 300,
			Rotation:         30 * time.Minute,
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Whisper: WhisperConfig{
			BaseURL: "http://localhost:8090",
		},
		Gemini: GeminiConfig{
			Model:           "gemini-1.5-flash",
			NovelModel:      "gemini-1.5-flash",
			MaxOutputTokens: 8192,
		},
		Image: ImageConfig{
			BaseURL:        "http://localhost:7860",
			Width:          1024,
			Height:         1024,
			Steps:          28,
			GuidanceScale:  7.0,
			Seed:           42,
			PromptTemplate: "(masterpiece, best quality:1.2), anime style, {text}",
			NegativePrompt: "low quality, worst quality, bad anatomy",
		},
		Supabase: SupabaseConfig{
			Table: "daily_entries",
		},
		Pipeline: PipelineConfig{
			StrictPhotoTasks:    false,
			ArchiveAfterProcess: true,
			MaxAutoRepairs:      3,
		},
		Server: ServerConfig{
			Port: 4800,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

func defaultDataDir() string {
	dir := os.Getenv("XDG_DATA_HOME")
	if dir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			dir = filepath.Join(home, ".local", "share")
		} else {
			return "chronicle-data"
		}
	}
	return filepath.Join(dir, "chronicle")
}

func configFilePath() string {
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			dir = filepath.Join(home, ".config")
		} else {
			dir = "."
		}
	}
	return filepath.Join(dir, "chronicle", "config.json")
}

// Load builds the configuration: defaults, then the optional JSON config
// file at $XDG_CONFIG_HOME/chronicle/config.json, then CHRONICLE_* env
// overrides. The Gemini API key is required only by the code paths that
// reach the cloud client, so Load does not enforce its presence.
func Load() (Config, error) {
	return loadFromPath(configFilePath())
}

func loadFromPath(path string) (Config, error) {
	cfg := defaults()

	vals, err := readConfigFile(path)
	if err != nil {
		return Config{}, err
	}
	if err := applyFile(&cfg, vals); err != nil {
		return Config{}, err
	}
	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// readConfigFile loads the flat key/value JSON object, tolerating a
// missing file but not a malformed one.
func readConfigFile(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]any{}, nil
		}
		return nil, fmt.Errorf("reading config file %s: %w", path, err)
	}
	vals := map[string]any{}
	if err := json.Unmarshal(data, &vals); err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}
	return vals, nil
}

func applyFile(cfg *Config, vals map[string]any) error {
	for _, spec := range specs {
		v, ok := vals[spec.key]
		if !ok {
			continue
		}
		if err := spec.applyAny(cfg, v); err != nil {
			return fmt.Errorf("config key %s: %w", spec.key, err)
		}
	}
	return nil
}

func applyEnv(cfg *Config) error {
	for _, spec := range specs {
		v, ok := os.LookupEnv(spec.env)
		if !ok || v == "" {
			continue
		}
		if err := spec.applyString(cfg, v); err != nil {
			return fmt.Errorf("env %s: %w", spec.env, err)
		}
	}
	return nil
}
