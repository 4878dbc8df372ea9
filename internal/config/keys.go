package config

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

type keyKind int

const (
	kString keyKind = iota
	kInt
	kFloat
	kBool
	kDuration
	kStringList
)

// keySpec binds one config key to its env variable and its slot in Config.
type keySpec struct {
	key   string
	kind  keyKind
	env   string
	apply func(cfg *Config, v any)
}

var specs = []keySpec{
	{
		key: "loop.check_interval", kind: kDuration, env: "CHRONICLE_CHECK_INTERVAL",
		apply: func(cfg *Config, v any) { cfg.Loop.CheckInterval = v.(time.Duration) },
	},
	{
		key: "loop.repair_interval", kind: kDuration, env: "CHRONICLE_REPAIR_INTERVAL",
		apply: func(cfg *Config, v any) { cfg.Loop.RepairInterval = v.(time.Duration) },
	},
	{
		key: "detect.process_names", kind: kStringList, env: "CHRONICLE_PROCESS_NAMES",
		apply: func(cfg *Config, v any) { cfg.Detect.ProcessNames = v.([]string) },
	},
	{
		key: "capture.sample_rate", kind: kInt, env: "CHRONICLE_SAMPLE_RATE",
		apply: func(cfg *Config, v any) { cfg.Capture.SampleRate = v.(int) },
	},
	{
		key: "capture.channels", kind: kInt, env: "CHRONICLE_CHANNELS",
		apply: func(cfg *Config, v any) { cfg.Capture.Channels = v.(int) },
	},
	{
		key: "capture.block_size", kind: kInt, env: "CHRONICLE_BLOCK_SIZE",
		apply: func(cfg *Config, v any) { cfg.Capture.BlockSize = v.(int) },
	},
	{
		key: "capture.silence_threshold", kind: kFloat, env: "CHRONICLE_SILENCE_THRESHOLD",
		apply: func(cfg *Config, v any) { cfg.Capture.SilenceThreshold = v.(float64) },
	},
	{
		key: "capture.rotation", kind: kDuration, env: "CHRONICLE_ROTATION",
		apply: func(cfg *Config, v any) { cfg.Capture.Rotation = v.(time.Duration) },
	},
	{
		key: "storage.data_dir", kind: kString, env: "CHRONICLE_DATA_DIR",
		apply: func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
	},
	{
		key: "whisper.base_url", kind: kString, env: "CHRONICLE_WHISPER_BASE_URL",
		apply: func(cfg *Config, v any) { cfg.Whisper.BaseURL = v.(string) },
	},
	{
		key: "gemini.api_key", kind: kString, env: "GOOGLE_API_KEY",
		apply: func(cfg *Config, v any) { cfg.Gemini.APIKey = v.(string) },
	},
	{
		key: "gemini.model", kind: kString, env: "CHRONICLE_GEMINI_MODEL",
		apply: func(cfg *Config, v any) { cfg.Gemini.Model = v.(string) },
	},
	{
		key: "gemini.novel_model", kind: kString, env: "CHRONICLE_NOVEL_MODEL",
		apply: func(cfg *Config, v any) { cfg.Gemini.NovelModel = v.(string) },
	},
	{
		key: "gemini.max_output_tokens", kind: kInt, env: "CHRONICLE_NOVEL_MAX_OUTPUT_TOKENS",
		apply: func(cfg *Config, v any) { cfg.Gemini.MaxOutputTokens = v.(int) },
	},
	{
		key: "image.base_url", kind: kString, env: "CHRONICLE_IMAGE_BASE_URL",
		apply: func(cfg *Config, v any) { cfg.Image.BaseURL = v.(string) },
	},
	{
		key: "image.width", kind: kInt, env: "CHRONICLE_IMAGE_WIDTH",
		apply: func(cfg *Config, v any) { cfg.Image.Width = v.(int) },
	},
	{
		key: "image.height", kind: kInt, env: "CHRONICLE_IMAGE_HEIGHT",
		apply: func(cfg *Config, v any) { cfg.Image.Height = v.(int) },
	},
	{
		key: "image.steps", kind: kInt, env: "CHRONICLE_IMAGE_STEPS",
		apply: func(cfg *Config, v any) { cfg.Image.Steps = v.(int) },
	},
	{
		key: "image.guidance_scale", kind: kFloat, env: "CHRONICLE_IMAGE_GUIDANCE_SCALE",
		apply: func(cfg *Config, v any) { cfg.Image.GuidanceScale = v.(float64) },
	},
	{
		key: "image.seed", kind: kInt, env: "CHRONICLE_IMAGE_SEED",
		apply: func(cfg *Config, v any) { cfg.Image.Seed = v.(int) },
	},
	{
		key: "image.prompt_template", kind: kString, env: "CHRONICLE_IMAGE_PROMPT_TEMPLATE",
		apply: func(cfg *Config, v any) { cfg.Image.PromptTemplate = v.(string) },
	},
	{
		key: "image.negative_prompt", kind: kString, env: "CHRONICLE_IMAGE_NEGATIVE_PROMPT",
		apply: func(cfg *Config, v any) { cfg.Image.NegativePrompt = v.(string) },
	},
	{
		key: "supabase.url", kind: kString, env: "SUPABASE_URL",
		apply: func(cfg *Config, v any) { cfg.Supabase.URL = v.(string) },
	},
	{
		key: "supabase.service_role_key", kind: kString, env: "SUPABASE_SERVICE_ROLE_KEY",
		apply: func(cfg *Config, v any) { cfg.Supabase.ServiceRoleKey = v.(string) },
	},
	{
		key: "supabase.table", kind: kString, env: "CHRONICLE_SUPABASE_TABLE",
		apply: func(cfg *Config, v any) { cfg.Supabase.Table = v.(string) },
	},
	{
		key: "pipeline.strict_photo_tasks", kind: kBool, env: "CHRONICLE_STRICT_PHOTO_TASKS",
		apply: func(cfg *Config, v any) { cfg.Pipeline.StrictPhotoTasks = v.(bool) },
	},
	{
		key: "pipeline.archive_after_process", kind: kBool, env: "CHRONICLE_ARCHIVE_AFTER_PROCESS",
		apply: func(cfg *Config, v any) { cfg.Pipeline.ArchiveAfterProcess = v.(bool) },
	},
	{
		key: "pipeline.max_auto_repairs", kind: kInt, env: "CHRONICLE_MAX_AUTO_REPAIRS",
		apply: func(cfg *Config, v any) { cfg.Pipeline.MaxAutoRepairs = v.(int) },
	},
	{
		key: "server.port", kind: kInt, env: "CHRONICLE_SERVER_PORT",
		apply: func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
	},
	{
		key: "log.level", kind: kString, env: "CHRONICLE_LOG_LEVEL",
		apply: func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
	},
}

// applyAny coerces a JSON-decoded value into the key's declared kind.
func (s keySpec) applyAny(cfg *Config, v any) error {
	switch s.kind {
	case kString:
		str, ok := v.(string)
		if !ok {
			return fmt.Errorf("expected string, got %T", v)
		}
		s.apply(cfg, str)
	case kInt:
		f, ok := v.(float64)
		if !ok || f != math.Trunc(f) {
			return fmt.Errorf("expected integer, got %v", v)
		}
		s.apply(cfg, int(f))
	case kFloat:
		f, ok := v.(float64)
		if !ok {
			return fmt.Errorf("expected number, got %T", v)
		}
		s.apply(cfg, f)
	case kBool:
		b, ok := v.(bool)
		if !ok {
			return fmt.Errorf("expected bool, got %T", v)
		}
		s.apply(cfg, b)
	case kDuration:
		str, ok := v.(string)
		if !ok {
			return fmt.Errorf("expected duration string, got %T", v)
		}
		d, err := time.ParseDuration(str)
		if err != nil {
			return err
		}
		s.apply(cfg, d)
	case kStringList:
		items, ok := v.([]any)
		if !ok {
			return fmt.Errorf("expected string list, got %T", v)
		}
		out := make([]string, 0, len(items))
		for _, it := range items {
			str, ok := it.(string)
			if !ok {
				return fmt.Errorf("expected string list element, got %T", it)
			}
			out = append(out, str)
		}
		s.apply(cfg, out)
	}
	return nil
}

// applyString coerces an environment variable value into the key's declared kind.
// String lists are comma-separated.
func (s keySpec) applyString(cfg *Config, v string) error {
	switch s.kind {
	case kString:
		s.apply(cfg, v)
	case kInt:
		i, err := strconv.Atoi(v)
		if err != nil {
			return err
		}
		s.apply(cfg, i)
	case kFloat:
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return err
		}
		s.apply(cfg, f)
	case kBool:
		b, err := strconv.ParseBool(v)
		if err != nil {
			return err
		}
		s.apply(cfg, b)
	case kDuration:
		d, err := time.ParseDuration(v)
		if err != nil {
			return err
		}
		s.apply(cfg, d)
	case kStringList:
		parts := strings.Split(v, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		s.apply(cfg, out)
	}
	return nil
}
