package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	"github.com/opd-ai/hwcodec/limits"
	"github.com/opd-ai/hwcodec/status"
)

// EnvPrefix prefixes environment overrides, e.g. HWCODEC_SLOTS or
// HWCODEC_FRAME_GROUP_COUNT.
const EnvPrefix = "HWCODEC"

// GroupConfig sizes one buffer group.
type GroupConfig struct {
	// Kind is "heap" or "dma".
	Kind  string `mapstructure:"kind"`
	Count int    `mapstructure:"count"`
	Size  int64  `mapstructure:"size"`
}

// Config is the explicit configuration threaded into context creation.
type Config struct {
	// Slots is the slot table size; 0 lets the codec plugin choose.
	Slots int `mapstructure:"slots"`
	// Tasks is the number of decode/encode jobs in flight.
	Tasks int `mapstructure:"tasks"`
	// InputQueue bounds packets (or frames) queued ahead of the parse stage.
	InputQueue int `mapstructure:"input_queue"`
	// InputTimeout and OutputTimeout: -1 blocks, 0 polls, >0 waits that long.
	InputTimeout  time.Duration `mapstructure:"input_timeout"`
	OutputTimeout time.Duration `mapstructure:"output_timeout"`

	FrameGroup  GroupConfig `mapstructure:"frame_group"`
	PacketGroup GroupConfig `mapstructure:"packet_group"`

	// DisableError recycles errored frames instead of delivering them.
	DisableError bool `mapstructure:"disable_error"`
	// FastMode lets the parse stage run ahead of the hardware stage by
	// the full task pool instead of one job.
	FastMode bool   `mapstructure:"fast_mode"`
	LogLevel string `mapstructure:"log_level"`
}

// Default returns the configuration used when nothing is loaded.
func Default() *Config {
	return &Config{
		Slots:         limits.DefaultSlots,
		Tasks:         limits.DefaultTasks,
		InputQueue:    4,
		InputTimeout:  -1,
		OutputTimeout: -1,
		FrameGroup:    GroupConfig{Kind: "heap", Count: limits.DefaultSlots + 4},
		PacketGroup:   GroupConfig{Kind: "heap"},
		LogLevel:      "info",
	}
}

// Load reads cfgFile (YAML, optional) and HWCODEC_* environment variables
// over Default. A missing file is an error only when cfgFile is non-empty.
func Load(cfgFile string) (*Config, error) {
	cfg := Default()
	v := viper.New()
	setDefaults(v, cfg)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("%w: reading config %s: %v", status.ErrInvalidArgument, cfgFile, err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("%w: decoding config: %v", status.ErrInvalidArgument, err)
	}

	logrus.WithFields(logrus.Fields{
		"function": "Load",
		"file":     v.ConfigFileUsed(),
		"slots":    cfg.Slots,
		"tasks":    cfg.Tasks,
	}).Debug("Configuration loaded")

	return cfg, nil
}

// setDefaults registers every key so environment overrides apply to keys
// absent from the file.
func setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("slots", cfg.Slots)
	v.SetDefault("tasks", cfg.Tasks)
	v.SetDefault("input_queue", cfg.InputQueue)
	v.SetDefault("input_timeout", cfg.InputTimeout)
	v.SetDefault("output_timeout", cfg.OutputTimeout)
	v.SetDefault("frame_group.kind", cfg.FrameGroup.Kind)
	v.SetDefault("frame_group.count", cfg.FrameGroup.Count)
	v.SetDefault("frame_group.size", cfg.FrameGroup.Size)
	v.SetDefault("packet_group.kind", cfg.PacketGroup.Kind)
	v.SetDefault("packet_group.count", cfg.PacketGroup.Count)
	v.SetDefault("packet_group.size", cfg.PacketGroup.Size)
	v.SetDefault("disable_error", cfg.DisableError)
	v.SetDefault("fast_mode", cfg.FastMode)
	v.SetDefault("log_level", cfg.LogLevel)
}

var validKinds = map[string]bool{"heap": true, "dma": true}

var validLogLevels = map[string]bool{
	"trace":   true,
	"debug":   true,
	"info":    true,
	"warn":    true,
	"warning": true,
	"error":   true,
}

// Validate checks every field and returns all problems joined, each
// wrapping status.ErrInvalidArgument.
func (c *Config) Validate() error {
	var errs []error

	if c.Slots != 0 {
		if err := limits.ValidateSlotCount(c.Slots); err != nil {
			errs = append(errs, fmt.Errorf("slots: %w", err))
		}
	}
	if err := limits.ValidateTaskCount(c.Tasks); err != nil {
		errs = append(errs, fmt.Errorf("tasks: %w", err))
	}
	if err := limits.ValidateInputQueue(c.InputQueue); err != nil {
		errs = append(errs, fmt.Errorf("input_queue: %w", err))
	}
	if c.InputTimeout < -1 {
		errs = append(errs, fmt.Errorf("%w: input_timeout %v", status.ErrInvalidArgument, c.InputTimeout))
	}
	if c.OutputTimeout < -1 {
		errs = append(errs, fmt.Errorf("%w: output_timeout %v", status.ErrInvalidArgument, c.OutputTimeout))
	}
	for name, g := range map[string]GroupConfig{"frame_group": c.FrameGroup, "packet_group": c.PacketGroup} {
		if !validKinds[strings.ToLower(g.Kind)] {
			errs = append(errs, fmt.Errorf("%w: %s.kind %q", status.ErrInvalidArgument, name, g.Kind))
		}
		if g.Count < 0 || g.Size < 0 {
			errs = append(errs, fmt.Errorf("%w: %s limits %d/%d", status.ErrInvalidArgument, name, g.Count, g.Size))
		}
	}
	if c.LogLevel != "" && !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Errorf("%w: log_level %q", status.ErrInvalidArgument, c.LogLevel))
	}

	return errors.Join(errs...)
}

// Clone returns a copy of c.
func (c *Config) Clone() *Config {
	cp := *c
	return &cp
}
