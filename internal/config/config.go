// Package config loads and validates the daemon's YAML configuration,
// following the same viper-based pattern the rest of this project uses:
// defaults set first, file read second, environment overrides last.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Servers            []ServerConfig            `mapstructure:"servers" yaml:"servers"`
	Download           DownloadConfig            `mapstructure:"download" yaml:"download"`
	Log                LogConfig                 `mapstructure:"log" yaml:"log"`
	Store              StoreConfig               `mapstructure:"store" yaml:"store"`
	SpeedLimit         SpeedLimitConfig          `mapstructure:"speed_limit" yaml:"speed_limit"`
	FailurePolicy      FailurePolicyConfig       `mapstructure:"failure_policy" yaml:"failure_policy"`
	DuplicateDetection DuplicateConfig           `mapstructure:"duplicate_detection" yaml:"duplicate_detection"`
	DiskSpace          DiskSpaceConfig           `mapstructure:"disk_space" yaml:"disk_space"`
	DirectUnpack       DirectUnpackConfig        `mapstructure:"direct_unpack" yaml:"direct_unpack"`
	Extraction         ExtractionConfig          `mapstructure:"extraction" yaml:"extraction"`
	Cleanup            CleanupConfig             `mapstructure:"cleanup" yaml:"cleanup"`
	Tools              ToolsConfig               `mapstructure:"tools" yaml:"tools"`
	Categories         map[string]CategoryConfig `mapstructure:"categories" yaml:"categories"`

	Port string `mapstructure:"port" yaml:"port"`
}

type ServerConfig struct {
	ID            string `mapstructure:"id" yaml:"id"`
	Host          string `mapstructure:"host" yaml:"host"`
	Port          int    `mapstructure:"port" yaml:"port"`
	Username      string `mapstructure:"username" yaml:"username"`
	Password      string `mapstructure:"password" yaml:"password"`
	TLS           bool   `mapstructure:"tls" yaml:"tls"`
	MaxConnection int    `mapstructure:"max_connections" yaml:"max_connections"`
	Priority      int    `mapstructure:"priority" yaml:"priority"`
	PipelineDepth int    `mapstructure:"pipeline_depth" yaml:"pipeline_depth"`
}

type DownloadConfig struct {
	OutDir                 string `mapstructure:"out_dir" yaml:"out_dir"`
	TempDir                string `mapstructure:"temp_dir" yaml:"temp_dir"`
	MaxConcurrentDownloads int    `mapstructure:"max_concurrent_downloads" yaml:"max_concurrent_downloads"`
	DefaultPostProcess     string `mapstructure:"default_post_process" yaml:"default_post_process"`
	FileCollision          string `mapstructure:"file_collision" yaml:"file_collision"`
}

type LogConfig struct {
	Path          string `mapstructure:"path" yaml:"path"`
	Level         string `mapstructure:"level" yaml:"level"`
	IncludeStdout bool   `mapstructure:"include_stdout" yaml:"include_stdout"`
}

type StoreConfig struct {
	SQLitePath string `mapstructure:"sqlite_path" yaml:"sqlite_path"`
}

type SpeedLimitConfig struct {
	LimitBps int64 `mapstructure:"limit_bps" yaml:"limit_bps"`
}

type FailurePolicyConfig struct {
	MaxFailureRatio    float64 `mapstructure:"max_failure_ratio" yaml:"max_failure_ratio"`
	FastFailThreshold  float64 `mapstructure:"fast_fail_threshold" yaml:"fast_fail_threshold"`
	FastFailSampleSize int     `mapstructure:"fast_fail_sample_size" yaml:"fast_fail_sample_size"`
}

type DuplicateConfig struct {
	Enabled bool     `mapstructure:"enabled" yaml:"enabled"`
	Methods []string `mapstructure:"methods" yaml:"methods"`
	Action  string   `mapstructure:"action" yaml:"action"`
}

type DiskSpaceConfig struct {
	Enabled        bool    `mapstructure:"enabled" yaml:"enabled"`
	SizeMultiplier float64 `mapstructure:"size_multiplier" yaml:"size_multiplier"`
	MinFreeSpace   int64   `mapstructure:"min_free_space" yaml:"min_free_space"`
}

type DirectUnpackConfig struct {
	Enabled      bool `mapstructure:"enabled" yaml:"enabled"`
	DirectRename bool `mapstructure:"direct_rename" yaml:"direct_rename"`
}

type ExtractionConfig struct {
	NestedDepth   int  `mapstructure:"nested_depth" yaml:"nested_depth"`
	DeleteSamples bool `mapstructure:"delete_samples" yaml:"delete_samples"`
}

type CleanupConfig struct {
	Enabled           bool     `mapstructure:"enabled" yaml:"enabled"`
	TargetExtensions  []string `mapstructure:"target_extensions" yaml:"target_extensions"`
	ArchiveExtensions []string `mapstructure:"archive_extensions" yaml:"archive_extensions"`
	SampleFolderNames []string `mapstructure:"sample_folder_names" yaml:"sample_folder_names"`
	DeleteSamples     bool     `mapstructure:"delete_samples" yaml:"delete_samples"`
}

type ToolsConfig struct {
	Par2Path         string `mapstructure:"par2_path" yaml:"par2_path"`
	SearchPath       string `mapstructure:"search_path" yaml:"search_path"`
	PasswordFile     string `mapstructure:"password_file" yaml:"password_file"`
	TryEmptyPassword bool   `mapstructure:"try_empty_password" yaml:"try_empty_password"`
}

type CategoryConfig struct {
	Destination string   `mapstructure:"destination" yaml:"destination"`
	PostProcess string   `mapstructure:"post_process" yaml:"post_process"`
	Scripts     []string `mapstructure:"scripts" yaml:"scripts"`
}

// Load reads path (defaulting to config.yaml, falling back to
// /config/config.yaml for container deployments), applies defaults and
// USENETD_-prefixed environment overrides, and validates the result.
func Load(path string) (*Config, error) {

	if path == "" {
		path = "config.yaml"
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		if path == "config.yaml" {
			if _, errEx := os.Stat("/config/config.yaml"); errEx == nil {
				path = "/config/config.yaml"
			} else if _, errEx := os.Stat("config.yaml.example"); errEx == nil {
				return nil, fmt.Errorf("configuration file 'config.yaml' not found\n\n" +
					"To fix this, run:\n" +
					"  cp config.yaml.example config.yaml\n" +
					"Then edit it with your Usenet server credentials.")
			} else {
				return nil, fmt.Errorf("config file not found: %s", path)
			}
		} else {
			return nil, fmt.Errorf("config file not found: %s", path)
		}
	}

	v := viper.New()

	// Set Defaults
	v.SetDefault("port", "8080")
	v.SetDefault("download.out_dir", "./downloads")
	v.SetDefault("download.temp_dir", "./temp")
	v.SetDefault("download.max_concurrent_downloads", 1)
	v.SetDefault("download.default_post_process", "UnpackAndCleanup")
	v.SetDefault("download.file_collision", "Rename")
	v.SetDefault("log.path", "usenetd.log")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.include_stdout", true)
	v.SetDefault("store.sqlite_path", "./usenetd.db")
	v.SetDefault("speed_limit.limit_bps", 0)
	v.SetDefault("failure_policy.max_failure_ratio", 0.10)
	v.SetDefault("failure_policy.fast_fail_threshold", 0.50)
	v.SetDefault("failure_policy.fast_fail_sample_size", 10)
	v.SetDefault("duplicate_detection.enabled", true)
	v.SetDefault("duplicate_detection.methods", []string{"NzbHash"})
	v.SetDefault("duplicate_detection.action", "Block")
	v.SetDefault("disk_space.enabled", true)
	v.SetDefault("disk_space.size_multiplier", 1.1)
	v.SetDefault("disk_space.min_free_space", 1<<30)
	v.SetDefault("direct_unpack.enabled", true)
	v.SetDefault("direct_unpack.direct_rename", true)
	v.SetDefault("extraction.nested_depth", 2)
	v.SetDefault("cleanup.enabled", true)
	v.SetDefault("cleanup.target_extensions", []string{".par2", ".nzb", ".sfv", ".srr", ".nfo"})
	v.SetDefault("cleanup.archive_extensions", []string{".rar", ".zip", ".7z"})
	v.SetDefault("cleanup.sample_folder_names", []string{"sample", "proof", "subs"})
	v.SetDefault("cleanup.delete_samples", true)
	v.SetDefault("tools.search_path", "")
	v.SetDefault("tools.try_empty_password", true)

	// Read config file
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("error reading config file %s: %w", path, err)
	}

	// Support environment variables
	v.SetEnvPrefix("USENETD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error parsing config file %s: %w", path, err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) validate() error {
	if len(c.Servers) == 0 {
		return errors.New("at least one server must be configured")
	}

	seen := make(map[string]bool, len(c.Servers))
	for i, s := range c.Servers {
		if s.ID == "" {
			return fmt.Errorf("server[%d] requires a unique ID", i)
		}
		if seen[s.ID] {
			return fmt.Errorf("duplicate server id %q", s.ID)
		}
		seen[s.ID] = true

		if s.Host == "" {
			return fmt.Errorf("server %s: host is required", s.ID)
		}

		if s.Port == 0 {
			return fmt.Errorf("server %s: port is required", s.ID)
		}

		if s.TLS && s.Port == 119 {
			fmt.Println("Warning: TLS is enabled but port is set to 119 (standard non-TLS)")
		}

		if s.MaxConnection <= 0 {
			c.Servers[i].MaxConnection = 10
		}

		if s.Priority == 0 {
			c.Servers[i].Priority = 1
		}

		if s.PipelineDepth <= 0 {
			c.Servers[i].PipelineDepth = 10
		}
	}

	if c.Download.OutDir == "" {
		c.Download.OutDir = "./downloads"
	}
	if c.Download.TempDir == "" {
		c.Download.TempDir = "./temp"
	}
	if c.Download.MaxConcurrentDownloads <= 0 {
		c.Download.MaxConcurrentDownloads = 1
	}
	switch c.Download.FileCollision {
	case "", "Overwrite", "Skip", "Rename":
	default:
		return fmt.Errorf("download.file_collision: invalid value %q", c.Download.FileCollision)
	}

	if c.FailurePolicy.MaxFailureRatio < 0 || c.FailurePolicy.MaxFailureRatio > 1 {
		return errors.New("failure_policy.max_failure_ratio must be between 0 and 1")
	}

	return nil
}

// TotalConnections sums every configured server's connection count; this is
// the download task's batching concurrency.
func (c *Config) TotalConnections() int {
	total := 0
	for _, s := range c.Servers {
		total += s.MaxConnection
	}
	return total
}

// PipelineDepth is the pipeline depth of the highest-priority (lowest
// Priority value) server, defaulting to 10 when no servers are configured.
func (c *Config) PipelineDepth() int {
	if len(c.Servers) == 0 {
		return 10
	}
	best := c.Servers[0]
	for _, s := range c.Servers[1:] {
		if s.Priority < best.Priority {
			best = s
		}
	}
	if best.PipelineDepth <= 0 {
		return 10
	}
	return best.PipelineDepth
}

// CategoryFor resolves a category name to its configuration.
func (c *Config) CategoryFor(name string) (CategoryConfig, bool) {
	cat, ok := c.Categories[name]
	return cat, ok
}
