package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/dmitrijs2005/docsync/internal/flagx"
	"github.com/dmitrijs2005/docsync/internal/timex"
)

// FileConfig is a DTO used exclusively for decoding config files. It
// relies on timex.Duration so intervals may be strings like "3s" or
// integer nanoseconds. Pointer fields distinguish "absent" from "zero".
type FileConfig struct {
	ServerEndpointAddr  *string         `json:"server_endpoint_addr" yaml:"server_endpoint_addr"`
	OnlineCheckInterval *timex.Duration `json:"online_check_interval" yaml:"online_check_interval"`
	SyncInterval        *timex.Duration `json:"sync_interval" yaml:"sync_interval"`
	DataDir             *string         `json:"data_dir" yaml:"data_dir"`
	Offline             *bool           `json:"offline" yaml:"offline"`
	ConflictPolicy      *string         `json:"conflict_policy" yaml:"conflict_policy"`
	BatchSize           *int            `json:"batch_size" yaml:"batch_size"`
	StoragePrefix       *string         `json:"storage_prefix" yaml:"storage_prefix"`
	LogLevel            *string         `json:"log_level" yaml:"log_level"`
	LogFormat           *string         `json:"log_format" yaml:"log_format"`

	S3 *struct {
		Region       *string `json:"region" yaml:"region"`
		AccessKey    *string `json:"access_key" yaml:"access_key"`
		SecretKey    *string `json:"secret_key" yaml:"secret_key"`
		Bucket       *string `json:"bucket" yaml:"bucket"`
		BaseEndpoint *string `json:"base_endpoint" yaml:"base_endpoint"`
		UsePathStyle *bool   `json:"use_path_style" yaml:"use_path_style"`
	} `json:"s3" yaml:"s3"`

	Retry *struct {
		MaxAttempts    *int            `json:"max_attempts" yaml:"max_attempts"`
		BaseDelay      *timex.Duration `json:"base_delay" yaml:"base_delay"`
		MaxDelay       *timex.Duration `json:"max_delay" yaml:"max_delay"`
		AttemptTimeout *timex.Duration `json:"attempt_timeout" yaml:"attempt_timeout"`
	} `json:"retry" yaml:"retry"`

	Transfer *struct {
		MaxFileSize       *int64   `json:"max_file_size" yaml:"max_file_size"`
		ChunkSize         *int64   `json:"chunk_size" yaml:"chunk_size"`
		MaxConcurrent     *int     `json:"max_concurrent" yaml:"max_concurrent"`
		RequestsPerSecond *float64 `json:"requests_per_second" yaml:"requests_per_second"`
	} `json:"transfer" yaml:"transfer"`
}

// parseFile overlays cfg with the config file named by -c or -config.
// Files ending in .yaml or .yml are decoded as YAML, anything else as JSON.
func parseFile(cfg *Config, args []string) error {
	path := flagx.ConfigFileFlag(args)
	if path == "" {
		return nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	var fc FileConfig
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &fc)
	default:
		err = json.Unmarshal(data, &fc)
	}
	if err != nil {
		return fmt.Errorf("failed to decode config file %s: %w", path, err)
	}
	fc.apply(cfg)
	return nil
}

func set[T any](dst *T, src *T) {
	if src != nil {
		*dst = *src
	}
}

func setDuration(dst *time.Duration, src *timex.Duration) {
	if src != nil {
		*dst = src.Duration
	}
}

func (fc *FileConfig) apply(cfg *Config) {
	set(&cfg.ServerEndpointAddr, fc.ServerEndpointAddr)
	setDuration(&cfg.OnlineCheckInterval, fc.OnlineCheckInterval)
	setDuration(&cfg.SyncInterval, fc.SyncInterval)
	set(&cfg.DataDir, fc.DataDir)
	set(&cfg.Offline, fc.Offline)
	set(&cfg.ConflictPolicy, fc.ConflictPolicy)
	set(&cfg.BatchSize, fc.BatchSize)
	set(&cfg.StoragePrefix, fc.StoragePrefix)
	set(&cfg.LogLevel, fc.LogLevel)
	set(&cfg.LogFormat, fc.LogFormat)

	if s := fc.S3; s != nil {
		set(&cfg.S3.Region, s.Region)
		set(&cfg.S3.AccessKey, s.AccessKey)
		set(&cfg.S3.SecretKey, s.SecretKey)
		set(&cfg.S3.Bucket, s.Bucket)
		set(&cfg.S3.BaseEndpoint, s.BaseEndpoint)
		set(&cfg.S3.UsePathStyle, s.UsePathStyle)
	}
	if r := fc.Retry; r != nil {
		set(&cfg.Retry.MaxAttempts, r.MaxAttempts)
		setDuration(&cfg.Retry.BaseDelay, r.BaseDelay)
		setDuration(&cfg.Retry.MaxDelay, r.MaxDelay)
		setDuration(&cfg.Retry.AttemptTimeout, r.AttemptTimeout)
	}
	if t := fc.Transfer; t != nil {
		set(&cfg.Transfer.MaxFileSize, t.MaxFileSize)
		set(&cfg.Transfer.ChunkSize, t.ChunkSize)
		set(&cfg.Transfer.MaxConcurrent, t.MaxConcurrent)
		set(&cfg.Transfer.RequestsPerSecond, t.RequestsPerSecond)
	}
}
