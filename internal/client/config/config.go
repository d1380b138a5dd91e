package config

import (
	"os"
	"path/filepath"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
)

// Config holds runtime settings for the docsync client.
//
// Fields:
//   - ServerEndpointAddr: host:port of the backend gRPC endpoint.
//   - OnlineCheckInterval: how often the client probes server reachability.
//   - SyncInterval: period of background sync passes.
//   - DataDir: holds the local database and the attachment cache.
//   - Offline: run against in-process stores instead of the server and S3.
//
// Units: intervals and timeouts are time.Duration (e.g., 3*time.Second).
type Config struct {
	ServerEndpointAddr  string
	OnlineCheckInterval time.Duration
	SyncInterval        time.Duration
	DataDir             string
	Offline             bool
	ConflictPolicy      string
	BatchSize           int
	StoragePrefix       string

	LogLevel  string
	LogFormat string

	S3       S3
	Retry    Retry
	Transfer Transfer
}

type S3 struct {
	Region       string
	AccessKey    string
	SecretKey    string
	Bucket       string
	BaseEndpoint string
	UsePathStyle bool
}

type Retry struct {
	MaxAttempts    int
	BaseDelay      time.Duration
	MaxDelay       time.Duration
	AttemptTimeout time.Duration
}

type Transfer struct {
	MaxFileSize       int64
	ChunkSize         int64
	MaxConcurrent     int
	RequestsPerSecond float64
}

var policies = []any{"manual", "localWins", "remoteWins", "lastWriteWins"}

// LoadDefaults populates c with sensible defaults.
func (c *Config) LoadDefaults() {
	c.ServerEndpointAddr = "127.0.0.1:50051"
	c.OnlineCheckInterval = 3 * time.Second
	c.SyncInterval = time.Minute
	c.DataDir = defaultDataDir()
	c.ConflictPolicy = "manual"
	c.BatchSize = 25
	c.StoragePrefix = "users"
	c.LogLevel = "warn"
	c.LogFormat = "text"
	c.S3 = S3{Region: "us-east-1", Bucket: "docsync", BaseEndpoint: "http://127.0.0.1:9000/", UsePathStyle: true}
	c.Retry = Retry{MaxAttempts: 4, BaseDelay: 500 * time.Millisecond, MaxDelay: 30 * time.Second, AttemptTimeout: 30 * time.Second}
	c.Transfer = Transfer{MaxFileSize: 100 << 20, ChunkSize: 5 << 20, MaxConcurrent: 3}
}

func defaultDataDir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "docsync")
	}
	return ".docsync"
}

func (c *Config) DatabasePath() string { return filepath.Join(c.DataDir, "docsync.db") }
func (c *Config) CacheDir() string     { return filepath.Join(c.DataDir, "cache") }

func (c *Config) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.ServerEndpointAddr, validation.When(!c.Offline, validation.Required)),
		validation.Field(&c.DataDir, validation.Required),
		validation.Field(&c.OnlineCheckInterval, validation.Min(100*time.Millisecond)),
		validation.Field(&c.SyncInterval, validation.Min(time.Second)),
		validation.Field(&c.ConflictPolicy, validation.In(policies...)),
		validation.Field(&c.BatchSize, validation.Required, validation.Min(1), validation.Max(500)),
		validation.Field(&c.StoragePrefix, validation.Required, is.Alphanumeric),
		validation.Field(&c.LogLevel, validation.In("debug", "info", "warn", "error")),
		validation.Field(&c.LogFormat, validation.In("text", "json")),
		validation.Field(&c.S3, validation.When(!c.Offline, validation.By(func(any) error { return c.S3.validate() }))),
		validation.Field(&c.Retry),
		validation.Field(&c.Transfer),
	)
}

func (s S3) validate() error {
	return validation.ValidateStruct(&s,
		validation.Field(&s.Region, validation.Required),
		validation.Field(&s.Bucket, validation.Required),
		validation.Field(&s.BaseEndpoint, is.URL),
	)
}

func (r Retry) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.MaxAttempts, validation.Required, validation.Min(1), validation.Max(20)),
		validation.Field(&r.BaseDelay, validation.Min(time.Duration(0))),
		validation.Field(&r.MaxDelay, validation.Min(r.BaseDelay)),
	)
}

func (t Transfer) Validate() error {
	return validation.ValidateStruct(&t,
		validation.Field(&t.MaxFileSize, validation.Required),
		// S3 rejects multipart parts under 5 MiB except the last one
		validation.Field(&t.ChunkSize, validation.Required, validation.Min(int64(5<<20))),
		validation.Field(&t.MaxConcurrent, validation.Required, validation.Min(1), validation.Max(16)),
		validation.Field(&t.RequestsPerSecond, validation.Min(float64(0))),
	)
}

// Load constructs a Config from defaults, then an optional config file
// (-c or -config, JSON or YAML) and finally command-line flags. Later
// sources take precedence over earlier ones.
func Load(args []string) (*Config, error) {
	cfg := &Config{}
	cfg.LoadDefaults()
	if err := parseFile(cfg, args); err != nil {
		return nil, err
	}
	if err := parseFlags(cfg, args); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
