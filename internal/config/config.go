package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Config represents the main configuration for carphoto.
type Config struct {
	Operator      string   `toml:"operator"` // identity recorded on writes made by this process
	BaseDir       string   `toml:"base_dir"`
	LogDir        string   `toml:"log_dir"`
	LogLevel      string   `toml:"log_level"` // debug, info, warn, error
	Regions       []string `toml:"regions"`
	ArchiveRegion string   `toml:"archive_region"`

	Disk     DiskConfig     `toml:"disk"`
	Retry    RetryConfig    `toml:"retry"`
	Cache    CacheConfig    `toml:"cache"`
	Database DatabaseConfig `toml:"database"`
	Write    WriteConfig    `toml:"write"`
	Logging  LoggingConfig  `toml:"logging"`
	Metrics  MetricsConfig  `toml:"metrics"`
	Upload   UploadConfig   `toml:"upload"`
}

// Duration is a time.Duration written as a string such as "5m" in TOML.
type Duration struct {
	time.Duration
}

// UnmarshalText parses a duration string.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", text, err)
	}
	d.Duration = v
	return nil
}

// MarshalText formats the duration.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// DiskConfig represents configuration for the remote store.
// This uses a tagged union pattern - the Backend field determines which other fields are relevant.
type DiskConfig struct {
	Backend   string   `toml:"backend"`   // "http", "s3", "filesystem", or "memory"
	BasePath  string   `toml:"base_path"` // folder below which regions live
	Timeout   Duration `toml:"timeout"`
	RateLimit float64  `toml:"rate_limit"` // requests per second, 0 = unlimited
	RateBurst int      `toml:"rate_burst"`

	// HTTP-specific fields (only used when Backend == "http")
	APIURL string `toml:"api_url,omitempty"`
	Token  string `toml:"token,omitempty"`

	// S3-specific fields (only used when Backend == "s3")
	S3Bucket          string   `toml:"s3_bucket,omitempty"`
	S3Prefix          string   `toml:"s3_prefix,omitempty"`
	S3Region          string   `toml:"s3_region,omitempty"`
	S3Endpoint        string   `toml:"s3_endpoint,omitempty"`
	S3AccessKeyID     string   `toml:"s3_access_key_id,omitempty"`
	S3SecretAccessKey string   `toml:"s3_secret_access_key,omitempty"`
	S3UsePathStyle    bool     `toml:"s3_use_path_style,omitempty"`
	S3PresignTTL      Duration `toml:"s3_presign_ttl,omitempty"`
	S3PublicURL       string   `toml:"s3_public_url,omitempty"`

	// FileSystem-specific fields (only used when Backend == "filesystem")
	FSRoot      string `toml:"fs_root,omitempty"`
	FSPublicURL string `toml:"fs_public_url,omitempty"`
}

// RetryConfig controls retries of transient remote store failures.
type RetryConfig struct {
	MaxAttempts int      `toml:"max_attempts"`
	BaseDelay   Duration `toml:"base_delay"`
	MaxDelay    Duration `toml:"max_delay"`
}

// CacheConfig controls the in-process caches of the read pipeline.
type CacheConfig struct {
	RegionTTL Duration `toml:"region_ttl"` // age after which a region index is rebuilt
	LRUSize   int      `toml:"lru_size"`   // car entries kept in memory
	LRUTTL    Duration `toml:"lru_ttl"`
}

// DatabaseConfig represents configuration for the relational cache.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type DatabaseConfig struct {
	Type    string `toml:"type"`               // "sqlite", "memory", or "none"
	DataDir string `toml:"data_dir,omitempty"` // only used for type=sqlite
}

// WriteConfig holds limits and lock timing for the write pipeline.
type WriteConfig struct {
	MaxFileSize     int64    `toml:"max_file_size"`  // bytes per photo
	MaxBatchSize    int64    `toml:"max_batch_size"` // bytes per upload batch
	LockTTL         Duration `toml:"lock_ttl"`
	LockWait        Duration `toml:"lock_wait"` // how long to wait for a live lock
	LockPoll        Duration `toml:"lock_poll"`
	OneShotSlots    bool     `toml:"one_shot_slots"` // reject uploads to a slot that already has photos
	ArchiveAttempts int      `toml:"archive_attempts"`
}

// LoggingConfig controls log file rotation.
type LoggingConfig struct {
	MaxSizeMB  int  `toml:"max_size_mb"`
	MaxBackups int  `toml:"max_backups"`
	MaxAgeDays int  `toml:"max_age_days"`
	Compress   bool `toml:"compress"`
}

// MetricsConfig configures the metrics endpoint.
type MetricsConfig struct {
	ListenAddr string `toml:"listen_addr"`
}

// UploadConfig holds settings for discovering local photos to upload.
type UploadConfig struct {
	Ignore []string `toml:"ignore"`
}

// Default values applied by ApplyDefaults.
const (
	DefaultArchiveRegion   = "ARCHIVE"
	DefaultBasePath        = "/carphoto"
	DefaultMaxFileSize     = 20 << 20
	DefaultMaxBatchSize    = 200 << 20
	DefaultArchiveAttempts = 3
	DefaultLRUSize         = 512
)

// NewConfig creates a new Config with the provided values and default paths.
func NewConfig(operator, baseDir string) *Config {
	cfg := &Config{
		Operator: operator,
		BaseDir:  baseDir,
		LogDir:   filepath.Join(baseDir, "log"),
		Disk:     DiskConfig{Backend: "http"},
		Database: DatabaseConfig{Type: "sqlite", DataDir: filepath.Join(baseDir, "db")},
		Upload:   UploadConfig{Ignore: []string{".*", "Thumbs.db", "*.tmp"}},
	}
	cfg.ApplyDefaults()
	return cfg
}

// ApplyDefaults fills every zero value with its default.
func (c *Config) ApplyDefaults() {
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.ArchiveRegion == "" {
		c.ArchiveRegion = DefaultArchiveRegion
	}

	setDuration := func(d *Duration, v time.Duration) {
		if d.Duration <= 0 {
			d.Duration = v
		}
	}

	if c.Disk.BasePath == "" {
		c.Disk.BasePath = DefaultBasePath
	}
	setDuration(&c.Disk.Timeout, 30*time.Second)
	if c.Disk.RateLimit > 0 && c.Disk.RateBurst <= 0 {
		c.Disk.RateBurst = int(c.Disk.RateLimit) + 1
	}

	if c.Retry.MaxAttempts <= 0 {
		c.Retry.MaxAttempts = 3
	}
	setDuration(&c.Retry.BaseDelay, 200*time.Millisecond)
	setDuration(&c.Retry.MaxDelay, 5*time.Second)

	setDuration(&c.Cache.RegionTTL, 5*time.Minute)
	if c.Cache.LRUSize <= 0 {
		c.Cache.LRUSize = DefaultLRUSize
	}
	setDuration(&c.Cache.LRUTTL, 10*time.Minute)

	if c.Database.Type == "" {
		c.Database.Type = "none"
	}

	if c.Write.MaxFileSize <= 0 {
		c.Write.MaxFileSize = DefaultMaxFileSize
	}
	if c.Write.MaxBatchSize <= 0 {
		c.Write.MaxBatchSize = DefaultMaxBatchSize
	}
	setDuration(&c.Write.LockTTL, 2*time.Minute)
	setDuration(&c.Write.LockWait, 30*time.Second)
	setDuration(&c.Write.LockPoll, 500*time.Millisecond)
	if c.Write.ArchiveAttempts <= 0 {
		c.Write.ArchiveAttempts = DefaultArchiveAttempts
	}

	if c.Logging.MaxSizeMB <= 0 {
		c.Logging.MaxSizeMB = 10
	}
	if c.Logging.MaxBackups <= 0 {
		c.Logging.MaxBackups = 5
	}
	if c.Logging.MaxAgeDays <= 0 {
		c.Logging.MaxAgeDays = 30
	}

	if c.Metrics.ListenAddr == "" {
		c.Metrics.ListenAddr = "127.0.0.1:9464"
	}
}

// Validate checks the fields each tagged-union type requires.
func (c *Config) Validate() error {
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown log_level: %q", c.LogLevel)
	}

	switch c.Disk.Backend {
	case "http":
		if c.Disk.Token == "" {
			return fmt.Errorf("disk backend http requires token to be set")
		}
	case "s3":
		if c.Disk.S3Bucket == "" {
			return fmt.Errorf("disk backend s3 requires s3_bucket to be set")
		}
	case "filesystem":
		if c.Disk.FSRoot == "" {
			return fmt.Errorf("disk backend filesystem requires fs_root to be set")
		}
	case "memory":
	default:
		return fmt.Errorf("unknown disk backend: %q", c.Disk.Backend)
	}

	switch c.Database.Type {
	case "sqlite":
		if c.Database.DataDir == "" {
			return fmt.Errorf("database type sqlite requires data_dir to be set")
		}
	case "memory", "none":
	default:
		return fmt.Errorf("unknown database type: %q", c.Database.Type)
	}

	if c.Write.LockTTL.Duration < c.Write.LockPoll.Duration {
		return fmt.Errorf("write.lock_ttl (%s) must not be shorter than write.lock_poll (%s)", c.Write.LockTTL, c.Write.LockPoll)
	}
	return nil
}

// Manager handles reading and writing configuration.
type Manager struct{}

// Read decodes a Config from the provided reader.
func (m *Manager) Read(r io.Reader) (*Config, error) {
	var cfg Config
	if _, err := toml.NewDecoder(r).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return &cfg, nil
}

// Write encodes a Config to the provided writer.
func (m *Manager) Write(w io.Writer, cfg *Config) error {
	if err := toml.NewEncoder(w).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}

// ReadFromFile reads a Config from the specified file path. Defaults are
// applied to whatever the file leaves unset.
func ReadFromFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	cfg, err := m.Read(f)
	if err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}
	cfg.ApplyDefaults()
	return cfg, nil
}

// writeToFile writes a Config to the specified file path. The file may hold
// a token, so it is only readable by its owner.
func writeToFile(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	if err := m.Write(f, cfg); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}
	return nil
}

// Init initializes a new config file at the specified path with the provided Config.
func Init(path string, cfg *Config) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	if err := writeToFile(path, cfg); err != nil {
		return fmt.Errorf("initializing config: %w", err)
	}
	return nil
}
