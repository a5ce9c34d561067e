// Package config loads the refresh and lookup configuration from an
// optional YAML file, a .env file and the environment, in that order of
// increasing precedence.
package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Store      StoreConfig      `yaml:"store"`
	Source     SourceConfig     `yaml:"source"`
	Refresh    RefreshConfig    `yaml:"refresh"`
	Import     ImportConfig     `yaml:"import"`
	Archive    ArchiveConfig    `yaml:"archive"`
	Checkpoint CheckpointConfig `yaml:"checkpoint"`
	Catalog    CatalogConfig    `yaml:"catalog"`
	Audit      AuditConfig      `yaml:"audit"`
	Logging    LoggingConfig    `yaml:"logging"`
	Metrics    MetricsConfig    `yaml:"metrics"`
}

type StoreConfig struct {
	Backend    string   `yaml:"backend"` // "d1" | "sqlite"
	SQLitePath string   `yaml:"sqlite_path"`
	D1         D1Config `yaml:"d1"`
}

type D1Config struct {
	AccountID           string        `yaml:"account_id"`
	DatabaseID          string        `yaml:"database_id"`
	APIToken            string        `yaml:"api_token"`
	BaseURL             string        `yaml:"base_url"`
	Timeout             time.Duration `yaml:"timeout"`
	TransientSignatures []string      `yaml:"transient_signatures"`
}

type SourceConfig struct {
	Kind              string `yaml:"kind"` // "maxmind" | "bucket" | "local"
	MaxMindURL        string `yaml:"maxmind_url"`
	MaxMindAccountID  string `yaml:"maxmind_account_id"`
	MaxMindLicenseKey string `yaml:"maxmind_license_key"`
	BucketURL         string `yaml:"bucket_url"`
	BucketKey         string `yaml:"bucket_key"`
	Path              string `yaml:"path"`
}

type RefreshConfig struct {
	ChunkSize           int           `yaml:"chunk_size"`
	ChunkCount          int           `yaml:"chunk_count"`
	MaxRowsPerStatement int           `yaml:"max_rows_per_statement"`
	SplitFiles          bool          `yaml:"split_files"`
	DumpOnly            bool          `yaml:"dump_only"`
	Force               bool          `yaml:"force"`
	IncludeIPv6         bool          `yaml:"include_ipv6"`
	Transaction         bool          `yaml:"transaction"`
	StrictRanges        bool          `yaml:"strict_ranges"`
	Snapshot            bool          `yaml:"snapshot"`
	SnapshotCompression string        `yaml:"snapshot_compression"`
	WorkDir             string        `yaml:"work_dir"`
	Interval            time.Duration `yaml:"interval"`
}

type ImportConfig struct {
	MaxAttempts      int           `yaml:"max_attempts"`
	BackoffUnit      time.Duration `yaml:"backoff_unit"`
	PollInterval     time.Duration `yaml:"poll_interval"`
	UploadBufferSize int           `yaml:"upload_buffer_size"`
	UploadTimeout    time.Duration `yaml:"upload_timeout"`
}

type ArchiveConfig struct {
	Backend     string `yaml:"backend"` // "" (disabled) | "local" | "gcs" | "s3" | "url"
	LocalDir    string `yaml:"local_dir"`
	GCSBucket   string `yaml:"gcs_bucket"`
	S3Bucket    string `yaml:"s3_bucket"`
	S3Endpoint  string `yaml:"s3_endpoint"`
	S3Region    string `yaml:"s3_region"`
	BucketURL   string `yaml:"bucket_url"`
	Prefix      string `yaml:"prefix"`
	Compression string `yaml:"compression"`
}

type CheckpointConfig struct {
	Enabled bool   `yaml:"enabled"`
	Dir     string `yaml:"dir"`
}

type CatalogConfig struct {
	PostgresDSN string `yaml:"postgres_dsn"`
	Namespace   string `yaml:"namespace"`
}

type AuditConfig struct {
	Enabled    bool          `yaml:"enabled"`
	Endpoint   string        `yaml:"endpoint"`
	BackupDir  string        `yaml:"backup_dir"`
	Retries    int           `yaml:"retries"`
	RetryDelay time.Duration `yaml:"retry_delay"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type MetricsConfig struct {
	Address string `yaml:"address"` // empty disables the metrics server
}

// Defaults returns the configuration used when nothing overrides it.
func Defaults() Config {
	return Config{
		Store:  StoreConfig{Backend: "d1"},
		Source: SourceConfig{Kind: "maxmind"},
		Refresh: RefreshConfig{
			ChunkSize:           10000,
			MaxRowsPerStatement: 250,
			IncludeIPv6:         true,
			SnapshotCompression: "zstd",
			WorkDir:             ".tmp",
		},
		Import: ImportConfig{
			MaxAttempts:  5,
			BackoffUnit:  2 * time.Second,
			PollInterval: time.Second,
		},
		Archive:    ArchiveConfig{Prefix: "archive/", Compression: "zstd"},
		Checkpoint: CheckpointConfig{Enabled: true},
		Catalog:    CatalogConfig{Namespace: "geotime"},
		Logging:    LoggingConfig{Level: "info", Format: "json"},
	}
}

// Load builds the configuration. path may be empty. A missing .env file is
// not an error; variables already set in the environment win over .env.
func Load(path string) (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	cfg := Defaults()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	applyEnv(&cfg)

	if cfg.Checkpoint.Dir == "" {
		cfg.Checkpoint.Dir = filepath.Join(cfg.Refresh.WorkDir, "state")
	}
	if cfg.Audit.BackupDir == "" {
		cfg.Audit.BackupDir = filepath.Join(cfg.Refresh.WorkDir, "audit")
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// MustLoad loads the configuration named by GEOTIME_CONFIG or exits.
func MustLoad() Config {
	log.Println("[config] loading")
	cfg, err := Load(os.Getenv("GEOTIME_CONFIG"))
	if err != nil {
		log.Fatalf("[config] %v", err)
	}
	return cfg
}

func applyEnv(cfg *Config) {
	cfg.Store.Backend = getenvDefault("GEOTIME_STORE", cfg.Store.Backend)
	cfg.Store.SQLitePath = getenvDefault("GEOTIME_SQLITE_PATH", cfg.Store.SQLitePath)
	cfg.Store.D1.AccountID = getenvDefault("CLOUDFLARE_ACCOUNT_ID", cfg.Store.D1.AccountID)
	cfg.Store.D1.DatabaseID = getenvDefault("CLOUDFLARE_D1_DATABASE_ID", cfg.Store.D1.DatabaseID)
	cfg.Store.D1.APIToken = getenvDefault("CLOUDFLARE_API_TOKEN_NO_WRANGLER",
		getenvDefault("CLOUDFLARE_API_TOKEN", cfg.Store.D1.APIToken))

	cfg.Source.Kind = getenvDefault("GEOTIME_SOURCE", cfg.Source.Kind)
	cfg.Source.MaxMindAccountID = getenvDefault("MAXMIND_ACCOUNT_ID", cfg.Source.MaxMindAccountID)
	cfg.Source.MaxMindLicenseKey = getenvDefault("MAXMIND_LICENSE_KEY", cfg.Source.MaxMindLicenseKey)
	cfg.Source.BucketURL = getenvDefault("GEOTIME_SOURCE_BUCKET_URL", cfg.Source.BucketURL)
	cfg.Source.BucketKey = getenvDefault("GEOTIME_SOURCE_BUCKET_KEY", cfg.Source.BucketKey)
	cfg.Source.Path = getenvDefault("GEOTIME_SOURCE_PATH", cfg.Source.Path)

	r := &cfg.Refresh
	r.ChunkSize = getenvInt("GEOTIME_CHUNK_SIZE", r.ChunkSize)
	r.ChunkCount = getenvInt("GEOTIME_CHUNK_COUNT", r.ChunkCount)
	r.SplitFiles = getenvBool("GEOTIME_SPLIT_FILES", r.SplitFiles)
	r.DumpOnly = getenvBool("GEOTIME_DUMP_ONLY", r.DumpOnly)
	r.Force = getenvBool("GEOTIME_FORCE", r.Force)
	r.IncludeIPv6 = getenvBool("GEOTIME_INCLUDE_IPV6", r.IncludeIPv6)
	r.Transaction = getenvBool("GEOTIME_TRANSACTION", r.Transaction)
	r.StrictRanges = getenvBool("GEOTIME_STRICT_RANGES", r.StrictRanges)
	r.Snapshot = getenvBool("GEOTIME_SNAPSHOT", r.Snapshot)
	r.WorkDir = getenvDefault("GEOTIME_WORK_DIR", r.WorkDir)
	r.Interval = getenvDuration("GEOTIME_INTERVAL", r.Interval)

	a := &cfg.Archive
	a.Backend = getenvDefault("GEOTIME_ARCHIVE_BACKEND", a.Backend)
	a.LocalDir = getenvDefault("GEOTIME_ARCHIVE_DIR", a.LocalDir)
	a.BucketURL = getenvDefault("GEOTIME_ARCHIVE_BUCKET_URL", a.BucketURL)
	a.Prefix = getenvDefault("GEOTIME_ARCHIVE_PREFIX", a.Prefix)
	a.Compression = getenvDefault("GEOTIME_ARCHIVE_COMPRESSION", a.Compression)

	cfg.Checkpoint.Enabled = getenvBool("GEOTIME_CHECKPOINT", cfg.Checkpoint.Enabled)
	cfg.Checkpoint.Dir = getenvDefault("GEOTIME_CHECKPOINT_DIR", cfg.Checkpoint.Dir)

	cfg.Catalog.PostgresDSN = getenvDefault("CATALOG_DSN", cfg.Catalog.PostgresDSN)
	cfg.Catalog.Namespace = getenvDefault("CATALOG_NAMESPACE", cfg.Catalog.Namespace)

	cfg.Audit.Enabled = getenvBool("AUDIT_ENABLED", cfg.Audit.Enabled)
	cfg.Audit.Endpoint = getenvDefault("AUDIT_ENDPOINT", cfg.Audit.Endpoint)
	cfg.Audit.BackupDir = getenvDefault("AUDIT_BACKUP_DIR", cfg.Audit.BackupDir)

	cfg.Logging.Level = getenvDefault("LOG_LEVEL", cfg.Logging.Level)
	cfg.Logging.Format = getenvDefault("LOG_FORMAT", cfg.Logging.Format)
	cfg.Metrics.Address = getenvDefault("METRICS_ADDR", cfg.Metrics.Address)
}

// Validate reports the first configuration problem found.
func (c Config) Validate() error {
	if c.Refresh.ChunkSize <= 0 {
		return fmt.Errorf("refresh.chunk_size must be positive, got %d", c.Refresh.ChunkSize)
	}
	if c.Refresh.ChunkCount < 0 {
		return fmt.Errorf("refresh.chunk_count must not be negative, got %d", c.Refresh.ChunkCount)
	}
	if c.Refresh.MaxRowsPerStatement <= 0 {
		return fmt.Errorf("refresh.max_rows_per_statement must be positive, got %d", c.Refresh.MaxRowsPerStatement)
	}
	if c.Refresh.WorkDir == "" {
		return errors.New("refresh.work_dir is required")
	}
	if c.Import.MaxAttempts <= 0 {
		return fmt.Errorf("import.max_attempts must be positive, got %d", c.Import.MaxAttempts)
	}

	switch c.Store.Backend {
	case "d1":
		if !c.Refresh.DumpOnly {
			var missing []string
			if c.Store.D1.AccountID == "" {
				missing = append(missing, "CLOUDFLARE_ACCOUNT_ID")
			}
			if c.Store.D1.DatabaseID == "" {
				missing = append(missing, "CLOUDFLARE_D1_DATABASE_ID")
			}
			if c.Store.D1.APIToken == "" {
				missing = append(missing, "CLOUDFLARE_API_TOKEN_NO_WRANGLER")
			}
			if len(missing) > 0 {
				return fmt.Errorf("d1 store requires %s", strings.Join(missing, ", "))
			}
		}
	case "sqlite":
		if c.Store.SQLitePath == "" {
			return errors.New("sqlite store requires store.sqlite_path")
		}
	default:
		return fmt.Errorf("unknown store backend: %s", c.Store.Backend)
	}

	switch c.Source.Kind {
	case "maxmind":
		if c.Source.MaxMindAccountID == "" || c.Source.MaxMindLicenseKey == "" {
			return errors.New("maxmind source requires MAXMIND_ACCOUNT_ID and MAXMIND_LICENSE_KEY")
		}
	case "bucket":
		if c.Source.BucketURL == "" || c.Source.BucketKey == "" {
			return errors.New("bucket source requires source.bucket_url and source.bucket_key")
		}
	case "local":
		if c.Source.Path == "" {
			return errors.New("local source requires source.path")
		}
	default:
		return fmt.Errorf("unknown source kind: %s", c.Source.Kind)
	}

	switch c.Archive.Compression {
	case "", "none", "zstd":
	default:
		return fmt.Errorf("unknown archive compression: %s", c.Archive.Compression)
	}
	return nil
}

func getenvDefault(key, def string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}

func getenvInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	parsed, err := strconv.Atoi(v)
	if err != nil {
		log.Printf("[config] ignoring %s=%q: %v", key, v, err)
		return def
	}
	return parsed
}

func getenvBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	parsed, err := strconv.ParseBool(v)
	if err != nil {
		log.Printf("[config] ignoring %s=%q: %v", key, v, err)
		return def
	}
	return parsed
}

// getenvDuration accepts Go durations ("1h30m") or a bare number of seconds.
func getenvDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		log.Printf("[config] ignoring %s=%q: %v", key, v, err)
		return def
	}
	return d
}
