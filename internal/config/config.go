// Package config handles loading and parsing of Rupee configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration for Rupee.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Logging       LoggingConfig       `yaml:"logging"`
	Observability ObservabilityConfig `yaml:"observability"`
	Blob          BlobConfig          `yaml:"blob"`
	Meta          MetaConfig          `yaml:"meta"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
	// ShutdownTimeout is the graceful shutdown timeout in seconds.
	ShutdownTimeout int `yaml:"shutdown_timeout"`
	// MaxBlobSize is the largest accepted upload body in bytes.
	MaxBlobSize int64 `yaml:"max_blob_size"`
}

// LoggingConfig holds structured logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// ObservabilityConfig toggles the Prometheus endpoint.
type ObservabilityConfig struct {
	Metrics bool `yaml:"metrics"`
}

// BlobConfig lists the blob backends a blob is replicated to.
type BlobConfig struct {
	// Primary names the backend that is read first.
	Primary string `yaml:"primary"`
	// Hash is the digest algorithm reported for stored payloads.
	Hash     string              `yaml:"hash"`
	Backends []BlobBackendConfig `yaml:"backends"`
}

// BlobBackendConfig selects and parameterises one blob backend.
type BlobBackendConfig struct {
	// Name is the key under which references from this backend are stored.
	Name string `yaml:"name"`
	// Type is the backend discriminator: "mem", "bucket", "s3", "gcs" or "azure".
	Type string `yaml:"type"`
	// PoolSize is the number of independent handles kept for this backend.
	PoolSize int `yaml:"pool_size"`

	Mem    MemoryBlobConfig `yaml:"mem"`
	Bucket BucketConfig     `yaml:"bucket"`
	S3     S3Config         `yaml:"s3"`
	GCS    GCSConfig        `yaml:"gcs"`
	Azure  AzureConfig      `yaml:"azure"`
}

// MemoryBlobConfig has no settings; the memory backend is volatile.
type MemoryBlobConfig struct{}

// BucketConfig holds bucket-file backend settings.
type BucketConfig struct {
	// Path is the bucket data directory.
	Path string `yaml:"path"`
	// MaxSize is the soft ceiling of a single bucket file in bytes.
	MaxSize int64 `yaml:"max_size"`
	// MaxIndex bounds the bucket index scan during allocation.
	MaxIndex uint64 `yaml:"max_index"`
	// AllocationAttempts is the number of full index scans before giving up.
	AllocationAttempts int `yaml:"allocation_attempts"`
	// AllocationBackoffMS is the initial pause between scans in milliseconds.
	AllocationBackoffMS int `yaml:"allocation_backoff_ms"`
}

// AllocationBackoff returns the initial backoff between allocation scans.
func (c BucketConfig) AllocationBackoff() time.Duration {
	return time.Duration(c.AllocationBackoffMS) * time.Millisecond
}

// S3Config holds settings for the Amazon S3 blob backend.
type S3Config struct {
	Bucket          string `yaml:"bucket"`
	Region          string `yaml:"region"`
	Prefix          string `yaml:"prefix"`
	EndpointURL     string `yaml:"endpoint_url"`
	UsePathStyle    bool   `yaml:"use_path_style"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
}

// GCSConfig holds settings for the Google Cloud Storage blob backend.
type GCSConfig struct {
	Bucket  string `yaml:"bucket"`
	Project string `yaml:"project"`
	Prefix  string `yaml:"prefix"`
	// Endpoint overrides the API endpoint (emulators).
	Endpoint string `yaml:"endpoint"`
}

// AzureConfig holds settings for the Azure Blob Storage backend.
type AzureConfig struct {
	Container string `yaml:"container"`
	// AccountURL is the storage account URL, e.g. https://account.blob.core.windows.net.
	AccountURL         string `yaml:"account_url"`
	Prefix             string `yaml:"prefix"`
	ConnectionString   string `yaml:"connection_string"`
	UseManagedIdentity bool   `yaml:"use_managed_identity"`
}

// MetaConfig selects the metadata backend.
type MetaConfig struct {
	// Type is the backend discriminator: "mem", "bolt", "postgres", "sqlite",
	// "dynamodb", "firestore" or "cosmos".
	Type      string          `yaml:"type"`
	Bolt      BoltConfig      `yaml:"bolt"`
	Postgres  PostgresConfig  `yaml:"postgres"`
	SQLite    SQLiteConfig    `yaml:"sqlite"`
	DynamoDB  DynamoDBConfig  `yaml:"dynamodb"`
	Firestore FirestoreConfig `yaml:"firestore"`
	Cosmos    CosmosConfig    `yaml:"cosmos"`
}

// BoltConfig holds embedded key-value metadata settings.
type BoltConfig struct {
	// Path is the directory holding the database file.
	Path string `yaml:"path"`
}

// PostgresConfig holds relational metadata settings.
type PostgresConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Database string `yaml:"database"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"sslmode"`
}

// DSN renders the connection string understood by the pgx driver.
func (c PostgresConfig) DSN() string {
	sslmode := c.SSLMode
	if sslmode == "" {
		sslmode = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.Username, c.Password, c.Host, c.Port, c.Database, sslmode)
}

// SQLiteConfig holds settings for the SQLite metadata backend.
type SQLiteConfig struct {
	// Path is the filesystem path of the database file.
	Path string `yaml:"path"`
}

// DynamoDBConfig holds settings for the DynamoDB metadata backend.
type DynamoDBConfig struct {
	Table       string `yaml:"table"`
	Region      string `yaml:"region"`
	EndpointURL string `yaml:"endpoint_url"`
}

// FirestoreConfig holds settings for the Firestore metadata backend.
type FirestoreConfig struct {
	ProjectID       string `yaml:"project_id"`
	Collection      string `yaml:"collection"`
	CredentialsFile string `yaml:"credentials_file"`
}

// CosmosConfig holds settings for the Azure Cosmos DB metadata backend.
type CosmosConfig struct {
	Endpoint  string `yaml:"endpoint"`
	MasterKey string `yaml:"master_key"`
	Database  string `yaml:"database"`
	Container string `yaml:"container"`
}

// Load reads a YAML configuration file from the given path and returns
// a parsed Config. It applies sensible defaults for unset values.
// If the primary path fails, it falls back to rupee.example.yaml
// in the same directory or parent directory.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		fallbackPaths := []string{
			filepath.Join(filepath.Dir(path), "rupee.example.yaml"),
			filepath.Join(filepath.Dir(path), "..", "rupee.example.yaml"),
		}
		var fallbackErr error
		for _, fp := range fallbackPaths {
			data, fallbackErr = os.ReadFile(fp)
			if fallbackErr == nil {
				break
			}
		}
		if fallbackErr != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints that defaults cannot repair.
func (c *Config) Validate() error {
	seen := make(map[string]bool, len(c.Blob.Backends))
	bucketDirs := make(map[string]string)
	for _, b := range c.Blob.Backends {
		if b.Name == "" {
			return fmt.Errorf("blob backend of type %q has no name", b.Type)
		}
		if seen[b.Name] {
			return fmt.Errorf("duplicate blob backend name %q", b.Name)
		}
		seen[b.Name] = true

		if b.Type != "bucket" {
			continue
		}
		dir := filepath.Clean(b.Bucket.Path)
		if other, ok := bucketDirs[dir]; ok {
			return fmt.Errorf("blob backends %q and %q share bucket path %s", other, b.Name, dir)
		}
		bucketDirs[dir] = b.Name
	}
	if !seen[c.Blob.Primary] {
		return fmt.Errorf("primary blob backend %q is not configured", c.Blob.Primary)
	}
	return nil
}

// Default returns a Config populated only with defaults.
func Default() *Config {
	cfg := defaultConfig()
	applyDefaults(cfg)
	return cfg
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ShutdownTimeout: 30,
			MaxBlobSize:     64 << 20,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Observability: ObservabilityConfig{
			Metrics: true,
		},
		Meta: MetaConfig{
			Type: "bolt",
			Bolt: BoltConfig{Path: "./data/meta"},
		},
	}
}

// applyDefaults fills in any fields that are still at their zero value
// after YAML unmarshaling.
func applyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 30
	}
	if cfg.Server.MaxBlobSize == 0 {
		cfg.Server.MaxBlobSize = 64 << 20
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}

	if cfg.Blob.Hash == "" {
		cfg.Blob.Hash = "sha2_256"
	}
	if len(cfg.Blob.Backends) == 0 {
		cfg.Blob.Backends = []BlobBackendConfig{{Name: "bucket", Type: "bucket"}}
	}
	for i := range cfg.Blob.Backends {
		applyBlobDefaults(&cfg.Blob.Backends[i])
	}
	if cfg.Blob.Primary == "" {
		cfg.Blob.Primary = cfg.Blob.Backends[0].Name
	}

	if cfg.Meta.Type == "" {
		cfg.Meta.Type = "bolt"
	}
	if cfg.Meta.Bolt.Path == "" {
		cfg.Meta.Bolt.Path = "./data/meta"
	}
	if cfg.Meta.SQLite.Path == "" {
		cfg.Meta.SQLite.Path = "./data/meta.db"
	}
	if cfg.Meta.Postgres.Host == "" {
		cfg.Meta.Postgres.Host = "localhost"
	}
	if cfg.Meta.Postgres.Port == 0 {
		cfg.Meta.Postgres.Port = 5432
	}
	if cfg.Meta.Postgres.Database == "" {
		cfg.Meta.Postgres.Database = "rupee"
	}
	if cfg.Meta.Firestore.Collection == "" {
		cfg.Meta.Firestore.Collection = "rupee"
	}
	if cfg.Meta.DynamoDB.Region == "" {
		cfg.Meta.DynamoDB.Region = "us-east-1"
	}
}

func applyBlobDefaults(b *BlobBackendConfig) {
	if b.Name == "" {
		b.Name = b.Type
	}
	if b.PoolSize <= 0 {
		b.PoolSize = 4
	}
	if b.Type == "mem" {
		// Memory references are only meaningful to the handle that issued them.
		b.PoolSize = 1
	}
	if b.Bucket.Path == "" {
		b.Bucket.Path = "./data/buckets"
	}
	if b.Bucket.MaxSize == 0 {
		b.Bucket.MaxSize = 1 << 30
	}
	if b.Bucket.MaxIndex == 0 {
		b.Bucket.MaxIndex = 9999999
	}
	if b.Bucket.AllocationAttempts <= 0 {
		b.Bucket.AllocationAttempts = 1
	}
	if b.Bucket.AllocationBackoffMS == 0 {
		b.Bucket.AllocationBackoffMS = 50
	}
	if b.S3.Region == "" {
		b.S3.Region = "us-east-1"
	}
}
