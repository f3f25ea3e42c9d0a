// Package config loads the service's YAML configuration, applies .env and
// process-environment overrides, and exposes typed defaults — generalized
// from the teacher's flat Config/Default() pair into the sections this
// service needs: uploads, retention, scanner, CDN, and query limits.
package config

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type DatabaseType string

const (
	DatabaseMySQL  DatabaseType = "mysql"
	DatabaseSQLite DatabaseType = "sqlite"
)

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Storage   StorageConfig   `yaml:"storage"`
	Database  DatabaseConfig  `yaml:"database"`
	Uploads   UploadsConfig   `yaml:"uploads"`
	Chunks    ChunksConfig    `yaml:"chunks"`
	Retention RetentionConfig `yaml:"retention"`
	Scanner   ScannerConfig   `yaml:"scanner"`
	CDN       CDNConfig       `yaml:"cdn"`
	Query     QueryConfig     `yaml:"query"`
	Albums    AlbumsConfig    `yaml:"albums"`
	Sweeper   SweeperConfig   `yaml:"sweeper"`
	Accounts  AccountsConfig  `yaml:"accounts"`
}

type ServerConfig struct {
	Port       string `yaml:"port"`
	Domain     string `yaml:"domain"`
	HomeDomain string `yaml:"home_domain"`
	Private    bool   `yaml:"private"`
	TrustProxy bool   `yaml:"trust_proxy"`
	Version    string `yaml:"version"`
	Secret     string `yaml:"secret"`
}

type StorageConfig struct {
	DataDir       string `yaml:"data_dir"`
	VolumeFileExt string `yaml:"volume_file_ext"`
	SyncInterval  int    `yaml:"sync_interval"`
	ReadOnly      bool   `yaml:"read_only"`
	ServeWithNode bool   `yaml:"serve_files_with_node"`
}

type DatabaseConfig struct {
	Type   DatabaseType `yaml:"type"`
	SQLite SQLiteConfig `yaml:"sqlite"`
	MySQL  MySQLConfig  `yaml:"mysql"`
}

type SQLiteConfig struct {
	Path string `yaml:"path"`
}

type MySQLConfig struct {
	Host      string `yaml:"host"`
	Port      int    `yaml:"port"`
	User      string `yaml:"user"`
	Password  string `yaml:"password"`
	Database  string `yaml:"database"`
	Charset   string `yaml:"charset"`
	ParseTime bool   `yaml:"parse_time"`
	Loc       string `yaml:"loc"`
}

type UploadsConfig struct {
	MaxSize            int64    `yaml:"max_size"`
	MaxFilesPerUpload  int      `yaml:"max_files_per_upload"`
	MaxFieldsPerUpload int      `yaml:"max_fields_per_upload"`
	ExtensionBlacklist []string `yaml:"extension_blacklist"`
	ExtensionWhitelist []string `yaml:"extension_whitelist"`
	URLExtensionBlack  []string `yaml:"url_extension_blacklist"`
	URLExtensionWhite  []string `yaml:"url_extension_whitelist"`
	FilterEmptyFile    bool     `yaml:"filter_empty_file"`
	HashingEnabled     bool     `yaml:"hashing_enabled"`
	FileIdentifierLen  int      `yaml:"file_identifier_length"`
	StoreIPs           bool     `yaml:"store_ips"`
	AllowStripTags     bool     `yaml:"allow_strip_tags"`
	ThumbnailsEnabled  bool     `yaml:"thumbnails_enabled"`
	URLMaxSize         int64    `yaml:"url_max_size"`
	URLFetchTimeoutSec int      `yaml:"url_fetch_timeout_seconds"`
	URLProxyTemplate   string   `yaml:"url_proxy_template"`
	DeriveMimeFromExt  bool     `yaml:"derive_mime_from_extension"`
}

type ChunksConfig struct {
	ChunkSize      int64 `yaml:"chunk_size"`
	MaxChunks      int   `yaml:"max_chunks"`
	IdleTimeoutSec int   `yaml:"idle_timeout_seconds"`
	AlbumIDLength  int   `yaml:"album_identifier_length"`
}

// GroupRetention holds the allowed retention periods, in hours, for one
// usergroup rank. 0 means "permanent" and is always implicitly allowed.
type GroupRetention struct {
	Rank          int    `yaml:"rank"`
	Name          string `yaml:"name"`
	Periods       []int  `yaml:"periods"`
	DefaultPeriod *int   `yaml:"default_period"`
	MaxUploadSize int64  `yaml:"max_upload_size"`
}

type RetentionConfig struct {
	Groups []GroupRetention `yaml:"groups"`
}

type ScannerConfig struct {
	Enabled      bool     `yaml:"enabled"`
	Address      string   `yaml:"address"`
	BypassGroup  int      `yaml:"bypass_group_rank"`
	WhitelistExt []string `yaml:"whitelist_extensions"`
	MaxScanSize  int64    `yaml:"max_scan_size"`
}

type CDNConfig struct {
	Enabled        bool   `yaml:"enabled"`
	BaseURL        string `yaml:"base_url"`
	APIToken       string `yaml:"api_token"`
	UserServiceKey string `yaml:"user_service_key"`
	APIKey         string `yaml:"api_key"`
	Email          string `yaml:"email"`
	ChunkSize      int    `yaml:"chunk_size"`
	MaxRetries     int    `yaml:"max_retries"`
}

type QueryConfig struct {
	MaxTextQueries    int `yaml:"max_text_queries"`
	MaxWildcardsInKey int `yaml:"max_wildcards_in_key"`
	MaxSortKeys       int `yaml:"max_sort_keys"`
	MaxIsKeys         int `yaml:"max_is_keys"`
	PageSize          int `yaml:"page_size"`
}

type AlbumsConfig struct {
	IdentifierLength int   `yaml:"identifier_length"`
	ZipMaxTotalSize  int64 `yaml:"zip_max_total_size"`
}

type SweeperConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Schedule string `yaml:"schedule"`
	Verbose  bool   `yaml:"verbose"`
}

type AccountsConfig struct {
	Enabled              bool `yaml:"enable_user_accounts"`
	AuthFailureLimit     int  `yaml:"auth_failure_limit"`
	AuthFailureWindowSec int  `yaml:"auth_failure_window_seconds"`
}

// LoadConfig reads and parses a YAML config file, then applies .env and
// process-environment overrides.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyEnvOverrides(cfg)
	return cfg, nil
}

// applyEnvOverrides shadows a handful of frequently-deployed config keys
// with environment variables, loading a .env file first if present.
func applyEnvOverrides(cfg *Config) {
	_ = godotenv.Load()

	if v, ok := os.LookupEnv("PRIVATE"); ok {
		cfg.Server.Private = v == "1" || v == "true"
	}
	if v, ok := os.LookupEnv("ENABLE_USER_ACCOUNTS"); ok {
		cfg.Accounts.Enabled = v == "1" || v == "true"
	}
	if v, ok := os.LookupEnv("SERVE_FILES_WITH_NODE"); ok {
		cfg.Storage.ServeWithNode = v == "1" || v == "true"
	}
	if v, ok := os.LookupEnv("PORT"); ok && v != "" {
		cfg.Server.Port = ":" + v
	}
	if v, ok := os.LookupEnv("DOMAIN"); ok && v != "" {
		cfg.Server.Domain = v
	}
	if v, ok := os.LookupEnv("HOME_DOMAIN"); ok && v != "" {
		cfg.Server.HomeDomain = v
	}
	if v, ok := os.LookupEnv("TRUST_PROXY"); ok {
		cfg.Server.TrustProxy = v == "1" || v == "true"
	}
	if v, ok := os.LookupEnv("SAFE_SECRET"); ok && v != "" {
		cfg.Server.Secret = v
	}
}

// GetDatabaseDSN generates a database DSN from the configuration.
func (c *Config) GetDatabaseDSN() string {
	switch c.Database.Type {
	case DatabaseSQLite:
		return c.Database.SQLite.Path
	case DatabaseMySQL:
		m := c.Database.MySQL
		return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=%s&parseTime=%t&loc=%s",
			m.User, m.Password, m.Host, m.Port, m.Database, m.Charset, m.ParseTime, m.Loc)
	default:
		return ""
	}
}

// Default returns the built-in configuration used when no config file is
// present, and as the base that LoadConfig unmarshals on top of.
func Default() *Config {
	defaultPeriod := 0
	return &Config{
		Server: ServerConfig{
			Port:    ":8080",
			Version: "1.0.0",
		},
		Storage: StorageConfig{
			DataDir:       "./data",
			VolumeFileExt: ".dat",
			SyncInterval:  60,
		},
		Database: DatabaseConfig{
			Type: DatabaseSQLite,
			SQLite: SQLiteConfig{
				Path: "./data/database/db.sqlite3",
			},
			MySQL: MySQLConfig{
				Host: "127.0.0.1", Port: 3306, User: "root",
				Database: "safe", Charset: "utf8mb4", ParseTime: true, Loc: "Local",
			},
		},
		Uploads: UploadsConfig{
			MaxSize:            1 << 30,
			MaxFilesPerUpload:  20,
			MaxFieldsPerUpload: 6,
			FilterEmptyFile:    true,
			HashingEnabled:     true,
			FileIdentifierLen:  8,
			StoreIPs:           true,
			AllowStripTags:     true,
			ThumbnailsEnabled:  true,
			URLMaxSize:         100 << 20,
			URLFetchTimeoutSec: 10,
		},
		Chunks: ChunksConfig{
			ChunkSize:      5 << 20,
			MaxChunks:      10000,
			IdleTimeoutSec: 30 * 60,
			AlbumIDLength:  8,
		},
		Retention: RetentionConfig{
			Groups: []GroupRetention{
				{Rank: 0, Name: "anonymous", Periods: []int{0}, DefaultPeriod: &defaultPeriod},
				{Rank: 1, Name: "user", Periods: []int{0, 24, 168, 720}, DefaultPeriod: &defaultPeriod},
				{Rank: 100, Name: "superadmin", Periods: []int{0}},
			},
		},
		Scanner: ScannerConfig{
			Enabled:     false,
			BypassGroup: 100,
			MaxScanSize: 200 << 20,
		},
		Query: QueryConfig{
			MaxTextQueries:    4,
			MaxWildcardsInKey: 3,
			MaxSortKeys:       2,
			MaxIsKeys:         3,
			PageSize:          50,
		},
		Albums: AlbumsConfig{
			IdentifierLength: 8,
			ZipMaxTotalSize:  2 << 30,
		},
		Sweeper: SweeperConfig{
			Enabled:  true,
			Schedule: "@every 1h",
		},
		Accounts: AccountsConfig{
			Enabled:              true,
			AuthFailureLimit:     6,
			AuthFailureWindowSec: 600,
		},
	}
}
