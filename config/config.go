package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"github.com/malbeclabs/sparkify/pkg/source"
	flag "github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

const (
	SinkParquet    = "parquet"
	SinkDuckLake   = "ducklake"
	SinkClickHouse = "clickhouse"

	DefaultInputURI    = "file://data"
	DefaultOutputURI   = "file://output"
	DefaultSongPattern = source.DefaultSongPattern
	DefaultLogPeriod   = source.DefaultLogPeriod
	DefaultMetricsAddr = ""
)

var ErrInvalidConfig = errors.New("invalid config")

type DuckLakeConfig struct {
	CatalogName string `yaml:"catalog_name"`
	CatalogURI  string `yaml:"catalog_uri"`
	StorageURI  string `yaml:"storage_uri"`
}

type ClickHouseConfig struct {
	Addr     string `yaml:"addr"`
	Database string `yaml:"database"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Secure   bool   `yaml:"secure"`
}

// Config is the full run configuration of sparkify-etl. It is resolved from,
// in increasing precedence: defaults, a YAML file, an env file, the process
// environment and command-line flags.
type Config struct {
	InputURI    string `yaml:"input_uri"`
	OutputURI   string `yaml:"output_uri"`
	SongPattern string `yaml:"song_pattern"`
	LogPeriod   string `yaml:"log_period"`

	Sink          string `yaml:"sink"`
	Mode          string `yaml:"mode"`
	RankPolicy    string `yaml:"rank_policy"`
	TitleMatch    string `yaml:"title_match"`
	WriteUsers    bool   `yaml:"write_users"`
	PartitionTime bool   `yaml:"partition_time"`
	ReloadSongs   bool   `yaml:"reload_songs"`
	IgnoreErrors  bool   `yaml:"ignore_errors"`

	DuckDBPath  string `yaml:"duckdb_path"`
	Threads     int    `yaml:"threads"`
	MemoryLimit string `yaml:"memory_limit"`

	MetricsAddr    string `yaml:"metrics_addr"`
	PushgatewayURL string `yaml:"pushgateway_url"`

	DuckLake   DuckLakeConfig   `yaml:"ducklake"`
	ClickHouse ClickHouseConfig `yaml:"clickhouse"`
}

func Default() Config {
	return Config{
		InputURI:      DefaultInputURI,
		OutputURI:     DefaultOutputURI,
		SongPattern:   DefaultSongPattern,
		LogPeriod:     DefaultLogPeriod,
		Sink:          SinkParquet,
		Mode:          "overwrite",
		RankPolicy:    "strict",
		TitleMatch:    "single",
		WriteUsers:    true,
		PartitionTime: true,
		MetricsAddr:   DefaultMetricsAddr,
		DuckLake: DuckLakeConfig{
			CatalogName: "sparkify",
			CatalogURI:  "file://.tmp/lake/catalog.sqlite",
			StorageURI:  "file://.tmp/lake/data",
		},
		ClickHouse: ClickHouseConfig{
			Addr:     "localhost:9000",
			Database: "default",
			Username: "default",
		},
	}
}

func (c *Config) Validate() error {
	if c.InputURI == "" {
		return fmt.Errorf("%w: input URI is required", ErrInvalidConfig)
	}
	switch c.Sink {
	case SinkParquet:
		if c.OutputURI == "" {
			return fmt.Errorf("%w: output URI is required for the parquet sink", ErrInvalidConfig)
		}
	case SinkDuckLake:
		if c.DuckLake.CatalogURI == "" || c.DuckLake.StorageURI == "" {
			return fmt.Errorf("%w: ducklake catalog and storage URIs are required", ErrInvalidConfig)
		}
	case SinkClickHouse:
		if c.ClickHouse.Addr == "" {
			return fmt.Errorf("%w: clickhouse address is required", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown sink %q (want parquet, ducklake or clickhouse)", ErrInvalidConfig, c.Sink)
	}
	if c.Threads < 0 {
		return fmt.Errorf("%w: threads must be >= 0", ErrInvalidConfig)
	}

	// Optional with default
	if c.SongPattern == "" {
		c.SongPattern = DefaultSongPattern
	}
	if c.LogPeriod == "" {
		c.LogPeriod = DefaultLogPeriod
	}
	return nil
}

// LoadFile overlays the YAML file at path onto c. Keys missing from the file
// keep their current values.
func (c *Config) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

// ApplyEnv overlays the environment variables read through getenv onto c.
// Empty values are ignored.
func (c *Config) ApplyEnv(getenv func(string) string) error {
	strs := map[string]*string{
		"SPARKIFY_INPUT_URI":       &c.InputURI,
		"SPARKIFY_OUTPUT_URI":      &c.OutputURI,
		"SPARKIFY_SONG_PATTERN":    &c.SongPattern,
		"SPARKIFY_LOG_PERIOD":      &c.LogPeriod,
		"SPARKIFY_SINK":            &c.Sink,
		"SPARKIFY_MODE":            &c.Mode,
		"SPARKIFY_RANK_POLICY":     &c.RankPolicy,
		"SPARKIFY_TITLE_MATCH":     &c.TitleMatch,
		"SPARKIFY_DUCKDB_PATH":     &c.DuckDBPath,
		"SPARKIFY_MEMORY_LIMIT":    &c.MemoryLimit,
		"SPARKIFY_METRICS_ADDR":    &c.MetricsAddr,
		"SPARKIFY_PUSHGATEWAY_URL": &c.PushgatewayURL,
		"DUCKLAKE_CATALOG_NAME":    &c.DuckLake.CatalogName,
		"DUCKLAKE_CATALOG_URI":     &c.DuckLake.CatalogURI,
		"DUCKLAKE_STORAGE_URI":     &c.DuckLake.StorageURI,
		"CLICKHOUSE_ADDR":          &c.ClickHouse.Addr,
		"CLICKHOUSE_DATABASE":      &c.ClickHouse.Database,
		"CLICKHOUSE_USERNAME":      &c.ClickHouse.Username,
		"CLICKHOUSE_PASSWORD":      &c.ClickHouse.Password,
	}
	for key, dst := range strs {
		if v := getenv(key); v != "" {
			*dst = v
		}
	}

	bools := map[string]*bool{
		"SPARKIFY_WRITE_USERS":    &c.WriteUsers,
		"SPARKIFY_PARTITION_TIME": &c.PartitionTime,
		"SPARKIFY_RELOAD_SONGS":   &c.ReloadSongs,
		"SPARKIFY_IGNORE_ERRORS":  &c.IgnoreErrors,
		"CLICKHOUSE_SECURE":       &c.ClickHouse.Secure,
	}
	for key, dst := range bools {
		v := getenv(key)
		if v == "" {
			continue
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%w: %s: %w", ErrInvalidConfig, key, err)
		}
		*dst = b
	}

	if v := getenv("SPARKIFY_THREADS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%w: SPARKIFY_THREADS: %w", ErrInvalidConfig, err)
		}
		c.Threads = n
	}
	return nil
}

// AddFlags registers the configuration flags on fs, plus --config and
// --env-file. Flag defaults are informational; only flags set on the command
// line override the other layers.
func AddFlags(fs *flag.FlagSet) {
	d := Default()
	fs.String("config", "", "path to a YAML config file")
	fs.String("env-file", "", "path to a .env file with credentials and SPARKIFY_* settings")

	fs.String("input", d.InputURI, "root of song_data/ and log_data/ (file:// or s3://, or set SPARKIFY_INPUT_URI)")
	fs.String("output", d.OutputURI, "root of the output tables for the parquet sink (or set SPARKIFY_OUTPUT_URI)")
	fs.String("song-pattern", d.SongPattern, "glob of song files below the input root")
	fs.String("log-period", d.LogPeriod, "period directory of the event logs below log_data/")
	fs.String("sink", d.Sink, "output sink (parquet, ducklake, clickhouse)")
	fs.String("mode", d.Mode, "write mode when a table exists (overwrite, error)")
	fs.String("rank-policy", d.RankPolicy, "user tie-break policy (strict, rank)")
	fs.String("title-match", d.TitleMatch, "song title resolution (single, fanout)")
	fs.Bool("write-users", d.WriteUsers, "write the users table")
	fs.Bool("partition-time", d.PartitionTime, "partition the time table by year and month")
	fs.Bool("reload-songs", d.ReloadSongs, "read songs back from the sink before building songplays")
	fs.Bool("ignore-errors", d.IgnoreErrors, "skip malformed input records instead of failing")

	fs.String("duckdb-path", d.DuckDBPath, "DuckDB database file (empty for in-memory)")
	fs.Int("threads", d.Threads, "DuckDB worker threads (0 for the engine default)")
	fs.String("memory-limit", d.MemoryLimit, "DuckDB memory limit, e.g. 4GB")

	fs.String("metrics-addr", d.MetricsAddr, "address to serve prometheus metrics on (empty to disable)")
	fs.String("pushgateway-url", d.PushgatewayURL, "prometheus pushgateway to push metrics to after the run")

	fs.String("ducklake-catalog-name", d.DuckLake.CatalogName, "name of the DuckLake catalog (or set DUCKLAKE_CATALOG_NAME)")
	fs.String("ducklake-catalog-uri", d.DuckLake.CatalogURI, "URI of the DuckLake catalog (or set DUCKLAKE_CATALOG_URI)")
	fs.String("ducklake-storage-uri", d.DuckLake.StorageURI, "URI of the DuckLake data path (or set DUCKLAKE_STORAGE_URI)")

	fs.String("clickhouse-addr", d.ClickHouse.Addr, "ClickHouse native address (or set CLICKHOUSE_ADDR)")
	fs.String("clickhouse-database", d.ClickHouse.Database, "ClickHouse database (or set CLICKHOUSE_DATABASE)")
	fs.String("clickhouse-username", d.ClickHouse.Username, "ClickHouse username (or set CLICKHOUSE_USERNAME)")
	fs.String("clickhouse-password", d.ClickHouse.Password, "ClickHouse password (or set CLICKHOUSE_PASSWORD)")
	fs.Bool("clickhouse-secure", d.ClickHouse.Secure, "connect to ClickHouse over TLS")
}

// ApplyFlags overlays the flags that were set on the command line.
func (c *Config) ApplyFlags(fs *flag.FlagSet) error {
	strs := map[string]*string{
		"input":                 &c.InputURI,
		"output":                &c.OutputURI,
		"song-pattern":          &c.SongPattern,
		"log-period":            &c.LogPeriod,
		"sink":                  &c.Sink,
		"mode":                  &c.Mode,
		"rank-policy":           &c.RankPolicy,
		"title-match":           &c.TitleMatch,
		"duckdb-path":           &c.DuckDBPath,
		"memory-limit":          &c.MemoryLimit,
		"metrics-addr":          &c.MetricsAddr,
		"pushgateway-url":       &c.PushgatewayURL,
		"ducklake-catalog-name": &c.DuckLake.CatalogName,
		"ducklake-catalog-uri":  &c.DuckLake.CatalogURI,
		"ducklake-storage-uri":  &c.DuckLake.StorageURI,
		"clickhouse-addr":       &c.ClickHouse.Addr,
		"clickhouse-database":   &c.ClickHouse.Database,
		"clickhouse-username":   &c.ClickHouse.Username,
		"clickhouse-password":   &c.ClickHouse.Password,
	}
	for name, dst := range strs {
		if !fs.Changed(name) {
			continue
		}
		v, err := fs.GetString(name)
		if err != nil {
			return fmt.Errorf("failed to get %s flag: %w", name, err)
		}
		*dst = v
	}

	bools := map[string]*bool{
		"write-users":       &c.WriteUsers,
		"partition-time":    &c.PartitionTime,
		"reload-songs":      &c.ReloadSongs,
		"ignore-errors":     &c.IgnoreErrors,
		"clickhouse-secure": &c.ClickHouse.Secure,
	}
	for name, dst := range bools {
		if !fs.Changed(name) {
			continue
		}
		v, err := fs.GetBool(name)
		if err != nil {
			return fmt.Errorf("failed to get %s flag: %w", name, err)
		}
		*dst = v
	}

	if fs.Changed("threads") {
		v, err := fs.GetInt("threads")
		if err != nil {
			return fmt.Errorf("failed to get threads flag: %w", err)
		}
		c.Threads = v
	}
	return nil
}

// Load resolves the configuration from every layer. The env file, if any, is
// loaded into the process environment without overriding variables that are
// already set, so the S3_* and AWS_* credentials it holds reach the storage
// clients too. A nil getenv reads the process environment.
func Load(fs *flag.FlagSet, getenv func(string) string) (*Config, error) {
	if getenv == nil {
		getenv = os.Getenv
	}
	cfg := Default()

	if path, _ := fs.GetString("config"); path != "" {
		if err := cfg.LoadFile(path); err != nil {
			return nil, err
		}
	}
	if path, _ := fs.GetString("env-file"); path != "" {
		if err := godotenv.Load(path); err != nil {
			return nil, fmt.Errorf("failed to load env file: %w", err)
		}
	}
	if err := cfg.ApplyEnv(getenv); err != nil {
		return nil, err
	}
	if err := cfg.ApplyFlags(fs); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
