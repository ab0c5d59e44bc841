package platform

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

func GetEnv(key, defaultVal string) string {
	if val, exists := os.LookupEnv(key); exists {
		return val
	}
	return defaultVal
}

func GetEnvInt(key string, defaultVal int) int {
	if val, exists := os.LookupEnv(key); exists {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func GetEnvFloat(key string, defaultVal float64) float64 {
	if val, exists := os.LookupEnv(key); exists {
		if f, err := strconv.ParseFloat(strings.TrimSpace(val), 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func GetEnvBool(key string, defaultVal bool) bool {
	if val, exists := os.LookupEnv(key); exists {
		if strings.ToLower(val) == "true" || val == "1" {
			return true
		}
		return false
	}
	return defaultVal
}

// Config is the process configuration shared by the CLI and the API server.
type Config struct {
	LogLevel string `yaml:"log_level"`
	Console  bool   `yaml:"console"`

	Analysis   AnalysisConfig   `yaml:"analysis"`
	Source     SourceConfig     `yaml:"source"`
	ClickHouse ClickHouseConfig `yaml:"clickhouse"`
	Postgres   PostgresConfig   `yaml:"postgres"`
	Server     ServerConfig     `yaml:"server"`
}

// AnalysisConfig holds operator defaults for an analysis run.
type AnalysisConfig struct {
	Sigma  float64 `yaml:"sigma"`
	Window string  `yaml:"window"`
}

// SourceConfig selects where measurement tables are read from.
type SourceConfig struct {
	Kind        string `yaml:"kind"` // workbook, clickhouse, postgres
	Workbook    string `yaml:"workbook"`
	WorkbookURL string `yaml:"workbook_url"`
	S3Bucket    string `yaml:"s3_bucket"`
	S3Key       string `yaml:"s3_key"`
}

type ClickHouseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Database string `yaml:"database"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
}

type PostgresConfig struct {
	DSN string `yaml:"dsn"`
}

type ServerConfig struct {
	Port        int      `yaml:"port"`
	CORSOrigins []string `yaml:"cors_origins"`
}

// DefaultConfig returns development defaults.
func DefaultConfig() *Config {
	return &Config{
		LogLevel: "info",
		Analysis: AnalysisConfig{
			Sigma:  3.0,
			Window: "last_30",
		},
		Source: SourceConfig{
			Kind: "workbook",
		},
		ClickHouse: ClickHouseConfig{
			Host:     "localhost",
			Port:     9000,
			Database: "spc",
			User:     "default",
		},
		Server: ServerConfig{
			Port:        8080,
			CORSOrigins: []string{"*"},
		},
	}
}

// LoadConfig reads an optional YAML file over the defaults, then applies
// environment overrides. An empty path skips the file.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.LogLevel = GetEnv("SPC_LOG_LEVEL", c.LogLevel)
	c.Console = GetEnvBool("SPC_LOG_CONSOLE", c.Console)

	c.Analysis.Sigma = GetEnvFloat("SPC_SIGMA", c.Analysis.Sigma)
	c.Analysis.Window = GetEnv("SPC_WINDOW", c.Analysis.Window)

	c.Source.Kind = GetEnv("SPC_SOURCE", c.Source.Kind)
	c.Source.Workbook = GetEnv("SPC_WORKBOOK", c.Source.Workbook)
	c.Source.WorkbookURL = GetEnv("SPC_WORKBOOK_URL", c.Source.WorkbookURL)
	c.Source.S3Bucket = GetEnv("SPC_S3_BUCKET", c.Source.S3Bucket)
	c.Source.S3Key = GetEnv("SPC_S3_KEY", c.Source.S3Key)

	c.ClickHouse.Host = GetEnv("CLICKHOUSE_HOST", c.ClickHouse.Host)
	c.ClickHouse.Port = GetEnvInt("CLICKHOUSE_PORT", c.ClickHouse.Port)
	c.ClickHouse.Database = GetEnv("CLICKHOUSE_DATABASE", c.ClickHouse.Database)
	c.ClickHouse.User = GetEnv("CLICKHOUSE_USER", c.ClickHouse.User)
	c.ClickHouse.Password = GetEnv("CLICKHOUSE_PASSWORD", c.ClickHouse.Password)

	c.Postgres.DSN = GetEnv("POSTGRES_DSN", c.Postgres.DSN)

	c.Server.Port = GetEnvInt("SPC_PORT", c.Server.Port)
	if origins := GetEnv("SPC_CORS_ORIGINS", ""); origins != "" {
		c.Server.CORSOrigins = SplitList(origins)
	}
}

// SplitList splits a comma-separated list, trimming blanks.
func SplitList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
