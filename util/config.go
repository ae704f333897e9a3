package util

import (
	_ "embed"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

const Name = "lemmings"
const ConfigFileName = "config.yaml"

//go:embed config_default.yaml
var embeddedConfig []byte

// FederationConf holds everything the outbound queue, the inbox and the
// object resolver need to know about other instances.
type FederationConf struct {
	Enabled               bool          `yaml:"enabled"`
	Debug                 bool          `yaml:"debug"`
	Allowlist             []string      `yaml:"allowlist"`
	Blocklist             []string      `yaml:"blocklist"`
	FetchLimit            int           `yaml:"fetchLimit"`
	ActorRefreshInterval  time.Duration `yaml:"actorRefreshInterval"`
	FetchTimeout          time.Duration `yaml:"fetchTimeout"`
	DeliveryTimeout       time.Duration `yaml:"deliveryTimeout"`
	PollInterval          time.Duration `yaml:"pollInterval"`
	BatchSize             int           `yaml:"batchSize"`
	RetryBase             time.Duration `yaml:"retryBase"`
	RetryMax              time.Duration `yaml:"retryMax"`
	WorkerRefreshInterval time.Duration `yaml:"workerRefreshInterval"`
	StatsInterval         time.Duration `yaml:"statsInterval"`
}

type AppConfig struct {
	Conf struct {
		Host         string
		HttpPort     int            `yaml:"httpPort"`
		Domain       string         `yaml:"domain"`
		Database     string         `yaml:"database"`
		LogLevel     string         `yaml:"logLevel"`
		Metrics      bool           `yaml:"metrics"`
		SiteCacheTtl time.Duration  `yaml:"siteCacheTtl"`
		RedisAddr    string         `yaml:"redisAddr"`
		Federation   FederationConf `yaml:"federation"`
	}
}

// DefaultConf returns the embedded defaults without touching the file system.
func DefaultConf() *AppConfig {
	c := &AppConfig{}
	if err := yaml.Unmarshal(embeddedConfig, c); err != nil {
		panic(fmt.Sprintf("embedded config is invalid: %v", err))
	}
	return c
}

func ReadConf(logger *zap.Logger) (*AppConfig, error) {
	c := DefaultConf()

	configPath := ResolveFilePath(ConfigFileName)

	buf, err := os.ReadFile(configPath)
	if err != nil {
		logger.Info("config file not found, using embedded defaults", zap.String("path", configPath))
		configDir, dirErr := GetConfigDir()
		if dirErr == nil {
			userConfigPath := configDir + "/" + ConfigFileName
			if writeErr := os.WriteFile(userConfigPath, embeddedConfig, 0644); writeErr != nil {
				logger.Warn("could not write default config", zap.String("path", userConfigPath), zap.Error(writeErr))
			} else {
				logger.Info("created default config file", zap.String("path", userConfigPath))
			}
		}
	} else if err := yaml.Unmarshal(buf, c); err != nil {
		return nil, fmt.Errorf("in config file: %w", err)
	}

	if err := applyEnv(c); err != nil {
		return nil, err
	}
	return c, nil
}

func applyEnv(c *AppConfig) error {
	if v := os.Getenv("LEMMINGS_HOST"); v != "" {
		c.Conf.Host = v
	}
	if v := os.Getenv("LEMMINGS_HTTPPORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("LEMMINGS_HTTPPORT: %w", err)
		}
		c.Conf.HttpPort = port
	}
	if v := os.Getenv("LEMMINGS_DOMAIN"); v != "" {
		c.Conf.Domain = v
	}
	if v := os.Getenv("LEMMINGS_DATABASE"); v != "" {
		c.Conf.Database = v
	}
	if v := os.Getenv("LEMMINGS_LOG_LEVEL"); v != "" {
		c.Conf.LogLevel = v
	}
	if v := os.Getenv("LEMMINGS_REDIS_ADDR"); v != "" {
		c.Conf.RedisAddr = v
	}
	if v := os.Getenv("LEMMINGS_METRICS"); v != "" {
		c.Conf.Metrics = v == "true"
	}
	if v := os.Getenv("LEMMINGS_FEDERATION"); v != "" {
		c.Conf.Federation.Enabled = v == "true"
	}
	if v := os.Getenv("LEMMINGS_FEDERATION_DEBUG"); v != "" {
		c.Conf.Federation.Debug = v == "true"
	}
	if v := os.Getenv("LEMMINGS_BLOCKLIST"); v != "" {
		c.Conf.Federation.Blocklist = splitList(v)
	}
	if v := os.Getenv("LEMMINGS_ALLOWLIST"); v != "" {
		c.Conf.Federation.Allowlist = splitList(v)
	}
	return nil
}

func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// Scheme is https unless federation debugging is on.
func (c *AppConfig) Scheme() string {
	if c.Conf.Federation.Debug {
		return "http"
	}
	return "https"
}

// BaseURL is the origin every local ap_id starts with.
func (c *AppConfig) BaseURL() string {
	return fmt.Sprintf("%s://%s", c.Scheme(), c.Conf.Domain)
}
