package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	defaultPort          = 8080
	defaultWorkers       = 3
	defaultQueueCapacity = 100
	defaultStallSeconds  = 20
	defaultQuality       = "Best"
	defaultMode          = "Video"
)

// Engine holds tuning passed straight through to the extraction binary.
type Engine struct {
	Retries             int      `yaml:"retries"`
	FragmentRetries     int      `yaml:"fragment_retries"`
	SocketTimeoutSec    int      `yaml:"socket_timeout_seconds"`
	ConcurrentFragments int      `yaml:"concurrent_fragments"`
	HTTPChunkSize       int      `yaml:"http_chunk_size"`
	PlayerClients       []string `yaml:"player_clients"`
	CookiesFile         string   `yaml:"cookies_file"`
}

// Config describes runtime configuration for the service.
type Config struct {
	Port           int    `yaml:"port"`
	DownloadDir    string `yaml:"download_dir"`
	DataDir        string `yaml:"data_dir"`
	BinDir         string `yaml:"bin_dir"`
	Workers        int    `yaml:"workers"`
	QueueCapacity  int    `yaml:"queue_capacity"`
	StallSeconds   int    `yaml:"stall_threshold_seconds"`
	DefaultQuality string `yaml:"default_quality"`
	DefaultMode    string `yaml:"default_mode"`
	Engine         Engine `yaml:"engine"`
}

// QualityOptions lists the resolutions the API accepts as quality hints.
var QualityOptions = []string{"Best", "2160p", "1440p", "1080p", "720p", "480p"}

// Default returns the configuration used when no file is present.
func Default() Config {
	wd, _ := os.Getwd()
	return Config{
		Port:           defaultPort,
		DownloadDir:    filepath.Join(wd, "downloads"),
		DataDir:        filepath.Join(wd, "data"),
		BinDir:         filepath.Join(wd, "bin"),
		Workers:        defaultWorkers,
		QueueCapacity:  defaultQueueCapacity,
		StallSeconds:   defaultStallSeconds,
		DefaultQuality: defaultQuality,
		DefaultMode:    defaultMode,
		Engine: Engine{
			Retries:             20,
			FragmentRetries:     20,
			SocketTimeoutSec:    60,
			ConcurrentFragments: 2,
			HTTPChunkSize:       1 << 20,
			PlayerClients:       []string{"web", "mweb", "android"},
		},
	}
}

// Load reads YAML config from the provided path. A missing or empty file
// yields defaults with no error.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, errors.New("empty config path")
	}
	fileData, err := os.ReadFile(path) //nolint:gosec // config path is controlled by deployment
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if len(fileData) == 0 {
		return cfg, nil
	}
	if err := yaml.Unmarshal(fileData, &cfg); err != nil {
		return cfg, fmt.Errorf("parse yaml: %w", err)
	}
	return cfg, cfg.normalize()
}

func (c *Config) normalize() error {
	def := Default()
	if c.Port == 0 {
		c.Port = defaultPort
	}
	if c.DownloadDir == "" {
		c.DownloadDir = def.DownloadDir
	}
	if c.DataDir == "" {
		c.DataDir = def.DataDir
	}
	if c.Workers < 1 {
		return fmt.Errorf("invalid workers: %d (must be >= 1)", c.Workers)
	}
	if c.QueueCapacity < 1 {
		return fmt.Errorf("invalid queue_capacity: %d (must be >= 1)", c.QueueCapacity)
	}
	if c.StallSeconds < 1 {
		c.StallSeconds = defaultStallSeconds
	}
	if c.DefaultQuality == "" {
		c.DefaultQuality = defaultQuality
	}
	if c.DefaultMode == "" {
		c.DefaultMode = defaultMode
	}
	if len(c.Engine.PlayerClients) == 0 {
		c.Engine.PlayerClients = def.Engine.PlayerClients
	}
	c.Engine.PlayerClients = normalizeClients(c.Engine.PlayerClients)
	return nil
}

// StallThreshold returns the stall detection window as a duration.
func (c Config) StallThreshold() time.Duration {
	return time.Duration(c.StallSeconds) * time.Second
}

func normalizeClients(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, client := range in {
		name := strings.ToLower(strings.TrimSpace(client))
		if name == "" {
			continue
		}
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		out = append(out, name)
	}
	return out
}
