package config

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/inksight/inksync/internal/utils"
)

// Conflict strategies understood by the sync engine.
const (
	StrategyDeviceWins = "device-wins"
	StrategyLocalWins  = "local-wins"
	StrategyNewestWins = "newest-wins"
)

var strategies = []string{StrategyDeviceWins, StrategyLocalWins, StrategyNewestWins}

var (
	home, _           = os.UserHomeDir()
	DefaultConfigPath = filepath.Join(home, ".inksync", "config.yaml")
	DefaultCacheDir   = filepath.Join(home, "InkSync")
	DefaultLogDir     = filepath.Join(home, ".inksync", "logs")

	// Stock document store location on the appliance.
	DefaultDocumentsDir = "/home/root/.local/share/remarkable/xochitl"

	// USB network address of the tablet.
	DefaultDeviceHost = "10.11.99.1"
)

// Duration round-trips YAML and env values as strings like "500ms" or "2s".
type Duration time.Duration

func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	return d.UnmarshalText([]byte(raw))
}

func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

type Config struct {
	Device  DeviceConfig  `yaml:"device" mapstructure:"device"`
	Cache   CacheConfig   `yaml:"cache" mapstructure:"cache"`
	Sync    SyncConfig    `yaml:"sync" mapstructure:"sync"`
	Monitor MonitorConfig `yaml:"monitor" mapstructure:"monitor"`
	Outbox  OutboxConfig  `yaml:"outbox" mapstructure:"outbox"`
	Webhook WebhookConfig `yaml:"webhook" mapstructure:"webhook"`
	API     APIConfig     `yaml:"api" mapstructure:"api"`
	Log     LogConfig     `yaml:"log" mapstructure:"log"`

	// Path the config was loaded from. Not persisted.
	Path string `yaml:"-" mapstructure:"-"`
}

// DeviceConfig describes how to reach the appliance.
type DeviceConfig struct {
	Host           string   `yaml:"host" mapstructure:"host"`
	Port           int      `yaml:"port" mapstructure:"port"`
	User           string   `yaml:"user" mapstructure:"user"`
	Password       string   `yaml:"password,omitempty" mapstructure:"password"`
	KeyFile        string   `yaml:"key_file,omitempty" mapstructure:"key_file"`
	DocumentsDir   string   `yaml:"documents_dir" mapstructure:"documents_dir"`
	ConnectTimeout Duration `yaml:"connect_timeout" mapstructure:"connect_timeout"`
}

type CacheConfig struct {
	Dir string `yaml:"dir" mapstructure:"dir"`

	// Move local files of remotely-deleted documents into the trash dir
	// instead of leaving them in place.
	PurgeDeleted bool `yaml:"purge_deleted" mapstructure:"purge_deleted"`
}

type SyncConfig struct {
	ConflictStrategy string `yaml:"conflict_strategy" mapstructure:"conflict_strategy"`
	Workers          int    `yaml:"workers" mapstructure:"workers"`
	FullSyncOnStart  bool   `yaml:"full_sync_on_start" mapstructure:"full_sync_on_start"`

	// Zero disables the periodic full sync.
	FullSyncInterval Duration `yaml:"full_sync_interval" mapstructure:"full_sync_interval"`
}

type MonitorConfig struct {
	EventStream    bool     `yaml:"event_stream" mapstructure:"event_stream"`
	PollInterval   Duration `yaml:"poll_interval" mapstructure:"poll_interval"`
	Debounce       Duration `yaml:"debounce" mapstructure:"debounce"`
	ReconnectDelay Duration `yaml:"reconnect_delay" mapstructure:"reconnect_delay"`
	Exclude        []string `yaml:"exclude,omitempty" mapstructure:"exclude"`
}

type OutboxConfig struct {
	Enabled bool   `yaml:"enabled" mapstructure:"enabled"`
	DBPath  string `yaml:"db_path,omitempty" mapstructure:"db_path"`
}

type WebhookConfig struct {
	URL     string   `yaml:"url,omitempty" mapstructure:"url"`
	Token   string   `yaml:"token,omitempty" mapstructure:"token"`
	Timeout Duration `yaml:"timeout" mapstructure:"timeout"`
	Retries int      `yaml:"retries" mapstructure:"retries"`
}

type APIConfig struct {
	Enabled bool   `yaml:"enabled" mapstructure:"enabled"`
	Addr    string `yaml:"addr" mapstructure:"addr"`
	Token   string `yaml:"token,omitempty" mapstructure:"token"`
}

type LogConfig struct {
	Level string `yaml:"level" mapstructure:"level"`
	File  string `yaml:"file,omitempty" mapstructure:"file"`
}

// Default returns a fully-populated config for a stock tablet over USB.
func Default() *Config {
	return &Config{
		Device: DeviceConfig{
			Host:           DefaultDeviceHost,
			Port:           22,
			User:           "root",
			KeyFile:        filepath.Join(home, ".ssh", "id_rsa"),
			DocumentsDir:   DefaultDocumentsDir,
			ConnectTimeout: Duration(10 * time.Second),
		},
		Cache: CacheConfig{
			Dir: DefaultCacheDir,
		},
		Sync: SyncConfig{
			ConflictStrategy: StrategyDeviceWins,
			Workers:          4,
			FullSyncOnStart:  true,
		},
		Monitor: MonitorConfig{
			EventStream:    true,
			PollInterval:   Duration(5 * time.Second),
			Debounce:       Duration(500 * time.Millisecond),
			ReconnectDelay: Duration(5 * time.Second),
			Exclude: []string{
				"**/*.tmp",
				"**/*.thumbnails/**",
				"**/.cache/**",
			},
		},
		Outbox: OutboxConfig{
			Enabled: true,
		},
		Webhook: WebhookConfig{
			Timeout: Duration(10 * time.Second),
			Retries: 3,
		},
		API: APIConfig{
			Enabled: true,
			Addr:    "localhost:7438",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads the config file at path layered over defaults and INKSYNC_*
// environment variables. A missing file is not an error.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v, Default())

	v.SetEnvPrefix("INKSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("read config %s: %w", path, err)
			}
		}
	}

	var cfg Config
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.TextUnmarshallerHookFunc(),
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))
	if err := v.Unmarshal(&cfg, hook); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.Path = path
	return &cfg, nil
}

// Save writes the config as YAML. Written with owner-only permissions since
// it may carry the device password and webhook token.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return utils.WriteFileAtomic(path, data, 0o600)
}

func (c *Config) Validate() error {
	if c.Device.Host == "" {
		return fmt.Errorf("device.host is required")
	}
	if c.Device.DocumentsDir == "" {
		return fmt.Errorf("device.documents_dir is required")
	}
	if c.Cache.Dir == "" {
		return fmt.Errorf("cache.dir is required")
	}
	if !slices.Contains(strategies, c.Sync.ConflictStrategy) {
		return fmt.Errorf("sync.conflict_strategy must be one of %s, got %q",
			strings.Join(strategies, ", "), c.Sync.ConflictStrategy)
	}
	if c.Sync.Workers < 1 {
		return fmt.Errorf("sync.workers must be at least 1, got %d", c.Sync.Workers)
	}
	if c.Monitor.PollInterval.Std() <= 0 {
		return fmt.Errorf("monitor.poll_interval must be positive")
	}
	if c.Monitor.Debounce.Std() <= 0 {
		return fmt.Errorf("monitor.debounce must be positive")
	}
	if c.Monitor.ReconnectDelay.Std() <= 0 {
		return fmt.Errorf("monitor.reconnect_delay must be positive")
	}
	if c.Webhook.URL != "" && c.Webhook.Retries < 0 {
		return fmt.Errorf("webhook.retries cannot be negative")
	}
	return nil
}

// OutboxDBPath resolves the outbox database location.
func (c *Config) OutboxDBPath() string {
	if c.Outbox.DBPath != "" {
		return c.Outbox.DBPath
	}
	return filepath.Join(c.Cache.Dir, ".inksync", "outbox.db")
}

// LogFilePath resolves the log file location.
func (c *Config) LogFilePath() string {
	if c.Log.File != "" {
		return c.Log.File
	}
	return filepath.Join(DefaultLogDir, "inksync.log")
}

func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("device.host", d.Device.Host)
	v.SetDefault("device.port", d.Device.Port)
	v.SetDefault("device.user", d.Device.User)
	v.SetDefault("device.key_file", d.Device.KeyFile)
	v.SetDefault("device.documents_dir", d.Device.DocumentsDir)
	v.SetDefault("device.connect_timeout", d.Device.ConnectTimeout.Std().String())
	v.SetDefault("cache.dir", d.Cache.Dir)
	v.SetDefault("cache.purge_deleted", d.Cache.PurgeDeleted)
	v.SetDefault("sync.conflict_strategy", d.Sync.ConflictStrategy)
	v.SetDefault("sync.workers", d.Sync.Workers)
	v.SetDefault("sync.full_sync_on_start", d.Sync.FullSyncOnStart)
	v.SetDefault("sync.full_sync_interval", d.Sync.FullSyncInterval.Std().String())
	v.SetDefault("monitor.event_stream", d.Monitor.EventStream)
	v.SetDefault("monitor.poll_interval", d.Monitor.PollInterval.Std().String())
	v.SetDefault("monitor.debounce", d.Monitor.Debounce.Std().String())
	v.SetDefault("monitor.reconnect_delay", d.Monitor.ReconnectDelay.Std().String())
	v.SetDefault("monitor.exclude", d.Monitor.Exclude)
	v.SetDefault("outbox.enabled", d.Outbox.Enabled)
	v.SetDefault("outbox.db_path", d.Outbox.DBPath)
	v.SetDefault("webhook.url", d.Webhook.URL)
	v.SetDefault("webhook.token", d.Webhook.Token)
	v.SetDefault("webhook.timeout", d.Webhook.Timeout.Std().String())
	v.SetDefault("webhook.retries", d.Webhook.Retries)
	v.SetDefault("api.enabled", d.API.Enabled)
	v.SetDefault("api.addr", d.API.Addr)
	v.SetDefault("api.token", d.API.Token)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.file", d.Log.File)
}
