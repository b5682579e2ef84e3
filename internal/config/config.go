package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"soilguard/internal/thresholds"
)

const (
	DefaultSeenKey      = "seenAlertIds"
	DefaultSeenCapacity = 100
)

type Config struct {
	LogLevel   string            `json:"log_level" yaml:"log_level" toml:"log_level"`
	LogFormat  string            `json:"log_format" yaml:"log_format" toml:"log_format"`
	Backend    BackendConfig     `json:"backend" yaml:"backend" toml:"backend"`
	Thresholds *thresholds.Table `json:"thresholds" yaml:"thresholds" toml:"thresholds"`
	Notify     NotifyConfig      `json:"notify" yaml:"notify" toml:"notify"`
	Ingest     IngestConfig      `json:"ingest" yaml:"ingest" toml:"ingest"`
	API        APIConfig         `json:"api" yaml:"api" toml:"api"`
	Storage    StorageConfig     `json:"storage" yaml:"storage" toml:"storage"`
	Status     StatusConfig      `json:"status" yaml:"status" toml:"status"`
}

type BackendConfig struct {
	BaseURL     string   `json:"base_url" yaml:"base_url" toml:"base_url"`
	Token       string   `json:"token" yaml:"token" toml:"token"`
	Timeout     Duration `json:"timeout" yaml:"timeout" toml:"timeout"`
	Concurrency int      `json:"concurrency" yaml:"concurrency" toml:"concurrency"`
}

type NotifyConfig struct {
	SeenKey         string     `json:"seen_key" yaml:"seen_key" toml:"seen_key"`
	SeenCapacity    int        `json:"seen_capacity" yaml:"seen_capacity" toml:"seen_capacity"`
	RefreshInterval Duration   `json:"refresh_interval" yaml:"refresh_interval" toml:"refresh_interval"`
	FeedLimit       int        `json:"feed_limit" yaml:"feed_limit" toml:"feed_limit"`
	LogEnabled      bool       `json:"log_enabled" yaml:"log_enabled" toml:"log_enabled"`
	MQTT            MQTTConfig `json:"mqtt" yaml:"mqtt" toml:"mqtt"`
}

type MQTTConfig struct {
	Enabled     bool   `json:"enabled" yaml:"enabled" toml:"enabled"`
	Broker      string `json:"broker" yaml:"broker" toml:"broker"`
	ClientID    string `json:"client_id" yaml:"client_id" toml:"client_id"`
	Username    string `json:"username" yaml:"username" toml:"username"`
	Password    string `json:"password" yaml:"password" toml:"password"`
	TopicPrefix string `json:"topic_prefix" yaml:"topic_prefix" toml:"topic_prefix"`
	QoS         byte   `json:"qos" yaml:"qos" toml:"qos"`
}

type IngestConfig struct {
	ChannelBuffer int          `json:"channel_buffer" yaml:"channel_buffer" toml:"channel_buffer"`
	REST          RESTConfig   `json:"rest" yaml:"rest" toml:"rest"`
	Kafka         KafkaConfig  `json:"kafka" yaml:"kafka" toml:"kafka"`
	Parser        ParserConfig `json:"parser" yaml:"parser" toml:"parser"`
}

type RESTConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled" toml:"enabled"`
	Addr    string `json:"addr" yaml:"addr" toml:"addr"`
}

type KafkaConfig struct {
	Enabled bool     `json:"enabled" yaml:"enabled" toml:"enabled"`
	Brokers []string `json:"brokers" yaml:"brokers" toml:"brokers"`
	Topic   string   `json:"topic" yaml:"topic" toml:"topic"`
	GroupID string   `json:"group_id" yaml:"group_id" toml:"group_id"`
}

type ParserConfig struct {
	Timezone string `json:"timezone" yaml:"timezone" toml:"timezone"`
}

type APIConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled" toml:"enabled"`
	Addr    string `json:"addr" yaml:"addr" toml:"addr"`
}

type StorageConfig struct {
	Driver string     `json:"driver" yaml:"driver" toml:"driver"`
	DSN    string     `json:"dsn" yaml:"dsn" toml:"dsn"`
	NATS   NATSConfig `json:"nats" yaml:"nats" toml:"nats"`
}

type NATSConfig struct {
	URLs        []string `json:"urls" yaml:"urls" toml:"urls"`
	Bucket      string   `json:"bucket" yaml:"bucket" toml:"bucket"`
	AllowCreate bool     `json:"allow_create" yaml:"allow_create" toml:"allow_create"`
}

type StatusConfig struct {
	StoreLimit int `json:"store_limit" yaml:"store_limit" toml:"store_limit"`
}

// Duration decodes "30s" style strings from every supported file format.
type Duration time.Duration

func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

func (d *Duration) UnmarshalText(b []byte) error {
	parsed, err := time.ParseDuration(strings.TrimSpace(string(b)))
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

func DefaultConfig() *Config {
	return &Config{
		LogLevel:  "info",
		LogFormat: "json",
		Backend: BackendConfig{
			Timeout:     Duration(10 * time.Second),
			Concurrency: 4,
		},
		Thresholds: thresholds.DefaultTable(),
		Notify: NotifyConfig{
			SeenKey:         DefaultSeenKey,
			SeenCapacity:    DefaultSeenCapacity,
			RefreshInterval: Duration(time.Minute),
			FeedLimit:       1000,
			LogEnabled:      true,
			MQTT: MQTTConfig{
				Enabled:     false,
				Broker:      "tcp://localhost:1883",
				ClientID:    "soilguard",
				TopicPrefix: "soilguard/alerts",
				QoS:         1,
			},
		},
		Ingest: IngestConfig{
			ChannelBuffer: 10000,
			REST:          RESTConfig{Enabled: true, Addr: ":8080"},
			Kafka:         KafkaConfig{Enabled: false},
			Parser:        ParserConfig{Timezone: "UTC"},
		},
		API:     APIConfig{Enabled: true, Addr: ":8081"},
		Storage: StorageConfig{Driver: "memory"},
		Status:  StatusConfig{StoreLimit: 5000},
	}
}

// Load reads a YAML, JSON or TOML file on top of DefaultConfig and applies
// SOILGUARD_* environment overrides. A file that overrides thresholds.bands
// should also set thresholds.version.
func Load(path string) (*Config, error) {
	cfg, err := decodeFile(path)
	if err != nil {
		return nil, err
	}
	applyEnv(cfg)
	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// decodeFile returns the file's own view of the config: defaults plus the
// file, without environment overrides.
func decodeFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	content, err := io.ReadAll(f)
	if err != nil {
		return nil, err
	}
	cfg := DefaultConfig()

	trimmed := strings.TrimSpace(string(content))
	if len(trimmed) == 0 {
		return nil, errors.New("config file is empty")
	}
	var decodeErr error
	switch {
	case strings.EqualFold(filepath.Ext(path), ".toml"):
		decodeErr = toml.Unmarshal([]byte(trimmed), cfg)
	case looksLikeJSON(trimmed):
		decodeErr = json.Unmarshal([]byte(trimmed), cfg)
	default:
		decodeErr = yaml.Unmarshal([]byte(trimmed), cfg)
	}
	if decodeErr != nil {
		return nil, fmt.Errorf("decode %s: %w", path, decodeErr)
	}
	return cfg, nil
}

// FromEnv builds a config from defaults and environment only, for running
// without a config file.
func FromEnv() (*Config, error) {
	cfg := DefaultConfig()
	applyEnv(cfg)
	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func Save(path string, cfg *Config) error {
	if path == "" || cfg == nil {
		return errors.New("config path or config is empty")
	}
	var data []byte
	var err error
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		data, err = json.MarshalIndent(cfg, "", "  ")
	case ".toml":
		data, err = toml.Marshal(cfg)
	default:
		data, err = yaml.Marshal(cfg)
	}
	if err != nil {
		return err
	}
	mode := os.FileMode(0o600)
	if info, err := os.Stat(path); err == nil {
		mode = info.Mode().Perm()
	}
	return os.WriteFile(path, data, mode)
}

func looksLikeJSON(s string) bool {
	for _, ch := range s {
		if ch == '{' || ch == '[' {
			return true
		}
		if ch > ' ' {
			return false
		}
	}
	return false
}

func applyDefaults(cfg *Config) {
	if cfg.Thresholds == nil {
		cfg.Thresholds = thresholds.DefaultTable()
	}
	if cfg.Backend.Timeout <= 0 {
		cfg.Backend.Timeout = Duration(10 * time.Second)
	}
	if cfg.Backend.Concurrency <= 0 {
		cfg.Backend.Concurrency = 4
	}
	cfg.Backend.BaseURL = strings.TrimRight(cfg.Backend.BaseURL, "/")
	if cfg.Notify.SeenKey == "" {
		cfg.Notify.SeenKey = DefaultSeenKey
	}
	if cfg.Notify.SeenCapacity <= 0 {
		cfg.Notify.SeenCapacity = DefaultSeenCapacity
	}
	if cfg.Notify.RefreshInterval <= 0 {
		cfg.Notify.RefreshInterval = Duration(time.Minute)
	}
	if cfg.Notify.FeedLimit <= 0 {
		cfg.Notify.FeedLimit = 1000
	}
	if cfg.Notify.MQTT.TopicPrefix == "" {
		cfg.Notify.MQTT.TopicPrefix = "soilguard/alerts"
	}
	if cfg.Ingest.ChannelBuffer <= 0 {
		cfg.Ingest.ChannelBuffer = 10000
	}
	if cfg.Ingest.Parser.Timezone == "" {
		cfg.Ingest.Parser.Timezone = "UTC"
	}
	if cfg.Storage.Driver == "" {
		cfg.Storage.Driver = "memory"
	}
	cfg.Storage.Driver = strings.ToLower(cfg.Storage.Driver)
	if cfg.Storage.NATS.Bucket == "" {
		cfg.Storage.NATS.Bucket = "soilguard_seen"
	}
	if cfg.Status.StoreLimit <= 0 {
		cfg.Status.StoreLimit = 5000
	}
}

func Validate(cfg *Config) error {
	if cfg.API.Enabled && cfg.API.Addr == "" {
		return errors.New("api.addr required when api.enabled is true")
	}
	if cfg.Ingest.REST.Enabled && cfg.Ingest.REST.Addr == "" {
		return errors.New("ingest.rest.addr required when ingest.rest.enabled is true")
	}
	if cfg.Ingest.Kafka.Enabled {
		if len(cfg.Ingest.Kafka.Brokers) == 0 || cfg.Ingest.Kafka.Topic == "" || cfg.Ingest.Kafka.GroupID == "" {
			return errors.New("ingest.kafka requires brokers, topic, group_id")
		}
	}
	if cfg.Backend.BaseURL != "" {
		u, err := url.Parse(cfg.Backend.BaseURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("backend.base_url must be an absolute URL: %q", cfg.Backend.BaseURL)
		}
	}
	if cfg.Notify.MQTT.Enabled && cfg.Notify.MQTT.Broker == "" {
		return errors.New("notify.mqtt.broker required when notify.mqtt.enabled is true")
	}
	if cfg.Notify.MQTT.QoS > 2 {
		return fmt.Errorf("notify.mqtt.qos must be 0, 1 or 2, got %d", cfg.Notify.MQTT.QoS)
	}
	switch cfg.Storage.Driver {
	case "memory", "sqlite", "postgres", "postgresql":
	case "nats":
		if len(cfg.Storage.NATS.URLs) == 0 {
			return errors.New("storage.nats.urls required when storage.driver is nats")
		}
	default:
		return fmt.Errorf("storage.driver %q not supported", cfg.Storage.Driver)
	}
	if err := thresholds.Validate(cfg.Thresholds); err != nil {
		return err
	}
	return nil
}

type Manager struct {
	path    string
	cfg     atomic.Value
	mu      sync.Mutex
	modTime atomic.Int64
}

func NewManager(path string) (*Manager, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	m := &Manager{path: path}
	m.cfg.Store(cfg)
	m.touch()
	return m, nil
}

// NewStaticManager wraps an in-memory config. Reload and Watch are no-ops
// and UpdateThresholds only swaps the value.
func NewStaticManager(cfg *Config) *Manager {
	m := &Manager{}
	m.cfg.Store(cfg)
	return m
}

func (m *Manager) Get() *Config {
	if v := m.cfg.Load(); v != nil {
		return v.(*Config)
	}
	return DefaultConfig()
}

func (m *Manager) Path() string {
	return m.path
}

func (m *Manager) Reload() (*Config, error) {
	if m.path == "" {
		return m.Get(), nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cfg, err := Load(m.path)
	if err != nil {
		return nil, err
	}
	m.cfg.Store(cfg)
	m.touch()
	return cfg, nil
}

// UpdateThresholds swaps the live threshold table and returns the new config.
// A file-backed manager writes back only the thresholds section of the file;
// values that came from the environment never reach disk.
func (m *Manager) UpdateThresholds(table *thresholds.Table) (*Config, error) {
	if table == nil {
		return nil, errors.New("nil threshold table")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	next := *m.Get()
	next.Thresholds = table.Clone()
	if err := Validate(&next); err != nil {
		return nil, err
	}
	if m.path != "" {
		onDisk, err := decodeFile(m.path)
		if err != nil {
			return nil, err
		}
		onDisk.Thresholds = next.Thresholds.Clone()
		if err := Save(m.path, onDisk); err != nil {
			return nil, err
		}
		m.touch()
	}
	m.cfg.Store(&next)
	return &next, nil
}

func (m *Manager) NeedsReload() (bool, error) {
	if m.path == "" {
		return false, nil
	}
	info, err := os.Stat(m.path)
	if err != nil {
		return false, err
	}
	return info.ModTime().UnixNano() > m.modTime.Load(), nil
}

func (m *Manager) touch() {
	if info, err := os.Stat(m.path); err == nil {
		m.modTime.Store(info.ModTime().UnixNano())
	}
}

func (m *Manager) Watch(interval time.Duration, onReload func(*Config), onError func(error), stop <-chan struct{}) {
	if interval <= 0 {
		interval = 3 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			needs, err := m.NeedsReload()
			if err != nil {
				if onError != nil {
					onError(err)
				}
				continue
			}
			if !needs {
				continue
			}
			cfg, err := m.Reload()
			if err != nil {
				if onError != nil {
					onError(err)
				}
				continue
			}
			if onReload != nil {
				onReload(cfg)
			}
		case <-stop:
			return
		}
	}
}

func ResolvePath(path string) string {
	if path == "" {
		return path
	}
	if filepath.IsAbs(path) {
		return path
	}
	cwd, err := os.Getwd()
	if err != nil {
		return path
	}
	return filepath.Join(cwd, path)
}
