// Package config loads the listener's settings from YAML, an optional .env file
// and MYCROFT_* environment variables, in increasing order of precedence.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/afero"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const EnvPrefix = "MYCROFT"

type Config struct {
	Lang     string         `mapstructure:"lang" yaml:"lang"`
	Server   ServerConfig   `mapstructure:"server" yaml:"server"`
	Listener ListenerConfig `mapstructure:"listener" yaml:"listener"`
	STT      STTConfig      `mapstructure:"stt" yaml:"stt"`
	Identity IdentityConfig `mapstructure:"identity" yaml:"identity"`
	Bus      BusConfig      `mapstructure:"bus" yaml:"bus"`
	Session  SessionConfig  `mapstructure:"session" yaml:"session"`
	Metrics  MetricsConfig  `mapstructure:"metrics" yaml:"metrics"`
	Logging  LoggingConfig  `mapstructure:"logging" yaml:"logging"`
	Whisper  WhisperConfig  `mapstructure:"whisper" yaml:"whisper"`
}

type ServerConfig struct {
	URL            string        `mapstructure:"url" yaml:"url"`
	Version        string        `mapstructure:"version" yaml:"version"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout" yaml:"connect_timeout"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
}

type ListenerConfig struct {
	SampleRate  int `mapstructure:"sample_rate" yaml:"sample_rate"`
	SampleWidth int `mapstructure:"sample_width" yaml:"sample_width"`
	Channels    int `mapstructure:"channels" yaml:"channels"`
	DeviceIndex int `mapstructure:"device_index" yaml:"device_index"`

	WakeWord  string  `mapstructure:"wake_word" yaml:"wake_word"`
	Phonemes  string  `mapstructure:"phonemes" yaml:"phonemes"`
	Threshold float64 `mapstructure:"threshold" yaml:"threshold"`

	StandupWord      string  `mapstructure:"standup_word" yaml:"standup_word"`
	StandupPhonemes  string  `mapstructure:"standup_phonemes" yaml:"standup_phonemes"`
	StandupThreshold float64 `mapstructure:"standup_threshold" yaml:"standup_threshold"`

	MinAudioSeconds float64       `mapstructure:"min_audio_seconds" yaml:"min_audio_seconds"`
	QueueSize       int           `mapstructure:"queue_size" yaml:"queue_size"`
	QuietTime       time.Duration `mapstructure:"quiet_time" yaml:"quiet_time"`
	MaxPhraseTime   time.Duration `mapstructure:"max_phrase_time" yaml:"max_phrase_time"`
	IOErrorPause    time.Duration `mapstructure:"io_error_pause" yaml:"io_error_pause"`

	RecordUtterances bool   `mapstructure:"record_utterances" yaml:"record_utterances"`
	RecordDir        string `mapstructure:"record_dir" yaml:"record_dir"`
}

type STTConfig struct {
	Limit       int    `mapstructure:"limit" yaml:"limit"`
	ContentType string `mapstructure:"content_type" yaml:"content_type"`
}

type IdentityConfig struct {
	Backend       string `mapstructure:"backend" yaml:"backend"` // file, redis
	Path          string `mapstructure:"path" yaml:"path"`
	RedisAddr     string `mapstructure:"redis_addr" yaml:"redis_addr"`
	RedisPassword string `mapstructure:"redis_password" yaml:"redis_password"`
	RedisDB       int    `mapstructure:"redis_db" yaml:"redis_db"`
	RedisKey      string `mapstructure:"redis_key" yaml:"redis_key"`
}

type BusConfig struct {
	Backend       string   `mapstructure:"backend" yaml:"backend"` // local, websocket, nats
	URL           string   `mapstructure:"url" yaml:"url"`
	NatsURLs      []string `mapstructure:"nats_urls" yaml:"nats_urls"`
	SubjectPrefix string   `mapstructure:"subject_prefix" yaml:"subject_prefix"`
}

type SessionConfig struct {
	TTL time.Duration `mapstructure:"ttl" yaml:"ttl"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Listen  string `mapstructure:"listen" yaml:"listen"`
}

type LoggingConfig struct {
	Level   string `mapstructure:"level" yaml:"level"`
	Console bool   `mapstructure:"console" yaml:"console"`
}

type WhisperConfig struct {
	Model string `mapstructure:"model" yaml:"model"`
}

func Default() *Config {
	return &Config{
		Lang: "en-us",
		Server: ServerConfig{
			URL:            "https://api.mycroft.ai",
			Version:        "v1",
			ConnectTimeout: 3050 * time.Millisecond,
			ReadTimeout:    15 * time.Second,
		},
		Listener: ListenerConfig{
			SampleRate:       16000,
			SampleWidth:      2,
			Channels:         1,
			DeviceIndex:      -1,
			WakeWord:         "hey mycroft",
			Phonemes:         "HH EY . M AY K R AO F T",
			Threshold:        1e-90,
			StandupWord:      "wake up",
			StandupPhonemes:  "W EY K . AH P",
			StandupThreshold: 1e-10,
			MinAudioSeconds:  0.5,
			QueueSize:        32,
			QuietTime:        200 * time.Millisecond,
			MaxPhraseTime:    10 * time.Second,
			IOErrorPause:     100 * time.Millisecond,
			RecordDir:        "utterances",
		},
		STT: STTConfig{
			Limit:       1,
			ContentType: "audio/wav",
		},
		Identity: IdentityConfig{
			Backend:  "file",
			Path:     "~/.mycroft/identity/identity.json",
			RedisKey: "mycroft:identity",
		},
		Bus: BusConfig{
			Backend:       "local",
			URL:           "ws://127.0.0.1:8181/core",
			NatsURLs:      []string{"nats://127.0.0.1:4222"},
			SubjectPrefix: "mycroft",
		},
		Session: SessionConfig{
			TTL: 180 * time.Second,
		},
		Metrics: MetricsConfig{
			Listen: ":9102",
		},
		Logging: LoggingConfig{
			Level:   "info",
			Console: true,
		},
	}
}

// Load merges the file at path (if any) and the environment over Default. With
// an empty path, mycroft.yaml is looked up in the working directory and in
// ~/.mycroft; a missing file there is not an error.
func Load(path string) (*Config, error) {
	err := godotenv.Load()
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("loading .env: %w", err)
	}

	v, err := newViper(Default())
	if err != nil {
		return nil, err
	}

	if path != "" {
		v.SetConfigFile(path)

		err = v.ReadInConfig()
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", path, err)
		}
	} else {
		v.SetConfigName("mycroft")
		v.AddConfigPath(".")

		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".mycroft"))
		}

		err = v.ReadInConfig()
		if err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, err
			}
		}
	}

	cfg := &Config{}

	err = v.Unmarshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}

	err = cfg.Validate()
	if err != nil {
		return nil, err
	}

	return cfg, nil
}

// newViper returns an instance with every field of defaults registered as a
// default value, which also makes each key visible to AutomaticEnv.
func newViper(defaults *Config) (*viper.Viper, error) {
	data, err := yaml.Marshal(defaults)
	if err != nil {
		return nil, err
	}

	base := viper.New()
	base.SetConfigType("yaml")

	err = base.ReadConfig(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}

	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for _, key := range base.AllKeys() {
		v.SetDefault(key, base.Get(key))
	}

	return v, nil
}

func (c *Config) Validate() error {
	if c.Lang == "" {
		return fmt.Errorf("lang is empty")
	}

	if c.Server.URL == "" {
		return fmt.Errorf("server.url is empty")
	}

	if c.Listener.SampleRate <= 0 {
		return fmt.Errorf("listener.sample_rate must be positive, got %d", c.Listener.SampleRate)
	}

	if c.Listener.SampleWidth != 2 {
		return fmt.Errorf("listener.sample_width must be 2, got %d", c.Listener.SampleWidth)
	}

	if c.Listener.Channels != 1 {
		return fmt.Errorf("listener.channels must be 1, got %d", c.Listener.Channels)
	}

	if c.Listener.WakeWord == "" || c.Listener.StandupWord == "" {
		return fmt.Errorf("listener wake_word and standup_word are required")
	}

	if c.Listener.MinAudioSeconds < 0 {
		return fmt.Errorf("listener.min_audio_seconds must not be negative")
	}

	if c.Listener.QueueSize <= 0 {
		return fmt.Errorf("listener.queue_size must be positive, got %d", c.Listener.QueueSize)
	}

	switch c.Identity.Backend {
	case "file":
		if c.Identity.Path == "" {
			return fmt.Errorf("identity.path is empty")
		}
	case "redis":
		if c.Identity.RedisAddr == "" {
			return fmt.Errorf("identity.redis_addr is empty")
		}
	default:
		return fmt.Errorf("unknown identity.backend %q", c.Identity.Backend)
	}

	switch c.Bus.Backend {
	case "local":
	case "websocket":
		if c.Bus.URL == "" {
			return fmt.Errorf("bus.url is empty")
		}
	case "nats":
		if len(c.Bus.NatsURLs) == 0 {
			return fmt.Errorf("bus.nats_urls is empty")
		}
	default:
		return fmt.Errorf("unknown bus.backend %q", c.Bus.Backend)
	}

	return nil
}

// WriteDefault writes the default configuration as YAML, for use as a starting
// point. An existing file is left alone.
func WriteDefault(fs afero.Fs, path string) error {
	exists, err := afero.Exists(fs, path)
	if err != nil {
		return err
	}

	if exists {
		return fmt.Errorf("%s already exists", path)
	}

	data, err := yaml.Marshal(Default())
	if err != nil {
		return err
	}

	err = fs.MkdirAll(filepath.Dir(path), 0o755)
	if err != nil {
		return err
	}

	return afero.WriteFile(fs, path, data, 0o644)
}

// ExpandHome replaces a leading ~ with the user's home directory.
func ExpandHome(path string) (string, error) {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}

	return filepath.Join(home, strings.TrimPrefix(path, "~")), nil
}
