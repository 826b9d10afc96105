package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds the endpoint identifiers and timing knobs shared by every command.
type Config struct {
	EmotionEndpoint   string        `yaml:"emotion_endpoint"`
	DetectionEndpoint string        `yaml:"detection_endpoint"`
	APIName           string        `yaml:"api_name"`
	HFToken           string        `yaml:"hf_token"`
	HubURL            string        `yaml:"hub_url"`
	Device            string        `yaml:"device"`
	Input             string        `yaml:"input"`
	RequestTimeout    time.Duration `yaml:"request_timeout"`
	ConnectTimeout    time.Duration `yaml:"connect_timeout"`
	LiveInterval      time.Duration `yaml:"live_interval"`
	Listen            string        `yaml:"listen"`
}

// Default returns the built-in configuration: the two public Spaces the app was built against.
func Default() *Config {
	return &Config{
		EmotionEndpoint:   "E1011au/EmotionAI",
		DetectionEndpoint: "E1011au/FaceDetectAI",
		APIName:           "/predict",
		HubURL:            "https://huggingface.co",
		Device:            "/dev/video0",
		RequestTimeout:    10 * time.Second,
		ConnectTimeout:    30 * time.Second,
		LiveInterval:      time.Second,
		Listen:            ":8080",
	}
}

// Load layers defaults, the optional YAML file, .env and the process environment.
// An empty path skips the file; a missing .env is not an error. The result is not
// validated: callers apply their flag overrides first and then call Validate.
func Load(path string) (*Config, error) {
	conf := Default()

	if path != "" {
		if err := loadFromFile(path, conf); err != nil {
			return nil, err
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		slog.Warn("Failed to load .env file", "error", err)
	}
	if err := applyEnv(conf); err != nil {
		return nil, err
	}

	return conf, nil
}

func loadFromFile(path string, conf *Config) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open config file: %w", err)
	}
	defer file.Close()

	dec := yaml.NewDecoder(file)
	dec.KnownFields(true)
	if err := dec.Decode(conf); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

func applyEnv(conf *Config) error {
	setString(&conf.EmotionEndpoint, "EMOTIONAI_EMOTION_ENDPOINT")
	setString(&conf.DetectionEndpoint, "EMOTIONAI_DETECTION_ENDPOINT")
	setString(&conf.APIName, "EMOTIONAI_API_NAME")
	setString(&conf.HFToken, "HF_TOKEN")
	setString(&conf.HubURL, "EMOTIONAI_HUB_URL")
	setString(&conf.Device, "EMOTIONAI_DEVICE")
	setString(&conf.Input, "EMOTIONAI_INPUT")
	setString(&conf.Listen, "EMOTIONAI_LISTEN")

	for key, dst := range map[string]*time.Duration{
		"EMOTIONAI_REQUEST_TIMEOUT": &conf.RequestTimeout,
		"EMOTIONAI_CONNECT_TIMEOUT": &conf.ConnectTimeout,
		"EMOTIONAI_LIVE_INTERVAL":   &conf.LiveInterval,
	} {
		v := strings.TrimSpace(os.Getenv(key))
		if v == "" {
			continue
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", key, err)
		}
		*dst = d
	}
	return nil
}

func setString(dst *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*dst = v
	}
}

// Validate reports the first unusable setting.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.EmotionEndpoint) == "" {
		return errors.New("emotion endpoint not set")
	}
	if strings.TrimSpace(c.DetectionEndpoint) == "" {
		return errors.New("detection endpoint not set")
	}
	if !strings.HasPrefix(c.APIName, "/") {
		return fmt.Errorf("api name must start with '/', got %q", c.APIName)
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("request timeout must be positive, got %s", c.RequestTimeout)
	}
	if c.ConnectTimeout <= 0 {
		return fmt.Errorf("connect timeout must be positive, got %s", c.ConnectTimeout)
	}
	if c.LiveInterval <= 0 {
		return fmt.Errorf("live interval must be positive, got %s", c.LiveInterval)
	}
	return nil
}
