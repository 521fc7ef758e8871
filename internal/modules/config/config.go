package config

import (
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v2"

	"candle_dash/internal/series"
	"github.com/pkg/errors"
)

const (
	configFilePathENV = "CONFIG_FILE"
	apiURLENV         = "API_URL"
	wsURLENV          = "WS_URL"
	healthURLENV      = "HEALTH_URL"
	binanceRestENV    = "BINANCE_REST_URL"
	binanceWsENV      = "BINANCE_WS_URL"
)

// Config is the whole service configuration: yaml file (configs/ dir,
// CONFIG_FILE picks the file) with env overrides on top.
type Config struct {
	Service struct {
		Host       string `yaml:"host"`
		PublicPort int    `yaml:"public_port"`
		AdminPort  int    `yaml:"admin_port"`
	} `yaml:"service"`

	// Internal GraphQL API.
	API struct {
		URL       string `yaml:"url"`        // http(s) origin, /graphql appended
		WSURL     string `yaml:"ws_url"`     // ws(s) origin for subscriptions
		HealthURL string `yaml:"health_url"` // origin exposing /health
	} `yaml:"api"`

	// Upstream exchange endpoints used by the proxy routes.
	Binance struct {
		RestURL string `yaml:"rest_url"`
		WsURL   string `yaml:"ws_url"`
	} `yaml:"binance"`

	// Base URL of the local proxy routes the event-stream feed consumes.
	// Defaults to this service's own public address.
	StreamBaseURL string `yaml:"stream_base_url"`

	Jaeger struct {
		Host string `yaml:"host"`
		Port int    `yaml:"port"`
	} `yaml:"jaeger"`

	MaxCandles    int    `yaml:"max_candles"`
	SnapshotLimit int    `yaml:"snapshot_limit"`
	TargetBars    int    `yaml:"target_bars"`
	// Env-only (REFRESH_DEBOUNCE), duration string like "300ms".
	RefreshDebounce time.Duration `yaml:"-"`
	HealthPollSpec  string        `yaml:"health_poll_spec"` // cron spec
}

func NewConfig() (*Config, error) {
	configFileName := os.Getenv(configFilePathENV)
	if configFileName == "" {
		configFileName = "values_local.yaml"
	}

	config := Config{
		MaxCandles:      intFromEnv("MAX_CANDLES", series.DefaultMaxCandles),
		SnapshotLimit:   intFromEnv("SNAPSHOT_LIMIT", 300),
		TargetBars:      intFromEnv("TARGET_BARS", 180),
		RefreshDebounce: durationFromEnv("REFRESH_DEBOUNCE", "300ms"),
		HealthPollSpec:  getenvDefault("HEALTH_POLL_SPEC", "@every 30s"),
	}

	file, err := os.Open("configs/" + configFileName)
	if err != nil {
		return nil, errors.Wrap(err, "open config file")
	}
	defer func() {
		_ = file.Close()
	}()

	if err := yaml.NewDecoder(file).Decode(&config); err != nil {
		return nil, errors.Wrap(err, "decode config file")
	}

	if v := os.Getenv(apiURLENV); v != "" {
		config.API.URL = v
	}
	if v := os.Getenv(wsURLENV); v != "" {
		config.API.WSURL = v
	}
	if v := os.Getenv(healthURLENV); v != "" {
		config.API.HealthURL = v
	}
	if v := os.Getenv(binanceRestENV); v != "" {
		config.Binance.RestURL = v
	}
	if v := os.Getenv(binanceWsENV); v != "" {
		config.Binance.WsURL = v
	}

	if config.Binance.RestURL == "" {
		config.Binance.RestURL = "https://api.binance.com"
	}
	if config.Binance.WsURL == "" {
		config.Binance.WsURL = "wss://stream.binance.com:9443/ws"
	}
	if config.StreamBaseURL == "" {
		config.StreamBaseURL = "http://" + config.Service.Host + ":" + strconv.Itoa(config.Service.PublicPort)
	}

	return &config, nil
}

func intFromEnv(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func durationFromEnv(key, def string) time.Duration {
	val := getenvDefault(key, def)
	d, err := time.ParseDuration(val)
	if err != nil {
		d, _ = time.ParseDuration(def)
	}
	return d
}
