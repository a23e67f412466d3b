package application

import (
	"errors"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config defines alarm engine configuration.
type Config struct {
	NodeID       string   `yaml:"node_id"`
	HarvestEvery string   `yaml:"harvest_interval"`
	KafkaBrokers []string `yaml:"kafka_brokers"`
	KafkaTopic   string   `yaml:"kafka_topic"`

	HarvestInterval time.Duration `yaml:"-"`
}

// LoadConfig loads config from yaml or env.
func LoadConfig() (Config, error) {
	cfg := Config{
		NodeID:          getenvDefault("ALARM_NODE_ID", hostnameDefault()),
		HarvestInterval: getenvDurationDefault("ALARM_HARVEST_INTERVAL", 10*time.Second),
		KafkaTopic:      getenvDefault("ALARM_KAFKA_TOPIC", "alarm-lifecycle"),
	}

	if path := os.Getenv("ALARM_CONFIG"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, err
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, err
		}
	}
	if cfg.HarvestEvery != "" {
		parsed, err := time.ParseDuration(cfg.HarvestEvery)
		if err != nil {
			return cfg, err
		}
		cfg.HarvestInterval = parsed
	}

	if len(cfg.KafkaBrokers) == 0 {
		cfg.KafkaBrokers = splitCSV(os.Getenv("ALARM_KAFKA_BROKERS"))
	}
	if cfg.NodeID == "" {
		return cfg, errors.New("alarm engine: node id required")
	}
	if cfg.HarvestInterval <= 0 {
		return cfg, errors.New("alarm engine: harvest interval must be positive")
	}
	return cfg, nil
}

func hostnameDefault() string {
	name, err := os.Hostname()
	if err != nil {
		return "alarm-node-0"
	}
	return name
}

func getenvDefault(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvDurationDefault(key string, fallback time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func splitCSV(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	var result []string
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part != "" {
			result = append(result, part)
		}
	}
	return result
}
