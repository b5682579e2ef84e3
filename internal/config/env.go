package config

import (
	"errors"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// LoadDotEnv loads KEY=value files into the process environment. Missing
// files are ignored; variables already set win over the file.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return err
		}
	}
	return nil
}

func applyEnv(cfg *Config) {
	cfg.LogLevel = getEnv("SOILGUARD_LOG_LEVEL", cfg.LogLevel)
	cfg.Backend.BaseURL = getEnv("SOILGUARD_BACKEND_URL", cfg.Backend.BaseURL)
	cfg.Backend.Token = getEnv("SOILGUARD_API_TOKEN", cfg.Backend.Token)
	cfg.Storage.Driver = getEnv("SOILGUARD_STORAGE_DRIVER", cfg.Storage.Driver)
	cfg.Storage.DSN = getEnv("SOILGUARD_STORAGE_DSN", cfg.Storage.DSN)
	cfg.Notify.MQTT.Enabled = getEnvBool("SOILGUARD_MQTT_ENABLED", cfg.Notify.MQTT.Enabled)
	cfg.Notify.MQTT.Broker = getEnv("SOILGUARD_MQTT_BROKER", cfg.Notify.MQTT.Broker)
	cfg.Notify.MQTT.Password = getEnv("SOILGUARD_MQTT_PASSWORD", cfg.Notify.MQTT.Password)
	if urls := getEnv("SOILGUARD_NATS_URLS", ""); urls != "" {
		cfg.Storage.NATS.URLs = splitList(urls)
	}
}

func getEnv(key, defaultValue string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvBool(key string, defaultValue bool) bool {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return defaultValue
	}
	return parsed
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
