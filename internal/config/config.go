// Package config loads runtime configuration from the environment.
package config

import (
	"os"
	"time"
)

type Config struct {
	Port            string
	DataDir         string
	DriveFolder     string
	CredentialsFile string
	TokenFile       string
	DeviceName      string
	SyncInterval    time.Duration
	PollInterval    time.Duration
	DebounceWindow  time.Duration
	ThrottleWindow  time.Duration
	LogLevel        string
	LogFile         string
}

func Load() Config {
	return Config{
		Port:            getEnv("PORT", "8484"),
		DataDir:         getEnv("DATA_DIR", "./data"),
		DriveFolder:     getEnv("DRIVE_FOLDER", "ChronoSync"),
		CredentialsFile: getEnv("CREDENTIALS_FILE", "credentials.json"),
		TokenFile:       getEnv("TOKEN_FILE", "token.json"),
		DeviceName:      getEnv("DEVICE_NAME", ""),
		SyncInterval:    getDuration("SYNC_INTERVAL", 5*time.Minute),
		PollInterval:    getDuration("POLL_INTERVAL", 30*time.Second),
		DebounceWindow:  getDuration("DEBOUNCE_WINDOW", 500*time.Millisecond),
		ThrottleWindow:  getDuration("THROTTLE_WINDOW", 30*time.Second),
		LogLevel:        getEnv("LOG_LEVEL", "info"),
		LogFile:         getEnv("LOG_FILE", ""),
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
