package config

import (
	"os"
	"path/filepath"
	"strconv"
	"time"
)

type Config struct {
	Host              string
	Port              int
	DBPath            string
	TokenPath         string
	Token             string
	TLSCertPath       string
	TLSKeyPath        string
	HeartbeatInterval time.Duration
	MonitorInterval   time.Duration
	NonceTTL          time.Duration
	HistoryCap        int
	CommandTimeout    time.Duration
	ShellTimeout      time.Duration
}

func DefaultConfig() Config {
	return Config{
		Host:              envStr("BRIDGE_HOST", "127.0.0.1"),
		Port:              envInt("BRIDGE_PORT", 8765),
		DBPath:            defaultDBPath(),
		TokenPath:         defaultTokenPath(),
		Token:             os.Getenv("BRIDGE_TOKEN"),
		TLSCertPath:       os.Getenv("BRIDGE_TLS_CERT"),
		TLSKeyPath:        os.Getenv("BRIDGE_TLS_KEY"),
		HeartbeatInterval: 30 * time.Second,
		MonitorInterval:   5 * time.Second,
		NonceTTL:          30 * time.Second,
		HistoryCap:        500,
		CommandTimeout:    10 * time.Second,
		ShellTimeout:      30 * time.Second,
	}
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func defaultDBPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "bridged.db"
	}
	return filepath.Join(home, ".local", "state", "bridged", "state.db")
}

func defaultTokenPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".bridged_token"
	}
	return filepath.Join(home, ".bridged_token")
}
