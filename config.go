package pairsync

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// SyncConfig defines sync engine configuration.
type SyncConfig struct {
	// LocalPath is the file path for the durable local store (mission
	// cache and offline queue). Required.
	LocalPath string `yaml:"local_path"`

	// WriteTimeout bounds each immediate remote write attempt. A write
	// that does not resolve within this interval is treated as failed and
	// queued, rather than hanging the optimistic-update illusion.
	// Default: 10s.
	WriteTimeout time.Duration `yaml:"write_timeout"`

	// EventBuffer is the capacity of the inbound change-event channel.
	// Default: 256.
	EventBuffer int `yaml:"event_buffer"`

	// Queue configures the offline operation queue.
	Queue QueueConfig `yaml:"queue"`

	// Remote configures the HTTP remote store adapter. Ignored when a
	// RemoteStore is injected directly.
	Remote RemoteConfig `yaml:"remote"`

	// Photos configures the S3 photo store. If nil, photo blobs stay in
	// the queue payload until a store is available. Ignored when a
	// PhotoStore is injected directly.
	Photos *S3PhotoConfig `yaml:"photos"`

	// Encryption configures at-rest encryption of queued payloads.
	// If nil or Enabled is false, payloads are stored unencrypted.
	Encryption *EncryptionConfig `yaml:"encryption"`

	// StaleMissionRetention reserves a policy hook for expiring the loser
	// record of a double-start race. 0 keeps such records until they are
	// explicitly cancelled.
	StaleMissionRetention time.Duration `yaml:"stale_mission_retention"`
}

// DefaultSyncConfig returns a configuration with sensible defaults.
func DefaultSyncConfig(localPath string) SyncConfig {
	return SyncConfig{
		LocalPath:    localPath,
		WriteTimeout: 10 * time.Second,
		EventBuffer:  256,
		Queue:        DefaultQueueConfig(),
	}
}

// normalize fills zero values with defaults.
func (c *SyncConfig) normalize() {
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 10 * time.Second
	}
	if c.EventBuffer <= 0 {
		c.EventBuffer = 256
	}
}

// LoadSyncConfig reads a SyncConfig from a YAML file.
func LoadSyncConfig(path string) (*SyncConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var cfg SyncConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if cfg.LocalPath == "" {
		return nil, fmt.Errorf("config: local_path is required")
	}
	cfg.normalize()
	return &cfg, nil
}
