package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// DefaultConfigPath is the path to the canonical tuning defaults file.
// This is the single source of truth for all default tuning values.
const DefaultConfigPath = "config/tuning.defaults.json"

// TuningConfig represents the root configuration for tuning parameters.
// The schema matches the /api/config endpoint so the same JSON can be used
// for both startup configuration and runtime inspection.
type TuningConfig struct {
	// Presence tracker params
	MinDetectedThreshold *int `json:"min_detected_threshold,omitempty"`
	MinConsecutiveMisses *int `json:"min_consecutive_misses,omitempty"`
	MaxMissingPerCycle   *int `json:"max_missing_per_cycle,omitempty"`

	// Broadcaster params
	SendTimeout      *string `json:"send_timeout,omitempty"` // duration string like "2s"
	SubscriberBuffer *int    `json:"subscriber_buffer,omitempty"`

	// Ingest params
	SerialPort *string `json:"serial_port,omitempty"`
	SerialBaud *int    `json:"serial_baud,omitempty"`
	MQTTBroker *string `json:"mqtt_broker,omitempty"`
	MQTTTopic  *string `json:"mqtt_topic,omitempty"`

	// Server params
	ListenAddr   *string `json:"listen_addr,omitempty"`
	DatabasePath *string `json:"database_path,omitempty"`
}

// EmptyTuningConfig returns a TuningConfig with all fields set to nil.
// Use LoadTuningConfig to load actual values from the defaults file.
func EmptyTuningConfig() *TuningConfig {
	return &TuningConfig{}
}

// LoadTuningConfig loads a TuningConfig from a JSON file.
// The file is validated to ensure it has a .json extension and is under the
// max file size. Fields omitted from the JSON file fall back to the Get*
// defaults, so partial configs are safe.
func LoadTuningConfig(path string) (*TuningConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	// Check file size for safety (max 1MB)
	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyTuningConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that the configuration values are valid.
func (c *TuningConfig) Validate() error {
	if c.MinDetectedThreshold != nil && *c.MinDetectedThreshold < 0 {
		return fmt.Errorf("min_detected_threshold must be non-negative, got %d", *c.MinDetectedThreshold)
	}
	if c.MinConsecutiveMisses != nil && *c.MinConsecutiveMisses < 1 {
		return fmt.Errorf("min_consecutive_misses must be >= 1, got %d", *c.MinConsecutiveMisses)
	}
	if c.MaxMissingPerCycle != nil && *c.MaxMissingPerCycle < 0 {
		return fmt.Errorf("max_missing_per_cycle must be non-negative, got %d", *c.MaxMissingPerCycle)
	}
	if c.SubscriberBuffer != nil && *c.SubscriberBuffer < 1 {
		return fmt.Errorf("subscriber_buffer must be >= 1, got %d", *c.SubscriberBuffer)
	}
	if c.SerialBaud != nil && *c.SerialBaud < 1 {
		return fmt.Errorf("serial_baud must be positive, got %d", *c.SerialBaud)
	}

	// Validate SendTimeout can be parsed if set
	if c.SendTimeout != nil && *c.SendTimeout != "" {
		if _, err := time.ParseDuration(*c.SendTimeout); err != nil {
			return fmt.Errorf("invalid send_timeout '%s': %w", *c.SendTimeout, err)
		}
	}

	return nil
}

// GetMinDetectedThreshold returns the min_detected_threshold value or the default.
func (c *TuningConfig) GetMinDetectedThreshold() int {
	if c.MinDetectedThreshold == nil {
		return 2
	}
	return *c.MinDetectedThreshold
}

// GetMinConsecutiveMisses returns the min_consecutive_misses value or the default.
func (c *TuningConfig) GetMinConsecutiveMisses() int {
	if c.MinConsecutiveMisses == nil {
		return 3
	}
	return *c.MinConsecutiveMisses
}

// GetMaxMissingPerCycle returns the max_missing_per_cycle value or the default.
func (c *TuningConfig) GetMaxMissingPerCycle() int {
	if c.MaxMissingPerCycle == nil {
		return 1
	}
	return *c.MaxMissingPerCycle
}

// GetSendTimeout parses and returns the SendTimeout as a time.Duration.
func (c *TuningConfig) GetSendTimeout() time.Duration {
	if c.SendTimeout == nil || *c.SendTimeout == "" {
		return 2 * time.Second // default
	}
	d, err := time.ParseDuration(*c.SendTimeout)
	if err != nil {
		return 2 * time.Second // default on parse error
	}
	return d
}

// GetSubscriberBuffer returns the subscriber_buffer value or the default.
func (c *TuningConfig) GetSubscriberBuffer() int {
	if c.SubscriberBuffer == nil {
		return 16
	}
	return *c.SubscriberBuffer
}

// GetSerialPort returns the serial_port value or the default.
func (c *TuningConfig) GetSerialPort() string {
	if c.SerialPort == nil || *c.SerialPort == "" {
		return "/dev/ttyUSB0"
	}
	return *c.SerialPort
}

// GetSerialBaud returns the serial_baud value or the default.
func (c *TuningConfig) GetSerialBaud() int {
	if c.SerialBaud == nil {
		return 115200
	}
	return *c.SerialBaud
}

// GetMQTTBroker returns the mqtt_broker value or the default.
func (c *TuningConfig) GetMQTTBroker() string {
	if c.MQTTBroker == nil || *c.MQTTBroker == "" {
		return "tcp://localhost:1883"
	}
	return *c.MQTTBroker
}

// GetMQTTTopic returns the mqtt_topic value or the default.
func (c *TuningConfig) GetMQTTTopic() string {
	if c.MQTTTopic == nil || *c.MQTTTopic == "" {
		return "store/production"
	}
	return *c.MQTTTopic
}

// GetListenAddr returns the listen_addr value or the default.
func (c *TuningConfig) GetListenAddr() string {
	if c.ListenAddr == nil || *c.ListenAddr == "" {
		return ":8080"
	}
	return *c.ListenAddr
}

// GetDatabasePath returns the database_path value or the default.
func (c *TuningConfig) GetDatabasePath() string {
	if c.DatabasePath == nil || *c.DatabasePath == "" {
		return "inventory_data.db"
	}
	return *c.DatabasePath
}
