package config

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"
)

// DefaultServiceType is the service identifier peers advertise and browse
// under. Announcements for any other service type are ignored.
const DefaultServiceType = "colocate-p2p"

// SessionConfig is the on-disk configuration for a colocate device. Every
// field is optional; the Get* accessors supply defaults for unset values so
// partial files are safe.
type SessionConfig struct {
	// Identity and discovery
	DisplayName      *string `json:"display_name,omitempty"`
	ServiceType      *string `json:"service_type,omitempty"`
	DiscoveryGroup   *string `json:"discovery_group,omitempty"` // multicast host:port
	DataAddress      *string `json:"data_address,omitempty"`    // unicast listen host:port
	AnnounceInterval *string `json:"announce_interval,omitempty"`
	PeerTimeout      *string `json:"peer_timeout,omitempty"`
	InviteTimeout    *string `json:"invite_timeout,omitempty"`

	// Send worker pool
	SendWorkers   *int `json:"send_workers,omitempty"`
	SendQueueSize *int `json:"send_queue_size,omitempty"`

	// Calibration
	SimultaneityTolerance *string `json:"simultaneity_tolerance,omitempty"`
	RoundWindow           *string `json:"round_window,omitempty"`

	// Sensor feed
	SensorStaleAfter *string `json:"sensor_stale_after,omitempty"`
	SensorDevice     *string `json:"sensor_device,omitempty"` // serial path of the tracker bridge
	SensorBaudRate   *int    `json:"sensor_baud_rate,omitempty"`

	// Outputs
	JournalPath *string `json:"journal_path,omitempty"`
	CapturePath *string `json:"capture_path,omitempty"` // pcap file, empty disables capture
}

// EmptySessionConfig returns a SessionConfig with all fields unset.
func EmptySessionConfig() *SessionConfig {
	return &SessionConfig{}
}

// LoadSessionConfig loads a SessionConfig from a JSON file.
// The file must have a .json extension and be under 1MB.
func LoadSessionConfig(path string) (*SessionConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptySessionConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func isSet(v *string) bool { return v != nil && *v != "" }

// Validate checks that any values that are set are usable.
func (c *SessionConfig) Validate() error {
	durations := map[string]*string{
		"announce_interval":      c.AnnounceInterval,
		"peer_timeout":           c.PeerTimeout,
		"invite_timeout":         c.InviteTimeout,
		"simultaneity_tolerance": c.SimultaneityTolerance,
		"round_window":           c.RoundWindow,
		"sensor_stale_after":     c.SensorStaleAfter,
	}
	for name, v := range durations {
		if v == nil || *v == "" {
			continue
		}
		d, err := time.ParseDuration(*v)
		if err != nil {
			return fmt.Errorf("invalid %s '%s': %w", name, *v, err)
		}
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %s", name, *v)
		}
	}

	// Compared against the defaults when only one side is set.
	if isSet(c.AnnounceInterval) || isSet(c.PeerTimeout) {
		if timeout, interval := c.GetPeerTimeout(), c.GetAnnounceInterval(); timeout <= interval {
			return fmt.Errorf("peer_timeout (%s) must exceed announce_interval (%s)", timeout, interval)
		}
	}

	for name, v := range map[string]*string{"discovery_group": c.DiscoveryGroup, "data_address": c.DataAddress} {
		if v == nil || *v == "" {
			continue
		}
		if _, _, err := net.SplitHostPort(*v); err != nil {
			return fmt.Errorf("invalid %s '%s': %w", name, *v, err)
		}
	}

	if c.SendWorkers != nil && *c.SendWorkers < 1 {
		return fmt.Errorf("send_workers must be at least 1, got %d", *c.SendWorkers)
	}
	if c.SendQueueSize != nil && *c.SendQueueSize < 1 {
		return fmt.Errorf("send_queue_size must be at least 1, got %d", *c.SendQueueSize)
	}
	if c.SensorBaudRate != nil && *c.SensorBaudRate < 0 {
		return fmt.Errorf("sensor_baud_rate must be non-negative, got %d", *c.SensorBaudRate)
	}
	if c.ServiceType != nil && *c.ServiceType == "" {
		return fmt.Errorf("service_type must not be empty")
	}
	return nil
}

func durationOr(v *string, def time.Duration) time.Duration {
	if v == nil || *v == "" {
		return def
	}
	d, err := time.ParseDuration(*v)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

func stringOr(v *string, def string) string {
	if v == nil || *v == "" {
		return def
	}
	return *v
}

// GetDisplayName returns the display name or the host name.
func (c *SessionConfig) GetDisplayName() string {
	if c.DisplayName != nil && *c.DisplayName != "" {
		return *c.DisplayName
	}
	host, err := os.Hostname()
	if err != nil || host == "" {
		return "colocate"
	}
	return host
}

// GetServiceType returns the service identifier or DefaultServiceType.
func (c *SessionConfig) GetServiceType() string {
	return stringOr(c.ServiceType, DefaultServiceType)
}

// GetDiscoveryGroup returns the multicast discovery address.
func (c *SessionConfig) GetDiscoveryGroup() string {
	return stringOr(c.DiscoveryGroup, "239.255.77.77:47710")
}

// GetDataAddress returns the unicast data listen address.
func (c *SessionConfig) GetDataAddress() string {
	return stringOr(c.DataAddress, ":47711")
}

// GetAnnounceInterval returns how often presence is advertised.
func (c *SessionConfig) GetAnnounceInterval() time.Duration {
	return durationOr(c.AnnounceInterval, time.Second)
}

// GetPeerTimeout returns how long a silent peer is kept before it is lost.
func (c *SessionConfig) GetPeerTimeout() time.Duration {
	return durationOr(c.PeerTimeout, 5*time.Second)
}

// GetInviteTimeout returns how long an unanswered invitation stays pending.
func (c *SessionConfig) GetInviteTimeout() time.Duration {
	return durationOr(c.InviteTimeout, 10*time.Second)
}

// GetSendWorkers returns the number of send workers.
func (c *SessionConfig) GetSendWorkers() int {
	if c.SendWorkers == nil {
		return 2
	}
	return *c.SendWorkers
}

// GetSendQueueSize returns the send queue capacity.
func (c *SessionConfig) GetSendQueueSize() int {
	if c.SendQueueSize == nil {
		return 64
	}
	return *c.SendQueueSize
}

// GetSimultaneityTolerance returns the largest capture skew between the left
// and right fingertip samples of one dual-finger coordinate.
func (c *SessionConfig) GetSimultaneityTolerance() time.Duration {
	return durationOr(c.SimultaneityTolerance, 50*time.Millisecond)
}

// GetRoundWindow returns the largest timestamp gap between a local and a
// remote dual-finger coordinate that still counts as the same round.
func (c *SessionConfig) GetRoundWindow() time.Duration {
	return durationOr(c.RoundWindow, 3*time.Second)
}

// GetSensorStaleAfter returns the age after which a pose reads as untracked.
func (c *SessionConfig) GetSensorStaleAfter() time.Duration {
	return durationOr(c.SensorStaleAfter, 250*time.Millisecond)
}

// GetSensorDevice returns the tracker bridge serial path, empty when unset.
func (c *SessionConfig) GetSensorDevice() string {
	return stringOr(c.SensorDevice, "")
}

// GetSensorBaudRate returns the tracker bridge baud rate.
func (c *SessionConfig) GetSensorBaudRate() int {
	if c.SensorBaudRate == nil || *c.SensorBaudRate == 0 {
		return 115200
	}
	return *c.SensorBaudRate
}

// GetJournalPath returns the round journal database path.
func (c *SessionConfig) GetJournalPath() string {
	return stringOr(c.JournalPath, "colocate.db")
}

// GetCapturePath returns the pcap capture path, empty when capture is off.
func (c *SessionConfig) GetCapturePath() string {
	return stringOr(c.CapturePath, "")
}
