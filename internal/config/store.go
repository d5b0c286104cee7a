package config

import (
	"slices"
	"sync"
	"time"

	"github.com/sweeney/reefer-sensor/internal/logic"
)

// Settings is the runtime-editable view served by the config API.
type Settings struct {
	ThresholdsConfig
	DoorEnabled     bool `json:"door_enabled"`
	Sensor2Enabled  bool `json:"sensor2_enabled"`
	SimulationMode  bool `json:"simulation_mode"`
	TelegramEnabled bool `json:"telegram_enabled"`
	CloudEnabled    bool `json:"cloud_enabled"`
}

// Patch is a partial update. Nil fields are left unchanged.
type Patch struct {
	TempCritical       *float64 `json:"temp_critical"`
	AlertDelaySec      *int     `json:"alert_delay_sec"`
	DefrostCooldownSec *int     `json:"defrost_cooldown_sec"`
	DefrostRelayNC     *bool    `json:"defrost_relay_nc"`
	RelayEnabled       *bool    `json:"relay_enabled"`
	BuzzerEnabled      *bool    `json:"buzzer_enabled"`
	DoorOpenMaxSec     *int     `json:"door_open_max_sec"`
	DoorEnabled        *bool    `json:"door_enabled"`
	Sensor2Enabled     *bool    `json:"sensor2_enabled"`
	SimulationMode     *bool    `json:"simulation_mode"`
	TelegramEnabled    *bool    `json:"telegram_enabled"`
	CloudEnabled       *bool    `json:"cloud_enabled"`
}

// Store owns the live configuration. Readers get copies; the control loop
// reads Thresholds on every tick so API edits apply on the next one.
type Store struct {
	mu  sync.RWMutex
	cfg Config
}

func NewStore(cfg Config) *Store {
	return &Store{cfg: cfg}
}

// Config returns a copy of the full configuration.
func (s *Store) Config() Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c := s.cfg
	c.Telegram.ChatIDs = slices.Clone(s.cfg.Telegram.ChatIDs)
	return c
}

// Thresholds returns the values the core evaluates against.
func (s *Store) Thresholds() logic.Thresholds {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t := s.cfg.Thresholds
	return logic.Thresholds{
		TempCritical:    t.TempCritical,
		AlertDelay:      time.Duration(t.AlertDelaySec) * time.Second,
		DefrostCooldown: time.Duration(t.DefrostCooldownSec) * time.Second,
		DefrostRelayNC:  t.DefrostRelayNC,
		RelayEnabled:    t.RelayEnabled,
		BuzzerEnabled:   t.BuzzerEnabled,
		DoorEnabled:     s.cfg.GPIO.DoorEnabled,
		DoorOpenMax:     time.Duration(t.DoorOpenMaxSec) * time.Second,
	}
}

// Sensor returns the sensor section.
func (s *Store) Sensor() SensorConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg.Sensor
}

// TelegramEnabled reports whether Telegram delivery is switched on.
func (s *Store) TelegramEnabled() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg.Telegram.Enabled
}

// CloudEnabled reports whether cloud upload is switched on.
func (s *Store) CloudEnabled() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg.Cloud.Enabled
}

// Settings returns the runtime-editable view.
func (s *Store) Settings() Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.settingsLocked()
}

func (s *Store) settingsLocked() Settings {
	return Settings{
		ThresholdsConfig: s.cfg.Thresholds,
		DoorEnabled:      s.cfg.GPIO.DoorEnabled,
		Sensor2Enabled:   s.cfg.Sensor.Sensor2Enabled,
		SimulationMode:   s.cfg.Sensor.Mode == SensorSimulation,
		TelegramEnabled:  s.cfg.Telegram.Enabled,
		CloudEnabled:     s.cfg.Cloud.Enabled,
	}
}

// Update applies p atomically. Nothing changes if the result fails validation.
func (s *Store) Update(p Patch) (Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.cfg
	t := &next.Thresholds
	setFloat(&t.TempCritical, p.TempCritical)
	setInt(&t.AlertDelaySec, p.AlertDelaySec)
	setInt(&t.DefrostCooldownSec, p.DefrostCooldownSec)
	setBool(&t.DefrostRelayNC, p.DefrostRelayNC)
	setBool(&t.RelayEnabled, p.RelayEnabled)
	setBool(&t.BuzzerEnabled, p.BuzzerEnabled)
	setInt(&t.DoorOpenMaxSec, p.DoorOpenMaxSec)
	setBool(&next.GPIO.DoorEnabled, p.DoorEnabled)
	setBool(&next.Sensor.Sensor2Enabled, p.Sensor2Enabled)
	setBool(&next.Telegram.Enabled, p.TelegramEnabled)
	setBool(&next.Cloud.Enabled, p.CloudEnabled)
	if p.SimulationMode != nil {
		next.Sensor.Mode = SensorDS18B20
		if *p.SimulationMode {
			next.Sensor.Mode = SensorSimulation
		}
	}

	if err := next.Validate(); err != nil {
		return s.settingsLocked(), err
	}
	s.cfg = next
	return s.settingsLocked(), nil
}

func setFloat(dst *float64, v *float64) {
	if v != nil {
		*dst = *v
	}
}

func setInt(dst *int, v *int) {
	if v != nil {
		*dst = *v
	}
}

func setBool(dst *bool, v *bool) {
	if v != nil {
		*dst = *v
	}
}
