// Package config loads daemon settings with viper and holds the live thresholds.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/sweeney/reefer-sensor/internal/gpio"
)

// ErrInvalid is returned when a configuration value is out of range.
var ErrInvalid = errors.New("invalid configuration")

// Temperature range a DS18B20 can report; thresholds outside it can never fire.
const (
	MinTemp = -55.0
	MaxTemp = 125.0
)

// Config is the full daemon configuration.
type Config struct {
	Thresholds ThresholdsConfig `mapstructure:"thresholds"`
	Sensor     SensorConfig     `mapstructure:"sensor"`
	GPIO       GPIOConfig       `mapstructure:"gpio"`
	Loop       LoopConfig       `mapstructure:"loop"`
	Device     DeviceConfig     `mapstructure:"device"`
	Telegram   TelegramConfig   `mapstructure:"telegram"`
	Cloud      CloudConfig      `mapstructure:"cloud"`
	MQTT       MQTTConfig       `mapstructure:"mqtt"`
	Journal    JournalConfig    `mapstructure:"journal"`
	HTTP       HTTPConfig       `mapstructure:"http"`
	Log        LogConfig        `mapstructure:"log"`
}

// ThresholdsConfig holds the alarm and defrost settings, editable at runtime.
type ThresholdsConfig struct {
	TempCritical       float64 `mapstructure:"temp_critical" json:"temp_critical"`
	AlertDelaySec      int     `mapstructure:"alert_delay_sec" json:"alert_delay_sec"`
	DefrostCooldownSec int     `mapstructure:"defrost_cooldown_sec" json:"defrost_cooldown_sec"`
	DefrostRelayNC     bool    `mapstructure:"defrost_relay_nc" json:"defrost_relay_nc"`
	RelayEnabled       bool    `mapstructure:"relay_enabled" json:"relay_enabled"`
	BuzzerEnabled      bool    `mapstructure:"buzzer_enabled" json:"buzzer_enabled"`
	DoorOpenMaxSec     int     `mapstructure:"door_open_max_sec" json:"door_open_max_sec"`
}

// Sensor modes.
const (
	SensorDS18B20    = "ds18b20"
	SensorSimulation = "simulation"
)

type SensorConfig struct {
	Mode           string  `mapstructure:"mode"`
	W1Dir          string  `mapstructure:"w1_dir"`
	Sensor1ID      string  `mapstructure:"sensor1_id"`
	Sensor2ID      string  `mapstructure:"sensor2_id"`
	Sensor2Enabled bool    `mapstructure:"sensor2_enabled"`
	SimTemp1       float64 `mapstructure:"sim_temp1"`
	SimTemp2       float64 `mapstructure:"sim_temp2"`
}

type GPIOConfig struct {
	Chip        string `mapstructure:"chip"`
	PinDefrost  int    `mapstructure:"pin_defrost"`
	PinDoor     int    `mapstructure:"pin_door"`
	PinRelay    int    `mapstructure:"pin_relay"`
	PinBuzzer   int    `mapstructure:"pin_buzzer"`
	DoorEnabled bool   `mapstructure:"door_enabled"`
}

type LoopConfig struct {
	Tick          time.Duration `mapstructure:"tick"`
	PinPoll       time.Duration `mapstructure:"pin_poll"`
	NotifyTimeout time.Duration `mapstructure:"notify_timeout"`
	Heartbeat     time.Duration `mapstructure:"heartbeat"`
}

type DeviceConfig struct {
	ID       string `mapstructure:"id"`
	Name     string `mapstructure:"name"`
	Location string `mapstructure:"location"`
}

type TelegramConfig struct {
	Enabled bool     `mapstructure:"enabled"`
	Token   string   `mapstructure:"token"`
	ChatIDs []string `mapstructure:"chat_ids"`
	APIURL  string   `mapstructure:"api_url"`
}

type CloudConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	URL          string        `mapstructure:"url"`
	APIKey       string        `mapstructure:"api_key"`
	SyncInterval time.Duration `mapstructure:"sync_interval"`
}

type MQTTConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	Broker      string `mapstructure:"broker"`
	ClientID    string `mapstructure:"client_id"`
	TopicPrefix string `mapstructure:"topic_prefix"`
}

type JournalConfig struct {
	Path string `mapstructure:"path"`
}

type HTTPConfig struct {
	Addr string `mapstructure:"addr"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

// SetDefaults registers the default value of every key on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("thresholds.temp_critical", -10.0)
	v.SetDefault("thresholds.alert_delay_sec", 300)
	v.SetDefault("thresholds.defrost_cooldown_sec", 1800)
	v.SetDefault("thresholds.defrost_relay_nc", false)
	v.SetDefault("thresholds.relay_enabled", true)
	v.SetDefault("thresholds.buzzer_enabled", true)
	v.SetDefault("thresholds.door_open_max_sec", 180)

	v.SetDefault("sensor.mode", SensorDS18B20)
	v.SetDefault("sensor.w1_dir", "/sys/bus/w1/devices")
	v.SetDefault("sensor.sensor1_id", "")
	v.SetDefault("sensor.sensor2_id", "")
	v.SetDefault("sensor.sensor2_enabled", false)
	v.SetDefault("sensor.sim_temp1", -20.0)
	v.SetDefault("sensor.sim_temp2", -20.0)

	v.SetDefault("gpio.chip", gpio.DefaultChip)
	v.SetDefault("gpio.pin_defrost", gpio.DefaultPinDefrost)
	v.SetDefault("gpio.pin_door", gpio.DefaultPinDoor)
	v.SetDefault("gpio.pin_relay", gpio.DefaultPinRelay)
	v.SetDefault("gpio.pin_buzzer", gpio.DefaultPinBuzzer)
	v.SetDefault("gpio.door_enabled", false)

	v.SetDefault("loop.tick", 5*time.Second)
	v.SetDefault("loop.pin_poll", 250*time.Millisecond)
	v.SetDefault("loop.notify_timeout", 5*time.Second)
	v.SetDefault("loop.heartbeat", 15*time.Minute)

	v.SetDefault("device.id", "reefer-01")
	v.SetDefault("device.name", "Reefer")
	v.SetDefault("device.location", "")

	v.SetDefault("telegram.enabled", false)
	v.SetDefault("telegram.token", "")
	v.SetDefault("telegram.chat_ids", []string{})
	v.SetDefault("telegram.api_url", "https://api.telegram.org")

	v.SetDefault("cloud.enabled", false)
	v.SetDefault("cloud.url", "")
	v.SetDefault("cloud.api_key", "")
	v.SetDefault("cloud.sync_interval", 60*time.Second)

	v.SetDefault("mqtt.enabled", false)
	v.SetDefault("mqtt.broker", "tcp://localhost:1883")
	v.SetDefault("mqtt.client_id", "reefer-sensor")
	v.SetDefault("mqtt.topic_prefix", "reefer")

	v.SetDefault("journal.path", "reefer.db")
	v.SetDefault("http.addr", ":8080")
	v.SetDefault("log.level", "info")
}

// Load reads configuration into a Config. An explicit path must exist; without
// one, reefer.yaml is searched in the working directory and /etc/reefer-sensor
// and may be absent. REEFER_* environment variables override the file.
func Load(v *viper.Viper, path string) (Config, error) {
	SetDefaults(v)

	v.SetEnvPrefix("REEFER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %q: %w", path, err)
		}
	} else {
		v.SetConfigName("reefer")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/reefer-sensor")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return Config{}, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks every field the daemon cannot run without.
func (c Config) Validate() error {
	if err := c.Thresholds.Validate(); err != nil {
		return err
	}
	switch c.Sensor.Mode {
	case SensorDS18B20, SensorSimulation:
	default:
		return fmt.Errorf("%w: sensor.mode %q", ErrInvalid, c.Sensor.Mode)
	}
	if c.Loop.Tick <= 0 {
		return fmt.Errorf("%w: loop.tick must be positive", ErrInvalid)
	}
	if c.Loop.PinPoll <= 0 {
		return fmt.Errorf("%w: loop.pin_poll must be positive", ErrInvalid)
	}
	if c.Loop.NotifyTimeout <= 0 {
		return fmt.Errorf("%w: loop.notify_timeout must be positive", ErrInvalid)
	}
	if err := c.GPIO.Validate(); err != nil {
		return err
	}
	if c.Telegram.Enabled && (c.Telegram.Token == "" || len(c.Telegram.ChatIDs) == 0) {
		return fmt.Errorf("%w: telegram needs token and chat_ids", ErrInvalid)
	}
	if c.Cloud.Enabled && (c.Cloud.URL == "" || c.Cloud.APIKey == "") {
		return fmt.Errorf("%w: cloud needs url and api_key", ErrInvalid)
	}
	return nil
}

// Validate checks every line offset is a BCM GPIO routed to the 40-pin header.
func (g GPIOConfig) Validate() error {
	pins := []struct {
		key string
		pin int
	}{
		{"pin_defrost", g.PinDefrost},
		{"pin_door", g.PinDoor},
		{"pin_relay", g.PinRelay},
		{"pin_buzzer", g.PinBuzzer},
	}
	for _, p := range pins {
		if p.pin < 0 || p.pin > gpio.MaxHeaderPin {
			return fmt.Errorf("%w: gpio.%s %d outside BCM 0..%d", ErrInvalid, p.key, p.pin, gpio.MaxHeaderPin)
		}
	}
	return nil
}

// Validate checks threshold ranges.
func (t ThresholdsConfig) Validate() error {
	if t.TempCritical < MinTemp || t.TempCritical > MaxTemp {
		return fmt.Errorf("%w: temp_critical %.1f outside %.0f..%.0f", ErrInvalid, t.TempCritical, MinTemp, MaxTemp)
	}
	if t.AlertDelaySec < 0 {
		return fmt.Errorf("%w: alert_delay_sec must not be negative", ErrInvalid)
	}
	if t.DefrostCooldownSec < 0 {
		return fmt.Errorf("%w: defrost_cooldown_sec must not be negative", ErrInvalid)
	}
	if t.DoorOpenMaxSec < 0 {
		return fmt.Errorf("%w: door_open_max_sec must not be negative", ErrInvalid)
	}
	return nil
}
