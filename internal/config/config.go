package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// Config is the on-disk JSON configuration. The HTTP section keeps its
// historical "flask" key so existing deployment configs stay valid.
type Config struct {
	Modbus     *ModbusConfig     `json:"modbus"`
	Polling    *PollingConfig    `json:"polling"`
	Validation ValidationConfig  `json:"validation"`
	Database   DatabaseConfig    `json:"database"`
	HTTP       *HTTPConfig       `json:"flask"`
	Logging    LoggingConfig     `json:"logging"`
	Alerts     AlertsConfig      `json:"alerts"`
	Timezone   string            `json:"timezone"`
	HistoryMax int               `json:"history_max_points"`
}

// ModbusConfig describes the serial bus.
type ModbusConfig struct {
	SerialPort        string  `json:"serial_port"`
	BaudRate          int     `json:"baudrate"`
	ByteSize          int     `json:"bytesize"`
	Parity            string  `json:"parity"`
	StopBits          int     `json:"stopbits"`
	TimeoutSeconds    float64 `json:"timeout"`
	ConnectionTimeout float64 `json:"connection_timeout"`
}

// PollingConfig drives the scheduler.
type PollingConfig struct {
	IntervalSeconds   float64 `json:"interval_seconds"`
	SlaveDelaySeconds float64 `json:"slave_delay_seconds"`
	MaxRetries        int     `json:"max_retries"`
	Slaves            []int   `json:"slaves"`
}

// ValidationConfig is the accepted value window.
type ValidationConfig struct {
	MinValue int `json:"min_value"`
	MaxValue int `json:"max_value"`
}

// DatabaseConfig targets the ERP SQL Server table.
type DatabaseConfig struct {
	Enabled              bool    `json:"enabled"`
	Host                 string  `json:"host"`
	Port                 int     `json:"port"`
	Database             string  `json:"database"`
	Instance             string  `json:"instance"`
	UsernameEnv          string  `json:"username_env"`
	PasswordEnv          string  `json:"password_env"`
	TableName            string  `json:"table_name"`
	Driver               string  `json:"driver"`
	WriteIntervalSeconds float64 `json:"write_interval_seconds"`
	BatchSize            int     `json:"batch_size"`
}

// HTTPConfig binds the embedded web server.
type HTTPConfig struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

// LoggingConfig configures the rotating log sink.
type LoggingConfig struct {
	LogDir      string `json:"log_dir"`
	LogFile     string `json:"log_file"`
	Level       string `json:"level"`
	MaxBytes    int    `json:"max_bytes"`
	BackupCount int    `json:"backup_count"`
}

// AlertsConfig controls the chat notification engine.
type AlertsConfig struct {
	Enabled                 bool           `json:"enabled"`
	OfflineThresholdMinutes float64        `json:"offline_threshold_minutes"`
	Telegram                TelegramConfig `json:"telegram"`
}

// TelegramConfig names the environment variables holding credentials.
type TelegramConfig struct {
	BotTokenEnv          string  `json:"bot_token_env"`
	ChatIDEnv            string  `json:"chat_id_env"`
	AlertCooldownMinutes float64 `json:"alert_cooldown_minutes"`
}

// Load reads and validates the configuration file. When the file does not
// exist, an example is written next to the requested path and an error is
// returned; startup must fail in that case.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		if werr := WriteExample(path); werr != nil {
			return nil, fmt.Errorf("config file %s not found and example could not be written: %v", path, werr)
		}
		return nil, fmt.Errorf("config file %s not found; example written, edit it and restart", path)
	}
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Modbus != nil {
		if c.Modbus.ByteSize == 0 {
			c.Modbus.ByteSize = 8
		}
		if c.Modbus.Parity == "" {
			c.Modbus.Parity = "E"
		}
		if c.Modbus.StopBits == 0 {
			c.Modbus.StopBits = 1
		}
		if c.Modbus.TimeoutSeconds == 0 {
			c.Modbus.TimeoutSeconds = 1.0
		}
		if c.Modbus.ConnectionTimeout == 0 {
			c.Modbus.ConnectionTimeout = 2.0
		}
	}
	if c.Polling != nil {
		if c.Polling.IntervalSeconds == 0 {
			c.Polling.IntervalSeconds = 30
		}
		if c.Polling.SlaveDelaySeconds == 0 {
			c.Polling.SlaveDelaySeconds = 0.1
		}
		if c.Polling.MaxRetries == 0 {
			c.Polling.MaxRetries = 3
		}
		if len(c.Polling.Slaves) == 0 {
			for i := 1; i <= 15; i++ {
				c.Polling.Slaves = append(c.Polling.Slaves, i)
			}
		}
	}
	if c.Validation.MaxValue == 0 {
		c.Validation.MaxValue = 28000
	}
	if c.Database.Port == 0 {
		c.Database.Port = 1433
	}
	if c.Database.TableName == "" {
		c.Database.TableName = "silo_monitoring"
	}
	if c.Database.WriteIntervalSeconds == 0 {
		c.Database.WriteIntervalSeconds = 60
	}
	if c.Database.BatchSize == 0 {
		c.Database.BatchSize = 50
	}
	if c.Database.UsernameEnv == "" {
		c.Database.UsernameEnv = "SQLSERVER_USERNAME"
	}
	if c.Database.PasswordEnv == "" {
		c.Database.PasswordEnv = "SQLSERVER_PASSWORD"
	}
	if c.HTTP != nil {
		if c.HTTP.Host == "" {
			c.HTTP.Host = "0.0.0.0"
		}
		if c.HTTP.Port == 0 {
			c.HTTP.Port = 5000
		}
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Alerts.OfflineThresholdMinutes == 0 {
		c.Alerts.OfflineThresholdMinutes = 5
	}
	if c.Alerts.Telegram.BotTokenEnv == "" {
		c.Alerts.Telegram.BotTokenEnv = "TELEGRAM_BOT_TOKEN"
	}
	if c.Alerts.Telegram.ChatIDEnv == "" {
		c.Alerts.Telegram.ChatIDEnv = "TELEGRAM_CHAT_ID"
	}
	if c.Alerts.Telegram.AlertCooldownMinutes == 0 {
		c.Alerts.Telegram.AlertCooldownMinutes = 15
	}
	if c.Timezone == "" {
		c.Timezone = "Europe/Rome"
	}
	if c.HistoryMax == 0 {
		c.HistoryMax = 100
	}
}

func (c *Config) validate() error {
	if c.Modbus == nil {
		return fmt.Errorf("section 'modbus' is required")
	}
	if c.Polling == nil {
		return fmt.Errorf("section 'polling' is required")
	}
	if c.HTTP == nil {
		return fmt.Errorf("section 'flask' is required")
	}
	if c.Modbus.SerialPort == "" {
		return fmt.Errorf("modbus.serial_port is required")
	}
	if c.Modbus.BaudRate <= 0 {
		return fmt.Errorf("modbus.baudrate must be > 0")
	}
	if c.Modbus.ByteSize != 7 && c.Modbus.ByteSize != 8 {
		return fmt.Errorf("modbus.bytesize must be 7 or 8")
	}
	switch c.Modbus.Parity {
	case "N", "E", "O":
	default:
		return fmt.Errorf("modbus.parity must be one of N, E, O")
	}
	if c.Modbus.StopBits != 1 && c.Modbus.StopBits != 2 {
		return fmt.Errorf("modbus.stopbits must be 1 or 2")
	}
	for _, id := range c.Polling.Slaves {
		if id < 1 || id > 247 {
			return fmt.Errorf("polling.slaves: invalid slave address %d (must be 1-247)", id)
		}
	}
	if c.Validation.MinValue < 0 || c.Validation.MaxValue > 65535 {
		return fmt.Errorf("validation range must fit an unsigned 16-bit register")
	}
	if c.Validation.MaxValue <= c.Validation.MinValue {
		return fmt.Errorf("validation.max_value must be greater than min_value")
	}
	if c.Database.Enabled {
		if c.Database.Host == "" {
			return fmt.Errorf("database.host is required when database is enabled")
		}
		if c.Database.Database == "" {
			return fmt.Errorf("database.database is required when database is enabled")
		}
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("invalid timezone %q: %v", c.Timezone, err)
	}
	return nil
}

// Timeout returns the per-transaction serial timeout.
func (m *ModbusConfig) Timeout() time.Duration {
	return time.Duration(m.TimeoutSeconds * float64(time.Second))
}

// ConnectionWindow spaces reconnection attempts.
func (m *ModbusConfig) ConnectionWindow() time.Duration {
	return time.Duration(m.ConnectionTimeout * float64(time.Second))
}

// Interval is the pause target between poll cycles.
func (p *PollingConfig) Interval() time.Duration {
	return time.Duration(p.IntervalSeconds * float64(time.Second))
}

// SlaveDelay is the pause between devices within a cycle.
func (p *PollingConfig) SlaveDelay() time.Duration {
	return time.Duration(p.SlaveDelaySeconds * float64(time.Second))
}

// SlaveIDs returns the configured device set as bus addresses.
func (p *PollingConfig) SlaveIDs() []uint8 {
	ids := make([]uint8, len(p.Slaves))
	for i, s := range p.Slaves {
		ids[i] = uint8(s)
	}
	return ids
}

// WriteInterval is the maximum batch accumulation time.
func (d *DatabaseConfig) WriteInterval() time.Duration {
	return time.Duration(d.WriteIntervalSeconds * float64(time.Second))
}

// OfflineThreshold is how long a device must stay offline before alerting.
func (a *AlertsConfig) OfflineThreshold() time.Duration {
	return time.Duration(a.OfflineThresholdMinutes * float64(time.Minute))
}

// Cooldown is the minimum interval between repeat offline alerts.
func (t *TelegramConfig) Cooldown() time.Duration {
	return time.Duration(t.AlertCooldownMinutes * float64(time.Minute))
}

// Location resolves the configured timezone; validate guarantees it loads.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}

// WriteExample writes a fully populated example configuration.
func WriteExample(path string) error {
	example := Config{
		Modbus: &ModbusConfig{
			SerialPort:        "/dev/ttyUSB0",
			BaudRate:          115200,
			ByteSize:          8,
			Parity:            "E",
			StopBits:          1,
			TimeoutSeconds:    1.0,
			ConnectionTimeout: 2.0,
		},
		Polling: &PollingConfig{
			IntervalSeconds:   30,
			SlaveDelaySeconds: 0.1,
			MaxRetries:        3,
			Slaves:            []int{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15},
		},
		Validation: ValidationConfig{MinValue: 0, MaxValue: 28000},
		Database: DatabaseConfig{
			Enabled:              false,
			Host:                 "10.1.8.252",
			Port:                 1433,
			Database:             "MIP_IMPEXP",
			Instance:             "SQL2022",
			UsernameEnv:          "SQLSERVER_USERNAME",
			PasswordEnv:          "SQLSERVER_PASSWORD",
			TableName:            "silo_monitoring",
			WriteIntervalSeconds: 60,
			BatchSize:            50,
		},
		HTTP: &HTTPConfig{Host: "0.0.0.0", Port: 5000},
		Logging: LoggingConfig{
			LogDir:      "logs",
			LogFile:     "silomon.log",
			Level:       "info",
			MaxBytes:    10 * 1024 * 1024,
			BackupCount: 5,
		},
		Alerts: AlertsConfig{
			Enabled:                 false,
			OfflineThresholdMinutes: 5,
			Telegram: TelegramConfig{
				BotTokenEnv:          "TELEGRAM_BOT_TOKEN",
				ChatIDEnv:            "TELEGRAM_CHAT_ID",
				AlertCooldownMinutes: 15,
			},
		},
		Timezone:   "Europe/Rome",
		HistoryMax: 100,
	}

	data, err := json.MarshalIndent(example, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(data, '\n'), 0o644)
}
