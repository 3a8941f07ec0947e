package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

const minimalConfig = `{
  "modbus": {"serial_port": "/dev/ttyUSB0", "baudrate": 9600},
  "polling": {},
  "flask": {}
}`

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalConfig))
	require.NoError(t, err)

	assert.Equal(t, 8, cfg.Modbus.ByteSize)
	assert.Equal(t, "E", cfg.Modbus.Parity)
	assert.Equal(t, 1, cfg.Modbus.StopBits)
	assert.Equal(t, time.Second, cfg.Modbus.Timeout())
	assert.Equal(t, 2*time.Second, cfg.Modbus.ConnectionWindow())

	assert.Equal(t, 30*time.Second, cfg.Polling.Interval())
	assert.Equal(t, 100*time.Millisecond, cfg.Polling.SlaveDelay())
	assert.Equal(t, 3, cfg.Polling.MaxRetries)
	assert.Len(t, cfg.Polling.Slaves, 15)

	assert.Equal(t, 0, cfg.Validation.MinValue)
	assert.Equal(t, 28000, cfg.Validation.MaxValue)

	assert.Equal(t, "0.0.0.0", cfg.HTTP.Host)
	assert.Equal(t, 5000, cfg.HTTP.Port)

	assert.Equal(t, 1433, cfg.Database.Port)
	assert.Equal(t, "silo_monitoring", cfg.Database.TableName)
	assert.Equal(t, 60*time.Second, cfg.Database.WriteInterval())
	assert.Equal(t, 50, cfg.Database.BatchSize)

	assert.Equal(t, 5*time.Minute, cfg.Alerts.OfflineThreshold())
	assert.Equal(t, 15*time.Minute, cfg.Alerts.Telegram.Cooldown())

	assert.Equal(t, "Europe/Rome", cfg.Timezone)
	assert.Equal(t, 100, cfg.HistoryMax)
}

func TestLoadMissingFileWritesExample(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")

	_, err := Load(path)
	require.Error(t, err)

	// The example must itself be loadable.
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/dev/ttyUSB0", cfg.Modbus.SerialPort)
}

func TestLoadRejectsInvalidJSON(t *testing.T) {
	_, err := Load(writeConfig(t, `{"modbus":`))
	assert.Error(t, err)
}

func TestValidation(t *testing.T) {
	testCases := []struct {
		name string
		body string
		want string
	}{
		{
			name: "missing modbus section",
			body: `{"polling": {}, "flask": {}}`,
			want: "modbus",
		},
		{
			name: "missing polling section",
			body: `{"modbus": {"serial_port": "/dev/ttyUSB0", "baudrate": 9600}, "flask": {}}`,
			want: "polling",
		},
		{
			name: "missing flask section",
			body: `{"modbus": {"serial_port": "/dev/ttyUSB0", "baudrate": 9600}, "polling": {}}`,
			want: "flask",
		},
		{
			name: "empty serial port",
			body: `{"modbus": {"baudrate": 9600}, "polling": {}, "flask": {}}`,
			want: "serial_port",
		},
		{
			name: "zero baudrate",
			body: `{"modbus": {"serial_port": "/dev/ttyUSB0"}, "polling": {}, "flask": {}}`,
			want: "baudrate",
		},
		{
			name: "bad parity",
			body: `{"modbus": {"serial_port": "/dev/ttyUSB0", "baudrate": 9600, "parity": "X"}, "polling": {}, "flask": {}}`,
			want: "parity",
		},
		{
			name: "bad slave address",
			body: `{"modbus": {"serial_port": "/dev/ttyUSB0", "baudrate": 9600}, "polling": {"slaves": [0]}, "flask": {}}`,
			want: "slave",
		},
		{
			name: "inverted range",
			body: `{"modbus": {"serial_port": "/dev/ttyUSB0", "baudrate": 9600}, "polling": {}, "flask": {}, "validation": {"min_value": 30000, "max_value": 28000}}`,
			want: "max_value",
		},
		{
			name: "database enabled without host",
			body: `{"modbus": {"serial_port": "/dev/ttyUSB0", "baudrate": 9600}, "polling": {}, "flask": {}, "database": {"enabled": true}}`,
			want: "database.host",
		},
		{
			name: "bad timezone",
			body: `{"modbus": {"serial_port": "/dev/ttyUSB0", "baudrate": 9600}, "polling": {}, "flask": {}, "timezone": "Mars/Olympus"}`,
			want: "timezone",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tc.body))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestSlaveIDs(t *testing.T) {
	cfg, err := Load(writeConfig(t, `{
	  "modbus": {"serial_port": "/dev/ttyUSB0", "baudrate": 9600},
	  "polling": {"slaves": [3, 1, 7]},
	  "flask": {}
	}`))
	require.NoError(t, err)
	assert.Equal(t, []uint8{3, 1, 7}, cfg.Polling.SlaveIDs())
}
