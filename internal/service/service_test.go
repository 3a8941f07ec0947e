package service

import (
	"context"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mip-automation/silomon/internal/alert"
	"github.com/mip-automation/silomon/internal/config"
	"github.com/mip-automation/silomon/internal/modbus"
	"github.com/mip-automation/silomon/internal/poller"
	"github.com/mip-automation/silomon/internal/store"
)

type fakeNotifier struct {
	mu       sync.Mutex
	messages []string
}

func (f *fakeNotifier) Send(text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, text)
	return nil
}

func (f *fakeNotifier) sent() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.messages...)
}

// newTestService wires a service by hand: no serial hardware, no database,
// HTTP on an ephemeral port, alerts through the fake notifier.
func newTestService(notifier *fakeNotifier) *Service {
	log := logrus.New()
	log.SetOutput(io.Discard)
	entry := log.WithField("component", "test")

	cfg := &config.Config{
		Modbus:   &config.ModbusConfig{SerialPort: "/dev/silomon-test-missing", BaudRate: 9600},
		Polling:  &config.PollingConfig{IntervalSeconds: 3600, MaxRetries: 1, Slaves: []int{1}},
		HTTP:     &config.HTTPConfig{Host: "127.0.0.1", Port: 0},
		Timezone: "UTC",
	}

	bus := modbus.NewBus(modbus.SerialConfig{Port: cfg.Modbus.SerialPort, BaudRate: 9600}, time.Hour, entry)
	st := store.New([]uint8{1}, store.Range{Min: 0, Max: 28000}, 10, time.UTC)
	reader := modbus.NewReader(bus, 1, entry)
	engine := alert.NewEngine(notifier, 5*time.Minute, 15*time.Minute, time.UTC, entry)

	return &Service{
		cfg:       cfg,
		log:       log,
		bus:       bus,
		store:     st,
		scheduler: poller.New(reader, st, nil, engine, time.Hour, 0, entry),
		engine:    engine,
	}
}

func countContaining(msgs []string, marker string) int {
	n := 0
	for _, m := range msgs {
		if strings.Contains(m, marker) {
			n++
		}
	}
	return n
}

func TestRunNotifiesStartupAndShutdown(t *testing.T) {
	notifier := &fakeNotifier{}
	svc := newTestService(notifier)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(150 * time.Millisecond)
		cancel()
	}()

	require.NoError(t, svc.Run(ctx))

	msgs := notifier.sent()
	assert.Equal(t, 1, countContaining(msgs, "MONITORING STARTED"))
	assert.Equal(t, 1, countContaining(msgs, "monitoring service stopped"))
}

func TestNewLoggerDefaultsToInfo(t *testing.T) {
	log := NewLogger(config.LoggingConfig{Level: "nonsense"})
	assert.Equal(t, logrus.InfoLevel, log.GetLevel())

	log = NewLogger(config.LoggingConfig{Level: "debug"})
	assert.Equal(t, logrus.DebugLevel, log.GetLevel())
}
