// Package service assembles the monitoring process and runs its lifecycle.
package service

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/mip-automation/silomon/internal/alert"
	"github.com/mip-automation/silomon/internal/config"
	"github.com/mip-automation/silomon/internal/modbus"
	"github.com/mip-automation/silomon/internal/persist"
	"github.com/mip-automation/silomon/internal/poller"
	"github.com/mip-automation/silomon/internal/store"
	"github.com/mip-automation/silomon/internal/web"
)

// Service owns every worker of the monitoring process.
type Service struct {
	cfg *config.Config
	log *logrus.Logger

	bus       *modbus.Bus
	store     *store.Store
	scheduler *poller.Scheduler
	writer    *persist.Writer
	histRead  *persist.Reader
	engine    *alert.Engine
	web       *web.Server
}

// NewLogger builds the process logger from the logging section. File output
// rotates via lumberjack when a log file is configured, else stderr.
func NewLogger(cfg config.LoggingConfig) *logrus.Logger {
	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: store.TimeFormat,
	})

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	log.SetLevel(level)

	if cfg.LogFile != "" {
		path := cfg.LogFile
		if cfg.LogDir != "" {
			path = filepath.Join(cfg.LogDir, cfg.LogFile)
		}
		maxSizeMB := cfg.MaxBytes / (1024 * 1024)
		if maxSizeMB < 1 {
			maxSizeMB = 1
		}
		log.SetOutput(&lumberjack.Logger{
			Filename:   path,
			MaxSize:    maxSizeMB,
			MaxBackups: cfg.BackupCount,
		})
	}
	return log
}

// New wires the service. Construction performs no I/O beyond resolving
// environment credentials; connections happen in Run.
func New(cfg *config.Config, log *logrus.Logger) (*Service, error) {
	tz := cfg.Location()

	s := &Service{cfg: cfg, log: log}

	s.bus = modbus.NewBus(modbus.SerialConfig{
		Port:     cfg.Modbus.SerialPort,
		BaudRate: cfg.Modbus.BaudRate,
		DataBits: cfg.Modbus.ByteSize,
		Parity:   cfg.Modbus.Parity,
		StopBits: cfg.Modbus.StopBits,
		Timeout:  cfg.Modbus.Timeout(),
	}, cfg.Modbus.ConnectionWindow(), log.WithField("component", "bus"))

	s.store = store.New(
		cfg.Polling.SlaveIDs(),
		store.Range{Min: uint16(cfg.Validation.MinValue), Max: uint16(cfg.Validation.MaxValue)},
		cfg.HistoryMax,
		tz,
	)

	if cfg.Database.Enabled {
		writer, err := persist.NewWriter(cfg.Database, tz, log.WithField("component", "persist"))
		if err != nil {
			return nil, fmt.Errorf("persistence setup: %w", err)
		}
		s.writer = writer
	}

	if cfg.Alerts.Enabled {
		token := os.Getenv(cfg.Alerts.Telegram.BotTokenEnv)
		chatID := os.Getenv(cfg.Alerts.Telegram.ChatIDEnv)
		if token == "" || chatID == "" {
			log.Warnf("alerts enabled but %s or %s is unset; alerting disabled",
				cfg.Alerts.Telegram.BotTokenEnv, cfg.Alerts.Telegram.ChatIDEnv)
		} else {
			client := alert.NewTelegramClient(token, chatID, log.WithField("component", "telegram"))
			if err := client.Probe(); err != nil {
				log.WithError(err).Error("telegram probe failed; alerting disabled")
			} else {
				s.engine = alert.NewEngine(
					client,
					cfg.Alerts.OfflineThreshold(),
					cfg.Alerts.Telegram.Cooldown(),
					tz,
					log.WithField("component", "alerts"),
				)
			}
		}
	}

	reader := modbus.NewReader(s.bus, cfg.Polling.MaxRetries, log.WithField("component", "reader"))
	var sink poller.Sink
	if s.writer != nil {
		sink = s.writer
	}
	var alerter poller.Alerter
	if s.engine != nil {
		alerter = s.engine
	}
	s.scheduler = poller.New(
		reader, s.store, sink, alerter,
		cfg.Polling.Interval(), cfg.Polling.SlaveDelay(),
		log.WithField("component", "poller"),
	)

	return s, nil
}

// Run starts every worker and blocks until ctx is cancelled or a worker
// fails. The database connection is verified before polling starts; a
// missing table is a startup failure.
func (s *Service) Run(ctx context.Context) error {
	tz := s.cfg.Location()

	if s.writer != nil {
		if err := s.writer.Open(); err != nil {
			return fmt.Errorf("database startup: %w", err)
		}
		histRead, err := persist.OpenReader(s.cfg.Database)
		if err != nil {
			return fmt.Errorf("history reader startup: %w", err)
		}
		s.histRead = histRead
		defer s.histRead.Close()
		s.log.Infof("database connected: %s/%s", s.cfg.Database.Host, s.cfg.Database.Database)
	}

	// First bus connection is attempted eagerly so a wrong serial port
	// shows up in the log at startup, but an unreachable bus is not
	// fatal: devices report offline and the reader keeps retrying.
	if err := s.bus.Connect(); err != nil {
		s.log.WithError(err).Warn("initial bus connection failed; will retry during polling")
	}
	defer s.bus.Close()

	var histAPI web.HistoryReader
	if s.histRead != nil {
		histAPI = s.histRead
	}
	var tester web.TelegramTester
	if s.engine != nil {
		tester = s.engine
	}
	addr := fmt.Sprintf("%s:%d", s.cfg.HTTP.Host, s.cfg.HTTP.Port)
	s.web = web.New(addr, s.store, histAPI, tester, s.log.WithField("component", "web"))

	if s.engine != nil {
		s.engine.SendStartup(len(s.store.Slaves()), time.Now().In(tz))
	}

	g, gctx := errgroup.WithContext(ctx)

	// The writer gets its own context, cancelled only after the scheduler
	// has returned. A read that completes during shutdown still enqueues
	// its record, and the writer must outlive that enqueue to drain it.
	writerCtx, stopWriter := context.WithCancel(context.Background())
	defer stopWriter()

	g.Go(func() error {
		defer stopWriter()
		if err := s.scheduler.Run(gctx); err != nil {
			if s.engine != nil {
				s.engine.SendCritical(fmt.Sprintf("polling stopped: %v", err), time.Now().In(tz))
			}
			return err
		}
		return nil
	})

	if s.writer != nil {
		g.Go(func() error {
			return s.writer.Run(writerCtx)
		})
	}

	g.Go(func() error {
		return s.web.Run(gctx)
	})

	err := g.Wait()
	if err != nil {
		s.log.WithError(err).Error("service stopped")
		return err
	}
	if s.engine != nil {
		s.engine.SendCritical("monitoring service stopped", time.Now().In(tz))
	}
	s.log.Info("service stopped cleanly")
	return nil
}
