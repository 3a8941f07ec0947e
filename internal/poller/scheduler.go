// Package poller drives the periodic sweep over the configured device set.
package poller

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/mip-automation/silomon/internal/metrics"
	"github.com/mip-automation/silomon/internal/persist"
	"github.com/mip-automation/silomon/internal/store"
)

// DeviceReader reads one device's level register.
type DeviceReader interface {
	Read(ctx context.Context, slaveID uint8) (uint16, error)
}

// Sink accepts validated readings for persistence.
type Sink interface {
	Enqueue(rec persist.Record)
}

// Alerter evaluates device state after each completed cycle.
type Alerter interface {
	Evaluate(snap map[uint8]store.DeviceStatus, now time.Time)
}

// minCycleSleep keeps a floor under the inter-cycle pause even when a
// sweep overruns the configured interval.
const minCycleSleep = time.Second

// Scheduler runs poll cycles until its context is cancelled. Sink and
// alerter are optional; nil disables that stage.
type Scheduler struct {
	reader     DeviceReader
	store      *store.Store
	sink       Sink
	alerter    Alerter
	interval   time.Duration
	slaveDelay time.Duration
	log        *logrus.Entry

	now func() time.Time
}

// New wires a scheduler over the shared store.
func New(reader DeviceReader, st *store.Store, sink Sink, alerter Alerter, interval, slaveDelay time.Duration, log *logrus.Entry) *Scheduler {
	return &Scheduler{
		reader:     reader,
		store:      st,
		sink:       sink,
		alerter:    alerter,
		interval:   interval,
		slaveDelay: slaveDelay,
		log:        log,
		now:        time.Now,
	}
}

// Run executes cycles back to back, pausing between them so consecutive
// cycle starts are at least the interval apart (with a one second floor).
// It returns nil on cancellation and an error only if a cycle panicked.
func (s *Scheduler) Run(ctx context.Context) error {
	s.log.Infof("polling started: %d devices every %s", len(s.store.Slaves()), s.interval)

	for {
		started := s.now()
		if err := s.runCycle(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}

		pause := s.interval - s.now().Sub(started)
		if pause < minCycleSleep {
			pause = minCycleSleep
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(pause):
		}
	}
}

// runCycle sweeps every device once. A panic anywhere in the sweep is
// turned into an error so the service can shut down instead of dying
// with a bare stack trace.
func (s *Scheduler) runCycle(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Errorf("poll cycle panic: %v", r)
			err = fmt.Errorf("poll cycle panic: %v", r)
		}
	}()

	s.store.BeginCycle()

	for _, slaveID := range s.store.Slaves() {
		if ctx.Err() != nil {
			return nil
		}

		value, readErr := s.reader.Read(ctx, slaveID)
		if readErr != nil && ctx.Err() != nil {
			return nil
		}

		accepted := s.store.Update(slaveID, value, readErr)
		switch {
		case accepted:
			metrics.DeviceReads.WithLabelValues("accepted").Inc()
			if s.sink != nil {
				s.sink.Enqueue(persist.Record{
					Code:     persist.ExternalCode(slaveID),
					Quantity: int(value),
					At:       s.now(),
				})
			}
		case readErr != nil:
			metrics.DeviceReads.WithLabelValues("error").Inc()
		default:
			metrics.DeviceReads.WithLabelValues("rejected").Inc()
		}

		if s.slaveDelay > 0 {
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(s.slaveDelay):
			}
		}
	}

	metrics.PollCycles.Inc()

	snap := s.store.Snapshot()
	online := 0
	for _, st := range snap {
		if st.Online {
			online++
		}
	}
	metrics.OnlineDevices.Set(float64(online))
	s.log.Debugf("cycle complete: %d/%d online", online, len(snap))

	if s.alerter != nil {
		s.alerter.Evaluate(snap, s.now())
	}
	return nil
}
