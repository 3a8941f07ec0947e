package store

import (
	"fmt"
	"sync"
	"time"
)

// TimeFormat renders wall-clock timestamps for the API and the ERP table.
const TimeFormat = "2006-01-02 15:04:05"

// DeviceStatus is the operational view of one device. Value and Percent are
// nil until the first accepted reading.
type DeviceStatus struct {
	Value       *uint16 `json:"value"`
	Percent     *int    `json:"percent"`
	Online      bool    `json:"online"`
	LastOK      string  `json:"last_ok,omitempty"`
	LastError   string  `json:"last_error,omitempty"`
	ErrorCount  uint64  `json:"error_count"`
	TotalReads  uint64  `json:"total_reads"`
	SuccessRate float64 `json:"success_rate"`
}

// Sample is one accepted reading in a device's history ring.
type Sample struct {
	Timestamp int64  `json:"timestamp"`
	Value     uint16 `json:"value"`
	Percent   int    `json:"percent"`
}

// Stats are the process-wide counters.
type Stats struct {
	TotalPolls      uint64  `json:"total_polls"`
	SuccessfulPolls uint64  `json:"successful_polls"`
	TotalReads      uint64  `json:"total_reads"`
	TotalErrors     uint64  `json:"total_errors"`
	OnlineSlaves    int     `json:"online_slaves"`
	TotalSlaves     int     `json:"total_slaves"`
	UptimeSeconds   float64 `json:"uptime_seconds"`
	StartTime       string  `json:"start_time"`
	LastPoll        string  `json:"last_poll,omitempty"`
}

type device struct {
	status  DeviceStatus
	history []Sample
}

// Store holds the per-device state, history rings and global counters
// behind a single mutex. Update and Snapshot each hold the mutex for their
// whole run, so a snapshot never observes a torn device record.
type Store struct {
	mu         sync.Mutex
	devices    map[uint8]*device
	order      []uint8
	rng        Range
	historyCap int
	tz         *time.Location

	totalPolls      uint64
	successfulPolls uint64
	startTime       time.Time
	lastPoll        time.Time

	now func() time.Time
}

// DefaultHistoryCap bounds each device's in-memory history ring.
const DefaultHistoryCap = 100

// New creates a store with one record per configured slave. Records live
// until process exit.
func New(slaves []uint8, rng Range, historyCap int, tz *time.Location) *Store {
	if historyCap <= 0 {
		historyCap = DefaultHistoryCap
	}
	if tz == nil {
		tz = time.Local
	}
	s := &Store{
		devices:    make(map[uint8]*device, len(slaves)),
		order:      append([]uint8(nil), slaves...),
		rng:        rng,
		historyCap: historyCap,
		tz:         tz,
		now:        time.Now,
	}
	for _, id := range slaves {
		s.devices[id] = &device{}
	}
	s.startTime = s.now()
	return s
}

// Slaves returns the configured device set in polling order.
func (s *Store) Slaves() []uint8 {
	return append([]uint8(nil), s.order...)
}

// Range returns the configured validation range.
func (s *Store) Range() Range { return s.rng }

// BeginCycle records the start of a poll sweep.
func (s *Store) BeginCycle() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.totalPolls++
	s.lastPoll = s.now()
}

// Update records the outcome of one device read. A nil readErr means the
// raw word was read from the bus; it is then validated against the range
// policy. Update reports whether the reading was accepted (and therefore
// eligible for persistence).
func (s *Store) Update(slaveID uint8, value uint16, readErr error) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.devices[slaveID]
	if !ok {
		return false
	}
	d.status.TotalReads++

	if readErr != nil {
		s.markError(d, readErr.Error())
		return false
	}

	percent, err := s.rng.Percent(value)
	if err != nil {
		s.markError(d, err.Error())
		return false
	}

	now := s.now()
	v := value
	p := percent
	d.status.Value = &v
	d.status.Percent = &p
	d.status.Online = true
	d.status.LastOK = now.In(s.tz).Format(TimeFormat)
	d.status.LastError = ""
	d.status.SuccessRate = successRate(d.status)

	d.history = append(d.history, Sample{Timestamp: now.Unix(), Value: value, Percent: percent})
	if len(d.history) > s.historyCap {
		d.history = d.history[len(d.history)-s.historyCap:]
	}

	s.successfulPolls++
	return true
}

func (s *Store) markError(d *device, text string) {
	d.status.Online = false
	d.status.LastError = text
	d.status.ErrorCount++
	d.status.SuccessRate = successRate(d.status)
}

func successRate(st DeviceStatus) float64 {
	if st.TotalReads == 0 {
		return 0
	}
	return float64(st.TotalReads-st.ErrorCount) / float64(st.TotalReads)
}

// Snapshot returns a deep copy of every device record, suitable for
// serialization or alert evaluation.
func (s *Store) Snapshot() map[uint8]DeviceStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := make(map[uint8]DeviceStatus, len(s.devices))
	for id, d := range s.devices {
		st := d.status
		if d.status.Value != nil {
			v := *d.status.Value
			st.Value = &v
		}
		if d.status.Percent != nil {
			p := *d.status.Percent
			st.Percent = &p
		}
		snap[id] = st
	}
	return snap
}

// History returns a copy of the device's ring, truncated to the most
// recent points when points > 0.
func (s *Store) History(slaveID uint8, points int) ([]Sample, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.devices[slaveID]
	if !ok {
		return nil, fmt.Errorf("unknown slave: %d", slaveID)
	}
	h := d.history
	if points > 0 && len(h) > points {
		h = h[len(h)-points:]
	}
	return append([]Sample(nil), h...), nil
}

// Stats derives the global counters at the moment of the call.
func (s *Store) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Stats{
		TotalPolls:      s.totalPolls,
		SuccessfulPolls: s.successfulPolls,
		TotalSlaves:     len(s.devices),
		UptimeSeconds:   s.now().Sub(s.startTime).Seconds(),
		StartTime:       s.startTime.In(s.tz).Format(TimeFormat),
	}
	if !s.lastPoll.IsZero() {
		st.LastPoll = s.lastPoll.In(s.tz).Format(TimeFormat)
	}
	for _, d := range s.devices {
		st.TotalReads += d.status.TotalReads
		st.TotalErrors += d.status.ErrorCount
		if d.status.Online {
			st.OnlineSlaves++
		}
	}
	return st
}
