package alert

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/mip-automation/silomon/internal/store"
)

// Engine decides when a device's offline state is worth a notification.
// A device alerts once when it has been offline longer than the threshold,
// then again at most once per cooldown period; recovery clears both.
type Engine struct {
	mu        sync.Mutex
	offline   map[uint8]struct{}
	lastAlert map[uint8]time.Time

	threshold time.Duration
	cooldown  time.Duration
	notifier  Notifier
	tz        *time.Location
	log       *logrus.Entry
}

// NewEngine creates the debounce engine. The notifier may be shared with
// the lifecycle messages; the engine adds its own state on top.
func NewEngine(notifier Notifier, threshold, cooldown time.Duration, tz *time.Location, log *logrus.Entry) *Engine {
	if tz == nil {
		tz = time.Local
	}
	return &Engine{
		offline:   make(map[uint8]struct{}),
		lastAlert: make(map[uint8]time.Time),
		threshold: threshold,
		cooldown:  cooldown,
		notifier:  notifier,
		tz:        tz,
		log:       log,
	}
}

// Evaluate runs the debounce state machine over one snapshot. State
// transitions happen under the mutex; sends happen after, so a slow
// transport never blocks other evaluations.
func (e *Engine) Evaluate(snap map[uint8]store.DeviceStatus, now time.Time) {
	type pending struct {
		slaveID uint8
		status  store.DeviceStatus
		offline bool
	}
	var sends []pending

	e.mu.Lock()
	for slaveID, st := range snap {
		_, wasOffline := e.offline[slaveID]

		switch {
		case e.offlineTooLong(st, now) && !wasOffline:
			e.offline[slaveID] = struct{}{}
			if last, ok := e.lastAlert[slaveID]; ok && now.Sub(last) < e.cooldown {
				e.log.Debugf("slave %d offline alert suppressed by cooldown", slaveID)
				continue
			}
			sends = append(sends, pending{slaveID: slaveID, status: st, offline: true})

		case st.Online && wasOffline:
			delete(e.offline, slaveID)
			delete(e.lastAlert, slaveID)
			sends = append(sends, pending{slaveID: slaveID, status: st})
		}
	}
	e.mu.Unlock()

	for _, p := range sends {
		if p.offline {
			if err := e.notifier.Send(FormatOffline(p.slaveID, p.status, now.In(e.tz))); err != nil {
				e.log.WithError(err).Errorf("offline alert for slave %d dropped", p.slaveID)
				continue
			}
			e.mu.Lock()
			e.lastAlert[p.slaveID] = now
			e.mu.Unlock()
			e.log.Infof("offline alert sent for slave %d", p.slaveID)
		} else {
			if err := e.notifier.Send(FormatRecovery(p.slaveID, p.status, now.In(e.tz))); err != nil {
				e.log.WithError(err).Errorf("recovery alert for slave %d dropped", p.slaveID)
				continue
			}
			e.log.Infof("recovery alert sent for slave %d", p.slaveID)
		}
	}
}

// offlineTooLong reports whether the device has been offline past the
// threshold. A device that never produced an accepted reading counts as
// offline-too-long immediately.
func (e *Engine) offlineTooLong(st store.DeviceStatus, now time.Time) bool {
	if st.Online {
		return false
	}
	if st.LastOK == "" {
		return true
	}
	lastOK, err := time.ParseInLocation(store.TimeFormat, st.LastOK, e.tz)
	if err != nil {
		return true
	}
	return now.Sub(lastOK) > e.threshold
}

// SendStartup emits the one-off engine initialization message.
func (e *Engine) SendStartup(totalSlaves int, now time.Time) {
	if err := e.notifier.Send(FormatStartup(totalSlaves, now.In(e.tz))); err != nil {
		e.log.WithError(err).Error("startup message dropped")
	}
}

// SendCritical emits an operator-attention message.
func (e *Engine) SendCritical(message string, now time.Time) {
	if err := e.notifier.Send(FormatCritical(message, now.In(e.tz))); err != nil {
		e.log.WithError(err).Error("critical alert dropped")
	}
}

// SendTest emits the synthetic test message.
func (e *Engine) SendTest(now time.Time) error {
	return e.notifier.Send(FormatTest(now.In(e.tz)))
}
