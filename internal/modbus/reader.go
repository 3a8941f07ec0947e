package modbus

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"
)

// LevelRegister is the holding register every device publishes its level on.
const LevelRegister = 10

// ErrConnectionUnavailable is the terminal outcome when the bus cannot be
// opened at all for a read.
var ErrConnectionUnavailable = errors.New("connection not available")

// Reader performs one device read with bounded retries, classifying each
// failure so the bus can be marked disconnected on transport faults. The
// reader does not validate values; that is the store's range policy.
type Reader struct {
	bus        *Bus
	maxRetries int
	register   uint16
	log        *logrus.Entry

	// retryDelay separates attempts; connectDelay is the one-off pause
	// before the second connection try on a cold bus.
	retryDelay   time.Duration
	connectDelay time.Duration
}

// NewReader creates a reader issuing up to maxRetries attempts per device.
func NewReader(bus *Bus, maxRetries int, log *logrus.Entry) *Reader {
	if maxRetries < 1 {
		maxRetries = 1
	}
	return &Reader{
		bus:          bus,
		maxRetries:   maxRetries,
		register:     LevelRegister,
		log:          log,
		retryDelay:   200 * time.Millisecond,
		connectDelay: 500 * time.Millisecond,
	}
}

// Read polls one slave for its level register. It returns the raw register
// word, or the error describing the final failed attempt.
func (r *Reader) Read(ctx context.Context, slaveID uint8) (uint16, error) {
	var lastErr error

	for attempt := 1; attempt <= r.maxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return 0, err
		}

		if attempt == 1 && !r.bus.Connected() {
			if err := r.bus.Connect(); err != nil {
				if !sleepCtx(ctx, r.connectDelay) {
					return 0, ctx.Err()
				}
				if err := r.bus.Connect(); err != nil {
					return 0, ErrConnectionUnavailable
				}
			}
		}

		registers, err := r.bus.ReadHoldingRegisters(slaveID, r.register, 1)
		switch {
		case err == nil && len(registers) > 0:
			return registers[0], nil
		case err == nil:
			lastErr = errors.New("empty response")
		case IsTransport(err):
			r.log.WithError(err).Warnf("slave %d: transport error (attempt %d/%d)", slaveID, attempt, r.maxRetries)
			r.bus.MarkDisconnected()
			lastErr = err
		case IsProtocol(err):
			r.log.WithError(err).Warnf("slave %d: protocol error (attempt %d/%d)", slaveID, attempt, r.maxRetries)
			if attempt == r.maxRetries {
				r.bus.MarkDisconnected()
			}
			lastErr = err
		default:
			lastErr = err
		}

		if attempt < r.maxRetries {
			if !sleepCtx(ctx, r.retryDelay) {
				return 0, ctx.Err()
			}
		}
	}
	return 0, lastErr
}

// sleepCtx waits for d or until ctx is done; it reports false on cancel.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}
