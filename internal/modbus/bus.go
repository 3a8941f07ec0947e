package modbus

import (
	"encoding/binary"
	"fmt"
	"io"
	"sync"
	"time"

	serial "github.com/hootrhino/goserial"
	"github.com/sirupsen/logrus"
)

// SerialConfig holds the parameters for opening the serial port.
type SerialConfig struct {
	Port     string
	BaudRate int
	DataBits int
	Parity   string // "N", "E" or "O"
	StopBits int
	Timeout  time.Duration // per-transaction timeout
}

// Bus owns the single serial handle and serializes all Modbus RTU
// transactions on it. RTU is half-duplex: interleaving two transactions
// corrupts framing, so every exchange runs under one mutex.
//
// Reconnection is rate-limited: attempts must be spaced by at least the
// configured window. A suppressed attempt fails without touching hardware.
type Bus struct {
	mu          sync.Mutex
	cfg         SerialConfig
	window      time.Duration
	port        io.ReadWriteCloser
	lastAttempt time.Time
	log         *logrus.Entry

	// openPort is swapped out by tests to avoid real hardware.
	openPort func(cfg SerialConfig) (io.ReadWriteCloser, error)
}

// DefaultConnectionWindow spaces consecutive reconnection attempts.
const DefaultConnectionWindow = 2 * time.Second

// NewBus creates a bus adapter for the given port settings. The port is not
// opened until Connect or the first transaction.
func NewBus(cfg SerialConfig, window time.Duration, log *logrus.Entry) *Bus {
	if window <= 0 {
		window = DefaultConnectionWindow
	}
	return &Bus{
		cfg:      cfg,
		window:   window,
		log:      log,
		openPort: openSerialPort,
	}
}

func openSerialPort(cfg SerialConfig) (io.ReadWriteCloser, error) {
	return serial.Open(&serial.Config{
		Address:  cfg.Port,
		BaudRate: cfg.BaudRate,
		DataBits: cfg.DataBits,
		StopBits: cfg.StopBits,
		Parity:   cfg.Parity,
		Timeout:  cfg.Timeout,
	})
}

// Connect opens the serial port if it is not already open. Attempts within
// the rate-limit window of the previous attempt are suppressed and return a
// transport error.
func (b *Bus) Connect() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.connectLocked()
}

func (b *Bus) connectLocked() error {
	if b.port != nil {
		return nil
	}
	if !b.lastAttempt.IsZero() && time.Since(b.lastAttempt) < b.window {
		return &TransportError{Op: "connect", Err: ErrReconnectSuppressed}
	}
	b.lastAttempt = time.Now()

	port, err := b.openPort(b.cfg)
	if err != nil {
		b.log.WithError(err).Warnf("failed to open serial port %s", b.cfg.Port)
		return &TransportError{Op: "connect", Err: err}
	}
	b.port = port
	b.log.Infof("serial port %s open at %d baud", b.cfg.Port, b.cfg.BaudRate)
	return nil
}

// Connected reports whether the serial handle is currently open.
func (b *Bus) Connected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.port != nil
}

// MarkDisconnected closes the handle after a transport fault. Closing the
// handle also resets the reconnection window, so the next attempt runs
// immediately; a fault with no handle open leaves the window in place.
func (b *Bus) MarkDisconnected() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.port == nil {
		return
	}
	b.port.Close()
	b.port = nil
	b.lastAttempt = time.Time{}
	b.log.Warn("serial port marked disconnected")
}

// Close releases the serial handle.
func (b *Bus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.port == nil {
		return nil
	}
	err := b.port.Close()
	b.port = nil
	return err
}

// ReadHoldingRegisters performs one 0x03 transaction against the given
// slave. It holds the bus mutex for the whole exchange.
func (b *Bus) ReadHoldingRegisters(slaveID uint8, address, quantity uint16) ([]uint16, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.port == nil {
		if err := b.connectLocked(); err != nil {
			return nil, err
		}
	}

	pdu := make([]byte, 5)
	pdu[0] = fcReadHoldingRegisters
	binary.BigEndian.PutUint16(pdu[1:3], address)
	binary.BigEndian.PutUint16(pdu[3:5], quantity)

	frame, err := packFrame(slaveID, pdu)
	if err != nil {
		return nil, err
	}

	if err := writeFull(b.port, frame); err != nil {
		return nil, &TransportError{Op: "write", Err: err}
	}

	resp, err := b.readFrame()
	if err != nil {
		return nil, &TransportError{Op: "read", Err: err}
	}

	respSlave, respPDU, err := unpackFrame(resp)
	if err != nil {
		return nil, &TransportError{Op: "read", Err: err}
	}
	if respSlave != slaveID {
		return nil, &TransportError{Op: "read", Err: fmt.Errorf("slave ID mismatch: expected %d, got %d", slaveID, respSlave)}
	}

	if respPDU[0]&0x80 != 0 {
		if len(respPDU) < 2 {
			return nil, &TransportError{Op: "read", Err: fmt.Errorf("truncated exception frame")}
		}
		return nil, &ProtocolError{Function: respPDU[0] &^ 0x80, Exception: respPDU[1]}
	}
	if respPDU[0] != fcReadHoldingRegisters {
		return nil, &TransportError{Op: "read", Err: fmt.Errorf("unexpected function code in response: %d", respPDU[0])}
	}

	byteCount := int(respPDU[1])
	if len(respPDU) != 2+byteCount || byteCount%2 != 0 {
		return nil, &TransportError{Op: "read", Err: fmt.Errorf("invalid response length: byte count %d, PDU %d bytes", byteCount, len(respPDU))}
	}

	registers := make([]uint16, byteCount/2)
	for i := range registers {
		registers[i] = binary.BigEndian.Uint16(respPDU[2+2*i : 4+2*i])
	}
	return registers, nil
}

// readFrame reads one complete response frame. The response length is
// derived from the header: exception frames are 5 bytes, 0x03 responses are
// 5 bytes plus the payload byte count. Read deadlines come from the port's
// configured timeout.
func (b *Bus) readFrame() ([]byte, error) {
	header := make([]byte, 3)
	if _, err := io.ReadFull(b.port, header); err != nil {
		return nil, err
	}

	var total int
	switch {
	case header[1]&0x80 != 0:
		total = 5 // slave + function + exception code + CRC
	default:
		total = 5 + int(header[2]) // slave + function + count + data + CRC
	}

	frame := make([]byte, total)
	copy(frame, header)
	if _, err := io.ReadFull(b.port, frame[3:]); err != nil {
		return nil, err
	}
	return frame, nil
}

func writeFull(w io.Writer, data []byte) error {
	written := 0
	for written < len(data) {
		n, err := w.Write(data[written:])
		if err != nil {
			return fmt.Errorf("write failed after %d bytes: %v", written, err)
		}
		written += n
	}
	return nil
}
