package modbus

import (
	"errors"
	"fmt"
)

// TransportError reports a failure of the serial link itself: I/O errors,
// timeouts, a closed handle, or a response frame too corrupt to attribute
// to a device. The bus must be considered disconnected after one.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ProtocolError is a well-formed Modbus exception response from a device.
// The link is healthy; the device rejected the request.
type ProtocolError struct {
	Function  uint8
	Exception uint8
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("modbus exception: function 0x%02X code 0x%02X - %s",
		e.Function, e.Exception, exceptionMessage(e.Exception))
}

// ErrReconnectSuppressed is returned when a reconnection attempt is skipped
// because the previous attempt was too recent.
var ErrReconnectSuppressed = errors.New("reconnect suppressed: previous attempt too recent")

// IsTransport reports whether err classifies as a transport failure.
func IsTransport(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

// IsProtocol reports whether err is a Modbus exception response.
func IsProtocol(err error) bool {
	var pe *ProtocolError
	return errors.As(err, &pe)
}

func exceptionMessage(code uint8) string {
	switch code {
	case 0x01:
		return "illegal function"
	case 0x02:
		return "illegal data address"
	case 0x03:
		return "illegal data value"
	case 0x04:
		return "slave device failure"
	case 0x05:
		return "acknowledge"
	case 0x06:
		return "slave device busy"
	case 0x08:
		return "memory parity error"
	case 0x0A:
		return "gateway path unavailable"
	case 0x0B:
		return "gateway target device failed to respond"
	default:
		return "unknown exception"
	}
}
