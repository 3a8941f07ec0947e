package modbus

import "fmt"

// Function code used for every transaction on this bus.
const fcReadHoldingRegisters = 0x03

// Slave addresses outside this range are not valid on an RTU bus.
const (
	MinSlaveID = 1
	MaxSlaveID = 247
)

// crc16 calculates the Modbus CRC16 checksum (polynomial 0xA001).
func crc16(data []byte) uint16 {
	crc := uint16(0xFFFF)
	for _, b := range data {
		crc ^= uint16(b)
		for i := 0; i < 8; i++ {
			if crc&0x0001 != 0 {
				crc >>= 1
				crc ^= 0xA001
			} else {
				crc >>= 1
			}
		}
	}
	return crc
}

// packFrame builds an RTU frame: slave ID + PDU + CRC (little-endian).
func packFrame(slaveID uint8, pdu []byte) ([]byte, error) {
	if slaveID < MinSlaveID || slaveID > MaxSlaveID {
		return nil, fmt.Errorf("invalid slave ID: %d (must be %d-%d)", slaveID, MinSlaveID, MaxSlaveID)
	}
	if len(pdu) == 0 {
		return nil, fmt.Errorf("PDU cannot be empty")
	}
	if len(pdu) > 253 {
		return nil, fmt.Errorf("PDU too long: %d bytes (max 253)", len(pdu))
	}

	frame := make([]byte, 1+len(pdu)+2)
	frame[0] = slaveID
	copy(frame[1:], pdu)

	crc := crc16(frame[: len(frame)-2])
	frame[len(frame)-2] = byte(crc & 0xFF)
	frame[len(frame)-1] = byte(crc >> 8)
	return frame, nil
}

// unpackFrame verifies the CRC and splits an RTU frame into slave ID and PDU.
func unpackFrame(frame []byte) (uint8, []byte, error) {
	if len(frame) < 4 {
		return 0, nil, fmt.Errorf("frame too short: %d bytes (minimum 4)", len(frame))
	}
	if !verifyCRC(frame) {
		return 0, nil, fmt.Errorf("CRC verification failed")
	}
	pdu := make([]byte, len(frame)-3)
	copy(pdu, frame[1:len(frame)-2])
	return frame[0], pdu, nil
}

// verifyCRC checks the trailing CRC of an RTU frame.
func verifyCRC(frame []byte) bool {
	if len(frame) < 4 {
		return false
	}
	dataLen := len(frame) - 2
	calculated := crc16(frame[:dataLen])
	received := uint16(frame[dataLen]) | uint16(frame[dataLen+1])<<8
	return calculated == received
}
