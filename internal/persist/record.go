package persist

import (
	"fmt"
	"time"
)

// Record is one accepted reading queued for the ERP table.
type Record struct {
	Code     string
	Quantity int
	At       time.Time
}

// ExternalCode maps a bus address to its ERP device code, e.g. 7 -> "S07".
func ExternalCode(slaveID uint8) string {
	return fmt.Sprintf("S%02d", slaveID)
}
