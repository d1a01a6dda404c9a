package storage

import "time"

// Device is the controller's read-only view of an enrolled miner.
// Rows are owned by telemetry ingestion; the controller never writes
// them.
type Device struct {
	ID         string
	Class      string
	Label      string
	Healthy    bool
	LastSeenAt time.Time
}
