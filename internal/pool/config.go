package pool

import (
	"math"
	"time"
)

// Role selects which class of connection a caller needs.
type Role string

// Connection roles. RoleAny accepts whichever frees up first.
const (
	RoleReader Role = "reader"
	RoleWriter Role = "writer"
	RoleAny    Role = "any"
)

// Priority orders queued acquire requests. Higher values are served first.
type Priority int

// Priority tiers.
const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
)

func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityHigh:
		return "high"
	default:
		return "normal"
	}
}

// Config sizes the pool and sets its time budgets. Zero fields take the
// defaults below.
type Config struct {
	MaxConnections      int
	ReaderRatio         float64
	WaitTimeout         time.Duration
	QueryTimeout        time.Duration
	TxTimeout           time.Duration
	ShutdownGrace       time.Duration
	MaintenanceSchedule string // cron spec; "-" disables
	CompactionInterval  time.Duration
	MaintenanceWait     time.Duration
	HistorySize         int
	DefaultBatchSize    int
}

// Defaults.
const (
	DefaultMaxConnections      = 10
	DefaultReaderRatio         = 0.7
	DefaultWaitTimeout         = 5 * time.Second
	DefaultQueryTimeout        = 30 * time.Second
	DefaultTxTimeout           = 60 * time.Second
	DefaultShutdownGrace       = 10 * time.Second
	DefaultMaintenanceSchedule = "@every 5m"
	DefaultCompactionInterval  = time.Hour
	DefaultMaintenanceWait     = 500 * time.Millisecond
	DefaultHistorySize         = 1000
	DefaultBatchSize           = 1000
)

func (c Config) withDefaults() Config {
	if c.MaxConnections <= 0 {
		c.MaxConnections = DefaultMaxConnections
	}
	if c.MaxConnections < 2 {
		c.MaxConnections = 2
	}
	if c.ReaderRatio <= 0 || c.ReaderRatio >= 1 {
		c.ReaderRatio = DefaultReaderRatio
	}
	if c.WaitTimeout <= 0 {
		c.WaitTimeout = DefaultWaitTimeout
	}
	if c.QueryTimeout <= 0 {
		c.QueryTimeout = DefaultQueryTimeout
	}
	if c.TxTimeout <= 0 {
		c.TxTimeout = DefaultTxTimeout
	}
	if c.ShutdownGrace <= 0 {
		c.ShutdownGrace = DefaultShutdownGrace
	}
	if c.MaintenanceSchedule == "" {
		c.MaintenanceSchedule = DefaultMaintenanceSchedule
	}
	if c.CompactionInterval <= 0 {
		c.CompactionInterval = DefaultCompactionInterval
	}
	if c.MaintenanceWait <= 0 {
		c.MaintenanceWait = DefaultMaintenanceWait
	}
	if c.HistorySize <= 0 {
		c.HistorySize = DefaultHistorySize
	}
	if c.DefaultBatchSize <= 0 {
		c.DefaultBatchSize = DefaultBatchSize
	}
	return c
}

// split returns the reader and writer counts. Each role gets at least one
// connection.
func (c Config) split() (readers, writers int) {
	readers = int(math.Round(float64(c.MaxConnections) * c.ReaderRatio))
	if readers < 1 {
		readers = 1
	}
	if readers > c.MaxConnections-1 {
		readers = c.MaxConnections - 1
	}
	return readers, c.MaxConnections - readers
}
