package core

import (
	"time"

	"github.com/google/uuid"
)

// JobExecutionRecord captures one completed job run.
type JobExecutionRecord struct {
	JobID      uuid.UUID
	Name       string
	SystemName string
	WorkerID   int
	Helped     bool
	Priority   Priority
	Affinity   Affinity
	Weight     Weight
	StartedAt  time.Time
	FinishedAt time.Time
	Duration   time.Duration
	Panicked   bool
}

// SystemStats is a point-in-time view of a System.
type SystemStats struct {
	Name            string
	Workers         int
	State           SystemState
	Queued          int
	LightQueued     int
	Delayed         int
	Running         int
	Blocked         bool
	ExceptionRaised bool
	Executed        uint64
	Helped          uint64
	Rejected        uint64
	LastJobName     string
	LastJobAt       time.Time
}

// ChannelStats is a point-in-time view of a Channel.
type ChannelStats struct {
	Name        string
	State       ChannelState
	InFlight    int
	MaxInFlight int
	Submitted   uint64
	Completed   uint64
}
